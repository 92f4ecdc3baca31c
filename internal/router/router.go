package router

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/wyrover/painttyServer/internal/transport"
)

// Handler processes one parsed command. The payload is the full decoded
// request object.
type Handler func(c *transport.Client, payload map[string]any)

// Router dispatches named commands. A command arrives as a JSON object
// carrying its name under a kind field, e.g. {"request": "login", ...}.
type Router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]map[string]Handler // kind -> name -> handler
}

func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string]map[string]Handler),
	}
}

// Register binds a handler to a command name under the given kind.
// Registering again for the same kind and name replaces the handler.
func (r *Router) Register(kind, name string, h Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[kind] == nil {
		r.handlers[kind] = make(map[string]Handler)
	}
	r.handlers[kind][name] = h
	return r
}

// Dispatch decodes raw and routes it to the matching handler. Unparseable
// frames and unknown commands are dropped.
func (r *Router) Dispatch(c *transport.Client, raw []byte) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		r.logger.Debug("undecodable command", zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for kind, byName := range r.handlers {
		name, ok := obj[kind].(string)
		if !ok {
			continue
		}
		if h, ok := byName[name]; ok {
			h(c, obj)
			return
		}
		r.logger.Debug("unknown command", zap.String("kind", kind), zap.String("name", name))
	}
}
