package transport

import (
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configure one Server.
type Options struct {
	// AutoBroadcast rebroadcasts every inbound packet to all other
	// connected clients. The data and message channels want this; the
	// command channel does not.
	AutoBroadcast bool

	// MaxConnections caps concurrent clients. Zero means unlimited.
	MaxConnections int
}

// Server is a websocket listener with broadcast fan-out. A room runs three
// of them: drawing data, chat messages and commands.
type Server struct {
	opts   Options
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}

	listener net.Listener
	httpSrv  *http.Server

	onConnection func(*Client)
	onPacket     func(*Client, []byte)
	onMessage    func(*Client, []byte)
	onDisconnect func(*Client)

	closeOnce sync.Once
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:    opts,
		logger:  logger,
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Callback setters. Wire these up before Listen.

func (s *Server) OnConnection(fn func(*Client)) { s.onConnection = fn }

// OnPacket observes every inbound frame, after any auto-broadcast.
func (s *Server) OnPacket(fn func(*Client, []byte)) { s.onPacket = fn }

// OnMessage receives inbound frames meant to be parsed as commands.
func (s *Server) OnMessage(fn func(*Client, []byte)) { s.onMessage = fn }

func (s *Server) OnDisconnect(fn func(*Client)) { s.onDisconnect = fn }

// Listen binds the server. Pass a ":0" style address for an ephemeral port;
// the server is accepting connections once Listen returns.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveWs)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Debug("listener stopped", zap.Error(err))
		}
	}()
	return nil
}

// Port returns the bound port. Only valid after Listen.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxConnections > 0 && s.ClientCount() >= s.opts.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		srv:    s,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("client connected",
		zap.String("conn", c.id),
		zap.String("remote", conn.RemoteAddr().String()))

	go c.writePump()
	if s.onConnection != nil {
		s.onConnection(c)
	}
	c.readPump()
}

func (s *Server) handleInbound(c *Client, message []byte) {
	if s.opts.AutoBroadcast {
		s.broadcastExcept(c, message)
	}
	if s.onPacket != nil {
		s.onPacket(c, message)
	}
	if s.onMessage != nil {
		s.onMessage(c, message)
	}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Debug("client disconnected", zap.String("conn", c.id))
		if s.onDisconnect != nil {
			s.onDisconnect(c)
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) Clients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// SendTo delivers a frame to a single client.
func (s *Server) SendTo(c *Client, p []byte) error {
	return c.Send(p)
}

// Broadcast delivers a frame to every connected client.
func (s *Server) Broadcast(p []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.trySend(p)
	}
}

func (s *Server) broadcastExcept(sender *Client, p []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if c != sender {
			c.trySend(p)
		}
	}
}

// Close stops the listener and disconnects every client.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.httpSrv != nil {
			s.httpSrv.Close()
		}
		s.mu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			c.Close()
		}
	})
}
