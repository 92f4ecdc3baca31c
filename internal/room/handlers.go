package room

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wyrover/painttyServer/internal/identity"
	"github.com/wyrover/painttyServer/internal/notify"
	"github.com/wyrover/painttyServer/internal/transport"
)

// Command error codes on the wire.
const (
	errLoginBadName     = 301
	errLoginBadPassword = 302
	errLoginBusy        = 305
	reasonRoomClosing   = 501
	errCheckoutNoKey    = 701
)

type canvasSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type loginInfo struct {
	HistorySize int64      `json:"historysize"`
	DataPort    int        `json:"dataport"`
	MsgPort     int        `json:"msgport"`
	Size        canvasSize `json:"size"`
	ClientID    string     `json:"clientid"`
}

type loginReply struct {
	Response string     `json:"response"`
	Result   bool       `json:"result"`
	ErrCode  int        `json:"errcode,omitempty"`
	Info     *loginInfo `json:"info,omitempty"`
}

type simpleReply struct {
	Response string `json:"response"`
	Result   bool   `json:"result"`
	ErrCode  int    `json:"errcode,omitempty"`
}

type checkoutReply struct {
	Response string `json:"response"`
	Result   bool   `json:"result"`
	Cycle    int    `json:"cycle"`
}

type onlineEntry struct {
	Name     string `json:"name"`
	ClientID string `json:"clientid"`
}

type onlineListReply struct {
	Response   string        `json:"response"`
	Result     bool          `json:"result"`
	OnlineList []onlineEntry `json:"onlinelist"`
}

type actionInfo struct {
	Reason int `json:"reason"`
}

type actionMessage struct {
	Action string      `json:"action"`
	Info   *actionInfo `json:"info,omitempty"`
}

func (r *Room) registerHandlers() {
	r.rt.Register("request", "login", r.handleLogin).
		Register("request", "close", r.handleClose).
		Register("request", "clearall", r.handleClearAll).
		Register("request", "onlinelist", r.handleOnlineList).
		Register("request", "checkout", r.handleCheckout)
}

func (r *Room) reply(c *transport.Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encode reply", zap.Error(err))
		return
	}
	if err := r.cmdSrv.SendTo(c, data); err != nil {
		r.logger.Debug("reply not delivered", zap.Error(err))
	}
}

func (r *Room) broadcastAction(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("encode broadcast", zap.Error(err))
		return
	}
	r.cmdSrv.Broadcast(data)
}

func (r *Room) keyMatches(key string) bool {
	return strings.EqualFold(key, r.signedKey)
}

func (r *Room) handleLogin(c *transport.Client, obj map[string]any) {
	name, ok := obj["name"].(string)
	if !ok || name == "" {
		r.reply(c, loginReply{Response: "login", ErrCode: errLoginBadName})
		return
	}

	if r.opts.Password != "" {
		password, ok := obj["password"].(string)
		if !ok || password != r.opts.Password {
			r.reply(c, loginReply{Response: "login", ErrCode: errLoginBadPassword})
			return
		}
	}

	// Global backpressure: reject logins while the whole process is
	// overloaded, regardless of this room's own load.
	if r.busy() {
		r.reply(c, loginReply{Response: "login", ErrCode: errLoginBusy})
		return
	}

	clientID := identity.ClientID(r.opts.Name, name, r.salt, time.Now().UnixMilli())
	c.SetUser(name, clientID)

	_, dataPort, msgPort := r.Ports()
	r.reply(c, loginReply{
		Response: "login",
		Result:   true,
		Info: &loginInfo{
			HistorySize: r.dataChan.Size(),
			DataPort:    dataPort,
			MsgPort:     msgPort,
			Size:        canvasSize{Width: r.opts.CanvasWidth, Height: r.opts.CanvasHeight},
			ClientID:    clientID,
		},
	})
	r.logger.Info("login", zap.String("room", r.opts.Name), zap.String("user", name))
}

func (r *Room) handleClose(c *transport.Client, obj map[string]any) {
	key, ok := obj["key"].(string)
	if !ok || key == "" || !r.keyMatches(key) {
		r.reply(c, simpleReply{Response: "close"})
		return
	}

	r.reply(c, simpleReply{Response: "close", Result: true})
	r.broadcastAction(actionMessage{
		Action: "close",
		Info:   &actionInfo{Reason: reasonRoomClosing},
	})

	// The room now closes as soon as it empties and its logs will not
	// survive a reload.
	r.mu.Lock()
	r.emptyClose = true
	r.permanent = false
	r.mu.Unlock()
}

func (r *Room) handleClearAll(c *transport.Client, obj map[string]any) {
	key, ok := obj["key"].(string)
	if !ok || key == "" || !r.keyMatches(key) {
		r.reply(c, simpleReply{Response: "clearall"})
		return
	}

	if err := r.dataChan.Clear(); err != nil {
		r.logger.Error("clearall failed", zap.String("room", r.opts.Name), zap.Error(err))
		return
	}

	r.reply(c, simpleReply{Response: "clearall", Result: true})
	r.broadcastAction(actionMessage{Action: "clearall"})
}

func (r *Room) handleOnlineList(c *transport.Client, obj map[string]any) {
	clientID, ok := obj["clientid"].(string)
	if !ok || clientID == "" {
		return
	}

	// Only recognized sessions may query presence; strangers get silence.
	clients := r.cmdSrv.Clients()
	known := false
	for _, cli := range clients {
		if cli.ClientID() == clientID {
			known = true
			break
		}
	}
	if !known {
		return
	}

	var people []onlineEntry
	for _, cli := range clients {
		if name, id := cli.Username(), cli.ClientID(); name != "" && id != "" {
			people = append(people, onlineEntry{Name: name, ClientID: id})
		}
	}
	if len(people) == 0 {
		return
	}

	r.reply(c, onlineListReply{
		Response:   "onlinelist",
		Result:     true,
		OnlineList: people,
	})
}

func (r *Room) handleCheckout(c *transport.Client, obj map[string]any) {
	key, ok := obj["key"].(string)
	if !ok || key == "" {
		r.reply(c, simpleReply{Response: "checkout", ErrCode: errCheckoutNoKey})
		return
	}
	if !r.keyMatches(key) {
		return
	}

	r.armExpiration()
	r.bus.Publish(notify.RoomCheckedOut{Name: r.opts.Name})
	r.reply(c, checkoutReply{
		Response: "checkout",
		Result:   true,
		Cycle:    r.opts.ExpirationHours,
	})
}
