package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512
)

var ErrClientGone = errors.New("transport: client disconnected")

// Client is one connected peer on a Server. Session identity (username,
// client id) is attached by the login handler after the fact; the in-history
// flag marks a peer still receiving catch-up replay.
type Client struct {
	id   string
	conn *websocket.Conn
	srv  *Server

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	username  string
	clientID  string
	inHistory bool
}

func (c *Client) ID() string { return c.id }

// Send queues a frame for delivery. It blocks while the peer's buffer is
// full and fails once the peer is gone.
func (c *Client) Send(p []byte) error {
	select {
	case c.send <- p:
		return nil
	case <-c.closed:
		return ErrClientGone
	}
}

// trySend is the broadcast path: a peer that cannot keep up is dropped
// rather than stalling the room.
func (c *Client) trySend(p []byte) {
	select {
	case c.send <- p:
	case <-c.closed:
	default:
		c.srv.logger.Warn("dropping slow client", zap.String("conn", c.id))
		c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) SetUser(username, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.clientID = clientID
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) SetInHistory(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inHistory = v
}

func (c *Client) InHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inHistory
}

func (c *Client) readPump() {
	defer func() {
		c.srv.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.srv.logger.Debug("read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		c.srv.handleInbound(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
