package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// DisconnectHandler is called once when a client's read loop ends.
type DisconnectHandler func(*Client)

// MessageHandler handles one inbound frame.
type MessageHandler func(ctx context.Context, c *Client, message []byte)

// Client is an admitted WebSocket connection. It implements presence.Conn.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	Session *domain.Session

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	disconnectHandler DisconnectHandler
}

// NewClient wraps an upgraded connection. The client's context carries a
// logger tagged with its connection and user ids and is cancelled on Close.
func NewClient(h *Hub, conn *websocket.Conn, session *domain.Session) *Client {
	ctx, cancel := context.WithCancel(pkglog.WithConn(context.Background(), session.ConnID, session.UserID))
	return &Client{
		id:      session.ConnID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.config.SendBufferSize),
		Session: session,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.Session.UserID }

// Context is cancelled when the client closes.
func (c *Client) Context() context.Context {
	return c.ctx
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Send marshals v and queues it without blocking. A full buffer drops the
// frame.
func (c *Client) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		l := pkglog.Ctx(c.ctx)
		l.Error().Err(err).Msg("failed to marshal outbound frame")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		l := pkglog.Ctx(c.ctx)
		l.Warn().Msg("send buffer full, frame dropped")
		return false
	}
}

// Close stops the write loop, which sends a close frame and tears down the
// socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// ReadPump reads frames until the connection fails, then runs the disconnect
// handler and unregisters the client.
func (c *Client) ReadPump(handler MessageHandler) {
	cfg := c.hub.config
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Close()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := pkglog.Ctx(c.ctx)
				l.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c.ctx, c, message)
	}
}

// WritePump writes queued frames and pings until the client is closed or a
// write fails.
func (c *Client) WritePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush(cfg.WriteWait)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		}
	}
}

// flush writes frames already queued when Close was called, so a final
// auth-error or call-ended reaches the client before the close frame.
func (c *Client) flush(writeWait time.Duration) {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
