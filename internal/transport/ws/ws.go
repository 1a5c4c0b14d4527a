// Package ws serves clients over a plain WebSocket, one Envelope per frame.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/biswa/tourcall-signal/internal/handlers"
	"github.com/biswa/tourcall-signal/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 256

	DefaultMaxMessageBytes = 64 * 1024
)

// Connector registers a transport endpoint with the room-state actor.
type Connector interface {
	Connect(ctx context.Context, ep relay.Endpoint) (*handlers.Session, error)
}

type Options struct {
	// AllowedOrigins may be ["*"]. Requests without an Origin header are
	// always accepted.
	AllowedOrigins  []string
	MaxMessageBytes int64
	Logger          *slog.Logger
}

type Server struct {
	connector Connector
	upgrader  websocket.Upgrader
	maxBytes  int64
	logger    *slog.Logger
}

func New(connector Connector, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	s := &Server{
		connector: connector,
		maxBytes:  maxBytes,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		Subprotocols:    []string{SubprotocolMsgpack},
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		conn:   conn,
		codec:  codecFor(conn.Subprotocol()),
		send:   make(chan Envelope, sendQueueSize),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	sess, err := s.connector.Connect(r.Context(), c)
	if err != nil {
		s.logger.Warn("rejecting websocket client", "remote", r.RemoteAddr, "err", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	c.logger = s.logger.With("conn_id", sess.ID)
	c.logger.Debug("websocket client connected", "remote", r.RemoteAddr, "subprotocol", conn.Subprotocol())

	go c.writePump()
	go c.readPump(sess, s.maxBytes)
}

// client is one WebSocket connection. Emit is called by the room-state
// actor and never blocks; writePump owns all writes to conn.
type client struct {
	conn   *websocket.Conn
	codec  codec
	send   chan Envelope
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (c *client) Emit(event string, payload any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- Envelope{Event: event, Data: payload}:
	case <-c.done:
	default:
		c.logger.Warn("send queue full, closing connection", "event", event)
		c.shutdown()
	}
}

func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) readPump(sess *handlers.Session, maxBytes int64) {
	defer func() {
		sess.Close()
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		msg, err := c.codec.decode(frame)
		if err != nil || msg.Event == "" {
			c.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		err = sess.Dispatch(msg.Event, handlers.Data(msg.Data))
		switch {
		case errors.Is(err, handlers.ErrClosed):
			return
		case err != nil:
			c.logger.Debug("event not dispatched", "event", msg.Event, "err", err)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			frame, err := c.codec.encode(env)
			if err != nil {
				c.logger.Warn("dropping unencodable event", "event", env.Event, "err", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.messageType(), frame); err != nil {
				c.logger.Debug("websocket write failed", "err", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, strings.TrimRight(origin, "/")) {
				return true
			}
		}
		return false
	}
}
