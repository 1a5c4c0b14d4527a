// Package legacy serves Socket.IO v2 clients that cannot speak EIO=4.
package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	socketio "github.com/googollee/go-socket.io"

	"github.com/biswa/tourcall-signal/internal/handlers"
	"github.com/biswa/tourcall-signal/internal/relay"
)

// Connector registers a transport endpoint with the room-state actor.
type Connector interface {
	Connect(ctx context.Context, ep relay.Endpoint) (*handlers.Session, error)
}

type Server struct {
	socketIO  *socketio.Server
	connector Connector
	logger    *slog.Logger
}

func New(connector Connector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		socketIO:  socketio.NewServer(nil),
		connector: connector,
		logger:    logger,
	}

	s.socketIO.OnConnect("/", s.onConnect)
	s.socketIO.OnDisconnect("/", s.onDisconnect)
	s.socketIO.OnError("/", func(conn socketio.Conn, err error) {
		id := ""
		if conn != nil {
			id = conn.ID()
		}
		s.logger.Debug("legacy socket.io error", "sid", id, "err", err)
	})
	for _, event := range handlers.InboundEvents() {
		s.socketIO.OnEvent("/", event, s.onEvent(event))
	}
	return s
}

// Start runs the engine loop. It must be called before serving requests.
func (s *Server) Start() {
	go func() {
		if err := s.socketIO.Serve(); err != nil {
			s.logger.Warn("legacy socket.io server stopped", "err", err)
		}
	}()
}

func (s *Server) Close() error {
	if err := s.socketIO.Close(); err != nil {
		return fmt.Errorf("close legacy socket.io server: %w", err)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.socketIO.ServeHTTP(w, r)
}

func (s *Server) onConnect(conn socketio.Conn) error {
	sess, err := s.connector.Connect(context.Background(), endpoint{conn})
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	conn.SetContext(sess)
	s.logger.Debug("legacy client connected", "sid", conn.ID(), "conn_id", sess.ID)
	return nil
}

func (s *Server) onDisconnect(conn socketio.Conn, reason string) {
	sess := session(conn)
	if sess == nil {
		return
	}
	s.logger.Debug("legacy client disconnected", "conn_id", sess.ID, "reason", reason)
	sess.Close()
}

func (s *Server) onEvent(event string) func(socketio.Conn, interface{}) {
	return func(conn socketio.Conn, msg interface{}) {
		sess := session(conn)
		if sess == nil {
			return
		}
		if err := sess.Dispatch(event, handlers.ParseData([]any{msg})); err != nil {
			s.logger.Debug("event not dispatched", "event", event, "conn_id", sess.ID, "err", err)
		}
	}
}

func session(conn socketio.Conn) *handlers.Session {
	sess, _ := conn.Context().(*handlers.Session)
	return sess
}

// endpoint adapts a legacy connection to relay.Endpoint.
type endpoint struct {
	conn socketio.Conn
}

func (e endpoint) Emit(event string, payload any) {
	e.conn.Emit(event, payload)
}
