// Package socketio serves Socket.IO v3/v4 clients (EIO=3 and EIO=4).
package socketio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"

	"github.com/biswa/tourcall-signal/internal/handlers"
	"github.com/biswa/tourcall-signal/internal/relay"
)

// Connector registers a transport endpoint with the room-state actor.
type Connector interface {
	Connect(ctx context.Context, ep relay.Endpoint) (*handlers.Session, error)
}

type Server struct {
	io        *socket.Server
	opts      *socket.ServerOptions
	connector Connector
	logger    *slog.Logger
}

// New builds the Socket.IO server. origins may be ["*"] to allow any origin.
func New(connector Connector, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	opts := socket.DefaultServerOptions()
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(origins),
		Credentials: true,
	})
	opts.SetAllowEIO3(true)

	s := &Server{
		io:        socket.NewServer(nil, opts),
		opts:      opts,
		connector: connector,
		logger:    logger,
	}
	s.io.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.onConnection(client)
	})
	return s
}

// Handler serves the engine.io endpoint; mount it under /socket.io/.
func (s *Server) Handler() http.Handler {
	return s.io.ServeHandler(s.opts)
}

func (s *Server) Close() {
	s.io.Close(nil)
}

func (s *Server) onConnection(client *socket.Socket) {
	sess, err := s.connector.Connect(context.Background(), endpoint{client})
	if err != nil {
		s.logger.Warn("rejecting socket.io client", "sid", client.Id(), "err", err)
		client.Disconnect(true)
		return
	}
	s.logger.Debug("socket.io client connected", "sid", client.Id(), "conn_id", sess.ID)

	for _, event := range handlers.InboundEvents() {
		client.On(event, func(args ...any) {
			if err := sess.Dispatch(event, handlers.ParseData(args)); err != nil {
				s.logger.Debug("event not dispatched", "event", event, "conn_id", sess.ID, "err", err)
			}
		})
	}

	client.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprintf("%v", args[0])
		}
		s.logger.Debug("socket.io client disconnected", "conn_id", sess.ID, "reason", reason)
		sess.Close()
	})
}

// endpoint adapts a Socket.IO socket to relay.Endpoint.
type endpoint struct {
	client *socket.Socket
}

func (e endpoint) Emit(event string, payload any) {
	e.client.Emit(event, payload)
}

func corsOrigin(origins []string) any {
	if len(origins) == 0 {
		return false
	}
	out := make([]any, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return "*"
		}
		out = append(out, o)
	}
	return out
}
