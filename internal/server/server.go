package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/biswa/tourcall-signal/internal/expiry"
	"github.com/biswa/tourcall-signal/internal/handlers"
	"github.com/biswa/tourcall-signal/internal/models"
	"github.com/biswa/tourcall-signal/internal/transport/legacy"
	"github.com/biswa/tourcall-signal/internal/transport/socketio"
	"github.com/biswa/tourcall-signal/internal/transport/ws"
)

const (
	ServiceName = "tourcall-signal"

	SocketIOPath       = "/socket.io/"
	LegacySocketIOPath = "/legacy/socket.io/"
)

type Options struct {
	ListenAddr     string
	AllowedOrigins []string

	LegacySocketIO bool
	// WSPath mounts the raw WebSocket transport; empty disables it.
	WSPath          string
	MaxMessageBytes int64

	MessagesPerSecond int
	QueueSize         int

	ScreenRequestTTL time.Duration
	SweepInterval    time.Duration
	ShutdownTimeout  time.Duration

	Logger *slog.Logger
}

type Server struct {
	opts       Options
	logger     *slog.Logger
	handler    *handlers.Handler
	expiry     *expiry.Manager
	socketIO   *socketio.Server
	legacy     *legacy.Server
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener

	cancel context.CancelFunc
}

func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.WSPath != "" && !strings.HasPrefix(opts.WSPath, "/") {
		return nil, fmt.Errorf("invalid ws path %q", opts.WSPath)
	}

	handler := handlers.New(handlers.Options{
		QueueSize:         opts.QueueSize,
		MessagesPerSecond: opts.MessagesPerSecond,
		Logger:            logger.With("component", "rooms"),
	})

	s := &Server{
		opts:     opts,
		logger:   logger,
		handler:  handler,
		expiry:   expiry.New(handler, opts.ScreenRequestTTL, opts.SweepInterval, logger.With("component", "expiry")),
		socketIO: socketio.New(handler, opts.AllowedOrigins, logger.With("component", "socketio")),
	}
	if opts.LegacySocketIO {
		s.legacy = legacy.New(handler, logger.With("component", "legacy"))
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	api := router.NewRoute().Subrouter()
	api.Use(corsMiddleware(s.opts.AllowedOrigins))
	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms", s.listRooms).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms/{roomId}", s.getRoom).Methods(http.MethodGet, http.MethodOptions)

	// Socket.IO handles its own CORS.
	router.PathPrefix(SocketIOPath).Handler(s.socketIO.Handler())
	if s.legacy != nil {
		router.PathPrefix(LegacySocketIOPath).Handler(corsMiddleware(s.opts.AllowedOrigins)(s.legacy))
	}
	if s.opts.WSPath != "" {
		router.Handle(s.opts.WSPath, ws.New(s.handler, ws.Options{
			AllowedOrigins:  s.opts.AllowedOrigins,
			MaxMessageBytes: s.opts.MaxMessageBytes,
			Logger:          s.logger.With("component", "ws"),
		}))
	}
	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the room-state actor and background workers, then begins
// serving on ListenAddr.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.ListenAddr, err)
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.handler.Run(ctx)
	s.expiry.Start()
	if s.legacy != nil {
		s.legacy.Start()
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "err", err)
		}
	}()

	s.logger.Info("signal server listening",
		"addr", ln.Addr().String(),
		"legacy_socketio", s.legacy != nil,
		"ws_path", s.opts.WSPath,
	)
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	s.socketIO.Close()
	if s.legacy != nil {
		if err := s.legacy.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.expiry.Stop()
	if s.cancel != nil {
		s.cancel()
		<-s.handler.Done()
	}
	return errors.Join(errs...)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

// RoomSummary is one entry of GET /api/rooms.
type RoomSummary struct {
	ID           string            `json:"roomId"`
	CreatorID    string            `json:"creatorId"`
	ControllerID string            `json:"controllerId,omitempty"`
	State        models.ShareState `json:"shareState"`
	Participants int               `json:"participants"`
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.handler.Rooms(r.Context())
	if err != nil {
		s.unavailable(w, err)
		return
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomSummary{
			ID:           room.ID,
			CreatorID:    room.CreatorID,
			ControllerID: room.ControllerID,
			State:        room.State,
			Participants: len(room.Participants),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	room, ok, err := s.handler.Room(r.Context(), roomID)
	if err != nil {
		s.unavailable(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) unavailable(w http.ResponseWriter, err error) {
	s.logger.Warn("room query failed", "err", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "room state unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	wildcard := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(o)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			case set[strings.ToLower(origin)]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
