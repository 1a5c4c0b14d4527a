package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/biswa/tourcall-signal/internal/models"
	"github.com/biswa/tourcall-signal/internal/relay"
)

var (
	ErrClosed       = errors.New("handlers: closed")
	ErrMissingField = errors.New("missing required field")
	ErrRateLimited  = errors.New("rate limited")
)

const DefaultQueueSize = 1024

type Options struct {
	// QueueSize bounds the inbound queue shared by every connection.
	QueueSize int
	// MessagesPerSecond limits inbound events per connection; 0 disables.
	MessagesPerSecond int
	Logger            *slog.Logger
}

// Handler is the room-state actor. Run drains a single queue, so every
// inbound event is handled to completion, including its outbound sends,
// before the next one starts. The registry, directory and relay are only
// touched from that goroutine.
type Handler struct {
	registry *models.Registry
	rooms    *models.Directory
	relay    *relay.Relay
	logger   *slog.Logger
	routes   map[string]func(connID string, data Data)

	limit rate.Limit
	burst int

	inbox chan func()
	done  chan struct{}
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	registry := models.NewRegistry()
	h := &Handler{
		registry: registry,
		rooms:    models.NewDirectory(registry),
		relay:    relay.New(logger.With("component", "relay")),
		logger:   logger,
		limit:    rate.Inf,
		inbox:    make(chan func(), size),
		done:     make(chan struct{}),
	}
	if opts.MessagesPerSecond > 0 {
		h.limit = rate.Limit(opts.MessagesPerSecond)
		h.burst = opts.MessagesPerSecond
	}

	h.routes = map[string]func(string, Data){
		EventJoin:                h.handleJoin,
		EventLeave:               h.handleLeave,
		EventCreatorInfoRequest:  h.handleCreatorInfo,
		EventOffer:               h.handleOffer,
		EventAnswer:              h.handleAnswer,
		EventICECandidate:        h.handleICECandidate,
		EventVideoStatus:         h.handleVideoStatus,
		EventAudioStatus:         h.handleAudioStatus,
		EventScreenShareRequest:  h.handleScreenShareRequest,
		EventScreenShareResponse: h.handleScreenShareResponse,
		EventScreenSharingUpdate: h.handleScreenSharing,
		EventScreenSharing:       h.handleScreenSharing,
		EventViewUpdate:          h.handleViewUpdate,
		EventSceneUpdate:         h.handleSceneUpdate,
	}
	for _, event := range []string{
		EventActionPerform,
		EventSpeakingStatus,
		EventURLChange,
		EventTourState,
		EventRemoteControl,
		EventCursorMove,
		EventClearCursor,
	} {
		h.routes[event] = func(connID string, data Data) {
			h.handleBroadcast(event, connID, data)
		}
	}
	return h
}

// Run processes queued work until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.inbox:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- fn:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the actor and waits for its result.
func query[T any](ctx context.Context, h *Handler, fn func() T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := h.enqueue(ctx, func() { reply <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Connect registers a transport endpoint and returns its session.
func (h *Handler) Connect(ctx context.Context, ep relay.Endpoint) (*Session, error) {
	reply := make(chan string, 1)
	if err := h.enqueue(ctx, func() { reply <- h.connect(ep) }); err != nil {
		return nil, err
	}
	select {
	case id := <-reply:
		return h.newSession(id), nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		// The registration may still run; undo it once it does.
		go func() {
			select {
			case id := <-reply:
				_ = h.enqueue(context.Background(), func() { h.disconnect(id) })
			case <-h.done:
			}
		}()
		return nil, ctx.Err()
	}
}

// Rooms returns a snapshot of every active room.
func (h *Handler) Rooms(ctx context.Context) ([]models.RoomSnapshot, error) {
	return query(ctx, h, h.rooms.Snapshot)
}

type roomLookup struct {
	room models.RoomSnapshot
	ok   bool
}

// Room returns a snapshot of one room.
func (h *Handler) Room(ctx context.Context, roomID string) (models.RoomSnapshot, bool, error) {
	res, err := query(ctx, h, func() roomLookup {
		r, ok := h.rooms.Get(roomID)
		return roomLookup{room: r, ok: ok}
	})
	return res.room, res.ok, err
}

// ExpireRequests drops pending screen-share requests made before now-ttl.
func (h *Handler) ExpireRequests(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	return query(ctx, h, func() int { return h.expireRequests(now.Add(-ttl)) })
}

func (h *Handler) connect(ep relay.Endpoint) string {
	id := h.registry.Connect()
	h.relay.Attach(id, ep)
	h.logger.Info("client connected", "conn_id", id)
	return id
}

func (h *Handler) disconnect(connID string) {
	if !h.relay.Connected(connID) {
		return
	}
	for _, roomID := range h.rooms.RoomsOf(connID) {
		h.leaveRoom(roomID, connID)
	}
	h.registry.Remove(connID)
	h.relay.Detach(connID)
	h.logger.Info("client disconnected", "conn_id", connID)
}

func (h *Handler) handleEvent(connID, event string, data Data) {
	if !h.relay.Connected(connID) {
		h.logger.Debug("dropping event from closed connection", "event", event, "conn_id", connID)
		return
	}
	fn, ok := h.routes[event]
	if !ok {
		h.logger.Warn("unknown event", "event", event, "conn_id", connID)
		return
	}
	if data == nil {
		data = Data{}
	}
	fn(connID, data)
}

// nameOf prefers the name carried in the payload and falls back to the
// registered display name.
func (h *Handler) nameOf(connID string, data Data, key string) string {
	if name := data.String(key); name != "" {
		return name
	}
	return h.registry.Name(connID)
}

func (h *Handler) dropInvalid(event, connID string, err error) {
	h.logger.Warn("dropping malformed event", "event", event, "conn_id", connID, "err", err)
}
