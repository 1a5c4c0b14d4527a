package handlers

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Session is a transport's handle on one registered connection. Dispatch and
// Close may be called from the transport's goroutines.
type Session struct {
	ID string

	h         *Handler
	limiter   *rate.Limiter
	closeOnce sync.Once
}

func (h *Handler) newSession(id string) *Session {
	return &Session{
		ID:      id,
		h:       h,
		limiter: rate.NewLimiter(h.limit, h.burst),
	}
}

// Dispatch queues an inbound event. Events from one session are handled in
// the order they are dispatched. Only high-frequency presentation events
// count against the rate limit.
func (s *Session) Dispatch(event string, data Data) error {
	if throttled(event) && !s.limiter.Allow() {
		s.h.logger.Warn("rate limit exceeded", "event", event, "conn_id", s.ID)
		return ErrRateLimited
	}
	return s.h.enqueue(context.Background(), func() {
		s.h.handleEvent(s.ID, event, data)
	})
}

// Close queues the disconnect cascade. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		err := s.h.enqueue(context.Background(), func() { s.h.disconnect(s.ID) })
		if err != nil {
			s.h.logger.Debug("disconnect not queued", "conn_id", s.ID, "err", err)
		}
	})
}
