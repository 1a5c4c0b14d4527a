// Package relay delivers outbound events to connections, either to a single
// connection id or to the subscriber set of a room.
//
// A Relay is owned by the room-state actor and is not safe for concurrent
// use. Endpoints must not block in Emit.
package relay

import (
	"log/slog"
	"sort"
)

// Endpoint is the outbound half of a transport connection.
type Endpoint interface {
	Emit(event string, payload any)
}

type Relay struct {
	endpoints map[string]Endpoint
	topics    map[string]map[string]struct{}
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		endpoints: make(map[string]Endpoint),
		topics:    make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

// Attach binds a connection id to its endpoint.
func (r *Relay) Attach(id string, ep Endpoint) {
	r.endpoints[id] = ep
}

// Detach forgets the endpoint and drops it from every room.
func (r *Relay) Detach(id string) {
	delete(r.endpoints, id)
	for topic, subs := range r.topics {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
}

func (r *Relay) Connected(id string) bool {
	_, ok := r.endpoints[id]
	return ok
}

func (r *Relay) Subscribe(room, id string) {
	subs, ok := r.topics[room]
	if !ok {
		subs = make(map[string]struct{})
		r.topics[room] = subs
	}
	subs[id] = struct{}{}
}

func (r *Relay) Unsubscribe(room, id string) {
	subs, ok := r.topics[room]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, room)
	}
}

// subscribers returns the sorted subscriber ids of room.
func (r *Relay) subscribers(room string) []string {
	subs := r.topics[room]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send delivers event to one connection. It reports false when the target
// is not connected.
func (r *Relay) Send(id, event string, payload any) bool {
	ep, ok := r.endpoints[id]
	if !ok {
		r.logger.Debug("relay target not connected", "event", event, "conn_id", id)
		return false
	}
	ep.Emit(event, payload)
	return true
}

// Publish delivers event to every subscriber of room except the sender, in
// id order, and returns the number of deliveries.
func (r *Relay) Publish(room, except, event string, payload any) int {
	n := 0
	for _, id := range r.subscribers(room) {
		if id == except {
			continue
		}
		if r.Send(id, event, payload) {
			n++
		}
	}
	r.logger.Debug("relay publish", "event", event, "room_id", room, "recipients", n)
	return n
}
