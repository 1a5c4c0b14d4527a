package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// Connection is the registry record of one live transport session.
type Connection struct {
	ID          string
	DisplayName string
	VideoOff    bool
	AudioMuted  bool
	ConnectedAt time.Time
}

// Registry tracks every live connection's display name and media flags.
// It is not safe for concurrent use; the owning actor serialises access.
type Registry struct {
	conns map[string]*Connection
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
}

// Connect allocates a fresh connection id and registers an empty entry.
func (r *Registry) Connect() string {
	id := uuid.Must(uuid.NewV4()).String()
	for r.conns[id] != nil {
		id = uuid.Must(uuid.NewV4()).String()
	}
	r.conns[id] = &Connection{ID: id, ConnectedAt: r.now()}
	return id
}

// Join records the profile supplied with a join. Unknown ids are registered,
// since a connection that left its last room may join again.
func (r *Registry) Join(id, displayName string, videoOff, audioMuted bool) {
	c, ok := r.conns[id]
	if !ok {
		c = &Connection{ID: id, ConnectedAt: r.now()}
		r.conns[id] = c
	}
	c.DisplayName = displayName
	c.VideoOff = videoOff
	c.AudioMuted = audioMuted
}

func (r *Registry) UpdateVideo(id string, videoOff bool) {
	if c, ok := r.conns[id]; ok {
		c.VideoOff = videoOff
	}
}

func (r *Registry) UpdateAudio(id string, audioMuted bool) {
	if c, ok := r.conns[id]; ok {
		c.AudioMuted = audioMuted
	}
}

// Lookup returns a copy of the connection record.
func (r *Registry) Lookup(id string) (Connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Name returns the display name of id, or "" when unknown.
func (r *Registry) Name(id string) string {
	if c, ok := r.conns[id]; ok {
		return c.DisplayName
	}
	return ""
}

func (r *Registry) Remove(id string) {
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	return len(r.conns)
}
