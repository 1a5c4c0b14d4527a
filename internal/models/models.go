package models

import (
	"sort"
	"time"
)

// Peer is a participant as seen by other members of a room.
type Peer struct {
	ID         string `json:"userId"`
	Name       string `json:"userName"`
	VideoOff   bool   `json:"videoOff"`
	AudioMuted bool   `json:"audioMuted"`
}

// Room is one active call room. It exists only while it has participants.
type Room struct {
	ID           string
	CreatorID    string
	ControllerID string
	Pending      *ScreenShareRequest
	CreatedAt    time.Time

	participants map[string]struct{}
	approved     map[string]struct{}
}

// RoomSnapshot is a read-only copy of a room, safe to hand outside the actor.
type RoomSnapshot struct {
	ID           string              `json:"roomId"`
	CreatorID    string              `json:"creatorId"`
	ControllerID string              `json:"controllerId,omitempty"`
	State        ShareState          `json:"shareState"`
	Pending      *ScreenShareRequest `json:"pendingRequest,omitempty"`
	Participants []Peer              `json:"participants"`
	Approved     []string            `json:"approved"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// Directory owns every Room record. Connections are referenced by id and
// resolved through the Registry when building snapshots.
type Directory struct {
	rooms    map[string]*Room
	registry *Registry
	now      func() time.Time
}

func NewDirectory(registry *Registry) *Directory {
	return &Directory{
		rooms:    make(map[string]*Room),
		registry: registry,
		now:      time.Now,
	}
}

// JoinResult describes the room as the joiner found it.
type JoinResult struct {
	Created       bool
	AlreadyMember bool
	CreatorID     string
	ControllerID  string
	// Peers holds the participants present strictly before the join.
	Peers []Peer
}

// Join adds connID to roomID, creating the room with connID as creator when
// it does not exist yet.
func (d *Directory) Join(roomID, connID string) JoinResult {
	room, ok := d.rooms[roomID]
	if !ok {
		room = &Room{
			ID:           roomID,
			CreatorID:    connID,
			CreatedAt:    d.now(),
			participants: make(map[string]struct{}),
			approved:     make(map[string]struct{}),
		}
		d.rooms[roomID] = room
	}

	_, member := room.participants[connID]
	res := JoinResult{
		Created:       !ok,
		AlreadyMember: member,
		CreatorID:     room.CreatorID,
		Peers:         d.peers(room, connID),
	}

	room.participants[connID] = struct{}{}
	res.ControllerID = room.ControllerID
	return res
}

// LeaveResult reports what a departure changed.
type LeaveResult struct {
	WasController  bool
	DroppedRequest bool
	RoomDeleted    bool
	Remaining      int
}

// Leave removes connID from roomID and cascades the cleanup. The boolean is
// false when the room is unknown or connID is not a participant.
func (d *Directory) Leave(roomID, connID string) (LeaveResult, bool) {
	room, ok := d.rooms[roomID]
	if !ok {
		return LeaveResult{}, false
	}
	if _, member := room.participants[connID]; !member {
		return LeaveResult{}, false
	}

	var res LeaveResult
	delete(room.participants, connID)
	if room.Pending != nil && room.Pending.RequesterID == connID {
		room.Pending = nil
		res.DroppedRequest = true
	}
	if room.ControllerID == connID {
		room.ControllerID = ""
		res.WasController = true
	}
	delete(room.approved, connID)

	res.Remaining = len(room.participants)
	if res.Remaining == 0 {
		delete(d.rooms, roomID)
		res.RoomDeleted = true
	}
	return res, true
}

// RoomsOf lists every room connID participates in, sorted.
func (d *Directory) RoomsOf(connID string) []string {
	var ids []string
	for id, room := range d.rooms {
		if _, ok := room.participants[connID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) Creator(roomID string) (string, bool) {
	room, ok := d.rooms[roomID]
	if !ok {
		return "", false
	}
	return room.CreatorID, true
}

func (d *Directory) IsMember(roomID, connID string) bool {
	room, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, member := room.participants[connID]
	return member
}

func (d *Directory) Len() int {
	return len(d.rooms)
}

func (d *Directory) Get(roomID string) (RoomSnapshot, bool) {
	room, ok := d.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	return d.snapshot(room), true
}

// Snapshot copies every room, sorted by id.
func (d *Directory) Snapshot() []RoomSnapshot {
	out := make([]RoomSnapshot, 0, len(d.rooms))
	for _, room := range d.rooms {
		out = append(out, d.snapshot(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) snapshot(room *Room) RoomSnapshot {
	s := RoomSnapshot{
		ID:           room.ID,
		CreatorID:    room.CreatorID,
		ControllerID: room.ControllerID,
		State:        room.shareState(),
		Participants: d.peers(room, ""),
		Approved:     make([]string, 0, len(room.approved)),
		CreatedAt:    room.CreatedAt,
	}
	if room.Pending != nil {
		p := *room.Pending
		s.Pending = &p
	}
	for id := range room.approved {
		s.Approved = append(s.Approved, id)
	}
	sort.Strings(s.Approved)
	return s
}

// peers resolves the participants of room, except the given id, through the
// registry. Participants without a registry record are skipped.
func (d *Directory) peers(room *Room, except string) []Peer {
	peers := make([]Peer, 0, len(room.participants))
	for id := range room.participants {
		if id == except {
			continue
		}
		c, ok := d.registry.Lookup(id)
		if !ok {
			continue
		}
		peers = append(peers, Peer{
			ID:         c.ID,
			Name:       c.DisplayName,
			VideoOff:   c.VideoOff,
			AudioMuted: c.AudioMuted,
		})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}
