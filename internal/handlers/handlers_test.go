package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type message struct {
	event   string
	payload any
}

type fakeEndpoint struct {
	mu   sync.Mutex
	msgs []message
}

func (f *fakeEndpoint) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{event: event, payload: payload})
}

func (f *fakeEndpoint) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.event
	}
	return out
}

func (f *fakeEndpoint) count(event string) int {
	n := 0
	for _, e := range f.events() {
		if e == event {
			n++
		}
	}
	return n
}

// last returns the most recent payload for event.
func (f *fakeEndpoint) last(t *testing.T, event string) any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].event == event {
			return f.msgs[i].payload
		}
	}
	t.Fatalf("no %q event in %v", event, f.msgs)
	return nil
}

func (f *fakeEndpoint) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

type client struct {
	id string
	ep *fakeEndpoint
}

func newTestHandler() *Handler {
	return New(Options{})
}

func connect(h *Handler) client {
	ep := &fakeEndpoint{}
	return client{id: h.connect(ep), ep: ep}
}

func joinRoom(h *Handler, c client, roomID, name string) {
	h.handleEvent(c.id, EventJoin, Data{"roomId": roomID, "userName": name})
}

func TestJoinAnnouncesAndListsPeers(t *testing.T) {
	h := newTestHandler()
	c, u := connect(h), connect(h)

	joinRoom(h, c, "R1", "creator")
	if got := c.ep.last(t, EventExistingPeers).(PeersPayload); len(got.Peers) != 0 || got.CreatorID != c.id {
		t.Fatalf("creator peers=%+v", got)
	}

	joinRoom(h, u, "R1", "user")
	joined := c.ep.last(t, EventNewUserJoined).(UserJoinedPayload)
	if joined.UserID != u.id || joined.UserName != "user" || joined.CreatorID != c.id {
		t.Fatalf("new-user-joined=%+v", joined)
	}
	peers := u.ep.last(t, EventExistingPeers).(PeersPayload)
	if len(peers.Peers) != 1 || peers.Peers[0].ID != c.id || peers.CreatorID != c.id {
		t.Fatalf("existing-room-peers=%+v", peers)
	}
	if n := u.ep.count(EventNewUserJoined); n != 0 {
		t.Fatalf("joiner saw its own announcement %d times", n)
	}
}

func TestRejoinDoesNotReannounce(t *testing.T) {
	h := newTestHandler()
	c, u := connect(h), connect(h)
	joinRoom(h, c, "R", "c")
	joinRoom(h, u, "R", "u")
	joinRoom(h, u, "R", "u")

	if n := c.ep.count(EventNewUserJoined); n != 1 {
		t.Fatalf("new-user-joined sent %d times, want 1", n)
	}
	peers := u.ep.last(t, EventExistingPeers).(PeersPayload)
	for _, p := range peers.Peers {
		if p.ID == u.id {
			t.Fatalf("joiner listed as its own peer")
		}
	}
}

func TestJoinWithoutRoomIsDropped(t *testing.T) {
	h := newTestHandler()
	c := connect(h)
	h.handleEvent(c.id, EventJoin, Data{"userName": "x"})
	if ev := c.ep.events(); len(ev) != 0 {
		t.Fatalf("got %v", ev)
	}
	if h.rooms.Len() != 0 {
		t.Fatalf("room created without id")
	}
}

func TestSignalRelayTagsSender(t *testing.T) {
	h := newTestHandler()
	a, b := connect(h), connect(h)
	joinRoom(h, a, "R", "alice")
	joinRoom(h, b, "R", "bob")

	offer := map[string]any{"type": "offer", "sdp": "v=0"}
	h.handleEvent(a.id, EventOffer, Data{"targetUserId": b.id, "offer": offer})
	got := b.ep.last(t, EventOffer).(SignalPayload)
	if got.SenderUserID != a.id || got.SenderUserName != "alice" || got.Offer == nil {
		t.Fatalf("offer=%+v", got)
	}

	h.handleEvent(b.id, EventAnswer, Data{"targetUserId": a.id, "answer": "sdp"})
	if got := a.ep.last(t, EventAnswer).(SignalPayload); got.SenderUserID != b.id || got.Answer != "sdp" {
		t.Fatalf("answer=%+v", got)
	}

	h.handleEvent(a.id, EventICECandidate, Data{"targetUserId": b.id, "candidate": ""})
	if n := b.ep.count(EventICECandidate); n != 0 {
		t.Fatalf("empty candidate relayed")
	}
	h.handleEvent(a.id, EventICECandidate, Data{"targetUserId": b.id, "candidate": map[string]any{"candidate": "c"}})
	if n := b.ep.count(EventICECandidate); n != 1 {
		t.Fatalf("candidate relayed %d times", n)
	}

	// Unknown targets are dropped silently.
	h.handleEvent(a.id, EventOffer, Data{"targetUserId": "ghost", "offer": offer})
}

func TestStatusUpdatesReachRoom(t *testing.T) {
	h := newTestHandler()
	a, b := connect(h), connect(h)
	joinRoom(h, a, "R", "a")
	joinRoom(h, b, "R", "b")

	h.handleEvent(a.id, EventVideoStatus, Data{"roomId": "R", "videoOff": true})
	if got := b.ep.last(t, EventVideoStatus).(VideoStatusPayload); !got.VideoOff || got.UserID != a.id {
		t.Fatalf("video=%+v", got)
	}
	h.handleEvent(a.id, EventAudioStatus, Data{"roomId": "R", "audioMuted": true})
	if got := b.ep.last(t, EventAudioStatus).(AudioStatusPayload); !got.AudioMuted {
		t.Fatalf("audio=%+v", got)
	}
	if a.ep.count(EventVideoStatus)+a.ep.count(EventAudioStatus) != 0 {
		t.Fatalf("sender received its own status")
	}
	rec, _ := h.registry.Lookup(a.id)
	if !rec.VideoOff || !rec.AudioMuted {
		t.Fatalf("registry=%+v", rec)
	}
}

func TestBroadcastReachesRoomExceptSender(t *testing.T) {
	h := newTestHandler()
	a, b, outsider := connect(h), connect(h), connect(h)
	joinRoom(h, a, "R", "a")
	joinRoom(h, b, "R", "b")

	h.handleEvent(a.id, EventCursorMove, Data{"roomId": "R", "x": 0.5})
	got := b.ep.last(t, EventCursorMove).(Data)
	if got["userId"] != a.id || got["x"] != 0.5 {
		t.Fatalf("cursor-move=%v", got)
	}
	if n := a.ep.count(EventCursorMove); n != 0 {
		t.Fatalf("sender received its own broadcast")
	}

	h.handleEvent(outsider.id, EventURLChange, Data{"roomId": "R", "url": "x"})
	if n := b.ep.count(EventURLChange) + a.ep.count(EventURLChange); n != 2 {
		t.Fatalf("url-change delivered %d times, want 2", n)
	}
	if n := outsider.ep.count(EventURLChange); n != 0 {
		t.Fatalf("outsider received its own broadcast")
	}
}

func TestUnknownEventAndClosedConnection(t *testing.T) {
	h := newTestHandler()
	a := connect(h)
	h.handleEvent(a.id, "no-such-event", Data{})
	h.disconnect(a.id)
	h.handleEvent(a.id, EventJoin, Data{"roomId": "R"})
	if h.rooms.Len() != 0 {
		t.Fatalf("event from closed connection was applied")
	}
}

func TestCreatorInfo(t *testing.T) {
	h := newTestHandler()
	c, u := connect(h), connect(h)
	joinRoom(h, c, "R", "host")
	joinRoom(h, u, "R", "guest")

	h.handleEvent(u.id, EventCreatorInfoRequest, Data{"roomId": "R"})
	got := u.ep.last(t, EventCreatorInfo).(CreatorInfoPayload)
	if got.CreatorID != c.id || got.CreatorName != "host" {
		t.Fatalf("creator info=%+v", got)
	}

	h.handleEvent(u.id, EventCreatorInfoRequest, Data{"roomId": "missing"})
	if n := u.ep.count(EventCreatorInfo); n != 1 {
		t.Fatalf("unknown room answered")
	}
}

func TestLeaveAndRecreate(t *testing.T) {
	h := newTestHandler()
	c, u := connect(h), connect(h)
	joinRoom(h, c, "R", "c")
	joinRoom(h, u, "R", "u")

	h.handleEvent(c.id, EventLeave, Data{"roomId": "R"})
	if got := u.ep.last(t, EventUserLeft).(UserLeftPayload); got.UserID != c.id || got.UserName != "c" {
		t.Fatalf("user-left=%+v", got)
	}
	if _, ok := h.registry.Lookup(c.id); ok {
		t.Fatalf("registry entry kept after leaving last room")
	}

	h.handleEvent(u.id, EventLeave, Data{"roomId": "R"})
	if h.rooms.Len() != 0 {
		t.Fatalf("empty room kept")
	}

	joinRoom(h, u, "R", "u")
	if creator, _ := h.rooms.Creator("R"); creator != u.id {
		t.Fatalf("recreated room creator=%q, want %q", creator, u.id)
	}
}

func TestLeaveKeepsRegistryWhileInOtherRooms(t *testing.T) {
	h := newTestHandler()
	a := connect(h)
	joinRoom(h, a, "R1", "a")
	joinRoom(h, a, "R2", "a")
	h.handleEvent(a.id, EventLeave, Data{"roomId": "R1"})
	if _, ok := h.registry.Lookup(a.id); !ok {
		t.Fatalf("registry entry dropped while still in R2")
	}
}

func TestRunLoopProcessesSessions(t *testing.T) {
	h := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer func() {
		cancel()
		<-h.Done()
	}()

	epA, epB := &fakeEndpoint{}, &fakeEndpoint{}
	a, err := h.Connect(ctx, epA)
	if err != nil {
		t.Fatalf("connect a: %v", err)
	}
	b, err := h.Connect(ctx, epB)
	if err != nil {
		t.Fatalf("connect b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("duplicate session ids")
	}

	if err := a.Dispatch(EventJoin, Data{"roomId": "R", "userName": "a"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := b.Dispatch(EventJoin, Data{"roomId": "R", "userName": "b"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	b.Close()
	b.Close()

	rooms, err := h.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || len(rooms[0].Participants) != 1 || rooms[0].Participants[0].ID != a.ID {
		t.Fatalf("rooms=%+v", rooms)
	}
	if n := epA.count(EventUserLeft); n != 1 {
		t.Fatalf("user-left delivered %d times", n)
	}

	room, ok, err := h.Room(ctx, "R")
	if err != nil || !ok || room.CreatorID != a.ID {
		t.Fatalf("room=%+v ok=%v err=%v", room, ok, err)
	}
	if _, ok, _ := h.Room(ctx, "missing"); ok {
		t.Fatalf("missing room found")
	}
}

func TestClosedHandlerRejectsWork(t *testing.T) {
	h := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()
	<-h.Done()

	if _, err := h.Connect(context.Background(), &fakeEndpoint{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect err=%v, want ErrClosed", err)
	}
	if _, err := h.Rooms(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("rooms err=%v, want ErrClosed", err)
	}
}

func TestSessionRateLimit(t *testing.T) {
	h := New(Options{MessagesPerSecond: 2})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	s, err := h.Connect(ctx, &fakeEndpoint{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var limited bool
	for i := 0; i < 10; i++ {
		if err := s.Dispatch(EventCursorMove, Data{"roomId": "R"}); errors.Is(err, ErrRateLimited) {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of 10 events was never limited")
	}
}

func TestControlEventsBypassRateLimit(t *testing.T) {
	h := New(Options{MessagesPerSecond: 50})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	epC, epU := &fakeEndpoint{}, &fakeEndpoint{}
	c, _ := h.Connect(ctx, epC)
	u, _ := h.Connect(ctx, epU)
	_ = c.Dispatch(EventJoin, Data{"roomId": "R", "userName": "c"})
	_ = u.Dispatch(EventJoin, Data{"roomId": "R", "userName": "u"})
	if err := c.Dispatch(EventScreenSharingUpdate, Data{"roomId": "R", "isSharing": true}); err != nil {
		t.Fatalf("start sharing: %v", err)
	}

	var limited bool
	for i := 0; i < 60; i++ {
		if err := c.Dispatch(EventCursorMove, Data{"roomId": "R", "x": 0.1}); errors.Is(err, ErrRateLimited) {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("cursor flood was never limited")
	}

	if err := c.Dispatch(EventScreenSharingUpdate, Data{"roomId": "R", "isSharing": false}); err != nil {
		t.Fatalf("stop sharing: %v", err)
	}
	if err := c.Dispatch(EventLeave, Data{"roomId": "R"}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	room, ok, err := h.Room(ctx, "R")
	if err != nil || !ok {
		t.Fatalf("room ok=%v err=%v", ok, err)
	}
	if len(room.Participants) != 1 || room.Participants[0].ID != u.ID || room.ControllerID != "" {
		t.Fatalf("room=%+v", room)
	}
	if n := epU.count(EventUserLeft); n != 1 {
		t.Fatalf("user-left delivered %d times, want 1", n)
	}
	if upd := epU.last(t, EventScreenSharingUpdate).(SharingUpdatePayload); upd.IsSharing {
		t.Fatalf("stop not relayed: %+v", upd)
	}
}

func TestExpireRequestsThroughActor(t *testing.T) {
	h := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	epC, epU := &fakeEndpoint{}, &fakeEndpoint{}
	c, _ := h.Connect(ctx, epC)
	u, _ := h.Connect(ctx, epU)
	_ = c.Dispatch(EventJoin, Data{"roomId": "R", "userName": "c"})
	_ = u.Dispatch(EventJoin, Data{"roomId": "R", "userName": "u"})
	_ = u.Dispatch(EventScreenShareRequest, Data{"roomId": "R"})

	n, err := h.ExpireRequests(ctx, time.Now().Add(time.Minute), time.Second)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	got := epU.last(t, EventScreenShareResponse).(ApprovalPayload)
	if got.Approved || got.Error != errRequestExpired {
		t.Fatalf("approval=%+v", got)
	}
}

func TestParseData(t *testing.T) {
	cases := []struct {
		name string
		args []any
		key  string
		want any
	}{
		{"map", []any{map[string]any{"roomId": "R"}}, "roomId", "R"},
		{"json string", []any{`{"roomId":"R"}`}, "roomId", "R"},
		{"bytes", []any{[]byte(`{"roomId":"R"}`)}, "roomId", "R"},
		{"plain string", []any{"hello"}, "data", "hello"},
		{"struct", []any{struct {
			RoomID string `json:"roomId"`
		}{"R"}}, "roomId", "R"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseData(tc.args)[tc.key]; got != tc.want {
				t.Fatalf("%s=%v, want %v", tc.key, got, tc.want)
			}
		})
	}
	if d := ParseData(nil); len(d) != 0 {
		t.Fatalf("empty args gave %v", d)
	}
	if d := ParseData([]any{nil}); len(d) != 0 {
		t.Fatalf("nil arg gave %v", d)
	}
}

func TestDataRequire(t *testing.T) {
	d := Data{"roomId": "R", "empty": ""}
	if err := d.require("roomId"); err != nil {
		t.Fatalf("require roomId: %v", err)
	}
	if err := d.require("roomId", "empty"); !errors.Is(err, ErrMissingField) {
		t.Fatalf("err=%v, want ErrMissingField", err)
	}
	if d.Present("empty") || d.Present("missing") || !d.Present("roomId") {
		t.Fatalf("Present misreports")
	}
}

func TestEveryInboundEventIsRouted(t *testing.T) {
	h := newTestHandler()
	events := InboundEvents()
	if len(events) != len(h.routes) {
		t.Fatalf("%d inbound events, %d routes", len(events), len(h.routes))
	}
	for _, e := range events {
		if _, ok := h.routes[e]; !ok {
			t.Fatalf("no route for %q", e)
		}
	}
}
