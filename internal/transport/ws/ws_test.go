package ws

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/biswa/tourcall-signal/internal/handlers"
)

func newTestServer(t *testing.T, opts Options) (*handlers.Handler, *httptest.Server) {
	t.Helper()
	h := handlers.New(handlers.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	ts := httptest.NewServer(New(h, opts))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return h, ts
}

func dial(t *testing.T, ts *httptest.Server, subprotocols ...string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func sendJSON(t *testing.T, conn *websocket.Conn, event string, data map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestJSONClientsJoinAndSignal(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	a, b := dial(t, ts), dial(t, ts)

	sendJSON(t, a, handlers.EventJoin, map[string]any{"roomId": "R", "userName": "alice"})
	if got := readJSON(t, a); got["event"] != handlers.EventExistingPeers {
		t.Fatalf("a got %v", got)
	}

	sendJSON(t, b, handlers.EventJoin, map[string]any{"roomId": "R", "userName": "bob"})
	peers := readJSON(t, b)
	if peers["event"] != handlers.EventExistingPeers {
		t.Fatalf("b got %v", peers)
	}
	joined := readJSON(t, a)
	if joined["event"] != handlers.EventNewUserJoined {
		t.Fatalf("a got %v", joined)
	}
	bID, _ := joined["data"].(map[string]any)["userId"].(string)
	if bID == "" {
		t.Fatalf("new-user-joined without userId: %v", joined)
	}

	sendJSON(t, a, handlers.EventOffer, map[string]any{"targetUserId": bID, "offer": map[string]any{"sdp": "v=0"}})
	offer := readJSON(t, b)
	if offer["event"] != handlers.EventOffer {
		t.Fatalf("b got %v", offer)
	}
	if data := offer["data"].(map[string]any); data["senderUserName"] != "alice" {
		t.Fatalf("offer data=%v", data)
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	a := dial(t, ts)

	if err := a.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendJSON(t, a, handlers.EventJoin, map[string]any{"roomId": "R"})
	if got := readJSON(t, a); got["event"] != handlers.EventExistingPeers {
		t.Fatalf("got %v", got)
	}
}

func TestMsgpackSubprotocol(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	a := dial(t, ts, SubprotocolMsgpack)
	if a.Subprotocol() != SubprotocolMsgpack {
		t.Fatalf("subprotocol=%q", a.Subprotocol())
	}

	frame, err := msgpack.Marshal(map[string]any{
		"event": handlers.EventJoin,
		"data":  map[string]any{"roomId": "R", "userName": "m"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := a.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, reply, err := a.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type=%d, want binary", mt)
	}
	var got map[string]any
	if err := msgpack.NewDecoder(bytes.NewReader(reply)).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["event"] != handlers.EventExistingPeers {
		t.Fatalf("got %v", got)
	}
	data, _ := got["data"].(map[string]any)
	if data["roomId"] != "R" || data["creatorId"] == "" {
		t.Fatalf("data=%v", data)
	}
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	h, ts := newTestServer(t, Options{})
	a, b := dial(t, ts), dial(t, ts)
	sendJSON(t, a, handlers.EventJoin, map[string]any{"roomId": "R"})
	readJSON(t, a)
	sendJSON(t, b, handlers.EventJoin, map[string]any{"roomId": "R"})
	readJSON(t, b)
	readJSON(t, a)

	b.Close()
	if got := readJSON(t, a); got["event"] != handlers.EventUserLeft {
		t.Fatalf("a got %v", got)
	}
	rooms, err := h.Rooms(context.Background())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || len(rooms[0].Participants) != 1 {
		t.Fatalf("rooms=%+v", rooms)
	}
}

func TestOriginCheck(t *testing.T) {
	_, ts := newTestServer(t, Options{AllowedOrigins: []string{"https://good.example"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatalf("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://good.example"}})
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestCodecRoundTripUsesJSONNames(t *testing.T) {
	payload := handlers.SharingUpdatePayload{RoomID: "R", UserID: "u", IsSharing: true}
	b, err := msgpackCodec{}.encode(Envelope{Event: handlers.EventScreenSharingUpdate, Data: payload})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	in, err := msgpackCodec{}.decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Event != handlers.EventScreenSharingUpdate || in.Data["roomId"] != "R" || in.Data["isSharing"] != true {
		t.Fatalf("decoded=%+v", in)
	}
}
