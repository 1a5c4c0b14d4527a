package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/biswa/tourcall-signal/internal/models"
)

// Inbound events.
const (
	EventJoin                = "join"
	EventLeave               = "leave"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventICECandidate        = "ice-candidate"
	EventVideoStatus         = "video-status-update"
	EventAudioStatus         = "audio-status-update"
	EventScreenShareRequest  = "screen-share-request"
	EventScreenShareResponse = "screen-share-approval-response"
	EventScreenSharingUpdate = "screen-sharing-update"
	EventScreenSharing       = "screen-sharing" // older clients
	EventViewUpdate          = "view-update"
	EventSceneUpdate         = "scene-update"
	EventActionPerform       = "action-perform"
	EventSpeakingStatus      = "speaking-status-update"
	EventURLChange           = "url-change"
	EventTourState           = "remote-tour-state-update"
	EventRemoteControl       = "remote-control-toggle"
	EventCursorMove          = "cursor-move"
	EventClearCursor         = "clear-remote-cursor"
	EventCreatorInfoRequest  = "request-room-creator-info"
)

var throttledEvents = map[string]bool{
	EventCursorMove:     true,
	EventActionPerform:  true,
	EventSpeakingStatus: true,
	EventTourState:      true,
}

// throttled reports whether event is subject to the per-connection rate
// limit.
func throttled(event string) bool {
	return throttledEvents[event]
}

// InboundEvents lists every event a client may send.
func InboundEvents() []string {
	return []string{
		EventJoin,
		EventLeave,
		EventOffer,
		EventAnswer,
		EventICECandidate,
		EventVideoStatus,
		EventAudioStatus,
		EventScreenShareRequest,
		EventScreenShareResponse,
		EventScreenSharingUpdate,
		EventScreenSharing,
		EventViewUpdate,
		EventSceneUpdate,
		EventActionPerform,
		EventSpeakingStatus,
		EventURLChange,
		EventTourState,
		EventRemoteControl,
		EventCursorMove,
		EventClearCursor,
		EventCreatorInfoRequest,
	}
}

// Outbound-only events.
const (
	EventExistingPeers   = "existing-room-peers"
	EventNewUserJoined   = "new-user-joined"
	EventUserLeft        = "user-left"
	EventSharingConflict = "screen-sharing-conflict"
	EventCreatorInfo     = "room-creator-info"
)

// Data is a decoded inbound payload.
type Data map[string]any

// String returns the string at key, or "" when absent or not a string.
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the bool at key. Absent or non-boolean values read as false.
func (d Data) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Present reports whether key holds a non-empty value.
func (d Data) Present(key string) bool {
	v, ok := d[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

func (d Data) require(keys ...string) error {
	for _, k := range keys {
		if d.String(k) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, k)
		}
	}
	return nil
}

// with returns a shallow copy of d with key set to value.
func (d Data) with(key string, value any) Data {
	out := make(Data, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}

// ParseData normalises transport event arguments to a Data map. Transports
// deliver the first argument as a map, a JSON string, or raw bytes.
func ParseData(args []any) Data {
	if len(args) == 0 {
		return Data{}
	}

	switch v := args[0].(type) {
	case Data:
		return v
	case map[string]any:
		return Data(v)
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil && m != nil {
			return Data(m)
		}
		return Data{"data": v}
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err == nil && m != nil {
			return Data(m)
		}
		return Data{}
	case nil:
		return Data{}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Data{}
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil || m == nil {
			return Data{}
		}
		return Data(m)
	}
}

type PeersPayload struct {
	RoomID    string        `json:"roomId"`
	Peers     []models.Peer `json:"peers"`
	CreatorID string        `json:"creatorId"`
}

type UserJoinedPayload struct {
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	VideoOff   bool   `json:"videoOff"`
	AudioMuted bool   `json:"audioMuted"`
	CreatorID  string `json:"creatorId"`
}

type UserLeftPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SignalPayload carries exactly one of Offer, Answer or Candidate.
type SignalPayload struct {
	Offer          any    `json:"offer,omitempty"`
	Answer         any    `json:"answer,omitempty"`
	Candidate      any    `json:"candidate,omitempty"`
	SenderUserID   string `json:"senderUserId"`
	SenderUserName string `json:"senderUserName"`
}

type VideoStatusPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	VideoOff bool   `json:"videoOff"`
}

type AudioStatusPayload struct {
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	AudioMuted bool   `json:"audioMuted"`
}

type ScreenShareRequestPayload struct {
	RoomID        string `json:"roomId"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
}

type ApprovalPayload struct {
	RoomID       string `json:"roomId"`
	Approved     bool   `json:"approved"`
	ApproverName string `json:"approverName"`
	Error        string `json:"error,omitempty"`
}

type SharingUpdatePayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsSharing bool   `json:"isSharing"`
}

type ConflictPayload struct {
	RoomID                string `json:"roomId"`
	CurrentControllerID   string `json:"currentControllerId"`
	CurrentControllerName string `json:"currentControllerName"`
}

// ViewPayload carries either View or Scene.
type ViewPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	View     any    `json:"view,omitempty"`
	Scene    any    `json:"scene,omitempty"`
}

type CreatorInfoPayload struct {
	RoomID      string `json:"roomId"`
	CreatorID   string `json:"creatorId"`
	CreatorName string `json:"creatorName"`
}
