package models

import (
	"sort"
	"time"
)

// ShareState is the screen-share arbitration state of a room.
type ShareState string

const (
	ShareIdle      ShareState = "idle"
	ShareRequested ShareState = "requested"
	ShareActive    ShareState = "active"
)

// ScreenShareRequest is the single outstanding request of a room.
type ScreenShareRequest struct {
	RequesterID string    `json:"requesterId"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (r *Room) shareState() ShareState {
	switch {
	case r.ControllerID != "":
		return ShareActive
	case r.Pending != nil:
		return ShareRequested
	default:
		return ShareIdle
	}
}

func (d *Directory) ShareState(roomID string) ShareState {
	room, ok := d.rooms[roomID]
	if !ok {
		return ShareIdle
	}
	return room.shareState()
}

// Controller returns the current screen controller of roomID, if any.
func (d *Directory) Controller(roomID string) (string, bool) {
	room, ok := d.rooms[roomID]
	if !ok || room.ControllerID == "" {
		return "", false
	}
	return room.ControllerID, true
}

func (d *Directory) IsController(roomID, connID string) bool {
	id, ok := d.Controller(roomID)
	return ok && connID != "" && id == connID
}

func (d *Directory) IsApproved(roomID, connID string) bool {
	room, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, approved := room.approved[connID]
	return approved
}

type RequestResult int

const (
	// RequestForwarded means the request is pending and should reach the creator.
	RequestForwarded RequestResult = iota
	RequestConflict
	RequestNoCreator
	RequestInvalid
)

type RequestOutcome struct {
	Result       RequestResult
	CreatorID    string
	ControllerID string
	// Replaced is the requester whose pending request was overwritten.
	Replaced string
}

// RequestScreenShare records a pending request from requesterID.
func (d *Directory) RequestScreenShare(roomID, requesterID string) RequestOutcome {
	room, ok := d.rooms[roomID]
	if !ok {
		return RequestOutcome{Result: RequestInvalid}
	}
	if _, member := room.participants[requesterID]; !member {
		return RequestOutcome{Result: RequestInvalid, CreatorID: room.CreatorID}
	}
	if room.ControllerID != "" && room.ControllerID != requesterID {
		return RequestOutcome{Result: RequestConflict, CreatorID: room.CreatorID, ControllerID: room.ControllerID}
	}
	if _, live := d.registry.Lookup(room.CreatorID); !live {
		return RequestOutcome{Result: RequestNoCreator, CreatorID: room.CreatorID}
	}
	if _, member := room.participants[room.CreatorID]; !member {
		return RequestOutcome{Result: RequestNoCreator, CreatorID: room.CreatorID}
	}

	out := RequestOutcome{Result: RequestForwarded, CreatorID: room.CreatorID, ControllerID: room.ControllerID}
	if room.Pending != nil && room.Pending.RequesterID != requesterID {
		out.Replaced = room.Pending.RequesterID
	}
	room.Pending = &ScreenShareRequest{RequesterID: requesterID, RequestedAt: d.now()}
	return out
}

type ApprovalResult int

const (
	ApprovalGranted ApprovalResult = iota
	ApprovalDenied
	// ApprovalConflict means another connection took control meanwhile.
	ApprovalConflict
	ApprovalInvalid
)

type ApprovalOutcome struct {
	Result       ApprovalResult
	ControllerID string
}

// ResolveScreenShare applies the creator's decision on requesterID.
func (d *Directory) ResolveScreenShare(roomID, approverID, requesterID string, approved bool) ApprovalOutcome {
	room, ok := d.rooms[roomID]
	if !ok || room.CreatorID != approverID {
		return ApprovalOutcome{Result: ApprovalInvalid}
	}
	if _, member := room.participants[requesterID]; !member {
		return ApprovalOutcome{Result: ApprovalInvalid, ControllerID: room.ControllerID}
	}

	pendingFor := room.Pending != nil && room.Pending.RequesterID == requesterID
	if pendingFor {
		room.Pending = nil
	}
	if !approved {
		return ApprovalOutcome{Result: ApprovalDenied, ControllerID: room.ControllerID}
	}
	if room.ControllerID != "" && room.ControllerID != requesterID {
		return ApprovalOutcome{Result: ApprovalConflict, ControllerID: room.ControllerID}
	}

	room.approved[requesterID] = struct{}{}
	room.ControllerID = requesterID
	return ApprovalOutcome{Result: ApprovalGranted, ControllerID: requesterID}
}

type SharingResult int

const (
	SharingStarted SharingResult = iota
	// SharingStopped covers every isSharing=false push; Cleared tells
	// whether the sender actually was the controller.
	SharingStopped
	SharingConflict
	SharingUnauthorized
	SharingInvalid
)

type SharingOutcome struct {
	Result       SharingResult
	ControllerID string
	Cleared      bool
}

// SetSharing applies a direct sharing status push from connID.
func (d *Directory) SetSharing(roomID, connID string, isSharing bool) SharingOutcome {
	room, ok := d.rooms[roomID]
	if !ok {
		return SharingOutcome{Result: SharingInvalid}
	}
	if _, member := room.participants[connID]; !member {
		return SharingOutcome{Result: SharingInvalid, ControllerID: room.ControllerID}
	}

	if !isSharing {
		out := SharingOutcome{Result: SharingStopped}
		if room.ControllerID == connID {
			room.ControllerID = ""
			out.Cleared = true
		}
		out.ControllerID = room.ControllerID
		return out
	}

	if room.ControllerID != "" && room.ControllerID != connID {
		return SharingOutcome{Result: SharingConflict, ControllerID: room.ControllerID}
	}
	_, approved := room.approved[connID]
	if connID != room.CreatorID && !approved {
		return SharingOutcome{Result: SharingUnauthorized, ControllerID: room.ControllerID}
	}
	room.ControllerID = connID
	return SharingOutcome{Result: SharingStarted, ControllerID: connID}
}

// ExpiredRequest identifies a pending request dropped by ExpireRequests.
type ExpiredRequest struct {
	RoomID      string
	RequesterID string
}

// ExpireRequests drops every pending request made before cutoff.
func (d *Directory) ExpireRequests(cutoff time.Time) []ExpiredRequest {
	var expired []ExpiredRequest
	for id, room := range d.rooms {
		if room.Pending == nil || !room.Pending.RequestedAt.Before(cutoff) {
			continue
		}
		expired = append(expired, ExpiredRequest{RoomID: id, RequesterID: room.Pending.RequesterID})
		room.Pending = nil
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].RoomID < expired[j].RoomID })
	return expired
}
