package handlers

import (
	"time"

	"github.com/biswa/tourcall-signal/internal/models"
)

const (
	errCreatorUnavailable = "room creator is not connected"
	errAlreadySharing     = "screen is already being shared"
	errRequestExpired     = "request expired"
)

func (h *Handler) handleScreenShareRequest(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventScreenShareRequest, connID, err)
		return
	}
	roomID := data.String("roomId")
	if claimed := data.String("requesterId"); claimed != "" && claimed != connID {
		h.logger.Warn("requester id does not match connection", "room_id", roomID, "conn_id", connID, "claimed", claimed)
	}
	name := h.nameOf(connID, data, "requesterName")

	out := h.rooms.RequestScreenShare(roomID, connID)
	switch out.Result {
	case models.RequestConflict:
		h.sendConflict(roomID, connID, out.ControllerID)
	case models.RequestNoCreator:
		h.logger.Warn("screen share request without live creator", "room_id", roomID, "conn_id", connID, "creator_id", out.CreatorID)
		h.relay.Send(connID, EventScreenShareResponse, ApprovalPayload{
			RoomID:   roomID,
			Approved: false,
			Error:    errCreatorUnavailable,
		})
	case models.RequestInvalid:
		h.logger.Info("dropping screen share request", "room_id", roomID, "conn_id", connID)
	case models.RequestForwarded:
		if out.Replaced != "" {
			h.logger.Info("pending screen share request replaced", "room_id", roomID, "previous", out.Replaced, "conn_id", connID)
		}
		h.relay.Send(out.CreatorID, EventScreenShareRequest, ScreenShareRequestPayload{
			RoomID:        roomID,
			RequesterID:   connID,
			RequesterName: name,
		})
		h.logger.Info("screen share requested", "room_id", roomID, "conn_id", connID, "creator_id", out.CreatorID)
	}
}

func (h *Handler) handleScreenShareResponse(connID string, data Data) {
	if err := data.require("roomId", "requesterId"); err != nil {
		h.dropInvalid(EventScreenShareResponse, connID, err)
		return
	}
	roomID := data.String("roomId")
	requesterID := data.String("requesterId")
	approved := data.Bool("approved")
	approverName := h.nameOf(connID, data, "approverName")

	out := h.rooms.ResolveScreenShare(roomID, connID, requesterID, approved)
	reply := ApprovalPayload{RoomID: roomID, ApproverName: approverName}

	switch out.Result {
	case models.ApprovalInvalid:
		h.logger.Warn("dropping screen share approval", "room_id", roomID, "conn_id", connID, "requester_id", requesterID)
	case models.ApprovalDenied:
		h.relay.Send(requesterID, EventScreenShareResponse, reply)
		h.logger.Info("screen share denied", "room_id", roomID, "requester_id", requesterID)
	case models.ApprovalConflict:
		reply.Error = errAlreadySharing
		h.relay.Send(requesterID, EventScreenShareResponse, reply)
		h.sendConflict(roomID, requesterID, out.ControllerID)
	case models.ApprovalGranted:
		reply.Approved = true
		h.relay.Send(requesterID, EventScreenShareResponse, reply)
		h.relay.Publish(roomID, requesterID, EventScreenSharingUpdate, SharingUpdatePayload{
			RoomID:    roomID,
			UserID:    requesterID,
			UserName:  h.registry.Name(requesterID),
			IsSharing: true,
		})
		h.logger.Info("screen share approved", "room_id", roomID, "requester_id", requesterID)
	}
}

func (h *Handler) handleScreenSharing(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventScreenSharingUpdate, connID, err)
		return
	}
	roomID := data.String("roomId")
	isSharing := data.Bool("isSharing")
	name := h.nameOf(connID, data, "userName")

	out := h.rooms.SetSharing(roomID, connID, isSharing)
	switch out.Result {
	case models.SharingInvalid:
		h.logger.Info("dropping sharing update", "room_id", roomID, "conn_id", connID)
		return
	case models.SharingConflict:
		h.sendConflict(roomID, connID, out.ControllerID)
		return
	case models.SharingUnauthorized:
		h.logger.Warn("unauthorized sharing attempt", "room_id", roomID, "conn_id", connID)
		return
	}

	h.relay.Publish(roomID, connID, EventScreenSharingUpdate, SharingUpdatePayload{
		RoomID:    roomID,
		UserID:    connID,
		UserName:  name,
		IsSharing: out.Result == models.SharingStarted,
	})
	h.logger.Info("sharing status", "room_id", roomID, "conn_id", connID, "is_sharing", isSharing, "cleared", out.Cleared)
}

func (h *Handler) handleViewUpdate(connID string, data Data) {
	h.controllerBroadcast(EventViewUpdate, connID, data, func(p *ViewPayload) { p.View = data["view"] })
}

func (h *Handler) handleSceneUpdate(connID string, data Data) {
	h.controllerBroadcast(EventSceneUpdate, connID, data, func(p *ViewPayload) { p.Scene = data["scene"] })
}

// controllerBroadcast relays shared view state, but only from the room's
// current screen controller.
func (h *Handler) controllerBroadcast(event, connID string, data Data, fill func(*ViewPayload)) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(event, connID, err)
		return
	}
	roomID := data.String("roomId")
	if !h.rooms.IsController(roomID, connID) {
		h.logger.Info("dropping update from non-controller", "event", event, "room_id", roomID, "conn_id", connID)
		return
	}
	p := ViewPayload{
		RoomID:   roomID,
		UserID:   connID,
		UserName: h.nameOf(connID, data, "userName"),
	}
	fill(&p)
	h.relay.Publish(roomID, connID, event, p)
}

func (h *Handler) sendConflict(roomID, connID, controllerID string) {
	h.relay.Send(connID, EventSharingConflict, ConflictPayload{
		RoomID:                roomID,
		CurrentControllerID:   controllerID,
		CurrentControllerName: h.registry.Name(controllerID),
	})
	h.logger.Info("screen share conflict", "room_id", roomID, "conn_id", connID, "controller_id", controllerID)
}

func (h *Handler) expireRequests(cutoff time.Time) int {
	expired := h.rooms.ExpireRequests(cutoff)
	for _, e := range expired {
		h.relay.Send(e.RequesterID, EventScreenShareResponse, ApprovalPayload{
			RoomID:   e.RoomID,
			Approved: false,
			Error:    errRequestExpired,
		})
		h.logger.Info("screen share request expired", "room_id", e.RoomID, "requester_id", e.RequesterID)
	}
	return len(expired)
}
