package handlers

func (h *Handler) handleJoin(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventJoin, connID, err)
		return
	}
	roomID := data.String("roomId")
	name := data.String("userName")
	videoOff := data.Bool("videoOff")
	audioMuted := data.Bool("audioMuted")

	h.registry.Join(connID, name, videoOff, audioMuted)
	res := h.rooms.Join(roomID, connID)

	if !res.AlreadyMember {
		h.relay.Publish(roomID, connID, EventNewUserJoined, UserJoinedPayload{
			RoomID:     roomID,
			UserID:     connID,
			UserName:   name,
			VideoOff:   videoOff,
			AudioMuted: audioMuted,
			CreatorID:  res.CreatorID,
		})
		h.relay.Subscribe(roomID, connID)
	}

	h.relay.Send(connID, EventExistingPeers, PeersPayload{
		RoomID:    roomID,
		Peers:     res.Peers,
		CreatorID: res.CreatorID,
	})

	// Latecomers learn about sharing that is already in progress.
	if res.ControllerID != "" && res.ControllerID != connID {
		h.relay.Send(connID, EventScreenSharingUpdate, SharingUpdatePayload{
			RoomID:    roomID,
			UserID:    res.ControllerID,
			UserName:  h.registry.Name(res.ControllerID),
			IsSharing: true,
		})
	}

	h.logger.Info("user joined room",
		"room_id", roomID,
		"conn_id", connID,
		"user_name", name,
		"created", res.Created,
		"rejoin", res.AlreadyMember,
		"participants", len(res.Peers)+1,
	)
}

func (h *Handler) handleLeave(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventLeave, connID, err)
		return
	}
	h.leaveRoom(data.String("roomId"), connID)
	if len(h.rooms.RoomsOf(connID)) == 0 {
		h.registry.Remove(connID)
	}
}

// leaveRoom runs the departure cascade for one room.
func (h *Handler) leaveRoom(roomID, connID string) {
	name := h.registry.Name(connID)
	res, ok := h.rooms.Leave(roomID, connID)
	if !ok {
		h.logger.Debug("leave ignored", "room_id", roomID, "conn_id", connID)
		return
	}
	h.relay.Unsubscribe(roomID, connID)

	if res.WasController {
		h.relay.Publish(roomID, connID, EventScreenSharingUpdate, SharingUpdatePayload{
			RoomID:    roomID,
			UserID:    connID,
			UserName:  name,
			IsSharing: false,
		})
	}
	h.relay.Publish(roomID, connID, EventUserLeft, UserLeftPayload{
		RoomID:   roomID,
		UserID:   connID,
		UserName: name,
	})

	h.logger.Info("user left room",
		"room_id", roomID,
		"conn_id", connID,
		"user_name", name,
		"was_controller", res.WasController,
		"dropped_request", res.DroppedRequest,
		"remaining", res.Remaining,
	)
	if res.RoomDeleted {
		h.logger.Info("room deleted", "room_id", roomID)
	}
}

func (h *Handler) handleCreatorInfo(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventCreatorInfoRequest, connID, err)
		return
	}
	roomID := data.String("roomId")
	creatorID, ok := h.rooms.Creator(roomID)
	if !ok {
		h.logger.Debug("creator info for unknown room", "room_id", roomID, "conn_id", connID)
		return
	}
	h.relay.Send(connID, EventCreatorInfo, CreatorInfoPayload{
		RoomID:      roomID,
		CreatorID:   creatorID,
		CreatorName: h.registry.Name(creatorID),
	})
}
