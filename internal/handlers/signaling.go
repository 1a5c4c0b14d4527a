package handlers

func (h *Handler) handleOffer(connID string, data Data) {
	h.relaySignal(EventOffer, connID, data, func(p *SignalPayload) { p.Offer = data["offer"] })
}

func (h *Handler) handleAnswer(connID string, data Data) {
	h.relaySignal(EventAnswer, connID, data, func(p *SignalPayload) { p.Answer = data["answer"] })
}

func (h *Handler) handleICECandidate(connID string, data Data) {
	if !data.Present("candidate") {
		return
	}
	h.relaySignal(EventICECandidate, connID, data, func(p *SignalPayload) { p.Candidate = data["candidate"] })
}

// relaySignal forwards a negotiation message to targetUserId, tagged with
// the sender.
func (h *Handler) relaySignal(event, connID string, data Data, fill func(*SignalPayload)) {
	if err := data.require("targetUserId"); err != nil {
		h.dropInvalid(event, connID, err)
		return
	}
	target := data.String("targetUserId")
	p := SignalPayload{
		SenderUserID:   connID,
		SenderUserName: h.nameOf(connID, data, "userName"),
	}
	fill(&p)

	if !h.relay.Send(target, event, p) {
		h.logger.Info("signal target not connected", "event", event, "conn_id", connID, "target_id", target)
		return
	}
	h.logger.Debug("signal relayed", "event", event, "conn_id", connID, "target_id", target)
}

func (h *Handler) handleVideoStatus(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventVideoStatus, connID, err)
		return
	}
	roomID := data.String("roomId")
	videoOff := data.Bool("videoOff")
	h.registry.UpdateVideo(connID, videoOff)

	h.relay.Publish(roomID, connID, EventVideoStatus, VideoStatusPayload{
		RoomID:   roomID,
		UserID:   connID,
		UserName: h.nameOf(connID, data, "userName"),
		VideoOff: videoOff,
	})
}

func (h *Handler) handleAudioStatus(connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(EventAudioStatus, connID, err)
		return
	}
	roomID := data.String("roomId")
	audioMuted := data.Bool("audioMuted")
	h.registry.UpdateAudio(connID, audioMuted)

	h.relay.Publish(roomID, connID, EventAudioStatus, AudioStatusPayload{
		RoomID:     roomID,
		UserID:     connID,
		UserName:   h.nameOf(connID, data, "userName"),
		AudioMuted: audioMuted,
	})
}

// handleBroadcast forwards presentation events (cursor, actions, url, tour
// state) unchanged to the rest of the room, tagged with the sender id. The
// sender need not be a member.
func (h *Handler) handleBroadcast(event, connID string, data Data) {
	if err := data.require("roomId"); err != nil {
		h.dropInvalid(event, connID, err)
		return
	}
	roomID := data.String("roomId")
	if !h.rooms.IsMember(roomID, connID) {
		h.logger.Debug("broadcast from non-member", "event", event, "room_id", roomID, "conn_id", connID)
	}
	h.relay.Publish(roomID, connID, event, data.with("userId", connID))
}
