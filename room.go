package main

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// createRoomLocked implements spec.md §4.4 create_room: both tokens'
// room_id is set atomically with room insertion, and a hard-age reaper is
// armed as the leak safety net spec.md §4.5 requires. audio/video flags
// are carried onto each roomMember for observability only (SPEC_FULL.md
// §9.1) — they never influence pairing.
func (r *Registry) createRoomLocked(initiator, responder pairingSide) *room {
	rm := &room{
		id: newRoomID(),
		memberA: roomMember{
			userID: initiator.userID, sock: initiator.sock, isInitiator: true,
			audioEnabled: initiator.audioEnabled, videoEnabled: initiator.videoEnabled,
		},
		memberB: roomMember{
			userID: responder.userID, sock: responder.sock, isInitiator: false,
			audioEnabled: responder.audioEnabled, videoEnabled: responder.videoEnabled,
		},
		createdAt:    time.Now(),
		relayLimiter: NewRateLimiter(r.cfg.RelayRateLimit),
	}
	r.rooms[rm.id] = rm
	r.userRoom[initiator.userID] = rm.id
	r.userRoom[responder.userID] = rm.id
	if tok, ok := r.tokensByUser[initiator.userID]; ok {
		tok.roomID = rm.id
	}
	if tok, ok := r.tokensByUser[responder.userID]; ok {
		tok.roomID = rm.id
	}
	r.scheduleHardCap(rm)

	log.WithFields(logrus.Fields{
		"room_id": rm.id, "initiator": initiator.userID, "responder": responder.userID,
	}).Info("room created")
	return rm
}

// notifyRoomAssignedLocked sends room_assigned to both members. A failed
// write to one side never affects the other (spec.md §7).
func (r *Registry) notifyRoomAssignedLocked(rm *room) {
	if rm.memberA.sock != nil {
		_ = rm.memberA.sock.send(Envelope{
			Type: msgRoomAssigned, Room: rm.id, Role: roleInitiator, PartnerID: rm.memberB.userID,
		})
	}
	if rm.memberB.sock != nil {
		_ = rm.memberB.sock.send(Envelope{
			Type: msgRoomAssigned, Room: rm.id, Role: roleResponder, PartnerID: rm.memberA.userID,
		})
	}
}

// joinRoom implements spec.md §4.4 join_room.
func (r *Registry) joinRoom(userID, roomID string, sock *socket) Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Envelope{Type: msgJoinFailed, Reason: reasonNoRoom}
	}
	m := rm.member(userID)
	if m == nil {
		return Envelope{Type: msgJoinFailed, Reason: reasonNotAuthorized}
	}

	m.sock = sock
	role := roleResponder
	if m.isInitiator {
		role = roleInitiator
	}
	other := rm.other(userID)
	partnerID := ""
	if other != nil {
		partnerID = other.userID
	}
	return Envelope{Type: msgRoomJoined, Room: roomID, Role: role, PartnerID: partnerID}
}

// relay implements spec.md §4.4 relay. The sender's token -> room binding
// is the sole authority; any room_id carried in the inbound frame is
// advisory and ignored, per spec.md §4.4's authorization note.
func (r *Registry) relay(senderUserID string, kind signalKind, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokensByUser[senderUserID]
	if !ok || tok.roomID == "" {
		log.WithField("user_id", senderUserID).Debug("relay dropped: sender not in a room")
		return
	}
	rm, ok := r.rooms[tok.roomID]
	if !ok {
		// Registry inconsistency (spec.md §7): reconcile by clearing the stale field.
		tok.roomID = ""
		return
	}
	other := rm.other(senderUserID)
	if other == nil || other.sock == nil {
		return // relay-drop: absent or unwritable target, never an error
	}

	if !rm.relayLimiter.Allow(len(payload)) {
		log.WithField("room_id", rm.id).Debug("relay dropped: rate limit exceeded")
		return
	}

	env := Envelope{Type: string(kind), SenderID: senderUserID}
	switch kind {
	case kindOffer:
		env.Offer = payload
	case kindAnswer:
		env.Answer = payload
	case kindICECandidate:
		env.Candidate = payload
	}
	if err := other.sock.send(env); err != nil {
		log.WithField("room_id", rm.id).Debug("relay write failed, dropping")
		return
	}
	r.metrics.relayFrames++
}

// requestReoffer implements SPEC_FULL.md §9's resolution: only a
// responder may ask for a fresh offer, and only the initiator ever
// receives the request.
func (r *Registry) requestReoffer(requesterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokensByUser[requesterID]
	if !ok || tok.roomID == "" {
		return
	}
	rm, ok := r.rooms[tok.roomID]
	if !ok {
		tok.roomID = ""
		return
	}
	requester := rm.member(requesterID)
	if requester == nil || requester.isInitiator {
		log.WithField("user_id", requesterID).Debug("request_reoffer rejected: requester is the initiator")
		return
	}
	initiator := rm.other(requesterID)
	if initiator == nil || initiator.sock == nil {
		return
	}
	_ = initiator.sock.send(Envelope{Type: msgRequestReoffer, Room: rm.id, Requester: requesterID})
}

// skip implements spec.md §4.4 skip.
func (r *Registry) skip(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rid, ok := r.userRoom[userID]; ok {
		rm, ok := r.rooms[rid]
		if ok {
			if other := rm.other(userID); other != nil && other.sock != nil {
				_ = other.sock.send(Envelope{Type: msgPartnerSkipped})
			}
			r.deleteRoomLocked(rm)
		}
		r.presence.trigger()
		return
	}

	if r.removeFromWaitingLocked(userID) {
		r.presence.trigger()
	}
}

// deleteRoomLocked tears down a room's bookkeeping: both timers, both
// indices, and both tokens' room_id. A member who is already detached
// (no socket) loses the room_id that was the only thing keeping its
// token reaper from firing (identity.go's scheduleTokenReap no-ops while
// room_id is set without re-arming itself) — so any such member's token
// reaper is re-armed here, or it would never be reaped again.
func (r *Registry) deleteRoomLocked(rm *room) {
	r.cancelRoomReap(rm)
	r.cancelHardCap(rm)
	delete(r.rooms, rm.id)
	delete(r.userRoom, rm.memberA.userID)
	delete(r.userRoom, rm.memberB.userID)
	if tok, ok := r.tokensByUser[rm.memberA.userID]; ok {
		tok.roomID = ""
		if tok.sock == nil {
			r.scheduleTokenReap(tok)
		}
	}
	if tok, ok := r.tokensByUser[rm.memberB.userID]; ok {
		tok.roomID = ""
		if tok.sock == nil {
			r.scheduleTokenReap(tok)
		}
	}
}

// scheduleRoomReap arms the post-disconnect grace-window reaper (spec.md
// §4.5 point 3): if both members are still absent when it fires, the room
// is deleted exactly once.
func (r *Registry) scheduleRoomReap(rm *room) {
	r.cancelRoomReap(rm)
	epoch := rm.reapEpoch
	rm.reapTimer = time.AfterFunc(r.cfg.RoomReconnectTTL, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if rm.reapEpoch != epoch {
			return
		}
		if cur, ok := r.rooms[rm.id]; !ok || cur != rm {
			return
		}
		if rm.memberA.sock != nil || rm.memberB.sock != nil {
			return // someone reconnected since the reaper was armed
		}
		r.metrics.roomExpiries++
		log.WithField("room_id", rm.id).Debug("room reaped after reconnect grace window")
		r.deleteRoomLocked(rm)
	})
}

func (r *Registry) cancelRoomReap(rm *room) {
	if rm.reapTimer != nil {
		rm.reapTimer.Stop()
		rm.reapTimer = nil
	}
	rm.reapEpoch++
}

// scheduleHardCap arms spec.md §4.5's hard room-age cap: a safety net
// that force-deletes the room regardless of member state.
func (r *Registry) scheduleHardCap(rm *room) {
	rm.hardCapTimer = time.AfterFunc(r.cfg.RoomHardCap, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.rooms[rm.id]; !ok || cur != rm {
			return
		}
		r.metrics.roomExpiries++
		log.WithField("room_id", rm.id).Warn("room force-deleted at hard age cap")
		r.deleteRoomLocked(rm)
	})
}

func (r *Registry) cancelHardCap(rm *room) {
	if rm.hardCapTimer != nil {
		rm.hardCapTimer.Stop()
		rm.hardCapTimer = nil
	}
}
