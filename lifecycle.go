package main

// handleDisconnect implements spec.md §4.5's disconnect sequence: detach
// the token, drop any waiting-set membership, and — if the user was in a
// room — notify the partner and arm the reconnect-grace reaper. sock is
// the socket whose read loop is exiting; if the token has already been
// rebound to a newer socket, this is a stale close and must not touch the
// live socket's state (spec.md §8's rebind scenario: only the latest
// socket is authoritative).
func (r *Registry) handleDisconnect(userID string, sock *socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokensByUser[userID]
	if !ok || tok.sock != sock {
		return
	}
	r.detach(tok)
	r.removeFromWaitingLocked(userID)

	if rid, ok := r.userRoom[userID]; ok {
		if rm, ok := r.rooms[rid]; ok {
			if other := rm.other(userID); other != nil && other.sock != nil {
				_ = other.sock.send(Envelope{Type: msgPartnerDisconnect, Room: rm.id, PartnerID: userID})
			}
			r.scheduleRoomReap(rm)
		}
	}

	r.presence.trigger()
}

// handleReconnect implements spec.md §4.5's reconnect path: rebind the
// socket inside the prior room (if it still exists), cancel that room's
// pending reaper, and notify the partner the peer is back.
func (r *Registry) handleReconnect(userID string, sock *socket, priorRoomID string) (roomExists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rebindSocketInRoom(userID, sock)

	if priorRoomID == "" {
		return false
	}
	rm, ok := r.rooms[priorRoomID]
	if !ok {
		return false
	}
	r.cancelRoomReap(rm)
	if other := rm.other(userID); other != nil && other.sock != nil {
		_ = other.sock.send(Envelope{Type: msgPartnerReconnect, Room: rm.id, PartnerID: userID})
	}
	r.presence.trigger()
	return true
}
