package main

import "time"

// findPartner implements spec.md §4.3 find_partner. If the user is
// already paired or already waiting, this is a silent no-op (the
// idempotence law of §8). Otherwise it either pairs with the oldest live
// waiter or enqueues the requester.
func (r *Registry) findPartner(userID string, sock *socket, audioEnabled, videoEnabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, inRoom := r.userRoom[userID]; inRoom {
		return
	}
	if _, waiting := r.waitingSet[userID]; waiting {
		return
	}

	if partner, ok := r.popLiveWaiterLocked(); ok {
		requester := pairingSide{userID: userID, sock: sock, audioEnabled: audioEnabled, videoEnabled: videoEnabled}
		r.pairLocked(requester, partner)
		return
	}

	entry := &waitingEntry{
		userID:       userID,
		sock:         sock,
		joinedAt:     time.Now(),
		audioEnabled: audioEnabled,
		videoEnabled: videoEnabled,
	}
	r.waitingSet[userID] = entry
	r.waitingQueue = append(r.waitingQueue, entry)
	r.presence.trigger()
}

// popLiveWaiterLocked pops from the head of the queue until it finds an
// entry still present in the waiting set whose identity currently has a
// live socket, or exhausts the queue. Stale entries are dropped silently
// (spec §4.3 race policy, §8 boundary behavior).
func (r *Registry) popLiveWaiterLocked() (*waitingEntry, bool) {
	for len(r.waitingQueue) > 0 {
		entry := r.waitingQueue[0]
		r.waitingQueue = r.waitingQueue[1:]

		if _, ok := r.waitingSet[entry.userID]; !ok {
			continue // already removed by skip/disconnect
		}
		delete(r.waitingSet, entry.userID)

		tok, ok := r.tokensByUser[entry.userID]
		if !ok || tok.sock == nil {
			r.metrics.staleWaitersSkipped++
			continue
		}
		return entry, true
	}
	return nil, false
}

// removeFromWaitingLocked removes userID from both the set and the queue.
// O(n) scan, acceptable per spec §4.3 since the queue is small.
func (r *Registry) removeFromWaitingLocked(userID string) bool {
	if _, ok := r.waitingSet[userID]; !ok {
		return false
	}
	delete(r.waitingSet, userID)
	for i, e := range r.waitingQueue {
		if e.userID == userID {
			r.waitingQueue = append(r.waitingQueue[:i], r.waitingQueue[i+1:]...)
			break
		}
	}
	return true
}

// removeFromWaiting is the locking entry point for callers outside the
// registry (skip handling lives in room.go and calls the Locked variant
// directly while already holding mu).
func (r *Registry) removeFromWaiting(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeFromWaitingLocked(userID)
}

// assignRoles breaks ties deterministically so both clients agree on
// initiator/responder without a round trip: earlier joined_at wins,
// ties broken by the lexicographically smaller user_id.
func assignRoles(aID string, aJoined time.Time, bID string, bJoined time.Time) (initiatorID, responderID string) {
	switch {
	case aJoined.Before(bJoined):
		return aID, bID
	case bJoined.Before(aJoined):
		return bID, aID
	case aID < bID:
		return aID, bID
	default:
		return bID, aID
	}
}

// pairLocked creates a room between the requester and a popped waiter,
// assigns roles, and notifies both.
func (r *Registry) pairLocked(requester pairingSide, partner *waitingEntry) {
	partnerSide := pairingSide{
		userID: partner.userID, sock: partner.sock,
		audioEnabled: partner.audioEnabled, videoEnabled: partner.videoEnabled,
	}

	initID, _ := assignRoles(requester.userID, time.Now(), partner.userID, partner.joinedAt)

	initiator, responder := requester, partnerSide
	if initID != requester.userID {
		initiator, responder = partnerSide, requester
	}

	rm := r.createRoomLocked(initiator, responder)
	r.metrics.pairsFormed++
	r.notifyRoomAssignedLocked(rm)
	r.presence.trigger()
}
