package main

import (
	"time"

	"github.com/sirupsen/logrus"
)

// attachResult reports what attach did so the Connection Manager can pick
// the right greeting (welcome / reconnect_success / reconnect_failed).
type attachResult struct {
	userID       string
	token        string
	priorRoomID  string
	reconnected  bool
	tokenInvalid bool // a token was presented but didn't match any known token
}

// attach implements SPEC_FULL.md §4.1 (carried from spec.md §4.1
// unchanged): rebind an existing identity if presentedToken names one,
// otherwise mint a fresh identity and token. A presented-but-unknown
// token is treated as no token for state purposes, but tokenInvalid is
// set so the caller can still surface reconnect_failed when the client
// explicitly asked to reconnect.
func (r *Registry) attach(sock *socket, presentedToken string) attachResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if presentedToken != "" {
		if tok, ok := r.tokensByValue[presentedToken]; ok {
			r.cancelTokenReap(tok)
			tok.sock = sock
			tok.lastSeen = time.Now()
			log.WithFields(logrus.Fields{
				"user_id": tok.userID, "room_id": tok.roomID,
			}).Debug("identity rebound from token")
			r.metrics.reconnects++
			return attachResult{
				userID:      tok.userID,
				token:       tok.value,
				priorRoomID: tok.roomID,
				reconnected: true,
			}
		}
	}

	userID := newUserID()
	tok := &token{
		value:    newToken(),
		userID:   userID,
		sock:     sock,
		lastSeen: time.Now(),
	}
	r.tokensByValue[tok.value] = tok
	r.tokensByUser[userID] = tok

	log.WithField("user_id", userID).Debug("identity minted")

	return attachResult{
		userID:       userID,
		token:        tok.value,
		tokenInvalid: presentedToken != "",
	}
}

// detach implements spec.md §4.1 detach: clear the socket, stamp
// last_seen, and schedule a one-shot reaper. Called with mu held by the
// caller's own lifecycle operation.
func (r *Registry) detach(tok *token) {
	tok.sock = nil
	tok.lastSeen = time.Now()
	r.scheduleTokenReap(tok)
}

// rebindSocketInRoom updates the live socket the Room Registry sees for
// userID, called after pairing and after a reconnect.
func (r *Registry) rebindSocketInRoom(userID string, sock *socket) {
	rid, ok := r.userRoom[userID]
	if !ok {
		return
	}
	rm, ok := r.rooms[rid]
	if !ok {
		delete(r.userRoom, userID)
		return
	}
	if m := rm.member(userID); m != nil {
		m.sock = sock
	}
}

// scheduleTokenReap arms a reaper that deletes tok after the configured
// idle TTL unless it has regained a socket or been cancelled. epoch
// guards against a reaper firing after being superseded by a later
// schedule/cancel, per the design notes' cancellable-one-shot pattern.
func (r *Registry) scheduleTokenReap(tok *token) {
	r.cancelTokenReap(tok)
	epoch := tok.reapEpoch
	tok.reapTimer = time.AfterFunc(r.cfg.TokenIdleTTL, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if tok.reapEpoch != epoch {
			return // superseded by a rebind or a later reap
		}
		if tok.sock != nil || tok.roomID != "" {
			return // predicate invalidated since the timer was armed
		}
		delete(r.tokensByValue, tok.value)
		delete(r.tokensByUser, tok.userID)
		r.metrics.tokenExpiries++
		log.WithField("user_id", tok.userID).Debug("token expired")
	})
}

func (r *Registry) cancelTokenReap(tok *token) {
	if tok.reapTimer != nil {
		tok.reapTimer.Stop()
		tok.reapTimer = nil
	}
	tok.reapEpoch++
}
