package main

import (
	"sync"
	"time"
)

// socket wraps one live connection. The Connection Manager owns the
// underlying websocket.Conn; every other component only ever holds a
// *socket and must tolerate a write to it failing or being dropped.
type socket struct {
	conn    wsConn
	writeMu sync.Mutex
	closed  bool
}

// wsConn is the subset of *websocket.Conn the registry needs, so tests can
// substitute a fake without opening a real network connection.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

func newSocket(c wsConn) *socket {
	return &socket{conn: c}
}

// send best-effort writes an envelope to the peer. Failures are never
// propagated to the caller's own flow; the relay and lifecycle policies
// treat a write failure the same as an absent socket.
func (s *socket) send(env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	return s.conn.WriteJSON(env)
}

func (s *socket) close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}

// token is the Identity & Token Registry's record: a reconnect token bound
// 1:1 to a logical user_id, with its current socket (if any) and room (if
// any). See SPEC_FULL.md §3.
type token struct {
	value    string
	userID   string
	sock     *socket
	roomID   string
	lastSeen time.Time

	reapTimer *time.Timer
	reapEpoch int
}

// waitingEntry is one user parked in the matchmaking queue.
type waitingEntry struct {
	userID       string
	sock         *socket
	joinedAt     time.Time
	audioEnabled bool
	videoEnabled bool
}

// roomMember is one side of a paired room. audioEnabled/videoEnabled mirror
// the advisory flags the member last reported on find_partner
// (SPEC_FULL.md §9.1) — observability only, never consulted for pairing.
type roomMember struct {
	userID       string
	sock         *socket
	isInitiator  bool
	audioEnabled bool
	videoEnabled bool
}

// pairingSide is one identity about to become a roomMember: everything
// createRoomLocked needs for one side of a pairing, gathered before the
// initiator/responder roles are known.
type pairingSide struct {
	userID       string
	sock         *socket
	audioEnabled bool
	videoEnabled bool
}

// room binds exactly two identities for the duration of one paired
// session. See SPEC_FULL.md §3 invariants (a)-(c). Each room owns its own
// relay rate limiter (SPEC_FULL.md §10) so one noisy room can never eat
// into another room's signaling budget.
type room struct {
	id           string
	memberA      roomMember
	memberB      roomMember
	createdAt    time.Time
	relayLimiter *RateLimiter

	reapTimer *time.Timer
	reapEpoch int

	hardCapTimer *time.Timer
}

func (r *room) other(userID string) *roomMember {
	switch {
	case r.memberA.userID == userID:
		return &r.memberB
	case r.memberB.userID == userID:
		return &r.memberA
	default:
		return nil
	}
}

func (r *room) member(userID string) *roomMember {
	switch {
	case r.memberA.userID == userID:
		return &r.memberA
	case r.memberB.userID == userID:
		return &r.memberB
	default:
		return nil
	}
}

func (r *room) hasMember(userID string) bool {
	return r.member(userID) != nil
}

// metrics counts cumulative and point-in-time registry events. It is only
// ever touched while Registry.mu is held, so it needs no locking of its
// own, the same single-owner discipline as the rest of the registry.
type metrics struct {
	connections         int64
	pairsFormed         int64
	relayFrames         int64
	reconnects          int64
	tokenExpiries       int64
	roomExpiries        int64
	staleWaitersSkipped int64
	errors              int64
}

// Registry is the single logical owner of all signaling state: tokens,
// the waiting set/queue, and rooms. Every mutation to these maps happens
// while mu is held — a single mutex guarding the authoritative maps
// SPEC_FULL.md §5 names.
type Registry struct {
	mu sync.Mutex

	cfg Config

	tokensByValue map[string]*token
	tokensByUser  map[string]*token

	waitingSet   map[string]*waitingEntry
	waitingQueue []*waitingEntry

	rooms    map[string]*room
	userRoom map[string]string // user_id -> room_id, mirrors token.roomID

	metrics metrics

	presence *presenceCoalescer
	started  time.Time
}

// NewRegistry builds an empty Registry wired with cfg's timings.
func NewRegistry(cfg Config) *Registry {
	reg := &Registry{
		cfg:           cfg,
		tokensByValue: make(map[string]*token),
		tokensByUser:  make(map[string]*token),
		waitingSet:    make(map[string]*waitingEntry),
		rooms:         make(map[string]*room),
		userRoom:      make(map[string]string),
		started:       time.Now(),
	}
	reg.presence = newPresenceCoalescer(cfg.PresenceCoalesce, reg.broadcastUserCount)
	return reg
}

// broadcastUserCount sends the current live_user_count to every attached
// socket. Sends happen outside the registry lock so a slow or dead peer
// can never block the registry's own mutations.
func (r *Registry) broadcastUserCount() {
	r.mu.Lock()
	count := r.liveUserCountLocked()
	socks := make([]*socket, 0, len(r.tokensByValue))
	for _, t := range r.tokensByValue {
		if t.sock != nil {
			socks = append(socks, t.sock)
		}
	}
	r.mu.Unlock()

	env := Envelope{Type: msgUserCount, Count: count}
	for _, s := range socks {
		_ = s.send(env)
	}
}

// closeAll closes every attached socket with a normal close frame, used
// during graceful shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	socks := make([]*socket, 0, len(r.tokensByValue))
	for _, t := range r.tokensByValue {
		if t.sock != nil {
			socks = append(socks, t.sock)
		}
	}
	r.mu.Unlock()

	for _, s := range socks {
		s.close()
	}
}

// recordConnection counts one accepted WebSocket upgrade, regardless of
// whether the handshake that follows succeeds.
func (r *Registry) recordConnection() {
	r.mu.Lock()
	r.metrics.connections++
	r.mu.Unlock()
}

// recordError counts one client-facing error frame sent (spec.md §7's
// fatal-to-socket and client-recoverable categories).
func (r *Registry) recordError() {
	r.mu.Lock()
	r.metrics.errors++
	r.mu.Unlock()
}

// liveUserCount returns the number of tokens with an attached socket.
func (r *Registry) liveUserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveUserCountLocked()
}

func (r *Registry) liveUserCountLocked() int {
	n := 0
	for _, t := range r.tokensByValue {
		if t.sock != nil {
			n++
		}
	}
	return n
}

// Snapshot reports counters for the health and metrics endpoints.
type Snapshot struct {
	Tokens        int
	Waiting       int
	Rooms         int
	LiveUsers     int
	UptimeSeconds float64
	Connections   int64
	PairsFormed   int64
	RelayFrames   int64
	Reconnects    int64
	TokenExpiries int64
	RoomExpiries  int64
	Errors        int64
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Tokens:        len(r.tokensByValue),
		Waiting:       len(r.waitingSet),
		Rooms:         len(r.rooms),
		LiveUsers:     r.liveUserCountLocked(),
		UptimeSeconds: time.Since(r.started).Seconds(),
		Connections:   r.metrics.connections,
		PairsFormed:   r.metrics.pairsFormed,
		RelayFrames:   r.metrics.relayFrames,
		Reconnects:    r.metrics.reconnects,
		TokenExpiries: r.metrics.tokenExpiries,
		RoomExpiries:  r.metrics.roomExpiries,
		Errors:        r.metrics.errors,
	}
}
