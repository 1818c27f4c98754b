package main

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON body returned by GET /health: the counts
// spec.md §6 recommends (tokens, waiting, rooms, uptime).
type HealthResponse struct {
	Status        string  `json:"status"`
	Tokens        int     `json:"tokens"`
	Waiting       int     `json:"waiting"`
	Rooms         int     `json:"rooms"`
	LiveUsers     int     `json:"live_users"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthHandler responds to GET /health with a point-in-time snapshot.
func (reg *Registry) HealthHandler(w http.ResponseWriter, r *http.Request) {
	snap := reg.Snapshot()
	resp := HealthResponse{
		Status:        "ok",
		Tokens:        snap.Tokens,
		Waiting:       snap.Waiting,
		Rooms:         snap.Rooms,
		LiveUsers:     snap.LiveUsers,
		UptimeSeconds: snap.UptimeSeconds,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MetricsResponse is the JSON body returned by GET /metrics: cumulative
// counters for the events SPEC_FULL.md §4 names. No metrics client
// library appears anywhere in the example pack (see DESIGN.md), so this
// stays hand-rolled JSON rather than importing one speculatively.
type MetricsResponse struct {
	Connections   int64 `json:"connections"`
	PairsFormed   int64 `json:"pairs_formed"`
	RelayFrames   int64 `json:"relay_frames"`
	Reconnects    int64 `json:"reconnects"`
	TokenExpiries int64 `json:"token_expiries"`
	RoomExpiries  int64 `json:"room_expiries"`
	Errors        int64 `json:"errors"`
	ActiveRooms   int   `json:"active_rooms"`
	ActiveWaiting int   `json:"active_waiting"`
}

// MetricsHandler responds to GET /metrics with cumulative counters.
func (reg *Registry) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	snap := reg.Snapshot()
	resp := MetricsResponse{
		Connections:   snap.Connections,
		PairsFormed:   snap.PairsFormed,
		RelayFrames:   snap.RelayFrames,
		Reconnects:    snap.Reconnects,
		TokenExpiries: snap.TokenExpiries,
		RoomExpiries:  snap.RoomExpiries,
		Errors:        snap.Errors,
		ActiveRooms:   snap.Rooms,
		ActiveWaiting: snap.Waiting,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
