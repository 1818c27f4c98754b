package main

import "encoding/json"

// Message types sent from client to server.
const (
	msgHello          = "hello"
	msgFindPartner    = "find_partner"
	msgJoinRoom       = "join_room"
	msgSkip           = "skip"
	msgOffer          = "offer"
	msgAnswer         = "answer"
	msgICECandidate   = "ice-candidate"
	msgRequestReoffer = "request_reoffer"
)

// Message types sent from server to client.
const (
	msgWelcome           = "welcome"
	msgReconnectSuccess  = "reconnect_success"
	msgReconnectFailed   = "reconnect_failed"
	msgRoomAssigned      = "room_assigned"
	msgRoomJoined        = "room_joined"
	msgJoinFailed        = "join_failed"
	msgPartnerSkipped    = "partner_skipped"
	msgPartnerDisconnect = "partner_disconnected"
	msgPartnerReconnect  = "partner_reconnected"
	msgUserCount         = "user_count"
	msgError             = "error"
)

// Roles assigned to room members.
const (
	roleInitiator = "initiator"
	roleResponder = "responder"
)

// join_failed reasons.
const (
	reasonNoRoom        = "no_room"
	reasonNotAuthorized = "not_authorized"
)

// signalKind names the relayable signaling payload kinds. The room_id
// carried alongside a signal frame is advisory only; the authoritative
// room binding comes from the sender's token, never from this field.
type signalKind string

const (
	kindOffer        signalKind = msgOffer
	kindAnswer       signalKind = msgAnswer
	kindICECandidate signalKind = msgICECandidate
)

// Envelope is the wire format for every frame in both directions: a
// discriminator tag plus whatever fields that tag defines. Unknown tags
// are ignored by the Connection Manager, never treated as fatal.
type Envelope struct {
	Type string `json:"type"`

	// hello
	Token string `json:"token,omitempty"`

	// find_partner (advisory only, never affects pairing order)
	AudioEnabled *bool `json:"audio_enabled,omitempty"`
	VideoEnabled *bool `json:"video_enabled,omitempty"`

	// join_room / offer / answer / ice-candidate / request_reoffer
	Room string `json:"room,omitempty"`

	// offer / answer / ice-candidate (opaque to the server)
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// server -> client identity/pairing fields
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
	Requester string `json:"requester,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Count     int    `json:"count,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
