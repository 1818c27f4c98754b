package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler owns one logical connection's state machine, from
// OPEN through the hello handshake, find_partner/join_room/skip/relay
// dispatch, to CLOSED.
func (reg *Registry) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("upgrade failed")
		return
	}
	reg.recordConnection()

	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		log.WithError(err).Debug("read hello failed")
		conn.Close()
		return
	}
	if hello.Type != msgHello {
		reg.recordError()
		sendErrorConn(conn, "INVALID_MESSAGE", "first message must be hello")
		conn.Close()
		return
	}

	sock := newSocket(conn)
	result := reg.attach(sock, hello.Token)

	switch {
	case result.tokenInvalid:
		_ = sock.send(Envelope{Type: msgReconnectFailed})
		_ = sock.send(Envelope{Type: msgWelcome, UserID: result.userID, Token: result.token})
	case result.reconnected:
		roomExists := reg.handleReconnect(result.userID, sock, result.priorRoomID)
		room := ""
		if roomExists {
			room = result.priorRoomID
		}
		_ = sock.send(Envelope{Type: msgReconnectSuccess, UserID: result.userID, Room: room})
	default:
		_ = sock.send(Envelope{Type: msgWelcome, UserID: result.userID, Token: result.token})
	}

	reg.presence.trigger()
	reg.readLoop(sock, result.userID)
}

// readLoop is the per-socket message-forwarding loop. It never blocks on
// another socket's I/O: every dispatch below either mutates the registry
// under its own short-held lock or does a best-effort write.
func (reg *Registry) readLoop(sock *socket, userID string) {
	defer func() {
		reg.handleDisconnect(userID, sock)
		sock.close()
		reg.presence.trigger()
	}()

	for {
		var msg Envelope
		if err := sock.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("user_id", userID).WithError(err).Debug("read error")
			}
			return
		}

		switch msg.Type {
		case msgFindPartner:
			audio, video := false, false
			if msg.AudioEnabled != nil {
				audio = *msg.AudioEnabled
			}
			if msg.VideoEnabled != nil {
				video = *msg.VideoEnabled
			}
			reg.findPartner(userID, sock, audio, video)

		case msgJoinRoom:
			resp := reg.joinRoom(userID, msg.Room, sock)
			_ = sock.send(resp)

		case msgSkip:
			reg.skip(userID)

		case msgOffer:
			reg.relay(userID, kindOffer, msg.Offer)

		case msgAnswer:
			reg.relay(userID, kindAnswer, msg.Answer)

		case msgICECandidate:
			reg.relay(userID, kindICECandidate, msg.Candidate)

		case msgRequestReoffer:
			reg.requestReoffer(userID)

		case msgHello:
			// A reconnect already happened at connect time; a second
			// hello on an already-identified socket is a no-op.

		default:
			log.WithField("user_id", userID).WithField("type", msg.Type).Debug("unknown message type, ignoring")
		}
	}
}

func sendErrorConn(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(Envelope{Type: msgError, Code: code, Message: message})
}
