package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig() Config {
	return Config{
		Addr:             ":0",
		TokenIdleTTL:     5 * time.Minute,
		RoomReconnectTTL: 2 * time.Minute,
		RoomHardCap:      10 * time.Minute,
		PresenceCoalesce: time.Millisecond, // fire-on-every-event for deterministic tests
		RelayRateLimit:   10 * 1024 * 1024,
		LogLevel:         "fatal",
	}
}

// newTestServer wires a Registry's handlers onto an httptest.Server.
func newTestServer(t *testing.T, cfg Config) (*Registry, *httptest.Server) {
	t.Helper()
	reg := NewRegistry(cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", reg.WebSocketHandler)
	mux.HandleFunc("GET /health", reg.HealthHandler)
	mux.HandleFunc("GET /metrics", reg.MetricsHandler)
	ts := httptest.NewServer(mux)
	return reg, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func sendHello(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{Type: msgHello, Token: token}); err != nil {
		t.Fatalf("send hello failed: %v", err)
	}
}

// readMsg reads the next frame that isn't a user_count broadcast. The
// server broadcasts user_count on every connect/pair/skip/disconnect, so
// tests that assert on a specific reply would otherwise race against it.
func readMsg(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	for {
		var msg Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("readMsg failed: %v", err)
		}
		if msg.Type == msgUserCount {
			continue
		}
		return msg
	}
}

// expectNoMessage asserts that no frame other than a user_count broadcast
// arrives on conn within the given window.
func expectNoMessage(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		conn.SetReadDeadline(deadline)
		var msg Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != msgUserCount {
			t.Fatalf("expected no message, got %s", msg.Type)
		}
	}
}

func connectFresh(t *testing.T, ts *httptest.Server) (*websocket.Conn, Envelope) {
	t.Helper()
	conn := dialWS(t, ts)
	sendHello(t, conn, "")
	welcome := readMsg(t, conn)
	if welcome.Type != msgWelcome {
		t.Fatalf("expected welcome, got %s", welcome.Type)
	}
	return conn, welcome
}

func findPartner(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{Type: msgFindPartner}); err != nil {
		t.Fatalf("send find_partner failed: %v", err)
	}
}

func TestBasicPair(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a, welcomeA := connectFresh(t, ts)
	defer a.Close()
	b, welcomeB := connectFresh(t, ts)
	defer b.Close()

	findPartner(t, a)
	findPartner(t, b)

	msgA := readMsg(t, a)
	msgB := readMsg(t, b)

	if msgA.Type != msgRoomAssigned || msgB.Type != msgRoomAssigned {
		t.Fatalf("expected room_assigned for both, got a=%s b=%s", msgA.Type, msgB.Type)
	}
	if msgA.Room != msgB.Room {
		t.Fatalf("expected both sides to agree on room id, got %s vs %s", msgA.Room, msgB.Room)
	}
	// A connected first, so A is the initiator.
	if msgA.Role != roleInitiator || msgB.Role != roleResponder {
		t.Fatalf("expected A=initiator B=responder, got A=%s B=%s", msgA.Role, msgB.Role)
	}
	if msgA.PartnerID != welcomeB.UserID || msgB.PartnerID != welcomeA.UserID {
		t.Fatalf("partner ids don't match: A.partner=%s (want %s), B.partner=%s (want %s)",
			msgA.PartnerID, welcomeB.UserID, msgB.PartnerID, welcomeA.UserID)
	}

	if err := a.WriteJSON(Envelope{Type: msgOffer, Room: msgA.Room, Offer: rawJSON(`"X"`)}); err != nil {
		t.Fatalf("send offer failed: %v", err)
	}
	offer := readMsg(t, b)
	if offer.Type != msgOffer || offer.SenderID != welcomeA.UserID {
		t.Fatalf("expected offer from A, got type=%s sender=%s", offer.Type, offer.SenderID)
	}

	if err := b.WriteJSON(Envelope{Type: msgAnswer, Room: msgB.Room, Answer: rawJSON(`"Y"`)}); err != nil {
		t.Fatalf("send answer failed: %v", err)
	}
	answer := readMsg(t, a)
	if answer.Type != msgAnswer || answer.SenderID != welcomeB.UserID {
		t.Fatalf("expected answer from B, got type=%s sender=%s", answer.Type, answer.SenderID)
	}
}

func TestSkipRepairs(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a, _ := connectFresh(t, ts)
	defer a.Close()
	b, welcomeB := connectFresh(t, ts)
	defer b.Close()

	findPartner(t, a)
	findPartner(t, b)
	readMsg(t, a) // room_assigned
	readMsg(t, b) // room_assigned

	if err := a.WriteJSON(Envelope{Type: msgSkip}); err != nil {
		t.Fatalf("send skip failed: %v", err)
	}
	skipped := readMsg(t, b)
	if skipped.Type != msgPartnerSkipped {
		t.Fatalf("expected partner_skipped, got %s", skipped.Type)
	}

	c, welcomeC := connectFresh(t, ts)
	defer c.Close()

	findPartner(t, c) // C enqueues first
	findPartner(t, b) // B pairs with C; C joined the queue earlier so C initiates

	msgB := readMsg(t, b)
	msgC := readMsg(t, c)

	if msgC.Role != roleInitiator || msgB.Role != roleResponder {
		t.Fatalf("expected C=initiator B=responder, got B=%s C=%s", msgB.Role, msgC.Role)
	}
	if msgB.PartnerID != welcomeC.UserID || msgC.PartnerID != welcomeB.UserID {
		t.Fatalf("unexpected partner ids: B.partner=%s C.partner=%s", msgB.PartnerID, msgC.PartnerID)
	}
}

func TestDisconnectGrace(t *testing.T) {
	cfg := testConfig()
	cfg.RoomReconnectTTL = 200 * time.Millisecond
	_, ts := newTestServer(t, cfg)
	defer ts.Close()

	a, welcomeA := connectFresh(t, ts)
	b, _ := connectFresh(t, ts)
	defer b.Close()

	findPartner(t, a)
	findPartner(t, b)
	roomA := readMsg(t, a)
	readMsg(t, b)

	a.Close() // A drops

	disconnected := readMsg(t, b)
	if disconnected.Type != msgPartnerDisconnect {
		t.Fatalf("expected partner_disconnected, got %s", disconnected.Type)
	}
	if disconnected.Room != roomA.Room || disconnected.PartnerID != welcomeA.UserID {
		t.Fatalf("unexpected partner_disconnected fields: %+v", disconnected)
	}

	a2 := dialWS(t, ts)
	defer a2.Close()
	sendHello(t, a2, welcomeA.Token)

	success := readMsg(t, a2)
	if success.Type != msgReconnectSuccess || success.Room != roomA.Room {
		t.Fatalf("expected reconnect_success with original room, got %+v", success)
	}

	reconnected := readMsg(t, b)
	if reconnected.Type != msgPartnerReconnect || reconnected.PartnerID != welcomeA.UserID {
		t.Fatalf("expected partner_reconnected, got %+v", reconnected)
	}
}

func TestDisconnectExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.RoomReconnectTTL = 10 * time.Millisecond
	cfg.TokenIdleTTL = 20 * time.Millisecond
	reg, ts := newTestServer(t, cfg)
	defer ts.Close()

	a, _ := connectFresh(t, ts)
	b, _ := connectFresh(t, ts)

	findPartner(t, a)
	findPartner(t, b)
	readMsg(t, a)
	readMsg(t, b)

	a.Close()
	readMsg(t, b) // partner_disconnected
	b.Close()

	time.Sleep(100 * time.Millisecond)

	snap := reg.Snapshot()
	if snap.Rooms != 0 {
		t.Fatalf("expected room to be reaped, still have %d", snap.Rooms)
	}
	if snap.Tokens != 0 {
		t.Fatalf("expected tokens to be reaped, still have %d", snap.Tokens)
	}
}

func TestSelfMatchPrevented(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a1, welcomeA1 := connectFresh(t, ts)
	defer a1.Close()
	a2, welcomeA2 := connectFresh(t, ts)
	defer a2.Close()

	if welcomeA1.UserID == welcomeA2.UserID {
		t.Fatal("two fresh connections must not share an identity")
	}

	findPartner(t, a1)
	findPartner(t, a2)

	msg1 := readMsg(t, a1)
	msg2 := readMsg(t, a2)

	if msg1.Type != msgRoomAssigned || msg2.Type != msgRoomAssigned {
		t.Fatalf("expected both to pair, got %s / %s", msg1.Type, msg2.Type)
	}
	if msg1.PartnerID != welcomeA2.UserID || msg2.PartnerID != welcomeA1.UserID {
		t.Fatal("expected the two distinct identities to be paired with each other")
	}
}

func TestSignalingAuthorization(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a, _ := connectFresh(t, ts)
	defer a.Close()
	b, _ := connectFresh(t, ts)
	defer b.Close()
	x, _ := connectFresh(t, ts)
	defer x.Close()

	findPartner(t, a)
	findPartner(t, b)
	roomA := readMsg(t, a)
	readMsg(t, b)

	if err := x.WriteJSON(Envelope{Type: msgOffer, Room: roomA.Room, Offer: rawJSON(`"evil"`)}); err != nil {
		t.Fatalf("send offer failed: %v", err)
	}

	// Neither A nor B should receive anything but routine presence
	// broadcasts; the unauthorized offer must never reach either of them.
	findPartner(t, x)
	expectNoMessage(t, a, 100*time.Millisecond)
	expectNoMessage(t, b, 100*time.Millisecond)
}

func TestFindPartnerIdempotentWhileWaiting(t *testing.T) {
	reg, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a, _ := connectFresh(t, ts)
	defer a.Close()

	findPartner(t, a)
	findPartner(t, a)

	snap := reg.Snapshot()
	if snap.Waiting != 1 {
		t.Fatalf("expected exactly one waiting entry after duplicate find_partner, got %d", snap.Waiting)
	}
}

func TestSkipWhileIdleIsNoop(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	a, _ := connectFresh(t, ts)
	defer a.Close()

	if err := a.WriteJSON(Envelope{Type: msgSkip}); err != nil {
		t.Fatalf("send skip failed: %v", err)
	}

	expectNoMessage(t, a, 50*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func rawJSON(s string) []byte { return []byte(s) }
