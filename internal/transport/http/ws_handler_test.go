package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"party-session-service/internal/app"
	"party-session-service/internal/domain"
)

func TestWebSocketStreamsSnapshots(t *testing.T) {
	server, service := newWSTestServer(t)

	party, err := service.CreateParty(context.Background(), domain.ModeQuiz, "set-1")
	if err != nil {
		t.Fatalf("create party: %v", err)
	}
	host, _, err := service.Join(context.Background(), party.JoinCode, "Alice", "", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?partyId=" + party.ID + "&token=" + host.Token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The initial snapshot arrives without any mutation.
	snap := readSnapshot(conn, t)
	if snap.Status != domain.StatusLobby {
		t.Fatalf("expected lobby snapshot first, got %s", snap.Status)
	}

	// A mutation through the service shows up on the stream.
	if _, err := service.Start(context.Background(), party.ID, host.Token); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap = readSnapshot(conn, t)
		if snap.Status == domain.StatusActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw the active snapshot, last %+v", snap)
		}
	}
	if snap.Item == nil || snap.Item.ID != "q1" {
		t.Fatalf("expected first item on stream, got %+v", snap.Item)
	}
}

func TestWebSocketKeepalivePush(t *testing.T) {
	server, service := newWSTestServer(t)

	party, err := service.CreateParty(context.Background(), domain.ModeQuiz, "set-1")
	if err != nil {
		t.Fatalf("create party: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?partyId=" + party.ID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial push, then at least one keepalive with no state change.
	readSnapshot(conn, t)
	readSnapshot(conn, t)
}

func TestWebSocketUnknownParty(t *testing.T) {
	server, _ := newWSTestServer(t)

	resp, err := http.Get(server.URL + "/ws?partyId=missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before upgrade, got %d", resp.StatusCode)
	}
}

func newWSTestServer(t *testing.T) (*httptest.Server, *app.PartyService) {
	t.Helper()
	_, service := newTestServer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service, 100*time.Millisecond).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, service
}

func readSnapshot(conn *websocket.Conn, t *testing.T) domain.Snapshot {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Fatalf("expected snapshot message, got %s", msg.Type)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}
