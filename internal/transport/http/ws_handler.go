package http

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"party-session-service/internal/app"
	"party-session-service/internal/domain"
)

// WSHandler streams snapshots over a websocket so clients can skip manual
// polling. A snapshot is pushed on every party state change plus on a
// periodic keepalive tick; clients that cannot hold the socket fall back
// to polling the state endpoint with the same payload shape.
type WSHandler struct {
	service   *app.PartyService
	upgrader  websocket.Upgrader
	keepalive time.Duration
}

func NewWSHandler(service *app.PartyService, keepalive time.Duration) *WSHandler {
	if keepalive <= 0 {
		keepalive = 5 * time.Second
	}
	return &WSHandler{
		service:   service,
		keepalive: keepalive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type wsErrorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and streams snapshots until the client
// disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	partyID := r.URL.Query().Get("partyId")
	token := r.URL.Query().Get("token")
	if partyID == "" {
		http.Error(w, "missing partyId", http.StatusBadRequest)
		return
	}

	// Resolve the first snapshot before upgrading so an unknown party is
	// still a plain HTTP error.
	initial, err := h.service.Snapshot(r.Context(), partyID, token)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.service.Subscribe(partyID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pusherDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(pusherDone)
		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-updates:
			case <-ticker.C:
				// Keepalive push also refreshes the caller's presence.
			case <-closeSignals:
				return
			}
			snap, err := h.service.Snapshot(r.Context(), partyID, token)
			if err != nil {
				select {
				case send <- outboundMessage[any]{Type: "error", Payload: wsErrorPayload{Message: err.Error()}}:
				case <-closeSignals:
				}
				return
			}
			select {
			case send <- snapshotMessage(snap):
			case <-closeSignals:
				return
			}
		}
	}()

	send <- snapshotMessage(initial)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		// Inbound frames are ignored; mutations go through the JSON API.
	}

	close(closeSignals)
	<-pusherDone
	close(send)
	<-writerDone
}

func snapshotMessage(snap domain.Snapshot) outboundMessage[any] {
	return outboundMessage[any]{Type: "snapshot", Payload: snap}
}
