package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"party-session-service/internal/app"
	"party-session-service/internal/domain"
)

// Handler exposes the party use cases over JSON endpoints. Every mutation
// returns either the updated snapshot or a structured rejection.
type Handler struct {
	service *app.PartyService
}

func NewHandler(service *app.PartyService) *Handler {
	return &Handler{service: service}
}

// Register wires the routes into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/parties", h.handleCreate)
	mux.HandleFunc("/api/parties/join", h.handleJoin)
	mux.HandleFunc("/api/parties/state", h.handleState)
	mux.HandleFunc("/api/parties/results", h.handleResults)
	mux.HandleFunc("/api/parties/leave", h.handleLeave)
	mux.HandleFunc("/api/parties/submit", h.handleSubmit)
	mux.HandleFunc("/api/parties/start", h.action(h.service.Start))
	mux.HandleFunc("/api/parties/advance", h.action(h.service.Advance))
	mux.HandleFunc("/api/parties/reveal", h.action(h.service.Reveal))
	mux.HandleFunc("/api/parties/pause", h.action(h.service.Pause))
	mux.HandleFunc("/api/parties/resume", h.action(h.service.Resume))
	mux.HandleFunc("/api/parties/duration", h.handleDuration)
	mux.HandleFunc("/api/parties/lock", h.handleLock)
	mux.HandleFunc("/api/parties/kick", h.handleKick)
}

type createRequest struct {
	Mode      domain.PartyMode `json:"mode"`
	ItemSetID string           `json:"itemSetId"`
}

type joinRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	RejoinToken string `json:"rejoinToken"`
}

type actionRequest struct {
	PartyID       string `json:"partyId"`
	Token         string `json:"token"`
	Seconds       int    `json:"seconds"`
	Locked        *bool  `json:"locked"`
	ParticipantID string `json:"participantId"`
	ItemID        string `json:"itemId"`
	Choice        *int   `json:"choice"`
	KnewIt        *bool  `json:"knewIt"`
}

type joinResponse struct {
	ParticipantID string          `json:"participantId"`
	Token         string          `json:"token"`
	Snapshot      domain.Snapshot `json:"snapshot"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode != domain.ModeQuiz && req.Mode != domain.ModeFlashcards {
		writeStatus(w, http.StatusBadRequest, "mode must be quiz or flashcards")
		return
	}
	party, err := h.service.CreateParty(r.Context(), req.Mode, req.ItemSetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, party)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" {
		writeStatus(w, http.StatusBadRequest, "code and name are required")
		return
	}
	participant, snap, err := h.service.Join(r.Context(), req.Code, req.Name, req.Avatar, req.RejoinToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		ParticipantID: participant.ID,
		Token:         participant.Token,
		Snapshot:      snap,
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	partyID := r.URL.Query().Get("partyId")
	if partyID == "" {
		writeStatus(w, http.StatusBadRequest, "partyId is required")
		return
	}
	snap, err := h.service.Snapshot(r.Context(), partyID, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	partyID := r.URL.Query().Get("partyId")
	if partyID == "" {
		writeStatus(w, http.StatusBadRequest, "partyId is required")
		return
	}
	results, err := h.service.Results(r.Context(), partyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := h.service.Leave(r.Context(), req.PartyID, req.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if req.ItemID == "" {
		writeStatus(w, http.StatusBadRequest, "itemId is required")
		return
	}
	snap, err := h.service.Submit(r.Context(), req.PartyID, req.Token, req.ItemID, req.Choice, req.KnewIt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDuration(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	snap, err := h.service.SetItemDuration(r.Context(), req.PartyID, req.Token, req.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if req.Locked == nil {
		writeStatus(w, http.StatusBadRequest, "locked is required")
		return
	}
	snap, err := h.service.SetJoinLocked(r.Context(), req.PartyID, req.Token, *req.Locked)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleKick(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if req.ParticipantID == "" {
		writeStatus(w, http.StatusBadRequest, "participantId is required")
		return
	}
	snap, err := h.service.Kick(r.Context(), req.PartyID, req.Token, req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type snapshotOp func(ctx context.Context, partyID, token string) (domain.Snapshot, error)

// action adapts the host operations that take no extra arguments.
func (h *Handler) action(op snapshotOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAction(w, r)
		if !ok {
			return
		}
		snap, err := op(r.Context(), req.PartyID, req.Token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.PartyID == "" || req.Token == "" {
		writeStatus(w, http.StatusBadRequest, "partyId and token are required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPartyNotFound), errors.Is(err, domain.ErrItemSetNotFound):
		writeStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrParticipantNotFound):
		writeStatus(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrKicked), errors.Is(err, domain.ErrJoinLocked):
		writeStatus(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadySubmitted), errors.Is(err, domain.ErrCodeTaken):
		writeStatus(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
	}
}
