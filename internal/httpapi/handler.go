package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediqueue/internal/models"
	"mediqueue/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store      store.TicketStore
	recapLimit int
}

type Options struct {
	// RecapLimit is the default number of tickets returned by the recap
	// view when the request does not ask for a specific count.
	RecapLimit int
}

func NewHandler(store store.TicketStore, options Options) *Handler {
	recapLimit := options.RecapLimit
	if recapLimit <= 0 {
		recapLimit = 5
	}
	return &Handler{
		store:      store,
		recapLimit: recapLimit,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/rooms/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/calling", h.handleNowCalling)
	mux.HandleFunc("/api/queue/recap", h.handleRecap)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type createTicketRequest struct {
	AreaID    string `json:"area_id"`
	RoomID    string `json:"room_id"`
	PatientID string `json:"patient_id"`
}

type callNextRequest struct {
	RoomID string `json:"room_id"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.AreaID = strings.TrimSpace(req.AreaID)
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.PatientID = strings.TrimSpace(req.PatientID)

	if req.AreaID == "" && req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "area_id or room_id is required")
		return
	}
	if req.AreaID != "" && req.RoomID != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "area_id and room_id are mutually exclusive")
		return
	}
	if req.AreaID != "" && !isValidUUID(req.AreaID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "area_id must be a UUID")
		return
	}
	if req.RoomID != "" && !isValidUUID(req.RoomID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "room_id must be a UUID")
		return
	}
	if req.PatientID != "" && !isValidUUID(req.PatientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID when provided")
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		AreaID:    req.AreaID,
		RoomID:    req.RoomID,
		PatientID: req.PatientID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RoomID = strings.TrimSpace(req.RoomID)
	if req.RoomID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "room_id is required")
		return
	}
	if !isValidUUID(req.RoomID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "room_id must be a UUID")
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		RoomID:   req.RoomID,
		CalledAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

// handleTicketByID serves GET /api/tickets/{id}, DELETE /api/tickets/{id}
// and POST /api/tickets/{id}/actions/{attend|cancel|no-show}.
func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleDeleteTicket(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleDeleteTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	hard := false
	if raw := strings.TrimSpace(r.URL.Query().Get("hard")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "hard must be a boolean")
			return
		}
		hard = parsed
	}

	if err := h.store.DeleteTicket(r.Context(), ticketID, hard); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	var outcome string
	switch action {
	case "attend":
		outcome = store.OutcomeAttended
	case "cancel":
		outcome = store.OutcomeCancelled
	case "no-show":
		outcome = store.OutcomeNoShow
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticket, err := h.store.ResolveTicket(r.Context(), store.ResolveInput{
		TicketID:   ticketID,
		Outcome:    outcome,
		ResolvedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	entries, err := h.store.QueueSnapshot(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []store.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleNowCalling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, found, err := h.store.NowCalling(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleRecap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := h.recapLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	tickets, err := h.store.Recap(r.Context(), limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrAreaNotFound):
		return http.StatusNotFound, "area_not_found", "area not found"
	case errors.Is(err, store.ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found", "room not found"
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNoRoomAvailable):
		return http.StatusConflict, "no_room_available", "no room available in this area"
	case errors.Is(err, store.ErrNoTicketWaiting):
		return http.StatusConflict, "queue_empty", "no tickets waiting for this room"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
