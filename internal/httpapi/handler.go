package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qms/token-service/internal/models"
	"qms/token-service/internal/queue"
	"qms/token-service/internal/stats"
	"qms/token-service/internal/store"
	"qms/token-service/internal/view"
)

// Engine is the queue surface the handlers drive. Declared here so
// tests can swap in a fake.
type Engine interface {
	Generate(ctx context.Context, requesterID string) (models.Token, error)
	CallNext(ctx context.Context, counter string) (models.Token, error)
	Complete(ctx context.Context, counter string) (models.Token, error)
	Drop(ctx context.Context, counter string) (models.Token, error)
	Cancel(ctx context.Context, requesterID string) (models.Token, error)
	StopAndReschedule(ctx context.Context, counter string) (int, error)
	StopAndExpire(ctx context.Context, counter string) (int, error)
	StartBreak(ctx context.Context, counter, reason string, estimatedMinutes int) error
	EndBreak(ctx context.Context, counter string) error
	UpdateCounterStatus(ctx context.Context, counter string, status models.CounterStatus) error
	UpdateDailyLimit(ctx context.Context, counter string, limit int) error
	ActiveToken(ctx context.Context, requesterID string) (models.Token, int, error)
	History(ctx context.Context, requesterID string) ([]queue.HistoryEntry, error)
}

// Snapshots is the read-side surface.
type Snapshots interface {
	Counter(ctx context.Context, name string) (view.CounterSnapshot, error)
	All(ctx context.Context) (view.Snapshot, error)
}

type Handler struct {
	engine    Engine
	snapshots Snapshots
	stats     *stats.Calculator
}

func NewHandler(engine Engine, snapshots Snapshots, calc *stats.Calculator) *Handler {
	return &Handler{engine: engine, snapshots: snapshots, stats: calc}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleCreateToken)
	mux.HandleFunc("/api/tokens/active", h.handleActiveToken)
	mux.HandleFunc("/api/tokens/cancel", h.handleCancelToken)
	mux.HandleFunc("/api/tokens/history", h.handleHistory)
	mux.HandleFunc("/api/queue/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/counters/", h.handleCounterActions)
	return mux
}

type createTokenRequest struct {
	RequesterID string `json:"requester_id"`
}

type tokenResponse struct {
	models.Token
	Position             int `json:"position"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
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

func (h *Handler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	token, err := h.engine.Generate(r.Context(), req.RequesterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, h.tokenWithEstimate(r.Context(), token))
}

func (h *Handler) handleActiveToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requesterID := strings.TrimSpace(r.URL.Query().Get("requester_id"))
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	token, position, err := h.engine.ActiveToken(r.Context(), requesterID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	resp := tokenResponse{Token: token, Position: position}
	if token.Status == models.StatusWaiting {
		resp.EstimatedWaitMinutes = h.stats.EstimatedWait(r.Context(), token.Counter, token.ServiceDate, position)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancelToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	token, err := h.engine.Cancel(r.Context(), req.RequesterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requesterID := strings.TrimSpace(r.URL.Query().Get("requester_id"))
	if requesterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	entries, err := h.engine.History(r.Context(), requesterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if counter := strings.TrimSpace(r.URL.Query().Get("counter")); counter != "" {
		snapshot, err := h.snapshots.Counter(r.Context(), counter)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	snapshot, err := h.snapshots.All(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleCounterActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	counter := strings.TrimSpace(parts[0])
	if counter == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter is required")
		return
	}

	switch parts[2] {
	case "call-next":
		h.handleCallNext(w, r, counter)
	case "complete":
		h.handleFinish(w, r, counter, h.engine.Complete)
	case "drop":
		h.handleFinish(w, r, counter, h.engine.Drop)
	case "stop-reschedule":
		h.handleStop(w, r, counter, h.engine.StopAndReschedule, "rescheduled")
	case "stop-expire":
		h.handleStop(w, r, counter, h.engine.StopAndExpire, "expired")
	case "break-start":
		h.handleBreakStart(w, r, counter)
	case "break-end":
		h.handleBreakEnd(w, r, counter)
	case "status":
		h.handleCounterStatus(w, r, counter)
	case "limit":
		h.handleDailyLimit(w, r, counter)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, counter string) {
	token, err := h.engine.CallNext(r.Context(), counter)
	if err != nil {
		if errors.Is(err, store.ErrNoWaitingTokens) {
			writeError(w, http.StatusConflict, "queue_empty", "no tokens waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request, counter string, action func(context.Context, string) (models.Token, error)) {
	token, err := action(r.Context(), counter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request, counter string, action func(context.Context, string) (int, error), field string) {
	count, err := action(r.Context(), counter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{field: count})
}

type breakRequest struct {
	Reason           string `json:"reason"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

func (h *Handler) handleBreakStart(w http.ResponseWriter, r *http.Request, counter string) {
	var req breakRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.EstimatedMinutes < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "estimated_minutes must not be negative")
		return
	}

	if err := h.engine.StartBreak(r.Context(), counter, strings.TrimSpace(req.Reason), req.EstimatedMinutes); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"counter": counter, "status": string(models.CounterOnBreak)})
}

func (h *Handler) handleBreakEnd(w http.ResponseWriter, r *http.Request, counter string) {
	if err := h.engine.EndBreak(r.Context(), counter); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"counter": counter, "status": string(models.CounterActive)})
}

func (h *Handler) handleCounterStatus(w http.ResponseWriter, r *http.Request, counter string) {
	var req struct {
		Status string `json:"status"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	status := models.CounterStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch status {
	case models.CounterActive, models.CounterOnBreak, models.CounterUnavailable, models.CounterClosed:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be one of ACTIVE, ON_BREAK, UNAVAILABLE, CLOSED")
		return
	}

	if err := h.engine.UpdateCounterStatus(r.Context(), counter, status); err != nil {
		httpStatus, code, msg := mapError(err)
		writeError(w, httpStatus, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"counter": counter, "status": string(status)})
}

func (h *Handler) handleDailyLimit(w http.ResponseWriter, r *http.Request, counter string) {
	var req struct {
		DailyLimit int `json:"daily_limit"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.DailyLimit < 1 || req.DailyLimit > 200 {
		writeError(w, http.StatusBadRequest, "invalid_request", "daily_limit must be between 1 and 200")
		return
	}

	if err := h.engine.UpdateDailyLimit(r.Context(), counter, req.DailyLimit); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"daily_limit": req.DailyLimit})
}

func (h *Handler) tokenWithEstimate(ctx context.Context, token models.Token) tokenResponse {
	resp := tokenResponse{Token: token}
	if h.stats == nil || token.Status != models.StatusWaiting {
		return resp
	}
	position, err := positionOf(ctx, h.engine, token)
	if err != nil {
		return resp
	}
	resp.Position = position
	resp.EstimatedWaitMinutes = h.stats.EstimatedWait(ctx, token.Counter, token.ServiceDate, position)
	return resp
}

// positionOf recovers the freshly issued token's place via the active
// lookup so creation responses carry the same fields as status polls.
func positionOf(ctx context.Context, engine Engine, token models.Token) (int, error) {
	_, position, err := engine.ActiveToken(ctx, token.RequesterID)
	return position, err
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrActiveTokenExists):
		return http.StatusConflict, "active_token_exists", "an open token already exists for this student today"
	case errors.Is(err, store.ErrOutsideHours):
		return http.StatusConflict, "outside_hours", "tokens can only be generated during working hours"
	case errors.Is(err, store.ErrNoCounterAvailable):
		return http.StatusConflict, "no_counter_available", "no counter is accepting tokens right now"
	case errors.Is(err, store.ErrDailyLimitReached):
		return http.StatusConflict, "daily_limit_reached", "counter reached its daily token limit"
	case errors.Is(err, store.ErrNoWaitingTokens):
		return http.StatusConflict, "queue_empty", "no tokens waiting"
	case errors.Is(err, store.ErrNoServingToken):
		return http.StatusConflict, "no_serving_token", "no token is currently being served"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "current state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
