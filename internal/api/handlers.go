/**
 * @description
 * This file contains the HTTP handlers for the assignment-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store, internal/presence: For
 *   service logic, models, custom errors, and presence sessions.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/app"
	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/internal/presence"
	"github.com/scribelink/assignment-service/internal/store"
)

// AssignmentHandlers holds the collaborators the HTTP handlers use.
type AssignmentHandlers struct {
	service *app.Service
	tracker *presence.Tracker
	hub     *presence.Hub
	limiter app.RateLimiter
	logger  *slog.Logger

	presenceRateLimitPerMinute int

	mu       sync.Mutex
	sessions map[uuid.UUID]*presence.Session
}

// NewAssignmentHandlers creates a new instance of AssignmentHandlers.
func NewAssignmentHandlers(service *app.Service, tracker *presence.Tracker, hub *presence.Hub, limiter app.RateLimiter, presenceRateLimitPerMinute int, logger *slog.Logger) *AssignmentHandlers {
	return &AssignmentHandlers{
		service:                    service,
		tracker:                    tracker,
		hub:                        hub,
		limiter:                    limiter,
		logger:                     logger.With("component", "api"),
		presenceRateLimitPerMinute: presenceRateLimitPerMinute,
		sessions:                   make(map[uuid.UUID]*presence.Session),
	}
}

// CreateAssignmentHandler handles requests to post a new assignment.
func (h *AssignmentHandlers) CreateAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	assignment, err := h.service.CreateAssignment(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, app.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create assignment", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not create assignment")
		return
	}

	h.writeJSON(w, http.StatusCreated, assignment)
}

// ListAssignmentsHandler lists assignments, optionally narrowed by status and
// the caller's role (mine=student|writer).
func (h *AssignmentHandlers) ListAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	filter := domain.AssignmentFilter{Status: r.URL.Query().Get("status")}
	switch r.URL.Query().Get("mine") {
	case "student":
		filter.StudentID = &userID
	case "writer":
		filter.WriterID = &userID
	case "":
	default:
		h.writeError(w, http.StatusBadRequest, "Invalid mine parameter, expected student or writer")
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	assignments, err := h.service.ListAssignments(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list assignments", "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list assignments")
		return
	}
	if assignments == nil {
		assignments = []domain.Assignment{}
	}

	h.writeJSON(w, http.StatusOK, assignments)
}

// GetAssignmentHandler returns a single assignment by ID.
func (h *AssignmentHandlers) GetAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := h.pathUUID(w, r, "assignmentID")
	if !ok {
		return
	}

	assignment, err := h.service.GetAssignment(r.Context(), assignmentID)
	if err != nil {
		if errors.Is(err, store.ErrAssignmentNotFound) {
			h.writeError(w, http.StatusNotFound, "Assignment not found")
			return
		}
		h.logger.Error("failed to fetch assignment", "assignment_id", assignmentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not fetch assignment")
		return
	}

	h.writeJSON(w, http.StatusOK, assignment)
}

// UpdateAssignmentStatusHandler moves an assignment through its lifecycle.
func (h *AssignmentHandlers) UpdateAssignmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	assignmentID, ok := h.pathUUID(w, r, "assignmentID")
	if !ok {
		return
	}

	var req domain.UpdateAssignmentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	assignment, err := h.service.UpdateAssignmentStatus(r.Context(), userID, assignmentID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAssignmentNotFound):
			h.writeError(w, http.StatusNotFound, "Assignment not found")
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidStatusTransition):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrNotPermitted):
			h.writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("failed to update assignment status", "assignment_id", assignmentID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Could not update assignment")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, assignment)
}

// ListPaymentsHandler returns the payment history of an assignment.
func (h *AssignmentHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := h.pathUUID(w, r, "assignmentID")
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), assignmentID)
	if err != nil {
		h.logger.Error("failed to list payments", "assignment_id", assignmentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Could not list payments")
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}

	h.writeJSON(w, http.StatusOK, payments)
}

// UpdatePresenceHandler reports the caller's presence state. The first call
// starts a tracked session (immediate online publish plus server-side
// heartbeats); subsequent calls flip the session online or offline as the
// client's environment changes.
func (h *AssignmentHandlers) UpdatePresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	if !h.allowPresenceWrite(w, r, userID) {
		return
	}

	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := h.sessionFor(userID)
	if req.Online {
		session.SetOnline(r.Context())
	} else {
		session.SetOffline(r.Context())
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// PresenceHeartbeatHandler refreshes the caller's last-seen timestamp.
func (h *AssignmentHandlers) PresenceHeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	if !h.allowPresenceWrite(w, r, userID) {
		return
	}

	h.sessionFor(userID).Heartbeat(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// EndPresenceHandler tears down the caller's presence session.
func (h *AssignmentHandlers) EndPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	h.mu.Lock()
	session := h.sessions[userID]
	delete(h.sessions, userID)
	h.mu.Unlock()

	if session != nil {
		session.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPresenceHandler returns the current presence snapshot for a user.
func (h *AssignmentHandlers) GetPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, h.hub.Snapshot(r.Context(), userID))
}

// WatchPresenceHandler streams presence updates for a user as Server-Sent
// Events. The first event is the current snapshot; later events arrive as
// the watched user's state changes. The stream ends when the client
// disconnects.
func (h *AssignmentHandlers) WatchPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	snapshot, updates, cancel := h.hub.Watch(r.Context(), userID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, domain.PresenceUpdate(snapshot))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-updates:
			if !open {
				return
			}
			writeSSE(w, update)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, update domain.PresenceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

// sessionFor returns the caller's presence session, starting one on first
// use. Sessions outlive the request, so the tracker gets a background
// context. A session that expired from inactivity is replaced with a fresh
// one, since a closed session's heartbeat loop has already exited.
func (h *AssignmentHandlers) sessionFor(userID uuid.UUID) *presence.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.sessions[userID]; ok && !session.Closed() {
		return session
	}
	session := h.tracker.Track(context.Background(), userID)
	h.sessions[userID] = session
	return session
}

// CloseSessions tears down every tracked presence session. Called on
// shutdown so watchers see the instance's users go offline.
func (h *AssignmentHandlers) CloseSessions() {
	h.mu.Lock()
	sessions := make([]*presence.Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.sessions = make(map[uuid.UUID]*presence.Session)
	h.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

// allowPresenceWrite enforces the per-user fixed-window limit on presence
// writes. Limiter failures fail open: presence is best-effort and must not
// go down with Redis.
func (h *AssignmentHandlers) allowPresenceWrite(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if h.limiter == nil || h.presenceRateLimitPerMinute <= 0 {
		return true
	}

	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "presence", userID.String(), h.presenceRateLimitPerMinute, time.Minute)
	if err != nil {
		h.logger.Warn("presence rate limiter unavailable; allowing request", "user_id", userID, "error", err)
		return true
	}
	if count > h.presenceRateLimitPerMinute {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many presence updates. Please slow down.")
		return false
	}
	return true
}

func (h *AssignmentHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param+" format")
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON is a helper for writing JSON responses.
func (h *AssignmentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AssignmentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
