package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	respond "github.com/faultmaven/session-service/internal/api/respond"
	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/services"
)

// SessionHandler is a thin HTTP transport over the session lifecycle service.
// Authentication happens upstream: the gateway validates the caller and
// forwards the identity in the X-User-ID header, which is trusted here.
type SessionHandler struct {
	svc *services.SessionService
}

func NewSessionHandler(svc *services.SessionService) *SessionHandler { return &SessionHandler{svc: svc} }

// userID extracts the authenticated user from the gateway header. Writes a
// 401 and returns false when the header is absent.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		respond.WriteError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return "", false
	}
	return uid, true
}

// sessionSummary is the external session shape: conversation content is
// reduced to a count.
type sessionSummary struct {
	SessionID      string                 `json:"sessionId"`
	UserID         string                 `json:"userId"`
	Title          *string                `json:"title,omitempty"`
	ClientID       *string                `json:"clientId,omitempty"`
	Status         model.Status           `json:"status"`
	MessageCount   int                    `json:"messageCount"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	LastActivityAt time.Time              `json:"lastActivityAt"`
}

func summarize(s *model.Session) sessionSummary {
	return sessionSummary{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Title:          s.Title,
		ClientID:       s.ClientID,
		Status:         s.Status,
		MessageCount:   len(s.Messages),
		Metadata:       s.Metadata,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// CreateSession POST /api/v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		ClientID       *string                `json:"clientId,omitempty"`
		Title          *string                `json:"title,omitempty"`
		InitialMessage *string                `json:"initialMessage,omitempty"`
		SessionType    *string                `json:"sessionType,omitempty"`
		TimeoutMinutes *int                   `json:"timeoutMinutes,omitempty"`
		Metadata       map[string]interface{} `json:"metadata,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond.WriteError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	metadata := req.Metadata
	if req.SessionType != nil {
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["session_type"] = *req.SessionType
	}
	sess, err := h.svc.CreateSession(r.Context(), model.CreateSessionRequest{
		UserID:         uid,
		ClientID:       req.ClientID,
		Title:          req.Title,
		InitialMessage: req.InitialMessage,
		Metadata:       metadata,
		TimeoutMinutes: req.TimeoutMinutes,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, summarize(sess))
}

// GetSession GET /api/v1/sessions/{sessionId}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.GetSession(r.Context(), uid, mux.Vars(r)["sessionId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, summarize(sess))
}

// UpdateSession PUT /api/v1/sessions/{sessionId}
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title    *string                `json:"title,omitempty"`
		ClientID *string                `json:"clientId,omitempty"`
		Status   *model.Status          `json:"status,omitempty"`
		Context  map[string]interface{} `json:"context,omitempty"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	sess, err := h.svc.UpdateSession(r.Context(), uid, mux.Vars(r)["sessionId"], model.UpdateSessionRequest{
		Title:    req.Title,
		ClientID: req.ClientID,
		Status:   req.Status,
		Context:  req.Context,
		Metadata: req.Metadata,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, summarize(sess))
}

// DeleteSession DELETE /api/v1/sessions/{sessionId}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSession(r.Context(), uid, mux.Vars(r)["sessionId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat POST /api/v1/sessions/{sessionId}/heartbeat
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	sessionID := mux.Vars(r)["sessionId"]
	deadline, err := h.svc.Heartbeat(r.Context(), uid, sessionID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	resp := map[string]interface{}{
		"sessionId": sessionID,
		"message":   "Heartbeat updated",
	}
	if !deadline.IsZero() {
		resp["expiresAt"] = deadline
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

// AddMessage POST /api/v1/sessions/{sessionId}/messages
func (h *SessionHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Role     string                 `json:"role"`
		Content  string                 `json:"content"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	msg, err := h.svc.AddMessage(r.Context(), uid, mux.Vars(r)["sessionId"], req.Role, req.Content, req.Metadata)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, msg)
}

// ListMessages GET /api/v1/sessions/{sessionId}/messages?limit=N
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	msgs, err := h.svc.Messages(r.Context(), uid, mux.Vars(r)["sessionId"], limit)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// ListSessions GET /api/v1/sessions?status=&q=&limit=&offset=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	filter := model.ListFilter{Query: r.URL.Query().Get("q")}
	if v := r.URL.Query().Get("status"); v != "" {
		st := model.Status(v)
		if !model.KnownStatus(st) {
			respond.WriteError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		filter.Status = &st
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	summaries := []sessionSummary{}
	i := 0
	for sess, err := range h.svc.ListSessions(r.Context(), uid, filter) {
		if err != nil {
			respond.WriteDomainError(w, err)
			return
		}
		if i < offset {
			i++
			continue
		}
		if limit > 0 && len(summaries) >= limit {
			break
		}
		summaries = append(summaries, summarize(sess))
		i++
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
		"limit":    limit,
		"offset":   offset,
	})
}

// SearchSessions POST /api/v1/sessions/search
func (h *SessionHandler) SearchSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status *model.Status `json:"status,omitempty"`
		Query  string        `json:"query,omitempty"`
		Limit  int           `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Status != nil && !model.KnownStatus(*req.Status) {
		respond.WriteError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	summaries := []sessionSummary{}
	for sess, err := range h.svc.ListSessions(r.Context(), uid, model.ListFilter{Status: req.Status, Query: req.Query}) {
		if err != nil {
			respond.WriteDomainError(w, err)
			return
		}
		if len(summaries) >= limit {
			break
		}
		summaries = append(summaries, summarize(sess))
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

// ArchiveSession POST /api/v1/sessions/{sessionId}/archive
func (h *SessionHandler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusArchived)
}

// RestoreSession POST /api/v1/sessions/{sessionId}/restore
func (h *SessionHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusActive)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, to model.Status) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.UpdateSession(r.Context(), uid, mux.Vars(r)["sessionId"], model.UpdateSessionRequest{Status: &to})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, summarize(sess))
}

// SessionStats GET /api/v1/sessions/{sessionId}/stats
func (h *SessionHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.SessionStats(r.Context(), uid, mux.Vars(r)["sessionId"])
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
