package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arborhq/arbor/internal/activity"
	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/pkg/models"
)

// apiResponse is the REST envelope shared by every endpoint.
type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /collaboration/canvas/join", s.traced("canvas.join", s.handleCanvasJoin))
	mux.HandleFunc("POST /collaboration/canvas/leave", s.traced("canvas.leave", s.handleCanvasLeave))
	mux.HandleFunc("GET /collaboration/canvas/{canvasId}/presence", s.traced("canvas.presence", s.handleCanvasPresence))
	mux.HandleFunc("GET /collaboration/canvas/{canvasId}/hybrid-state", s.traced("canvas.hybridState", s.handleHybridState))

	mux.HandleFunc("POST /collaboration/node/lock", s.traced("node.lock", s.handleNodeLock))
	mux.HandleFunc("POST /collaboration/node/unlock", s.traced("node.unlock", s.handleNodeUnlock))
	mux.HandleFunc("POST /collaboration/node/{canvasId}/{conversationId}/{nodeId}/extend-lock",
		s.traced("node.extendLock", s.handleNodeExtendLock))
	mux.HandleFunc("GET /collaboration/node/{canvasId}/{conversationId}/{nodeId}/lock",
		s.traced("node.lockStatus", s.handleNodeLockStatus))
	mux.HandleFunc("GET /collaboration/node/{canvasId}/{conversationId}/{nodeId}/lock/realtime",
		s.traced("node.lockStatusRealtime", s.handleNodeLockRealtime))

	mux.HandleFunc("POST /collaboration/cursor/update", s.traced("cursor.update", s.handleCursorUpdate))
	mux.HandleFunc("POST /collaboration/typing/update", s.traced("typing.update", s.handleTypingUpdate))

	mux.HandleFunc("POST /collaboration/session/start", s.traced("session.start", s.handleSessionStart))
	mux.HandleFunc("DELETE /collaboration/session/{sessionId}", s.traced("session.end", s.handleSessionEnd))
	mux.HandleFunc("POST /collaboration/session/{sessionId}/heartbeat", s.traced("session.heartbeat", s.handleSessionTouch))
	mux.HandleFunc("POST /collaboration/session/{sessionId}/lock", s.traced("session.lock", s.handleSessionLock))
	mux.HandleFunc("DELETE /collaboration/session/{sessionId}/lock", s.traced("session.unlock", s.handleSessionUnlock))

	mux.HandleFunc("POST /collaboration/cleanup/presence/{canvasId}", s.traced("cleanup.presence", s.handleCleanupPresence))
	mux.HandleFunc("POST /collaboration/cleanup/locks/{canvasId}", s.traced("cleanup.locks", s.handleCleanupLocks))

	mux.HandleFunc("GET /collaboration/activities/canvas/{id}", s.traced("activities.canvas", s.handleActivitiesByCanvas))
	mux.HandleFunc("GET /collaboration/activities/canvas/{id}/summary", s.traced("activities.summary", s.handleActivitySummary))
	mux.HandleFunc("GET /collaboration/activities/conversation/{id}", s.traced("activities.conversation", s.handleActivitiesByConversation))
	mux.HandleFunc("GET /collaboration/activities/user/{id}", s.traced("activities.user", s.handleActivitiesByUser))
	mux.HandleFunc("POST /collaboration/activities", s.traced("activities.record", s.handleRecordActivity))
	mux.HandleFunc("POST /collaboration/activities/cleanup", s.traced("activities.cleanup", s.handleActivityCleanup))

	mux.HandleFunc("GET /collaboration/health", s.handleHealth)
}

// traced wraps a handler in a server span when tracing is configured.
func (s *Server) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	if s.tracer == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), "rest."+name)
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeData(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

// writeError maps collaboration error codes onto HTTP statuses: store outages
// are 503, every other structured code is a client error, anything foreign is
// an opaque 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	structured := collab.AsError(err)
	if structured == nil {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, apiResponse{
			Error: &apiError{Code: "INTERNAL_ERROR", Message: "internal error"},
		})
		return
	}

	status := http.StatusBadRequest
	if structured.Code == collab.CodeConnection {
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "code", structured.Code, "error", err)
	} else {
		s.logger.Debug("request refused", "path", r.URL.Path, "code", structured.Code)
	}
	s.writeJSON(w, status, apiResponse{
		Error: &apiError{
			Code:    string(structured.Code),
			Message: structured.Message,
			Details: structured.Details,
		},
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{
			Error: &apiError{Code: string(collab.CodeInvalidInput), Message: "malformed request body"},
		})
		return false
	}
	return true
}

// Canvas endpoints.

type canvasUserRequest struct {
	CanvasID string      `json:"canvasId"`
	UserID   string      `json:"userId"`
	User     models.User `json:"user"`
}

func (s *Server) handleCanvasJoin(w http.ResponseWriter, r *http.Request) {
	var req canvasUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	presence, err := s.collab.JoinCanvas(r.Context(), req.CanvasID, req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, presence)
}

func (s *Server) handleCanvasLeave(w http.ResponseWriter, r *http.Request) {
	var req canvasUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = req.User.ID
	}
	if err := s.collab.LeaveCanvas(r.Context(), req.CanvasID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"left": true})
}

func (s *Server) handleCanvasPresence(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.collab.GetCanvasPresence(r.Context(), r.PathValue("canvasId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, snapshot)
}

func (s *Server) handleHybridState(w http.ResponseWriter, r *http.Request) {
	state, err := s.collab.GetHybridState(r.Context(), r.PathValue("canvasId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, state)
}

// Node lock endpoints.

type nodeLockRequest struct {
	CanvasID            string      `json:"canvasId"`
	ConversationID      string      `json:"conversationId"`
	NodeID              string      `json:"nodeId"`
	UserID              string      `json:"userId"`
	User                models.User `json:"user"`
	SessionID           string      `json:"sessionId"`
	LockDurationSeconds int         `json:"lockDurationSeconds"`
}

func (s *Server) handleNodeLock(w http.ResponseWriter, r *http.Request) {
	var req nodeLockRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	lock, err := s.collab.LockNode(r.Context(), req.CanvasID, req.ConversationID, req.NodeID, req.User,
		req.SessionID, time.Duration(req.LockDurationSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, lock)
}

func (s *Server) handleNodeUnlock(w http.ResponseWriter, r *http.Request) {
	var req nodeLockRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = req.User.ID
	}
	removed, err := s.collab.UnlockNode(r.Context(), req.CanvasID, req.ConversationID, req.NodeID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"removed": removed})
}

func (s *Server) handleNodeExtendLock(w http.ResponseWriter, r *http.Request) {
	var req nodeLockRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = req.User.ID
	}
	lock, err := s.collab.ExtendNodeLock(r.Context(),
		r.PathValue("canvasId"), r.PathValue("conversationId"), r.PathValue("nodeId"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, lock)
}

func (s *Server) handleNodeLockStatus(w http.ResponseWriter, r *http.Request) {
	lock, err := s.collab.GetNodeLock(r.Context(),
		r.PathValue("canvasId"), r.PathValue("conversationId"), r.PathValue("nodeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"hasLock": lock != nil, "lock": lock})
}

func (s *Server) handleNodeLockRealtime(w http.ResponseWriter, r *http.Request) {
	status, err := s.collab.RealtimeLockStatus(r.Context(),
		r.PathValue("canvasId"), r.PathValue("conversationId"), r.PathValue("nodeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, status)
}

// Cursor and typing endpoints.

type cursorUpdateRequest struct {
	CanvasID string      `json:"canvasId"`
	User     models.User `json:"user"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
}

func (s *Server) handleCursorUpdate(w http.ResponseWriter, r *http.Request) {
	var req cursorUpdateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cursor, err := s.collab.UpdateCursor(r.Context(), req.CanvasID, req.User, req.X, req.Y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, cursor)
}

type typingUpdateRequest struct {
	CanvasID string      `json:"canvasId"`
	NodeID   string      `json:"nodeId"`
	User     models.User `json:"user"`
	IsTyping bool        `json:"isTyping"`
}

func (s *Server) handleTypingUpdate(w http.ResponseWriter, r *http.Request) {
	var req typingUpdateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	indicator, err := s.collab.UpdateTyping(r.Context(), req.CanvasID, req.NodeID, req.User, req.IsTyping)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, indicator)
}

// Session endpoints.

type sessionStartRequest struct {
	SessionID      string             `json:"sessionId"`
	User           models.User        `json:"user"`
	CanvasID       string             `json:"canvasId"`
	ConversationID string             `json:"conversationId"`
	NodeID         string             `json:"nodeId"`
	EditingType    models.EditingType `json:"editingType"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	session, err := s.collab.StartSession(r.Context(), collab.StartSessionParams{
		SessionID:      req.SessionID,
		User:           req.User,
		CanvasID:       req.CanvasID,
		ConversationID: req.ConversationID,
		NodeID:         req.NodeID,
		EditingType:    req.EditingType,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, session)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.collab.EndSession(r.Context(), r.PathValue("sessionId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"ended": true})
}

func (s *Server) handleSessionTouch(w http.ResponseWriter, r *http.Request) {
	if err := s.collab.TouchSession(r.Context(), r.PathValue("sessionId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"touched": true})
}

type sessionLockRequest struct {
	DurationMs int64 `json:"durationMs"`
}

func (s *Server) handleSessionLock(w http.ResponseWriter, r *http.Request) {
	var req sessionLockRequest
	if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
		return
	}
	session, err := s.collab.AcquireHybridLock(r.Context(), r.PathValue("sessionId"),
		time.Duration(req.DurationMs)*time.Millisecond)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, session)
}

func (s *Server) handleSessionUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.collab.ReleaseHybridLock(r.Context(), r.PathValue("sessionId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"released": true})
}

// Cleanup endpoints, for operators and tests; the cron jobs run the same
// sweeps on a schedule.

func (s *Server) handleCleanupPresence(w http.ResponseWriter, r *http.Request) {
	removed, err := s.collab.CleanupStalePresence(r.Context(), r.PathValue("canvasId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"removed": removed})
}

func (s *Server) handleCleanupLocks(w http.ResponseWriter, r *http.Request) {
	released, err := s.collab.CleanupStaleLocks(r.Context(), r.PathValue("canvasId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"released": released})
}

// Activity endpoints.

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request, filter activity.Filter) {
	q := r.URL.Query()
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, models.ActivityType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, collab.NewError(collab.CodeInvalidInput, "since must be RFC 3339"))
			return
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, collab.NewError(collab.CodeInvalidInput, "until must be RFC 3339"))
			return
		}
		filter.Until = t
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	activities, err := s.activity.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if activities == nil {
		activities = []*models.Activity{}
	}
	s.writeData(w, activities)
}

func (s *Server) handleActivitiesByCanvas(w http.ResponseWriter, r *http.Request) {
	s.listActivities(w, r, activity.Filter{CanvasID: r.PathValue("id")})
}

func (s *Server) handleActivitiesByConversation(w http.ResponseWriter, r *http.Request) {
	s.listActivities(w, r, activity.Filter{
		CanvasID:       r.URL.Query().Get("canvasId"),
		ConversationID: r.PathValue("id"),
	})
}

func (s *Server) handleActivitiesByUser(w http.ResponseWriter, r *http.Request) {
	s.listActivities(w, r, activity.Filter{
		CanvasID: r.URL.Query().Get("canvasId"),
		UserID:   r.PathValue("id"),
	})
}

func (s *Server) handleActivitySummary(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	summary, err := s.activity.Summarize(r.Context(), r.PathValue("id"), hours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, summary)
}

type recordActivityRequest struct {
	CanvasID       string              `json:"canvasId"`
	ConversationID string              `json:"conversationId"`
	NodeID         string              `json:"nodeId"`
	UserID         string              `json:"userId"`
	UserName       string              `json:"userName"`
	Type           models.ActivityType `json:"type"`
	Description    string              `json:"description"`
	Metadata       map[string]any      `json:"metadata"`
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req recordActivityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	recorded, err := s.activity.Record(r.Context(), activity.RecordParams{
		CanvasID:       req.CanvasID,
		ConversationID: req.ConversationID,
		NodeID:         req.NodeID,
		UserID:         req.UserID,
		UserName:       req.UserName,
		Type:           req.Type,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, collab.NewError(collab.CodeInvalidInput, err.Error()))
		return
	}
	s.writeData(w, recorded)
}

func (s *Server) handleActivityCleanup(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = s.config.Activity.RetentionDays
	}
	removed, err := s.activity.CleanupOld(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, map[string]any{"removed": removed})
}

// Health endpoints.

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type healthReport struct {
	Redis         bool    `json:"redis"`
	Database      bool    `json:"database"`
	Degraded      bool    `json:"degraded"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// handleHealth probes both stores. A durable-store outage is fatal (503); an
// ephemeral-store outage reports degraded but healthy, since the hybrid layer
// keeps serving from the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{
		Redis:         true,
		Database:      true,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}
	if s.degraded.Load() || s.ess.Ping(ctx) != nil {
		report.Redis = false
		report.Degraded = true
	}
	status := http.StatusOK
	if err := s.durable.Ping(ctx); err != nil {
		report.Database = false
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, apiResponse{Success: status == http.StatusOK, Data: report})
}
