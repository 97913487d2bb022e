package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/sessions"
	"github.com/arborhq/arbor/pkg/models"
)

// The hybrid layer writes the durable store first and mirrors into the
// ephemeral store best-effort. A durable failure fails the operation; an
// ephemeral failure is logged and the durable result stands. The durable
// store is authoritative whenever the two disagree.

// StartSessionParams describes a new or resumed editing session.
type StartSessionParams struct {
	SessionID      string
	User           models.User
	CanvasID       string
	ConversationID string
	NodeID         string
	EditingType    models.EditingType
}

// StartSession opens a durable editing session, replacing any prior session
// the user holds on the same target, and mirrors presence into the
// ephemeral store.
func (s *Service) StartSession(ctx context.Context, p StartSessionParams) (*models.EditingSession, error) {
	const op = "start_session"
	if p.User.ID == "" || p.CanvasID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "user.id and canvasId are required"))
	}
	switch p.EditingType {
	case models.EditingTypeCanvas, models.EditingTypeConversation, models.EditingTypeNode:
	default:
		return nil, s.finish(op, NewError(CodeInvalidInput, fmt.Sprintf("unknown editing type %q", p.EditingType)))
	}

	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	now := s.nowFunc()
	session := &models.EditingSession{
		SessionID:      p.SessionID,
		UserID:         p.User.ID,
		User:           p.User,
		CanvasID:       p.CanvasID,
		ConversationID: p.ConversationID,
		NodeID:         p.NodeID,
		EditingType:    p.EditingType,
		StartedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}
	session.EditingTarget = session.Target()

	if err := s.durable.Upsert(ctx, session); err != nil {
		return nil, s.finish(op, fmt.Errorf("start session: %w", err))
	}

	if _, err := s.JoinCanvas(ctx, p.CanvasID, p.User); err != nil {
		s.logger.Warn("presence mirror failed, continuing with durable session",
			"sessionId", session.SessionID, "canvasId", p.CanvasID, "error", err)
	}
	return session, s.finish(op, nil)
}

// EndSession closes a durable session and releases its ephemeral lock if it
// held one. Ending an unknown session is a no-op.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	const op = "end_session"
	session, err := s.durable.Get(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return s.finish(op, nil)
	}
	if err != nil {
		return s.finish(op, fmt.Errorf("end session: %w", err))
	}

	if err := s.durable.End(ctx, sessionID); err != nil {
		return s.finish(op, fmt.Errorf("end session: %w", err))
	}

	if session.HasLock && session.EditingType == models.EditingTypeNode && session.NodeID != "" {
		if _, err := s.UnlockNode(ctx, session.CanvasID, session.ConversationID, session.NodeID, session.UserID); err != nil {
			s.logger.Warn("lock release mirror failed",
				"sessionId", sessionID, "nodeId", session.NodeID, "error", err)
		}
	}
	return s.finish(op, nil)
}

// TouchSession refreshes the durable session's activity timestamp.
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	return s.durable.Touch(ctx, sessionID)
}

// AcquireHybridLock takes the durable lock for a session after checking for
// a conflicting holder, then mirrors the lock into the ephemeral store.
func (s *Service) AcquireHybridLock(ctx context.Context, sessionID string, duration time.Duration) (*models.EditingSession, error) {
	const op = "acquire_hybrid_lock"
	if duration <= 0 {
		duration = s.cfg.LockTimeout
	}

	session, err := s.durable.Get(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, s.finish(op, NewError(CodeInvalidInput, "unknown session"))
	}
	if err != nil {
		return nil, s.finish(op, fmt.Errorf("acquire lock: %w", err))
	}

	now := s.nowFunc()
	conflict, err := s.durable.FindLockConflict(ctx, session.EditingTarget, session.UserID, now)
	if err != nil {
		return nil, s.finish(op, fmt.Errorf("acquire lock: %w", err))
	}
	if conflict != nil {
		s.metrics.RecordLockContention()
		return nil, s.finish(op, NewError(CodeLockAlreadyHeld, "target is locked by another user").
			WithDetails(map[string]any{"currentLock": map[string]any{
				"userId":     conflict.UserID,
				"user":       conflict.User,
				"sessionId":  conflict.SessionID,
				"lockExpiry": conflict.LockExpiry,
			}}))
	}

	updated, err := s.durable.AcquireLock(ctx, sessionID, now.Add(duration))
	if err != nil {
		return nil, s.finish(op, fmt.Errorf("acquire lock: %w", err))
	}

	if session.EditingType == models.EditingTypeNode && session.NodeID != "" {
		if _, err := s.LockNode(ctx, session.CanvasID, session.ConversationID, session.NodeID, session.User, session.SessionID, duration); err != nil {
			s.logger.Warn("lock mirror failed, durable lock stands",
				"sessionId", sessionID, "nodeId", session.NodeID, "error", err)
		}
	}
	return updated, s.finish(op, nil)
}

// ReleaseHybridLock releases the ephemeral lock first, then the durable one,
// the reverse of acquisition. Releasing a lock the session does not hold is
// a no-op.
func (s *Service) ReleaseHybridLock(ctx context.Context, sessionID string) error {
	const op = "release_hybrid_lock"
	session, err := s.durable.Get(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return s.finish(op, nil)
	}
	if err != nil {
		return s.finish(op, fmt.Errorf("release lock: %w", err))
	}

	if session.EditingType == models.EditingTypeNode && session.NodeID != "" {
		if _, err := s.UnlockNode(ctx, session.CanvasID, session.ConversationID, session.NodeID, session.UserID); err != nil {
			s.logger.Warn("lock release mirror failed",
				"sessionId", sessionID, "nodeId", session.NodeID, "error", err)
		}
	}
	if err := s.durable.ReleaseLock(ctx, sessionID); err != nil {
		return s.finish(op, fmt.Errorf("release lock: %w", err))
	}
	return s.finish(op, nil)
}

// RealtimeLockStatus answers whether a node is locked, preferring the
// ephemeral store and falling back to durable sessions when it is down. The
// Source field tells the caller which store answered.
func (s *Service) RealtimeLockStatus(ctx context.Context, canvasID, conversationID, nodeID string) (*models.LockStatus, error) {
	now := s.nowFunc()
	lock, err := s.readLock(ctx, ephemeral.LockKey(canvasID, conversationID, nodeID), now)
	if err == nil {
		return &models.LockStatus{HasLock: lock != nil, Lock: lock, Source: "redis"}, nil
	}
	s.logger.Warn("ephemeral lock read failed, falling back to durable store",
		"canvasId", canvasID, "nodeId", nodeID, "error", err)

	conflict, err := s.durable.FindLockConflict(ctx, nodeID, "", now)
	if err != nil {
		return nil, fmt.Errorf("lock status: %w", err)
	}
	status := &models.LockStatus{Source: "database"}
	if conflict != nil && conflict.LockExpiry != nil {
		status.HasLock = true
		status.Lock = &models.NodeLock{
			CanvasID:       conflict.CanvasID,
			ConversationID: conflict.ConversationID,
			NodeID:         conflict.NodeID,
			UserID:         conflict.UserID,
			User:           conflict.User,
			LockedAt:       conflict.LastActivityAt,
			ExpiresAt:      *conflict.LockExpiry,
			SessionID:      conflict.SessionID,
		}
	}
	return status, nil
}

// HybridState is the combined view of a canvas: the ephemeral snapshot plus
// the active durable sessions. Degraded marks a snapshot that could not be
// fetched because the ephemeral store was unreachable.
type HybridState struct {
	Presence *models.CanvasPresence   `json:"presence,omitempty"`
	Sessions []*models.EditingSession `json:"sessions"`
	Degraded bool                     `json:"degraded"`
}

// GetHybridState returns the hybrid view of a canvas.
func (s *Service) GetHybridState(ctx context.Context, canvasID string) (*HybridState, error) {
	state := &HybridState{}

	presence, err := s.GetCanvasPresence(ctx, canvasID)
	if err != nil {
		s.logger.Warn("presence snapshot unavailable, serving durable sessions only",
			"canvasId", canvasID, "error", err)
		state.Degraded = true
	} else {
		state.Presence = presence
	}

	active, err := s.durable.ListByCanvas(ctx, canvasID, true)
	if err != nil {
		return nil, fmt.Errorf("hybrid state: %w", err)
	}
	state.Sessions = active
	return state, nil
}
