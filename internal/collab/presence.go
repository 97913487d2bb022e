package collab

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// JoinCanvas registers a user on a canvas: presence record, membership set,
// and an initial heartbeat. Joining twice refreshes the existing record.
func (s *Service) JoinCanvas(ctx context.Context, canvasID string, user models.User) (*models.UserPresence, error) {
	const op = "join_canvas"
	if canvasID == "" || user.ID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId and user.id are required"))
	}

	now := s.nowFunc()
	presence := &models.UserPresence{
		CanvasID:       canvasID,
		UserID:         user.ID,
		User:           user,
		JoinedAt:       now,
		LastActivityAt: now,
		IsActive:       true,
	}

	pipe := s.ess.Pipeline()
	pipe.HashSet(ephemeral.PresenceKey(canvasID, user.ID), encodePresence(presence), s.cfg.PresenceTTL)
	pipe.SetAdd(ephemeral.PresenceSetKey(canvasID), user.ID)
	pipe.SetString(ephemeral.HeartbeatKey(canvasID, user.ID),
		strconv.FormatInt(now.UnixMilli(), 10), s.cfg.HeartbeatTTL)
	if err := pipe.Exec(ctx); err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}

	s.publish(ctx, canvasID, models.EventUserJoined, presence)
	s.logger.Debug("user joined canvas", "canvasId", canvasID, "userId", user.ID)
	return presence, s.finish(op, nil)
}

// LeaveCanvas removes every ephemeral trace of the user on the canvas:
// presence, heartbeat, cursor, all focus records, and all typing indicators.
// Leaving a canvas the user never joined is a no-op.
func (s *Service) LeaveCanvas(ctx context.Context, canvasID, userID string) error {
	const op = "leave_canvas"
	if canvasID == "" || userID == "" {
		return s.finish(op, NewError(CodeInvalidInput, "canvasId and userId are required"))
	}

	// Best-effort read so USER_LEFT can carry the user object.
	var user *models.User
	if fields, err := s.ess.HashGetAll(ctx, ephemeral.PresenceKey(canvasID, userID)); err == nil && len(fields) > 0 {
		if presence, derr := decodePresence(fields); derr == nil {
			user = &presence.User
		}
	}

	focusKeys, err := s.ess.Scan(ctx, ephemeral.FocusKeyPattern(canvasID, userID))
	if err != nil {
		return s.finish(op, s.connErr(op, err))
	}
	typingKeys, err := s.ess.Scan(ctx, ephemeral.TypingKeyPattern(canvasID, userID))
	if err != nil {
		return s.finish(op, s.connErr(op, err))
	}

	pipe := s.ess.Pipeline()
	pipe.Delete(
		ephemeral.PresenceKey(canvasID, userID),
		ephemeral.HeartbeatKey(canvasID, userID),
		ephemeral.CursorKey(canvasID, userID),
	)
	pipe.SetRemove(ephemeral.PresenceSetKey(canvasID), userID)
	pipe.SetRemove(ephemeral.CursorSetKey(canvasID), userID)
	for _, key := range focusKeys {
		pipe.Delete(key)
		pipe.SetRemove(strings.TrimSuffix(key, ":"+userID), userID)
	}
	for _, key := range typingKeys {
		pipe.Delete(key)
		pipe.SetRemove(strings.TrimSuffix(key, ":"+userID), userID)
	}
	if err := pipe.Exec(ctx); err != nil {
		return s.finish(op, s.connErr(op, err))
	}

	s.publish(ctx, canvasID, models.EventUserLeft, userLeftPayload{
		CanvasID: canvasID,
		UserID:   userID,
		User:     user,
	})
	s.logger.Debug("user left canvas", "canvasId", canvasID, "userId", userID)
	return s.finish(op, nil)
}

// Heartbeat refreshes the user's liveness marker and extends the presence
// TTL. Heartbeats from users who never joined fail USER_NOT_PRESENT.
func (s *Service) Heartbeat(ctx context.Context, canvasID, userID string) error {
	const op = "heartbeat"
	if canvasID == "" || userID == "" {
		return s.finish(op, NewError(CodeInvalidInput, "canvasId and userId are required"))
	}

	present, err := s.ess.Exists(ctx, ephemeral.PresenceKey(canvasID, userID))
	if err != nil {
		return s.finish(op, s.connErr(op, err))
	}
	if !present {
		return s.finish(op, NewError(CodeUserNotPresent, "user is not present on the canvas"))
	}

	now := s.nowFunc()
	pipe := s.ess.Pipeline()
	pipe.SetString(ephemeral.HeartbeatKey(canvasID, userID),
		strconv.FormatInt(now.UnixMilli(), 10), s.cfg.HeartbeatTTL)
	pipe.HashSet(ephemeral.PresenceKey(canvasID, userID),
		map[string]string{"lastActivityAt": now.UTC().Format(time.RFC3339Nano)},
		s.cfg.PresenceTTL)
	if err := pipe.Exec(ctx); err != nil {
		return s.finish(op, s.connErr(op, err))
	}
	return s.finish(op, nil)
}
