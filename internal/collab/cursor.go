package collab

import (
	"context"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// UpdateCursor stores the user's cursor position. Updates are throttled to
// one per user per throttle window; excess updates fail
// THROTTLE_LIMIT_EXCEEDED, which callers treat as routine backpressure
// rather than a fault. The event fan-out happens off the caller's path.
func (s *Service) UpdateCursor(ctx context.Context, canvasID string, user models.User, x, y float64) (*models.CursorPosition, error) {
	const op = "update_cursor"
	if canvasID == "" || user.ID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId and user.id are required"))
	}

	throttleKey := ephemeral.CursorThrottleKey(user.ID)
	throttled, err := s.ess.Exists(ctx, throttleKey)
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	if throttled {
		s.metrics.RecordCursorThrottled()
		return nil, s.finish(op, NewError(CodeThrottled, "cursor updates limited to one per second"))
	}

	cursor := &models.CursorPosition{
		CanvasID:  canvasID,
		UserID:    user.ID,
		User:      user,
		X:         x,
		Y:         y,
		UpdatedAt: s.nowFunc(),
	}
	// The throttle key rides in the cursor batch, so a failed write does not
	// burn the window.
	pipe := s.ess.Pipeline()
	pipe.HashSet(ephemeral.CursorKey(canvasID, user.ID), encodeCursor(cursor), s.cfg.CursorTTL)
	pipe.SetAdd(ephemeral.CursorSetKey(canvasID), user.ID)
	pipe.SetString(throttleKey, "1", s.cfg.CursorThrottle)
	if err := pipe.Exec(ctx); err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}

	go s.publish(context.WithoutCancel(ctx), canvasID, models.EventCursorUpdated, cursor)
	return cursor, s.finish(op, nil)
}
