package collab

import (
	"context"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// UpdateTyping starts or stops a typing indicator on a node. Started
// indicators expire on their own after the typing TTL; stopping one that
// already expired is a no-op.
func (s *Service) UpdateTyping(ctx context.Context, canvasID, nodeID string, user models.User, isTyping bool) (*models.TypingIndicator, error) {
	const op = "update_typing"
	if canvasID == "" || nodeID == "" || user.ID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId, nodeId, and user.id are required"))
	}

	key := ephemeral.TypingKey(canvasID, nodeID, user.ID)
	setKey := ephemeral.TypingSetKey(canvasID, nodeID)

	if !isTyping {
		pipe := s.ess.Pipeline()
		pipe.Delete(key)
		pipe.SetRemove(setKey, user.ID)
		if err := pipe.Exec(ctx); err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		s.publish(ctx, canvasID, models.EventTypingStopped, typingStoppedPayload{
			CanvasID: canvasID,
			NodeID:   nodeID,
			UserID:   user.ID,
			User:     user,
		})
		return nil, s.finish(op, nil)
	}

	indicator := &models.TypingIndicator{
		CanvasID:  canvasID,
		NodeID:    nodeID,
		UserID:    user.ID,
		User:      user,
		StartedAt: s.nowFunc(),
	}
	pipe := s.ess.Pipeline()
	pipe.SetString(key, encodeTyping(indicator), s.cfg.TypingTTL)
	pipe.SetAdd(setKey, user.ID)
	if err := pipe.Exec(ctx); err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	s.publish(ctx, canvasID, models.EventTypingStarted, indicator)
	return indicator, s.finish(op, nil)
}
