package collab

import (
	"context"
	"strings"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// FocusConversation records the conversation a user is viewing. A user holds
// at most one focus per canvas: any previous focus is evicted in the same
// batch that writes the new one.
func (s *Service) FocusConversation(ctx context.Context, canvasID, conversationID string, user models.User) (*models.ConversationFocus, error) {
	const op = "focus_conversation"
	if canvasID == "" || conversationID == "" || user.ID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId, conversationId, and user.id are required"))
	}

	stale, err := s.ess.Scan(ctx, ephemeral.FocusKeyPattern(canvasID, user.ID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}

	focus := &models.ConversationFocus{
		CanvasID:       canvasID,
		ConversationID: conversationID,
		UserID:         user.ID,
		User:           user,
		FocusedAt:      s.nowFunc(),
	}

	newKey := ephemeral.FocusKey(canvasID, conversationID, user.ID)
	pipe := s.ess.Pipeline()
	for _, key := range stale {
		if key == newKey {
			continue
		}
		pipe.Delete(key)
		pipe.SetRemove(strings.TrimSuffix(key, ":"+user.ID), user.ID)
	}
	pipe.HashSet(newKey, encodeFocus(focus), s.cfg.PresenceTTL)
	pipe.SetAdd(ephemeral.FocusSetKey(canvasID, conversationID), user.ID)
	if err := pipe.Exec(ctx); err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}

	s.publish(ctx, canvasID, models.EventConversationFocused, focus)
	return focus, s.finish(op, nil)
}
