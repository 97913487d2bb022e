package collab

import (
	"context"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// GetCanvasPresence assembles the full collaboration snapshot for a canvas:
// users, per-conversation focus, live node locks, cursors, and typing
// indicators. Records that fail to decode are skipped, not fatal; stale set
// members whose backing record expired simply do not appear.
func (s *Service) GetCanvasPresence(ctx context.Context, canvasID string) (*models.CanvasPresence, error) {
	const op = "get_canvas_presence"
	if canvasID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId is required"))
	}

	now := s.nowFunc()
	snapshot := &models.CanvasPresence{
		CanvasID:          canvasID,
		Users:             []models.UserPresence{},
		ConversationFocus: make(map[string][]models.ConversationFocus),
		NodeLocks:         make(map[string]models.NodeLock),
		Cursors:           make(map[string]models.CursorPosition),
		TypingIndicators:  make(map[string][]models.TypingIndicator),
		LastUpdated:       now,
	}

	members, err := s.ess.SetMembers(ctx, ephemeral.PresenceSetKey(canvasID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	for _, userID := range members {
		fields, err := s.ess.HashGetAll(ctx, ephemeral.PresenceKey(canvasID, userID))
		if err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		if len(fields) == 0 {
			continue
		}
		presence, err := decodePresence(fields)
		if err != nil {
			s.logger.Warn("skipping malformed presence record",
				"canvasId", canvasID, "userId", userID, "error", err)
			continue
		}
		snapshot.Users = append(snapshot.Users, *presence)
	}

	focusSets, err := s.ess.Scan(ctx, ephemeral.FocusSetKeyPattern(canvasID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	for _, setKey := range focusSets {
		userIDs, err := s.ess.SetMembers(ctx, setKey)
		if err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		for _, userID := range userIDs {
			fields, err := s.ess.HashGetAll(ctx, setKey+":"+userID)
			if err != nil {
				return nil, s.finish(op, s.connErr(op, err))
			}
			if len(fields) == 0 {
				continue
			}
			focus, err := decodeFocus(fields)
			if err != nil {
				s.logger.Warn("skipping malformed focus record",
					"canvasId", canvasID, "userId", userID, "error", err)
				continue
			}
			snapshot.ConversationFocus[focus.ConversationID] =
				append(snapshot.ConversationFocus[focus.ConversationID], *focus)
		}
	}

	lockKeys, err := s.ess.Scan(ctx, ephemeral.LockKeyPattern(canvasID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	for _, key := range lockKeys {
		raw, found, err := s.ess.GetString(ctx, key)
		if err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		if !found {
			continue
		}
		lock, err := decodeLock(raw)
		if err != nil {
			s.logger.Warn("skipping malformed lock record", "key", key, "error", err)
			continue
		}
		if lock.Live(now) {
			snapshot.NodeLocks[lock.NodeID] = *lock
		}
	}

	cursorIDs, err := s.ess.SetMembers(ctx, ephemeral.CursorSetKey(canvasID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	for _, userID := range cursorIDs {
		fields, err := s.ess.HashGetAll(ctx, ephemeral.CursorKey(canvasID, userID))
		if err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		if len(fields) == 0 {
			continue
		}
		cursor, err := decodeCursor(fields)
		if err != nil {
			s.logger.Warn("skipping malformed cursor record",
				"canvasId", canvasID, "userId", userID, "error", err)
			continue
		}
		snapshot.Cursors[userID] = *cursor
	}

	typingSets, err := s.ess.Scan(ctx, ephemeral.TypingSetKeyPattern(canvasID))
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	for _, setKey := range typingSets {
		userIDs, err := s.ess.SetMembers(ctx, setKey)
		if err != nil {
			return nil, s.finish(op, s.connErr(op, err))
		}
		for _, userID := range userIDs {
			raw, found, err := s.ess.GetString(ctx, setKey+":"+userID)
			if err != nil {
				return nil, s.finish(op, s.connErr(op, err))
			}
			if !found {
				continue
			}
			indicator, err := decodeTyping(raw)
			if err != nil {
				s.logger.Warn("skipping malformed typing record",
					"canvasId", canvasID, "userId", userID, "error", err)
				continue
			}
			snapshot.TypingIndicators[indicator.NodeID] =
				append(snapshot.TypingIndicators[indicator.NodeID], *indicator)
		}
	}

	return snapshot, s.finish(op, nil)
}
