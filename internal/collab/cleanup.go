package collab

import (
	"context"
	"strconv"
	"time"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// CleanupStalePresence evicts canvas members whose heartbeat is missing or
// older than twice the heartbeat TTL. Eviction runs the full leave path, so
// peers see USER_LEFT and every derived record goes with the presence.
// Per-user failures are logged and skipped; the sweep continues.
func (s *Service) CleanupStalePresence(ctx context.Context, canvasID string) (int, error) {
	const op = "cleanup_stale_presence"
	members, err := s.ess.SetMembers(ctx, ephemeral.PresenceSetKey(canvasID))
	if err != nil {
		return 0, s.finish(op, s.connErr(op, err))
	}

	cutoff := s.nowFunc().Add(-2 * s.cfg.HeartbeatTTL)
	removed := 0
	for _, userID := range members {
		raw, found, err := s.ess.GetString(ctx, ephemeral.HeartbeatKey(canvasID, userID))
		if err != nil {
			s.logger.Warn("heartbeat read failed during cleanup",
				"canvasId", canvasID, "userId", userID, "error", err)
			continue
		}
		stale := !found
		if found {
			ms, perr := strconv.ParseInt(raw, 10, 64)
			stale = perr != nil || time.UnixMilli(ms).Before(cutoff)
		}
		if !stale {
			continue
		}
		if err := s.LeaveCanvas(ctx, canvasID, userID); err != nil {
			s.logger.Warn("stale presence eviction failed",
				"canvasId", canvasID, "userId", userID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("evicted stale presence", "canvasId", canvasID, "count", removed)
	}
	return removed, s.finish(op, nil)
}

// CleanupStaleLocks clears expired locks on a canvas and publishes
// LOCK_EXPIRED for each. It sweeps both stores: ephemeral lock keys whose
// payload expired before the TTL collected them, and durable sessions whose
// lock lapsed after the ephemeral key already vanished.
func (s *Service) CleanupStaleLocks(ctx context.Context, canvasID string) (int, error) {
	const op = "cleanup_stale_locks"
	now := s.nowFunc()
	cleared := 0

	keys, err := s.ess.Scan(ctx, ephemeral.LockKeyPattern(canvasID))
	if err != nil {
		s.logger.Warn("lock scan failed, sweeping durable store only",
			"canvasId", canvasID, "error", err)
		keys = nil
	}
	for _, key := range keys {
		raw, found, err := s.ess.GetString(ctx, key)
		if err != nil || !found {
			continue
		}
		lock, err := decodeLock(raw)
		if err != nil {
			s.logger.Warn("deleting malformed lock record", "key", key, "error", err)
			_ = s.ess.Delete(ctx, key)
			continue
		}
		if lock.Live(now) {
			continue
		}
		if err := s.ess.Delete(ctx, key); err != nil {
			s.logger.Warn("expired lock delete failed", "key", key, "error", err)
			continue
		}
		s.publish(ctx, canvasID, models.EventLockExpired, lock)
		cleared++
	}

	active, err := s.durable.ListByCanvas(ctx, canvasID, true)
	if err != nil {
		return cleared, s.finish(op, err)
	}
	for _, session := range active {
		if !session.HasLock || session.LockExpiry == nil || session.LockExpiry.After(now) {
			continue
		}
		if session.EditingType == models.EditingTypeNode && session.NodeID != "" {
			// A live ephemeral lock means the holder renewed; leave it be.
			key := ephemeral.LockKey(session.CanvasID, session.ConversationID, session.NodeID)
			if lock, err := s.readLock(ctx, key, now); err == nil && lock != nil {
				continue
			}
		}
		if err := s.durable.ReleaseLock(ctx, session.SessionID); err != nil {
			s.logger.Warn("durable lock release failed during cleanup",
				"sessionId", session.SessionID, "error", err)
			continue
		}
		s.publish(ctx, canvasID, models.EventLockExpired, &models.NodeLock{
			CanvasID:       session.CanvasID,
			ConversationID: session.ConversationID,
			NodeID:         session.NodeID,
			UserID:         session.UserID,
			User:           session.User,
			LockedAt:       session.LastActivityAt,
			ExpiresAt:      *session.LockExpiry,
			SessionID:      session.SessionID,
		})
		cleared++
	}

	if cleared > 0 {
		s.logger.Info("cleared stale locks", "canvasId", canvasID, "count", cleared)
	}
	return cleared, s.finish(op, nil)
}
