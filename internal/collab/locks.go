package collab

import (
	"context"
	"time"

	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/pkg/models"
)

// LockNode acquires the single-writer lock on a node for the requested lease
// duration (the configured lock timeout when zero). sessionID ties the lock to
// the caller's editing session and may be empty. The holder re-locking extends
// the lease without publishing; another holder fails with LOCK_ALREADY_HELD
// carrying the current lock. Races between concurrent acquirers are settled by
// the store's create-if-absent write alone.
func (s *Service) LockNode(ctx context.Context, canvasID, conversationID, nodeID string, user models.User, sessionID string, duration time.Duration) (*models.NodeLock, error) {
	const op = "lock_node"
	if canvasID == "" || conversationID == "" || nodeID == "" || user.ID == "" {
		return nil, s.finish(op, NewError(CodeInvalidInput, "canvasId, conversationId, nodeId, and user.id are required"))
	}
	if duration <= 0 {
		duration = s.cfg.LockTimeout
	}

	key := ephemeral.LockKey(canvasID, conversationID, nodeID)
	now := s.nowFunc()

	current, err := s.readLock(ctx, key, now)
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	if current != nil {
		if current.UserID == user.ID {
			extended, err := s.extendLock(ctx, key, current, now, duration)
			if err != nil {
				return nil, s.finish(op, s.connErr(op, err))
			}
			return extended, s.finish(op, nil)
		}
		s.metrics.RecordLockContention()
		return nil, s.finish(op, lockHeldError(current))
	}

	lock := &models.NodeLock{
		CanvasID:       canvasID,
		ConversationID: conversationID,
		NodeID:         nodeID,
		UserID:         user.ID,
		User:           user,
		LockedAt:       now,
		ExpiresAt:      now.Add(duration),
		SessionID:      sessionID,
	}
	won, err := s.ess.SetStringNX(ctx, key, encodeLock(lock), duration)
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	if !won {
		// Lost the race. Re-read so the error names the winner.
		holder, _ := s.readLock(ctx, key, now)
		s.metrics.RecordLockContention()
		return nil, s.finish(op, lockHeldError(holder))
	}

	s.publish(ctx, canvasID, models.EventNodeLocked, lock)
	s.logger.Debug("node locked",
		"canvasId", canvasID, "nodeId", nodeID, "userId", user.ID)
	return lock, s.finish(op, nil)
}

// UnlockNode releases the node lock. Unlocking an absent lock is a no-op
// and returns false; unlocking another user's lock fails LOCK_NOT_OWNED.
func (s *Service) UnlockNode(ctx context.Context, canvasID, conversationID, nodeID, userID string) (bool, error) {
	const op = "unlock_node"
	if canvasID == "" || conversationID == "" || nodeID == "" || userID == "" {
		return false, s.finish(op, NewError(CodeInvalidInput, "canvasId, conversationId, nodeId, and userId are required"))
	}

	key := ephemeral.LockKey(canvasID, conversationID, nodeID)
	lock, err := s.readLock(ctx, key, s.nowFunc())
	if err != nil {
		return false, s.finish(op, s.connErr(op, err))
	}
	if lock == nil {
		return false, s.finish(op, nil)
	}
	if lock.UserID != userID {
		return false, s.finish(op, NewError(CodeLockNotOwned, "lock is held by another user").
			WithDetails(map[string]any{"currentLock": lock}))
	}

	if err := s.ess.Delete(ctx, key); err != nil {
		return false, s.finish(op, s.connErr(op, err))
	}
	s.publish(ctx, canvasID, models.EventNodeUnlocked, lock)
	return true, s.finish(op, nil)
}

// ExtendNodeLock renews the holder's lease for a full lock timeout from now.
// No event is published; the expiry moving forward is invisible to peers.
func (s *Service) ExtendNodeLock(ctx context.Context, canvasID, conversationID, nodeID, userID string) (*models.NodeLock, error) {
	const op = "extend_node_lock"
	key := ephemeral.LockKey(canvasID, conversationID, nodeID)
	now := s.nowFunc()

	lock, err := s.readLock(ctx, key, now)
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	if lock == nil {
		return nil, s.finish(op, NewError(CodeLockNotFound, "no lock exists on the node"))
	}
	if lock.UserID != userID {
		return nil, s.finish(op, NewError(CodeLockNotOwned, "lock is held by another user").
			WithDetails(map[string]any{"currentLock": lock}))
	}

	extended, err := s.extendLock(ctx, key, lock, now, s.cfg.LockTimeout)
	if err != nil {
		return nil, s.finish(op, s.connErr(op, err))
	}
	return extended, s.finish(op, nil)
}

// GetNodeLock returns the live lock on a node, or nil.
func (s *Service) GetNodeLock(ctx context.Context, canvasID, conversationID, nodeID string) (*models.NodeLock, error) {
	lock, err := s.readLock(ctx, ephemeral.LockKey(canvasID, conversationID, nodeID), s.nowFunc())
	if err != nil {
		return nil, s.connErr("get_node_lock", err)
	}
	return lock, nil
}

// readLock fetches and decodes a lock key. Expired and malformed payloads
// read as absent; TTL expiry will collect them.
func (s *Service) readLock(ctx context.Context, key string, now time.Time) (*models.NodeLock, error) {
	raw, found, err := s.ess.GetString(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	lock, err := decodeLock(raw)
	if err != nil {
		s.logger.Warn("malformed lock payload", "key", key, "error", err)
		return nil, nil
	}
	if !lock.Live(now) {
		return nil, nil
	}
	return lock, nil
}

func (s *Service) extendLock(ctx context.Context, key string, lock *models.NodeLock, now time.Time, duration time.Duration) (*models.NodeLock, error) {
	extended := *lock
	extended.ExpiresAt = now.Add(duration)
	if err := s.ess.SetString(ctx, key, encodeLock(&extended), duration); err != nil {
		return nil, err
	}
	return &extended, nil
}

func lockHeldError(holder *models.NodeLock) *Error {
	err := NewError(CodeLockAlreadyHeld, "node is locked by another user")
	if holder != nil {
		err = err.WithDetails(map[string]any{"currentLock": holder})
	}
	return err
}
