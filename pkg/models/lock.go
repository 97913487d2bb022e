package models

import "time"

// NodeLock is the single-writer exclusive lock on a node. A lock whose
// ExpiresAt has passed is semantically absent regardless of storage state.
type NodeLock struct {
	CanvasID       string    `json:"canvasId"`
	ConversationID string    `json:"conversationId"`
	NodeID         string    `json:"nodeId"`
	UserID         string    `json:"userId"`
	User           User      `json:"user"`
	LockedAt       time.Time `json:"lockedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	SessionID      string    `json:"sessionId,omitempty"`
}

// Live reports whether the lock is still active at the given instant.
func (l *NodeLock) Live(now time.Time) bool {
	return l != nil && l.ExpiresAt.After(now)
}

// LockStatus is the answer to a realtime lock query. Source records which
// store produced the answer ("redis" or "database").
type LockStatus struct {
	HasLock bool      `json:"hasLock"`
	Lock    *NodeLock `json:"lock,omitempty"`
	Source  string    `json:"source"`
}
