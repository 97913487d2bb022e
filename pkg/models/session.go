package models

import "time"

// EditingType identifies what an editing session targets.
type EditingType string

const (
	EditingTypeCanvas       EditingType = "canvas"
	EditingTypeConversation EditingType = "conversation"
	EditingTypeNode         EditingType = "node"
)

// EditingSession is the durable record of a user editing a target. One row
// exists per (user, target); rows are TTL-indexed on LastActivityAt and
// reaped after 24h.
type EditingSession struct {
	SessionID      string      `json:"sessionId"`
	UserID         string      `json:"userId"`
	User           User        `json:"user"`
	CanvasID       string      `json:"canvasId"`
	ConversationID string      `json:"conversationId,omitempty"`
	NodeID         string      `json:"nodeId,omitempty"`
	EditingType    EditingType `json:"editingType"`
	EditingTarget  string      `json:"editingTarget"`
	StartedAt      time.Time   `json:"startedAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	IsActive       bool        `json:"isActive"`
	HasLock        bool        `json:"hasLock"`
	LockExpiry     *time.Time  `json:"lockExpiry,omitempty"`

	// Version supports optimistic concurrency in the durable store. It is
	// bumped on every update and never exposed on the wire.
	Version int64 `json:"-"`
}

// Target derives the editing target identifier from the session's scope.
// Node sessions target the node, conversation sessions the conversation,
// canvas sessions the canvas itself.
func (s *EditingSession) Target() string {
	switch s.EditingType {
	case EditingTypeNode:
		return s.NodeID
	case EditingTypeConversation:
		return s.ConversationID
	default:
		return s.CanvasID
	}
}
