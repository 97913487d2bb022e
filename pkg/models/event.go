package models

import (
	"encoding/json"
	"time"
)

// CollabEventType identifies a collaboration state change published on the
// per-canvas channel.
type CollabEventType string

const (
	EventUserJoined          CollabEventType = "USER_JOINED"
	EventUserLeft            CollabEventType = "USER_LEFT"
	EventConversationFocused CollabEventType = "CONVERSATION_FOCUSED"
	EventNodeLocked          CollabEventType = "NODE_LOCKED"
	EventNodeUnlocked        CollabEventType = "NODE_UNLOCKED"
	EventCursorUpdated       CollabEventType = "CURSOR_UPDATED"
	EventTypingStarted       CollabEventType = "TYPING_STARTED"
	EventTypingStopped       CollabEventType = "TYPING_STOPPED"
	EventLockExpired         CollabEventType = "LOCK_EXPIRED"
)

// CollabEvent is the wire envelope for every collaboration event. Data holds
// the entity the event describes; Timestamp is ISO-8601 UTC on the wire.
type CollabEvent struct {
	Type      CollabEventType `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewCollabEvent builds an event envelope, marshaling data in place.
func NewCollabEvent(typ CollabEventType, data any) (*CollabEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &CollabEvent{
		Type:      typ,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}
