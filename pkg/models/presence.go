package models

import "time"

// UserPresence records a user's membership on a canvas. It lives in the
// ephemeral store under a 300s TTL and is refreshed by heartbeats.
type UserPresence struct {
	CanvasID       string    `json:"canvasId"`
	UserID         string    `json:"userId"`
	User           User      `json:"user"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IsActive       bool      `json:"isActive"`
}

// ConversationFocus marks the conversation a user is currently viewing.
// A user holds at most one focus per canvas.
type ConversationFocus struct {
	CanvasID       string    `json:"canvasId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	User           User      `json:"user"`
	FocusedAt      time.Time `json:"focusedAt"`
}

// CursorPosition is a user's last reported cursor location on the canvas.
// Updates are throttled to one write per second per user.
type CursorPosition struct {
	CanvasID  string    `json:"canvasId"`
	UserID    string    `json:"userId"`
	User      User      `json:"user"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TypingIndicator marks a user as typing in a node. It expires after 10s
// unless renewed; absence means not typing.
type TypingIndicator struct {
	CanvasID  string    `json:"canvasId"`
	NodeID    string    `json:"nodeId"`
	UserID    string    `json:"userId"`
	User      User      `json:"user"`
	StartedAt time.Time `json:"startedAt"`
}

// CanvasPresence is the aggregate snapshot returned to joining clients and
// by the presence endpoints.
type CanvasPresence struct {
	CanvasID          string                         `json:"canvasId"`
	Users             []UserPresence                 `json:"users"`
	ConversationFocus map[string][]ConversationFocus `json:"conversationFocus"`
	NodeLocks         map[string]NodeLock            `json:"nodeLocks"`
	Cursors           map[string]CursorPosition      `json:"cursors"`
	TypingIndicators  map[string][]TypingIndicator   `json:"typingIndicators"`
	LastUpdated       time.Time                      `json:"lastUpdated"`
}
