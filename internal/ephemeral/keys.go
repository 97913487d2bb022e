// Package ephemeral provides the volatile state store for collaboration:
// TTL'd keys, sets, pipelines, and per-canvas pub/sub channels.
package ephemeral

import "fmt"

// Key builders for the collaboration key scheme. The shapes are wire
// contracts shared with existing clusters and must not change.

func PresenceKey(canvasID, userID string) string {
	return fmt.Sprintf("canvas:%s:presence:%s", canvasID, userID)
}

func PresenceSetKey(canvasID string) string {
	return fmt.Sprintf("canvas:%s:presence", canvasID)
}

func FocusKey(canvasID, conversationID, userID string) string {
	return fmt.Sprintf("canvas:%s:conversation:%s:focus:%s", canvasID, conversationID, userID)
}

func FocusSetKey(canvasID, conversationID string) string {
	return fmt.Sprintf("canvas:%s:conversation:%s:focus", canvasID, conversationID)
}

// FocusKeyPattern matches every focus key a user holds on a canvas,
// regardless of conversation.
func FocusKeyPattern(canvasID, userID string) string {
	return fmt.Sprintf("canvas:%s:conversation:*:focus:%s", canvasID, userID)
}

// FocusSetKeyPattern matches every focus membership set on a canvas.
func FocusSetKeyPattern(canvasID string) string {
	return fmt.Sprintf("canvas:%s:conversation:*:focus", canvasID)
}

func LockKey(canvasID, conversationID, nodeID string) string {
	return fmt.Sprintf("canvas:%s:conversation:%s:node:%s:lock", canvasID, conversationID, nodeID)
}

// LockKeyPattern matches every node lock on a canvas.
func LockKeyPattern(canvasID string) string {
	return fmt.Sprintf("canvas:%s:conversation:*:node:*:lock", canvasID)
}

func CursorKey(canvasID, userID string) string {
	return fmt.Sprintf("canvas:%s:cursor:%s", canvasID, userID)
}

func CursorSetKey(canvasID string) string {
	return fmt.Sprintf("canvas:%s:cursors", canvasID)
}

func TypingKey(canvasID, nodeID, userID string) string {
	return fmt.Sprintf("canvas:%s:node:%s:typing:%s", canvasID, nodeID, userID)
}

func TypingSetKey(canvasID, nodeID string) string {
	return fmt.Sprintf("canvas:%s:node:%s:typing", canvasID, nodeID)
}

// TypingKeyPattern matches every typing record a user holds on a canvas.
func TypingKeyPattern(canvasID, userID string) string {
	return fmt.Sprintf("canvas:%s:node:*:typing:%s", canvasID, userID)
}

// TypingSetKeyPattern matches every typing membership set on a canvas.
func TypingSetKeyPattern(canvasID string) string {
	return fmt.Sprintf("canvas:%s:node:*:typing", canvasID)
}

func HeartbeatKey(canvasID, userID string) string {
	return fmt.Sprintf("canvas:%s:activity:%s", canvasID, userID)
}

func CursorThrottleKey(userID string) string {
	return fmt.Sprintf("throttle:cursor:%s", userID)
}

// EventsChannel is the per-canvas pub/sub channel for collaboration events.
func EventsChannel(canvasID string) string {
	return fmt.Sprintf("canvas:%s:events", canvasID)
}

// EventsChannelPattern is the pattern the gateway subscribes to once at
// startup.
const EventsChannelPattern = "canvas:*:events"
