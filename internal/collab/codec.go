package collab

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// Hash field layouts for presence, focus, and cursor records. Field names
// match the JSON wire names so existing clusters read both forms.

func encodeUser(u models.User) string {
	raw, _ := json.Marshal(u)
	return string(raw)
}

func decodeUser(raw string) (models.User, error) {
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return models.User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

func encodePresence(p *models.UserPresence) map[string]string {
	return map[string]string{
		"canvasId":       p.CanvasID,
		"userId":         p.UserID,
		"user":           encodeUser(p.User),
		"joinedAt":       p.JoinedAt.UTC().Format(time.RFC3339Nano),
		"lastActivityAt": p.LastActivityAt.UTC().Format(time.RFC3339Nano),
		"isActive":       strconv.FormatBool(p.IsActive),
	}
}

func decodePresence(fields map[string]string) (*models.UserPresence, error) {
	if fields["userId"] == "" {
		return nil, fmt.Errorf("presence record missing userId")
	}
	user, err := decodeUser(fields["user"])
	if err != nil {
		return nil, err
	}
	joined, err := parseTime(fields["joinedAt"])
	if err != nil {
		return nil, err
	}
	lastActivity, err := parseTime(fields["lastActivityAt"])
	if err != nil {
		return nil, err
	}
	return &models.UserPresence{
		CanvasID:       fields["canvasId"],
		UserID:         fields["userId"],
		User:           user,
		JoinedAt:       joined,
		LastActivityAt: lastActivity,
		IsActive:       fields["isActive"] == "true",
	}, nil
}

func encodeFocus(f *models.ConversationFocus) map[string]string {
	return map[string]string{
		"canvasId":       f.CanvasID,
		"conversationId": f.ConversationID,
		"userId":         f.UserID,
		"user":           encodeUser(f.User),
		"focusedAt":      f.FocusedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeFocus(fields map[string]string) (*models.ConversationFocus, error) {
	if fields["userId"] == "" || fields["conversationId"] == "" {
		return nil, fmt.Errorf("focus record missing userId or conversationId")
	}
	user, err := decodeUser(fields["user"])
	if err != nil {
		return nil, err
	}
	focusedAt, err := parseTime(fields["focusedAt"])
	if err != nil {
		return nil, err
	}
	return &models.ConversationFocus{
		CanvasID:       fields["canvasId"],
		ConversationID: fields["conversationId"],
		UserID:         fields["userId"],
		User:           user,
		FocusedAt:      focusedAt,
	}, nil
}

func encodeCursor(c *models.CursorPosition) map[string]string {
	return map[string]string{
		"canvasId":  c.CanvasID,
		"userId":    c.UserID,
		"user":      encodeUser(c.User),
		"x":         strconv.FormatFloat(c.X, 'f', -1, 64),
		"y":         strconv.FormatFloat(c.Y, 'f', -1, 64),
		"updatedAt": c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeCursor(fields map[string]string) (*models.CursorPosition, error) {
	if fields["userId"] == "" {
		return nil, fmt.Errorf("cursor record missing userId")
	}
	user, err := decodeUser(fields["user"])
	if err != nil {
		return nil, err
	}
	x, err := strconv.ParseFloat(fields["x"], 64)
	if err != nil {
		return nil, fmt.Errorf("decode cursor x: %w", err)
	}
	y, err := strconv.ParseFloat(fields["y"], 64)
	if err != nil {
		return nil, fmt.Errorf("decode cursor y: %w", err)
	}
	updatedAt, err := parseTime(fields["updatedAt"])
	if err != nil {
		return nil, err
	}
	return &models.CursorPosition{
		CanvasID:  fields["canvasId"],
		UserID:    fields["userId"],
		User:      user,
		X:         x,
		Y:         y,
		UpdatedAt: updatedAt,
	}, nil
}

// Locks and typing indicators store the whole record as one JSON string so
// SetNX covers the full lock payload atomically.

func encodeLock(l *models.NodeLock) string {
	raw, _ := json.Marshal(l)
	return string(raw)
}

func decodeLock(raw string) (*models.NodeLock, error) {
	var l models.NodeLock
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	return &l, nil
}

func encodeTyping(t *models.TypingIndicator) string {
	raw, _ := json.Marshal(t)
	return string(raw)
}

func decodeTyping(raw string) (*models.TypingIndicator, error) {
	var t models.TypingIndicator
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode typing indicator: %w", err)
	}
	return &t, nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp %q: %w", raw, err)
	}
	return t, nil
}
