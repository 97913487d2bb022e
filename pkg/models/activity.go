package models

import "time"

// ActivityType is the closed enum of domain events recorded in the feed.
type ActivityType string

const (
	ActivityConversationCreated ActivityType = "conversation_created"
	ActivityConversationDeleted ActivityType = "conversation_deleted"
	ActivityConversationMoved   ActivityType = "conversation_moved"
	ActivityConversationRenamed ActivityType = "conversation_renamed"
	ActivityNodeCreated         ActivityType = "node_created"
	ActivityNodeEdited          ActivityType = "node_edited"
	ActivityNodeDeleted         ActivityType = "node_deleted"
	ActivityBranchCreated       ActivityType = "branch_created"
	ActivityFileUploaded        ActivityType = "file_uploaded"
	ActivityUserJoinedCanvas    ActivityType = "user_joined_canvas"
	ActivityUserLeftCanvas      ActivityType = "user_left_canvas"
	ActivityNodeLocked          ActivityType = "node_locked"
	ActivityNodeUnlocked        ActivityType = "node_unlocked"
	ActivityBulkDelete          ActivityType = "bulk_delete"
	ActivityBulkMove            ActivityType = "bulk_move"
	ActivityCanvasReorganized   ActivityType = "canvas_reorganized"
	ActivityConflictDetected    ActivityType = "conflict_detected"
	ActivityErrorOccurred       ActivityType = "error_occurred"
)

// ActivityPriority buckets activities for notification and batching policy.
type ActivityPriority string

const (
	PriorityCritical ActivityPriority = "critical"
	PriorityHigh     ActivityPriority = "high"
	PriorityMedium   ActivityPriority = "medium"
	PriorityLow      ActivityPriority = "low"
)

var activityPriorities = map[ActivityType]ActivityPriority{
	ActivityConflictDetected:    PriorityCritical,
	ActivityErrorOccurred:       PriorityCritical,
	ActivityBranchCreated:       PriorityHigh,
	ActivityConversationCreated: PriorityHigh,
	ActivityConversationDeleted: PriorityHigh,
	ActivityUserJoinedCanvas:    PriorityHigh,
	ActivityUserLeftCanvas:      PriorityHigh,
	ActivityBulkDelete:          PriorityHigh,
	ActivityNodeCreated:         PriorityMedium,
	ActivityNodeDeleted:         PriorityMedium,
	ActivityConversationRenamed: PriorityMedium,
	ActivityFileUploaded:        PriorityMedium,
	ActivityCanvasReorganized:   PriorityMedium,
	ActivityBulkMove:            PriorityMedium,
	ActivityNodeEdited:          PriorityLow,
	ActivityConversationMoved:   PriorityLow,
	ActivityNodeLocked:          PriorityLow,
	ActivityNodeUnlocked:        PriorityLow,
}

// Priority returns the notification priority for the activity type.
// Unknown types default to low.
func (t ActivityType) Priority() ActivityPriority {
	if p, ok := activityPriorities[t]; ok {
		return p
	}
	return PriorityLow
}

// Valid reports whether t is a member of the closed enum.
func (t ActivityType) Valid() bool {
	_, ok := activityPriorities[t]
	return ok
}

var batchableTypes = map[ActivityType]bool{
	ActivityNodeEdited:        true,
	ActivityConversationMoved: true,
	ActivityNodeLocked:        true,
	ActivityNodeUnlocked:      true,
}

// Batchable reports whether frequent activities of this type are coalesced
// into a single record.
func (t ActivityType) Batchable() bool {
	return batchableTypes[t]
}

var highPriorityNotify = map[ActivityType]bool{
	ActivityBranchCreated:       true,
	ActivityConflictDetected:    true,
	ActivityErrorOccurred:       true,
	ActivityUserJoinedCanvas:    true,
	ActivityUserLeftCanvas:      true,
	ActivityConversationCreated: true,
}

// Notifies reports whether the type additionally triggers an
// activity_notification toast broadcast.
func (t ActivityType) Notifies() bool {
	return highPriorityNotify[t]
}

// Activity is a durable, immutable record of a domain event.
type Activity struct {
	ID             string           `json:"id"`
	CanvasID       string           `json:"canvasId"`
	ConversationID string           `json:"conversationId,omitempty"`
	NodeID         string           `json:"nodeId,omitempty"`
	UserID         string           `json:"userId"`
	UserName       string           `json:"userName"`
	Type           ActivityType     `json:"type"`
	Description    string           `json:"description"`
	Priority       ActivityPriority `json:"priority"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	BatchID        string           `json:"batchId,omitempty"`
}

// ActivitySummary aggregates activity over a time window.
type ActivitySummary struct {
	CanvasID    string                                 `json:"canvasId"`
	WindowHours int                                    `json:"windowHours"`
	TotalCount  int                                    `json:"totalCount"`
	ByType      map[ActivityType]ActivityTypeBreakdown `json:"byType"`
	TopUsers    []ActivityUserCount                    `json:"topUsers"`
	GeneratedAt time.Time                              `json:"generatedAt"`
}

// ActivityTypeBreakdown is the per-type slice of a summary.
type ActivityTypeBreakdown struct {
	Count          int       `json:"count"`
	UserCount      int       `json:"userCount"`
	LatestActivity time.Time `json:"latestActivity"`
}

// ActivityUserCount ranks a user by activity volume in the window.
type ActivityUserCount struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Count    int    `json:"count"`
}
