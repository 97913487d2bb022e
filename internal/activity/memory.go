package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// MemoryStore is the in-process Store twin used by tests and dev mode.
type MemoryStore struct {
	mu         sync.RWMutex
	activities []*models.Activity
}

// NewMemoryStore creates an empty in-memory activity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, activity *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *activity
	s.activities = append(s.activities, &clone)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[models.ActivityType]bool, len(filter.Types))
	for _, t := range filter.Types {
		typeSet[t] = true
	}

	var matched []*models.Activity
	for _, activity := range s.activities {
		if filter.CanvasID != "" && activity.CanvasID != filter.CanvasID {
			continue
		}
		if filter.ConversationID != "" && activity.ConversationID != filter.ConversationID {
			continue
		}
		if filter.UserID != "" && activity.UserID != filter.UserID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[activity.Type] {
			continue
		}
		if !filter.Since.IsZero() && activity.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !activity.Timestamp.Before(filter.Until) {
			continue
		}
		clone := *activity
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Summary(ctx context.Context, canvasID string, since time.Time) (*models.ActivitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &models.ActivitySummary{
		CanvasID:    canvasID,
		ByType:      make(map[models.ActivityType]models.ActivityTypeBreakdown),
		TopUsers:    []models.ActivityUserCount{},
		GeneratedAt: time.Now().UTC(),
	}
	typeUsers := make(map[models.ActivityType]map[string]bool)
	userCounts := make(map[string]*models.ActivityUserCount)

	for _, activity := range s.activities {
		if activity.CanvasID != canvasID || activity.Timestamp.Before(since) {
			continue
		}
		summary.TotalCount++

		breakdown := summary.ByType[activity.Type]
		breakdown.Count++
		if users, ok := typeUsers[activity.Type]; !ok {
			typeUsers[activity.Type] = map[string]bool{activity.UserID: true}
		} else {
			users[activity.UserID] = true
		}
		breakdown.UserCount = len(typeUsers[activity.Type])
		if activity.Timestamp.After(breakdown.LatestActivity) {
			breakdown.LatestActivity = activity.Timestamp
		}
		summary.ByType[activity.Type] = breakdown

		if count, ok := userCounts[activity.UserID]; ok {
			count.Count++
		} else {
			userCounts[activity.UserID] = &models.ActivityUserCount{
				UserID:   activity.UserID,
				UserName: activity.UserName,
				Count:    1,
			}
		}
	}

	for _, count := range userCounts {
		summary.TopUsers = append(summary.TopUsers, *count)
	}
	sort.Slice(summary.TopUsers, func(i, j int) bool {
		if summary.TopUsers[i].Count != summary.TopUsers[j].Count {
			return summary.TopUsers[i].Count > summary.TopUsers[j].Count
		}
		return summary.TopUsers[i].UserID < summary.TopUsers[j].UserID
	})
	if len(summary.TopUsers) > 10 {
		summary.TopUsers = summary.TopUsers[:10]
	}
	return summary, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.Activity
	var removed int64
	for _, activity := range s.activities {
		if activity.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, activity)
	}
	s.activities = kept
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
