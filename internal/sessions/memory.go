package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// MemoryStore is the in-process Store twin used by tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*models.EditingSession
	byTarget map[string]string // user_id|editing_target -> session_id

	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*models.EditingSession),
		byTarget: make(map[string]string),
		nowFunc:  time.Now,
	}
}

// SetNowFunc injects a clock for expiry tests.
func (s *MemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

func targetKey(userID, editingTarget string) string {
	return userID + "|" + editingTarget
}

func (s *MemoryStore) Upsert(ctx context.Context, session *models.EditingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := targetKey(session.UserID, session.EditingTarget)
	if existingID, ok := s.byTarget[key]; ok {
		existing := s.byID[existingID]
		delete(s.byID, existingID)
		clone := *existing
		clone.SessionID = session.SessionID
		clone.LastActivityAt = session.LastActivityAt
		clone.IsActive = true
		clone.Version++
		s.byID[session.SessionID] = &clone
		s.byTarget[key] = session.SessionID
		*session = clone
		return nil
	}

	clone := *session
	clone.Version = 1
	s.byID[clone.SessionID] = &clone
	s.byTarget[key] = clone.SessionID
	session.Version = 1
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.EditingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *MemoryStore) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.byID[sessionID]; ok {
		session.IsActive = false
		session.HasLock = false
		session.LockExpiry = nil
		session.Version++
	}
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.byID[sessionID]; ok {
		session.LastActivityAt = s.nowFunc()
		session.Version++
	}
	return nil
}

func (s *MemoryStore) FindLockConflict(ctx context.Context, editingTarget, excludeUserID string, now time.Time) (*models.EditingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.byID {
		if session.EditingTarget != editingTarget || session.UserID == excludeUserID {
			continue
		}
		if session.IsActive && session.HasLock &&
			session.LockExpiry != nil && session.LockExpiry.After(now) {
			clone := *session
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AcquireLock(ctx context.Context, sessionID string, expiry time.Time) (*models.EditingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[sessionID]
	if !ok || !session.IsActive {
		return nil, ErrNotFound
	}
	session.HasLock = true
	session.LockExpiry = &expiry
	session.LastActivityAt = s.nowFunc()
	session.Version++
	clone := *session
	return &clone, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.byID[sessionID]; ok {
		session.HasLock = false
		session.LockExpiry = nil
		session.LastActivityAt = s.nowFunc()
		session.Version++
	}
	return nil
}

func (s *MemoryStore) ListByCanvas(ctx context.Context, canvasID string, activeOnly bool) ([]*models.EditingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EditingSession
	for _, session := range s.byID {
		if session.CanvasID != canvasID {
			continue
		}
		if activeOnly && !session.IsActive {
			continue
		}
		clone := *session
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (s *MemoryStore) ActiveCanvases(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, session := range s.byID {
		if session.IsActive && !seen[session.CanvasID] {
			seen[session.CanvasID] = true
			out = append(out, session.CanvasID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeactivateStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, session := range s.byID {
		if !session.IsActive {
			continue
		}
		stale := session.LastActivityAt.Before(cutoff)
		expiredLock := session.HasLock && session.LockExpiry != nil && session.LockExpiry.Before(now)
		if stale || expiredLock {
			session.IsActive = false
			session.HasLock = false
			session.LockExpiry = nil
			session.Version++
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, session := range s.byID {
		if session.HasLock && session.LockExpiry != nil && session.LockExpiry.Before(now) {
			session.HasLock = false
			session.LockExpiry = nil
			session.Version++
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.byID {
		if session.LastActivityAt.Before(cutoff) {
			delete(s.byID, id)
			delete(s.byTarget, targetKey(session.UserID, session.EditingTarget))
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
