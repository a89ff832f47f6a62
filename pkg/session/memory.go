package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory maps. The per-user active
// index is maintained under the same lock as the records, so CreateActive is
// atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   map[string]string // userID -> sessionID
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		active:   make(map[string]string),
	}
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return clone(sess), nil
}

// FindActiveByUser returns the user's active session.
func (s *MemoryStore) FindActiveByUser(_ context.Context, userID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[userID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return clone(s.sessions[id]), nil
}

// CreateActive persists a new active session unless the user already has one.
func (s *MemoryStore) CreateActive(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[sess.UserID]; ok {
		return ErrActiveSessionExists
	}
	s.putLocked(sess)
	return nil
}

// Put creates or replaces a session.
func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[sess.UserID]; ok && id != sess.ID && sess.Status.IsActive() {
		return ErrActiveSessionExists
	}
	s.putLocked(sess)
	return nil
}

func (s *MemoryStore) putLocked(sess *Session) {
	if prev, ok := s.sessions[sess.ID]; ok && s.active[prev.UserID] == prev.ID {
		delete(s.active, prev.UserID)
	}
	s.sessions[sess.ID] = clone(sess)
	if sess.Status.IsActive() {
		s.active[sess.UserID] = sess.ID
	}
}

// UpdateFields applies a partial update.
func (s *MemoryStore) UpdateFields(_ context.Context, id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == StatusTerminated {
		return ErrTerminal
	}

	u.apply(sess, time.Now())
	if !sess.Status.IsActive() && s.active[sess.UserID] == sess.ID {
		delete(s.active, sess.UserID)
	}
	return nil
}

// ListExpiredActive returns active sessions whose expiry has passed.
func (s *MemoryStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, id := range s.active {
		sess := s.sessions[id]
		if !sess.ExpiresAt.After(now) {
			result = append(result, clone(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, clone(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (*MemoryStore) Close() error {
	return nil
}

func clone(sess *Session) *Session {
	c := *sess
	if sess.TerminatedAt != nil {
		t := *sess.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
