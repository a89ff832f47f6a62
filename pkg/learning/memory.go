package learning

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[string]Challenge
	profiles   map[string]*Profile
	progress   map[string]map[string]Progress // user -> challenge -> progress
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]Challenge),
		profiles:   make(map[string]*Profile),
		progress:   make(map[string]map[string]Progress),
	}
}

// ListActiveChallenges implements Store.
func (m *MemoryStore) ListActiveChallenges(_ context.Context) ([]Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChallenge implements Store.
func (m *MemoryStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return &c, nil
}

// UpsertChallenge implements Store.
func (m *MemoryStore) UpsertChallenge(_ context.Context, c Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.ID] = c
	return nil
}

// GetProfile implements Store.
func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return cloneProfile(p), nil
}

// CreateProfile implements Store.
func (m *MemoryStore) CreateProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[p.UserID]; ok {
		return nil
	}
	m.profiles[p.UserID] = cloneProfile(p)
	return nil
}

// UpdateProfile implements Store.
func (m *MemoryStore) UpdateProfile(_ context.Context, userID string, u ProfileUpdate, now time.Time) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.Avatar != nil {
		p.Avatar = *u.Avatar
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.Preferences != nil {
		p.Preferences = *u.Preferences
	}
	p.UpdatedAt = now
	return cloneProfile(p), nil
}

// TouchLastActive implements Store.
func (m *MemoryStore) TouchLastActive(_ context.Context, userID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.profiles[userID]; ok {
		p.LastActiveDate = day
	}
	return nil
}

// AddCompletion implements Store.
func (m *MemoryStore) AddCompletion(_ context.Context, userID, challengeID string, points int, now time.Time) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, errors.New("profile not found")
	}
	p.Points += points
	p.CompletedChallenges++
	if !slices.Contains(p.CompletedChallengeIDs, challengeID) {
		p.CompletedChallengeIDs = append(p.CompletedChallengeIDs, challengeID)
	}
	p.LastActiveDate = Day(now)
	p.UpdatedAt = now
	return cloneProfile(p), nil
}

// SetRank implements Store.
func (m *MemoryStore) SetRank(_ context.Context, userID string, rank Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.profiles[userID]; ok {
		p.Rank = rank
	}
	return nil
}

// PutProgress implements Store.
func (m *MemoryStore) PutProgress(_ context.Context, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChallenge, ok := m.progress[p.UserID]
	if !ok {
		byChallenge = make(map[string]Progress)
		m.progress[p.UserID] = byChallenge
	}
	byChallenge[p.ChallengeID] = p
	return nil
}

// ListProgress implements Store.
func (m *MemoryStore) ListProgress(_ context.Context, userID string) ([]Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Progress, 0, len(m.progress[userID]))
	for _, p := range m.progress[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChallengeID < out[j].ChallengeID })
	return out, nil
}

// TopProfiles implements Store.
func (m *MemoryStore) TopProfiles(_ context.Context, rank Rank, limit int) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if rank != "" && p.Rank != rank {
			continue
		}
		out = append(out, *cloneProfile(p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneProfile(p *Profile) *Profile {
	cp := *p
	cp.CompletedChallengeIDs = slices.Clone(p.CompletedChallengeIDs)
	cp.Achievements = slices.Clone(p.Achievements)
	return &cp
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
