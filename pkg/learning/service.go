package learning

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	globalLeaderLimit = 20
	rankLeaderLimit   = 10

	defaultTheme = "dark"
)

// leaderboardRanks are the tiers given their own leaderboard, keyed by the
// response field name.
var leaderboardRanks = []struct {
	key  string
	rank Rank
}{
	{"novice", RankNovice},
	{"apprentice", RankApprentice},
	{"expert", RankExpert},
}

// Service implements the learning operations on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListChallenges returns active challenges ordered by level, then category.
func (s *Service) ListChallenges(ctx context.Context) (*ChallengeList, error) {
	challenges, err := s.store.ListActiveChallenges(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}

	slices.SortStableFunc(challenges, func(a, b Challenge) int {
		if c := cmp.Compare(a.Level, b.Level); c != 0 {
			return c
		}
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	categories := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range challenges {
		if !seen[c.Category] {
			seen[c.Category] = true
			categories = append(categories, c.Category)
		}
	}

	return &ChallengeList{
		Challenges: challenges,
		Total:      len(challenges),
		Categories: categories,
	}, nil
}

// GetProfile returns the learner's profile, creating a default one on first
// access. Existing profiles have their last active day refreshed.
func (s *Service) GetProfile(ctx context.Context, user User) (*Profile, error) {
	if user.ID == "" {
		return nil, invalid("user is required")
	}

	p, err := s.store.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	now := s.now()
	if p == nil {
		return s.createProfile(ctx, user, now)
	}

	today := Day(now)
	if p.LastActiveDate != today {
		if err := s.store.TouchLastActive(ctx, user.ID, today); err != nil {
			slog.Warn("learning: failed to update last active", "user_id", user.ID, "error", err)
		}
	}
	return p, nil
}

func (s *Service) createProfile(ctx context.Context, user User, now time.Time) (*Profile, error) {
	p := &Profile{
		UserID:         user.ID,
		Email:          user.Email,
		DisplayName:    displayName("", user.Email, user.ID),
		Rank:           RankNovice,
		Achievements:   []string{},
		LastActiveDate: Day(now),
		JoinedAt:       now,
		UpdatedAt:      now,
		Preferences:    Preferences{Theme: defaultTheme, Notifications: true},
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	slog.Info("learning: created profile", "user_id", user.ID)
	return p, nil
}

// UpdateProfile applies the learner-editable fields.
func (s *Service) UpdateProfile(ctx context.Context, user User, u ProfileUpdate) (*Profile, error) {
	if user.ID == "" {
		return nil, invalid("user is required")
	}
	if u.IsEmpty() {
		return nil, invalid("No valid fields to update")
	}

	if _, err := s.GetProfile(ctx, user); err != nil {
		return nil, err
	}

	p, err := s.store.UpdateProfile(ctx, user.ID, u, s.now())
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if p == nil {
		return nil, notFound("Profile not found")
	}
	return p, nil
}

// GetProgress returns the learner's progress and derived statistics.
func (s *Service) GetProgress(ctx context.Context, user User) (*ProgressReport, error) {
	if user.ID == "" {
		return nil, invalid("user is required")
	}

	items, err := s.store.ListProgress(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	return &ProgressReport{
		Progress:   items,
		Statistics: Statistics(items, s.now()),
	}, nil
}

// Statistics derives progress statistics. Only completed items count toward
// points and time.
func Statistics(items []Progress, now time.Time) ProgressStats {
	var stats ProgressStats
	var days []string
	for i := range items {
		p := &items[i]
		if stats.LastActivity == nil || p.UpdatedAt.After(*stats.LastActivity) {
			t := p.UpdatedAt
			stats.LastActivity = &t
		}
		if p.Status != StatusCompleted {
			continue
		}
		stats.CompletedCount++
		stats.TotalPoints += p.PointsEarned
		stats.TotalTimeSpent += p.TimeSpent
		if p.CompletedAt != nil {
			days = append(days, Day(*p.CompletedAt))
		}
	}
	if stats.CompletedCount > 0 {
		// Rounded half up.
		stats.AverageTime = (stats.TotalTimeSpent*2 + stats.CompletedCount) / (stats.CompletedCount * 2)
	}
	stats.Streak = Streak(days, now)
	return stats
}

// RecordProgress stores a progress update and, on completion, credits the
// learner's profile and recomputes their rank.
func (s *Service) RecordProgress(ctx context.Context, user User, req ProgressRequest) (*ProgressResult, error) {
	if user.ID == "" {
		return nil, invalid("user is required")
	}
	if strings.TrimSpace(req.ChallengeID) == "" || strings.TrimSpace(req.Status) == "" {
		return nil, invalid("Missing required fields")
	}

	challenge, err := s.store.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	if challenge == nil {
		return nil, notFound("Challenge not found")
	}

	now := s.now()
	points := PointsEarned(challenge.Points, req.HintsUsed, req.Status)

	item := Progress{
		UserID:       user.ID,
		ChallengeID:  req.ChallengeID,
		Status:       req.Status,
		Attempts:     max(req.Attempts, 1),
		StartedAt:    now,
		TimeSpent:    req.TimeSpent,
		HintsUsed:    max(req.HintsUsed, 0),
		PointsEarned: points,
		UpdatedAt:    now,
	}
	if req.StartedAt != nil {
		item.StartedAt = *req.StartedAt
	}
	if req.Status == StatusCompleted {
		item.CompletedAt = &now
	}

	if err := s.store.PutProgress(ctx, item); err != nil {
		return nil, fmt.Errorf("saving progress: %w", err)
	}

	if req.Status == StatusCompleted {
		s.creditCompletion(ctx, user, req.ChallengeID, points, now)
	}

	return &ProgressResult{
		Success:      true,
		PointsEarned: points,
		NewStatus:    req.Status,
		Timestamp:    now,
	}, nil
}

// creditCompletion updates profile totals and rank. Failures are logged; the
// progress record is already saved.
func (s *Service) creditCompletion(ctx context.Context, user User, challengeID string, points int, now time.Time) {
	if _, err := s.GetProfile(ctx, user); err != nil {
		slog.Error("learning: failed to load profile for completion", "user_id", user.ID, "error", err)
		return
	}

	p, err := s.store.AddCompletion(ctx, user.ID, challengeID, points, now)
	if err != nil {
		slog.Error("learning: failed to update user stats", "user_id", user.ID, "error", err)
		return
	}

	if rank := RankFor(p.Points); rank != p.Rank {
		if err := s.store.SetRank(ctx, user.ID, rank); err != nil {
			slog.Error("learning: failed to update rank", "user_id", user.ID, "error", err)
			return
		}
		slog.Info("learning: rank changed", "user_id", user.ID, "from", p.Rank, "to", rank)
	}
}

// Leaderboard returns the global top 20 and the top 10 of selected ranks.
// A failing per-rank query yields an empty list for that rank.
func (s *Service) Leaderboard(ctx context.Context) (*Leaderboard, error) {
	global, err := s.store.TopProfiles(ctx, "", globalLeaderLimit)
	if err != nil {
		return nil, fmt.Errorf("listing leaders: %w", err)
	}

	board := &Leaderboard{
		Global:      leaderEntries(global),
		ByRank:      make(map[string][]LeaderEntry, len(leaderboardRanks)),
		LastUpdated: s.now(),
	}
	for _, r := range leaderboardRanks {
		profiles, err := s.store.TopProfiles(ctx, r.rank, rankLeaderLimit)
		if err != nil {
			slog.Warn("learning: failed to list rank leaders", "rank", r.rank, "error", err)
			profiles = nil
		}
		board.ByRank[r.key] = leaderEntries(profiles)
	}
	return board, nil
}

func leaderEntries(profiles []Profile) []LeaderEntry {
	out := make([]LeaderEntry, 0, len(profiles))
	for i, p := range profiles {
		out = append(out, LeaderEntry{
			UserID:              p.UserID,
			DisplayName:         displayName(p.DisplayName, p.Email, p.UserID),
			Points:              p.Points,
			Rank:                p.Rank,
			CompletedChallenges: p.CompletedChallenges,
			Avatar:              p.Avatar,
			Position:            i + 1,
		})
	}
	return out
}

// displayName falls back to the local part of the email, then the user ID.
func displayName(name, email, userID string) string {
	if name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	if email != "" {
		return email
	}
	return userID
}
