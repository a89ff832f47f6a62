// Package postgres provides PostgreSQL storage for the learning domain.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/txn2/devops-bootcamp/pkg/learning"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var challengeColumns = []string{
	"id", "name", "description", "category", "level", "difficulty",
	"points", "prerequisites", "skills", "active",
}

var profileColumns = []string{
	"user_id", "email", "display_name", "avatar", "bio", "rank", "points",
	"completed_challenges", "completed_challenge_ids", "total_time_spent",
	"achievements", "streak", "last_active_date", "joined_at", "updated_at",
	"preferences",
}

var progressColumns = []string{
	"user_id", "challenge_id", "status", "attempts", "started_at", "completed_at",
	"time_spent", "hints_used", "points_earned", "updated_at",
}

// Store implements learning.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL learning store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListActiveChallenges implements learning.Store.
func (s *Store) ListActiveChallenges(ctx context.Context) ([]learning.Challenge, error) {
	query, args, err := psq.Select(challengeColumns...).
		From("challenges").
		Where(sq.Eq{"active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building challenge query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []learning.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating challenge rows: %w", err)
	}
	return out, nil
}

// GetChallenge implements learning.Store.
func (s *Store) GetChallenge(ctx context.Context, id string) (*learning.Challenge, error) {
	query, args, err := psq.Select(challengeColumns...).
		From("challenges").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building challenge query: %w", err)
	}

	c, err := scanChallenge(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return c, err
}

// UpsertChallenge implements learning.Store.
func (s *Store) UpsertChallenge(ctx context.Context, c learning.Challenge) error {
	query, args, err := psq.Insert("challenges").
		Columns(challengeColumns...).
		Values(c.ID, c.Name, c.Description, c.Category, c.Level, c.Difficulty,
			c.Points, pq.Array(c.Prerequisites), pq.Array(c.Skills), c.Active).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			level = EXCLUDED.level,
			difficulty = EXCLUDED.difficulty,
			points = EXCLUDED.points,
			prerequisites = EXCLUDED.prerequisites,
			skills = EXCLUDED.skills,
			active = EXCLUDED.active`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building challenge upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting challenge: %w", err)
	}
	return nil
}

// GetProfile implements learning.Store.
func (s *Store) GetProfile(ctx context.Context, userID string) (*learning.Profile, error) {
	query, args, err := psq.Select(profileColumns...).
		From("user_profiles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building profile query: %w", err)
	}

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return p, err
}

// CreateProfile implements learning.Store.
func (s *Store) CreateProfile(ctx context.Context, p *learning.Profile) error {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	query, args, err := psq.Insert("user_profiles").
		Columns(profileColumns...).
		Values(p.UserID, p.Email, p.DisplayName, p.Avatar, p.Bio, string(p.Rank), p.Points,
			p.CompletedChallenges, pq.Array(nonNil(p.CompletedChallengeIDs)), p.TotalTimeSpent,
			pq.Array(nonNil(p.Achievements)), p.Streak, p.LastActiveDate, p.JoinedAt, p.UpdatedAt,
			prefs).
		Suffix("ON CONFLICT (user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building profile insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// UpdateProfile implements learning.Store.
func (s *Store) UpdateProfile(ctx context.Context, userID string, u learning.ProfileUpdate, now time.Time) (*learning.Profile, error) {
	qb := psq.Update("user_profiles").Set("updated_at", now)
	if u.DisplayName != nil {
		qb = qb.Set("display_name", *u.DisplayName)
	}
	if u.Avatar != nil {
		qb = qb.Set("avatar", *u.Avatar)
	}
	if u.Bio != nil {
		qb = qb.Set("bio", *u.Bio)
	}
	if u.Preferences != nil {
		prefs, err := json.Marshal(u.Preferences)
		if err != nil {
			return nil, fmt.Errorf("marshaling preferences: %w", err)
		}
		qb = qb.Set("preferences", prefs)
	}

	return s.updateReturning(ctx, qb.Where(sq.Eq{"user_id": userID}), "updating profile")
}

// TouchLastActive implements learning.Store.
func (s *Store) TouchLastActive(ctx context.Context, userID, day string) error {
	query, args, err := psq.Update("user_profiles").
		Set("last_active_date", day).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building last active update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating last active: %w", err)
	}
	return nil
}

// AddCompletion implements learning.Store. The increment happens in a single
// statement so concurrent completions are not lost.
func (s *Store) AddCompletion(ctx context.Context, userID, challengeID string, points int, now time.Time) (*learning.Profile, error) {
	qb := psq.Update("user_profiles").
		Set("points", sq.Expr("points + ?", points)).
		Set("completed_challenges", sq.Expr("completed_challenges + 1")).
		Set("completed_challenge_ids", sq.Expr(
			"CASE WHEN ? = ANY(completed_challenge_ids) THEN completed_challenge_ids ELSE array_append(completed_challenge_ids, ?) END",
			challengeID, challengeID)).
		Set("last_active_date", learning.Day(now)).
		Set("updated_at", now).
		Where(sq.Eq{"user_id": userID})

	p, err := s.updateReturning(ctx, qb, "adding completion")
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("adding completion: profile %s not found", userID)
	}
	return p, nil
}

func (s *Store) updateReturning(ctx context.Context, qb sq.UpdateBuilder, op string) (*learning.Profile, error) {
	query, args, err := qb.Suffix("RETURNING " + strings.Join(profileColumns, ", ")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// SetRank implements learning.Store.
func (s *Store) SetRank(ctx context.Context, userID string, rank learning.Rank) error {
	query, args, err := psq.Update("user_profiles").
		Set("rank", string(rank)).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building rank update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating rank: %w", err)
	}
	return nil
}

// PutProgress implements learning.Store.
func (s *Store) PutProgress(ctx context.Context, p learning.Progress) error {
	var completedAt any
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}

	query, args, err := psq.Insert("challenge_progress").
		Columns(progressColumns...).
		Values(p.UserID, p.ChallengeID, p.Status, p.Attempts, p.StartedAt, completedAt,
			p.TimeSpent, p.HintsUsed, p.PointsEarned, p.UpdatedAt).
		Suffix(`ON CONFLICT (user_id, challenge_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			time_spent = EXCLUDED.time_spent,
			hints_used = EXCLUDED.hints_used,
			points_earned = EXCLUDED.points_earned,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building progress upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting progress: %w", err)
	}
	return nil
}

// ListProgress implements learning.Store.
func (s *Store) ListProgress(ctx context.Context, userID string) ([]learning.Progress, error) {
	query, args, err := psq.Select(progressColumns...).
		From("challenge_progress").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("challenge_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building progress query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]learning.Progress, 0)
	for rows.Next() {
		var (
			p           learning.Progress
			completedAt sql.NullTime
		)
		if err := rows.Scan(&p.UserID, &p.ChallengeID, &p.Status, &p.Attempts, &p.StartedAt,
			&completedAt, &p.TimeSpent, &p.HintsUsed, &p.PointsEarned, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			p.CompletedAt = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress rows: %w", err)
	}
	return out, nil
}

// TopProfiles implements learning.Store.
func (s *Store) TopProfiles(ctx context.Context, rank learning.Rank, limit int) ([]learning.Profile, error) {
	qb := psq.Select(profileColumns...).
		From("user_profiles").
		OrderBy("points DESC", "user_id")
	if rank != "" {
		qb = qb.Where(sq.Eq{"rank": string(rank)})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building leader query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leaders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []learning.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leader rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*learning.Challenge, error) {
	var c learning.Challenge
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.Level, &c.Difficulty,
		&c.Points, pq.Array(&c.Prerequisites), pq.Array(&c.Skills), &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning challenge: %w", err)
	}
	return &c, nil
}

func scanProfile(row rowScanner) (*learning.Profile, error) {
	var (
		p     learning.Profile
		rank  string
		prefs []byte
	)
	err := row.Scan(&p.UserID, &p.Email, &p.DisplayName, &p.Avatar, &p.Bio, &rank, &p.Points,
		&p.CompletedChallenges, pq.Array(&p.CompletedChallengeIDs), &p.TotalTimeSpent,
		pq.Array(&p.Achievements), &p.Streak, &p.LastActiveDate, &p.JoinedAt, &p.UpdatedAt, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}

	p.Rank = learning.Rank(rank)
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshaling preferences: %w", err)
		}
	}
	if p.Achievements == nil {
		p.Achievements = []string{}
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Verify interface compliance.
var _ learning.Store = (*Store)(nil)
