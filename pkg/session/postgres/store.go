// Package postgres provides PostgreSQL storage for sandbox sessions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	tableName = "sandbox_sessions"

	// uniqueViolation is the PostgreSQL error code raised by the partial
	// unique index on active sessions per user.
	uniqueViolation = "23505"

	defaultRetention = 30 * 24 * time.Hour
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "user_id", "challenge_id", "task_handle", "container_name", "status",
	"public_endpoint", "created_at", "updated_at", "expires_at", "terminated_at",
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// Config configures the PostgreSQL session store.
type Config struct {
	// Retention is how long TERMINATED sessions are kept before Cleanup
	// removes them.
	Retention time.Duration
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Store{
		db:        db,
		retention: cfg.Retention,
	}
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From(tableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}
	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// FindActiveByUser returns the user's active session. Returns nil, nil if
// the user has none.
func (s *Store) FindActiveByUser(ctx context.Context, userID string) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From(tableName).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"status": activeStatuses()}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building active session query: %w", err)
	}
	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// CreateActive inserts a new active session. The partial unique index on
// user_id for active statuses makes the insert fail when the user already
// holds one.
func (s *Store) CreateActive(ctx context.Context, sess *session.Session) error {
	if !sess.Status.IsActive() {
		return fmt.Errorf("creating active session: status %s is not active", sess.Status)
	}

	query, args, err := psq.Insert(tableName).
		Columns(sessionColumns...).
		Values(sessionValues(sess)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return session.ErrActiveSessionExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Put creates or replaces a session.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	query, args, err := psq.Insert(tableName).
		Columns(sessionColumns...).
		Values(sessionValues(sess)...).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			public_endpoint = EXCLUDED.public_endpoint,
			task_handle = EXCLUDED.task_handle,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at,
			terminated_at = EXCLUDED.terminated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return session.ErrActiveSessionExists
		}
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// UpdateFields applies a partial update to a non-terminated session.
func (s *Store) UpdateFields(ctx context.Context, id string, u session.Update) error {
	qb := psq.Update(tableName).Set("updated_at", time.Now().UTC())
	if u.Status != nil {
		qb = qb.Set("status", string(*u.Status))
	}
	if u.PublicEndpoint != nil {
		qb = qb.Set("public_endpoint", *u.PublicEndpoint)
	}
	if u.TerminatedAt != nil {
		qb = qb.Set("terminated_at", u.TerminatedAt.UTC())
	}

	query, args, err := qb.
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": string(session.StatusTerminated)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: either the session is unknown or already terminal.
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return session.ErrNotFound
	}
	return session.ErrTerminal
}

// ListExpiredActive returns active sessions whose expiry is at or before now,
// oldest expiry first.
func (s *Store) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).
		From(tableName).
		Where(sq.Eq{"status": activeStatuses()}).
		Where(sq.LtOrEq{"expires_at": now.UTC()}).
		OrderBy("expires_at ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.list(ctx, qb, "listing expired sessions")
}

// ListByUser returns the user's sessions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).
		From(tableName).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.list(ctx, qb, "listing user sessions")
}

func (s *Store) list(ctx context.Context, qb sq.SelectBuilder, op string) ([]*session.Session, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Cleanup removes TERMINATED sessions older than the retention period and
// returns how many were deleted.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	query, args, err := psq.Delete(tableName).
		Where(sq.Eq{"status": string(session.StatusTerminated)}).
		Where(sq.Lt{"terminated_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cleanup query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return result.RowsAffected()
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// old terminated sessions. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Cleanup(ctx)
				if err != nil {
					slog.Warn("session cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Debug("session cleanup removed terminated sessions", "count", n)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a Session. Returns nil, nil on
// sql.ErrNoRows.
func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess           session.Session
		status         string
		publicEndpoint sql.NullString
		terminatedAt   sql.NullTime
	)

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ChallengeID, &sess.TaskHandle, &sess.ContainerName,
		&status, &publicEndpoint, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
		&terminatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.Status = session.Status(status)
	sess.PublicEndpoint = publicEndpoint.String
	if terminatedAt.Valid {
		t := terminatedAt.Time
		sess.TerminatedAt = &t
	}
	return &sess, nil
}

func sessionValues(sess *session.Session) []any {
	var terminatedAt any
	if sess.TerminatedAt != nil {
		terminatedAt = sess.TerminatedAt.UTC()
	}
	return []any{
		sess.ID, sess.UserID, sess.ChallengeID, sess.TaskHandle, sess.ContainerName,
		string(sess.Status), sess.PublicEndpoint, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
		sess.ExpiresAt.UTC(), terminatedAt,
	}
}

func activeStatuses() []string {
	out := make([]string, 0, len(session.ActiveStatuses))
	for _, st := range session.ActiveStatuses {
		out = append(out, string(st))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
