package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/devops-bootcamp/pkg/audit"
)

const (
	testDurationMS  = 42
	testFilterLimit = 10
	testFilterSkip  = 5
)

func newTestEvent() audit.Event {
	return audit.Event{
		ID:          "evt-123",
		Timestamp:   time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC),
		DurationMS:  testDurationMS,
		UserID:      "u1",
		Action:      audit.ActionLaunch,
		SessionID:   "session-u1-1",
		ChallengeID: "docker-intro",
		Success:     true,
	}
}

func eventRow(e audit.Event) *sqlmock.Rows {
	return sqlmock.NewRows(auditColumns).AddRow(
		e.ID, e.Timestamp, e.DurationMS, e.UserID, string(e.Action),
		e.SessionID, e.ChallengeID, e.Success, e.ErrorMessage,
	)
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	t.Run("custom retention", func(t *testing.T) {
		store := New(db, Config{RetentionDays: 30})
		assert.Equal(t, 30, store.retentionDays)
		assert.Equal(t, db, store.db)
	})

	t.Run("default retention when zero", func(t *testing.T) {
		store := New(db, Config{})
		assert.Equal(t, defaultRetentionDays, store.retentionDays)
	})
}

func TestLog_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	e := newTestEvent()

	mock.ExpectExec("INSERT INTO sandbox_audit_events").WithArgs(
		e.ID, e.Timestamp, e.DurationMS, e.UserID, string(e.Action),
		e.SessionID, e.ChallengeID, e.Success, e.ErrorMessage,
	).WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.Log(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	mock.ExpectExec("INSERT INTO sandbox_audit_events").WillReturnError(errors.New("connection refused"))

	err = store.Log(context.Background(), newTestEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting audit event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_NoFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	e := newTestEvent()
	mock.ExpectQuery("SELECT .+ FROM sandbox_audit_events ORDER BY timestamp DESC").
		WillReturnRows(eventRow(e))

	got, err := store.Query(context.Background(), audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_AllFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	success := true

	mock.ExpectQuery(`SELECT .+ FROM sandbox_audit_events WHERE timestamp >= \$1 AND timestamp <= \$2 AND user_id = \$3 AND session_id = \$4 AND action = \$5 AND success = \$6 ORDER BY timestamp DESC LIMIT 10 OFFSET 5`).
		WithArgs(start, end, "u1", "session-u1-1", "terminate", true).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	got, err := store.Query(context.Background(), audit.QueryFilter{
		StartTime: &start,
		EndTime:   &end,
		UserID:    "u1",
		SessionID: "session-u1-1",
		Action:    audit.ActionTerminate,
		Success:   &success,
		Limit:     testFilterLimit,
		Offset:    testFilterSkip,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

	_, err = store.Query(context.Background(), audit.QueryFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying audit events")
}

func TestQuery_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow("evt-1"),
	)

	_, err = store.Query(context.Background(), audit.QueryFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning audit event row")
}

func TestCleanup(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		store := New(db, Config{RetentionDays: 30})
		mock.ExpectExec("DELETE FROM sandbox_audit_events WHERE timestamp").
			WillReturnResult(sqlmock.NewResult(0, 5))

		n, err := store.Cleanup(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		store := New(db, Config{RetentionDays: 30})
		mock.ExpectExec("DELETE FROM sandbox_audit_events WHERE timestamp").
			WillReturnError(errors.New("cleanup failed"))

		_, err = store.Cleanup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cleaning up audit events")
	})
}

func TestClose_NilCancel_NoPanic(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	assert.NoError(t, store.Close())
}

func TestStartCleanupRoutine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{RetentionDays: 7})

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("DELETE FROM sandbox_audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM sandbox_audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store.StartCleanupRoutine(10 * time.Millisecond)

	// Let at least one cleanup tick fire.
	time.Sleep(50 * time.Millisecond)

	// Close should cancel and wait for the goroutine to exit.
	assert.NoError(t, store.Close())
}
