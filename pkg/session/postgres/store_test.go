package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	pgTestSessID = "session-u1-1767225600000-ab12cd34"
	pgTestUser   = "u1"
	pgTestTask   = "arn:aws:ecs:us-east-1:123456789012:task/bootcamp/abc"
)

func newTestSession() *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:            pgTestSessID,
		UserID:        pgTestUser,
		ChallengeID:   "docker-intro",
		TaskHandle:    pgTestTask,
		ContainerName: "challenge-docker-intro-" + pgTestSessID,
		Status:        session.StatusProvisioning,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(session.DefaultTTL),
	}
}

func sessionRow(sess *session.Session) *sqlmock.Rows {
	var terminatedAt any
	if sess.TerminatedAt != nil {
		terminatedAt = *sess.TerminatedAt
	}
	return sqlmock.NewRows(sessionColumns).AddRow(
		sess.ID, sess.UserID, sess.ChallengeID, sess.TaskHandle, sess.ContainerName,
		string(sess.Status), sess.PublicEndpoint, sess.CreatedAt, sess.UpdatedAt,
		sess.ExpiresAt, terminatedAt,
	)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{}), mock
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db, Config{})
	assert.Equal(t, defaultRetention, store.retention)

	store = New(db, Config{Retention: time.Hour})
	assert.Equal(t, time.Hour, store.retention)
}

func TestGet_Found(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()
	sess.PublicEndpoint = "203.0.113.5"

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions WHERE id = \\$1").
		WithArgs(pgTestSessID).
		WillReturnRows(sessionRow(sess))

	got, err := store.Get(context.Background(), pgTestSessID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pgTestUser, got.UserID)
	assert.Equal(t, session.StatusProvisioning, got.Status)
	assert.Equal(t, "203.0.113.5", got.PublicEndpoint)
	assert.Nil(t, got.TerminatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_TerminatedAt(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()
	sess.Status = session.StatusTerminated
	ended := time.Now().UTC()
	sess.TerminatedAt = &ended

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").WillReturnRows(sessionRow(sess))

	got, err := store.Get(context.Background(), pgTestSessID)
	require.NoError(t, err)
	require.NotNil(t, got.TerminatedAt)
	assert.True(t, ended.Equal(*got.TerminatedAt))
}

func TestGet_NullPublicEndpoint(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()

	rows := sqlmock.NewRows(sessionColumns).AddRow(
		sess.ID, sess.UserID, sess.ChallengeID, sess.TaskHandle, sess.ContainerName,
		string(sess.Status), nil, sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt, nil,
	)
	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions WHERE id = \\$1").
		WithArgs(pgTestSessID).
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), pgTestSessID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.PublicEndpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").
		WithArgs("nonexistent").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	got, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Get(context.Background(), pgTestSessID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning session")
}

func TestFindActiveByUser(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions WHERE user_id = \\$1 AND status IN \\(\\$2,\\$3\\) ORDER BY created_at DESC LIMIT 1").
		WithArgs(pgTestUser, "PROVISIONING", "RUNNING").
		WillReturnRows(sessionRow(sess))

	got, err := store.FindActiveByUser(context.Background(), pgTestUser)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pgTestSessID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByUser_None(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	got, err := store.FindActiveByUser(context.Background(), pgTestUser)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateActive_Success(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()

	mock.ExpectExec("INSERT INTO sandbox_sessions").
		WithArgs(
			sess.ID, sess.UserID, sess.ChallengeID, sess.TaskHandle, sess.ContainerName,
			"PROVISIONING", "", sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateActive(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActive_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sandbox_sessions").
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key value violates unique constraint"})

	err := store.CreateActive(context.Background(), newTestSession())
	assert.ErrorIs(t, err, session.ErrActiveSessionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActive_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sandbox_sessions").
		WillReturnError(errors.New("connection refused"))

	err := store.CreateActive(context.Background(), newTestSession())
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrActiveSessionExists)
	assert.Contains(t, err.Error(), "inserting session")
}

func TestCreateActive_RejectsTerminated(t *testing.T) {
	store, mock := newMockStore(t)
	sess := newTestSession()
	sess.Status = session.StatusTerminated

	assert.Error(t, store.CreateActive(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPut_Upsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sandbox_sessions .+ ON CONFLICT \\(id\\) DO UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Put(context.Background(), newTestSession()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPut_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sandbox_sessions").
		WillReturnError(errors.New("disk full"))

	err := store.Put(context.Background(), newTestSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upserting session")
}

func TestUpdateFields_Success(t *testing.T) {
	store, mock := newMockStore(t)
	running := session.StatusRunning
	endpoint := "203.0.113.5"

	mock.ExpectExec("UPDATE sandbox_sessions SET updated_at = \\$1, status = \\$2, public_endpoint = \\$3 WHERE id = \\$4 AND status <> \\$5").
		WithArgs(sqlmock.AnyArg(), "RUNNING", endpoint, pgTestSessID, "TERMINATED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateFields(context.Background(), pgTestSessID, session.Update{Status: &running, PublicEndpoint: &endpoint})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFields_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	running := session.StatusRunning

	mock.ExpectExec("UPDATE sandbox_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").
		WithArgs(pgTestSessID).
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	err := store.UpdateFields(context.Background(), pgTestSessID, session.Update{Status: &running})
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFields_Terminal(t *testing.T) {
	store, mock := newMockStore(t)
	running := session.StatusRunning
	sess := newTestSession()
	sess.Status = session.StatusTerminated

	mock.ExpectExec("UPDATE sandbox_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").WillReturnRows(sessionRow(sess))

	err := store.UpdateFields(context.Background(), pgTestSessID, session.Update{Status: &running})
	assert.ErrorIs(t, err, session.ErrTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFields_DBError(t *testing.T) {
	store, mock := newMockStore(t)
	terminated := session.StatusTerminated

	mock.ExpectExec("UPDATE sandbox_sessions").WillReturnError(errors.New("timeout"))

	err := store.UpdateFields(context.Background(), pgTestSessID, session.Update{Status: &terminated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updating session")
}

func TestListExpiredActive(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	sess := newTestSession()
	sess.ExpiresAt = now.Add(-time.Minute)

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions WHERE status IN \\(\\$1,\\$2\\) AND expires_at <= \\$3 ORDER BY expires_at ASC LIMIT 50").
		WithArgs("PROVISIONING", "RUNNING", now).
		WillReturnRows(sessionRow(sess))

	got, err := store.ListExpiredActive(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pgTestSessID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	store, mock := newMockStore(t)
	older := newTestSession()
	older.ID = "session-u1-older"
	older.Status = session.StatusTerminated

	rows := sessionRow(newTestSession())
	rows.AddRow(
		older.ID, older.UserID, older.ChallengeID, older.TaskHandle, older.ContainerName,
		string(older.Status), older.PublicEndpoint, older.CreatedAt, older.UpdatedAt,
		older.ExpiresAt, nil,
	)
	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions WHERE user_id = \\$1 ORDER BY created_at DESC").
		WithArgs(pgTestUser).
		WillReturnRows(rows)

	got, err := store.ListByUser(context.Background(), pgTestUser, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, session.StatusTerminated, got[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM sandbox_sessions").WillReturnError(errors.New("connection reset"))

	_, err := store.ListByUser(context.Background(), pgTestUser, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing user sessions")
}

func TestCleanup(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM sandbox_sessions WHERE status = \\$1 AND terminated_at < \\$2").
		WithArgs("TERMINATED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanup_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM sandbox_sessions").WillReturnError(errors.New("locked"))

	_, err := store.Cleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleaning up sessions")
}

func TestStartCleanupRoutine(t *testing.T) {
	store, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(false)
	for range 5 {
		mock.ExpectExec("DELETE FROM sandbox_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	store.StartCleanupRoutine(10 * time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	require.NoError(t, store.Close())
}

func TestClose_WithoutCleanupRoutine(t *testing.T) {
	store, _ := newMockStore(t)
	assert.NoError(t, store.Close())
}
