package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/devops-bootcamp/pkg/learning"
)

const pgTestUser = "u1"

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func profileRows(points int, rank string) *sqlmock.Rows {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(profileColumns).AddRow(
		pgTestUser, "ada@example.com", "ada", "", "", rank, points,
		1, "{docker-intro}", 600,
		"{}", 0, "2026-03-10", now, now,
		[]byte(`{"theme":"dark","notifications":true}`),
	)
}

func TestListActiveChallenges(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(challengeColumns).
		AddRow("docker-intro", "Docker Fundamentals", "desc", "containers", 2, "beginner", 150, "{linux-basics}", "{docker,images}", true).
		AddRow("linux-basics", "Linux", "desc", "linux", 1, "beginner", 100, "{}", "{bash}", true)
	mock.ExpectQuery("SELECT .+ FROM challenges WHERE active = \\$1").
		WithArgs(true).
		WillReturnRows(rows)

	got, err := store.ListActiveChallenges(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"linux-basics"}, got[0].Prerequisites)
	assert.Equal(t, []string{"docker", "images"}, got[0].Skills)
	assert.True(t, got[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChallenge_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM challenges WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(challengeColumns))

	got, err := store.GetChallenge(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetChallenge_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM challenges").WillReturnError(errors.New("connection refused"))

	_, err := store.GetChallenge(context.Background(), "docker-intro")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning challenge")
}

func TestUpsertChallenge(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO challenges .+ ON CONFLICT \\(id\\) DO UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertChallenge(context.Background(), learning.Challenge{ID: "docker-intro", Points: 150, Active: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM user_profiles WHERE user_id = \\$1").
		WithArgs(pgTestUser).
		WillReturnRows(profileRows(140, "Apprentice"))

	p, err := store.GetProfile(context.Background(), pgTestUser)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, learning.RankApprentice, p.Rank)
	assert.Equal(t, 140, p.Points)
	assert.Equal(t, []string{"docker-intro"}, p.CompletedChallengeIDs)
	assert.Equal(t, "dark", p.Preferences.Theme)
	assert.NotNil(t, p.Achievements)
}

func TestGetProfile_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM user_profiles").WillReturnRows(sqlmock.NewRows(profileColumns))

	p, err := store.GetProfile(context.Background(), pgTestUser)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreateProfile(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO user_profiles .+ ON CONFLICT \\(user_id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateProfile(context.Background(), &learning.Profile{UserID: pgTestUser, Rank: learning.RankNovice})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfile(t *testing.T) {
	store, mock := newMockStore(t)
	name := "Ada L."
	now := time.Now()

	mock.ExpectQuery("UPDATE user_profiles SET updated_at = \\$1, display_name = \\$2 WHERE user_id = \\$3 RETURNING").
		WithArgs(now, name, pgTestUser).
		WillReturnRows(profileRows(0, "Novice"))

	p, err := store.UpdateProfile(context.Background(), pgTestUser, learning.ProfileUpdate{DisplayName: &name}, now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfile_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	bio := "hi"

	mock.ExpectQuery("UPDATE user_profiles").WillReturnRows(sqlmock.NewRows(profileColumns))

	p, err := store.UpdateProfile(context.Background(), pgTestUser, learning.ProfileUpdate{Bio: &bio}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAddCompletion(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE user_profiles SET points = points \\+ \\$1, completed_challenges = completed_challenges \\+ 1").
		WithArgs(140, "docker-intro", "docker-intro", "2026-03-10", now, pgTestUser).
		WillReturnRows(profileRows(140, "Novice"))

	p, err := store.AddCompletion(context.Background(), pgTestUser, "docker-intro", 140, now)
	require.NoError(t, err)
	assert.Equal(t, 140, p.Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCompletion_MissingProfile(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE user_profiles").WillReturnRows(sqlmock.NewRows(profileColumns))

	_, err := store.AddCompletion(context.Background(), pgTestUser, "docker-intro", 140, time.Now())
	assert.Error(t, err)
}

func TestSetRankAndTouch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE user_profiles SET rank = \\$1 WHERE user_id = \\$2").
		WithArgs("Expert", pgTestUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE user_profiles SET last_active_date = \\$1 WHERE user_id = \\$2").
		WithArgs("2026-03-10", pgTestUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetRank(context.Background(), pgTestUser, learning.RankExpert))
	require.NoError(t, store.TouchLastActive(context.Background(), pgTestUser, "2026-03-10"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutProgress(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO challenge_progress .+ ON CONFLICT \\(user_id, challenge_id\\) DO UPDATE").
		WithArgs(pgTestUser, "docker-intro", "completed", 1, now, now, 600, 2, 140, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PutProgress(context.Background(), learning.Progress{
		UserID: pgTestUser, ChallengeID: "docker-intro", Status: "completed", Attempts: 1,
		StartedAt: now, CompletedAt: &now, TimeSpent: 600, HintsUsed: 2, PointsEarned: 140, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutProgress_DBError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO challenge_progress").WillReturnError(errors.New("fk violation"))

	err := store.PutProgress(context.Background(), learning.Progress{UserID: pgTestUser})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upserting progress")
}

func TestListProgress(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(progressColumns).
		AddRow(pgTestUser, "docker-intro", "completed", 1, now, now, 600, 2, 140, now).
		AddRow(pgTestUser, "linux-basics", "in_progress", 2, now, nil, 100, 0, 0, now)
	mock.ExpectQuery("SELECT .+ FROM challenge_progress WHERE user_id = \\$1 ORDER BY challenge_id").
		WithArgs(pgTestUser).
		WillReturnRows(rows)

	got, err := store.ListProgress(context.Background(), pgTestUser)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].CompletedAt)
	assert.Nil(t, got[1].CompletedAt)
}

func TestTopProfiles(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM user_profiles WHERE rank = \\$1 ORDER BY points DESC, user_id LIMIT 10").
		WithArgs("Novice").
		WillReturnRows(profileRows(40, "Novice"))

	got, err := store.TopProfiles(context.Background(), learning.RankNovice, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopProfiles_Global(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM user_profiles ORDER BY points DESC, user_id LIMIT 20").
		WillReturnRows(profileRows(40, "Novice"))

	_, err := store.TopProfiles(context.Background(), "", 20)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopProfiles_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM user_profiles").WillReturnError(errors.New("timeout"))

	_, err := store.TopProfiles(context.Background(), "", 20)
	assert.Error(t, err)
}
