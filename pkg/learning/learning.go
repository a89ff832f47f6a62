// Package learning implements the learner-facing side of the bootcamp:
// the challenge catalog, learner profiles, challenge progress and scoring,
// and the leaderboard.
package learning

import "time"

// Progress statuses.
const (
	StatusStarted    = "started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// dayLayout formats calendar days (UTC).
const dayLayout = "2006-01-02"

// Challenge is a catalog entry a learner can launch a sandbox for.
type Challenge struct {
	ID            string   `json:"challengeId" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description" yaml:"description"`
	Category      string   `json:"category" yaml:"category"`
	Level         int      `json:"level" yaml:"level"`
	Difficulty    string   `json:"difficulty" yaml:"difficulty"`
	Points        int      `json:"points" yaml:"points"`
	Prerequisites []string `json:"prerequisites" yaml:"prerequisites"`
	Skills        []string `json:"skills" yaml:"skills"`
	Active        bool     `json:"-" yaml:"active"`
}

// ChallengeList is the catalog response.
type ChallengeList struct {
	Challenges []Challenge `json:"challenges"`
	Total      int         `json:"total"`
	Categories []string    `json:"categories"`
}

// Preferences are learner UI settings.
type Preferences struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
}

// Profile is a learner's account record.
type Profile struct {
	UserID                string      `json:"userId"`
	Email                 string      `json:"email"`
	DisplayName           string      `json:"displayName"`
	Avatar                string      `json:"avatar,omitempty"`
	Bio                   string      `json:"bio,omitempty"`
	Rank                  Rank        `json:"rank"`
	Points                int         `json:"points"`
	CompletedChallenges   int         `json:"completedChallenges"`
	CompletedChallengeIDs []string    `json:"completedChallengesList,omitempty"`
	TotalTimeSpent        int         `json:"totalTimeSpent"`
	Achievements          []string    `json:"achievements"`
	Streak                int         `json:"streak"`
	LastActiveDate        string      `json:"lastActiveDate"`
	JoinedAt              time.Time   `json:"joinedAt"`
	UpdatedAt             time.Time   `json:"updatedAt"`
	Preferences           Preferences `json:"preferences"`
}

// ProfileUpdate carries the learner-editable profile fields. Fields not
// listed here cannot be changed through UpdateProfile.
type ProfileUpdate struct {
	DisplayName *string      `json:"displayName"`
	Avatar      *string      `json:"avatar"`
	Bio         *string      `json:"bio"`
	Preferences *Preferences `json:"preferences"`
}

// IsEmpty reports whether no editable field is set.
func (u ProfileUpdate) IsEmpty() bool {
	return u.DisplayName == nil && u.Avatar == nil && u.Bio == nil && u.Preferences == nil
}

// Progress is one learner's record for one challenge.
type Progress struct {
	UserID       string     `json:"userId"`
	ChallengeID  string     `json:"challengeId"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	TimeSpent    int        `json:"timeSpent"`
	HintsUsed    int        `json:"hintsUsed"`
	PointsEarned int        `json:"pointsEarned"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ProgressRequest reports progress on a challenge.
type ProgressRequest struct {
	ChallengeID string     `json:"challengeId"`
	Status      string     `json:"status"`
	TimeSpent   int        `json:"timeSpent"`
	HintsUsed   int        `json:"hintsUsed"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"startedAt"`
}

// ProgressResult acknowledges a recorded progress update.
type ProgressResult struct {
	Success      bool      `json:"success"`
	PointsEarned int       `json:"pointsEarned"`
	NewStatus    string    `json:"newStatus"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProgressStats summarises a learner's progress.
type ProgressStats struct {
	TotalPoints    int        `json:"totalPoints"`
	CompletedCount int        `json:"completedCount"`
	TotalTimeSpent int        `json:"totalTimeSpent"`
	AverageTime    int        `json:"averageTime"`
	Streak         int        `json:"streak"`
	LastActivity   *time.Time `json:"lastActivity"`
}

// ProgressReport is the learner's progress with statistics.
type ProgressReport struct {
	Progress   []Progress    `json:"progress"`
	Statistics ProgressStats `json:"statistics"`
}

// LeaderEntry is one row of a leaderboard.
type LeaderEntry struct {
	UserID              string `json:"userId"`
	DisplayName         string `json:"displayName"`
	Points              int    `json:"points"`
	Rank                Rank   `json:"rank"`
	CompletedChallenges int    `json:"completedChallenges"`
	Avatar              string `json:"avatar,omitempty"`
	Position            int    `json:"position"`
}

// Leaderboard is the global and per-rank standings.
type Leaderboard struct {
	Global      []LeaderEntry            `json:"global"`
	ByRank      map[string][]LeaderEntry `json:"byRank"`
	LastUpdated time.Time                `json:"lastUpdated"`
}

// User identifies the authenticated learner.
type User struct {
	ID    string
	Email string
}
