package learning

import (
	"context"
	"time"
)

// Store defines persistence for the learning domain.
type Store interface {
	// ListActiveChallenges returns challenges flagged active, in any order.
	ListActiveChallenges(ctx context.Context) ([]Challenge, error)

	// GetChallenge returns a challenge by ID. Returns nil, nil if not found.
	GetChallenge(ctx context.Context, id string) (*Challenge, error)

	// UpsertChallenge creates or replaces a catalog entry.
	UpsertChallenge(ctx context.Context, c Challenge) error

	// GetProfile returns a profile. Returns nil, nil if not found.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// CreateProfile inserts a profile if none exists for the user.
	CreateProfile(ctx context.Context, p *Profile) error

	// UpdateProfile applies learner-editable fields and returns the result.
	// Returns nil, nil if the profile does not exist.
	UpdateProfile(ctx context.Context, userID string, u ProfileUpdate, now time.Time) (*Profile, error)

	// TouchLastActive sets the profile's last active day.
	TouchLastActive(ctx context.Context, userID, day string) error

	// AddCompletion credits points and a completed challenge to the profile
	// and returns the updated profile.
	AddCompletion(ctx context.Context, userID, challengeID string, points int, now time.Time) (*Profile, error)

	// SetRank stores the profile's rank.
	SetRank(ctx context.Context, userID string, rank Rank) error

	// PutProgress creates or replaces the (user, challenge) progress record.
	PutProgress(ctx context.Context, p Progress) error

	// ListProgress returns all progress records for a user.
	ListProgress(ctx context.Context, userID string) ([]Progress, error)

	// TopProfiles returns up to limit profiles by points, highest first.
	// An empty rank matches every profile.
	TopProfiles(ctx context.Context, rank Rank, limit int) ([]Profile, error)
}
