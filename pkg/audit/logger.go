// Package audit records the sandbox actions learners perform.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Action names an audited sandbox operation.
type Action string

// Audited actions.
const (
	ActionLaunch    Action = "launch"
	ActionTerminate Action = "terminate"
)

// Event represents an auditable event.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMS   int64     `json:"durationMs"`
	UserID       string    `json:"userId"`
	Action       Action    `json:"action"`
	SessionID    string    `json:"sessionId,omitempty"`
	ChallengeID  string    `json:"challengeId,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	UserID    string
	SessionID string
	Action    Action
	Success   *bool
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}
