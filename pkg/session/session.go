// Package session tracks learner sandbox sessions. It defines the Session
// record, the Store interface that persists it, the Orchestrator interface
// that provisions the sandbox behind it, and the Manager that drives the
// launch, status and terminate lifecycle on top of both.
package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of a sandbox session.
type Status string

// Session states. TERMINATED is terminal.
const (
	StatusProvisioning Status = "PROVISIONING"
	StatusRunning      Status = "RUNNING"
	StatusTerminated   Status = "TERMINATED"
)

// ActiveStatuses lists the states that occupy a learner's single sandbox slot.
var ActiveStatuses = []Status{StatusProvisioning, StatusRunning}

// IsActive reports whether the status occupies the learner's sandbox slot.
func (s Status) IsActive() bool {
	return s == StatusProvisioning || s == StatusRunning
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.IsActive() || s == StatusTerminated
}

// Session is one learner's ephemeral sandbox instance.
type Session struct {
	// ID is the unique session identifier, generated at launch.
	ID string `json:"sessionId"`

	// UserID identifies the owning learner.
	UserID string `json:"userId"`

	// ChallengeID selects the sandbox image.
	ChallengeID string `json:"challengeId"`

	// TaskHandle references the orchestrator-managed task.
	TaskHandle string `json:"taskHandle"`

	// ContainerName is the name given to the sandbox container.
	ContainerName string `json:"containerName,omitempty"`

	Status Status `json:"status"`

	// PublicEndpoint is set once the orchestrator reports a reachable address.
	PublicEndpoint string `json:"publicEndpoint,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ExpiresAt is CreatedAt plus the configured TTL. It is advisory unless
	// a Reaper is running.
	ExpiresAt time.Time `json:"expiresAt"`

	// TerminatedAt is set when the session is marked TERMINATED.
	TerminatedAt *time.Time `json:"terminatedAt,omitempty"`
}

// Update names the subset of session fields to change. Nil fields are left
// untouched.
type Update struct {
	Status         *Status
	PublicEndpoint *string
	TerminatedAt   *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.Status == nil && u.PublicEndpoint == nil && u.TerminatedAt == nil
}

// apply copies the update onto s.
func (u Update) apply(s *Session, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.PublicEndpoint != nil {
		s.PublicEndpoint = *u.PublicEndpoint
	}
	if u.TerminatedAt != nil {
		t := *u.TerminatedAt
		s.TerminatedAt = &t
	}
	s.UpdatedAt = now
}

// Store defines the interface for session persistence.
type Store interface {
	// Get retrieves a session by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*Session, error)

	// FindActiveByUser returns the user's PROVISIONING or RUNNING session via
	// the per-user index. Returns nil, nil if there is none.
	FindActiveByUser(ctx context.Context, userID string) (*Session, error)

	// CreateActive persists a new active session. It fails with
	// ErrActiveSessionExists when the user already holds an active session;
	// the check and the write are a single atomic step.
	CreateActive(ctx context.Context, s *Session) error

	// Put creates or replaces a session without checking its prior state.
	// The one-active-session-per-user invariant still holds: writing an
	// active session for a user who holds a different active session fails
	// with ErrActiveSessionExists. Terminated records are always written.
	Put(ctx context.Context, s *Session) error

	// UpdateFields applies a partial update. It returns ErrNotFound for an
	// unknown ID and ErrTerminal when the session is already TERMINATED.
	UpdateFields(ctx context.Context, id string, u Update) error

	// ListExpiredActive returns up to limit active sessions whose ExpiresAt
	// is at or before now.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Session, error)

	// ListByUser returns up to limit sessions for the user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)

	// Close releases resources.
	Close() error
}

// TaskSpec describes the sandbox task to start.
type TaskSpec struct {
	ChallengeID   string
	ContainerName string
	Env           map[string]string
}

// Observation is the orchestrator's current view of a task.
type Observation struct {
	// Exists is false once the orchestrator no longer knows the task.
	Exists bool

	// Running is true when the task is up.
	Running bool

	// Stopped is true when the task exists but has stopped or is stopping.
	Stopped bool

	// LastStatus is the orchestrator's raw status string.
	LastStatus string

	// NetworkAttachmentID identifies the network attachment to resolve into
	// a reachable address. Empty while none is attached.
	NetworkAttachmentID string
}

// Orchestrator starts, observes and stops isolated sandbox tasks.
type Orchestrator interface {
	// StartTask launches a task and returns its handle.
	StartTask(ctx context.Context, spec TaskSpec) (string, error)

	// DescribeTask reports the task's current state.
	DescribeTask(ctx context.Context, handle string) (Observation, error)

	// ResolveAddress turns a network attachment into a reachable address.
	// It returns "" while no address is available yet.
	ResolveAddress(ctx context.Context, attachmentID string) (string, error)

	// StopTask stops the task. Stopping a task that is already stopped or
	// gone returns nil.
	StopTask(ctx context.Context, handle, reason string) error
}
