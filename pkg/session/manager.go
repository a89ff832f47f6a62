package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a sandbox session is advertised as valid.
	DefaultTTL = 2 * time.Hour

	// DefaultSSHUser is the login used in connection hints.
	DefaultSSHUser = "student"

	// terminateReason is passed to the orchestrator for user-requested stops.
	terminateReason = "User requested termination"

	// expireReason is passed to the orchestrator when the reaper reclaims a session.
	expireReason = "Session expired"

	// supersededReason is used when a concurrent launch won the user's slot.
	supersededReason = "Superseded by concurrent launch"

	slogKeyError     = "error"
	slogKeySessionID = "session_id"
)

// TerminatePolicy decides how Terminate treats a failed stop request.
type TerminatePolicy string

// Terminate policies.
const (
	// TerminateOptimistic marks the session TERMINATED even if the stop
	// request failed, releasing the learner's slot.
	TerminateOptimistic TerminatePolicy = "optimistic"

	// TerminateConfirmed leaves the session untouched and returns an
	// upstream error when the stop request failed.
	TerminateConfirmed TerminatePolicy = "confirmed"
)

// Metrics receives lifecycle outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	LaunchOutcome(outcome string)
	TerminateOutcome(outcome string)
	OrchestratorCall(op string, d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) LaunchOutcome(string)                          {}
func (noopMetrics) TerminateOutcome(string)                       {}
func (noopMetrics) OrchestratorCall(string, time.Duration, error) {}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// TTL is added to the creation time to compute ExpiresAt.
	TTL time.Duration

	// SSHUser is the login used in connection hints.
	SSHUser string

	// TerminatePolicy defaults to TerminateOptimistic.
	TerminatePolicy TerminatePolicy

	// Metrics is optional.
	Metrics Metrics

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func(userID string, now time.Time) string
}

// Manager drives the sandbox session lifecycle. It holds no session state of
// its own; all coordination happens through the Store.
type Manager struct {
	store Store
	orch  Orchestrator
	cfg   ManagerConfig
}

// NewManager creates a Manager.
func NewManager(store Store, orch Orchestrator, cfg ManagerConfig) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SSHUser == "" {
		cfg.SSHUser = DefaultSSHUser
	}
	if cfg.TerminatePolicy == "" {
		cfg.TerminatePolicy = TerminateOptimistic
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	return &Manager{store: store, orch: orch, cfg: cfg}
}

// NewID returns "session-<userID>-<unix millis>-<random>".
func NewID(userID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("session-%s-%d-%s", userID, now.UnixMilli(), suffix)
}

// ContainerName returns the sandbox container name for a session.
func ContainerName(challengeID, sessionID string) string {
	return fmt.Sprintf("challenge-%s-%s", challengeID, sessionID)
}

// Launch starts a sandbox for the user. A user holds at most one active
// session; a second launch fails with a conflict carrying the existing ID.
func (m *Manager) Launch(ctx context.Context, userID, challengeID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	challengeID = strings.TrimSpace(challengeID)
	if userID == "" || challengeID == "" {
		m.cfg.Metrics.LaunchOutcome("invalid")
		return nil, validationError("userId and challengeId are required for launch action")
	}

	existing, err := m.store.FindActiveByUser(ctx, userID)
	if err != nil {
		m.cfg.Metrics.LaunchOutcome("error")
		return nil, upstreamError("checking existing session", err)
	}
	if existing != nil {
		m.cfg.Metrics.LaunchOutcome("conflict")
		return nil, conflictError(existing.ID)
	}

	now := m.cfg.Now()
	id := m.cfg.NewID(userID, now)
	containerName := ContainerName(challengeID, id)

	handle, err := m.startTask(ctx, TaskSpec{
		ChallengeID:   challengeID,
		ContainerName: containerName,
		Env: map[string]string{
			"USER_ID":        userID,
			"CHALLENGE_ID":   challengeID,
			"SESSION_ID":     id,
			"CONTAINER_NAME": containerName,
		},
	})
	if err != nil {
		m.cfg.Metrics.LaunchOutcome("provision_failed")
		return nil, provisionError(err)
	}

	sess := &Session{
		ID:            id,
		UserID:        userID,
		ChallengeID:   challengeID,
		TaskHandle:    handle,
		ContainerName: containerName,
		Status:        StatusProvisioning,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.TTL),
	}

	if err := m.store.CreateActive(ctx, sess); err != nil {
		return nil, m.abandonLaunch(ctx, sess, err)
	}

	slog.Info("session: launched",
		slogKeySessionID, id, "user_id", userID, "challenge_id", challengeID, "task", handle)
	m.cfg.Metrics.LaunchOutcome("launched")
	return sess, nil
}

// abandonLaunch stops a task whose session could not be persisted and
// returns the error to report.
func (m *Manager) abandonLaunch(ctx context.Context, sess *Session, storeErr error) error {
	reason := terminateReason
	if errors.Is(storeErr, ErrActiveSessionExists) {
		reason = supersededReason
	}
	if err := m.stopTask(ctx, sess.TaskHandle, reason); err != nil {
		slog.Warn("session: failed to stop abandoned task",
			slogKeySessionID, sess.ID, "task", sess.TaskHandle, slogKeyError, err)
	}

	if !errors.Is(storeErr, ErrActiveSessionExists) {
		m.cfg.Metrics.LaunchOutcome("error")
		return upstreamError("saving session", storeErr)
	}

	m.cfg.Metrics.LaunchOutcome("conflict")
	winner, err := m.store.FindActiveByUser(ctx, sess.UserID)
	if err != nil {
		slog.Error("session: loading concurrent launch winner failed",
			"user_id", sess.UserID, slogKeyError, err)
		return upstreamError("loading active session", err)
	}
	if winner == nil {
		// The winner was terminated before it could be read back.
		return conflictError("")
	}
	return conflictError(winner.ID)
}

// Status reports the session's current state, reconciling the stored record
// with what the orchestrator observes. When a running task has a newly
// resolved address the record is moved to RUNNING.
func (m *Manager) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	sess, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Now()
	if sess.Status == StatusTerminated {
		_, view := Reconcile(sess, Observation{}, "", now, m.cfg.SSHUser)
		return &view, nil
	}

	obs, err := m.describeTask(ctx, sess.TaskHandle)
	if err != nil {
		return nil, upstreamError("describing sandbox task", err)
	}

	var address string
	if obs.Exists && obs.Running && obs.NetworkAttachmentID != "" {
		address, err = m.orch.ResolveAddress(ctx, obs.NetworkAttachmentID)
		if err != nil {
			slog.Debug("session: address not resolvable yet",
				slogKeySessionID, sessionID, "attachment", obs.NetworkAttachmentID, slogKeyError, err)
			address = ""
		}
	}

	update, view := Reconcile(sess, obs, address, now, m.cfg.SSHUser)
	if update != nil {
		if err := m.store.UpdateFields(ctx, sessionID, *update); err != nil {
			if errors.Is(err, ErrTerminal) {
				// Terminated concurrently; report the terminal state.
				view.Status = StatusTerminated
				view.PublicEndpoint = nil
				view.ConnectionHint = nil
				return &view, nil
			}
			return nil, upstreamError("updating session", err)
		}
		slog.Info("session: running", slogKeySessionID, sessionID, "endpoint", address)
	}
	return &view, nil
}

// Terminate stops the session's task and marks the session TERMINATED.
// Terminating an already terminated session succeeds.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	sess, err := m.get(ctx, sessionID)
	if err != nil {
		return err
	}
	return m.terminate(ctx, sess, terminateReason)
}

// Expire terminates a session on behalf of the reaper.
func (m *Manager) Expire(ctx context.Context, sess *Session) error {
	return m.terminate(ctx, sess, expireReason)
}

func (m *Manager) terminate(ctx context.Context, sess *Session, reason string) error {
	if sess.Status == StatusTerminated {
		m.cfg.Metrics.TerminateOutcome("already_terminated")
		return nil
	}

	stopErr := m.stopTask(ctx, sess.TaskHandle, reason)
	if stopErr != nil {
		if m.cfg.TerminatePolicy == TerminateConfirmed {
			m.cfg.Metrics.TerminateOutcome("stop_failed")
			return upstreamError("stopping sandbox task", stopErr)
		}
		slog.Warn("session: stop request failed, marking terminated anyway",
			slogKeySessionID, sess.ID, "task", sess.TaskHandle, slogKeyError, stopErr)
	}

	terminated := StatusTerminated
	now := m.cfg.Now()
	err := m.store.UpdateFields(ctx, sess.ID, Update{Status: &terminated, TerminatedAt: &now})
	switch {
	case errors.Is(err, ErrTerminal):
		m.cfg.Metrics.TerminateOutcome("already_terminated")
		return nil
	case errors.Is(err, ErrNotFound):
		return notFoundError(sess.ID)
	case err != nil:
		m.cfg.Metrics.TerminateOutcome("error")
		return upstreamError("updating session", err)
	}

	slog.Info("session: terminated", slogKeySessionID, sess.ID, "reason", reason)
	m.cfg.Metrics.TerminateOutcome("terminated")
	return nil
}

// History returns the user's sessions, newest first.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("userId is required")
	}
	sessions, err := m.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, upstreamError("listing sessions", err)
	}
	return sessions, nil
}

// Get returns the stored session. Unknown IDs yield a NotFound error.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.get(ctx, sessionID)
}

func (m *Manager) get(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, validationError("sessionId is required")
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, upstreamError("loading session", err)
	}
	if sess == nil {
		return nil, notFoundError(sessionID)
	}
	return sess, nil
}

func (m *Manager) startTask(ctx context.Context, spec TaskSpec) (string, error) {
	start := time.Now()
	handle, err := m.orch.StartTask(ctx, spec)
	m.cfg.Metrics.OrchestratorCall("start", time.Since(start), err)
	return handle, err
}

func (m *Manager) describeTask(ctx context.Context, handle string) (Observation, error) {
	start := time.Now()
	obs, err := m.orch.DescribeTask(ctx, handle)
	m.cfg.Metrics.OrchestratorCall("describe", time.Since(start), err)
	return obs, err
}

func (m *Manager) stopTask(ctx context.Context, handle, reason string) error {
	start := time.Now()
	err := m.orch.StopTask(ctx, handle, reason)
	m.cfg.Metrics.OrchestratorCall("stop", time.Since(start), err)
	return err
}
