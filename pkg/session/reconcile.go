package session

import (
	"fmt"
	"net"
	"time"
)

// StatusView is the status report returned to callers polling a session.
type StatusView struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`

	// TaskStatus is the orchestrator's raw status, when known.
	TaskStatus string `json:"taskStatus,omitempty"`

	PublicEndpoint   *string `json:"publicEndpoint"`
	ConnectionHint   *string `json:"connectionHint"`
	ExpiresInSeconds int64   `json:"expiresInSeconds"`
	Message          string  `json:"message,omitempty"`
}

// Reconcile folds an orchestrator observation into a stored session. It
// returns the update to persist (nil when nothing changed) and the view to
// report. address is the resolved endpoint for the observation's network
// attachment, or "" when none could be resolved. Reconcile has no side
// effects.
func Reconcile(stored *Session, obs Observation, address string, now time.Time, sshUser string) (*Update, StatusView) {
	view := StatusView{
		SessionID:        stored.ID,
		Status:           stored.Status,
		TaskStatus:       obs.LastStatus,
		ExpiresInSeconds: ExpiresIn(stored.ExpiresAt, now),
	}

	if stored.Status == StatusTerminated {
		view.Message = "Session terminated"
		return nil, view
	}

	if !obs.Exists {
		view.Status = StatusTerminated
		view.Message = "Container no longer exists"
		return nil, view
	}

	if obs.Stopped {
		view.Status = StatusTerminated
		view.Message = "Container stopped"
		return nil, view
	}

	if obs.Running && address != "" {
		view.Status = StatusRunning
		view.PublicEndpoint = &address
		view.ConnectionHint = ptr(ConnectionHint(sshUser, address))
		if address == stored.PublicEndpoint && stored.Status == StatusRunning {
			return nil, view
		}
		running := StatusRunning
		return &Update{Status: &running, PublicEndpoint: &address}, view
	}

	// Address not resolvable yet: report what was last persisted.
	if stored.PublicEndpoint != "" {
		endpoint := stored.PublicEndpoint
		view.PublicEndpoint = &endpoint
		view.ConnectionHint = ptr(ConnectionHint(sshUser, endpoint))
	}
	if stored.Status == StatusProvisioning {
		view.Message = "Container is being provisioned"
	}
	return nil, view
}

// ExpiresIn returns the whole seconds remaining until expiresAt, floored at 0.
func ExpiresIn(expiresAt, now time.Time) int64 {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// ConnectionHint builds the ssh command for an endpoint. Endpoints may carry
// a port ("host:port").
func ConnectionHint(user, endpoint string) string {
	if host, port, err := net.SplitHostPort(endpoint); err == nil && port != "" && port != "22" {
		return fmt.Sprintf("ssh -p %s %s@%s", port, user, host)
	} else if err == nil {
		return fmt.Sprintf("ssh %s@%s", user, host)
	}
	return fmt.Sprintf("ssh %s@%s", user, endpoint)
}

func ptr[T any](v T) *T {
	return &v
}
