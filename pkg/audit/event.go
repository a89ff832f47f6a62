package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// NewEvent creates a new audit event.
func NewEvent(action Action) *Event {
	return &Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Action:    action,
	}
}

// WithUser adds the acting learner to the event.
func (e *Event) WithUser(userID string) *Event {
	e.UserID = userID
	return e
}

// WithSession adds the sandbox session the action applied to.
func (e *Event) WithSession(sessionID, challengeID string) *Event {
	e.SessionID = sessionID
	e.ChallengeID = challengeID
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// matches reports whether e satisfies every criterion set in f.
func (f QueryFilter) matches(e Event) bool {
	switch {
	case f.StartTime != nil && e.Timestamp.Before(*f.StartTime):
		return false
	case f.EndTime != nil && e.Timestamp.After(*f.EndTime):
		return false
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.SessionID != "" && e.SessionID != f.SessionID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Success != nil && e.Success != *f.Success:
		return false
	}
	return true
}
