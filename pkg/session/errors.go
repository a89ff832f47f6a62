package session

import (
	"errors"
	"fmt"
)

// Store sentinel errors.
var (
	// ErrNotFound is returned by Store.UpdateFields for an unknown session.
	ErrNotFound = errors.New("session not found")

	// ErrActiveSessionExists is returned by Store.CreateActive when the user
	// already holds an active session.
	ErrActiveSessionExists = errors.New("active session exists")

	// ErrTerminal is returned when an update targets a TERMINATED session.
	ErrTerminal = errors.New("session is terminated")
)

// Kind classifies lifecycle errors.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUpstream
	KindProvision
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindProvision:
		return "provision"
	default:
		return "unknown"
	}
}

// Error is returned by Manager operations.
type Error struct {
	Kind    Kind
	Message string

	// SessionID is the existing session for conflicts, or the target session.
	SessionID string

	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func conflictError(existingID string) error {
	return &Error{Kind: KindConflict, Message: "Active session exists", SessionID: existingID}
}

func notFoundError(id string) error {
	return &Error{Kind: KindNotFound, Message: "Session not found", SessionID: id}
}

func upstreamError(msg string, err error) error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

func provisionError(err error) error {
	return &Error{Kind: KindProvision, Message: "starting sandbox task", Err: err}
}
