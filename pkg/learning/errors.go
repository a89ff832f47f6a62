package learning

import "errors"

// Sentinel errors. Errors returned by Service match one of these with
// errors.Is.
var (
	ErrInvalid  = errors.New("invalid request")
	ErrNotFound = errors.New("not found")
)

// Error carries a caller-facing message for a sentinel kind.
type Error struct {
	kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches the sentinel kind.
func (e *Error) Is(target error) bool { return target == e.kind }

func invalid(msg string) error {
	return &Error{kind: ErrInvalid, Message: msg}
}

func notFound(msg string) error {
	return &Error{kind: ErrNotFound, Message: msg}
}
