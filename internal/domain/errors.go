package domain

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation marks input that will never become valid on retry.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is the parent of every "entity absent" error.
	ErrNotFound = errors.New("not found")
	// ErrUserNotFound indicates that no user matches the correlation key or id.
	ErrUserNotFound = errors.WithMessage(ErrNotFound, "user")
	// ErrMeasurementNotFound indicates that the measurement does not exist.
	ErrMeasurementNotFound = errors.WithMessage(ErrNotFound, "measurement")
	// ErrConflict indicates a uniqueness violation, e.g. a duplicate TgID.
	ErrConflict = errors.New("already exists")
	// ErrInfrastructure wraps failures of the backing store or broker.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Infrastructure tags err as an infrastructure failure while keeping the
// original cause reachable through errors.Is / errors.As.
func Infrastructure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &infraError{msg: msg, cause: err}
}

type infraError struct {
	msg   string
	cause error
}

func (e *infraError) Error() string {
	return e.msg + ": " + ErrInfrastructure.Error() + ": " + e.cause.Error()
}

func (e *infraError) Unwrap() []error { return []error{ErrInfrastructure, e.cause} }

// IsPermanent reports whether a failure is caused by the request itself and
// must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}

// IsRetryable reports whether a failure may succeed when attempted again.
// Anything not known to be permanent is retryable, including unclassified
// errors and context deadlines.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}
