package retry

import (
	"context"
	"errors"
)

// retryabler is implemented by errors that know whether a retry can help.
type retryabler interface {
	Retryable() bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable is the default classifier.
//
// Cancellation and errors that report Retryable() == false are fatal. A
// deadline is a timeout and retries. Anything unclassified is treated as
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
