package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorKind classifies a model failure.
type ErrorKind string

const (
	ErrTimeout       ErrorKind = "timeout"
	ErrRateLimit     ErrorKind = "rate_limit"
	ErrMalformed     ErrorKind = "malformed_response"
	ErrAuth          ErrorKind = "auth"
	ErrConnection    ErrorKind = "connection"
	ErrContextLength ErrorKind = "context_length"
	ErrNotFound      ErrorKind = "not_found"
	ErrServer        ErrorKind = "server"
	ErrUnknown       ErrorKind = "unknown"
)

// Error is a classified model failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrAuth, ErrContextLength, ErrNotFound:
		return false
	}
	return true
}

// KindOf returns the kind of a classified error, or ErrUnknown.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ErrUnknown
}

// Classify wraps err in an *Error. Cancellation is returned unchanged so the
// caller can tell it apart from a failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if kind := kindForStatus(apiErr.StatusCode); kind != ErrUnknown {
			return &Error{Kind: kind, Err: err}
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden"):
		return &Error{Kind: ErrAuth, Err: err}
	case containsAny(errStr, "429", "rate limit", "quota", "too many requests", "overloaded"):
		return &Error{Kind: ErrRateLimit, Err: err}
	case containsAny(errStr, "context length", "too many tokens", "prompt is too long", "token limit"):
		return &Error{Kind: ErrContextLength, Err: err}
	case containsAny(errStr, "model not found", "404"):
		return &Error{Kind: ErrNotFound, Err: err}
	case containsAny(errStr, "timeout", "deadline exceeded"):
		return &Error{Kind: ErrTimeout, Err: err}
	case containsAny(errStr, "connection", "eof", "dial", "refused", "no such host"):
		return &Error{Kind: ErrConnection, Err: err}
	}
	return &Error{Kind: ErrUnknown, Err: err}
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrServer
	}
	return ErrUnknown
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
