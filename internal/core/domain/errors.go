package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrNotFound      = errors.New("not found")
	ErrCanceled      = errors.New("operation canceled")
	ErrTimeout       = errors.New("request timeout")
)

// ValidationError marks caller misuse. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RemoteError is a failed remote call carrying an HTTP-like status.
// Status zero means the request never got a response.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return "remote: " + e.Message
	}
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func (e *RemoteError) IsTransient() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == http.StatusRequestTimeout
}

// IsTransient reports whether err may succeed on retry: timeouts,
// connectivity failures and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.IsTransient()
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	// Errors without a status never reached the server.
	return !errors.Is(err, ErrNotFound)
}

func IsRejected(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.Status >= 400 && rerr.Status < 500
}
