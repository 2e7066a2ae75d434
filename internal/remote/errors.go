// Package remote defines the boundary to the shared remote store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// StatusError is a remote rejection carrying the service's status code.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// ErrMissingTable marks a "table not found" response. Callers treat it as a
// benign empty result, never as a failure.
var ErrMissingTable = errors.New("remote table not found")

// IsMissingTable reports whether err is the benign missing-table case.
func IsMissingTable(err error) bool {
	return errors.Is(err, ErrMissingTable)
}

// IsTransient classifies an error as a network-shaped failure worth
// retrying: timeouts, unreachable hosts, cancelled contexts, 5xx and 429
// responses. Everything else is treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 429
	}

	return false
}
