package auth

import (
	"errors"
	"fmt"
)

// ErrRefreshInFlight is returned when a refresh is requested while another is
// already running. The in-flight attempt determines the session outcome.
var ErrRefreshInFlight = errors.New("token refresh already in progress")

// ConfigurationError reports missing OAuth configuration. Sign-in is blocked
// until the named variables are set.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("kick oauth missing configuration: %v", e.Missing)
}

// AuthError is a sign-in or refresh failure surfaced to the user: provider
// errors, state mismatches, cancelled flows, and failed exchanges.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// StorageError wraps persistence failures. Corrupt stored values are treated
// as absence and never carry this type; only the database itself failing does.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
