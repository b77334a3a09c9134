// Package errors defines the error taxonomy shared by the sync agent and the
// remote client. Classification drives control flow: a session-expiry error
// forces logout, everything else leaves the session alone and waits for the
// next tick.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrAuth              = errors.New("authentication failed")
	ErrSessionExpired    = errors.New("session expired")
	ErrConnection        = errors.New("connection failed")
	ErrTimeout           = errors.New("timeout")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSummarization     = errors.New("summarization failed")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeSessionExpired ErrorType = "session_expired"
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeMalformed      ErrorType = "malformed"
	ErrorTypeSummarization  ErrorType = "summarization"
	ErrorTypeAPI            ErrorType = "api"
)

// AgentError is a structured error for sync operations
type AgentError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "fetch_problems", "login")
	Server    string // Server identity where the error occurred
	Err       error  // Underlying error
	Code      int    // JSON-RPC or HTTP code if applicable
	Timestamp time.Time
	Retryable bool
}

func (e *AgentError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Server, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is mapping for the base error types
func (e *AgentError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrAuth:
		return e.Type == ErrorTypeAuth
	case ErrSessionExpired:
		return e.Type == ErrorTypeSessionExpired
	case ErrConnection:
		return e.Type == ErrorTypeConnection
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrMalformedResponse:
		return e.Type == ErrorTypeMalformed
	case ErrSummarization:
		return e.Type == ErrorTypeSummarization
	}

	return errors.Is(e.Err, target)
}

// New creates a structured error
func New(errType ErrorType, op, server string, err error) *AgentError {
	return &AgentError{
		Type:      errType,
		Op:        op,
		Server:    server,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errType == ErrorTypeConnection || errType == ErrorTypeTimeout,
	}
}

// NewAuthError creates an authentication error (bad credentials, no state change)
func NewAuthError(op, server string, err error) *AgentError {
	return New(ErrorTypeAuth, op, server, err)
}

// NewSessionExpiredError creates a session-expiry error (forces logout)
func NewSessionExpiredError(op, server string) *AgentError {
	return New(ErrorTypeSessionExpired, op, server, ErrSessionExpired)
}

// NewConnectionError creates a connectivity error (retried on the next tick)
func NewConnectionError(op, server string, err error) *AgentError {
	return New(ErrorTypeConnection, op, server, err)
}

// NewTimeoutError creates a timeout error. Timeouts are cycle failures, never
// session expiry.
func NewTimeoutError(op, server string, err error) *AgentError {
	return New(ErrorTypeTimeout, op, server, err)
}

// NewMalformedResponseError creates an error for unexpected payload shapes
func NewMalformedResponseError(op, server string, err error) *AgentError {
	return New(ErrorTypeMalformed, op, server, err)
}

// IsSessionExpired reports whether err carries a session-expiry classification
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsRetryable reports whether the error is transient
func IsRetryable(err error) bool {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}
