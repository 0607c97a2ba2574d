package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means there is no bearer credential and no session to
	// recover. Callers should prompt for sign-in.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrSessionDead means the refresh endpoint rejected the long-lived
	// credential. Only re-authentication can recover.
	ErrSessionDead = errors.New("session is no longer valid")

	// ErrTransient means the refresh exchange failed for a reason unrelated to
	// the session itself (network, timeout, server error, malformed body).
	ErrTransient = errors.New("transient refresh failure")
)

// FailureKind classifies a failed refresh exchange.
type FailureKind int

const (
	// Transient failures leave session state untouched.
	Transient FailureKind = iota
	// SessionDead failures clear the credential and invalidate the session.
	SessionDead
)

func (k FailureKind) String() string {
	switch k {
	case SessionDead:
		return "session_dead"
	default:
		return "transient"
	}
}

// RefreshError is returned by the refresh exchange and propagated to every
// request waiting on the failed episode.
type RefreshError struct {
	Kind       FailureKind
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RefreshError) Error() string {
	msg := "refresh failed (" + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status %d", e.StatusCode)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *RefreshError) Unwrap() []error {
	kind := ErrTransient
	if e.Kind == SessionDead {
		kind = ErrSessionDead
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

func sessionDead(status int, err error) *RefreshError {
	return &RefreshError{Kind: SessionDead, StatusCode: status, Err: err}
}

func transient(status int, err error) *RefreshError {
	return &RefreshError{Kind: Transient, StatusCode: status, Err: err}
}

// classifyStatus maps a non-2xx refresh status to a failure kind.
func classifyStatus(status int) FailureKind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return SessionDead
	}
	return Transient
}

// ProviderError is a rejection from the identity provider's login, register
// or logout endpoints.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("identity provider returned status %d: %s (%s)", e.StatusCode, e.Message, e.Code)
	case e.Message != "":
		return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("identity provider returned status %d", e.StatusCode)
	}
}
