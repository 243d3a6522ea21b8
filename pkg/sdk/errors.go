package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidToken is returned when an empty token is handed to the TokenStore.
	ErrInvalidToken = errors.New("invalid token: token must not be empty")

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("not authenticated: no active session")

	// ErrNoRefreshToken is returned when a refresh is requested without a stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrSessionExpired is returned when the refresh protocol fails. The session has
	// already been cleared locally when this error is observed.
	ErrSessionExpired = errors.New("session expired, please log in again")

	// ErrForbidden is returned by Guard when the principal lacks every required role.
	ErrForbidden = errors.New("access denied: role not allowed")
)

// ErrorKind classifies a failure observed at the gateway boundary.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindClient       ErrorKind = "client"
	KindServer       ErrorKind = "server"
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
)

// APIError is the normalized error shape every Gateway call returns.
type APIError struct {
	Kind    ErrorKind
	Message string
	// Status is zero for transport-level failures.
	Status int
	// Details holds the decoded response body, when there was one.
	Details any
	// Field names the offending input field when the backend reports one.
	Field string
	URL   string

	Err error

	// serverMessage is the message the backend put in the body, if any.
	serverMessage string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (status=%d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// AuthError is returned when the backend rejects credentials or a token during
// login, registration or profile operations.
type AuthError struct {
	Message string
	Status  int
	Details any

	Err error
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status=%d)", e.Message, e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError is a client-side precondition failure. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// IsKind reports whether err carries an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsUnauthorized reports whether err is a 401 response from the backend.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// newAuthError converts a gateway failure into an AuthError, falling back to
// defaultMsg when the backend did not explain itself.
func newAuthError(err error, defaultMsg string) *AuthError {
	authErr := &AuthError{Message: defaultMsg, Err: err}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		authErr.Status = apiErr.Status
		authErr.Details = apiErr.Details
		if apiErr.serverMessage != "" {
			authErr.Message = apiErr.serverMessage
		}
	}
	return authErr
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}
