package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients.
const (
	CodeMissingToken            = "MISSING_TOKEN"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeAuthError               = "AUTH_ERROR"
)

// Sentinel errors for authentication operations.
var (
	// ErrMissingToken indicates that no token was found in the request.
	ErrMissingToken = errors.New("missing token")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken indicates that the token failed verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrAuthRequired indicates that a gate needed a principal and found none.
	ErrAuthRequired = errors.New("authentication required")

	// ErrInsufficientPermissions indicates that the principal lacks a role or permission.
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// ErrVerification indicates an unexpected failure while verifying a token.
	ErrVerification = errors.New("token verification failed")
)

// Error is an authentication or authorization failure with its HTTP mapping.
type Error struct {
	Status  int
	Code    string
	Message string
	// Details are merged into the error envelope, e.g. required/current.
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError maps err onto an *Error. Errors that are not one of the package
// sentinels become a 500 AUTH_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}

	switch {
	case errors.Is(err, ErrMissingToken):
		return &Error{Status: http.StatusUnauthorized, Code: CodeMissingToken,
			Message: "Authentication token is required", Cause: err}
	case errors.Is(err, ErrTokenExpired):
		return &Error{Status: http.StatusUnauthorized, Code: CodeTokenExpired,
			Message: "Authentication token has expired", Cause: err}
	case errors.Is(err, ErrInvalidToken):
		return &Error{Status: http.StatusUnauthorized, Code: CodeInvalidToken,
			Message: "Authentication token is invalid", Cause: err}
	case errors.Is(err, ErrAuthRequired):
		return &Error{Status: http.StatusUnauthorized, Code: CodeAuthRequired,
			Message: "Authentication is required", Cause: err}
	case errors.Is(err, ErrInsufficientPermissions):
		return &Error{Status: http.StatusForbidden, Code: CodeInsufficientPermissions,
			Message: "Insufficient permissions", Cause: err}
	default:
		return &Error{Status: http.StatusInternalServerError, Code: CodeAuthError,
			Message: "Authentication error", Cause: err}
	}
}
