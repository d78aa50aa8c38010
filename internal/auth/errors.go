package auth

import (
	"fmt"
	"net/http"
)

// Code identifies one of the closed set of failure kinds an operation can
// return. Call sites branch on the code; no other failure shapes escape the
// package.
type Code string

const (
	CodeInvalidClient       Code = "INVALID_CLIENT"
	CodeRedirectMismatch    Code = "REDIRECT_MISMATCH"
	CodeScopeMismatch       Code = "SCOPE_MISMATCH"
	CodeGrantTypeMismatch   Code = "GRANT_TYPE_MISMATCH"
	CodeInvalidClientSecret Code = "INVALID_CLIENT_SECRET"
	CodeUserExists          Code = "USER_EXISTS"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeAccountDisabled     Code = "ACCOUNT_DISABLED"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeInvalidGrant        Code = "INVALID_GRANT"
	CodeExpiredGrant        Code = "EXPIRED_GRANT"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is the typed result every operation returns on failure. Message is
// safe for the response payload; the wrapped cause is operator-facing only.
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func failure(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// internalError wraps a store or crypto fault. The cause never reaches the
// client.
func internalError(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal server error", cause: err}
}

var (
	errInvalidClient       = failure(CodeInvalidClient, http.StatusUnauthorized, "no OAuth client found for client_id")
	errRedirectMismatch    = failure(CodeRedirectMismatch, http.StatusConflict, "redirect_uri does not match any registered redirect URI")
	errScopeMismatch       = failure(CodeScopeMismatch, http.StatusConflict, "requested scopes exceed the client's registered scopes")
	errGrantTypeMismatch   = failure(CodeGrantTypeMismatch, http.StatusConflict, "response_type is not permitted for this client")
	errInvalidClientSecret = failure(CodeInvalidClientSecret, http.StatusUnauthorized, "client secret does not match")
	errUserExists          = failure(CodeUserExists, http.StatusConflict, "user with this email already exists")
	errAccountDisabled     = failure(CodeAccountDisabled, http.StatusForbidden, "account is disabled")
	errSessionNotFound     = failure(CodeSessionNotFound, http.StatusUnauthorized, "session not found or expired")
	errInvalidGrant        = failure(CodeInvalidGrant, http.StatusBadRequest, "invalid grant")
	errExpiredGrant        = failure(CodeExpiredGrant, http.StatusBadRequest, "grant has expired")
	errUnauthorized        = failure(CodeUnauthorized, http.StatusUnauthorized, "invalid or expired access token")

	// Unknown email and wrong password share status and message so the two
	// cases are indistinguishable on the wire; only the code differs, for
	// operator logs, and the boundary collapses that too.
	errUserNotFound       = failure(CodeUserNotFound, http.StatusUnauthorized, "invalid email or password")
	errInvalidCredentials = failure(CodeInvalidCredentials, http.StatusUnauthorized, "invalid email or password")
)
