// Package fault carries the service-wide error taxonomy. Authorization and
// propagation failures are classified with gRPC codes so callers at any
// transport boundary can translate them uniformly.
package fault

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Unauthenticated reasons attached by the token verifier.
const (
	ReasonTokenMissing   = "token_missing"
	ReasonTokenExpired   = "token_expired"
	ReasonTokenRevoked   = "token_revoked"
	ReasonTokenMalformed = "token_malformed"
)

// Error is a classified failure. Reason is a stable machine-readable tag;
// the wrapped cause, when present, is operator-facing only.
type Error struct {
	Code   codes.Code
	Reason string
	Msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// GRPCStatus makes Error satisfy the status interface used by grpc-go.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Msg)
}

// Unauthenticated classifies a failed identity verification.
func Unauthenticated(reason, msg string) *Error {
	return &Error{Code: codes.Unauthenticated, Reason: reason, Msg: msg}
}

// FailedPrecondition marks state that exists but cannot be used, such as a
// profile whose tenant id is malformed.
func FailedPrecondition(msg string) *Error {
	return &Error{Code: codes.FailedPrecondition, Reason: "failed_precondition", Msg: msg}
}

// NotFound marks a lookup for a row the caller cannot see or that does not
// exist. The two cases are deliberately indistinguishable.
func NotFound(msg string) *Error {
	return &Error{Code: codes.NotFound, Reason: "not_found", Msg: msg}
}

// InvalidArgument marks unusable caller input.
func InvalidArgument(msg string) *Error {
	return &Error{Code: codes.InvalidArgument, Reason: "invalid_argument", Msg: msg}
}

// PermissionDenied marks a role check failure.
func PermissionDenied(msg string) *Error {
	return &Error{Code: codes.PermissionDenied, Reason: "permission_denied", Msg: msg}
}

// Internal wraps infrastructure failures (store connectivity and the like).
func Internal(msg string, cause error) *Error {
	return &Error{Code: codes.Internal, Reason: "internal", Msg: msg, cause: cause}
}

// CodeOf extracts the classification from err, defaulting to Internal.
func CodeOf(err error) codes.Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return codes.Internal
}

// ReasonOf returns the stable reason tag, or empty for unclassified errors.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// HTTPStatus maps a classified error onto an HTTP response code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
