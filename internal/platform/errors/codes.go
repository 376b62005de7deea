// Package errors provides structured error handling for the sync core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection errors
	CodeConnectMissingCredential Code = "CONNECT_MISSING_CREDENTIAL"
	CodeConnectTimeout           Code = "CONNECT_TIMEOUT"
	CodeConnectRejected          Code = "CONNECT_REJECTED"
	CodeNotConnected             Code = "NOT_CONNECTED"

	// Session errors
	CodeSessionEmptyID  Code = "SESSION_EMPTY_ID"
	CodeSessionActive   Code = "SESSION_ACTIVE"
	CodeNoActiveSession Code = "NO_ACTIVE_SESSION"

	// Submission errors
	CodeNoActiveQuestion Code = "NO_ACTIVE_QUESTION"
	CodeInvalidChoice    Code = "INVALID_CHOICE"

	// Invitation errors
	CodeCategoryEmptyID Code = "CATEGORY_EMPTY_ID"

	// Credential errors
	CodeTokenMalformed Code = "TOKEN_MALFORMED"
	CodeTokenExpired   Code = "TOKEN_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether an operation failing with this code may succeed
// on a later attempt without caller-side remediation.
func (c Code) Retryable() bool {
	switch c {
	case CodeConnectTimeout, CodeNotConnected:
		return true
	default:
		return false
	}
}
