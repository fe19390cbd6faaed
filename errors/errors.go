// Package errors defines the error taxonomy surfaced by pgclient. Socket,
// SSL, authentication, SCRAM, SQL, closed-connection, transaction and pool
// failures of a Connection, Statement, Cursor, or ConnectionPool use these
// kinds, so callers can branch on them with errors.Is/errors.As instead of
// matching strings. Protocol violations (an unexpected or malformed backend
// message) and a few other startup failures are returned as plain wrapped
// errors, not as one of these kinds.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors usable directly with errors.Is.
var (
	ErrSSLNotSupported                    = errors.New("pgclient: server declined SSL negotiation")
	ErrCleartextPasswordCredentialRequired = errors.New("pgclient: server requires a cleartext password credential")
	ErrMD5PasswordCredentialRequired      = errors.New("pgclient: server requires an md5 password credential")
	ErrSCRAMSHA256CredentialRequired      = errors.New("pgclient: server requires a scram-sha-256 credential")
	ErrTrustCredentialRequired            = errors.New("pgclient: server requires a trust credential")
	ErrUnsupportedAuthenticationType      = errors.New("pgclient: server requested an unsupported authentication method")
	ErrConnectionClosed                   = errors.New("pgclient: operation attempted on a closed connection")
	ErrNotInTransaction                   = errors.New("pgclient: no active transaction")
	ErrConnectionPoolClosed               = errors.New("pgclient: connection pool is closed")
	ErrTooManyRequestsForConnections      = errors.New("pgclient: connection pool pending queue is full")
	ErrTimedOutAcquiringConnection        = errors.New("pgclient: timed out waiting to acquire a connection")
)

// SocketError wraps a transport-level failure: the channel factory could not
// establish a connection, or an established connection was lost.
type SocketError struct {
	Cause error
}

func (e *SocketError) Error() string { return fmt.Sprintf("pgclient: socket error: %v", e.Cause) }
func (e *SocketError) Unwrap() error { return e.Cause }

// SCRAMError reports a SCRAM-SHA-256 integrity failure: a mismatched nonce
// echo (MechanismViolated) or a server signature that doesn't verify
// (ServerVerificationFailed).
type SCRAMError struct {
	Reason string
}

func (e *SCRAMError) Error() string { return "pgclient: scram-sha-256: " + e.Reason }

// NewSCRAMMechanismViolated reports a server-first-message whose nonce does
// not echo back the client's nonce.
func NewSCRAMMechanismViolated() *SCRAMError {
	return &SCRAMError{Reason: "server nonce does not start with client nonce (mechanism violated)"}
}

// NewSCRAMServerVerificationFailed reports a server-final-message whose
// signature does not match the client's own computation.
func NewSCRAMServerVerificationFailed() *SCRAMError {
	return &SCRAMError{Reason: "server signature verification failed"}
}

// SQLError represents a backend ErrorResponse. Field names follow the
// PostgreSQL protocol's ErrorResponse field letters: Severity ('S'),
// Code ('C'), Message ('M'), Detail ('D'), Hint ('H'), Position ('P').
type SQLError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
	Position string
}

func (e *SQLError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pgclient: sql error %s: %s", e.Code, e.Message)
	}
	return "pgclient: sql error: " + e.Message
}

// ValueConversionError is raised by external value decoders when a
// text-format column value cannot be converted to the requested type. It is
// defined here so it participates in the same errors.Is/As taxonomy even
// though the decoders themselves live outside this module's scope.
type ValueConversionError struct {
	Column int
	Cause  error
}

func (e *ValueConversionError) Error() string {
	return fmt.Sprintf("pgclient: value conversion error at column %d: %v", e.Column, e.Cause)
}
func (e *ValueConversionError) Unwrap() error { return e.Cause }

// CredentialRequiredFor maps a backend authentication type name to the
// specific *CredentialRequired sentinel, used by the Connection FSM when the
// supplied Credential variant doesn't match what the server demanded.
func CredentialRequiredFor(mechanism string) error {
	switch mechanism {
	case "cleartext":
		return ErrCleartextPasswordCredentialRequired
	case "md5":
		return ErrMD5PasswordCredentialRequired
	case "scram-sha-256":
		return ErrSCRAMSHA256CredentialRequired
	case "trust":
		return ErrTrustCredentialRequired
	default:
		return ErrUnsupportedAuthenticationType
	}
}
