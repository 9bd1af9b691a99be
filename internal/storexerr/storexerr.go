// Package storexerr is the engine's sealed error taxonomy. Every failure
// that crosses a store boundary (fetcher, SoT adapter, validation) is
// normalized into one of these kinds so the bookkeeper, the retry policy,
// and the circuit breaker can all answer "is this retryable?" from the same
// source of truth.
//
// The taxonomy intentionally carries no HTTP status mapping: this is a
// library, not a server, and the fetcher is the only place that ever saw an
// HTTP response in the first place.
package storexerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the taxonomy's variants.
type Kind int

const (
	Unknown Kind = iota
	NetworkTimeout
	NetworkNoConnection
	NetworkHTTPError
	NetworkDNSError
	NetworkSSLError
	PersistenceReadError
	PersistenceWriteError
	PersistenceDeleteError
	PersistenceDiskFull
	PersistencePermissionDenied
	PersistenceTransactionConflict
	PersistenceDatabaseLocked
	Validation
	NotFound
	Serialization
	Configuration
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case NetworkTimeout:
		return "network_timeout"
	case NetworkNoConnection:
		return "network_no_connection"
	case NetworkHTTPError:
		return "network_http_error"
	case NetworkDNSError:
		return "network_dns_error"
	case NetworkSSLError:
		return "network_ssl_error"
	case PersistenceReadError:
		return "persistence_read_error"
	case PersistenceWriteError:
		return "persistence_write_error"
	case PersistenceDeleteError:
		return "persistence_delete_error"
	case PersistenceDiskFull:
		return "persistence_disk_full"
	case PersistencePermissionDenied:
		return "persistence_permission_denied"
	case PersistenceTransactionConflict:
		return "persistence_transaction_conflict"
	case PersistenceDatabaseLocked:
		return "persistence_database_locked"
	case Validation:
		return "validation_error"
	case NotFound:
		return "not_found"
	case Serialization:
		return "serialization_error"
	case Configuration:
		return "configuration_error"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the concrete type carried by every classified failure.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Status     int           // HTTP status, NetworkHTTPError only; 0 otherwise
	RetryAfter time.Duration // RateLimited only; 0 means "no server hint"
}

// New builds an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that chains cause via Unwrap.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(cause error, kind Kind, format string, args ...any) *Error {
	return Wrap(cause, kind, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the classified error is worth retrying.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case NetworkTimeout, NetworkNoConnection, NetworkDNSError,
		PersistenceReadError, PersistenceWriteError, PersistenceDeleteError,
		PersistenceTransactionConflict, PersistenceDatabaseLocked,
		RateLimited, Unknown:
		return true
	case NetworkHTTPError:
		return httpRetryable(e.Status)
	default:
		return false
	}
}

func httpRetryable(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

// HTTPError builds a NetworkHTTPError carrying the response status.
func HTTPError(status int, body string) *Error {
	return &Error{
		Kind:    NetworkHTTPError,
		Message: fmt.Sprintf("http status %d", status),
		Status:  status,
		Cause:   errors.New(body),
	}
}

// RateLimitedError builds a RateLimited error, optionally carrying a
// server-suggested retry delay that overrides the caller's retry policy.
func RateLimitedError(retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Message: "rate limited", RetryAfter: retryAfter}
}

// IsKind reports whether err (or anything in its chain) is a *Error of kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// From normalizes an arbitrary error into the taxonomy by case-insensitive
// substring matching on its message, for adapters written against unknown
// transports. Already-classified errors pass through unchanged.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(err, NetworkTimeout, "classified from timeout-like message")
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return Wrap(err, NetworkDNSError, "classified from dns-like message")
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable"):
		return Wrap(err, NetworkNoConnection, "classified from connection-refused-like message")
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "x509") || strings.Contains(msg, "tls"):
		return Wrap(err, NetworkSSLError, "classified from tls-like message")
	case strings.Contains(msg, "disk full") || strings.Contains(msg, "no space left"):
		return Wrap(err, PersistenceDiskFull, "classified from disk-full-like message")
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied"):
		return Wrap(err, PersistencePermissionDenied, "classified from permission-denied-like message")
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "database locked"):
		return Wrap(err, PersistenceDatabaseLocked, "classified from database-locked-like message")
	case strings.Contains(msg, "conflict") || strings.Contains(msg, "serialization failure"):
		return Wrap(err, PersistenceTransactionConflict, "classified from conflict-like message")
	case strings.Contains(msg, "not found"):
		return Wrap(err, NotFound, "classified from not-found-like message")
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return Wrap(err, RateLimited, "classified from rate-limit-like message")
	default:
		return Wrap(err, Unknown, "unclassified error")
	}
}

// NotFoundError builds a NotFound error for the given key representation.
func NotFoundError(keyRepr string) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf("key %q not found", keyRepr)}
}

// ValidationError builds a non-retryable Validation error.
func ValidationError(message string) *Error {
	return &Error{Kind: Validation, Message: message}
}

// ConfigurationError builds a non-retryable Configuration error.
func ConfigurationError(message string) *Error {
	return &Error{Kind: Configuration, Message: message}
}

// IsCancellation reports whether err represents task cancellation rather
// than a classifiable failure. Callers must check this before calling
// From, since cancellation must never be recorded as a bookkeeper failure
// or a breaker trip. context.DeadlineExceeded is deliberately excluded: a
// timeout is a classifiable Network.Timeout, not a cancellation, and must
// still be recorded on the bookkeeper/breaker.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
