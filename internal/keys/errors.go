package keys

import "fmt"

// ErrorKind enumerates the ways a key operation can fail. Values are
// stable strings so they survive JSON round-trips in logs and audit
// records.
type ErrorKind string

const (
	ErrUnknown             ErrorKind = "unknown"
	ErrAlreadyExists       ErrorKind = "already_exists"
	ErrNotFound            ErrorKind = "not_found"
	ErrPolicyDenied        ErrorKind = "policy_denied"
	ErrApprovalRequired    ErrorKind = "approval_required"
	ErrSpendLimitExceeded  ErrorKind = "spend_limit_exceeded"
	ErrBackupFailed        ErrorKind = "backup_failed"
	ErrInvalidKey          ErrorKind = "invalid_key"
	ErrSerializationFailed ErrorKind = "serialization_failed"
	ErrRPCFailed           ErrorKind = "rpc_failed"
	ErrIO                  ErrorKind = "io"
)

// KeyError is the package-local error type for internal/keys and its
// subpackages. It never embeds secret material; BackupError in
// particular is deliberately generic so a caller cannot distinguish a
// bad passphrase from a corrupted file from a version mismatch.
type KeyError struct {
	Kind    ErrorKind
	Label   string
	Message string
	Cause   error
}

func (e *KeyError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Label != "" {
		msg = fmt.Sprintf("%s (label=%s)", msg, e.Label)
	}
	if e.Cause != nil && e.Kind != ErrBackupFailed {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *KeyError) Unwrap() error { return e.Cause }

// WithLabel attaches the affected key label.
func (e *KeyError) WithLabel(label string) *KeyError {
	e.Label = label
	return e
}

// WithCause attaches an underlying cause.
func (e *KeyError) WithCause(cause error) *KeyError {
	e.Cause = cause
	return e
}

// NewKeyError constructs a KeyError of the given kind.
func NewKeyError(kind ErrorKind, message string) *KeyError {
	return &KeyError{Kind: kind, Message: message}
}

// ErrAlreadyExistsFor builds the "duplicate label" error generate_key
// and import_key both need.
func ErrAlreadyExistsFor(label string) *KeyError {
	return NewKeyError(ErrAlreadyExists, "a key with this label already exists").WithLabel(label)
}

// ErrNotFoundFor builds the "no such label" error lookups need.
func ErrNotFoundFor(label string) *KeyError {
	return NewKeyError(ErrNotFound, "no key with this label").WithLabel(label)
}

// NewBackupError builds the deliberately generic backup-restore failure.
// It intentionally discards the underlying cause from its message (the
// cause is still reachable via Unwrap for internal logging) so that a
// wrong passphrase, truncated file, and version mismatch are
// indistinguishable to anything that only reads Error().
func NewBackupError(cause error) *KeyError {
	return &KeyError{Kind: ErrBackupFailed, Message: "backup could not be restored", Cause: cause}
}

// IsKind reports whether err is a *KeyError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ke, ok := err.(*KeyError)
	if !ok {
		return false
	}
	return ke.Kind == kind
}
