package ledger

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
)

// Kind classifies ledger failures for callers and the HTTP boundary.
type Kind int

const (
	// KindValidation marks malformed or inconsistent input.
	KindValidation Kind = iota + 1
	// KindNotFound marks a referenced account or entity that is absent or
	// owned by another company.
	KindNotFound
	// KindConflict marks a uniqueness or state conflict.
	KindConflict
	// KindStorage marks a persistence failure; no partial write is visible.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error is the typed error raised by the ledger engine.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindStorage {
		return fmt.Sprintf("ledger: %s: %v", e.Message, e.Err)
	}
	return "ledger: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets httpx map ledger errors onto status codes.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindValidation:
		return target == httpx.ErrValidation
	case KindNotFound:
		return target == httpx.ErrReference
	case KindConflict:
		return target == httpx.ErrConflict
	case KindStorage:
		return target == httpx.ErrStorage
	}
	return false
}

// Sentinels returned by repositories; the service converts them into typed errors.
var (
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrDuplicateAccount    = errors.New("ledger: account name already exists")
)

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure. Typed errors pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not a ledger error.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return 0
}
