package shared

import (
	"fmt"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
)

// Errors shared by the auth, session and idempotency layers. Each wraps the
// httpx sentinel that decides its status code.
var (
	ErrNotFound           = fmt.Errorf("shared: %w", httpx.ErrNotFound)
	ErrInvalidCredentials = fmt.Errorf("shared: invalid credentials: %w", httpx.ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("shared: invalid token: %w", httpx.ErrUnauthorized)

	ErrCSRFTokenMissing  = fmt.Errorf("shared: csrf token missing: %w", httpx.ErrForbidden)
	ErrCSRFTokenMismatch = fmt.Errorf("shared: csrf token mismatch: %w", httpx.ErrForbidden)

	// ErrIdempotencyConflict is returned when an Idempotency-Key was already claimed.
	ErrIdempotencyConflict = fmt.Errorf("shared: idempotent request already processed: %w", httpx.ErrDuplicate)
)
