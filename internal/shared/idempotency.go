package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
)

// IdempotencyHeader is the request header clients use to deduplicate writes.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// IdempotencyClaimer is the subset of IdempotencyStore used by handlers.
type IdempotencyClaimer interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ClaimIdempotencyKey reserves the request's Idempotency-Key for the company.
// Requests without the header are not deduplicated. The release func frees
// the key again and must be called when processing fails.
func ClaimIdempotencyKey(r *http.Request, store IdempotencyClaimer, companyID int64, module string) (func(), error) {
	noop := func() {}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || store == nil {
		return noop, nil
	}
	if len(key) > 128 {
		return noop, fmt.Errorf("%w: %s header is too long", httpx.ErrValidation, IdempotencyHeader)
	}
	scoped := ScopedKey(companyID, key)
	if err := store.CheckAndInsert(r.Context(), scoped, module); err != nil {
		return noop, err
	}
	return func() {
		_ = store.Delete(context.WithoutCancel(r.Context()), scoped)
	}, nil
}

// ScopedKey namespaces a client key by company so tenants cannot collide.
func ScopedKey(companyID int64, key string) string {
	return fmt.Sprintf("%d:%s", companyID, key)
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
