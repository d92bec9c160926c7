package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// Repository is the persistence the auth service needs.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	CreateSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository reads users and writes session rows in Postgres.
type PGRepository struct {
	q db.Querier
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

const selectUser = `SELECT id, company_id, email, password_hash, is_active, created_at, updated_at FROM users`

// FindByEmail matches case-insensitively.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.q.QueryRow(ctx, selectUser+` WHERE lower(email) = lower($1)`, email).
		Scan(&u.ID, &u.CompanyID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

func (r *PGRepository) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := r.q.Exec(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, time.Now().UTC(), rec.ExpiresAt.UTC(),
		optionalText(rec.IP), optionalText(rec.UserAgent))
	return err
}

func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

var _ Repository = (*PGRepository)(nil)
