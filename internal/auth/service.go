package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/bizledger/internal/shared"
)

// User is a login bound to exactly one company.
type User struct {
	ID           int64
	CompanyID    int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the tenant scope the user acts in.
func (u User) Principal() shared.Principal {
	return shared.Principal{UserID: u.ID, CompanyID: u.CompanyID}
}

// SessionRecord is the audit row kept for each cookie session.
type SessionRecord struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	IP        string
	UserAgent string
}

// Service checks credentials and tracks sessions.
type Service struct {
	repo Repository
	// compared against when the email is unknown so both paths cost one bcrypt run
	decoy []byte
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	decoy, _ := bcrypt.GenerateFromPassword([]byte("bizledger-decoy"), bcrypt.DefaultCost)
	return &Service{repo: repo, decoy: decoy}
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate resolves an active user from email and password. Unknown
// emails, inactive users and wrong passwords all yield ErrInvalidCredentials;
// storage failures are returned as is.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	switch {
	case errors.Is(err, shared.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.decoy, []byte(password))
		return User{}, shared.ErrInvalidCredentials
	case err != nil:
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive || user.CompanyID == 0 {
		return User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession stores the audit row for a freshly bound session.
func (s *Service) RegisterSession(ctx context.Context, rec SessionRecord) error {
	return s.repo.CreateSession(ctx, rec)
}

// RemoveSession deletes the audit row on logout.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
