package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service orchestrates RBAC operations.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EnsureRole returns the named role, creating it when absent.
func (s *Service) EnsureRole(ctx context.Context, companyID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	var r Role
	err := s.pool.QueryRow(ctx, `INSERT INTO roles (company_id, name, description) VALUES ($1,$2,$3)
ON CONFLICT (company_id, name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, company_id, name, description, created_at`, companyID, name, strings.TrimSpace(description)).
		Scan(&r.ID, &r.CompanyID, &r.Name, &r.Description, &r.CreatedAt)
	return r, err
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1,$2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description`, strings.TrimSpace(name), strings.TrimSpace(description)).
		Scan(&p.ID, &p.Name, &p.Description)
	return p, err
}

// GrantPermission attaches a permission to a role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// EffectivePermissions returns deduplicated permission names for a user.
// Roles only count when they belong to the user's own company.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN users u ON u.id = ur.user_id
JOIN roles r ON r.id = ur.role_id AND r.company_id = u.company_id
JOIN role_permissions rp ON rp.role_id = r.id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return names, nil
}
