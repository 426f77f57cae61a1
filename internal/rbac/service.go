package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

type querier interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

// Service resolves the roles held by ERP users.
type Service struct {
	db querier
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{db: pool}
}

// UserRoles returns the deduplicated role names held by user.
func (s *Service) UserRoles(ctx context.Context, user string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT role FROM user_roles WHERE user_name = $1 ORDER BY role`, strings.TrimSpace(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return normalizeRoles(roles), nil
}

// AssignRole grants role to user.
func (s *Service) AssignRole(ctx context.Context, user, role string) error {
	user, role = strings.TrimSpace(user), strings.TrimSpace(role)
	if user == "" || role == "" {
		return errors.New("rbac: user and role required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO user_roles (user_name, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, user, role)
	return err
}

// RemoveRole revokes role from user. Returns ErrNotFound if nothing was deleted.
func (s *Service) RemoveRole(ctx context.Context, user, role string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_name = $1 AND role = $2`, strings.TrimSpace(user), strings.TrimSpace(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
