package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/odyssey-erp/posync/internal/rbac"
)

// RoleStore is satisfied by rbac.Service.
type RoleStore interface {
	UserRoles(ctx context.Context, user string) ([]string, error)
	AssignRole(ctx context.Context, user, role string) error
	RemoveRole(ctx context.Context, user, role string) error
}

// RolesCLI grants and revokes the roles checked by the sync hooks.
type RolesCLI struct {
	store RoleStore
}

// NewRolesCLI constructs the helper.
func NewRolesCLI(store RoleStore) *RolesCLI {
	return &RolesCLI{store: store}
}

// Grant assigns role to user and prints the resulting role set.
func (c *RolesCLI) Grant(ctx context.Context, user, role string, stdout, stderr io.Writer) int {
	if err := c.store.AssignRole(ctx, user, role); err != nil {
		_, _ = fmt.Fprintf(stderr, "grant-role: %v\n", err)
		return 1
	}
	return c.List(ctx, user, false, stdout, stderr)
}

// Revoke removes role from user. Revoking a role the user lacks exits 2.
func (c *RolesCLI) Revoke(ctx context.Context, user, role string, stdout, stderr io.Writer) int {
	if err := c.store.RemoveRole(ctx, user, role); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "revoke-role: %s does not hold %q\n", user, role)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "revoke-role: %v\n", err)
		return 1
	}
	return c.List(ctx, user, false, stdout, stderr)
}

// List prints the roles held by user.
func (c *RolesCLI) List(ctx context.Context, user string, jsonOutput bool, stdout, stderr io.Writer) int {
	roles, err := c.store.UserRoles(ctx, user)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "roles: %v\n", err)
		return 1
	}
	if jsonOutput {
		if roles == nil {
			roles = []string{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"user": user, "roles": roles}); err != nil {
			_, _ = fmt.Fprintf(stderr, "roles: %v\n", err)
			return 1
		}
		return 0
	}
	if len(roles) == 0 {
		_, _ = fmt.Fprintf(stdout, "%s: no roles\n", user)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", user, strings.Join(roles, ", "))
	return 0
}
