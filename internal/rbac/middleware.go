package rbac

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"log/slog"

	"github.com/odyssey-erp/posync/internal/platform/httpx"
	"github.com/odyssey-erp/posync/internal/shared"
)

// UserHeader carries the ERP user on whose behalf a hook runs.
const UserHeader = "X-Remote-User"

// TokenHeader carries the secret shared with the fronting ERP. UserHeader is only
// trusted when it arrives together with a matching token.
const TokenHeader = "X-Posync-Token"

// RoleSource resolves the roles of a user.
type RoleSource interface {
	UserRoles(ctx context.Context, user string) ([]string, error)
}

// Middleware wires caller identification for HTTP handlers.
type Middleware struct {
	Service RoleSource
	Logger  *slog.Logger
	// Token, when set, must match TokenHeader on every identified request.
	Token string
}

// Identify attaches the caller named by UserHeader, with its roles, to the request context.
// Requests without the header pass through anonymously.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !m.trusted(r) {
			if m.Logger != nil {
				m.Logger.Warn("rbac untrusted caller", slog.String("user", user), slog.String("remote", r.RemoteAddr))
			}
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		roles, err := m.Service.UserRoles(r.Context(), user)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac resolve roles", slog.String("user", user), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{User: user, Roles: roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) trusted(r *http.Request) bool {
	if m.Token == "" {
		return true
	}
	got := r.Header.Get(TokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(m.Token)) == 1
}

// RequireUser rejects anonymous requests.
func (m Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole ensures the caller holds at least one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if hasAnyRole(actor.Roles, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func normalizeRoles(roles []string) []string {
	unique := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := unique[key]; ok {
			continue
		}
		unique[key] = struct{}{}
		normalized = append(normalized, r)
	}
	return normalized
}

func hasAnyRole(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[strings.ToLower(g)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[strings.ToLower(r)]; ok {
			return true
		}
	}
	return false
}
