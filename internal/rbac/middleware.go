package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/blocknest/blocknest/internal/platform/httpx"
)

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityContextKey{}).(Identity)
	return ident, ok
}

// IdentityResolver resolves the capability set for a verified caller id.
type IdentityResolver interface {
	IdentityFor(ctx context.Context, userID int64) (Identity, error)
}

// Middleware wires authorization helpers for HTTP handlers. Authentication
// itself happens upstream; this layer trusts the id header the authenticating
// proxy injects and builds the caller's capability set from persisted state.
type Middleware struct {
	Resolver IdentityResolver
	Logger   *slog.Logger
	// Header carrying the verified admin user id. Defaults to X-Admin-Id.
	Header string
}

func (m Middleware) headerName() string {
	if m.Header != "" {
		return m.Header
	}
	return "X-Admin-Id"
}

// Authenticate resolves the caller identity and stores it in the request
// context. Requests without a parseable caller id are rejected outright.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(m.headerName()))
		if raw == "" {
			httpx.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity", nil)
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			if m.Logger != nil {
				m.Logger.Warn("rbac parse caller id", slog.String("value", raw))
			}
			httpx.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid caller identity", nil)
			return
		}
		ident, err := m.Resolver.IdentityFor(r.Context(), userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac resolve identity", slog.Any("error", err))
			}
			httpx.Fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not resolve caller identity", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), ident)))
	})
}

// RequirePermission ensures the caller may perform action on resource.
func (m Middleware) RequirePermission(resource string, action Action) func(http.Handler) http.Handler {
	return m.require(func(ident Identity) bool { return ident.Can(resource, action) })
}

// RequireSuperAdmin ensures the caller holds the super_admin role.
func (m Middleware) RequireSuperAdmin(next http.Handler) http.Handler {
	return m.require(Identity.IsSuperAdmin)(next)
}

// RequireModerator ensures the caller holds the moderator role.
func (m Middleware) RequireModerator(next http.Handler) http.Handler {
	return m.require(Identity.IsModerator)(next)
}

// RequireAnalytics ensures the caller may view analytics.
func (m Middleware) RequireAnalytics(next http.Handler) http.Handler {
	return m.require(Identity.IsAnalyticsViewer)(next)
}

func (m Middleware) require(allowed func(Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.Fail(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing caller identity", nil)
				return
			}
			if !allowed(ident) {
				httpx.Fail(w, http.StatusForbidden, "FORBIDDEN", "caller lacks the required permission", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
