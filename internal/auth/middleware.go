package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmsqa/permcore/internal/platform/httpx"
	"github.com/dmsqa/permcore/internal/shared"
)

// PermissionChecker answers whether a user holds a permission code.
type PermissionChecker interface {
	Check(ctx context.Context, userID int64, code string) (bool, error)
}

// Middleware wires token authentication and authorization helpers for HTTP
// handlers.
type Middleware struct {
	Service *Service
	Checker PermissionChecker
	Logger  *slog.Logger
}

// Authenticate resolves the bearer token and attaches the identity to the
// request context. Requests without a valid token are rejected.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		identity, err := m.Service.Verify(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequirePermission ensures the current user holds the permission code.
// Admins bypass the resolver entirely.
func (m Middleware) RequirePermission(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if identity.IsAdmin {
				next.ServeHTTP(w, r)
				return
			}
			granted, err := m.Checker.Check(r.Context(), identity.UserID, code)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("permission check", slog.String("code", code), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !granted {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a route to administrator accounts.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := shared.IdentityFromContext(r.Context())
		if identity == nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		if !identity.IsAdmin {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
