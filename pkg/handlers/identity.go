package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/database"
)

// UserIDHeader carries the authenticated user id, set by the fronting
// authentication layer. The engine trusts it: authentication itself lives
// outside this service.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// Middleware wraps a handler function.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// RequireUser rejects requests without a valid user id header and stores the
// parsed id in the request context.
func RequireUser(logger *zap.Logger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(UserIDHeader)
			if raw == "" {
				_ = ErrorResponse(w, http.StatusUnauthorized, "missing_user", "user id header is required")
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil || userID == uuid.Nil {
				_ = ErrorResponse(w, http.StatusUnauthorized, "invalid_user", "user id header is not a valid uuid")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next(w, r.WithContext(ctx))
		}
	}
}

// UserID returns the authenticated user id stored by RequireUser.
func UserID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey{}).(uuid.UUID)
	return id
}

// TenantMiddleware mints a tenant-scoped database context for the request's
// user so projection reads go through row-level security. It must run inside
// RequireUser.
func TenantMiddleware(provider *database.TenantScopeProvider, logger *zap.Logger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r)
			if userID == uuid.Nil {
				_ = ErrorResponse(w, http.StatusUnauthorized, "missing_user", "no authenticated user")
				return
			}

			scopedCtx, cleanup, err := provider.WithTenantScope(r.Context(), userID)
			if err != nil {
				logger.Error("Failed to establish tenant scope",
					zap.String("user_id", userID.String()),
					zap.Error(err))
				_ = ErrorResponse(w, http.StatusInternalServerError, "tenant_scope_failed", "failed to scope request")
				return
			}
			defer cleanup()

			next(w, r.WithContext(scopedCtx))
		}
	}
}
