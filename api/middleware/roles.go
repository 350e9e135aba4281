package middleware

import (
	"net/http"
	"slices"

	"github.com/parkez/parkez-backend/api/responses"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
)

// RequireRole admits callers holding any of roles. It runs after Auth; a
// request that reaches it without a principal is answered 401, not 403.
func RequireRole(logg *logger.Logger, roles ...enums.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if UserIDFromContext(ctx) == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in required"))
				return
			}
			role := enums.UserRole(RoleFromContext(ctx))
			if !slices.Contains(roles, role) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operators only"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards lot management, user administration and analytics.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return RequireRole(logg, enums.UserRoleAdmin)
}
