package middleware

import (
	"net/http"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// RequireRoles allows the request through only when the caller's workspace
// role is one of allowed. Auth must run first.
func RequireRoles(logg *logger.Logger, allowed ...enums.MemberRole) func(http.Handler) http.Handler {
	permitted := make(map[enums.MemberRole]struct{}, len(allowed))
	for _, role := range allowed {
		permitted[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := enums.ParseMemberRole(RoleFromContext(r.Context()))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "workspace role required"))
				return
			}
			if _, ok := permitted[role]; !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient workspace role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
