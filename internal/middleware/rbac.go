package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/agenda-lina-api/internal/models"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
	"github.com/noah-isme/agenda-lina-api/pkg/response"
)

// Self grants access when the :studentId route parameter is one of the students linked to the caller.
const Self = "SELF"

// StudentParam names the route parameter checked by Self.
const StudentParam = "studentId"

// RBAC enforces role-based access control for routes.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		if a == Self {
			allowSelf = true
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && claims.CanViewStudent(c.Param(StudentParam)) {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
