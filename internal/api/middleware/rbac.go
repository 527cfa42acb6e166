package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// AdminRole passes every role check.
const AdminRole = "admin"

// RequireRole returns middleware that checks the authenticated user's
// roles (from JWT claims) for the given role. Admins pass every check.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get("roles")
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no roles in context",
			})
			return
		}
		roles, ok := raw.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "invalid roles type",
			})
			return
		}

		if slices.Contains(roles, AdminRole) || slices.Contains(roles, role) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": "FORBIDDEN", "message": "insufficient role",
		})
	}
}

// HasRole reports whether the request's authenticated user carries the
// role. Handlers use it for object-level checks where aborting the
// whole route group is too coarse.
func HasRole(c *gin.Context, role string) bool {
	raw, exists := c.Get("roles")
	if !exists {
		return false
	}
	roles, ok := raw.([]string)
	if !ok {
		return false
	}
	return slices.Contains(roles, AdminRole) || slices.Contains(roles, role)
}
