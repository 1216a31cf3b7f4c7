package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/pkg/response"
)

// Account roles carried in user bearer tokens.
const (
	AccountRoleAdmin    = "admin"
	AccountRoleProvider = "provider"
	AccountRoleMember   = "member"
)

// RequireRole allows only accounts whose token role is one of roles.
// Session-level rights (provider of this session) are checked by the services.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, liveerr.ErrNotAuthenticated.Error())
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "account role "+role+" may not perform this action")
			c.Abort()
			return
		}
		c.Next()
	}
}
