package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/models"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/response"
)

// RequireRoles lets the request through only when the caller's role is one of
// roles. Roles outside the closed set are always rejected.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		if r.Valid() {
			allowed[r] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.Role.Valid() {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
