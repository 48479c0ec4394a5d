package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/carecall/pkg/auth"
	"github.com/troikatech/carecall/pkg/errors"
)

// AdminAuth requires a bearer token issued by auth.GenerateAdminToken carrying scope.
func AdminAuth(secret, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errors.AbortWithProblem(c, http.StatusUnauthorized, "authorization header required")
			return
		}

		kind, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(kind, "bearer") || tokenString == "" {
			errors.AbortWithProblem(c, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		claims, err := auth.ParseAdminToken(tokenString, secret)
		if err != nil {
			errors.AbortWithProblem(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if claims.Scope != scope {
			errors.AbortWithProblem(c, http.StatusForbidden, "insufficient permissions")
			return
		}

		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}
