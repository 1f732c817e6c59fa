package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"deltasync/internal/core/appctx"
	"deltasync/internal/core/apperror"
)

// TokenValidator validates bearer tokens and returns the caller identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (*appctx.SessionContext, error)
}

// Auth middleware validates bearer tokens on the migration endpoints.
// A nil validator disables the guard.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return guard(validator, func() error {
		return apperror.NewPermissionDenied("access to the migration API denied")
	})
}

// LogAccess guards the log endpoints with the log-specific denial code.
func LogAccess(validator TokenValidator) gin.HandlerFunc {
	return guard(validator, func() error {
		return apperror.NewLogAccessDenied()
	})
}

func guard(validator TokenValidator, deny func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortDenied(c, deny)
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortDenied(c, deny)
			return
		}

		caller, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortDenied(c, deny)
			return
		}

		ctx := appctx.WithSession(c.Request.Context(), caller)
		c.Request = c.Request.WithContext(ctx)
		c.Set("subject", caller.Subject)

		c.Next()
	}
}

func abortDenied(c *gin.Context, deny func() error) {
	_ = c.Error(deny())
	c.Abort()
}
