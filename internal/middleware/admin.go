package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const (
	HeaderAdminKey = "X-Admin-Key"
	// HeaderOperator names the person authorising a privileged action.
	HeaderOperator = "X-Operator"
)

// AdminMiddleware guards state-changing governance endpoints.
func AdminMiddleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin key not configured"})
			c.Abort()
			return
		}
		got := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid admin key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
