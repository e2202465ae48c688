package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

type superuserChecker interface {
	CheckSuperuser(username, password string) error
}

// Superuser guards routes with HTTP basic auth against the configured superuser credentials.
func Superuser(checker superuserChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="libsync"`)
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "Superuser credentials required"))
			return
		}
		if err := checker.CheckSuperuser(username, password); err != nil {
			response.Error(c, err)
			return
		}
		c.Next()
	}
}
