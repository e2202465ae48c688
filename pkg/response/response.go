package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// JSON writes a bare JSON document. Sync clients consume objects directly, without an envelope.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	if c.Request != nil && c.Request.Method == http.MethodHead {
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Status(status)
		return
	}
	c.JSON(status, data)
}

// Text writes a plain-text body.
func Text(c *gin.Context, status int, body string) {
	c.Header("Cache-Control", "no-store")
	if c.Request != nil && c.Request.Method == http.MethodHead {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(status)
		return
	}
	c.String(status, body)
}

// Raw writes a pre-rendered body with the given content type.
func Raw(c *gin.Context, status int, contentType string, body []byte) {
	c.Header("Cache-Control", "no-store")
	if c.Request != nil && c.Request.Method == http.MethodHead {
		c.Header("Content-Type", contentType)
		c.Status(status)
		return
	}
	c.Data(status, contentType, body)
}

// Error sends an error response as a plain-text message.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	if appErr.Status == http.StatusNotModified {
		c.AbortWithStatus(http.StatusNotModified)
		return
	}
	c.Abort()
	c.String(appErr.Status, appErr.Message)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
