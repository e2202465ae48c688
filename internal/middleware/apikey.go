package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/logger"
	"github.com/noah-isme/libsync-api/pkg/response"
)

// ContextPrincipalKey is the gin context key storing the verified key principal.
const ContextPrincipalKey = "principal"

type keyVerifier interface {
	Verify(key string) (*models.Principal, error)
}

// APIKey attaches the principal of a Bearer token or key= parameter. Requests without a key pass
// through anonymously; a key that fails verification is rejected.
func APIKey(verifier keyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := extractKey(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "Invalid Authorization header"))
			return
		}
		if key == "" {
			c.Next()
			return
		}

		principal, err := verifier.Verify(key)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Set(logger.KeyIDContextKey, principal.KeyID)
		c.Next()
	}
}

// RequireKey rejects anonymous requests.
func RequireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalFrom(c) == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "API key required"))
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal attached by APIKey, or nil.
func PrincipalFrom(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}

func extractKey(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return strings.TrimSpace(c.Query("key")), true
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
