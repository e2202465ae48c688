package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/middleware"
	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
	"github.com/noah-isme/libsync-api/pkg/response"
)

// Protocol headers.
const (
	HeaderLastModifiedVersion      = "Last-Modified-Version"
	HeaderIfUnmodifiedSinceVersion = "If-Unmodified-Since-Version"
	HeaderIfModifiedSinceVersion   = "If-Modified-Since-Version"
	HeaderTotalResults             = "Total-Results"
)

// maxBodyBytes bounds write payloads.
const maxBodyBytes = 8 << 20

func scopeFromContext(c *gin.Context) models.RequestScope {
	scope, _ := middleware.ScopeFrom(c)
	return scope
}

// versionHeader parses an optional non-negative version header.
func versionHeader(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.GetHeader(name))
	if raw == "" {
		return nil, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "Invalid %s value", name)
	}
	return &version, nil
}

func setVersion(c *gin.Context, version int64) {
	c.Header(HeaderLastModifiedVersion, strconv.FormatInt(version, 10))
}

// writeError reports err. Stale-version and not-modified responses carry the current library version.
func writeError(c *gin.Context, err error, version int64) {
	switch appErrors.FromError(err).Status {
	case http.StatusPreconditionFailed, http.StatusNotModified:
		setVersion(c, version)
	}
	response.Error(c, err)
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, "Request body too large")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "Failed to read request body")
	}
	return body, nil
}
