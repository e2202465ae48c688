package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

func newContext(method string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)
	return c, w
}

func TestErrorWritesPlainTextMessage(t *testing.T) {
	c, w := newContext(http.MethodGet)

	Error(c, appErrors.Clone(appErrors.ErrConflict, "Collection ABCD2345 doesn't exist"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Collection ABCD2345 doesn't exist", w.Body.String())
	assert.Empty(t, w.Header().Get("Last-Modified-Version"))
	assert.True(t, c.IsAborted())
}

func TestErrorNotModifiedHasNoBody(t *testing.T) {
	c, w := newContext(http.MethodGet)

	Error(c, appErrors.ErrNotModified)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestErrorUnknownBecomesInternal(t *testing.T) {
	c, w := newContext(http.MethodGet)

	Error(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestJSONHeadOmitsBody(t *testing.T) {
	c, w := newContext(http.MethodHead)

	JSON(c, http.StatusOK, map[string]int{"ABCD2345": 3})
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
