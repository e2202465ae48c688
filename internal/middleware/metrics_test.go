package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/libsync-api/internal/models"
)

type observedRequest struct {
	method string
	route  string
	status int
}

type requestObserverStub struct {
	requests []observedRequest
}

func (s *requestObserverStub) ObserveHTTPRequest(method, route string, status int, _ time.Duration) {
	s.requests = append(s.requests, observedRequest{method: method, route: route, status: status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &requestObserverStub{}
	r := gin.New()
	r.Use(Metrics(stub))
	r.GET("/users/:libraryID/items", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/users/1/items", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, []observedRequest{
		{method: http.MethodGet, route: "/users/:libraryID/items", status: http.StatusOK},
		{method: http.MethodGet, route: unmatchedRoute, status: http.StatusNotFound},
	}, stub.requests)
}

func TestAuditLogsSuccessfulWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextScopeKey, models.RequestScope{
			Library:   models.UserLibrary(4),
			Principal: &models.Principal{UserID: 4, KeyID: "k4"},
		})
		c.Next()
	})
	r.Use(Audit(zap.New(core)))
	r.POST("/users/:libraryID/items", func(c *gin.Context) {
		c.Header("Last-Modified-Version", "9")
		c.Status(http.StatusOK)
	})
	r.DELETE("/users/:libraryID/items/:key", func(c *gin.Context) {
		c.Status(http.StatusPreconditionFailed)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users/4/items", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/users/4/items/AAAAAAAA", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "library write", entries[0].Message)
	assert.Equal(t, "9", fields["version"])
	assert.Equal(t, "u4", fields["library"])
	assert.Equal(t, "k4", fields["key_id"])
}
