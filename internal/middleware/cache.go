package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/service"
)

const cacheHitKey = "cache_hit"

// CacheHeader reports whether a listing was served from cache.
const CacheHeader = "X-Cache"

// Headers replayed from a cached listing.
var cachedHeaders = []string{"Content-Type", "Total-Results", "Link", "Last-Modified-Version"}

type listingCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type libraryVersioner interface {
	LibraryVersion(ctx context.Context, scope models.RequestScope) (int64, error)
}

// cachedListing is a rendered response stored under a versioned key.
type cachedListing struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// bodyRecorder tees the response body so it can be cached after the handler ran.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ListingCache serves format=keys and format=versions listings from cache. Keys embed the library
// version, so any committed write makes older entries unreachable.
func ListingCache(cache listingCache, versions libraryVersioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cache == nil || !cache.Enabled() || !cacheable(c) {
			c.Next()
			return
		}
		scope, ok := ScopeFrom(c)
		if !ok {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		version, err := versions.LibraryVersion(ctx, scope)
		if err != nil {
			c.Next()
			return
		}

		query := c.Request.URL.Query()
		query.Del("key")
		key := service.ListingKey(scope.Library, version, c.Request.URL.Path, query.Encode(), scope.CanReadNotes())

		var entry cachedListing
		if hit, err := cache.Get(ctx, key, &entry); err == nil && hit {
			SetCacheHit(c, true)
			for name, value := range entry.Headers {
				c.Header(name, value)
			}
			c.Header(CacheHeader, "HIT")
			c.Data(entry.Status, entry.Headers["Content-Type"], entry.Body)
			c.Abort()
			return
		}

		SetCacheHit(c, false)
		c.Header(CacheHeader, "MISS")
		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		if recorder.Status() != http.StatusOK {
			return
		}
		// A write that landed while rendering would make the body newer than the key.
		if recorder.Header().Get("Last-Modified-Version") != strconv.FormatInt(version, 10) {
			return
		}
		entry = cachedListing{Status: http.StatusOK, Headers: map[string]string{}, Body: recorder.body.Bytes()}
		for _, name := range cachedHeaders {
			if value := recorder.Header().Get(name); value != "" {
				entry.Headers[name] = value
			}
		}
		_ = cache.Set(ctx, key, entry, 0)
	}
}

// SetCacheHit records cache hit information for the current response.
func SetCacheHit(c *gin.Context, hit bool) {
	c.Set(cacheHitKey, hit)
}

// CacheHit reports whether the response was served from cache.
func CacheHit(c *gin.Context) bool {
	return c.GetBool(cacheHitKey)
}

func cacheable(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet {
		return false
	}
	if c.GetHeader("If-Modified-Since-Version") != "" {
		return false
	}
	switch c.Query("format") {
	case "keys", "versions":
		return true
	}
	return false
}
