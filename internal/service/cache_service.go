package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// CacheRepository persists cached payloads in groups that are dropped as a whole.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, group, key string, value interface{}, ttl time.Duration) error
	DeleteGroup(ctx context.Context, group string) error
}

// CacheService caches listing responses. Keys embed the library version, so a write makes old entries unreachable.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(false, duration)
			}
			return false, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, duration)
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, duration)
	}
	return true, nil
}

// Set stores the value under a key built by ListingKey.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	group := key
	if i := strings.LastIndexByte(key, ':'); i > 0 {
		group = key[:i]
	}
	start := time.Now()
	err := s.repo.Set(ctx, group, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// ListingGroup names the cache group of one library version.
func ListingGroup(lib models.Library, version int64) string {
	return fmt.Sprintf("libsync:list:%s:v%d", lib.String(), version)
}

// ListingKey builds the cache key of a listing response at a library version. Callers with and
// without notes access see different listings, so notes is part of the key.
func ListingKey(lib models.Library, version int64, route, query string, notes bool) string {
	visibility := "n0"
	if notes {
		visibility = "n1"
	}
	sum := sha1.Sum([]byte(visibility + ":" + route + "?" + query))
	return ListingGroup(lib, version) + ":" + hex.EncodeToString(sum[:8])
}

// ForgetVersion drops entries cached for a superseded library version. Entries would expire
// anyway since no request can address them again, so failures are only logged.
func (s *CacheService) ForgetVersion(ctx context.Context, lib models.Library, version int64) {
	if !s.Enabled() {
		return
	}
	group := ListingGroup(lib, version)
	if err := s.repo.DeleteGroup(ctx, group); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidate failed", zap.String("group", group), zap.Error(err))
	}
}
