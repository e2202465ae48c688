package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/models"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

type cacheRepoStub struct {
	values  map[string][]byte
	groups  map[string][]string
	dropped []string
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{values: map[string][]byte{}, groups: map[string][]string{}}
}

func (s *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *cacheRepoStub) Set(ctx context.Context, group, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.values[key] = raw
	s.groups[group] = append(s.groups[group], key)
	return nil
}

func (s *cacheRepoStub) DeleteGroup(ctx context.Context, group string) error {
	for _, key := range s.groups[group] {
		delete(s.values, key)
	}
	delete(s.groups, group)
	s.dropped = append(s.dropped, group)
	return nil
}

func TestListingKeyIsVersioned(t *testing.T) {
	lib := models.UserLibrary(3)
	a := ListingKey(lib, 4, "/users/3/items", "format=keys", true)
	b := ListingKey(lib, 5, "/users/3/items", "format=keys", true)
	c := ListingKey(lib, 4, "/users/3/items", "format=versions", true)
	d := ListingKey(lib, 4, "/users/3/items", "format=keys", false)

	assert.Regexp(t, `^libsync:list:u3:v4:[0-9a-f]{16}$`, a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Regexp(t, `^libsync:list:u3:v4:`, d)
	assert.Equal(t, a, ListingKey(lib, 4, "/users/3/items", "format=keys", true))
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newCacheRepoStub()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()
	key := ListingKey(models.UserLibrary(1), 2, "/users/1/items", "", true)

	var out []string
	hit, err := svc.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, key, []string{"AAAAAAAA"}, 0))
	hit, err = svc.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"AAAAAAAA"}, out)

	assert.Equal(t, []string{key}, repo.groups["libsync:list:u1:v2"])

	svc.ForgetVersion(ctx, models.UserLibrary(1), 2)
	assert.Equal(t, []string{"libsync:list:u1:v2"}, repo.dropped)
	assert.Empty(t, repo.values)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
	assert.InDelta(t, 0.5, snapshot.CacheHitRatio, 0.0001)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newCacheRepoStub()
	svc := NewCacheService(repo, nil, 0, nil, false)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Empty(t, repo.values)
	svc.ForgetVersion(context.Background(), models.UserLibrary(1), 1)
	assert.Empty(t, repo.dropped)
}

func TestMetricsRecordWrites(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordWrite("item", OutcomeSuccessful, 3)
	metrics.RecordWrite("item", OutcomeFailed, 1)
	metrics.RecordWrite("item", OutcomeFailed, 0)
	metrics.RecordVersionAdvance(models.GroupLibrary(2))

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.writeObjects.WithLabelValues("item", OutcomeSuccessful)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.writeObjects.WithLabelValues("item", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.versionAdvances.WithLabelValues("group")))

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(4), snapshot.ObjectsWritten)
	assert.Equal(t, uint64(1), snapshot.VersionAdvances)

	var nilMetrics *MetricsService
	nilMetrics.RecordWrite("item", OutcomeSuccessful, 1)
	assert.Equal(t, MetricsSnapshot{}, nilMetrics.Snapshot())
}

func TestMetricsCountPreconditionFailures(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveHTTPRequest("POST", "/users/:libraryID/items", 412, time.Millisecond)
	metrics.ObserveHTTPRequest("DELETE", "/users/:libraryID/items/:key", 428, time.Millisecond)
	metrics.ObserveHTTPRequest("GET", "/users/:libraryID/items", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.preconditionFailures.WithLabelValues("/users/:libraryID/items", "412")))
	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(3), snapshot.RequestsTotal)
	assert.Equal(t, uint64(2), snapshot.PreconditionFailures)
}
