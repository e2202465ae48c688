package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 50, cfg.Sync.MaxBatch)
	assert.Equal(t, 25, cfg.Sync.DefaultLimit)
	assert.Equal(t, 100, cfg.Sync.MaxLimit)
	assert.Equal(t, "http://zotero.org", cfg.URIBase)
	assert.Empty(t, cfg.Citation.ServiceURL)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", "SQLite")
	v.Set("LOCK_TTL", "not-a-duration")
	v.Set("SYNC_MAX_BATCH", 0)
	v.Set("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	v.Set("API_BASE_URL", "https://api.example/")

	cfg := fromViper(v)

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 50, cfg.Sync.MaxBatch)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "https://api.example", cfg.APIBaseURL)
}
