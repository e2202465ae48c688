package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Env        string
	Port       int
	APIBaseURL string
	URIBase    string

	Store    StoreConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Lock     LockConfig
	Keys     KeysConfig
	CORS     CORSConfig
	Log      LogConfig
	Cache    CacheConfig
	Citation CitationConfig
	FullText FullTextConfig
	Sync     SyncConfig
}

// StoreConfig selects the object store backend.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	DSN string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LockConfig controls per-library write serialisation.
type LockConfig struct {
	Backend string
	TTL     time.Duration
}

// KeysConfig governs API key signing and the login-session flow.
type KeysConfig struct {
	Secret                string
	Issuer                string
	SuperuserName         string
	SuperuserPasswordHash string
	LoginSessionTTL       time.Duration
	LoginURLBase          string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig toggles the listing cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CitationConfig points at the external citation formatter.
type CitationConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// FullTextConfig sizes the indexing worker pool.
type FullTextConfig struct {
	Workers int
	Retries int
}

// SyncConfig holds protocol limits.
type SyncConfig struct {
	MaxBatch     int
	DefaultLimit int
	MaxLimit     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIBaseURL = strings.TrimRight(v.GetString("API_BASE_URL"), "/")
	cfg.URIBase = strings.TrimRight(v.GetString("URI_BASE"), "/")

	cfg.Store = StoreConfig{Driver: strings.ToLower(v.GetString("STORE_DRIVER"))}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.SQLite = SQLiteConfig{DSN: v.GetString("SQLITE_DSN")}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Lock = LockConfig{
		Backend: strings.ToLower(v.GetString("LOCK_BACKEND")),
		TTL:     parseDuration(v.GetString("LOCK_TTL"), 30*time.Second),
	}

	cfg.Keys = KeysConfig{
		Secret:                v.GetString("KEY_SECRET"),
		Issuer:                v.GetString("KEY_ISSUER"),
		SuperuserName:         v.GetString("SUPERUSER_NAME"),
		SuperuserPasswordHash: v.GetString("SUPERUSER_PASSWORD_HASH"),
		LoginSessionTTL:       parseDuration(v.GetString("LOGIN_SESSION_TTL"), 15*time.Minute),
		LoginURLBase:          strings.TrimRight(v.GetString("LOGIN_URL_BASE"), "/"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.Citation = CitationConfig{
		ServiceURL: v.GetString("CITATION_SERVICE_URL"),
		Timeout:    parseDuration(v.GetString("CITATION_TIMEOUT"), 5*time.Second),
	}

	cfg.FullText = FullTextConfig{
		Workers: v.GetInt("FULLTEXT_WORKERS"),
		Retries: v.GetInt("FULLTEXT_RETRIES"),
	}

	cfg.Sync = SyncConfig{
		MaxBatch:     positiveOr(v.GetInt("SYNC_MAX_BATCH"), 50),
		DefaultLimit: positiveOr(v.GetInt("SYNC_DEFAULT_LIMIT"), 25),
		MaxLimit:     positiveOr(v.GetInt("SYNC_MAX_LIMIT"), 100),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("URI_BASE", "http://zotero.org")

	v.SetDefault("STORE_DRIVER", StoreMemory)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "libsync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("SQLITE_DSN", "file:libsync.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOCK_BACKEND", LockLocal)
	v.SetDefault("LOCK_TTL", "30s")

	v.SetDefault("KEY_SECRET", "dev_key_secret")
	v.SetDefault("KEY_ISSUER", "libsync-api")
	v.SetDefault("SUPERUSER_NAME", "superuser")
	v.SetDefault("SUPERUSER_PASSWORD_HASH", "")
	v.SetDefault("LOGIN_SESSION_TTL", "15m")
	v.SetDefault("LOGIN_URL_BASE", "http://localhost:8080/login")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("CITATION_SERVICE_URL", "")
	v.SetDefault("CITATION_TIMEOUT", "5s")

	v.SetDefault("FULLTEXT_WORKERS", 2)
	v.SetDefault("FULLTEXT_RETRIES", 3)

	v.SetDefault("SYNC_MAX_BATCH", 50)
	v.SetDefault("SYNC_DEFAULT_LIMIT", 25)
	v.SetDefault("SYNC_MAX_LIMIT", 100)
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
