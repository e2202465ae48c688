package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/libsync-api/internal/models"
)

// MemoryLoginSessionRepository keeps login sessions in process memory.
type MemoryLoginSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]models.LoginSession
	now      func() time.Time
}

// NewMemoryLoginSessionRepository constructs an empty repository.
func NewMemoryLoginSessionRepository() *MemoryLoginSessionRepository {
	return &MemoryLoginSessionRepository{sessions: make(map[string]models.LoginSession), now: time.Now}
}

// Save stores or replaces a session.
func (r *MemoryLoginSessionRepository) Save(ctx context.Context, session *models.LoginSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.Token] = *session
	return nil
}

// Get returns a live session or ErrNotFound.
func (r *MemoryLoginSessionRepository) Get(ctx context.Context, token string) (*models.LoginSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Expired(r.now()) {
		delete(r.sessions, token)
		return nil, ErrNotFound
	}
	return &session, nil
}

// RedisLoginSessionRepository stores sessions as JSON with a TTL matching their expiry.
type RedisLoginSessionRepository struct {
	client *redis.Client
}

// NewRedisLoginSessionRepository constructs a redis-backed repository.
func NewRedisLoginSessionRepository(client *redis.Client) *RedisLoginSessionRepository {
	return &RedisLoginSessionRepository{client: client}
}

func sessionKey(token string) string {
	return "libsync:login-session:" + token
}

// Save stores the session until its expiry.
func (r *RedisLoginSessionRepository) Save(ctx context.Context, session *models.LoginSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal login session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, sessionKey(session.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set login session: %w", err)
	}
	return nil
}

// Get loads a session or returns ErrNotFound once it expired.
func (r *RedisLoginSessionRepository) Get(ctx context.Context, token string) (*models.LoginSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get login session: %w", err)
	}
	var session models.LoginSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal login session: %w", err)
	}
	return &session, nil
}
