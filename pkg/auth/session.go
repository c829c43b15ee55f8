package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

const sessionKeyPrefix = "session:"

// SessionStore resolves an opaque token to the principal it was issued for
type SessionStore interface {
	Lookup(ctx context.Context, token string) (*Principal, error)
}

// SessionManager is a SessionStore that can also issue and revoke tokens
type SessionManager interface {
	SessionStore
	Save(ctx context.Context, p *Principal) (string, error)
	Revoke(ctx context.Context, token string) error
}

// RedisSessionStore keeps sessions in Redis keyed by the token hash
type RedisSessionStore struct {
	client    *redis.Client
	generator *TokenGenerator
	ttl       time.Duration
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client:    client,
		generator: NewTokenGenerator(),
		ttl:       ttl,
	}
}

func (s *RedisSessionStore) key(token string) string {
	return sessionKeyPrefix + s.generator.HashToken(token)
}

// Lookup returns the principal for token
func (s *RedisSessionStore) Lookup(ctx context.Context, token string) (*Principal, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, accesserr.Wrap(accesserr.ErrAuthenticationRequired, err, "invalid token")
	}

	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, accesserr.New(accesserr.ErrAuthenticationRequired, "session expired or unknown")
	}
	if err != nil {
		return nil, accesserr.Unavailable(err, "session store lookup failed")
	}

	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, accesserr.Wrap(accesserr.ErrAuthenticationRequired, err, "corrupt session")
	}
	return &p, nil
}

// Save issues a new token for p
func (s *RedisSessionStore) Save(ctx context.Context, p *Principal) (string, error) {
	token, _, err := s.generator.GenerateToken()
	if err != nil {
		return "", err
	}

	stored := *p
	stored.IssuedAt = time.Now().UTC()
	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal principal: %w", err)
	}

	if err := s.client.Set(ctx, s.key(token), data, s.ttl).Err(); err != nil {
		return "", accesserr.Unavailable(err, "session store write failed")
	}
	return token, nil
}

// Revoke deletes the session for token
func (s *RedisSessionStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return accesserr.Unavailable(err, "session store delete failed")
	}
	return nil
}

type memorySession struct {
	principal Principal
	expiresAt time.Time
}

// MemorySessionStore is an in-process SessionManager for development and tests
type MemorySessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]memorySession
	generator *TokenGenerator
	ttl       time.Duration
	now       func() time.Time
}

// NewMemorySessionStore creates an in-memory session store. A zero ttl never expires.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions:  make(map[string]memorySession),
		generator: NewTokenGenerator(),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Lookup returns the principal for token
func (s *MemorySessionStore) Lookup(ctx context.Context, token string) (*Principal, error) {
	s.mu.RLock()
	sess, ok := s.sessions[s.generator.HashToken(token)]
	s.mu.RUnlock()

	if !ok {
		return nil, accesserr.New(accesserr.ErrAuthenticationRequired, "session expired or unknown")
	}
	if !sess.expiresAt.IsZero() && s.now().After(sess.expiresAt) {
		_ = s.Revoke(ctx, token)
		return nil, accesserr.New(accesserr.ErrAuthenticationRequired, "session expired or unknown")
	}
	p := sess.principal
	return &p, nil
}

// Save issues a new token for p
func (s *MemorySessionStore) Save(ctx context.Context, p *Principal) (string, error) {
	token, hash, err := s.generator.GenerateToken()
	if err != nil {
		return "", err
	}

	sess := memorySession{principal: *p}
	sess.principal.IssuedAt = s.now().UTC()
	if s.ttl > 0 {
		sess.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.sessions[hash] = sess
	s.mu.Unlock()
	return token, nil
}

// Revoke deletes the session for token
func (s *MemorySessionStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, s.generator.HashToken(token))
	s.mu.Unlock()
	return nil
}
