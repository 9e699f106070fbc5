package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"sirix-go/internal/crypto"
)

// TokenStorage persists credentials across client restarts. Load returns
// (nil, nil) when nothing is stored under key.
type TokenStorage interface {
	Save(ctx context.Context, key string, credential Credential) error
	Load(ctx context.Context, key string) (*Credential, error)
	Delete(ctx context.Context, key string) error
}

// MemoryTokenStorage keeps credentials in process memory
type MemoryTokenStorage struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

// NewMemoryTokenStorage creates an empty in-memory storage
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{credentials: make(map[string]Credential)}
}

func (s *MemoryTokenStorage) Save(ctx context.Context, key string, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[key] = credential.Clone()
	return nil
}

func (s *MemoryTokenStorage) Load(ctx context.Context, key string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[key]
	if !ok {
		return nil, nil
	}
	clone := credential.Clone()
	return &clone, nil
}

func (s *MemoryTokenStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, key)
	return nil
}

// RedisInterface is the subset of the redis client the storage needs
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStorageOption configures a RedisTokenStorage
type RedisStorageOption func(*RedisTokenStorage)

// WithKeyPrefix replaces the default "sirix:token:" key prefix
func WithKeyPrefix(prefix string) RedisStorageOption {
	return func(s *RedisTokenStorage) {
		s.prefix = prefix
	}
}

// WithEncryptor encrypts credentials before they are written
func WithEncryptor(encryptor *crypto.Encryptor) RedisStorageOption {
	return func(s *RedisTokenStorage) {
		s.encryptor = encryptor
	}
}

// RedisTokenStorage shares credentials between client instances through redis.
// Entries expire with the refresh token, falling back to maxTTL.
type RedisTokenStorage struct {
	client    RedisInterface
	prefix    string
	maxTTL    time.Duration
	encryptor *crypto.Encryptor
}

// NewRedisTokenStorage creates a redis-backed storage
func NewRedisTokenStorage(client RedisInterface, opts ...RedisStorageOption) *RedisTokenStorage {
	s := &RedisTokenStorage{
		client: client,
		prefix: "sirix:token:",
		maxTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisTokenStorage) Save(ctx context.Context, key string, credential Credential) error {
	data, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}

	value := string(data)
	if s.encryptor != nil {
		if value, err = s.encryptor.Encrypt(value); err != nil {
			return fmt.Errorf("failed to encrypt credential: %w", err)
		}
	}

	return s.client.Set(ctx, s.prefix+key, value, s.ttlFor(credential))
}

func (s *RedisTokenStorage) Load(ctx context.Context, key string) (*Credential, error) {
	value, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		if stderrors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	if s.encryptor != nil {
		if value, err = s.encryptor.Decrypt(value); err != nil {
			return nil, fmt.Errorf("failed to decrypt credential: %w", err)
		}
	}

	var credential Credential
	if err := json.Unmarshal([]byte(value), &credential); err != nil {
		return nil, fmt.Errorf("failed to deserialize credential: %w", err)
	}
	return &credential, nil
}

func (s *RedisTokenStorage) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.prefix+key)
}

func (s *RedisTokenStorage) ttlFor(credential Credential) time.Duration {
	ttl := s.maxTTL
	if credential.RefreshExpiresIn > 0 {
		if refreshTTL := time.Duration(credential.RefreshExpiresIn) * time.Second; refreshTTL < ttl {
			ttl = refreshTTL
		}
	}
	if !credential.ExpiresAt.IsZero() {
		if remaining := time.Until(credential.ExpiresAt); remaining > ttl {
			ttl = remaining
		}
	}
	return ttl
}
