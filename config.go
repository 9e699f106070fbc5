package sirix

import (
	"math"
	"os"
	"time"

	"sirix-go/internal/common/logging"
	"sirix-go/internal/common/ratelimit"
	"sirix-go/internal/config"
	"sirix-go/internal/crypto"
	"sirix-go/internal/oauth2"
	"sirix-go/internal/redis"
)

// Config holds settings read from SIRIX_*, REDIS_*, TOKEN_ENCRYPTION_KEY and LOG_LEVEL
type Config = config.Config

// LoadConfig reads the environment, filling gaps from the given .env files
func LoadConfig(envFiles ...string) (*Config, error) {
	return config.LoadFile(envFiles...)
}

// NewFromConfig validates cfg and creates a client from it. A zap logger at
// cfg.LogLevel is used unless opts provide one. When REDIS_ADDRESS is set the
// credential is shared through redis, encrypted if TOKEN_ENCRYPTION_KEY is set,
// and SIRIX_RATE_LIMIT_SHARED turns the rate limit into a per-host budget
// shared by every client using that redis.
func NewFromConfig(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Name:   "sirix",
	})
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithCredentials(cfg.Username, cfg.Password),
		WithRefreshMargin(cfg.RefreshMargin),
		WithTimeout(cfg.HTTPTimeout),
		WithIntakeCapacity(cfg.IntakeCapacity),
		WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		WithCircuitBreaker(cfg.CircuitBreaker),
		WithMaxResponseBytes(cfg.MaxResponseBytes),
		withCloser(closerFunc(func() error {
			_ = logger.Sync()
			return nil
		})),
	}
	if cfg.InsecureSkipVerify {
		base = append(base, WithInsecureSkipVerify())
	}

	if cfg.RedisAddress != "" {
		client, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}

		var storageOpts []oauth2.RedisStorageOption
		if cfg.EncryptionKey != "" {
			encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			storageOpts = append(storageOpts, oauth2.WithEncryptor(encryptor))
		}

		base = append(base,
			WithTokenStorage(oauth2.NewRedisTokenStorage(client, storageOpts...), ""),
			withCloser(client),
		)

		if cfg.RateLimitShared {
			limiter, err := ratelimit.NewRedisLimiter(client, ratelimit.RedisConfig{
				Limit:  int(math.Ceil(cfg.RateLimitRPS)),
				Window: time.Second,
			})
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			base = append(base, withSharedLimiter(limiter))
		}
	}

	return New(cfg.URL, append(base, opts...)...)
}
