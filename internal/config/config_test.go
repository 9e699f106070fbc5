package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sirix-go/internal/common/errors"
)

var configKeys = []string{
	"SIRIX_URL", "SIRIX_USERNAME", "SIRIX_PASSWORD", "SIRIX_REFRESH_MARGIN",
	"SIRIX_HTTP_TIMEOUT", "SIRIX_INTAKE_CAPACITY", "SIRIX_RATE_LIMIT_RPS",
	"SIRIX_RATE_LIMIT_BURST", "SIRIX_RATE_LIMIT_SHARED", "SIRIX_CIRCUIT_BREAKER",
	"SIRIX_INSECURE_SKIP_VERIFY", "SIRIX_MAX_RESPONSE_BYTES",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "TOKEN_ENCRYPTION_KEY", "LOG_LEVEL",
}

func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	assert.Equal(t, "https://localhost:9443", config.URL)
	assert.Equal(t, "admin", config.Username)
	assert.Equal(t, "", config.Password)
	assert.Equal(t, 10*time.Second, config.RefreshMargin)
	assert.Equal(t, 30*time.Second, config.HTTPTimeout)
	assert.Equal(t, 256, config.IntakeCapacity)
	assert.Equal(t, 0.0, config.RateLimitRPS)
	assert.Equal(t, 10, config.RateLimitBurst)
	assert.False(t, config.RateLimitShared)
	assert.False(t, config.CircuitBreaker)
	assert.False(t, config.InsecureSkipVerify)
	assert.Equal(t, int64(0), config.MaxResponseBytes)
	assert.Equal(t, "", config.RedisAddress)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "https://localhost:9443/token", config.TokenURL())

	assert.NoError(t, config.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("SIRIX_URL", "http://sirix:9443/")
	t.Setenv("SIRIX_USERNAME", "writer")
	t.Setenv("SIRIX_PASSWORD", "secret")
	t.Setenv("SIRIX_REFRESH_MARGIN", "30s")
	t.Setenv("SIRIX_HTTP_TIMEOUT", "5s")
	t.Setenv("SIRIX_INTAKE_CAPACITY", "16")
	t.Setenv("SIRIX_RATE_LIMIT_RPS", "2.5")
	t.Setenv("SIRIX_RATE_LIMIT_BURST", "3")
	t.Setenv("SIRIX_RATE_LIMIT_SHARED", "1")
	t.Setenv("SIRIX_CIRCUIT_BREAKER", "true")
	t.Setenv("SIRIX_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("SIRIX_MAX_RESPONSE_BYTES", "1048576")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "0123456789abcdef0123")
	t.Setenv("LOG_LEVEL", "DEBUG")

	config := Load()

	assert.Equal(t, "http://sirix:9443/", config.URL)
	assert.Equal(t, "http://sirix:9443/token", config.TokenURL())
	assert.Equal(t, "writer", config.Username)
	assert.Equal(t, "secret", config.Password)
	assert.Equal(t, 30*time.Second, config.RefreshMargin)
	assert.Equal(t, 5*time.Second, config.HTTPTimeout)
	assert.Equal(t, 16, config.IntakeCapacity)
	assert.Equal(t, 2.5, config.RateLimitRPS)
	assert.Equal(t, 3, config.RateLimitBurst)
	assert.True(t, config.RateLimitShared)
	assert.True(t, config.CircuitBreaker)
	assert.True(t, config.InsecureSkipVerify)
	assert.Equal(t, int64(1<<20), config.MaxResponseBytes)
	assert.Equal(t, "redis:6379", config.RedisAddress)
	assert.Equal(t, 4, config.RedisDB)
	assert.Equal(t, "debug", config.LogLevel)

	assert.NoError(t, config.Validate())
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("SIRIX_REFRESH_MARGIN", "soon")
	t.Setenv("SIRIX_INTAKE_CAPACITY", "many")
	t.Setenv("SIRIX_CIRCUIT_BREAKER", "maybe")

	config := Load()

	assert.Equal(t, 10*time.Second, config.RefreshMargin)
	assert.Equal(t, 256, config.IntakeCapacity)
	assert.False(t, config.CircuitBreaker)
}

func TestLoadFile(t *testing.T) {
	clearTestEnvVars(t)
	os.Unsetenv("SIRIX_PASSWORD")

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"SIRIX_URL=http://from-file:9443",
		"SIRIX_USERNAME=file-user",
		"SIRIX_PASSWORD=file-password",
		"LOG_LEVEL=warn",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SIRIX_USERNAME", "env-user")

	config, err := LoadFile(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:9443", config.URL)
	assert.Equal(t, "env-user", config.Username, "environment wins over the file")
	assert.Equal(t, "file-password", config.Password)
	assert.Equal(t, "warn", config.LogLevel)

	_, set := os.LookupEnv("SIRIX_PASSWORD")
	assert.False(t, set, "LoadFile must not modify the environment")
}

func TestLoadFile_Unreadable(t *testing.T) {
	dir := t.TempDir()

	// a directory cannot be parsed as an env file
	_, err := LoadFile(dir)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			URL:            "https://localhost:9443",
			Username:       "admin",
			HTTPTimeout:    30 * time.Second,
			IntakeCapacity: 256,
			RateLimitBurst: 10,
			LogLevel:       "info",
		}
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "missing url",
			modify:  func(c *Config) { c.URL = "" },
			wantErr: "SIRIX_URL is required",
		},
		{
			name:    "invalid url",
			modify:  func(c *Config) { c.URL = "not a url" },
			wantErr: "SIRIX_URL must be a valid URL",
		},
		{
			name:    "missing username",
			modify:  func(c *Config) { c.Username = "" },
			wantErr: "SIRIX_USERNAME is required",
		},
		{
			name:    "zero timeout",
			modify:  func(c *Config) { c.HTTPTimeout = 0 },
			wantErr: "SIRIX_HTTP_TIMEOUT must be greater than 0",
		},
		{
			name:    "negative capacity",
			modify:  func(c *Config) { c.IntakeCapacity = -1 },
			wantErr: "SIRIX_INTAKE_CAPACITY must be at least 0",
		},
		{
			name:    "negative response limit",
			modify:  func(c *Config) { c.MaxResponseBytes = -1 },
			wantErr: "SIRIX_MAX_RESPONSE_BYTES must be at least 0",
		},
		{
			name:    "redis db out of range",
			modify:  func(c *Config) { c.RedisDB = 16 },
			wantErr: "REDIS_DB must be at most 15",
		},
		{
			name:    "bad redis address",
			modify:  func(c *Config) { c.RedisAddress = "redis" },
			wantErr: "REDIS_ADDRESS must be host:port",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "LOG_LEVEL must be one of",
		},
		{
			name: "short encryption key",
			modify: func(c *Config) {
				c.RedisAddress = "localhost:6379"
				c.EncryptionKey = "short"
			},
			wantErr: "TOKEN_ENCRYPTION_KEY must be at least 16 characters",
		},
		{
			name:    "encryption without redis",
			modify:  func(c *Config) { c.EncryptionKey = "0123456789abcdef" },
			wantErr: "TOKEN_ENCRYPTION_KEY requires REDIS_ADDRESS",
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.RateLimitRPS = 5
				c.RateLimitBurst = 0
			},
			wantErr: "SIRIX_RATE_LIMIT_BURST must be at least 1",
		},
		{
			name: "shared rate limit without redis",
			modify: func(c *Config) {
				c.RateLimitRPS = 5
				c.RateLimitShared = true
			},
			wantErr: "SIRIX_RATE_LIMIT_SHARED requires REDIS_ADDRESS",
		},
		{
			name: "several errors",
			modify: func(c *Config) {
				c.URL = ""
				c.Username = ""
			},
			wantErr: "validation failed: SIRIX_URL is required; SIRIX_USERNAME is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}
