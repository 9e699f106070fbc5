// Package config loads client settings from environment variables and
// optional .env files.
//
// Environment Variables:
//
// Server:
//   - SIRIX_URL: base URL of the SirixDB REST API (default: https://localhost:9443)
//   - SIRIX_USERNAME: user for the password grant (default: admin)
//   - SIRIX_PASSWORD: password for the password grant
//   - SIRIX_REFRESH_MARGIN: refresh this long before expiry (default: 10s)
//
// Transport:
//   - SIRIX_HTTP_TIMEOUT: per-request timeout (default: 30s)
//   - SIRIX_INTAKE_CAPACITY: gateway intake buffer size (default: 256)
//   - SIRIX_RATE_LIMIT_RPS: outbound requests per second, 0 disables (default: 0)
//   - SIRIX_RATE_LIMIT_BURST: rate limiter burst size (default: 10)
//   - SIRIX_RATE_LIMIT_SHARED: share the rate limit through redis (default: false)
//   - SIRIX_CIRCUIT_BREAKER: guard each authority with a circuit breaker (default: false)
//   - SIRIX_INSECURE_SKIP_VERIFY: accept self-signed server certificates (default: false)
//   - SIRIX_MAX_RESPONSE_BYTES: largest response body buffered, 0 means 64MiB (default: 0)
//
// Credential storage:
//   - REDIS_ADDRESS: share credentials through redis when set
//   - REDIS_PASSWORD: redis password
//   - REDIS_DB: redis database number 0-15 (default: 0)
//   - TOKEN_ENCRYPTION_KEY: encrypt credentials stored in redis when set
//
// Logging:
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//
// Values already present in the environment win over values read from a
// .env file. Malformed numbers, booleans and durations fall back to their
// defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"sirix-go/internal/common/errors"
)

// Config holds the client settings. The env tag names the variable each field is read from.
type Config struct {
	URL           string        `env:"SIRIX_URL" validate:"required,url"`
	Username      string        `env:"SIRIX_USERNAME" validate:"required"`
	Password      string        `env:"SIRIX_PASSWORD"`
	RefreshMargin time.Duration `env:"SIRIX_REFRESH_MARGIN" validate:"gte=0"`

	HTTPTimeout        time.Duration `env:"SIRIX_HTTP_TIMEOUT" validate:"gt=0"`
	IntakeCapacity     int           `env:"SIRIX_INTAKE_CAPACITY" validate:"gte=0"`
	RateLimitRPS       float64       `env:"SIRIX_RATE_LIMIT_RPS" validate:"gte=0"`
	RateLimitBurst     int           `env:"SIRIX_RATE_LIMIT_BURST" validate:"gte=0"`
	RateLimitShared    bool          `env:"SIRIX_RATE_LIMIT_SHARED"`
	CircuitBreaker     bool          `env:"SIRIX_CIRCUIT_BREAKER"`
	InsecureSkipVerify bool          `env:"SIRIX_INSECURE_SKIP_VERIFY"`
	MaxResponseBytes   int64         `env:"SIRIX_MAX_RESPONSE_BYTES" validate:"gte=0"`

	RedisAddress  string `env:"REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"gte=0,lte=15"`
	EncryptionKey string `env:"TOKEN_ENCRYPTION_KEY" validate:"omitempty,min=16"`

	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
}

type lookupFunc func(key string) (string, bool)

// Load reads the configuration from the process environment.
// Call Validate on the result before use.
func Load() *Config {
	return load(os.LookupEnv)
}

// LoadFile reads the configuration from the environment, filling gaps from
// the given .env files. Missing files are skipped; the process environment
// is never modified.
func LoadFile(paths ...string) (*Config, error) {
	fileValues := make(map[string]string)
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.ConfigError(fmt.Sprintf("failed to read %s", path)).WithContext("error", err.Error())
		}
		for key, value := range values {
			if _, ok := fileValues[key]; !ok {
				fileValues[key] = value
			}
		}
	}

	return load(func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
		value, ok := fileValues[key]
		return value, ok
	}), nil
}

func load(lookup lookupFunc) *Config {
	env := environment{lookup: lookup}

	return &Config{
		URL:           env.str("SIRIX_URL", "https://localhost:9443"),
		Username:      env.str("SIRIX_USERNAME", "admin"),
		Password:      env.str("SIRIX_PASSWORD", ""),
		RefreshMargin: env.duration("SIRIX_REFRESH_MARGIN", 10*time.Second),

		HTTPTimeout:        env.duration("SIRIX_HTTP_TIMEOUT", 30*time.Second),
		IntakeCapacity:     env.integer("SIRIX_INTAKE_CAPACITY", 256),
		RateLimitRPS:       env.float("SIRIX_RATE_LIMIT_RPS", 0),
		RateLimitBurst:     env.integer("SIRIX_RATE_LIMIT_BURST", 10),
		RateLimitShared:    env.boolean("SIRIX_RATE_LIMIT_SHARED", false),
		CircuitBreaker:     env.boolean("SIRIX_CIRCUIT_BREAKER", false),
		InsecureSkipVerify: env.boolean("SIRIX_INSECURE_SKIP_VERIFY", false),
		MaxResponseBytes:   int64(env.integer("SIRIX_MAX_RESPONSE_BYTES", 0)),

		RedisAddress:  env.str("REDIS_ADDRESS", ""),
		RedisPassword: env.str("REDIS_PASSWORD", ""),
		RedisDB:       env.integer("REDIS_DB", 0),
		EncryptionKey: env.str("TOKEN_ENCRYPTION_KEY", ""),

		LogLevel: strings.ToLower(env.str("LOG_LEVEL", "info")),
	}
}

// Validate checks field constraints and cross-field dependencies
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return errors.ValidationError("SIRIX_RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.RateLimitShared && (c.RedisAddress == "" || c.RateLimitRPS <= 0) {
		return errors.ValidationError("SIRIX_RATE_LIMIT_SHARED requires REDIS_ADDRESS and SIRIX_RATE_LIMIT_RPS")
	}
	if c.EncryptionKey != "" && c.RedisAddress == "" {
		return errors.ValidationError("TOKEN_ENCRYPTION_KEY requires REDIS_ADDRESS")
	}

	return nil
}

// TokenURL returns the token endpoint below URL
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.URL, "/") + "/token"
}

type environment struct {
	lookup lookupFunc
}

func (e environment) str(key, defaultValue string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func (e environment) integer(key string, defaultValue int) int {
	if parsed, err := strconv.Atoi(e.str(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func (e environment) float(key string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(e.str(key, ""), 64); err == nil {
		return parsed
	}
	return defaultValue
}

func (e environment) boolean(key string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(e.str(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func (e environment) duration(key string, defaultValue time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(e.str(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func newValidator() *validator.Validate {
	v := validator.New()

	// report variable names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})

	return v
}

func formatValidationErrors(err error) error {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ValidationError(err.Error())
	}

	messages := make([]string, len(fieldErrors))
	for i, fieldError := range fieldErrors {
		messages[i] = formatFieldError(fieldError)
	}
	if len(messages) == 1 {
		return errors.ValidationError(messages[0])
	}

	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func formatFieldError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, err.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, err.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, err.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
