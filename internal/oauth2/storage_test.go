package oauth2

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sirix-go/internal/crypto"
	"sirix-go/internal/redis"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func storedCredential() Credential {
	now := time.Now().Truncate(time.Millisecond)
	return Credential{
		AccessToken:      "access-1",
		TokenType:        "bearer",
		ExpiresIn:        300,
		RefreshToken:     "refresh-1",
		RefreshExpiresIn: 1800,
		IssuedAt:         now,
		ExpiresAt:        now.Add(300 * time.Second),
	}
}

func TestMemoryTokenStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryTokenStorage()

	missing, err := storage.Load(ctx, "admin@localhost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, storage.Save(ctx, "admin@localhost", storedCredential()))

	loaded, err := storage.Load(ctx, "admin@localhost")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access-1", loaded.AccessToken)

	require.NoError(t, storage.Delete(ctx, "admin@localhost"))
	loaded, err = storage.Load(ctx, "admin@localhost")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisTokenStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	storage := NewRedisTokenStorage(client)

	credential := storedCredential()
	require.NoError(t, storage.Save(ctx, "admin@localhost", credential))

	assert.True(t, mr.Exists("sirix:token:admin@localhost"))
	assert.Equal(t, 1800*time.Second, mr.TTL("sirix:token:admin@localhost"))

	loaded, err := storage.Load(ctx, "admin@localhost")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, credential.AccessToken, loaded.AccessToken)
	assert.Equal(t, credential.RefreshToken, loaded.RefreshToken)
	assert.True(t, credential.ExpiresAt.Equal(loaded.ExpiresAt))
	assert.True(t, credential.IssuedAt.Equal(loaded.IssuedAt))

	require.NoError(t, storage.Delete(ctx, "admin@localhost"))
	assert.False(t, mr.Exists("sirix:token:admin@localhost"))
}

func TestRedisTokenStorage_Missing(t *testing.T) {
	_, client := newTestRedis(t)
	storage := NewRedisTokenStorage(client, WithKeyPrefix("test:"))

	loaded, err := storage.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisTokenStorage_Corrupt(t *testing.T) {
	mr, client := newTestRedis(t)
	storage := NewRedisTokenStorage(client)

	require.NoError(t, mr.Set("sirix:token:admin@localhost", "{not json"))

	_, err := storage.Load(context.Background(), "admin@localhost")
	assert.Error(t, err)
}

func TestRedisTokenStorage_Encrypted(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	encryptor, err := crypto.NewEncryptor("a-long-enough-passphrase")
	require.NoError(t, err)
	storage := NewRedisTokenStorage(client, WithEncryptor(encryptor))

	require.NoError(t, storage.Save(ctx, "admin@localhost", storedCredential()))

	raw, err := mr.Get("sirix:token:admin@localhost")
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "access-1"), "credential stored in plaintext")

	loaded, err := storage.Load(ctx, "admin@localhost")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access-1", loaded.AccessToken)

	other, err := crypto.NewEncryptor("a-different-passphrase")
	require.NoError(t, err)
	_, err = NewRedisTokenStorage(client, WithEncryptor(other)).Load(ctx, "admin@localhost")
	assert.Error(t, err)
}

func TestRedisTokenStorage_TTL(t *testing.T) {
	storage := NewRedisTokenStorage(nil)

	assert.Equal(t, 24*time.Hour, storage.ttlFor(Credential{}))
	assert.Equal(t, 30*time.Minute, storage.ttlFor(Credential{RefreshExpiresIn: 1800}))

	// an access token outliving the refresh token keeps the entry alive
	ttl := storage.ttlFor(Credential{RefreshExpiresIn: 60, ExpiresAt: time.Now().Add(time.Hour)})
	assert.Greater(t, ttl, 59*time.Minute)
}
