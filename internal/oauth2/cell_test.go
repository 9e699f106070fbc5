package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCell_Empty(t *testing.T) {
	cell := NewTokenCell()

	_, ok := cell.Read()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), cell.Version())

	_, ok = cell.AuthorizationHeader()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cell.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenCell_PublishAndRead(t *testing.T) {
	cell := NewTokenCell()

	v1 := cell.Publish(Credential{AccessToken: "first", TokenType: "bearer"})
	v2 := cell.Publish(Credential{AccessToken: "second", TokenType: "bearer"})

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)
	assert.Equal(t, uint64(2), cell.Version())

	c, ok := cell.Read()
	require.True(t, ok)
	assert.Equal(t, "second", c.AccessToken)

	header, ok := cell.AuthorizationHeader()
	require.True(t, ok)
	assert.Equal(t, "bearer second", header)
}

func TestTokenCell_ReadReturnsCopy(t *testing.T) {
	cell := NewTokenCell()
	published := Credential{
		AccessToken: "a",
		Extra:       map[string]json.RawMessage{"acr": json.RawMessage(`"1"`)},
	}
	cell.Publish(published)

	// mutating the published value or a read copy must not leak into the cell
	published.Extra["acr"] = json.RawMessage(`"9"`)
	c, _ := cell.Read()
	c.Extra["acr"][1] = '7'
	c.AccessToken = "changed"

	again, _ := cell.Read()
	assert.Equal(t, "a", again.AccessToken)
	assert.Equal(t, `"1"`, string(again.Extra["acr"]))
}

func TestTokenCell_WaitWakesOnPublish(t *testing.T) {
	cell := NewTokenCell()

	result := make(chan Credential, 1)
	go func() {
		c, err := cell.Wait(context.Background())
		if err == nil {
			result <- c
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cell.Publish(Credential{AccessToken: "ready"})

	select {
	case c := <-result:
		assert.Equal(t, "ready", c.AccessToken)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Publish")
	}
}

func TestTokenCell_Changed(t *testing.T) {
	cell := NewTokenCell()
	changed := cell.Changed()

	select {
	case <-changed:
		t.Fatal("Changed closed before publish")
	default:
	}

	cell.Publish(Credential{AccessToken: "x"})

	select {
	case <-changed:
	default:
		t.Fatal("Changed not closed after publish")
	}

	assert.NotEqual(t, changed, cell.Changed())
}

func TestTokenCell_ConcurrentReadersSeeMonotonicVersions(t *testing.T) {
	cell := NewTokenCell()
	const publishes = 500

	var wg sync.WaitGroup
	errs := make(chan error, 8)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int
			for last < publishes {
				c, ok := cell.Read()
				if !ok {
					continue
				}
				n, err := strconv.Atoi(strings.TrimPrefix(c.AccessToken, "token-"))
				if err != nil || c.RefreshToken != fmt.Sprintf("refresh-%d", n) {
					errs <- fmt.Errorf("torn credential %+v", c)
					return
				}
				if n < last {
					errs <- fmt.Errorf("version went backwards: %d after %d", n, last)
					return
				}
				last = n
			}
		}()
	}

	for i := 1; i <= publishes; i++ {
		cell.Publish(Credential{
			AccessToken:  fmt.Sprintf("token-%d", i),
			RefreshToken: fmt.Sprintf("refresh-%d", i),
		})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(publishes), cell.Version())
}
