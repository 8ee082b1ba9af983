package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emiliopalmerini/msplit/internal/domain"
)

// testRedis starts a Redis container and returns a store connected to it.
func testRedis(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.URL = fmt.Sprintf("redis://%s:%s/0", host, port.Port())
	s, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Redis(t *testing.T) {
	ctx := context.Background()
	s := testRedis(t)

	t.Run("strings", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "link_color:version")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.Incr(ctx, "link_color:version")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("hashes", func(t *testing.T) {
		set, err := s.HSetNX(ctx, "link_color:blue", "participant_count", "0")
		require.NoError(t, err)
		assert.True(t, set)
		set, err = s.HSetNX(ctx, "link_color:blue", "participant_count", "3")
		require.NoError(t, err)
		assert.False(t, set)

		require.NoError(t, s.HSet(ctx, "link_color:blue", map[string]string{"completed_count": "2"}))
		v, ok, err := s.HGet(ctx, "link_color:blue", "completed_count")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", v)

		require.NoError(t, s.HDel(ctx, "link_color:blue", "completed_count"))
		_, ok, err = s.HGet(ctx, "link_color:blue", "completed_count")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sets and lists", func(t *testing.T) {
		require.NoError(t, s.SAdd(ctx, "experiments", "link_color"))
		require.NoError(t, s.SAdd(ctx, "experiments", "button_size"))
		members, err := s.SMembers(ctx, "experiments")
		require.NoError(t, err)
		assert.Equal(t, []string{"button_size", "link_color"}, members)

		require.NoError(t, s.RPush(ctx, "link_color", "blue", "red"))
		list, err := s.LRange(ctx, "link_color")
		require.NoError(t, err)
		assert.Equal(t, []string{"blue", "red"}, list)

		require.NoError(t, s.Del(ctx, "link_color", "experiments"))
		exists, err := s.Exists(ctx, "link_color")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 50 {
					_, err := s.HIncrBy(ctx, "link_color:red", "participant_count", 1)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		v, _, err := s.HGet(ctx, "link_color:red", "participant_count")
		require.NoError(t, err)
		assert.Equal(t, "1000", v)
	})

	t.Run("reply errors are not unavailability", func(t *testing.T) {
		require.NoError(t, s.SAdd(ctx, "a_set", "x"))
		_, err := s.Incr(ctx, "a_set")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewStoreFromClient(client)
	defer s.Close()

	_, err := s.Exists(context.Background(), "link_color")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestNewStore_InvalidURL(t *testing.T) {
	_, err := NewStore(context.Background(), Config{URL: "not-a-url"})
	require.Error(t, err)
}

func TestStore_ClosedClient(t *testing.T) {
	s := NewStoreFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	require.NoError(t, s.Close())

	_, err := s.Incr(context.Background(), "link_color:version")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
