package ondemand

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

func TestRedisEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisEntries(client, "lookout:", time.Hour)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "summit")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := domain.CacheEntry{
		WebcamID:   "summit",
		Assessment: assessmentAt(testNow, 64),
		FetchedAt:  testNow,
	}
	require.NoError(t, store.Put(ctx, entry))
	assert.True(t, mr.Exists("lookout:latest:summit"))

	got, ok, err := store.Get(ctx, "summit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Assessment.CaptureID, got.Assessment.CaptureID)
	assert.Equal(t, 64.0, got.Assessment.Score)
	assert.True(t, got.Assessment.Timestamp.Equal(testNow))

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.Get(ctx, "summit")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")

	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Delete(ctx, "summit"))
	_, ok, err = store.Get(ctx, "summit")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEntries_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("lookout:latest:summit", "{not json"))

	_, _, err := NewRedisEntries(client, "lookout:", 0).Get(context.Background(), "summit")
	assert.Error(t, err)
}

func TestMemoryEntries_RejectsEmptyID(t *testing.T) {
	assert.Error(t, NewMemoryEntries().Put(context.Background(), domain.CacheEntry{}))
}
