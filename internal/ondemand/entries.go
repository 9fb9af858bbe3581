package ondemand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

// EntryStore holds the derived per-webcam cache entries. Losing an entry is
// harmless: the durable store can always rebuild it.
type EntryStore interface {
	Get(ctx context.Context, webcamID string) (domain.CacheEntry, bool, error)
	Put(ctx context.Context, entry domain.CacheEntry) error
	Delete(ctx context.Context, webcamID string) error
}

type MemoryEntries struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

func NewMemoryEntries() *MemoryEntries {
	return &MemoryEntries{entries: make(map[string]domain.CacheEntry)}
}

func (m *MemoryEntries) Get(ctx context.Context, webcamID string) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[webcamID]
	return entry, ok, nil
}

func (m *MemoryEntries) Put(ctx context.Context, entry domain.CacheEntry) error {
	if entry.WebcamID == "" {
		return errors.New("webcam id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.WebcamID] = entry
	return nil
}

func (m *MemoryEntries) Delete(ctx context.Context, webcamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, webcamID)
	return nil
}

// RedisEntries shares entries between service replicas. Values are JSON
// encoded CacheEntry documents under <prefix>latest:<webcam id>.
type RedisEntries struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisEntries stores entries with ttl as the key expiry; ttl 0 keeps them
// until overwritten.
func NewRedisEntries(client *redis.Client, prefix string, ttl time.Duration) *RedisEntries {
	return &RedisEntries{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisEntries) key(webcamID string) string {
	return r.prefix + "latest:" + webcamID
}

func (r *RedisEntries) Get(ctx context.Context, webcamID string) (domain.CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, r.key(webcamID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("redis get entry: %w", err)
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("decode entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisEntries) Put(ctx context.Context, entry domain.CacheEntry) error {
	if entry.WebcamID == "" {
		return errors.New("webcam id is required")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(entry.WebcamID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set entry: %w", err)
	}
	return nil
}

func (r *RedisEntries) Delete(ctx context.Context, webcamID string) error {
	if err := r.client.Del(ctx, r.key(webcamID)).Err(); err != nil {
		return fmt.Errorf("redis del entry: %w", err)
	}
	return nil
}
