package keys

import (
	"context"
	"sync"
	"time"

	"github.com/ijonas/omikuji/internal/logger"
	"github.com/ijonas/omikuji/internal/monitoring"
)

type cacheEntry struct {
	key      string
	cachedAt time.Time
}

// cachedStorage fronts a remote backend with a TTL cache. Expired entries
// are retained so a lookup can fall back to the last known key when the
// backend is unreachable.
type cachedStorage struct {
	Storage

	lggr *logger.Logger
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newCachedStorage(lggr *logger.Logger, inner Storage, ttlSeconds uint64) *cachedStorage {
	return &cachedStorage{
		Storage: inner,
		lggr:    lggr.Named("KeyCache"),
		ttl:     time.Duration(ttlSeconds) * time.Second,
		entries: make(map[string]cacheEntry),
	}
}

func (c *cachedStorage) GetKey(ctx context.Context, network string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[network]
	c.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < c.ttl {
		monitoring.IncKeyCacheHit()
		audit(c.lggr, c.Backend(), "get_key_cached", network, nil)
		return entry.key, nil
	}

	monitoring.IncKeyCacheMiss()
	key, err := c.Storage.GetKey(ctx, network)
	if err != nil {
		if ok {
			c.lggr.Warnw("Serving cached key after backend error",
				"network", network, "backend", c.Backend(), "err", err.Error())
			audit(c.lggr, c.Backend(), "get_key_fallback", network, nil)
			return entry.key, nil
		}
		return "", err
	}

	c.mu.Lock()
	c.entries[network] = cacheEntry{key: key, cachedAt: time.Now()}
	c.mu.Unlock()
	return key, nil
}

func (c *cachedStorage) StoreKey(ctx context.Context, network, key string) error {
	if err := c.Storage.StoreKey(ctx, network, key); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[network] = cacheEntry{key: key, cachedAt: time.Now()}
	c.mu.Unlock()
	return nil
}

func (c *cachedStorage) RemoveKey(ctx context.Context, network string) error {
	if err := c.Storage.RemoveKey(ctx, network); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, network)
	c.mu.Unlock()
	return nil
}
