// Package cache provides memory.Cache implementations for read-through
// caching of fragment listings.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config sizes the ristretto cache.
type Config struct {
	// NumCounters tracks access frequency; about 10x the expected entries.
	NumCounters int64
	// MaxCost is the entry budget. Every entry costs 1.
	MaxCost int64
	// BufferItems is the Get buffer size per shard.
	BufferItems int64
}

// DefaultConfig holds up to ten thousand listings.
func DefaultConfig() Config {
	return Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	}
}

// Ristretto is a memory.Cache backed by dgraph-io/ristretto.
type Ristretto struct {
	c *ristretto.Cache
}

var _ memory.Cache = (*Ristretto)(nil)

// New creates a ristretto-backed cache.
func New(cfg Config) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ristretto cache",
			goerr.V("numCounters", cfg.NumCounters), goerr.V("maxCost", cfg.MaxCost))
	}
	return &Ristretto{c: c}, nil
}

// Get returns the cached value for key.
func (r *Ristretto) Get(key string) (any, bool) {
	return r.c.Get(key)
}

// Set stores value for ttl. A non-positive ttl never expires. Set waits for
// the write buffer so the value is visible to the next Get, though the
// admission policy may still reject it.
func (r *Ristretto) Set(key string, value any, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	r.c.SetWithTTL(key, value, 1, ttl)
	r.c.Wait()
}

// Invalidate removes key. It returns after the removal is visible.
func (r *Ristretto) Invalidate(key string) {
	r.c.Del(key)
	r.c.Wait()
}

// Close stops the cache's background goroutines.
func (r *Ristretto) Close() {
	r.c.Close()
}

// Noop caches nothing.
type Noop struct{}

var _ memory.Cache = Noop{}

func (Noop) Get(string) (any, bool)         { return nil, false }
func (Noop) Set(string, any, time.Duration) {}
func (Noop) Invalidate(string)              {}
