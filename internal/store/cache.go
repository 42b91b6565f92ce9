package store

import (
	"context"
	"sync"

	"github.com/roach88/causal/internal/summary"
)

// Cache stores published summaries by procedure key.
//
// Implementations must be safe for concurrent use, keep the first value
// written for a key, and never change a value once it has been read.
type Cache[S any] interface {
	Get(ctx context.Context, key string) (*summary.Summary[S], bool, error)
	Put(ctx context.Context, key string, s *summary.Summary[S]) error
}

// MemoryCache is a process-local Cache.
type MemoryCache[S any] struct {
	mu      sync.RWMutex
	entries map[string]*summary.Summary[S]
}

func NewMemoryCache[S any]() *MemoryCache[S] {
	return &MemoryCache[S]{entries: make(map[string]*summary.Summary[S])}
}

func (c *MemoryCache[S]) Get(_ context.Context, key string) (*summary.Summary[S], bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok, nil
}

// Put stores s unless key is already present.
func (c *MemoryCache[S]) Put(_ context.Context, key string, s *summary.Summary[S]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = s
	}
	return nil
}

// Len returns the number of cached summaries.
func (c *MemoryCache[S]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *MemoryCache[S]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Tiered reads through a fast front cache to a durable back cache.
//
// Writes go to the back first; whichever value the back ends up holding is
// what the front caches, so both tiers agree on the winner of a race.
type Tiered[S any] struct {
	Front Cache[S]
	Back  Cache[S]
}

func (t Tiered[S]) Get(ctx context.Context, key string) (*summary.Summary[S], bool, error) {
	if s, ok, err := t.Front.Get(ctx, key); err != nil || ok {
		return s, ok, err
	}
	s, ok, err := t.Back.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.Front.Put(ctx, key, s); err != nil {
		return nil, false, err
	}
	return t.Front.Get(ctx, key)
}

func (t Tiered[S]) Put(ctx context.Context, key string, s *summary.Summary[S]) error {
	if err := t.Back.Put(ctx, key, s); err != nil {
		return err
	}
	winner, ok, err := t.Back.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		winner = s
	}
	return t.Front.Put(ctx, key, winner)
}
