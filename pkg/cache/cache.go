package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Operation names a class of cached work. Each has its own TTL.
type Operation string

// Cached operations.
const (
	OpVerseContext     Operation = "verse_context"
	OpCrossReference   Operation = "cross_reference"
	OpLLMAnalysis      Operation = "llm_analysis"
	OpPromptGeneration Operation = "prompt_generation"
	OpHealthCheck      Operation = "health_check"
	OpProviderConfig   Operation = "provider_config"
)

// DefaultMaxEntries bounds the number of live entries.
const DefaultMaxEntries = 1000

// DefaultTTLs holds the time-to-live of every known operation.
var DefaultTTLs = map[Operation]time.Duration{
	OpVerseContext:     30 * time.Minute,
	OpCrossReference:   60 * time.Minute,
	OpLLMAnalysis:      24 * time.Hour,
	OpPromptGeneration: 60 * time.Minute,
	OpHealthCheck:      5 * time.Minute,
	OpProviderConfig:   30 * time.Minute,
}

// fallbackTTL applies to operations missing from the TTL table.
const fallbackTTL = 5 * time.Minute

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
	hits      *atomic.Int64
}

// Stats summarises cache effectiveness since the last ClearAll.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"` // percent
	Size          int     `json:"size"`
}

// EntryInfo describes one live entry.
type EntryInfo struct {
	Key            string `json:"key"`
	Size           int    `json:"size"`
	Hits           int64  `json:"hits"`
	AgeMS          int64  `json:"age_ms"`
	TTLRemainingMS int64  `json:"ttl_remaining_ms"`
}

// Cache is an in-process TTL cache with a fixed capacity. When full, the
// entry with the oldest insertion time is evicted. Expiry is lazy.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	ttls       map[Operation]time.Duration
	now        func() time.Time
	logger     *zap.Logger

	hits   *atomic.Int64
	misses *atomic.Int64

	sf    singleflight.Group
	dedup bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries sets the capacity bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithTTL overrides the TTL of one operation.
func WithTTL(op Operation, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttls[op] = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger.Named("cache") }
}

// WithoutDedup lets concurrent misses on one key each run their producer.
func WithoutDedup() Option {
	return func(c *Cache) { c.dedup = false }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		maxEntries: DefaultMaxEntries,
		ttls:       make(map[Operation]time.Duration, len(DefaultTTLs)),
		now:        time.Now,
		logger:     zap.NewNop(),
		hits:       atomic.NewInt64(0),
		misses:     atomic.NewInt64(0),
		dedup:      true,
	}
	for op, ttl := range DefaultTTLs {
		c.ttls[op] = ttl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the time-to-live applied to op.
func (c *Cache) TTL(op Operation) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttlLocked(op)
}

func (c *Cache) ttlLocked(op Operation) time.Duration {
	if ttl, ok := c.ttls[op]; ok {
		return ttl
	}
	return fallbackTTL
}

// Get returns the live value stored under key. Expired entries are removed
// and reported as misses.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Inc()
		return nil, false
	}
	if c.now().Sub(e.createdAt) > e.ttl {
		delete(c.entries, key)
		c.misses.Inc()
		return nil, false
	}
	e.hits.Inc()
	c.hits.Inc()
	return e.value, true
}

// peek is Get without touching statistics.
func (c *Cache) peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.createdAt) > e.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the TTL of op.
func (c *Cache) Set(key string, value any, op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{
		value:     value,
		createdAt: c.now(),
		ttl:       c.ttlLocked(op),
		hits:      atomic.NewInt64(0),
	}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.createdAt.Before(oldest) {
			oldestKey, oldest, found = k, e.createdAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.logger.Debug("evicted oldest entry", zap.String("key", oldestKey))
	}
}

// GetOrSet returns the cached value for (op, params), calling produce on a
// miss and storing its result. Producer errors are returned and not cached.
// Concurrent misses on the same key share one producer call unless the
// cache was built WithoutDedup. Internal cache faults degrade to a miss.
func GetOrSet[T any](ctx context.Context, c *Cache, op Operation, params any, produce func(context.Context) (T, error)) (T, error) {
	v, _, err := Fetch(ctx, c, op, params, produce)
	return v, err
}

// flight is the shared outcome of one deduplicated producer call.
type flight struct {
	value any
	hit   bool
}

// Fetch is GetOrSet that also reports whether the value came from a stored
// entry. Callers joining a shared producer call see the same report as the
// caller that started it.
//
// A shared producer runs detached from any single caller's cancellation;
// each caller stops waiting when its own ctx is done.
func Fetch[T any](ctx context.Context, c *Cache, op Operation, params any, produce func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	key, err := GenerateKey(op, params)
	if err != nil {
		c.logger.Warn("cache key generation failed, bypassing cache", zap.String("operation", string(op)), zap.Error(err))
		v, err := produce(ctx)
		return v, false, err
	}

	if v, ok := c.Get(key); ok {
		if tv, ok := v.(T); ok {
			return tv, true, nil
		}
		c.logger.Warn("cached value has unexpected type", zap.String("key", key))
	}

	if !c.dedup {
		v, err := produce(ctx)
		if err != nil {
			return v, false, err
		}
		c.Set(key, v, op)
		return v, false, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (any, error) {
		if v, ok := c.peek(key); ok {
			if tv, ok := v.(T); ok {
				return flight{value: tv, hit: true}, nil
			}
		}
		tv, err := produce(detached)
		if err != nil {
			return nil, err
		}
		c.Set(key, tv, op)
		return flight{value: tv}, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		f, _ := res.Val.(flight)
		tv, _ := f.value.(T)
		return tv, f.hit, nil
	}
}

// ClearByPattern removes every entry whose key matches and returns the count.
func (c *Cache) ClearByPattern(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// ClearAll removes every entry and resets statistics.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and the current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		TotalRequests: total,
		HitRate:       rate,
		Size:          size,
	}
}

// Info lists every stored entry, oldest first.
func (c *Cache) Info() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]EntryInfo, 0, len(c.entries))
	for k, e := range c.entries {
		age := now.Sub(e.createdAt)
		remaining := e.ttl - age
		if remaining < 0 {
			remaining = 0
		}
		size := 0
		if data, err := json.Marshal(e.value); err == nil {
			size = len(data)
		}
		out = append(out, EntryInfo{
			Key:            k,
			Size:           size,
			Hits:           e.hits.Load(),
			AgeMS:          age.Milliseconds(),
			TTLRemainingMS: remaining.Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgeMS != out[j].AgeMS {
			return out[i].AgeMS > out[j].AgeMS
		}
		return out[i].Key < out[j].Key
	})
	return out
}
