package rules

import (
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/simpleexpr/internal/metrics"
)

// ProgramCache provides an abstraction for caching compiled programs.
// Programs are keyed by normalized expression and variable set, so
// evaluators built from the same trigger can share one program while each
// keeps its own binding table.
type ProgramCache interface {
	// Get retrieves a cached program, false on a miss or an expired entry
	Get(key string) (cel.Program, bool)

	// Set stores a program
	Set(key string, prog cel.Program)

	// Retain drops every entry whose key is not listed
	Retain(keys []string)

	// Invalidate clears the cache
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (Retain/Invalidate only)
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults used by the engine
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

type cachedProgram struct {
	program  cel.Program
	cachedAt time.Time
}

// InMemoryProgramCache is a map-backed ProgramCache.
// Thread-safe for concurrent access
type InMemoryProgramCache struct {
	entries map[string]cachedProgram
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryProgramCache creates an empty cache
func NewInMemoryProgramCache(config CacheConfig) *InMemoryProgramCache {
	return &InMemoryProgramCache{
		entries: make(map[string]cachedProgram),
		config:  config,
	}
}

func (c *InMemoryProgramCache) Get(key string) (cel.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if ok && c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		ok = false
	}

	if !ok {
		metrics.ProgramCacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.ProgramCacheLookupsTotal.WithLabelValues("hit").Inc()
	return entry.program, true
}

func (c *InMemoryProgramCache) Set(key string, prog cel.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedProgram{program: prog, cachedAt: time.Now()}
}

func (c *InMemoryProgramCache) Retain(keys []string) {
	keep := make(map[string]bool, len(keys))
	for _, k := range keys {
		keep[k] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if !keep[k] {
			delete(c.entries, k)
		}
	}
}

func (c *InMemoryProgramCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cachedProgram)
}

// Len returns the number of cached programs, expired ones included
func (c *InMemoryProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
