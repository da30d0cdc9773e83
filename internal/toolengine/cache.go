package toolengine

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"weave/internal/shared/jsonx"
	"weave/internal/shared/logging"
)

// ResultCache memoizes successful tool results keyed by tool name and
// normalized parameters. Failed executions are never cached.
type ResultCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	skip    map[string]bool
	logger  logging.Logger
}

type cacheEntry struct {
	output   any
	storedAt time.Time
}

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// NewResultCache builds a cache with the given capacity and TTL. Tools listed
// in skip are never cached (side-effecting tools opt out by name).
func NewResultCache(size int, ttl time.Duration, skip []string, logger logging.Logger) (*ResultCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	skipSet := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipSet[name] = true
	}
	return &ResultCache{
		entries: entries,
		ttl:     ttl,
		skip:    skipSet,
		logger:  logging.OrNop(logger),
	}, nil
}

// cacheKey hashes the tool name and its effective parameters. Marshaling
// sorts map keys, so equal parameter maps hash identically.
func cacheKey(toolName string, params map[string]any) (string, bool) {
	data, err := jsonx.Marshal(params)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(append([]byte(toolName+"\x00"), data...))
	return hex.EncodeToString(sum[:]), true
}

// Get returns the cached output for the call, if fresh.
func (c *ResultCache) Get(toolName string, params map[string]any) (any, bool) {
	if c == nil || c.skip[toolName] {
		return nil, false
	}
	key, ok := cacheKey(toolName, params)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.output, true
}

// Put stores a successful result.
func (c *ResultCache) Put(toolName string, params map[string]any, output any) {
	if c == nil || c.skip[toolName] {
		return
	}
	key, ok := cacheKey(toolName, params)
	if !ok {
		c.logger.Debug("result for %q not cacheable: params do not marshal", toolName)
		return
	}
	c.mu.Lock()
	c.entries.Add(key, cacheEntry{output: output, storedAt: time.Now()})
	c.mu.Unlock()
}

// Invalidate drops every cached result for a tool. Called when a manifest is
// updated or removed so stale outputs never survive a redeploy.
func (c *ResultCache) Invalidate(toolName string) {
	if c == nil {
		return
	}
	// Keys are opaque hashes; a full purge is the only safe invalidation.
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
	c.logger.Debug("result cache purged after change to %q", toolName)
}

// Len reports the number of live entries, counting expired ones until they
// are touched.
func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
