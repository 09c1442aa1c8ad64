package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CachedTool memoizes successful results of a deterministic tool for a TTL.
// Failures are never cached.
type CachedTool struct {
	Tool
	mu      sync.RWMutex
	entries map[string]cachedResult
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

type cachedResult struct {
	result   ExecResult
	storedAt time.Time
}

// NewCachedTool wraps tool with a result cache. maxSize <= 0 means 256 entries.
func NewCachedTool(tool Tool, ttl time.Duration, maxSize int) *CachedTool {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &CachedTool{
		Tool:    tool,
		entries: make(map[string]cachedResult),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// cacheKey hashes the tool name and JSON-encoded arguments. encoding/json sorts map keys.
func (c *CachedTool) cacheKey(args map[string]any) (string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to marshal args for cache key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(c.Name()))
	h.Write(argsJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Exec serves from cache when possible, otherwise delegates and caches successes.
func (c *CachedTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	key, keyErr := c.cacheKey(args)
	if keyErr == nil {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.storedAt) <= c.ttl {
			c.hits.Add(1)
			result := entry.result
			return &result, nil
		}
	}
	c.misses.Add(1)

	result, err := c.Tool.Exec(ctx, args)
	if err != nil || result == nil || result.IsError || keyErr != nil {
		return result, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = cachedResult{result: *result, storedAt: c.now()}
	return result, nil
}

func (c *CachedTool) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, v := range c.entries {
		if oldestKey == "" || v.storedAt.Before(oldest) {
			oldestKey = k
			oldest = v.storedAt
		}
	}
	delete(c.entries, oldestKey)
}

// Stats returns cache hit and miss counts.
func (c *CachedTool) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear drops every cached entry.
func (c *CachedTool) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedResult)
}
