package streaming

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// CacheKeyInput is every field the response cache's stable hash is
// computed over: route, provider, model, normalized messages, system
// prompt, params, tooling, and extras.
type CacheKeyInput struct {
	Route             string
	Provider          string
	Model             string
	NormalizedMessages []string
	SystemPrompt      string
	Params            map[string]string
	Tooling           []string
	Extras            map[string]string
}

// CacheKey computes a stable hash over input, independent of map
// iteration order.
func CacheKey(input CacheKeyInput) string {
	h := sha256.New()
	write := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }

	write(input.Route)
	write(input.Provider)
	write(input.Model)
	for _, m := range input.NormalizedMessages {
		write(m)
	}
	write(input.SystemPrompt)

	paramKeys := sortedKeys(input.Params)
	for _, k := range paramKeys {
		write(k + "=" + input.Params[k])
	}
	for _, t := range input.Tooling {
		write(t)
	}
	extraKeys := sortedKeys(input.Extras)
	for _, k := range extraKeys {
		write(k + "=" + input.Extras[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResponseCache stores the accumulated content of fully completed
// streams, keyed by CacheKey, for a bounded TTL. A fresh request with a
// matching, unexpired entry replays the cached content instead of
// calling the provider again.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	content string
	storedAt time.Time
}

// NewResponseCache constructs a cache with the given TTL and a bound on
// the number of tracked entries (oldest evicted first on overflow).
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ResponseCache{entries: make(map[string]cacheEntry), ttl: ttl, maxSize: maxSize}
}

// Get returns the cached content for key if present and unexpired.
func (c *ResponseCache) Get(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if now.Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.content, true
}

// Store records content for key on a successfully completed stream.
func (c *ResponseCache) Store(key, content string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{content: content, storedAt: now}
	c.prune(now)
}

// prune runs inline on every Store, evicting expired and (if still
// over maxSize) oldest entries, mirroring the eviction discipline used
// for dedupe caches elsewhere in this module.
func (c *ResponseCache) prune(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for k, e := range c.entries {
			if first || e.storedAt.Before(oldestAt) {
				oldestKey, oldestAt, first = k, e.storedAt, false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// ReplayChunks splits content into fixed-size chunks for replay on a
// cache hit.
func ReplayChunks(content string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 64
	}
	var chunks []string
	runes := []rune(content)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// normalizedMessagesFromJSON is a convenience for callers that already
// have messages as a JSON-marshalable slice.
func normalizedMessagesFromJSON(v any) []string {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return []string{string(raw)}
}
