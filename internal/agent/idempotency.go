package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// IdempotencyWindow is the default window within which two fingerprints
// that collide are treated as the same effect.
const IdempotencyWindow = 2 * time.Minute

// Fingerprint computes a deterministic hash over the fields that define
// a duplicate mutating effect: owner scope, tool name, and a normalized
// field set (backend, title, start, end, description, location, allDay
// for calendar events; callers pass whatever field set is meaningful
// for the tool).
func Fingerprint(ownerScope, toolName string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sortStrings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", ownerScope, toolName)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%s", k, normalizeField(fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeField(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// DedupeCache suppresses re-execution of an idempotency-keyed tool call
// whose fingerprint was already seen within IdempotencyWindow, returning
// a synthetic "already done" result instead.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	window  time.Duration
	maxSize int
}

// NewDedupeCache constructs a cache with the given window and a bound on
// the number of tracked fingerprints (oldest pruned first).
func NewDedupeCache(window time.Duration, maxSize int) *DedupeCache {
	if window <= 0 {
		window = IdempotencyWindow
	}
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &DedupeCache{seen: make(map[string]time.Time), window: window, maxSize: maxSize}
}

// CheckAndMark reports whether fingerprint was already seen within the
// window as of now; if not, it records it as seen.
func (c *DedupeCache) CheckAndMark(fingerprint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.seen[fingerprint]; ok && now.Sub(ts) < c.window {
		return true
	}
	c.seen[fingerprint] = now
	c.prune(now)
	return false
}

func (c *DedupeCache) prune(now time.Time) {
	for len(c.seen) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for k, ts := range c.seen {
			if first || ts.Before(oldestAt) {
				oldestKey, oldestAt, first = k, ts, false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.seen, oldestKey)
	}
	for k, ts := range c.seen {
		if now.Sub(ts) >= c.window {
			delete(c.seen, k)
		}
	}
}
