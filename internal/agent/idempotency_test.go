package agent

import (
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	fields := map[string]string{
		"title": "Standup",
		"start": "2030-01-01T10:00:00Z",
		"end":   "2030-01-01T10:15:00Z",
	}
	a := Fingerprint("u1:a1", "create_calendar_event", fields)
	b := Fingerprint("u1:a1", "create_calendar_event", fields)
	if a != b {
		t.Error("identical inputs produced different fingerprints")
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("u1:a1", "create_calendar_event", map[string]string{"title": "  Standup "})
	b := Fingerprint("u1:a1", "create_calendar_event", map[string]string{"title": "standup"})
	if a != b {
		t.Error("whitespace/case differences changed the fingerprint")
	}
}

func TestFingerprintScopeSeparation(t *testing.T) {
	fields := map[string]string{"title": "Standup"}
	if Fingerprint("u1:a1", "create_calendar_event", fields) == Fingerprint("u2:a1", "create_calendar_event", fields) {
		t.Error("different owner scopes collided")
	}
}

func TestDedupeCacheWindow(t *testing.T) {
	cache := NewDedupeCache(2*time.Minute, 100)
	now := time.Now()

	if cache.CheckAndMark("fp", now) {
		t.Error("first occurrence reported as duplicate")
	}
	if !cache.CheckAndMark("fp", now.Add(time.Minute)) {
		t.Error("duplicate inside the window not suppressed")
	}
	if cache.CheckAndMark("fp", now.Add(3*time.Minute)) {
		t.Error("occurrence past the window still suppressed")
	}
}

func TestDedupeCacheBound(t *testing.T) {
	cache := NewDedupeCache(time.Hour, 3)
	now := time.Now()
	for i := 0; i < 10; i++ {
		cache.CheckAndMark(string(rune('a'+i)), now.Add(time.Duration(i)*time.Second))
	}
	if len(cache.seen) > 3 {
		t.Errorf("cache holds %d entries, bound is 3", len(cache.seen))
	}
}
