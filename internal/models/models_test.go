package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAgentConfigValidate(t *testing.T) {
	cfg := &AgentConfig{ID: "a1", AlwaysOn: true}
	if err := cfg.Validate(); !errors.Is(err, ErrAlwaysOnMissingCredentials) {
		t.Errorf("Validate = %v, want ErrAlwaysOnMissingCredentials", err)
	}

	cfg.MessagingCred = "token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestScheduledTaskValidate(t *testing.T) {
	if err := (&ScheduledTask{OneShot: true}).Validate(); !errors.Is(err, ErrOneShotMissingTrigger) {
		t.Error("one-shot without trigger accepted")
	}
	if err := (&ScheduledTask{}).Validate(); !errors.Is(err, ErrRecurringMissingCron) {
		t.Error("recurring without cron accepted")
	}
}

func TestCooldownElapsed(t *testing.T) {
	now := time.Now()
	fired := now.Add(-5 * time.Minute)
	sub := &EventSubscription{CooldownMinutes: 10, LastFiredAt: &fired}

	if sub.CooldownElapsed(now) {
		t.Error("cooldown reported elapsed too early")
	}
	if !sub.CooldownElapsed(now.Add(6 * time.Minute)) {
		t.Error("cooldown not elapsed after the full window")
	}
	if !(&EventSubscription{CooldownMinutes: 10}).CooldownElapsed(now) {
		t.Error("never-fired subscription not ready")
	}
}

func TestWithinRadius(t *testing.T) {
	rem := &LocationReminder{Lat: 40.4168, Lon: -3.7038, RadiusMeters: 500}
	if !rem.WithinRadius(40.4169, -3.7039) {
		t.Error("point a few meters away reported outside a 500m radius")
	}
	if rem.WithinRadius(41.3874, 2.1686) {
		t.Error("a different city reported inside the radius")
	}
}

func TestTaxonomyErrorKinds(t *testing.T) {
	err := NewError(KindPermissionDenied, "calendar disabled", nil)
	if KindOf(err) != KindPermissionDenied {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if !strings.Contains(err.Error(), "permission_denied") {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := NewError(KindExternal, "upstream", errors.New("503"))
	if !strings.Contains(wrapped.Error(), "503") {
		t.Error("cause not included in message")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors should default to internal")
	}
}

func TestAmbiguousCandidates(t *testing.T) {
	err := NewAmbiguous("2 matches", []Candidate{{Label: "Dune (1984)", ID: "m1"}, {Label: "Dune (2021)", ID: "m2"}})
	if len(err.Candidates) != 2 {
		t.Errorf("candidates %d", len(err.Candidates))
	}
	if KindOf(err) != KindAmbiguous {
		t.Errorf("kind %q", KindOf(err))
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		leak string
	}{
		{"api key assignment", "failed: api_key=sk-12345 rejected", "sk-12345"},
		{"bearer token", "Authorization: bearer=abc.def.ghi", "abc.def"},
		{"credential envelope", "row holds encwc.v1:aaa:bbb:ccc", "encwc.v1:aaa"},
		{"home path", "open /home/alice/.ssh/id_rsa failed", "/home/alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.in)
			if strings.Contains(out, tt.leak) {
				t.Errorf("Redact(%q) leaked %q: %q", tt.in, tt.leak, out)
			}
		})
	}

	if Redact("no secrets here") != "no secrets here" {
		t.Error("clean string altered")
	}
}

func TestUndoEntryReversible(t *testing.T) {
	if (&UndoEntry{}).Reversible() {
		t.Error("entry without inverse reported reversible")
	}
	if !(&UndoEntry{InverseAction: []byte(`{}`)}).Reversible() {
		t.Error("entry with inverse reported non-reversible")
	}
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{ExpiresAt: now.Add(time.Minute)}
	if entry.Expired(now) {
		t.Error("unexpired entry reported expired")
	}
	if !entry.Expired(now.Add(2 * time.Minute)) {
		t.Error("expired entry reported fresh")
	}
}
