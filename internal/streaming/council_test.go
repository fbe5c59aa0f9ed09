package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCouncilHappyPath(t *testing.T) {
	member := func(ctx context.Context, idx int) (string, error) {
		return fmt.Sprintf("answer %d", idx+1), nil
	}
	leader := func(ctx context.Context, prompt string) (string, error) {
		return "synthesis", nil
	}

	var events []string
	text, err := RunCouncil(context.Background(), 3, time.Second, time.Second, member, leader, func(ev CouncilEvent) {
		events = append(events, ev.Phase)
	})
	if err != nil {
		t.Fatalf("RunCouncil: %v", err)
	}
	if text != "synthesis" {
		t.Errorf("leader text %q", text)
	}

	// phase:members first, one member_complete per member, then
	// leader, then done — with no leader_retry on a healthy run.
	if events[0] != "members" {
		t.Errorf("first event %q, want members", events[0])
	}
	counts := map[string]int{}
	for _, e := range events {
		counts[e]++
	}
	if counts["member_complete"] != 3 || counts["member_error"] != 0 {
		t.Errorf("member events: %v", counts)
	}
	if counts["leader"] != 1 || counts["leader_retry"] != 0 || counts["done"] != 1 {
		t.Errorf("leader events: %v", counts)
	}
}

func TestCouncilFailingMemberDoesNotAbortBatch(t *testing.T) {
	member := func(ctx context.Context, idx int) (string, error) {
		if idx == 1 {
			return "", errors.New("member timed out")
		}
		return fmt.Sprintf("answer %d", idx+1), nil
	}

	var leaderPrompt string
	leader := func(ctx context.Context, prompt string) (string, error) {
		leaderPrompt = prompt
		return "synthesis", nil
	}

	var mu sync.Mutex
	counts := map[string]int{}
	_, err := RunCouncil(context.Background(), 3, time.Second, time.Second, member, leader, func(ev CouncilEvent) {
		mu.Lock()
		counts[ev.Phase]++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RunCouncil: %v", err)
	}

	if counts["member_complete"] != 2 || counts["member_error"] != 1 {
		t.Errorf("member events: %v", counts)
	}
	// The failed member is omitted from the synthesis prompt.
	if strings.Contains(leaderPrompt, "Response 2") {
		t.Error("failed member's slot appears in the leader prompt")
	}
	if !strings.Contains(leaderPrompt, "Response 1") || !strings.Contains(leaderPrompt, "Response 3") {
		t.Errorf("healthy members missing from leader prompt:\n%s", leaderPrompt)
	}
}

func TestCouncilLeaderRetriedOnceWhenEmpty(t *testing.T) {
	member := func(ctx context.Context, idx int) (string, error) { return "a", nil }

	var attempts int
	leader := func(ctx context.Context, prompt string) (string, error) {
		attempts++
		if attempts == 1 {
			return "", nil
		}
		return "second try", nil
	}

	counts := map[string]int{}
	text, err := RunCouncil(context.Background(), 1, time.Second, time.Second, member, leader, func(ev CouncilEvent) {
		counts[ev.Phase]++
	})
	if err != nil {
		t.Fatalf("RunCouncil: %v", err)
	}
	if attempts != 2 {
		t.Errorf("leader ran %d times, want 2", attempts)
	}
	if counts["leader_retry"] != 1 {
		t.Errorf("leader_retry events: %d, want exactly 1", counts["leader_retry"])
	}
	if text != "second try" {
		t.Errorf("text %q", text)
	}
}

func TestCouncilMemberTimeoutEnforced(t *testing.T) {
	member := func(ctx context.Context, idx int) (string, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	leader := func(ctx context.Context, prompt string) (string, error) { return "done", nil }

	counts := map[string]int{}
	start := time.Now()
	_, err := RunCouncil(context.Background(), 1, 50*time.Millisecond, time.Second, member, leader, func(ev CouncilEvent) {
		counts[ev.Phase]++
	})
	if err != nil {
		t.Fatalf("RunCouncil: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("member timeout not applied")
	}
	if counts["member_error"] != 1 {
		t.Errorf("member_error events: %d, want 1", counts["member_error"])
	}
}
