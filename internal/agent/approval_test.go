package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kestrelai/core/internal/models"
)

func TestStaticValidate(t *testing.T) {
	tests := []struct {
		name    string
		command string
		blocked bool
	}{
		{"filesystem destruction", "rm -rf / --no-preserve-root", true},
		{"fork bomb", ":(){ :|:&};:", true},
		{"mkfs", "mkfs.ext4 /dev/sda1", true},
		{"privilege escalation", "sudo apt install thing", true},
		{"device overwrite", "cat zeros > /dev/sda", true},
		{"harmless listing", "ls -la /tmp/work", false},
		{"scoped removal", "rm -rf /tmp/work", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StaticValidate(tt.command)
			if tt.blocked && err == nil {
				t.Errorf("expected %q to be blocked", tt.command)
			}
			if !tt.blocked && err != nil {
				t.Errorf("expected %q to pass, got %v", tt.command, err)
			}
		})
	}
}

// scriptedNotifier answers every approval request with a fixed decision.
type scriptedNotifier struct {
	decision ApprovalDecision
	asked    int
}

func (n *scriptedNotifier) RequestApproval(ctx context.Context, req *ApprovalRequest) (ApprovalDecision, error) {
	n.asked++
	return n.decision, nil
}

func TestApprovalGateDenied(t *testing.T) {
	store := NewMemoryApprovalStore()
	notifier := &scriptedNotifier{decision: ApprovalDenied}
	gate := NewApprovalGate(store, notifier, time.Second)

	call := models.ToolCall{
		CorrelationID: "r0",
		Name:          "run_terminal_command",
		Params:        json.RawMessage(`{"command":"rm -rf /tmp/work","reason":"cleanup"}`),
	}

	taxErr, err := gate.Check(context.Background(), "u1:a1", call, "rm -rf /tmp/work")
	if err != nil {
		t.Fatalf("gate errored: %v", err)
	}
	if taxErr == nil {
		t.Fatal("expected a denial")
	}
	if taxErr.Kind != models.KindApprovalDenied {
		t.Errorf("kind %q, want approval_denied", taxErr.Kind)
	}
	if notifier.asked != 1 {
		t.Errorf("notifier asked %d times, want 1", notifier.asked)
	}

	// The audit row records the denial.
	req, _ := store.Get(context.Background(), "r0-approval")
	if req == nil {
		t.Fatal("approval request not persisted")
	}
	if req.Decision != ApprovalDenied {
		t.Errorf("persisted decision %q, want denied", req.Decision)
	}
}

func TestApprovalGateAllowed(t *testing.T) {
	gate := NewApprovalGate(NewMemoryApprovalStore(), &scriptedNotifier{decision: ApprovalAllowed}, time.Second)
	call := models.ToolCall{CorrelationID: "r1", Name: "send_email", Params: json.RawMessage(`{}`)}

	taxErr, err := gate.Check(context.Background(), "u1:a1", call, "")
	if err != nil {
		t.Fatalf("gate errored: %v", err)
	}
	if taxErr != nil {
		t.Errorf("expected approval, got %v", taxErr)
	}
}

func TestApprovalGateBlockListPreemptsNotifier(t *testing.T) {
	notifier := &scriptedNotifier{decision: ApprovalAllowed}
	gate := NewApprovalGate(nil, notifier, time.Second)
	call := models.ToolCall{CorrelationID: "r2", Name: "run_terminal_command"}

	taxErr, err := gate.Check(context.Background(), "u1:a1", call, "sudo rm -rf /")
	if err != nil {
		t.Fatalf("gate errored: %v", err)
	}
	if taxErr == nil || taxErr.Kind != models.KindPermissionDenied {
		t.Fatalf("expected static rejection, got %v", taxErr)
	}
	if notifier.asked != 0 {
		t.Error("notifier consulted for a statically blocked command")
	}
}

func TestApprovalGateTimeoutDeniesByDefault(t *testing.T) {
	// No notifier wired: the gate falls through to deny.
	gate := NewApprovalGate(nil, nil, 50*time.Millisecond)
	call := models.ToolCall{CorrelationID: "r3", Name: "delete_media", Params: json.RawMessage(`{}`)}

	taxErr, err := gate.Check(context.Background(), "u1:a1", call, "")
	if err != nil {
		t.Fatalf("gate errored: %v", err)
	}
	if taxErr == nil {
		t.Fatal("expected denial")
	}
}

func TestIsCritical(t *testing.T) {
	for _, name := range []string{"run_terminal_command", "run_code", "send_email", "delete_media", "set_home_automation_state"} {
		if !IsCritical(name) {
			t.Errorf("%s not classified critical", name)
		}
	}
	for _, name := range []string{"search_notes", "web_search", "get_list"} {
		if IsCritical(name) {
			t.Errorf("%s classified critical", name)
		}
	}
}
