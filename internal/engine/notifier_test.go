package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/transport"
)

// fakeTransport records outbound traffic for notifier tests.
type fakeTransport struct {
	mu        sync.Mutex
	texts     []string
	keyboards [][][]transport.Button
}

func (f *fakeTransport) Start(ctx context.Context) (<-chan *transport.Message, error) {
	ch := make(chan *transport.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeTransport) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendKeyboard(ctx context.Context, text string, rows [][]transport.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, rows)
	return nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, nil
}

func (f *fakeTransport) Close() error { return nil }

func TestNotifierApproveViaCallback(t *testing.T) {
	ft := &fakeTransport{}
	n := NewTransportNotifier(ft)

	req := &agent.ApprovalRequest{ID: "req-1", ToolName: "run_terminal_command"}

	done := make(chan agent.ApprovalDecision, 1)
	go func() {
		decision, err := n.RequestApproval(context.Background(), req)
		if err != nil {
			t.Errorf("RequestApproval: %v", err)
		}
		done <- decision
	}()

	// Wait for the keyboard to go out, then press Approve.
	waitUntil(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.keyboards) == 1
	})
	if !n.HandleCallback("approve:req-1") {
		t.Fatal("HandleCallback did not claim the answer")
	}

	select {
	case decision := <-done:
		if decision != agent.ApprovalAllowed {
			t.Errorf("decision %q, want allowed", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("approval never resolved")
	}
}

func TestNotifierDenyViaCallback(t *testing.T) {
	n := NewTransportNotifier(&fakeTransport{})
	req := &agent.ApprovalRequest{ID: "req-2", ToolName: "send_email"}

	done := make(chan agent.ApprovalDecision, 1)
	go func() {
		decision, _ := n.RequestApproval(context.Background(), req)
		done <- decision
	}()

	waitUntil(t, func() bool { return n.HandleCallback("deny:req-2") })

	select {
	case decision := <-done:
		if decision != agent.ApprovalDenied {
			t.Errorf("decision %q, want denied", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("denial never resolved")
	}
}

func TestNotifierTimeoutDenies(t *testing.T) {
	n := NewTransportNotifier(&fakeTransport{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	decision, err := n.RequestApproval(ctx, &agent.ApprovalRequest{ID: "req-3"})
	if err == nil {
		t.Error("expected a context error on timeout")
	}
	if decision != agent.ApprovalDenied {
		t.Errorf("decision %q, want denied", decision)
	}
}

func TestNotifierIgnoresUnrelatedCallbacks(t *testing.T) {
	n := NewTransportNotifier(&fakeTransport{})
	if n.HandleCallback("approve:ghost") {
		t.Error("claimed an answer with no pending request")
	}
	if n.HandleCallback("not-an-approval") {
		t.Error("claimed malformed callback data")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
