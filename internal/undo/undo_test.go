package undo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

func testStack(t *testing.T, depth int) *Stack {
	t.Helper()
	return NewStack(store.NewMemoryStore(), store.Scope{UserID: "u1", AgentID: "a1"}, depth)
}

// recordingInverse collects inverse executions.
type recordingInverse struct {
	calls []string
	fail  bool
}

func (r *recordingInverse) ExecuteInverse(ctx context.Context, toolName string, params json.RawMessage) error {
	if r.fail {
		return errors.New("inverse failed")
	}
	r.calls = append(r.calls, toolName)
	return nil
}

func TestRecordAndPop(t *testing.T) {
	s := testStack(t, 0)
	ctx := context.Background()

	entry, err := s.Record(ctx, "create_note", json.RawMessage(`{"title":"N"}`), "delete_note", json.RawMessage(`{"id":"n1"}`))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !entry.Reversible() {
		t.Error("entry with an inverse reported non-reversible")
	}

	inv := &recordingInverse{}
	popped, err := s.Pop(ctx, inv)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if popped.ID != entry.ID {
		t.Error("popped a different entry")
	}
	if len(inv.calls) != 1 || inv.calls[0] != "delete_note" {
		t.Errorf("inverse calls %v", inv.calls)
	}

	// The stack is now empty.
	if _, err := s.Pop(ctx, inv); err == nil {
		t.Error("Pop on an empty stack succeeded")
	}
}

func TestPopSkipsNonReversibleEntries(t *testing.T) {
	s := testStack(t, 0)
	ctx := context.Background()

	older, _ := s.Record(ctx, "create_note", json.RawMessage(`{}`), "delete_note", json.RawMessage(`{"id":"n1"}`))
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Record(ctx, "send_email", json.RawMessage(`{}`), "", nil); err != nil {
		t.Fatalf("Record non-reversible: %v", err)
	}

	inv := &recordingInverse{}
	popped, err := s.Pop(ctx, inv)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if popped.ID != older.ID {
		t.Error("Pop did not skip the non-reversible newer entry")
	}
}

func TestPopFailedInverseKeepsEntry(t *testing.T) {
	s := testStack(t, 0)
	ctx := context.Background()

	_, _ = s.Record(ctx, "create_note", json.RawMessage(`{}`), "delete_note", json.RawMessage(`{}`))
	if _, err := s.Pop(ctx, &recordingInverse{fail: true}); err == nil {
		t.Fatal("failed inverse reported success")
	}

	entries, _ := s.List(ctx)
	if len(entries) != 1 {
		t.Error("entry removed although its inverse failed")
	}
}

func TestStackBounded(t *testing.T) {
	s := testStack(t, 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.Record(ctx, "create_note", json.RawMessage(`{}`), "delete_note", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("stack holds %d entries, bound is 3", len(entries))
	}
}

func TestPopNotFoundKind(t *testing.T) {
	s := testStack(t, 0)
	_, err := s.Pop(context.Background(), &recordingInverse{})
	if models.KindOf(err) != models.KindNotFound {
		t.Errorf("error kind %q, want not_found", models.KindOf(err))
	}
}
