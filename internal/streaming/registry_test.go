package streaming

import (
	"context"
	"testing"
	"time"
)

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	ctx := r.Register(context.Background(), "req-1")

	if !r.Cancel("req-1") {
		t.Fatal("Cancel returned false for an active stream")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel did not abort the stream context")
	}

	if r.Cancel("req-1") {
		t.Error("Cancel returned true for an already-removed id")
	}
}

func TestRegistryReplaceAbortsPrior(t *testing.T) {
	r := NewRegistry()
	first := r.Register(context.Background(), "req-1")
	second := r.Register(context.Background(), "req-1")

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("re-registering the same id did not abort the prior stream")
	}
	if second.Err() != nil {
		t.Error("replacement stream was aborted too")
	}
}

func TestRegistryDoneRemoves(t *testing.T) {
	r := NewRegistry()
	r.Register(context.Background(), "req-1")
	r.Done("req-1")
	if r.Cancel("req-1") {
		t.Error("id still present after Done")
	}
}

func TestRegistryUnknownCancel(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("ghost") {
		t.Error("Cancel returned true for an unknown id")
	}
}
