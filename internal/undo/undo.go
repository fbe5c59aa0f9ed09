// Package undo keeps a bounded per-agent stack of reversible mutating
// tool calls and replays their inverse actions on request.
package undo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// DefaultMaxDepth bounds the stack length; pushing past it evicts the
// oldest entry.
const DefaultMaxDepth = 20

// InverseExecutor replays a recorded inverse action: a tool name plus
// params describing how to undo the original effect.
type InverseExecutor interface {
	ExecuteInverse(ctx context.Context, toolName string, params json.RawMessage) error
}

// inverseAction is the persisted shape of UndoEntry.InverseAction.
type inverseAction struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Stack is the bounded undo stack for one agent scope.
type Stack struct {
	backend  store.Store
	scope    store.Scope
	maxDepth int
}

// NewStack binds an undo stack to one agent scope. maxDepth <= 0 uses
// DefaultMaxDepth.
func NewStack(backend store.Store, scope store.Scope, maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Stack{backend: backend, scope: scope, maxDepth: maxDepth}
}

// Record pushes an entry for a mutating tool call. inverseTool may be
// empty for non-reversible effects; those entries still appear in
// history but cannot be undone.
func (s *Stack) Record(ctx context.Context, originalTool string, originalParams json.RawMessage, inverseTool string, inverseParams json.RawMessage) (*models.UndoEntry, error) {
	entry := &models.UndoEntry{
		ID:             uuid.NewString(),
		OriginalTool:   originalTool,
		OriginalParams: originalParams,
		Timestamp:      time.Now().UTC(),
	}
	if inverseTool != "" {
		raw, err := json.Marshal(inverseAction{Tool: inverseTool, Params: inverseParams})
		if err != nil {
			return nil, fmt.Errorf("undo: marshal inverse action: %w", err)
		}
		entry.InverseAction = raw
	}

	key := store.ItemKey(s.scope, store.CollectionUndo, entry.ID)
	if err := store.PutJSON(ctx, s.backend, key, entry); err != nil {
		return nil, fmt.Errorf("undo: store entry: %w", err)
	}

	if err := s.trim(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns the stack newest-first.
func (s *Stack) List(ctx context.Context) ([]models.UndoEntry, error) {
	entries, err := store.ScanPrefixValues[models.UndoEntry](ctx, s.backend, store.CollectionPrefix(s.scope, store.CollectionUndo), 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	return entries, nil
}

// Pop undoes the most recent reversible entry via exec and removes it
// from the stack. Returns the undone entry, or NotFound when the stack
// holds no reversible entry.
func (s *Stack) Pop(ctx context.Context, exec InverseExecutor) (*models.UndoEntry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entry := &entries[i]
		if !entry.Reversible() {
			continue
		}

		var action inverseAction
		if err := json.Unmarshal(entry.InverseAction, &action); err != nil {
			return nil, fmt.Errorf("undo: decode inverse action: %w", err)
		}
		if err := exec.ExecuteInverse(ctx, action.Tool, action.Params); err != nil {
			return nil, fmt.Errorf("undo: execute inverse: %w", err)
		}
		if err := s.backend.Delete(ctx, store.ItemKey(s.scope, store.CollectionUndo, entry.ID)); err != nil {
			return nil, fmt.Errorf("undo: remove entry: %w", err)
		}
		return entry, nil
	}

	return nil, models.NewError(models.KindNotFound, "nothing to undo", store.ErrNotFound)
}

// trim evicts oldest entries past maxDepth.
func (s *Stack) trim(ctx context.Context) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	for i := s.maxDepth; i < len(entries); i++ {
		if err := s.backend.Delete(ctx, store.ItemKey(s.scope, store.CollectionUndo, entries[i].ID)); err != nil {
			return fmt.Errorf("undo: trim stack: %w", err)
		}
	}
	return nil
}
