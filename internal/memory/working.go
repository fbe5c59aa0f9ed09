// Package memory implements the per-agent working memory: labeled
// scratchpad entries whose snapshot is injected into each turn's
// composed request.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// WorkingMemory stores labeled entries for one agent scope. Labels are
// unique: a second write to the same label overwrites the first.
type WorkingMemory struct {
	backend store.Store
	scope   store.Scope
}

// NewWorkingMemory binds a working memory view to one agent scope.
func NewWorkingMemory(backend store.Store, scope store.Scope) *WorkingMemory {
	return &WorkingMemory{backend: backend, scope: scope}
}

// Set writes content under label, overwriting any existing entry with
// the same label and preserving its id.
func (m *WorkingMemory) Set(ctx context.Context, label, content string) (*models.WorkingMemoryEntry, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, models.NewError(models.KindValidation, "working memory label is required", nil)
	}

	entry := &models.WorkingMemoryEntry{
		ID:        uuid.NewString(),
		Label:     label,
		Content:   content,
		UpdatedAt: time.Now().UTC(),
	}
	if existing, err := m.Get(ctx, label); err == nil {
		entry.ID = existing.ID
	}

	key := store.ItemKey(m.scope, store.CollectionWorkingMemory, labelKey(label))
	if err := store.PutJSON(ctx, m.backend, key, entry); err != nil {
		return nil, fmt.Errorf("memory: store entry: %w", err)
	}
	return entry, nil
}

// Get returns the entry stored under label.
func (m *WorkingMemory) Get(ctx context.Context, label string) (*models.WorkingMemoryEntry, error) {
	var entry models.WorkingMemoryEntry
	key := store.ItemKey(m.scope, store.CollectionWorkingMemory, labelKey(label))
	if err := store.GetJSON(ctx, m.backend, key, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes the entry stored under label.
func (m *WorkingMemory) Delete(ctx context.Context, label string) error {
	return m.backend.Delete(ctx, store.ItemKey(m.scope, store.CollectionWorkingMemory, labelKey(label)))
}

// List returns every entry, sorted by label.
func (m *WorkingMemory) List(ctx context.Context) ([]models.WorkingMemoryEntry, error) {
	entries, err := store.ScanPrefixValues[models.WorkingMemoryEntry](ctx, m.backend, store.CollectionPrefix(m.scope, store.CollectionWorkingMemory), 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries, nil
}

// Snapshot renders every entry as a labeled block for injection into
// the system prompt. Returns "" when memory is empty.
func (m *WorkingMemory) Snapshot(ctx context.Context) (string, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s]\n%s\n", e.Label, e.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// labelKey normalizes a label into a stable item key so lookups are
// case-insensitive.
func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
