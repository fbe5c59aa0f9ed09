// Package skills manages agent-scoped skill documents: named
// instruction blocks with keyword triggers, injected into a turn's
// composed request when the stimulus matches.
package skills

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

// Skill is one persisted skill document.
type Skill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	// Triggers are lowercase keywords; the skill's instructions are
	// injected when the stimulus contains any of them.
	Triggers     []string  `json:"triggers"`
	Instructions string    `json:"instructions"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manager stores and matches skills for one agent scope.
type Manager struct {
	backend store.Store
	scope   store.Scope
}

// NewManager binds a skill manager to one agent scope.
func NewManager(backend store.Store, scope store.Scope) *Manager {
	return &Manager{backend: backend, scope: scope}
}

// Save persists skill, assigning an id when absent.
func (m *Manager) Save(ctx context.Context, skill *Skill) error {
	if strings.TrimSpace(skill.Name) == "" {
		return models.NewError(models.KindValidation, "skill name is required", nil)
	}
	if skill.ID == "" {
		skill.ID = uuid.NewString()
	}
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = time.Now().UTC()
	}
	key := store.ItemKey(m.scope, store.CollectionSkills, skill.ID)
	if err := store.PutJSON(ctx, m.backend, key, skill); err != nil {
		return fmt.Errorf("skills: store skill: %w", err)
	}
	return nil
}

// Delete removes a skill by id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.backend.Delete(ctx, store.ItemKey(m.scope, store.CollectionSkills, id))
}

// List returns every skill, sorted by name.
func (m *Manager) List(ctx context.Context) ([]Skill, error) {
	entries, err := store.ScanPrefixValues[Skill](ctx, m.backend, store.CollectionPrefix(m.scope, store.CollectionSkills), 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Match returns the instructions of every enabled skill whose trigger
// keywords appear in stimulus, in name order.
func (m *Manager) Match(ctx context.Context, stimulus string) ([]string, error) {
	skills, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(stimulus)
	var matched []string
	for _, s := range skills {
		if !s.Enabled {
			continue
		}
		for _, trigger := range s.Triggers {
			if trigger != "" && strings.Contains(lowered, strings.ToLower(trigger)) {
				matched = append(matched, s.Instructions)
				break
			}
		}
	}
	return matched, nil
}
