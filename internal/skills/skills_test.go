package skills

import (
	"context"
	"testing"

	"github.com/kestrelai/core/internal/store"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(store.NewMemoryStore(), store.Scope{UserID: "u1", AgentID: "a1"})
}

func TestSaveAssignsID(t *testing.T) {
	m := testManager(t)
	skill := &Skill{Name: "weather", Triggers: []string{"weather"}, Instructions: "use metric units", Enabled: true}
	if err := m.Save(context.Background(), skill); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if skill.ID == "" || skill.CreatedAt.IsZero() {
		t.Error("id or created_at not assigned")
	}
}

func TestSaveRejectsUnnamedSkill(t *testing.T) {
	m := testManager(t)
	if err := m.Save(context.Background(), &Skill{Instructions: "x"}); err == nil {
		t.Error("unnamed skill accepted")
	}
}

func TestMatch(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	seed := []*Skill{
		{Name: "weather", Triggers: []string{"weather", "forecast"}, Instructions: "weather instructions", Enabled: true},
		{Name: "cooking", Triggers: []string{"recipe"}, Instructions: "cooking instructions", Enabled: true},
		{Name: "disabled", Triggers: []string{"weather"}, Instructions: "must not appear", Enabled: false},
	}
	for _, s := range seed {
		if err := m.Save(ctx, s); err != nil {
			t.Fatalf("Save %s: %v", s.Name, err)
		}
	}

	t.Run("keyword match is case-insensitive", func(t *testing.T) {
		got, err := m.Match(ctx, "What's the WEATHER tomorrow?")
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if len(got) != 1 || got[0] != "weather instructions" {
			t.Errorf("matched %v", got)
		}
	})

	t.Run("no trigger no match", func(t *testing.T) {
		got, err := m.Match(ctx, "tell me a joke")
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("matched %v, want none", got)
		}
	})

	t.Run("multiple skills can match one stimulus", func(t *testing.T) {
		got, err := m.Match(ctx, "a recipe for a rainy forecast day")
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("matched %d skills, want 2", len(got))
		}
	})
}

func TestDelete(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	skill := &Skill{Name: "temp", Triggers: []string{"t"}, Instructions: "x", Enabled: true}
	_ = m.Save(ctx, skill)
	if err := m.Delete(ctx, skill.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, _ := m.List(ctx)
	if len(all) != 0 {
		t.Errorf("skills remaining: %d", len(all))
	}
}
