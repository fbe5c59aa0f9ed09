package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// Note is one persisted note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func noteTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "create_note",
				Description: "Create a note with a title and optional content and tags.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"title": {"type": "string"},
						"content": {"type": "string"},
						"tags": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["title"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					Title   string   `json:"title"`
					Content string   `json:"content"`
					Tags    []string `json:"tags"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if strings.TrimSpace(in.Title) == "" {
					return errResult(models.NewError(models.KindValidation, "title is required", nil))
				}

				now := time.Now().UTC()
				note := Note{
					ID:        uuid.NewString(),
					Title:     in.Title,
					Content:   in.Content,
					Tags:      in.Tags,
					CreatedAt: now,
					UpdatedAt: now,
				}
				key := store.ItemKey(deps.Scope, store.CollectionNotes, note.ID)
				if err := store.PutJSON(ctx, deps.Store, key, note); err != nil {
					return errResult(models.NewError(models.KindInternal, "store note", err))
				}

				if deps.Undo != nil {
					inverse, _ := json.Marshal(map[string]string{"id": note.ID})
					_, _ = deps.Undo.Record(ctx, "create_note", params, "delete_note", inverse)
				}
				return okResult(note)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "search_notes",
				Description: "Search notes by text in the title, content, or tags.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"query": {"type": "string"}
					},
					"required": ["query"]
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					Query string `json:"query"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				notes, err := listNotes(ctx, deps)
				if err != nil {
					return errResult(models.NewError(models.KindInternal, "list notes", err))
				}

				q := strings.ToLower(in.Query)
				var matched []Note
				for _, n := range notes {
					if strings.Contains(strings.ToLower(n.Title), q) ||
						strings.Contains(strings.ToLower(n.Content), q) ||
						tagsContain(n.Tags, q) {
						matched = append(matched, n)
					}
				}
				return okResult(map[string]any{"count": len(matched), "notes": matched})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "delete_note",
				Description: "Delete a note by id, or by title when the id is unknown.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"}
					}
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				note, err := resolveNote(ctx, deps, in.ID, in.Title)
				if err != nil {
					return errResult(err)
				}

				key := store.ItemKey(deps.Scope, store.CollectionNotes, note.ID)
				if err := deps.Store.Delete(ctx, key); err != nil {
					return errResult(models.NewError(models.KindInternal, "delete note", err))
				}

				if deps.Undo != nil {
					// The inverse restores the full note, id included.
					inverse, _ := json.Marshal(note)
					_, _ = deps.Undo.Record(ctx, "delete_note", params, "restore_note", inverse)
				}
				return okResult(map[string]string{"deleted": note.ID})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "restore_note",
				Description: "Restore a previously deleted note from its recorded state.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["id", "title"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var note Note
				if err := json.Unmarshal(params, &note); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				key := store.ItemKey(deps.Scope, store.CollectionNotes, note.ID)
				if err := store.PutJSON(ctx, deps.Store, key, note); err != nil {
					return errResult(models.NewError(models.KindInternal, "restore note", err))
				}
				return okResult(map[string]string{"restored": note.ID})
			},
		},
	}
}

func listNotes(ctx context.Context, deps Deps) ([]Note, error) {
	notes, err := store.ScanPrefixValues[Note](ctx, deps.Store, store.CollectionPrefix(deps.Scope, store.CollectionNotes), 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.Before(notes[j].CreatedAt) })
	return notes, nil
}

// resolveNote finds a note by id, or by title substring when id is
// empty. Multiple title matches return an Ambiguous error listing the
// candidates instead of guessing.
func resolveNote(ctx context.Context, deps Deps, id, title string) (*Note, error) {
	if id != "" {
		var note Note
		key := store.ItemKey(deps.Scope, store.CollectionNotes, id)
		if err := store.GetJSON(ctx, deps.Store, key, &note); err != nil {
			return nil, models.NewError(models.KindNotFound, fmt.Sprintf("note %s not found", id), err)
		}
		return &note, nil
	}
	if title == "" {
		return nil, models.NewError(models.KindValidation, "id or title is required", nil)
	}

	notes, err := listNotes(ctx, deps)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "list notes", err)
	}

	q := strings.ToLower(title)
	var matched []Note
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.Title), q) {
			matched = append(matched, n)
		}
	}
	switch len(matched) {
	case 0:
		return nil, models.NewError(models.KindNotFound, fmt.Sprintf("no note matching %q", title), nil)
	case 1:
		return &matched[0], nil
	default:
		candidates := make([]models.Candidate, 0, len(matched))
		for _, n := range matched {
			candidates = append(candidates, models.Candidate{Label: n.Title, ID: n.ID})
		}
		return nil, models.NewAmbiguous(fmt.Sprintf("%d notes match %q", len(matched), title), candidates)
	}
}

func tagsContain(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
