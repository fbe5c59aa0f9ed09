package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// List is one persisted named list (shopping, todos, ...).
type List struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Items     []ListItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ListItem is one entry in a List.
type ListItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

func listTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "add_list_item",
				Description: "Add an item to a named list, creating the list when absent.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"list": {"type": "string"},
						"text": {"type": "string"}
					},
					"required": ["list", "text"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					List string `json:"list"`
					Text string `json:"text"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if strings.TrimSpace(in.List) == "" || strings.TrimSpace(in.Text) == "" {
					return errResult(models.NewError(models.KindValidation, "list and text are required", nil))
				}

				list, err := loadList(ctx, deps, in.List)
				if err != nil {
					now := time.Now().UTC()
					list = &List{ID: listID(in.List), Name: in.List, CreatedAt: now}
				}

				item := ListItem{ID: uuid.NewString(), Text: in.Text}
				list.Items = append(list.Items, item)
				list.UpdatedAt = time.Now().UTC()
				if err := saveList(ctx, deps, list); err != nil {
					return errResult(models.NewError(models.KindInternal, "store list", err))
				}

				if deps.Undo != nil {
					inverse, _ := json.Marshal(map[string]string{"list": in.List, "item_id": item.ID})
					_, _ = deps.Undo.Record(ctx, "add_list_item", params, "remove_list_item", inverse)
				}
				return okResult(map[string]any{"list": list.Name, "item": item})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "remove_list_item",
				Description: "Remove an item from a named list, by item id or by text.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"list": {"type": "string"},
						"item_id": {"type": "string"},
						"text": {"type": "string"}
					},
					"required": ["list"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					List   string `json:"list"`
					ItemID string `json:"item_id"`
					Text   string `json:"text"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				list, err := loadList(ctx, deps, in.List)
				if err != nil {
					return errResult(models.NewError(models.KindNotFound, fmt.Sprintf("list %q not found", in.List), err))
				}

				idx := -1
				var matches []int
				for i, item := range list.Items {
					if in.ItemID != "" && item.ID == in.ItemID {
						idx = i
						break
					}
					if in.ItemID == "" && in.Text != "" && strings.Contains(strings.ToLower(item.Text), strings.ToLower(in.Text)) {
						matches = append(matches, i)
					}
				}
				if idx < 0 {
					switch len(matches) {
					case 0:
						return errResult(models.NewError(models.KindNotFound, "no matching item", nil))
					case 1:
						idx = matches[0]
					default:
						candidates := make([]models.Candidate, 0, len(matches))
						for _, i := range matches {
							candidates = append(candidates, models.Candidate{Label: list.Items[i].Text, ID: list.Items[i].ID})
						}
						return errResult(models.NewAmbiguous(fmt.Sprintf("%d items match %q", len(matches), in.Text), candidates))
					}
				}

				removed := list.Items[idx]
				list.Items = append(list.Items[:idx], list.Items[idx+1:]...)
				list.UpdatedAt = time.Now().UTC()
				if err := saveList(ctx, deps, list); err != nil {
					return errResult(models.NewError(models.KindInternal, "store list", err))
				}
				return okResult(map[string]any{"removed": removed})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "get_list",
				Description: "Fetch a named list with its items.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"list": {"type": "string"}
					},
					"required": ["list"]
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "notes"); err != nil {
					return errResult(err)
				}
				var in struct {
					List string `json:"list"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				list, err := loadList(ctx, deps, in.List)
				if err != nil {
					return errResult(models.NewError(models.KindNotFound, fmt.Sprintf("list %q not found", in.List), err))
				}
				return okResult(list)
			},
		},
	}
}

// listID derives a stable item key from the list's name so lookups by
// name need no scan.
func listID(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func loadList(ctx context.Context, deps Deps, name string) (*List, error) {
	var list List
	key := store.ItemKey(deps.Scope, store.CollectionLists, listID(name))
	if err := store.GetJSON(ctx, deps.Store, key, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func saveList(ctx context.Context, deps Deps, list *List) error {
	key := store.ItemKey(deps.Scope, store.CollectionLists, listID(list.Name))
	return store.PutJSON(ctx, deps.Store, key, list)
}
