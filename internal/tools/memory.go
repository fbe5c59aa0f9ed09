package tools

import (
	"context"
	"encoding/json"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

func memoryTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "remember",
				Description: "Store a fact in working memory under a label. Writing the same label again overwrites it.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"label": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["label", "content"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				var in struct {
					Label   string `json:"label"`
					Content string `json:"content"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				entry, err := deps.Memory.Set(ctx, in.Label, in.Content)
				if err != nil {
					return errResult(err)
				}
				return okResult(entry)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "recall",
				Description: "Fetch a working-memory entry by label, or list all entries when no label is given.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"label": {"type": "string"}
					}
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				var in struct {
					Label string `json:"label"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				if in.Label == "" {
					entries, err := deps.Memory.List(ctx)
					if err != nil {
						return errResult(models.NewError(models.KindInternal, "list memory", err))
					}
					return okResult(map[string]any{"count": len(entries), "entries": entries})
				}

				entry, err := deps.Memory.Get(ctx, in.Label)
				if err != nil {
					if err == store.ErrNotFound {
						return errResult(models.NewError(models.KindNotFound, "no entry with that label", err))
					}
					return errResult(models.NewError(models.KindInternal, "get memory", err))
				}
				return okResult(entry)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "forget",
				Description: "Remove a working-memory entry by label.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"label": {"type": "string"}
					},
					"required": ["label"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				var in struct {
					Label string `json:"label"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if err := deps.Memory.Delete(ctx, in.Label); err != nil {
					return errResult(models.NewError(models.KindInternal, "delete memory", err))
				}
				return okResult(map[string]string{"forgot": in.Label})
			},
		},
	}
}
