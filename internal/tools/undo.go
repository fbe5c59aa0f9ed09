package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

// registryInverseExecutor replays inverse actions through the tool
// registry itself, so an inverse is just another registered tool call.
type registryInverseExecutor struct {
	registry *agent.ToolRegistry
}

func (e *registryInverseExecutor) ExecuteInverse(ctx context.Context, toolName string, params json.RawMessage) error {
	result, err := e.registry.Execute(ctx, models.ToolCall{
		CorrelationID: "undo-" + toolName,
		Name:          toolName,
		Params:        params,
	})
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		return fmt.Errorf("inverse %s failed: %s", toolName, result.Error)
	}
	return nil
}

func undoTools(deps Deps, reg *agent.ToolRegistry) []agent.Tool {
	exec := &registryInverseExecutor{registry: reg}

	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "undo_last",
				Description: "Undo the most recent reversible action.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {}
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				entry, err := deps.Undo.Pop(ctx, exec)
				if err != nil {
					return errResult(err)
				}
				return okResult(map[string]string{"undone": entry.OriginalTool, "entry_id": entry.ID})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "list_undo_history",
				Description: "List the recent undo history, newest first.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {}
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				entries, err := deps.Undo.List(ctx)
				if err != nil {
					return errResult(models.NewError(models.KindInternal, "list undo history", err))
				}
				return okResult(map[string]any{"count": len(entries), "entries": entries})
			},
		},
	}
}
