package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

func messagingTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "send_telegram_message",
				Description: "Send a message to the owner's chat.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"message": {"type": "string"}
					},
					"required": ["message"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				var in struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if strings.TrimSpace(in.Message) == "" {
					return errResult(models.NewError(models.KindValidation, "message is required", nil))
				}
				if err := deps.Transport.SendText(ctx, in.Message); err != nil {
					return errResult(models.NewError(models.KindExternal, "send message", err))
				}
				return okResult(map[string]string{"status": "sent"})
			},
		},
	}
}
