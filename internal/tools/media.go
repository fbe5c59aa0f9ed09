package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

func mediaTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "search_media",
				Description: "Look up a movie or series in the media library by title.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"title": {"type": "string"}
					},
					"required": ["title"]
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "media"); err != nil {
					return errResult(err)
				}
				var in struct {
					Title string `json:"title"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				results, err := deps.Media.Lookup(ctx, in.Title)
				if err != nil {
					return errResult(models.NewError(models.KindExternal, "media library", err))
				}
				switch len(results) {
				case 0:
					return errResult(models.NewError(models.KindNotFound, fmt.Sprintf("no media matching %q", in.Title), nil))
				case 1:
					return okResult(results[0])
				default:
					// Same title across different years must never be
					// auto-selected; hand the candidates back so the
					// model can ask the user.
					candidates := make([]models.Candidate, 0, len(results))
					for _, r := range results {
						candidates = append(candidates, models.Candidate{
							Label: fmt.Sprintf("%s (%d)", r.Title, r.Year),
							ID:    r.ExternalID,
						})
					}
					return errResult(models.NewAmbiguous(fmt.Sprintf("%d titles match %q", len(results), in.Title), candidates))
				}
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "delete_media",
				Description: "Delete an item from the media library by its external id.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"external_id": {"type": "string"}
					},
					"required": ["external_id"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "media"); err != nil {
					return errResult(err)
				}
				var in struct {
					ExternalID string `json:"external_id"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.ExternalID == "" {
					return errResult(models.NewError(models.KindValidation, "external_id is required", nil))
				}
				if err := deps.Media.Delete(ctx, in.ExternalID); err != nil {
					return errResult(models.NewError(models.KindExternal, "media library", err))
				}
				return okResult(map[string]string{"deleted": in.ExternalID})
			},
		},
	}
}
