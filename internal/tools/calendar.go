package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

func calendarTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "create_calendar_event",
				Description: "Create a calendar event. Duplicate creations with identical details inside a short window are suppressed.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"calendar_backend": {"type": "string"},
						"title": {"type": "string"},
						"start": {"type": "string"},
						"end": {"type": "string"},
						"description": {"type": "string"},
						"location": {"type": "string"},
						"all_day": {"type": "boolean"}
					},
					"required": ["title", "start", "end"]
				}`),
				SideEffectClass:  models.Mutating,
				IdempotencyKeyed: true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "calendar"); err != nil {
					return errResult(err)
				}
				var event CalendarEvent
				if err := json.Unmarshal(params, &event); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if event.Title == "" || event.Start == "" || event.End == "" {
					return errResult(models.NewError(models.KindValidation, "title, start, and end are required", nil))
				}

				id, err := deps.Calendar.CreateEvent(ctx, event)
				if err != nil {
					return errResult(models.NewError(models.KindExternal, "calendar backend", err))
				}

				if deps.Undo != nil {
					inverse, _ := json.Marshal(map[string]string{"event_id": id})
					_, _ = deps.Undo.Record(ctx, "create_calendar_event", params, "delete_calendar_event", inverse)
				}
				return okResult(map[string]string{"event_id": id, "title": event.Title})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "update_calendar_event",
				Description: "Update an existing calendar event by id.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_id": {"type": "string"},
						"title": {"type": "string"},
						"start": {"type": "string"},
						"end": {"type": "string"},
						"description": {"type": "string"},
						"location": {"type": "string"}
					},
					"required": ["event_id"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "calendar"); err != nil {
					return errResult(err)
				}
				var in struct {
					EventID string `json:"event_id"`
					CalendarEvent
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.EventID == "" {
					return errResult(models.NewError(models.KindValidation, "event_id is required", nil))
				}
				if err := deps.Calendar.UpdateEvent(ctx, in.EventID, in.CalendarEvent); err != nil {
					return errResult(models.NewError(models.KindExternal, "calendar backend", err))
				}
				return okResult(map[string]string{"updated": in.EventID})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "delete_calendar_event",
				Description: "Delete a calendar event by id.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"event_id": {"type": "string"}
					},
					"required": ["event_id"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "calendar"); err != nil {
					return errResult(err)
				}
				var in struct {
					EventID string `json:"event_id"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.EventID == "" {
					return errResult(models.NewError(models.KindValidation, "event_id is required", nil))
				}
				if err := deps.Calendar.DeleteEvent(ctx, in.EventID); err != nil {
					return errResult(models.NewError(models.KindExternal, fmt.Sprintf("delete event %s", in.EventID), err))
				}
				return okResult(map[string]string{"deleted": in.EventID})
			},
		},
	}
}
