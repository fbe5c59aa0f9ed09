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

func scheduleTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "set_reminder",
				Description: "Set a one-shot reminder that fires once at an absolute UTC instant.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"trigger_at": {"type": "string", "description": "RFC 3339 instant"},
						"message": {"type": "string"}
					},
					"required": ["name", "trigger_at", "message"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "scheduler"); err != nil {
					return errResult(err)
				}
				var in struct {
					Name      string `json:"name"`
					TriggerAt string `json:"trigger_at"`
					Message   string `json:"message"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				triggerAt, err := time.Parse(time.RFC3339, in.TriggerAt)
				if err != nil {
					return errResult(models.NewError(models.KindValidation, "trigger_at must be RFC 3339", err))
				}

				task := models.ScheduledTask{
					ID:          uuid.NewString(),
					OwnerScope:  deps.Scope.String(),
					Name:        in.Name,
					Instruction: in.Message,
					Enabled:     true,
					OneShot:     true,
					TriggerAt:   &triggerAt,
					CreatedAt:   time.Now().UTC(),
				}
				if err := task.Validate(); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid reminder", err))
				}
				key := store.ItemKey(deps.Scope, store.CollectionSchedules, task.ID)
				if err := store.PutJSON(ctx, deps.Store, key, task); err != nil {
					return errResult(models.NewError(models.KindInternal, "store reminder", err))
				}

				if deps.Undo != nil {
					inverse, _ := json.Marshal(map[string]string{"id": task.ID})
					_, _ = deps.Undo.Record(ctx, "set_reminder", params, "cancel_reminder", inverse)
				}
				return okResult(task)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "cancel_reminder",
				Description: "Cancel a scheduled reminder or task by id, or by name when the id is unknown.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"name": {"type": "string"}
					}
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "scheduler"); err != nil {
					return errResult(err)
				}
				var in struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				task, err := resolveTask(ctx, deps, in.ID, in.Name)
				if err != nil {
					return errResult(err)
				}
				key := store.ItemKey(deps.Scope, store.CollectionSchedules, task.ID)
				if err := deps.Store.Delete(ctx, key); err != nil {
					return errResult(models.NewError(models.KindInternal, "delete task", err))
				}
				return okResult(map[string]string{"cancelled": task.ID})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "schedule_task",
				Description: "Create a recurring task from a 5-field cron expression, evaluated in the given timezone.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"cron": {"type": "string"},
						"instruction": {"type": "string"},
						"timezone": {"type": "string"}
					},
					"required": ["name", "cron", "instruction"]
				}`),
				SideEffectClass: models.Mutating,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "scheduler"); err != nil {
					return errResult(err)
				}
				var in struct {
					Name        string `json:"name"`
					Cron        string `json:"cron"`
					Instruction string `json:"instruction"`
					Timezone    string `json:"timezone"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.Timezone != "" {
					if _, err := time.LoadLocation(in.Timezone); err != nil {
						return errResult(models.NewError(models.KindValidation, fmt.Sprintf("unknown timezone %q", in.Timezone), err))
					}
				}

				task := models.ScheduledTask{
					ID:             uuid.NewString(),
					OwnerScope:     deps.Scope.String(),
					Name:           in.Name,
					CronExpression: in.Cron,
					Instruction:    in.Instruction,
					Timezone:       in.Timezone,
					Enabled:        true,
					CreatedAt:      time.Now().UTC(),
				}
				if err := task.Validate(); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid task", err))
				}
				key := store.ItemKey(deps.Scope, store.CollectionSchedules, task.ID)
				if err := store.PutJSON(ctx, deps.Store, key, task); err != nil {
					return errResult(models.NewError(models.KindInternal, "store task", err))
				}
				return okResult(task)
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "list_scheduled_tasks",
				Description: "List every reminder and recurring task for this agent.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {}
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "scheduler"); err != nil {
					return errResult(err)
				}
				tasks, err := listTasks(ctx, deps)
				if err != nil {
					return errResult(models.NewError(models.KindInternal, "list tasks", err))
				}
				return okResult(map[string]any{"count": len(tasks), "tasks": tasks})
			},
		},
	}
}

func listTasks(ctx context.Context, deps Deps) ([]models.ScheduledTask, error) {
	tasks, err := store.ScanPrefixValues[models.ScheduledTask](ctx, deps.Store, store.CollectionPrefix(deps.Scope, store.CollectionSchedules), 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func resolveTask(ctx context.Context, deps Deps, id, name string) (*models.ScheduledTask, error) {
	if id != "" {
		var task models.ScheduledTask
		key := store.ItemKey(deps.Scope, store.CollectionSchedules, id)
		if err := store.GetJSON(ctx, deps.Store, key, &task); err != nil {
			return nil, models.NewError(models.KindNotFound, fmt.Sprintf("task %s not found", id), err)
		}
		return &task, nil
	}
	if name == "" {
		return nil, models.NewError(models.KindValidation, "id or name is required", nil)
	}

	tasks, err := listTasks(ctx, deps)
	if err != nil {
		return nil, models.NewError(models.KindInternal, "list tasks", err)
	}
	q := strings.ToLower(name)
	var matched []models.ScheduledTask
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Name), q) {
			matched = append(matched, t)
		}
	}
	switch len(matched) {
	case 0:
		return nil, models.NewError(models.KindNotFound, fmt.Sprintf("no task matching %q", name), nil)
	case 1:
		return &matched[0], nil
	default:
		candidates := make([]models.Candidate, 0, len(matched))
		for _, t := range matched {
			candidates = append(candidates, models.Candidate{Label: t.Name, ID: t.ID})
		}
		return nil, models.NewAmbiguous(fmt.Sprintf("%d tasks match %q", len(matched), name), candidates)
	}
}
