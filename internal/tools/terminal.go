package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// auditEntry records one terminal or code execution for the audit
// trail, whether it ran or was rejected upstream.
type auditEntry struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Command   string    `json:"command"`
	Reason    string    `json:"reason,omitempty"`
	ExitCode  int       `json:"exit_code"`
	TimedOut  bool      `json:"timed_out"`
	Timestamp time.Time `json:"timestamp"`
}

const auditCollection store.Collection = "audit"

func writeAudit(ctx context.Context, deps Deps, entry auditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	key := store.ItemKey(deps.Scope, auditCollection, entry.ID)
	if err := store.PutJSON(ctx, deps.Store, key, entry); err != nil {
		deps.logger().Warn("failed to persist audit entry", "tool", entry.Tool, "error", err)
	}
}

func terminalTools(deps Deps) []agent.Tool {
	return []agent.Tool{
		&funcTool{
			def: models.ToolDefinition{
				Name:        "run_terminal_command",
				Description: "Run a shell command in a sandboxed subprocess with a bounded wall clock.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"command": {"type": "string"},
						"reason": {"type": "string"}
					},
					"required": ["command"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "terminal"); err != nil {
					return errResult(err)
				}
				var in struct {
					Command string `json:"command"`
					Reason  string `json:"reason"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				result, err := deps.Runner.RunShell(ctx, in.Command)
				entry := auditEntry{Tool: "run_terminal_command", Command: in.Command, Reason: in.Reason}
				if result != nil {
					entry.ExitCode = result.ExitCode
					entry.TimedOut = result.TimedOut
				}
				writeAudit(ctx, deps, entry)

				if err != nil {
					return errResult(err)
				}
				return okResult(map[string]any{
					"stdout":    result.Stdout,
					"stderr":    result.Stderr,
					"exit_code": result.ExitCode,
					"truncated": result.Truncated,
				})
			},
		},

		&funcTool{
			def: models.ToolDefinition{
				Name:        "run_code",
				Description: "Run a code snippet with the named interpreter in a sandboxed subprocess.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"interpreter": {"type": "string"},
						"code": {"type": "string"}
					},
					"required": ["interpreter", "code"]
				}`),
				SideEffectClass: models.Mutating,
				Critical:        true,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "code_execution"); err != nil {
					return errResult(err)
				}
				var in struct {
					Interpreter string `json:"interpreter"`
					Code        string `json:"code"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				result, err := deps.Runner.RunCode(ctx, in.Interpreter, in.Code)
				entry := auditEntry{Tool: "run_code", Command: in.Interpreter}
				if result != nil {
					entry.ExitCode = result.ExitCode
					entry.TimedOut = result.TimedOut
				}
				writeAudit(ctx, deps, entry)

				if err != nil {
					return errResult(err)
				}
				return okResult(map[string]any{
					"stdout":    result.Stdout,
					"stderr":    result.Stderr,
					"exit_code": result.ExitCode,
					"truncated": result.Truncated,
				})
			},
		},
	}
}
