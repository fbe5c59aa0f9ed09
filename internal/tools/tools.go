// Package tools implements the built-in tool set: notes, lists,
// reminders and scheduled tasks, calendar events, web access, outbound
// messaging, subprocess execution, media lookup, working memory, and
// undo. Every tool is a single executor value behind a declarative
// ToolDefinition; side effects pass the per-agent permission gate
// before anything runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kestrelai/core/internal/agent"
	appexec "github.com/kestrelai/core/internal/exec"
	"github.com/kestrelai/core/internal/memory"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
	"github.com/kestrelai/core/internal/transport"
	"github.com/kestrelai/core/internal/undo"
)

// CalendarBackend is the external calendar collaborator.
type CalendarBackend interface {
	CreateEvent(ctx context.Context, event CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, id string, event CalendarEvent) error
	DeleteEvent(ctx context.Context, id string) error
}

// CalendarEvent is the payload passed to the calendar backend.
type CalendarEvent struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
}

// SearchBackend is the external web-search collaborator.
type SearchBackend interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearchResult is one web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// MediaLibrary is the external media collaborator.
type MediaLibrary interface {
	Lookup(ctx context.Context, title string) ([]MediaResult, error)
	Delete(ctx context.Context, externalID string) error
}

// MediaResult is one media-library match.
type MediaResult struct {
	Title      string `json:"title"`
	Year       int    `json:"year"`
	ExternalID string `json:"external_id"`
	Kind       string `json:"kind,omitempty"`
}

// Deps wires the collaborators the built-in tools need. Optional
// collaborators may be nil; their tools are then not registered.
type Deps struct {
	Store store.Store
	Scope store.Scope
	Perms models.Permissions

	Transport transport.Transport
	Runner    *appexec.Runner
	Calendar  CalendarBackend
	Search    SearchBackend
	Media     MediaLibrary
	Undo      *undo.Stack
	Memory    *memory.WorkingMemory

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// funcTool adapts a function to the agent.Tool interface.
type funcTool struct {
	def models.ToolDefinition
	fn  func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

func (t *funcTool) Definition() models.ToolDefinition { return t.def }

func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return t.fn(ctx, params)
}

// okResult marshals v as a successful tool result.
func okResult(v any) (*models.ToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal result: %w", err)
	}
	return &models.ToolResult{Success: true, Result: string(raw)}, nil
}

// errResult converts err into a failed tool result, preserving the
// taxonomy kind in the error string.
func errResult(err error) (*models.ToolResult, error) {
	return &models.ToolResult{Success: false, Error: models.Redact(err.Error())}, nil
}

// requirePermission gates a tool category; the returned error result
// tells the model which capability is disabled so it can suggest
// alternatives.
func requirePermission(perms models.Permissions, category string) error {
	enabled, known := perms.Category(category)
	if !known {
		return models.NewError(models.KindInternal, fmt.Sprintf("unknown permission category %q", category), nil)
	}
	if !enabled {
		return models.NewError(models.KindPermissionDenied, fmt.Sprintf("the %s capability is disabled for this agent", category), nil)
	}
	return nil
}

// RegisterAll registers every built-in tool whose collaborators are
// wired in deps.
func RegisterAll(reg *agent.ToolRegistry, deps Deps) error {
	var toolSets [][]agent.Tool

	toolSets = append(toolSets,
		noteTools(deps),
		listTools(deps),
		scheduleTools(deps),
		expenseTools(deps),
	)
	if deps.Memory != nil {
		toolSets = append(toolSets, memoryTools(deps))
	}
	if deps.Undo != nil {
		toolSets = append(toolSets, undoTools(deps, reg))
	}
	if deps.Calendar != nil {
		toolSets = append(toolSets, calendarTools(deps))
	}
	if deps.Search != nil || deps.HTTPClient != nil {
		toolSets = append(toolSets, webTools(deps))
	}
	if deps.Transport != nil {
		toolSets = append(toolSets, messagingTools(deps))
	}
	if deps.Runner != nil {
		toolSets = append(toolSets, terminalTools(deps))
	}
	if deps.Media != nil {
		toolSets = append(toolSets, mediaTools(deps))
	}

	for _, set := range toolSets {
		for _, t := range set {
			if err := reg.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}
