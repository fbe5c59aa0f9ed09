package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelai/core/internal/models"
)

// ExternalToolPrefix marks dynamically registered external tools
//; they are treated as Mutating by default regardless of what
// their declaration claims.
const ExternalToolPrefix = "mcp_"

// Tool is the executable capability behind a ToolDefinition. Composition
// over inheritance: every tool is a single Executor value, never a type
// hierarchy.
type Tool interface {
	Definition() models.ToolDefinition
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// ToolRegistry holds every tool available to a turn, keyed by name, and
// validates parameters against each tool's declared JSON Schema before
// dispatch.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool. The parameter schema is compiled
// eagerly so a malformed schema fails at startup, not mid-turn.
func (r *ToolRegistry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("agent: tool definition missing name")
	}

	var compiled *jsonschema.Schema
	if len(def.ParameterSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		resource := "mem://" + def.Name + ".json"
		if err := compiler.AddResource(resource, strings.NewReader(string(def.ParameterSchema))); err != nil {
			return fmt.Errorf("agent: compile schema for %q: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("agent: compile schema for %q: %w", def.Name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = t
	if compiled != nil {
		r.schemas[def.Name] = compiled
	} else {
		delete(r.schemas, def.Name)
	}
	return nil
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every registered tool's static declaration, for
// building the provider's tool-calling schema.
func (r *ToolRegistry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}

// EffectClass resolves the side-effect class for a tool call, applying
// the external-tool-prefix default when the tool is unknown to the
// registry.
func (r *ToolRegistry) EffectClass(name string) models.SideEffectClass {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return t.Definition().SideEffectClass
	}
	if strings.HasPrefix(name, ExternalToolPrefix) {
		return models.Mutating
	}
	return models.Mutating
}

// ValidateParams checks params against the tool's compiled JSON Schema,
// when one was registered.
func (r *ToolRegistry) ValidateParams(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("agent: invalid params JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("agent: params failed schema validation: %w", err)
	}
	return nil
}

// Execute validates params then dispatches to the named tool, converting
// any execution panic or error into a {success:false} ToolResult rather
// than propagating it.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) (result *models.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = &models.ToolResult{
				CorrelationID: call.CorrelationID,
				Success:       false,
				Error:         fmt.Sprintf("tool panicked: %v", rec),
			}
			err = nil
		}
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		return &models.ToolResult{
			CorrelationID: call.CorrelationID,
			Success:       false,
			Error:         fmt.Sprintf("tool not found: %s", call.Name),
		}, nil
	}

	if verr := r.ValidateParams(call.Name, call.Params); verr != nil {
		return &models.ToolResult{
			CorrelationID: call.CorrelationID,
			Success:       false,
			Error:         verr.Error(),
		}, nil
	}

	res, execErr := tool.Execute(ctx, call.Params)
	if execErr != nil {
		return &models.ToolResult{
			CorrelationID: call.CorrelationID,
			Success:       false,
			Error:         execErr.Error(),
		}, nil
	}
	res.CorrelationID = call.CorrelationID
	return res, nil
}
