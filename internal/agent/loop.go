package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelai/core/internal/models"
)

// LoopConfig bounds a single turn.
type LoopConfig struct {
	MaxRounds      int
	MaxWallTime    time.Duration
	ExecutorConfig *ExecutorConfig
	ApprovalGate   *ApprovalGate
	DedupeCache    *DedupeCache

	// IdempotencyKeyFields maps a tool name to the params fields that
	// feed its idempotency fingerprint. Tools absent
	// from this map are never deduplicated even if their
	// ToolDefinition.IdempotencyKeyed is set — callers must register the
	// field set explicitly.
	IdempotencyKeyFields map[string][]string
}

// DefaultLoopConfig returns conservative defaults.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxRounds:      10,
		ExecutorConfig: DefaultExecutorConfig(),
		DedupeCache:    NewDedupeCache(IdempotencyWindow, 10_000),
		IdempotencyKeyFields: map[string][]string{
			"create_calendar_event": {"calendar_backend", "title", "start", "end", "description", "location", "all_day"},
		},
	}
}

func sanitizeLoopConfig(c *LoopConfig) *LoopConfig {
	if c == nil {
		return DefaultLoopConfig()
	}
	cfg := *c
	defaults := DefaultLoopConfig()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.DedupeCache == nil {
		cfg.DedupeCache = defaults.DedupeCache
	}
	if cfg.IdempotencyKeyFields == nil {
		cfg.IdempotencyKeyFields = defaults.IdempotencyKeyFields
	}
	return &cfg
}

// Stimulus is the event that opens a turn: a human message, a scheduler
// fire, a webhook fire, or a location-proximity event.
type Stimulus struct {
	Content string
}

// ContextInjection carries the dynamically composed material added to
// the system prompt for this turn: skill instructions matched by
// triggers, a working memory snapshot, and host-mount hints.
type ContextInjection struct {
	SkillInstructions   []string
	WorkingMemorySnapshot string
	HostMountHints      []string
}

// TurnOutcome is the final state returned by Loop.Run.
type TurnOutcome struct {
	FinalText    string
	Rounds       int
	ToolResults  []models.ToolResult
	Cancelled    bool
	Err          error
}

// Loop drives one conversation turn end-to-end: compose request, stream
// the provider, partition and dispatch any tool calls (native or
// fallback-parsed), gate critical calls through approval, suppress
// duplicate idempotent effects, and feed results back until the model
// stops calling tools or the round budget is exhausted.
type Loop struct {
	provider Provider
	registry *ToolRegistry
	executor *Executor
	config   *LoopConfig
}

// NewLoop constructs a Loop. config may be nil for defaults.
func NewLoop(provider Provider, registry *ToolRegistry, config *LoopConfig) *Loop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, config.ExecutorConfig),
		config:   config,
	}
}

// composeSystemPrompt concatenates the base prompt with the turn's
// dynamic context injection, in a fixed order: skill
// instructions, then working memory, then host-mount hints.
func composeSystemPrompt(base string, inj ContextInjection) string {
	out := base
	for _, instr := range inj.SkillInstructions {
		out += "\n\n" + instr
	}
	if inj.WorkingMemorySnapshot != "" {
		out += "\n\n# Working memory\n" + inj.WorkingMemorySnapshot
	}
	for _, hint := range inj.HostMountHints {
		out += "\n\n" + hint
	}
	return out
}

// Run executes the turn loop for one (ownerScope, stimulus) pair,
// starting from history and looping provider↔tools until the model
// emits a tool-call-free response or the round budget is exhausted.
func (l *Loop) Run(ctx context.Context, ownerScope, model, systemPrompt string, inj ContextInjection, history []CompletionMessage, stim Stimulus) *TurnOutcome {
	if l.config.MaxWallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
		defer cancel()
	}

	messages := append(append([]CompletionMessage{}, history...), CompletionMessage{
		Role:    models.RoleUser,
		Content: stim.Content,
	})
	fullSystem := composeSystemPrompt(systemPrompt, inj)

	outcome := &TurnOutcome{}

	for round := 0; round < l.config.MaxRounds; round++ {
		outcome.Rounds = round + 1

		// The last round withholds tools, forcing a text-only reply.
		req := &CompletionRequest{
			Model:    model,
			System:   fullSystem,
			Messages: messages,
		}
		if round < l.config.MaxRounds-1 {
			req.Tools = l.registry.Definitions()
		}

		text, nativeCalls, err := l.streamOnce(ctx, req)
		if err != nil {
			outcome.Err = err
			if ctx.Err() != nil {
				outcome.Cancelled = true
			}
			return outcome
		}

		calls := nativeCalls
		if len(calls) == 0 {
			// Native path produced no tool calls; only then consult the
			// fallback parser.
			calls = ParseFallbackCalls(text)
			if len(calls) > 0 {
				text = StripToolCallEnvelopes(text)
			}
		}

		if len(calls) == 0 {
			outcome.FinalText = text
			return outcome
		}

		for i := range calls {
			calls[i].CorrelationID = fmt.Sprintf("%d:%d", round, calls[i].Index)
		}

		results := l.executeRound(ctx, ownerScope, calls)
		outcome.ToolResults = append(outcome.ToolResults, derefResults(results)...)

		messages = append(messages, CompletionMessage{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		messages = append(messages, CompletionMessage{
			Role:        models.RoleTool,
			ToolResults: derefResults(results),
		})

		if ctx.Err() != nil {
			outcome.Cancelled = true
			return outcome
		}
	}

	return outcome
}

// streamOnce drains a single provider stream into accumulated text and
// any native tool calls it emitted.
func (l *Loop) streamOnce(ctx context.Context, req *CompletionRequest) (string, []models.ToolCall, error) {
	ch, err := l.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text string
	var calls []models.ToolCall
	for chunk := range ch {
		switch chunk.Kind {
		case ChunkToken:
			text += chunk.Text
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				tc := *chunk.ToolCall
				tc.Index = len(calls)
				calls = append(calls, tc)
			}
		case ChunkError:
			return text, calls, chunk.Err
		case ChunkDone:
		}
	}
	return text, calls, nil
}

// executeRound applies the approval gate and idempotency dedupe around
// the executor's partition-and-merge dispatch, preserving the original
// call order.
func (l *Loop) executeRound(ctx context.Context, ownerScope string, calls []models.ToolCall) []*models.ToolResult {
	preempted := make([]*models.ToolResult, len(calls))

	for i, call := range calls {
		if taxErr, fp := l.checkApproval(ctx, ownerScope, call); taxErr != nil {
			preempted[i] = &models.ToolResult{
				CorrelationID: call.CorrelationID,
				Success:       false,
				Error:         taxErr.Error(),
			}
		} else if fp != "" && l.config.DedupeCache.CheckAndMark(fp, time.Now()) {
			preempted[i] = &models.ToolResult{
				CorrelationID: call.CorrelationID,
				Success:       true,
				Result:        `{"status":"already done"}`,
			}
		}
	}

	var toRun []models.ToolCall
	var toRunIdx []int
	for i, call := range calls {
		if preempted[i] == nil {
			toRun = append(toRun, call)
			toRunIdx = append(toRunIdx, i)
		}
	}

	results := make([]*models.ToolResult, len(calls))
	copy(results, preempted)

	if len(toRun) > 0 {
		runResults := l.executor.ExecuteBatch(ctx, toRun)
		for j, idx := range toRunIdx {
			results[idx] = runResults[j]
		}
	}

	return results
}

// checkApproval runs the two-stage gate for call when it belongs to the
// critical subset, and returns the idempotency fingerprint to check when
// the tool has a registered key-field set.
func (l *Loop) checkApproval(ctx context.Context, ownerScope string, call models.ToolCall) (*models.TaxonomyError, string) {
	var taxErr *models.TaxonomyError
	if l.config.ApprovalGate != nil && l.isCritical(call.Name) {
		var params map[string]any
		_ = json.Unmarshal(call.Params, &params)
		cmdText := extractCommandText(params)
		if e, _ := l.config.ApprovalGate.Check(ctx, ownerScope, call, cmdText); e != nil {
			taxErr = e
		}
	}

	var fingerprint string
	if fields, ok := l.config.IdempotencyKeyFields[call.Name]; ok {
		var params map[string]any
		_ = json.Unmarshal(call.Params, &params)
		values := make(map[string]string, len(fields))
		for _, f := range fields {
			if v, ok := params[f]; ok {
				values[f] = fmt.Sprintf("%v", v)
			}
		}
		fingerprint = Fingerprint(ownerScope, call.Name, values)
	}

	return taxErr, fingerprint
}

// isCritical reports whether a call must pass the approval gate:
// either its name is in the fixed critical subset, or its registered
// definition declares itself critical.
func (l *Loop) isCritical(name string) bool {
	if IsCritical(name) {
		return true
	}
	if t, ok := l.registry.Get(name); ok {
		return t.Definition().Critical
	}
	return false
}

func derefResults(results []*models.ToolResult) []models.ToolResult {
	out := make([]models.ToolResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
