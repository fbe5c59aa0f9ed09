// Package engine connects one deployed agent's message transport to
// its conversation loop: inbound messages open turns, turns run one at
// a time per agent, and scheduler fires are injected as synthesized
// user stimuli.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/memory"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/scheduler"
	"github.com/kestrelai/core/internal/skills"
	"github.com/kestrelai/core/internal/store"
	"github.com/kestrelai/core/internal/transport"
)

// queueDepth bounds messages waiting behind an in-flight turn; on
// overflow the oldest queued message is dropped with a warning.
const queueDepth = 32

// maxHistoryTurns bounds the rolling session history handed to the
// provider.
const maxHistoryTurns = 40

// Config wires one Engine.
type Config struct {
	Agent     *models.AgentConfig
	Scope     store.Scope
	Loop      *agent.Loop
	Transport transport.Transport
	Scheduler *scheduler.Worker
	Skills    *skills.Manager
	Memory    *memory.WorkingMemory
	Notifier  *TransportNotifier
	Logger    *slog.Logger
}

// Engine drives conversation turns for one agent.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	history []agent.CompletionMessage
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Agent == nil || cfg.Loop == nil {
		return nil, fmt.Errorf("engine: agent config and loop are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine", "agent_id", cfg.Agent.ID),
	}, nil
}

// SetScheduler attaches the scheduler worker after construction; the
// worker's executor is the engine itself, so the two are wired in two
// steps.
func (e *Engine) SetScheduler(w *scheduler.Worker) {
	e.mu.Lock()
	e.cfg.Scheduler = w
	e.mu.Unlock()
}

func (e *Engine) schedulerWorker() *scheduler.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Scheduler
}

// Run consumes the transport's inbound channel until ctx is cancelled.
// Messages arriving while a turn is in flight queue FIFO behind it.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Transport == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	inbound, err := e.cfg.Transport.Start(ctx)
	if err != nil {
		return fmt.Errorf("engine: start transport: %w", err)
	}

	queue := make(chan *transport.Message, queueDepth)
	go func() {
		for msg := range inbound {
			select {
			case queue <- msg:
			default:
				// Drop the oldest queued message to make room.
				select {
				case dropped := <-queue:
					e.logger.Warn("message queue overflow, dropping oldest", "message_id", dropped.ID)
				default:
				}
				queue <- msg
			}
		}
		close(queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-queue:
			if !ok {
				return nil
			}
			e.handleMessage(ctx, msg)
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, msg *transport.Message) {
	switch msg.Kind {
	case transport.KindCallback:
		if e.cfg.Notifier != nil && e.cfg.Notifier.HandleCallback(msg.CallbackData) {
			return
		}
		// Unclaimed callbacks open a normal turn so the model can
		// react to the button press.
		e.runAndReply(ctx, msg.CallbackData, true)

	case transport.KindLocation:
		if w := e.schedulerWorker(); w != nil {
			w.EvaluateLocationUpdate(ctx, e.cfg.Scope.String(), msg.Lat, msg.Lon)
		}

	case transport.KindFile:
		stim := fmt.Sprintf("[FILE] %s (file id %s)", msg.FileName, msg.FileID)
		if msg.Text != "" {
			stim += "\n" + msg.Text
		}
		e.runAndReply(ctx, stim, true)

	default:
		e.runAndReply(ctx, msg.Text, true)
	}
}

// Execute is the scheduler's fire hook: the instruction becomes a
// synthesized user stimulus and the turn's output, buffered rather
// than streamed, is delivered through the transport.
func (e *Engine) Execute(ctx context.Context, ownerScope, instruction string) error {
	outcome := e.runTurn(ctx, "[REMINDER] "+instruction)
	if outcome.Err != nil {
		return outcome.Err
	}
	if outcome.FinalText != "" && e.cfg.Transport != nil {
		return e.cfg.Transport.SendText(ctx, outcome.FinalText)
	}
	return nil
}

func (e *Engine) runAndReply(ctx context.Context, stimulus string, reply bool) {
	outcome := e.runTurn(ctx, stimulus)
	if outcome.Err != nil {
		e.logger.Error("turn failed", "error", outcome.Err)
		if reply && e.cfg.Transport != nil {
			_ = e.cfg.Transport.SendText(ctx, "Something went wrong: "+models.Redact(outcome.Err.Error()))
		}
		return
	}
	if reply && outcome.FinalText != "" && e.cfg.Transport != nil {
		if err := e.cfg.Transport.SendText(ctx, outcome.FinalText); err != nil {
			e.logger.Error("failed to send reply", "error", err)
		}
	}
}

// runTurn composes the turn's context injection, runs the loop, and
// appends the exchange to the rolling session history.
func (e *Engine) runTurn(ctx context.Context, stimulus string) *agent.TurnOutcome {
	inj := e.composeInjection(ctx, stimulus)

	e.mu.Lock()
	history := append([]agent.CompletionMessage{}, e.history...)
	e.mu.Unlock()

	outcome := e.cfg.Loop.Run(ctx, e.cfg.Scope.String(), e.cfg.Agent.Model, e.cfg.Agent.SystemPrompt, inj, history, agent.Stimulus{Content: stimulus})

	if outcome.Err == nil && !outcome.Cancelled {
		e.mu.Lock()
		e.history = append(e.history,
			agent.CompletionMessage{Role: models.RoleUser, Content: stimulus},
			agent.CompletionMessage{Role: models.RoleAssistant, Content: outcome.FinalText},
		)
		if len(e.history) > maxHistoryTurns {
			e.history = e.history[len(e.history)-maxHistoryTurns:]
		}
		e.mu.Unlock()
	}
	return outcome
}

func (e *Engine) composeInjection(ctx context.Context, stimulus string) agent.ContextInjection {
	var inj agent.ContextInjection

	if e.cfg.Skills != nil {
		matched, err := e.cfg.Skills.Match(ctx, stimulus)
		if err != nil {
			e.logger.Warn("skill matching failed", "error", err)
		} else {
			inj.SkillInstructions = matched
		}
	}
	if e.cfg.Memory != nil {
		snapshot, err := e.cfg.Memory.Snapshot(ctx)
		if err != nil {
			e.logger.Warn("working memory snapshot failed", "error", err)
		} else {
			inj.WorkingMemorySnapshot = snapshot
		}
	}
	return inj
}
