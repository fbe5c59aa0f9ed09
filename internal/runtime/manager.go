// Package runtime owns the in-memory set of deployed agents and their
// per-agent background workers (message poll, scheduler tick,
// event-subscription poll, on-demand turn executor).
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelai/core/internal/models"
)

// Worker is one per-agent background task (inbound-message poll,
// scheduler tick, event-subscription poll). It must observe ctx at
// every suspension point and return once ctx is cancelled.
type Worker func(ctx context.Context, agent *models.AgentConfig)

// AgentRuntime is the live state of one deployed agent.
type AgentRuntime struct {
	Config *models.AgentConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of running agents keyed by agentId.
type Manager struct {
	mu      sync.RWMutex
	running map[string]*AgentRuntime

	workers    []Worker
	drainTimeout time.Duration
	logger     *slog.Logger
}

// ManagerConfig configures the Manager's drain window and worker set.
type ManagerConfig struct {
	// DrainTimeout bounds how long stopAll waits for cooperative worker
	// shutdown before giving up.
	DrainTimeout time.Duration
	Workers      []Worker
	Logger       *slog.Logger
}

// NewManager constructs a Manager. A nil logger falls back to slog.Default.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		running:      make(map[string]*AgentRuntime),
		workers:      cfg.Workers,
		drainTimeout: cfg.DrainTimeout,
		logger:       logger,
	}
}

// Deploy starts every registered worker for config, under its own
// cancellation token. Re-deploying an already-running agent stops the
// existing runtime first.
func (m *Manager) Deploy(ctx context.Context, config *models.AgentConfig, userID string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("runtime: invalid agent config: %w", err)
	}
	if config.AlwaysOn && config.MessagingCred == "" {
		return models.ErrAlwaysOnMissingCredentials
	}

	m.Stop(config.ID)

	runCtx, cancel := context.WithCancel(ctx)
	rt := &AgentRuntime{Config: config, cancel: cancel, done: make(chan struct{})}

	var wg sync.WaitGroup
	for _, w := range m.workers {
		wg.Add(1)
		worker := w
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("agent worker panicked", "agent_id", config.ID, "panic", r)
				}
			}()
			worker(runCtx, config)
		}()
	}
	go func() {
		wg.Wait()
		close(rt.done)
	}()

	m.mu.Lock()
	m.running[config.ID] = rt
	m.mu.Unlock()

	m.logger.Info("agent deployed", "agent_id", config.ID, "user_id", userID, "always_on", config.AlwaysOn)
	return nil
}

// Stop aborts all workers for agentID and waits for them to return
// cooperatively, up to the manager's drain window. Returns false if the
// agent was not running.
func (m *Manager) Stop(agentID string) bool {
	m.mu.Lock()
	rt, ok := m.running[agentID]
	if ok {
		delete(m.running, agentID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	rt.cancel()
	select {
	case <-rt.done:
	case <-time.After(m.drainTimeout):
		m.logger.Warn("agent did not drain within timeout", "agent_id", agentID)
	}
	return true
}

// StopAll aborts every running agent's workers in parallel and waits for
// the whole set to drain within the bounded drain window.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			m.Stop(agentID)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.drainTimeout):
		m.logger.Warn("stopAll did not fully drain within timeout")
	}
}

// ListRunning returns the agentIds of every currently deployed agent.
func (m *Manager) ListRunning() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// ConfigSource supplies the set of agent configs across all users, for
// AutoStartAlwaysOn at process startup.
type ConfigSource interface {
	ListAllAgentConfigs(ctx context.Context) ([]*models.AgentConfig, error)
}

// AutoStartAlwaysOn deploys every alwaysOn agent across all users on
// process startup, isolating failures per agent.
func (m *Manager) AutoStartAlwaysOn(ctx context.Context, source ConfigSource) error {
	configs, err := source.ListAllAgentConfigs(ctx)
	if err != nil {
		return fmt.Errorf("runtime: list agent configs: %w", err)
	}
	for _, cfg := range configs {
		if !cfg.AlwaysOn {
			continue
		}
		if err := m.Deploy(ctx, cfg, cfg.OwnerUserID); err != nil {
			m.logger.Error("failed to auto-start always-on agent", "agent_id", cfg.ID, "error", err)
		}
	}
	return nil
}
