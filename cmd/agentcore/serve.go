package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/config"
	"github.com/kestrelai/core/internal/crypto"
	"github.com/kestrelai/core/internal/engine"
	appexec "github.com/kestrelai/core/internal/exec"
	"github.com/kestrelai/core/internal/memory"
	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/observability"
	"github.com/kestrelai/core/internal/providers"
	"github.com/kestrelai/core/internal/runtime"
	"github.com/kestrelai/core/internal/scheduler"
	"github.com/kestrelai/core/internal/server"
	"github.com/kestrelai/core/internal/skills"
	"github.com/kestrelai/core/internal/store"
	"github.com/kestrelai/core/internal/streaming"
	"github.com/kestrelai/core/internal/tools"
	"github.com/kestrelai/core/internal/transport/telegram"
	"github.com/kestrelai/core/internal/undo"
)

// credentialSalt is a fixed per-product salt for envelope key
// derivation; the secret itself comes from the environment.
var credentialSalt = []byte("agentcore.credentials.v1")

// runServe wires the whole runtime and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	backend, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer backend.Close()

	var codec *crypto.Codec
	if cfg.Security.CredentialEncryptionKey != "" {
		key, err := crypto.KeyFromSecret([]byte(cfg.Security.CredentialEncryptionKey), credentialSalt)
		if err != nil {
			return fmt.Errorf("derive credential key: %w", err)
		}
		codec, err = crypto.NewCodec(key)
		if err != nil {
			return fmt.Errorf("init credential codec: %w", err)
		}
	}

	metrics := observability.NewMetrics(nil)
	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "agentcore",
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	openaiCfg := providers.OpenAIConfig{
		APIKey:       cfg.Providers.OpenAI.APIKey,
		BaseURL:      cfg.Providers.OpenAI.BaseURL,
		MaxRetries:   cfg.Providers.OpenAI.MaxRetries,
		RetryDelay:   cfg.Providers.OpenAI.RetryDelay,
		DefaultModel: cfg.Providers.OpenAI.DefaultModel,
	}
	switch cfg.Providers.Default {
	case "ollama":
		openaiCfg.BaseURL = cfg.Providers.Ollama.BaseURL
	case "lmstudio":
		openaiCfg.BaseURL = cfg.Providers.LMStudio.BaseURL
	}

	apiProvider, err := providers.FromConfig(cfg.Providers.Default,
		providers.AnthropicConfig{
			APIKey:       cfg.Providers.Anthropic.APIKey,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			MaxRetries:   cfg.Providers.Anthropic.MaxRetries,
			RetryDelay:   cfg.Providers.Anthropic.RetryDelay,
			DefaultModel: cfg.Providers.Anthropic.DefaultModel,
		},
		openaiCfg,
	)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	var cache *streaming.ResponseCache
	if cfg.Streaming.CacheEnabled {
		cache = streaming.NewResponseCache(cfg.Streaming.CacheTTL, cfg.Streaming.CacheMaxEntries)
	}
	dispatcher := streaming.NewDispatcher(streaming.NewRegistry(), cache)

	srv := server.New(server.Config{
		Addr:          fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		CORSOrigin:    cfg.Server.CORSOrigin,
		Dispatcher:    dispatcher,
		Provider:      apiProvider,
		ChatTimeout:   cfg.Streaming.ChatTimeout,
		MemberTimeout: cfg.Streaming.MemberTimeout,
		LeaderTimeout: cfg.Streaming.LeaderTimeout,
		Logger:        logger,
	})

	deployer := &agentDeployer{
		cfg:      cfg,
		backend:  backend,
		codec:    codec,
		provider: apiProvider,
		metrics:  metrics,
		logger:   logger,
	}
	manager := runtime.NewManager(runtime.ManagerConfig{
		DrainTimeout: 30 * time.Second,
		Workers:      []runtime.Worker{deployer.worker},
		Logger:       logger,
	})

	source := runtime.NewKeyedConfigSource(backend)
	if err := manager.AutoStartAlwaysOn(ctx, source); err != nil {
		logger.Error("auto-start failed", "error", err)
	}
	defer manager.StopAll()

	logger.Info("serving", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// agentDeployer builds the per-agent stack inside the runtime
// manager's worker slot: transport, tool registry, loop, scheduler,
// and engine, all torn down when the agent's context is cancelled.
type agentDeployer struct {
	cfg      *config.Config
	backend  store.Store
	codec    *crypto.Codec
	provider agent.Provider
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func (d *agentDeployer) worker(ctx context.Context, agentCfg *models.AgentConfig) {
	logger := d.logger.With("agent_id", agentCfg.ID)
	d.metrics.ActiveAgents.Inc()
	defer d.metrics.ActiveAgents.Dec()

	if err := d.run(ctx, agentCfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("agent runtime exited", "error", err)
	}
}

func (d *agentDeployer) run(ctx context.Context, agentCfg *models.AgentConfig, logger *slog.Logger) error {
	scope := store.Scope{UserID: agentCfg.OwnerUserID, AgentID: agentCfg.ID}

	token := agentCfg.MessagingCred
	if d.codec != nil && token != "" {
		decrypted, err := d.codec.Decrypt(token)
		if err != nil {
			return fmt.Errorf("decrypt messaging credential: %w", err)
		}
		token = decrypted
	}

	transportCfg := telegram.Config{
		Token:            token,
		BaseURL:          d.cfg.Messaging.Telegram.BaseURL,
		AuthorizedChatID: d.cfg.Messaging.Telegram.AuthorizedChatID,
		Logger:           logger,
	}
	adapter, err := telegram.NewAdapter(transportCfg)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}

	registry := agent.NewToolRegistry()
	notifier := engine.NewTransportNotifier(adapter)
	gate := agent.NewApprovalGate(agent.NewKeyedApprovalStore(d.backend), notifier, d.cfg.Security.ApprovalTimeout)

	workingMemory := memory.NewWorkingMemory(d.backend, scope)
	undoStack := undo.NewStack(d.backend, scope, 0)
	skillManager := skills.NewManager(d.backend, scope)

	err = tools.RegisterAll(registry, tools.Deps{
		Store:     d.backend,
		Scope:     scope,
		Perms:     agentCfg.Permissions,
		Transport: adapter,
		Runner: appexec.NewRunner(appexec.RunnerConfig{
			TerminalTimeout: d.cfg.Security.TerminalTimeout,
			CodeTimeout:     d.cfg.Security.CodeTimeout,
			MaxOutputBytes:  d.cfg.Security.MaxOutputBytes,
		}),
		Undo:       undoStack,
		Memory:     workingMemory,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	loopCfg := agent.DefaultLoopConfig()
	loopCfg.ApprovalGate = gate
	loop := agent.NewLoop(d.provider, registry, loopCfg)

	schedStore := scheduler.NewKeyedStore(d.backend, func(ctx context.Context) ([]store.Scope, error) {
		return []store.Scope{scope}, nil
	})

	eng, err := engine.New(engine.Config{
		Agent:     agentCfg,
		Scope:     scope,
		Loop:      loop,
		Transport: adapter,
		Skills:    skillManager,
		Memory:    workingMemory,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	schedWorker := scheduler.NewWorker(schedStore, eng, scheduler.WorkerConfig{
		PollInterval: d.cfg.Scheduler.PollInterval,
		LockDuration: d.cfg.Scheduler.LockDuration,
		Logger:       logger,
	})
	eng.SetScheduler(schedWorker)
	schedWorker.Start(ctx)
	defer schedWorker.Stop()

	return eng.Run(ctx)
}
