package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/core/internal/models"
)

// Executor fires an instruction for a due task, subscription, or
// location reminder. Errors are logged but never abort the worker loop.
type Executor interface {
	Execute(ctx context.Context, ownerScope, instruction string) error
}

// Store is the persistence surface the scheduler reads and writes
// schedule state through.
type Store interface {
	DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error)
	UpdateTask(ctx context.Context, task *models.ScheduledTask) error

	DueSubscriptions(ctx context.Context, now time.Time) ([]*models.EventSubscription, error)
	UpdateSubscription(ctx context.Context, sub *models.EventSubscription) error

	LocationReminders(ctx context.Context, ownerScope string) ([]*models.LocationReminder, error)
	UpdateLocationReminder(ctx context.Context, rem *models.LocationReminder) error
}

// WorkerConfig mirrors the distributed worker-id/poll-interval/
// lock-duration shape used by distributed task
// scheduler, generalized to this engine's cron/one-shot/subscription/
// location-reminder scope.
type WorkerConfig struct {
	WorkerID     string
	PollInterval time.Duration
	LockDuration time.Duration
	Logger       *slog.Logger
}

// DefaultWorkerConfig returns conservative defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:     uuid.NewString(),
		PollInterval: 10 * time.Second,
		LockDuration: 10 * time.Minute,
	}
}

// Worker polls the store for due scheduled tasks and event
// subscriptions, fires them through Executor in `createdAt`-ordered
// tie-break order on a single tick, and flips one-shot tasks
// to disabled after they fire exactly once.
type Worker struct {
	store    Store
	executor Executor
	config   WorkerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWorker constructs a Worker. config zero-value fields fall back to
// DefaultWorkerConfig.
func NewWorker(store Store, executor Executor, config WorkerConfig) *Worker {
	defaults := DefaultWorkerConfig()
	if config.WorkerID == "" {
		config.WorkerID = defaults.WorkerID
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LockDuration <= 0 {
		config.LockDuration = defaults.LockDuration
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("component", "scheduler")
	}
	return &Worker{store: store, executor: executor, config: config}
}

// Start begins the poll loop; it returns once Stop is called or ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.config.PollInterval)
		defer ticker.Stop()

		w.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	stopped := w.stopped
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (w *Worker) tick(ctx context.Context) {
	now := time.Now()
	w.fireDueTasks(ctx, now)
	w.fireDueSubscriptions(ctx, now)
}

// taskWithCreatedAt pairs a due task with its createdAt for the
// deterministic tie-break sort.
func (w *Worker) fireDueTasks(ctx context.Context, now time.Time) {
	tasks, err := w.store.DueTasks(ctx, now, 100)
	if err != nil {
		w.config.Logger.Error("failed to list due tasks", "error", err)
		return
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	for _, task := range tasks {
		if err := w.executor.Execute(ctx, task.OwnerScope, task.Instruction); err != nil {
			w.config.Logger.Error("task execution failed", "task_id", task.ID, "error", err)
			task.LastStatus = "error"
		} else {
			task.LastStatus = "ok"
		}
		fireTime := now
		task.LastRunAt = &fireTime

		if task.OneShot {
			// Fire-at-most-once: disable immediately so the next poll
			// never re-fires it.
			task.Enabled = false
		}
		if err := w.store.UpdateTask(ctx, task); err != nil {
			w.config.Logger.Error("failed to persist task state", "task_id", task.ID, "error", err)
		}
	}
}

func (w *Worker) fireDueSubscriptions(ctx context.Context, now time.Time) {
	subs, err := w.store.DueSubscriptions(ctx, now)
	if err != nil {
		w.config.Logger.Error("failed to list due subscriptions", "error", err)
		return
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })

	for _, sub := range subs {
		if !sub.Enabled || !sub.CooldownElapsed(now) {
			continue
		}
		if err := w.executor.Execute(ctx, sub.OwnerScope, sub.Instruction); err != nil {
			w.config.Logger.Error("subscription execution failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		fireTime := now
		sub.LastFiredAt = &fireTime
		sub.FireCount++
		if err := w.store.UpdateSubscription(ctx, sub); err != nil {
			w.config.Logger.Error("failed to persist subscription state", "subscription_id", sub.ID, "error", err)
		}
	}
}

// EvaluateLocationUpdate checks every enabled location reminder owned by
// ownerScope against an inbound (lat, lon) fix, firing those within
// radius whose cooldown has elapsed.
func (w *Worker) EvaluateLocationUpdate(ctx context.Context, ownerScope string, lat, lon float64) {
	reminders, err := w.store.LocationReminders(ctx, ownerScope)
	if err != nil {
		w.config.Logger.Error("failed to list location reminders", "error", err)
		return
	}
	now := time.Now()
	for _, rem := range reminders {
		if !rem.Enabled || !rem.WithinRadius(lat, lon) {
			continue
		}
		if rem.LastTriggered != nil && now.Sub(*rem.LastTriggered) < time.Duration(rem.CooldownMins)*time.Minute {
			continue
		}
		if err := w.executor.Execute(ctx, rem.OwnerScope, rem.Message); err != nil {
			w.config.Logger.Error("location reminder execution failed", "reminder_id", rem.ID, "error", err)
			continue
		}
		fireTime := now
		rem.LastTriggered = &fireTime
		if err := w.store.UpdateLocationReminder(ctx, rem); err != nil {
			w.config.Logger.Error("failed to persist location reminder state", "reminder_id", rem.ID, "error", err)
		}
	}
}
