package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelai/core/internal/models"
)

// fakeStore is an in-memory scheduler.Store for worker tests.
type fakeStore struct {
	mu        sync.Mutex
	tasks     []*models.ScheduledTask
	subs      []*models.EventSubscription
	reminders []*models.LocationReminder
}

func (s *fakeStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.ScheduledTask
	for _, task := range s.tasks {
		isDue, err := Due(task, now)
		if err != nil {
			continue
		}
		if isDue {
			copied := *task
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *fakeStore) UpdateTask(ctx context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks {
		if existing.ID == task.ID {
			copied := *task
			s.tasks[i] = &copied
		}
	}
	return nil
}

func (s *fakeStore) DueSubscriptions(ctx context.Context, now time.Time) ([]*models.EventSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.EventSubscription
	for _, sub := range s.subs {
		if sub.Enabled && sub.Type == models.SubscriptionPoll && sub.CooldownElapsed(now) {
			copied := *sub
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *fakeStore) UpdateSubscription(ctx context.Context, sub *models.EventSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing.ID == sub.ID {
			copied := *sub
			s.subs[i] = &copied
		}
	}
	return nil
}

func (s *fakeStore) LocationReminders(ctx context.Context, ownerScope string) ([]*models.LocationReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LocationReminder, len(s.reminders))
	for i, r := range s.reminders {
		copied := *r
		out[i] = &copied
	}
	return out, nil
}

func (s *fakeStore) UpdateLocationReminder(ctx context.Context, rem *models.LocationReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.reminders {
		if existing.ID == rem.ID {
			copied := *rem
			s.reminders[i] = &copied
		}
	}
	return nil
}

// recordingExecutor collects fired instructions.
type recordingExecutor struct {
	mu    sync.Mutex
	fires []string
}

func (e *recordingExecutor) Execute(ctx context.Context, ownerScope, instruction string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fires = append(e.fires, instruction)
	return nil
}

func (e *recordingExecutor) fired() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.fires...)
}

func TestOneShotFiresExactlyOnceAndDisables(t *testing.T) {
	trigger := time.Now().Add(-time.Second)
	task := &models.ScheduledTask{
		ID:          "t1",
		OwnerScope:  "u1:a1",
		Name:        "R",
		Instruction: "ping",
		Enabled:     true,
		OneShot:     true,
		TriggerAt:   &trigger,
		CreatedAt:   time.Now().Add(-time.Minute),
	}
	store := &fakeStore{tasks: []*models.ScheduledTask{task}}
	exec := &recordingExecutor{}
	w := NewWorker(store, exec, WorkerConfig{PollInterval: time.Hour})

	w.tick(context.Background())
	w.tick(context.Background())

	fires := exec.fired()
	if len(fires) != 1 || fires[0] != "ping" {
		t.Fatalf("fires = %v, want exactly one %q", fires, "ping")
	}

	store.mu.Lock()
	persisted := store.tasks[0]
	store.mu.Unlock()
	if persisted.Enabled {
		t.Error("one-shot task still enabled after firing")
	}
	if persisted.LastRunAt == nil || persisted.LastStatus != "ok" {
		t.Errorf("fire state not persisted: lastRunAt=%v lastStatus=%q", persisted.LastRunAt, persisted.LastStatus)
	}
}

func TestFireOrderByCreatedAt(t *testing.T) {
	now := time.Now()
	trigger := now.Add(-time.Second)
	mkTask := func(id, instruction string, createdAt time.Time) *models.ScheduledTask {
		return &models.ScheduledTask{
			ID:          id,
			OwnerScope:  "u1:a1",
			Instruction: instruction,
			Enabled:     true,
			OneShot:     true,
			TriggerAt:   &trigger,
			CreatedAt:   createdAt,
		}
	}
	store := &fakeStore{tasks: []*models.ScheduledTask{
		mkTask("b", "second", now.Add(-time.Minute)),
		mkTask("a", "first", now.Add(-2*time.Minute)),
		mkTask("c", "third", now.Add(-30*time.Second)),
	}}
	exec := &recordingExecutor{}
	w := NewWorker(store, exec, WorkerConfig{PollInterval: time.Hour})

	w.tick(context.Background())

	fires := exec.fired()
	want := []string{"first", "second", "third"}
	if len(fires) != 3 {
		t.Fatalf("fires = %v", fires)
	}
	for i := range want {
		if fires[i] != want[i] {
			t.Errorf("fire %d = %q, want %q", i, fires[i], want[i])
		}
	}
}

func TestSubscriptionCooldown(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	store := &fakeStore{subs: []*models.EventSubscription{
		{
			ID:              "s1",
			OwnerScope:      "u1:a1",
			Type:            models.SubscriptionPoll,
			Instruction:     "poll me",
			CooldownMinutes: 10,
			LastFiredAt:     &recent,
			Enabled:         true,
			CreatedAt:       time.Now().Add(-time.Hour),
		},
		{
			ID:              "s2",
			OwnerScope:      "u1:a1",
			Type:            models.SubscriptionPoll,
			Instruction:     "ready",
			CooldownMinutes: 10,
			Enabled:         true,
			CreatedAt:       time.Now().Add(-time.Hour),
		},
	}}
	exec := &recordingExecutor{}
	w := NewWorker(store, exec, WorkerConfig{PollInterval: time.Hour})

	w.tick(context.Background())

	fires := exec.fired()
	if len(fires) != 1 || fires[0] != "ready" {
		t.Fatalf("fires = %v, want only the cooled-down subscription", fires)
	}

	store.mu.Lock()
	fired := store.subs[1]
	store.mu.Unlock()
	if fired.FireCount != 1 || fired.LastFiredAt == nil {
		t.Errorf("fire state not persisted: %+v", fired)
	}
}

func TestLocationReminderWithinRadius(t *testing.T) {
	store := &fakeStore{reminders: []*models.LocationReminder{
		{
			ID:           "near",
			OwnerScope:   "u1:a1",
			Message:      "you are here",
			Lat:          40.4168,
			Lon:          -3.7038,
			RadiusMeters: 500,
			CooldownMins: 10,
			Enabled:      true,
		},
		{
			ID:           "far",
			OwnerScope:   "u1:a1",
			Message:      "elsewhere",
			Lat:          41.3874,
			Lon:          2.1686,
			RadiusMeters: 500,
			CooldownMins: 10,
			Enabled:      true,
		},
	}}
	exec := &recordingExecutor{}
	w := NewWorker(store, exec, WorkerConfig{PollInterval: time.Hour})

	// A fix a few meters from the first reminder's center.
	w.EvaluateLocationUpdate(context.Background(), "u1:a1", 40.4169, -3.7039)

	fires := exec.fired()
	if len(fires) != 1 || fires[0] != "you are here" {
		t.Fatalf("fires = %v, want only the nearby reminder", fires)
	}

	// A second fix immediately after is inside the cooldown.
	w.EvaluateLocationUpdate(context.Background(), "u1:a1", 40.4169, -3.7039)
	if len(exec.fired()) != 1 {
		t.Error("reminder fired again inside its cooldown")
	}
}

func TestWorkerStartStop(t *testing.T) {
	store := &fakeStore{}
	exec := &recordingExecutor{}
	w := NewWorker(store, exec, WorkerConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	w.Stop()
}
