package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelai/core/internal/models"
)

func blockingWorker(started, stopped *atomic.Int32) Worker {
	return func(ctx context.Context, agent *models.AgentConfig) {
		started.Add(1)
		<-ctx.Done()
		stopped.Add(1)
	}
}

func validConfig(id string) *models.AgentConfig {
	return &models.AgentConfig{
		ID:            id,
		OwnerUserID:   "u1",
		Name:          "agent " + id,
		Provider:      "anthropic",
		Model:         "m",
		MessagingCred: "token",
	}
}

func TestDeployAndStop(t *testing.T) {
	var started, stopped atomic.Int32
	m := NewManager(ManagerConfig{
		DrainTimeout: time.Second,
		Workers:      []Worker{blockingWorker(&started, &stopped)},
	})

	if err := m.Deploy(context.Background(), validConfig("a1"), "u1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	waitFor(t, func() bool { return started.Load() == 1 })
	if ids := m.ListRunning(); len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("ListRunning = %v", ids)
	}

	if !m.Stop("a1") {
		t.Fatal("Stop returned false for a running agent")
	}
	if stopped.Load() != 1 {
		t.Error("worker did not observe cancellation")
	}
	if len(m.ListRunning()) != 0 {
		t.Error("agent still listed after Stop")
	}
	if m.Stop("a1") {
		t.Error("Stop returned true for an already-stopped agent")
	}
}

func TestRedeployReplacesExistingRuntime(t *testing.T) {
	var started, stopped atomic.Int32
	m := NewManager(ManagerConfig{
		DrainTimeout: time.Second,
		Workers:      []Worker{blockingWorker(&started, &stopped)},
	})

	cfg := validConfig("a1")
	if err := m.Deploy(context.Background(), cfg, "u1"); err != nil {
		t.Fatalf("first Deploy: %v", err)
	}
	waitFor(t, func() bool { return started.Load() == 1 })

	if err := m.Deploy(context.Background(), cfg, "u1"); err != nil {
		t.Fatalf("re-Deploy: %v", err)
	}
	waitFor(t, func() bool { return started.Load() == 2 })

	if stopped.Load() != 1 {
		t.Error("prior runtime not stopped on redeploy")
	}
	if ids := m.ListRunning(); len(ids) != 1 {
		t.Errorf("ListRunning = %v, want a single runtime", ids)
	}

	m.StopAll()
}

func TestDeployRejectsAlwaysOnWithoutCredentials(t *testing.T) {
	m := NewManager(ManagerConfig{DrainTimeout: time.Second})
	cfg := validConfig("a1")
	cfg.AlwaysOn = true
	cfg.MessagingCred = ""

	if err := m.Deploy(context.Background(), cfg, "u1"); err == nil {
		t.Fatal("always-on agent without credentials deployed")
	}
}

func TestStopAllDrainsEveryAgent(t *testing.T) {
	var started, stopped atomic.Int32
	m := NewManager(ManagerConfig{
		DrainTimeout: time.Second,
		Workers:      []Worker{blockingWorker(&started, &stopped)},
	})

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := m.Deploy(context.Background(), validConfig(id), "u1"); err != nil {
			t.Fatalf("Deploy %s: %v", id, err)
		}
	}
	waitFor(t, func() bool { return started.Load() == 3 })

	m.StopAll()

	if stopped.Load() != 3 {
		t.Errorf("stopped %d workers, want 3", stopped.Load())
	}
	if len(m.ListRunning()) != 0 {
		t.Error("agents still listed after StopAll")
	}
}

// staticSource serves a fixed config set.
type staticSource struct {
	configs []*models.AgentConfig
}

func (s *staticSource) ListAllAgentConfigs(ctx context.Context) ([]*models.AgentConfig, error) {
	return s.configs, nil
}

func TestAutoStartAlwaysOnIsolatesFailures(t *testing.T) {
	var started, stopped atomic.Int32
	m := NewManager(ManagerConfig{
		DrainTimeout: time.Second,
		Workers:      []Worker{blockingWorker(&started, &stopped)},
	})

	good := validConfig("good")
	good.AlwaysOn = true
	broken := validConfig("broken")
	broken.AlwaysOn = true
	broken.MessagingCred = ""
	manual := validConfig("manual") // not always-on, must not start

	source := &staticSource{configs: []*models.AgentConfig{broken, good, manual}}
	if err := m.AutoStartAlwaysOn(context.Background(), source); err != nil {
		t.Fatalf("AutoStartAlwaysOn: %v", err)
	}

	waitFor(t, func() bool { return started.Load() == 1 })
	ids := m.ListRunning()
	if len(ids) != 1 || ids[0] != "good" {
		t.Errorf("ListRunning = %v, want only the healthy always-on agent", ids)
	}

	m.StopAll()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// Ensure the manager copes with concurrent deploy/stop churn.
func TestConcurrentDeployStop(t *testing.T) {
	m := NewManager(ManagerConfig{
		DrainTimeout: time.Second,
		Workers: []Worker{func(ctx context.Context, agent *models.AgentConfig) {
			<-ctx.Done()
		}},
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cfg := validConfig("agent")
			_ = m.Deploy(context.Background(), cfg, "u1")
			m.Stop("agent")
		}(i)
	}
	wg.Wait()
	m.StopAll()
}
