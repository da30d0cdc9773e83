package lifecycle

import (
	"context"
	"sync"
	"testing"

	"weave/internal/errors"
	"weave/internal/events"
)

func newTestManager(config SchedulerConfig) (*Manager, *events.Bus) {
	bus := events.NewBus(nil)
	return NewManager(NewScheduler(config), NewExecutionLogger(100), bus, nil, nil), bus
}

func stateChanges(captured []events.Event) []string {
	var out []string
	for _, e := range captured {
		if e.Type == events.AgentStateChanged {
			out = append(out, e.Payload["new_state"].(string))
		}
	}
	return out
}

func TestSpawnReachesRunning(t *testing.T) {
	m, bus := newTestManager(DefaultSchedulerConfig())
	var captured []events.Event
	bus.Subscribe(func(e events.Event) { captured = append(captured, e) })

	agent, err := m.Spawn(context.Background(), "agent-1", "worker",
		map[string]any{"model": "gpt-4o-mini"}, Resources{CPUCores: 1, MemoryMB: 256})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if agent.State != StateRunning {
		t.Fatalf("expected running, got %s", agent.State)
	}

	want := []string{"initializing", "ready", "running"}
	got := stateChanges(captured)
	if len(got) != len(want) {
		t.Fatalf("expected %d state events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSpawnAtCeilingReturnsQuotaExceeded(t *testing.T) {
	m, _ := newTestManager(SchedulerConfig{MaxConcurrentAgents: 1, CPUQuota: 100, MemoryQuotaMB: 100000})

	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1, MemoryMB: 128}); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := m.Spawn(context.Background(), "agent-2", "worker", nil, Resources{CPUCores: 1, MemoryMB: 128})
	if errors.KindOf(err) != errors.KindQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
	basis, ok := errors.MetaOf(err)["basis"].(map[string]any)
	if !ok || basis["running"] != 1 {
		t.Fatalf("rejection must carry the decision basis: %#v", errors.MetaOf(err))
	}
	if _, err := m.Get("agent-2"); err == nil {
		t.Fatalf("a rejected agent must not be managed")
	}
}

func TestSpawnDuplicateID(t *testing.T) {
	m, _ := newTestManager(DefaultSchedulerConfig())
	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1}); errors.KindOf(err) != errors.KindInvalidRequest {
		t.Fatalf("duplicate id must be invalid_request, got %v", err)
	}
}

func TestTerminateReleasesTheSlot(t *testing.T) {
	m, _ := newTestManager(SchedulerConfig{MaxConcurrentAgents: 1, CPUQuota: 100, MemoryQuotaMB: 100000})
	res := Resources{CPUCores: 1, MemoryMB: 128}

	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, res); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	agent, err := m.Terminate(context.Background(), "agent-1", "test teardown")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if agent.State != StateStopped {
		t.Fatalf("expected stopped, got %s", agent.State)
	}

	if _, err := m.Spawn(context.Background(), "agent-2", "worker", nil, res); err != nil {
		t.Fatalf("slot must be free after terminate: %v", err)
	}
}

func TestRestartFromFailed(t *testing.T) {
	m, _ := newTestManager(DefaultSchedulerConfig())
	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Transition(context.Background(), "agent-1", StateFailed, "probe timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// From failed everything but restart is rejected.
	if _, err := m.Transition(context.Background(), "agent-1", StateRunning, "nope"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("failed -> running must be invalid_transition, got %v", err)
	}
	if _, err := m.Terminate(context.Background(), "agent-1", "nope"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("failed -> stopping must be invalid_transition, got %v", err)
	}

	agent, err := m.Restart(context.Background(), "agent-1", "probe timeout")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if agent.State != StateRunning || agent.RestartCount != 1 {
		t.Fatalf("expected running with restart_count 1, got %s / %d", agent.State, agent.RestartCount)
	}
}

func TestRemoveRequiresStopped(t *testing.T) {
	m, _ := newTestManager(DefaultSchedulerConfig())
	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := m.Remove("agent-1"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("removing a running agent must fail, got %v", err)
	}
	if _, err := m.Terminate(context.Background(), "agent-1", "done"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := m.Remove("agent-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Get("agent-1"); errors.KindOf(err) != errors.KindInvalidRequest {
		t.Fatalf("removed agent must be unknown, got %v", err)
	}
}

func TestExecutionLogRecordsLifecycle(t *testing.T) {
	log := NewExecutionLogger(100)
	m := NewManager(NewScheduler(DefaultSchedulerConfig()), log, events.NewBus(nil), nil, nil)

	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 2, MemoryMB: 512}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Terminate(context.Background(), "agent-1", "done"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	alloc := log.Entries(LogFilter{Type: LogResourceAllocation})
	if len(alloc) != 1 || alloc[0].Detail["memory_mb"] != 512 {
		t.Fatalf("allocation entry: %#v", alloc)
	}
	changes := log.Entries(LogFilter{Type: LogStateChange})
	if len(changes) != 5 { // initializing, ready, running, stopping, stopped
		t.Fatalf("expected 5 state changes, got %d", len(changes))
	}
	ops := log.Entries(LogFilter{Type: LogLifecycleOperation})
	if len(ops) != 1 || ops[0].Detail["operation"] != "terminate" {
		t.Fatalf("operation entry: %#v", ops)
	}
}

func TestUpdateMetrics(t *testing.T) {
	m, _ := newTestManager(DefaultSchedulerConfig())
	if _, err := m.Spawn(context.Background(), "agent-1", "worker", nil, Resources{CPUCores: 1}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := m.UpdateMetrics("agent-1", Metrics{CPUPercent: 42.5, RequestCount: 10}); err != nil {
		t.Fatalf("update metrics: %v", err)
	}
	agent, _ := m.Get("agent-1")
	if agent.Metrics.CPUPercent != 42.5 || agent.Metrics.RequestCount != 10 {
		t.Fatalf("metrics not stored: %+v", agent.Metrics)
	}
}

func TestSpawnConcurrentDuplicateTakesOneSlot(t *testing.T) {
	m, _ := newTestManager(SchedulerConfig{MaxConcurrentAgents: 1, CPUQuota: 100, MemoryQuotaMB: 100000})
	res := Resources{CPUCores: 1, MemoryMB: 64}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Spawn(context.Background(), "dup", "worker", nil, res)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		if errors.KindOf(err) != errors.KindInvalidRequest {
			t.Fatalf("loser must see invalid_request, got %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner, got won=%d lost=%d", won, lost)
	}

	// The losing spawn must not have consumed the slot: terminating the
	// winner frees the single slot for the next agent.
	if _, err := m.Terminate(context.Background(), "dup", "test"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := m.Spawn(context.Background(), "next", "worker", nil, res); err != nil {
		t.Fatalf("slot leaked: %v", err)
	}
}
