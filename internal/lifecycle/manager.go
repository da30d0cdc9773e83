package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"weave/internal/errors"
	"weave/internal/events"
	"weave/internal/shared/logging"
)

// ManagerMetrics exposes the lifecycle prometheus collectors. Nil records
// nothing.
type ManagerMetrics struct {
	agentsByState *prometheus.GaugeVec
	admitted      prometheus.Counter
	rejected      prometheus.Counter
	restarts      prometheus.Counter
}

// NewManagerMetrics builds and registers the collectors on reg.
func NewManagerMetrics(reg prometheus.Registerer) *ManagerMetrics {
	m := &ManagerMetrics{
		agentsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "weave",
			Subsystem: "lifecycle",
			Name:      "agents",
			Help:      "Managed agents by state.",
		}, []string{"state"}),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "lifecycle",
			Name:      "admitted_total",
			Help:      "Spawn requests admitted by the scheduler.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "lifecycle",
			Name:      "rejected_total",
			Help:      "Spawn requests rejected by the scheduler.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "lifecycle",
			Name:      "restarts_total",
			Help:      "Agent restarts performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.agentsByState, m.admitted, m.rejected, m.restarts)
	}
	return m
}

func (m *ManagerMetrics) stateMoved(from, to AgentState) {
	if m == nil {
		return
	}
	if from != "" {
		m.agentsByState.WithLabelValues(string(from)).Dec()
	}
	m.agentsByState.WithLabelValues(string(to)).Inc()
}

func (m *ManagerMetrics) admission(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.admitted.Inc()
	} else {
		m.rejected.Inc()
	}
}

func (m *ManagerMetrics) restarted() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// entry pairs an agent with its serialization lock. Transitions for one
// agent never interleave; different agents proceed in parallel.
type entry struct {
	mu    sync.Mutex
	agent *Agent
	req   Request
}

// Manager owns every agent instance and serializes state transitions per
// agent id.
type Manager struct {
	mu        sync.RWMutex
	agents    map[string]*entry
	scheduler *Scheduler
	execLog   *ExecutionLogger
	bus       *events.Bus
	metrics   *ManagerMetrics
	logger    logging.Logger
}

// NewManager wires the manager to its scheduler, log, and event bus.
func NewManager(scheduler *Scheduler, execLog *ExecutionLogger, bus *events.Bus, metrics *ManagerMetrics, logger logging.Logger) *Manager {
	if scheduler == nil {
		scheduler = NewScheduler(DefaultSchedulerConfig())
	}
	if execLog == nil {
		execLog = NewExecutionLogger(0)
	}
	return &Manager{
		agents:    make(map[string]*entry),
		scheduler: scheduler,
		execLog:   execLog,
		bus:       bus,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// Spawn admission-controls and boots a new agent, driving it created →
// initializing → ready → running.
func (m *Manager) Spawn(ctx context.Context, agentID, agentType string, config map[string]any, resources Resources) (*Agent, error) {
	// Existence check, admission, and registration stay under one lock so
	// two concurrent spawns of the same id cannot both take a slot.
	m.mu.Lock()
	if _, exists := m.agents[agentID]; exists {
		m.mu.Unlock()
		return nil, errors.New(errors.KindInvalidRequest, "agent %s already exists", agentID)
	}

	req := Request{AgentID: agentID, Resources: resources}
	decision := m.scheduler.Admit(req)
	if !decision.Admitted {
		m.mu.Unlock()
		m.metrics.admission(false)
		m.execLog.Record(LogLifecycleOperation, agentID, map[string]any{
			"operation": "spawn",
			"rejected":  decision.Reason,
			"basis":     decision.Basis,
		})
		return nil, errors.New(errors.KindQuotaExceeded,
			"spawn of %s rejected: %s", agentID, decision.Reason).
			WithMeta("basis", decision.Basis)
	}

	now := time.Now()
	e := &entry{
		agent: &Agent{
			ID:        agentID,
			Type:      agentType,
			Config:    config,
			State:     StateCreated,
			Resources: resources,
			CreatedAt: now,
			UpdatedAt: now,
		},
		req: req,
	}
	m.agents[agentID] = e
	m.mu.Unlock()
	m.metrics.admission(true)
	m.metrics.stateMoved("", StateCreated)

	m.execLog.Record(LogResourceAllocation, agentID, map[string]any{
		"cpu_cores":     resources.CPUCores,
		"memory_mb":     resources.MemoryMB,
		"gpu_memory_mb": resources.GPUMemoryMB,
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, next := range []AgentState{StateInitializing, StateReady, StateRunning} {
		if err := m.transitionLocked(ctx, e, next, "spawn"); err != nil {
			return nil, err
		}
	}

	snapshot := e.agent.Snapshot()
	return &snapshot, nil
}

// Terminate drives the agent toward stopped and releases its slot.
func (m *Manager) Terminate(ctx context.Context, agentID, reason string) (*Agent, error) {
	e, err := m.entry(agentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.transitionLocked(ctx, e, StateStopping, reason); err != nil {
		return nil, err
	}
	if err := m.transitionLocked(ctx, e, StateStopped, reason); err != nil {
		return nil, err
	}
	m.scheduler.Release(e.req)

	m.execLog.Record(LogLifecycleOperation, agentID, map[string]any{
		"operation": "terminate",
		"reason":    reason,
	})
	snapshot := e.agent.Snapshot()
	return &snapshot, nil
}

// Restart drives the agent through restarting back to running and bumps the
// restart counter. It is the only way out of failed.
func (m *Manager) Restart(ctx context.Context, agentID, reason string) (*Agent, error) {
	e, err := m.entry(agentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, next := range []AgentState{StateRestarting, StateInitializing, StateReady, StateRunning} {
		if err := m.transitionLocked(ctx, e, next, reason); err != nil {
			return nil, err
		}
	}
	e.agent.RestartCount++
	m.metrics.restarted()

	m.execLog.Record(LogLifecycleOperation, agentID, map[string]any{
		"operation":     "restart",
		"reason":        reason,
		"restart_count": e.agent.RestartCount,
	})
	snapshot := e.agent.Snapshot()
	return &snapshot, nil
}

// Transition applies one explicit state change, e.g. pause or fail.
func (m *Manager) Transition(ctx context.Context, agentID string, next AgentState, reason string) (*Agent, error) {
	e, err := m.entry(agentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.transitionLocked(ctx, e, next, reason); err != nil {
		return nil, err
	}
	snapshot := e.agent.Snapshot()
	return &snapshot, nil
}

// UpdateMetrics stores instance-reported telemetry.
func (m *Manager) UpdateMetrics(agentID string, metrics Metrics) error {
	e, err := m.entry(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.agent.Metrics = metrics
	e.agent.UpdatedAt = time.Now()
	e.mu.Unlock()
	return nil
}

// Get returns a snapshot of the agent.
func (m *Manager) Get(agentID string) (*Agent, error) {
	e, err := m.entry(agentID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.agent.Snapshot()
	return &snapshot, nil
}

// List returns a snapshot of every managed agent.
func (m *Manager) List() []Agent {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.agents))
	for _, e := range m.agents {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Agent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.agent.Snapshot())
		e.mu.Unlock()
	}
	return out
}

// Remove drops a stopped agent from the manager.
func (m *Manager) Remove(agentID string) error {
	e, err := m.entry(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	state := e.agent.State
	e.mu.Unlock()
	if !state.Terminal() {
		return errors.New(errors.KindInvalidTransition,
			"agent %s is %s; terminate it before removal", agentID, state)
	}

	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) entry(agentID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.agents[agentID]
	if !ok {
		return nil, errors.New(errors.KindInvalidRequest, "agent %s is not managed", agentID)
	}
	return e, nil
}

// transitionLocked applies one table-checked state change. The caller holds
// the entry lock.
func (m *Manager) transitionLocked(_ context.Context, e *entry, next AgentState, reason string) error {
	previous := e.agent.State
	if !previous.CanTransition(next) {
		return transitionError(e.agent.ID, previous, next)
	}
	e.agent.State = next
	e.agent.UpdatedAt = time.Now()
	m.metrics.stateMoved(previous, next)

	m.execLog.Record(LogStateChange, e.agent.ID, map[string]any{
		"previous_state": string(previous),
		"new_state":      string(next),
		"reason":         reason,
	})
	m.logger.Debug("agent %s: %s -> %s (%s)", e.agent.ID, previous, next, reason)

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:    events.AgentStateChanged,
			AgentID: e.agent.ID,
			Payload: map[string]any{
				"previous_state": string(previous),
				"new_state":      string(next),
				"reason":         reason,
			},
		})
	}
	return nil
}
