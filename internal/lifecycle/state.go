// Package lifecycle manages agent instances: the typed state machine, the
// spawn/terminate/restart API, quota-gated scheduling, and the bounded
// execution log.
package lifecycle

import (
	"time"

	"weave/internal/errors"
)

// AgentState is the closed set of instance states.
type AgentState string

const (
	StateCreated      AgentState = "created"
	StateInitializing AgentState = "initializing"
	StateReady        AgentState = "ready"
	StateRunning      AgentState = "running"
	StatePaused       AgentState = "paused"
	StateStopping     AgentState = "stopping"
	StateStopped      AgentState = "stopped"
	StateFailed       AgentState = "failed"
	StateRestarting   AgentState = "restarting"
)

// transitions is the full state machine. Anything absent is rejected.
var transitions = map[AgentState][]AgentState{
	StateCreated:      {StateInitializing, StateFailed},
	StateInitializing: {StateReady, StateFailed},
	StateReady:        {StateRunning, StateFailed},
	StateRunning:      {StatePaused, StateStopping, StateRestarting, StateFailed},
	StatePaused:       {StateRunning, StateStopping, StateFailed},
	StateStopping:     {StateStopped, StateFailed},
	StateStopped:      {StateInitializing, StateFailed},
	StateFailed:       {StateRestarting},
	StateRestarting:   {StateInitializing, StateFailed},
}

// CanTransition reports whether s → next is in the table.
func (s AgentState) CanTransition(next AgentState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further work.
func (s AgentState) Terminal() bool {
	return s == StateStopped
}

// transitionError builds the invalid_transition rejection.
func transitionError(agentID string, from, to AgentState) error {
	return errors.New(errors.KindInvalidTransition,
		"agent %s cannot move from %s to %s", agentID, from, to).
		WithMeta("agent_id", agentID).
		WithMeta("from", string(from)).
		WithMeta("to", string(to))
}

// Resources is an instance's allocation request and grant.
type Resources struct {
	CPUCores    float64 `json:"cpu_cores"`
	MemoryMB    int     `json:"memory_mb"`
	GPUMemoryMB int     `json:"gpu_memory_mb"`
}

// Add returns the element-wise sum.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUCores:    r.CPUCores + other.CPUCores,
		MemoryMB:    r.MemoryMB + other.MemoryMB,
		GPUMemoryMB: r.GPUMemoryMB + other.GPUMemoryMB,
	}
}

// Sub returns the element-wise difference, clamped at zero.
func (r Resources) Sub(other Resources) Resources {
	out := Resources{
		CPUCores:    r.CPUCores - other.CPUCores,
		MemoryMB:    r.MemoryMB - other.MemoryMB,
		GPUMemoryMB: r.GPUMemoryMB - other.GPUMemoryMB,
	}
	if out.CPUCores < 0 {
		out.CPUCores = 0
	}
	if out.MemoryMB < 0 {
		out.MemoryMB = 0
	}
	if out.GPUMemoryMB < 0 {
		out.GPUMemoryMB = 0
	}
	return out
}

// Metrics is the instance-reported runtime telemetry.
type Metrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	RequestCount  int64   `json:"request_count"`
	ErrorCount    int64   `json:"error_count"`
}

// Agent is one managed instance. Mutations go through the manager, which
// serializes them per agent id.
type Agent struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Config       map[string]any `json:"config,omitempty"`
	State        AgentState     `json:"state"`
	Resources    Resources      `json:"resources"`
	Metrics      Metrics        `json:"metrics"`
	RestartCount int            `json:"restart_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Snapshot returns a copy safe to hand across goroutines.
func (a *Agent) Snapshot() Agent {
	out := *a
	if a.Config != nil {
		cfg := make(map[string]any, len(a.Config))
		for k, v := range a.Config {
			cfg[k] = v
		}
		out.Config = cfg
	}
	return out
}
