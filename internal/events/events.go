// Package events carries runtime state changes from producers (executor,
// orchestrators, lifecycle manager, tool engine) to subscribers. The canvas
// fabric is a pure subscriber; no producer knows it exists.
package events

import "time"

// Type names every event the runtime emits. The set is shared with the
// canvas wire protocol, so subscribers can forward events without mapping.
type Type string

const (
	// DAG executor events.
	WorkflowStart    Type = "workflow_started"
	NodeStart        Type = "node_start"
	NodeComplete     Type = "node_complete"
	NodeError        Type = "node_error"
	WorkflowComplete Type = "workflow_completed"
	WorkflowError    Type = "workflow_error"

	// ReAct orchestrator events.
	ReasoningStarted     Type = "reasoning_started"
	ReasoningCompleted   Type = "reasoning_completed"
	ReasoningFailed      Type = "reasoning_failed"
	ActionStarted        Type = "action_started"
	ActionFailed         Type = "action_failed"
	ObservationStarted   Type = "observation_started"
	ObservationCompleted Type = "observation_completed"
	IterationCompleted   Type = "iteration_completed"
	LoopCompleted        Type = "loop_completed"

	// Run-entry (self-repair) events.
	ReactLoopStarted  Type = "workflow_react_loop_started"
	PatchApplied      Type = "workflow_react_patch_applied"
	AttemptFailed     Type = "workflow_attempt_failed"
	TerminationReport Type = "workflow_termination_report"
	ConfirmRequired   Type = "workflow_confirm_required"
	Confirmed         Type = "workflow_confirmed"

	// Canvas mutation events.
	NodeCreated Type = "node_created"
	NodeUpdated Type = "node_updated"
	NodeDeleted Type = "node_deleted"
	NodeMoved   Type = "node_moved"
	EdgeCreated Type = "edge_created"
	EdgeDeleted Type = "edge_deleted"

	// Execution status rollup for canvas clients.
	ExecutionStatus Type = "execution_status"

	// Tool engine catalog events.
	ToolRegistered Type = "tool_registered"
	ToolUpdated    Type = "tool_updated"
	ToolRemoved    Type = "tool_removed"

	// Lifecycle manager events.
	AgentStateChanged Type = "agent_state_changed"
)

// Event is the single envelope published on the bus. Only the fields that
// apply to the type are set; Payload carries type-specific detail.
type Event struct {
	Type       Type           `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
