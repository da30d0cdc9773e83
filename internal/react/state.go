// Package react implements the reason → act → observe → decide loop driven
// by the language model, one state machine per workflow run.
package react

import (
	"weave/internal/domain/graph"
	"weave/internal/llm"
	"weave/internal/shared/token"
)

// Status is the loop's lifecycle stage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// LoopState is owned by the orchestrator for the lifetime of one run. It is
// never shared across goroutines, so no locking is needed.
type LoopState struct {
	WorkflowID     string         `json:"workflow_id"`
	RunID          string         `json:"run_id"`
	AvailableNodes []string       `json:"available_nodes"`
	Executed       map[string]any `json:"executed_nodes"`
	CurrentStep    int            `json:"current_step"`
	MaxSteps       int            `json:"max_steps"`
	IterationCount int            `json:"iteration_count"`
	MaxIterations  int            `json:"max_iterations"`
	Status         Status         `json:"status"`
	// Suspended is set when a wait action parks the loop for an external
	// resume signal.
	Suspended bool `json:"suspended,omitempty"`
	// FailureKind carries the terminal error kind when Status is failed.
	FailureKind string `json:"failure_kind,omitempty"`

	messages    []llm.Message
	tokenBudget int
	tokenCount  int
}

// newLoopState seeds the state from the workflow's main subgraph.
func newLoopState(w *graph.Workflow, runID string, config Config) *LoopState {
	sub := graph.ComputeMainSubgraph(w)
	order, _ := graph.TopologicalOrder(w)

	available := make([]string, 0, len(sub.Members))
	for _, nodeID := range order {
		if sub.Members[nodeID] {
			available = append(available, nodeID)
		}
	}

	return &LoopState{
		WorkflowID:     w.ID,
		RunID:          runID,
		AvailableNodes: available,
		Executed:       make(map[string]any),
		MaxSteps:       config.MaxSteps,
		MaxIterations:  config.MaxIterations,
		Status:         StatusRunning,
		tokenBudget:    config.MessageTokenBudget,
	}
}

// Available reports whether the node id was in the main subgraph at run
// start.
func (s *LoopState) Available(nodeID string) bool {
	for _, id := range s.AvailableNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// HasExecuted reports whether the node already ran in this loop.
func (s *LoopState) HasExecuted(nodeID string) bool {
	_, ok := s.Executed[nodeID]
	return ok
}

// ExecutedIDs returns the executed node ids in available-node order.
func (s *LoopState) ExecutedIDs() []string {
	ids := make([]string, 0, len(s.Executed))
	for _, nodeID := range s.AvailableNodes {
		if s.HasExecuted(nodeID) {
			ids = append(ids, nodeID)
		}
	}
	return ids
}

// append adds a message to the log, evicting the oldest entries when the
// token budget is exceeded. The budget never evicts the latest message.
func (s *LoopState) append(message llm.Message) {
	s.messages = append(s.messages, message)
	s.tokenCount += token.Count(message.Content)

	if s.tokenBudget <= 0 {
		return
	}
	for s.tokenCount > s.tokenBudget && len(s.messages) > 1 {
		evicted := s.messages[0]
		s.messages = s.messages[1:]
		s.tokenCount -= token.Count(evicted.Content)
	}
}

// Messages returns a copy of the accumulated log.
func (s *LoopState) Messages() []llm.Message {
	return append([]llm.Message(nil), s.messages...)
}

// loopGuard reports whether another iteration may start.
func (s *LoopState) loopGuard() bool {
	return s.Status == StatusRunning &&
		s.IterationCount < s.MaxIterations &&
		s.CurrentStep <= s.MaxSteps
}
