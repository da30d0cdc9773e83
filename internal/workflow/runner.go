package workflow

import (
	"context"
	stderrors "errors"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/errors"
	"weave/internal/events"
	"weave/internal/shared/id"
	"weave/internal/shared/logging"
)

// RunnerConfig tunes the DAG run loop.
type RunnerConfig struct {
	// DefaultNodeTimeout bounds one node execution when the node config
	// carries no timeout of its own.
	DefaultNodeTimeout time.Duration
	// BackoffBase is the first retry delay; it doubles per retry.
	BackoffBase time.Duration
}

// DefaultRunnerConfig returns the runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DefaultNodeTimeout: 30 * time.Second,
		BackoffBase:        500 * time.Millisecond,
	}
}

// RunResult is the outcome of one DAG run.
type RunResult struct {
	RunID string
	// Final holds the end node's output, or a map keyed by node id when the
	// workflow has several end nodes.
	Final   any
	Outputs map[string]any
}

// Runner executes validated workflows in topological order, one node at a
// time, emitting the run event stream on the bus.
type Runner struct {
	executors *ExecutorRegistry
	bus       *events.Bus
	config    RunnerConfig
	logger    logging.Logger
}

// NewRunner creates a runner over the executor registry.
func NewRunner(executors *ExecutorRegistry, bus *events.Bus, config RunnerConfig, logger logging.Logger) *Runner {
	if config.DefaultNodeTimeout <= 0 {
		config.DefaultNodeTimeout = 30 * time.Second
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	return &Runner{
		executors: executors,
		bus:       bus,
		config:    config,
		logger:    logging.OrNop(logger),
	}
}

// Execute runs w from initialInput to the end node. Nodes outside the main
// subgraph stay on the canvas but are skipped. Only one terminal event is
// emitted per run: workflow_completed or workflow_error.
func (r *Runner) Execute(ctx context.Context, w *graph.Workflow, initialInput map[string]any) (*RunResult, error) {
	runID := id.NewRunID()
	rc := RunContext{WorkflowID: w.ID, RunID: runID, InitialInput: initialInput}

	order, cyclic := graph.TopologicalOrder(w)
	if len(cyclic) > 0 {
		err := errors.New(errors.KindValidation, "workflow %s contains a cycle", w.ID).
			WithMeta("nodes", cyclic)
		r.publishError(w.ID, runID, nil, err)
		return nil, err
	}
	sub := graph.ComputeMainSubgraph(w)

	r.publish(events.Event{Type: events.WorkflowStart, WorkflowID: w.ID, RunID: runID})

	outputs := make(map[string]any, len(order))
	for _, nodeID := range order {
		if !sub.Members[nodeID] {
			continue
		}
		node, _ := w.Node(nodeID)

		if err := ctx.Err(); err != nil {
			cancelErr := errors.Wrap(err, errors.KindCancelled, "run %s cancelled", runID)
			r.publishError(w.ID, runID, node, cancelErr)
			return nil, cancelErr
		}

		r.publish(events.Event{
			Type: events.NodeStart, WorkflowID: w.ID, RunID: runID,
			NodeID: node.ID, NodeType: string(node.Kind),
		})

		inputs := r.gatherInputs(w, node, outputs, rc)
		output, err := r.runNode(ctx, w, node, inputs, rc)
		if err != nil {
			err = attachNode(err, node)
			r.publish(events.Event{
				Type: events.NodeError, WorkflowID: w.ID, RunID: runID,
				NodeID: node.ID, NodeType: string(node.Kind),
				Payload: errorPayload(err),
			})
			r.publishError(w.ID, runID, node, err)
			return nil, err
		}

		outputs[node.ID] = output
		r.publish(events.Event{
			Type: events.NodeComplete, WorkflowID: w.ID, RunID: runID,
			NodeID: node.ID, NodeType: string(node.Kind),
			Payload: map[string]any{"output": output},
		})
	}

	final := finalValue(w, sub, outputs)
	r.publish(events.Event{
		Type: events.WorkflowComplete, WorkflowID: w.ID, RunID: runID,
		Payload: map[string]any{"output": final},
	})
	return &RunResult{RunID: runID, Final: final, Outputs: outputs}, nil
}

// ExecuteNode runs a single node with the given run context. The ReAct
// orchestrator uses this for execute_node and error_recovery actions.
func (r *Runner) ExecuteNode(ctx context.Context, w *graph.Workflow, nodeID string, outputs map[string]any, rc RunContext) (any, error) {
	node, ok := w.Node(nodeID)
	if !ok {
		return nil, errors.New(errors.KindNodeExecution,
			"node %q does not exist in workflow %s", nodeID, w.ID)
	}

	r.publish(events.Event{
		Type: events.NodeStart, WorkflowID: w.ID, RunID: rc.RunID,
		NodeID: node.ID, NodeType: string(node.Kind),
	})

	inputs := r.gatherInputs(w, node, outputs, rc)
	output, err := r.runNode(ctx, w, node, inputs, rc)
	if err != nil {
		err = attachNode(err, node)
		r.publish(events.Event{
			Type: events.NodeError, WorkflowID: w.ID, RunID: rc.RunID,
			NodeID: node.ID, NodeType: string(node.Kind),
			Payload: errorPayload(err),
		})
		return nil, err
	}

	r.publish(events.Event{
		Type: events.NodeComplete, WorkflowID: w.ID, RunID: rc.RunID,
		NodeID: node.ID, NodeType: string(node.Kind),
		Payload: map[string]any{"output": output},
	})
	return output, nil
}

// gatherInputs unions the outputs of the node's predecessors in edge order.
// Map outputs merge key-wise, later predecessors winning; scalar outputs are
// keyed by the producing node id. Start and input nodes see the caller's
// initial input instead.
func (r *Runner) gatherInputs(w *graph.Workflow, node *graph.Node, outputs map[string]any, rc RunContext) map[string]any {
	if node.Kind == graph.KindStart || node.Kind == graph.KindInput {
		return rc.InitialInput
	}

	inputs := make(map[string]any)
	for _, pred := range w.Predecessors(node.ID) {
		output, executed := outputs[pred]
		if !executed {
			continue
		}
		if m, ok := output.(map[string]any); ok {
			for k, v := range m {
				inputs[k] = v
			}
			continue
		}
		inputs[pred] = output
	}
	return inputs
}

// runNode invokes the node's executor under its deadline, retrying retryable
// failures up to the node's retry_count with exponential backoff.
func (r *Runner) runNode(ctx context.Context, w *graph.Workflow, node *graph.Node, inputs map[string]any, rc RunContext) (any, error) {
	executor, err := r.executors.For(node.Kind)
	if err != nil {
		return nil, err
	}

	timeout := r.config.DefaultNodeTimeout
	if seconds, ok := node.IntConfig(graph.ConfigKeyTimeout); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	retries, _ := node.IntConfig(graph.ConfigKeyRetryCount)
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := r.config.BackoffBase << (attempt - 1)
			r.logger.Debug("retrying node %s attempt %d after %s", node.ID, attempt+1, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.KindCancelled,
					"run %s cancelled while backing off", rc.RunID)
			}
		}

		nodeCtx, cancel := context.WithTimeout(ctx, timeout)
		output, execErr := executor.Execute(nodeCtx, node, inputs, rc)
		ctxErr := nodeCtx.Err()
		cancel()

		if execErr == nil {
			return output, nil
		}
		lastErr = classifyNodeError(execErr, ctxErr)
		if !errors.IsRetryable(lastErr) {
			break
		}
	}
	return nil, lastErr
}

// classifyNodeError maps raw executor failures onto the error taxonomy.
// ctxErr is the node context's state captured before cancellation.
func classifyNodeError(err error, ctxErr error) error {
	if errors.KindOf(err) != "" {
		return err
	}
	switch ctxErr {
	case context.DeadlineExceeded:
		return errors.Wrap(err, errors.KindTimeout, "node execution exceeded its deadline")
	case context.Canceled:
		return errors.Wrap(err, errors.KindCancelled, "node execution cancelled")
	}
	return errors.Wrap(err, errors.KindNodeExecution, "node execution failed")
}

// finalValue picks the end node output, or a map keyed by node id when the
// workflow has several end nodes.
func finalValue(w *graph.Workflow, sub graph.MainSubgraph, outputs map[string]any) any {
	var executed []string
	for _, endID := range sub.Ends {
		if _, ok := outputs[endID]; ok {
			executed = append(executed, endID)
		}
	}
	switch len(executed) {
	case 0:
		return nil
	case 1:
		return outputs[executed[0]]
	}
	final := make(map[string]any, len(executed))
	for _, endID := range executed {
		final[endID] = outputs[endID]
	}
	return final
}

// attachNode stamps the failing node onto the error meta so the repair
// layer can target its patch.
func attachNode(err error, node *graph.Node) error {
	var de *errors.DomainError
	if stderrors.As(err, &de) {
		return de.WithMeta("node_id", node.ID).WithMeta("node_type", string(node.Kind))
	}
	return errors.Wrap(err, errors.KindNodeExecution, "node %s failed", node.ID).
		WithMeta("node_id", node.ID).
		WithMeta("node_type", string(node.Kind))
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"error_type": string(errors.KindOf(err)),
		"retryable":  errors.IsRetryable(err),
		"error":      err.Error(),
	}
}

func (r *Runner) publish(event events.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event)
}

func (r *Runner) publishError(workflowID, runID string, node *graph.Node, err error) {
	event := events.Event{
		Type: events.WorkflowError, WorkflowID: workflowID, RunID: runID,
		Payload: errorPayload(err),
	}
	if node != nil {
		event.NodeID = node.ID
		event.NodeType = string(node.Kind)
		event.Payload["node_id"] = node.ID
		event.Payload["node_type"] = string(node.Kind)
	}
	r.publish(event)
}
