package react

import (
	"context"
	"fmt"

	"weave/internal/domain/action"
	"weave/internal/domain/graph"
	"weave/internal/errors"
	"weave/internal/events"
	"weave/internal/llm"
	"weave/internal/shared/id"
	"weave/internal/shared/logging"
	"weave/internal/workflow"
)

// Config tunes one orchestrator instance. Zero values take the defaults.
type Config struct {
	MaxSteps           int
	MaxIterations      int
	MaxParseAttempts   int
	MessageTokenBudget int
}

// DefaultConfig returns the loop ceilings.
func DefaultConfig() Config {
	return Config{
		MaxSteps:           50,
		MaxIterations:      50,
		MaxParseAttempts:   3,
		MessageTokenBudget: 24000,
	}
}

// Orchestrator drives the ReAct loop for one workflow at a time. Instances
// are safe to reuse sequentially; run parallelism lives above this type.
type Orchestrator struct {
	model  llm.Client
	runner *workflow.Runner
	bus    *events.Bus
	config Config
	logger logging.Logger
}

// New creates an orchestrator over the model client and the DAG runner.
func New(model llm.Client, runner *workflow.Runner, bus *events.Bus, config Config, logger logging.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxSteps <= 0 {
		config.MaxSteps = defaults.MaxSteps
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxParseAttempts <= 0 {
		config.MaxParseAttempts = defaults.MaxParseAttempts
	}
	if config.MessageTokenBudget <= 0 {
		config.MessageTokenBudget = defaults.MessageTokenBudget
	}
	return &Orchestrator{
		model:  model,
		runner: runner,
		bus:    bus,
		config: config,
		logger: logging.OrNop(logger),
	}
}

// Run executes the loop until finish, failure, suspension, or a ceiling.
// A terminal loop_completed event is always emitted, cancellation included.
func (o *Orchestrator) Run(ctx context.Context, w *graph.Workflow, initialInput map[string]any) (*LoopState, error) {
	state := newLoopState(w, id.NewRunID(), o.config)
	rc := workflow.RunContext{WorkflowID: w.ID, RunID: state.RunID, InitialInput: initialInput}

	o.publish(events.Event{Type: events.WorkflowStart, WorkflowID: w.ID, RunID: state.RunID})

	var runErr error
	for state.loopGuard() {
		if err := ctx.Err(); err != nil {
			runErr = o.fail(state, errors.Wrap(err, errors.KindCancelled, "run %s cancelled", state.RunID))
			break
		}

		act, err := o.reason(ctx, w, state)
		if err != nil {
			runErr = o.fail(state, err)
			break
		}

		if err := o.act(ctx, w, state, rc, act); err != nil {
			runErr = o.fail(state, err)
			break
		}

		state.IterationCount++
		o.publish(events.Event{
			Type: events.IterationCompleted, WorkflowID: w.ID, RunID: state.RunID,
			Payload: map[string]any{"iteration": state.IterationCount, "step": state.CurrentStep},
		})

		if state.Suspended {
			break
		}
	}

	if state.Status == StatusRunning && !state.Suspended {
		// A ceiling ended the loop without an explicit finish.
		runErr = o.fail(state, errors.New(errors.KindBusiness,
			"run %s hit its ceiling after %d iterations", state.RunID, state.IterationCount))
	}

	o.publish(events.Event{
		Type: events.LoopCompleted, WorkflowID: w.ID, RunID: state.RunID,
		Payload: map[string]any{
			"iterations": state.IterationCount,
			"status":     string(state.Status),
		},
	})
	return state, runErr
}

// reason runs the three-stage parse pipeline with a shared attempt counter.
// Stage A/B failures come out of action.Decode as parse errors; stage C
// checks business rules against the loop state.
func (o *Orchestrator) reason(ctx context.Context, w *graph.Workflow, state *LoopState) (*action.Action, error) {
	o.publish(events.Event{Type: events.ReasoningStarted, WorkflowID: w.ID, RunID: state.RunID})

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt(w, state)}}
	messages = append(messages, state.Messages()...)

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxParseAttempts; attempt++ {
		output, err := o.model.Invoke(ctx, messages)
		if err != nil {
			if errors.Is(err, errors.KindCancelled) || ctx.Err() != nil {
				return nil, errors.Wrap(err, errors.KindCancelled, "model call cancelled")
			}
			return nil, err
		}

		act, decodeErr := action.Decode(output)
		if decodeErr == nil {
			decodeErr = stageC(state, act)
		}
		if decodeErr == nil {
			o.publish(events.Event{
				Type: events.ReasoningCompleted, WorkflowID: w.ID, RunID: state.RunID,
				Payload: map[string]any{"action": string(act.Kind), "parse_attempt": attempt},
			})
			return act, nil
		}

		lastErr = decodeErr
		o.logger.Debug("run %s attempt %d rejected: %v", state.RunID, attempt, decodeErr)
		if attempt < o.config.MaxParseAttempts {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: retryPrompt(state, attempt, decodeErr),
			})
		}
	}

	o.publish(events.Event{
		Type: events.ReasoningFailed, WorkflowID: w.ID, RunID: state.RunID,
		Payload: map[string]any{
			"attempts": o.config.MaxParseAttempts,
			"error":    lastErr.Error(),
		},
	})
	return nil, errors.Wrap(lastErr, errors.KindParse,
		"model produced no valid action in %d attempts", o.config.MaxParseAttempts)
}

// stageC enforces the business rules the decoder cannot know: node
// membership, the executed-once invariant, and the step ceiling.
func stageC(state *LoopState, act *action.Action) error {
	if act.Kind != action.KindFinish && state.CurrentStep >= state.MaxSteps {
		return errors.New(errors.KindBusiness,
			"step budget exhausted (%d of %d): only finish is allowed",
			state.CurrentStep, state.MaxSteps)
	}
	if !act.Kind.RequiresNode() {
		return nil
	}

	if !state.Available(act.NodeID) {
		return errors.New(errors.KindBusiness,
			"node %q is not in the available nodes", act.NodeID).
			WithMeta("node_id", act.NodeID)
	}
	if act.Kind == action.KindExecuteNode && state.HasExecuted(act.NodeID) {
		return errors.New(errors.KindBusiness,
			"node %q already executed; use error_recovery to run it again", act.NodeID).
			WithMeta("node_id", act.NodeID)
	}
	return nil
}

// act dispatches the validated action and appends the observation message.
func (o *Orchestrator) act(ctx context.Context, w *graph.Workflow, state *LoopState, rc workflow.RunContext, act *action.Action) error {
	o.publish(events.Event{
		Type: events.ActionStarted, WorkflowID: w.ID, RunID: state.RunID,
		NodeID:  act.NodeID,
		Payload: map[string]any{"action": string(act.Kind)},
	})

	switch act.Kind {
	case action.KindReason:
		state.append(llm.Message{Role: llm.RoleAssistant, Content: act.Reasoning})
		state.CurrentStep++
		o.observe(w, state, "reasoning recorded", true, nil)

	case action.KindExecuteNode, action.KindErrorRecovery:
		output, err := o.runner.ExecuteNode(ctx, w, act.NodeID, state.Executed, rc)
		state.CurrentStep++
		if err != nil {
			if errors.Is(err, errors.KindCancelled) {
				return err
			}
			o.publish(events.Event{
				Type: events.ActionFailed, WorkflowID: w.ID, RunID: state.RunID,
				NodeID:  act.NodeID,
				Payload: map[string]any{"error": err.Error(), "error_type": string(errors.KindOf(err))},
			})
			summary := fmt.Sprintf("node %s failed: %v", act.NodeID, err)
			if act.Kind == action.KindErrorRecovery {
				summary = fmt.Sprintf("recovery of node %s failed: %v", act.NodeID, err)
			}
			o.observe(w, state, summary, false, err)
			return nil
		}
		state.Executed[act.NodeID] = output
		summary := fmt.Sprintf("node %s completed", act.NodeID)
		if act.Kind == action.KindErrorRecovery {
			summary = fmt.Sprintf("node %s recovered", act.NodeID)
		}
		o.observe(w, state, summary, true, nil)

	case action.KindWait:
		state.Suspended = true
		o.observe(w, state, "awaiting external input", true, nil)

	case action.KindFinish:
		state.Status = StatusCompleted
		o.observe(w, state, "run finished", true, nil)
	}
	return nil
}

// observe appends the synthetic observation message and emits the
// observation event pair.
func (o *Orchestrator) observe(w *graph.Workflow, state *LoopState, summary string, success bool, cause error) {
	o.publish(events.Event{Type: events.ObservationStarted, WorkflowID: w.ID, RunID: state.RunID})

	content := fmt.Sprintf("Observation: %s (success=%t)", summary, success)
	payload := map[string]any{"summary": summary, "success": success}
	if cause != nil {
		payload["error_type"] = string(errors.KindOf(cause))
		content = fmt.Sprintf("%s [error_kind=%s]", content, errors.KindOf(cause))
	}
	state.append(llm.Message{Role: llm.RoleUser, Content: content})

	o.publish(events.Event{
		Type: events.ObservationCompleted, WorkflowID: w.ID, RunID: state.RunID,
		Payload: payload,
	})
}

// fail moves the state to failed and returns the terminal error.
func (o *Orchestrator) fail(state *LoopState, err error) error {
	state.Status = StatusFailed
	state.FailureKind = string(errors.KindOf(err))
	return err
}

func (o *Orchestrator) publish(event events.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(event)
}
