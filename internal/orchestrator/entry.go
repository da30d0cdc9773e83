package orchestrator

import (
	"context"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/errors"
	"weave/internal/events"
	"weave/internal/shared/logging"
	"weave/internal/storage"
	"weave/internal/workflow"
)

// StopReason explains why the entry gave up on a run.
type StopReason string

const (
	StopConsecutiveFailures StopReason = "consecutive_failures"
	StopNoPatchAvailable    StopReason = "no_patch_available"
	StopValidationFailed    StopReason = "validation_failed"
)

// Config tunes the entry.
type Config struct {
	// MaxAttempts caps execution attempts, patches included. Default 3.
	MaxAttempts int
	// RequireConfirmation gates the first attempt behind an allow/deny
	// decision from the caller.
	RequireConfirmation bool
	Runner              workflow.RunnerConfig
}

// DefaultConfig returns the entry defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, RequireConfirmation: true, Runner: workflow.DefaultRunnerConfig()}
}

// Entry is the save-validate-run pipeline: C4 gates persistence, the caller
// confirms the run, then up to MaxAttempts executions go through the DAG
// runner with config-only repair patches in between. Intermediate failures
// become workflow_attempt_failed; exactly one terminal workflow_error is
// emitted when all attempts are spent.
type Entry struct {
	validator *workflow.Validator
	registry  *workflow.ExecutorRegistry
	workflows storage.WorkflowRepository
	tools     storage.ToolRepository
	bus       *events.Bus
	confirms  *ConfirmBroker
	config    Config
	metrics   *Metrics
	logger    logging.Logger
}

// NewEntry wires the pipeline. confirms may be nil when the transport has no
// confirm channel; the gate is then skipped.
func NewEntry(
	validator *workflow.Validator,
	registry *workflow.ExecutorRegistry,
	workflows storage.WorkflowRepository,
	tools storage.ToolRepository,
	bus *events.Bus,
	confirms *ConfirmBroker,
	config Config,
	logger logging.Logger,
) *Entry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Entry{
		validator: validator,
		registry:  registry,
		workflows: workflows,
		tools:     tools,
		bus:       bus,
		confirms:  confirms,
		config:    config,
		logger:    logging.OrNop(logger),
	}
}

// SetMetrics attaches prometheus collectors; nil leaves the pipeline
// unmetered.
func (e *Entry) SetMetrics(m *Metrics) { e.metrics = m }

// SaveAndRun validates and persists w, waits for the caller's go-ahead, and
// drives the attempt protocol to completion.
func (e *Entry) SaveAndRun(ctx context.Context, w *graph.Workflow, initialInput map[string]any) (*workflow.RunResult, error) {
	if issues := e.validator.Validate(ctx, w); len(issues) > 0 {
		return nil, workflow.IssuesError(w, issues)
	}
	if err := e.workflows.Save(ctx, w); err != nil {
		return nil, err
	}

	if e.config.RequireConfirmation && e.confirms != nil {
		if err := e.awaitConfirmation(ctx, w); err != nil {
			e.publishTerminalError(w.ID, 0, err)
			return nil, err
		}
	}

	return e.runAttempts(ctx, w, initialInput)
}

func (e *Entry) awaitConfirmation(ctx context.Context, w *graph.Workflow) error {
	confirmID := e.confirms.Open()
	e.publish(events.Event{
		Type: events.ConfirmRequired, WorkflowID: w.ID,
		Payload: map[string]any{"confirm_id": confirmID},
	})

	decision, err := e.confirms.Await(ctx, confirmID)
	if err != nil {
		return err
	}
	if decision != DecisionAllow {
		return errors.New(errors.KindInvalidRequest,
			"run of workflow %s denied by the caller", w.ID)
	}
	e.publish(events.Event{
		Type: events.Confirmed, WorkflowID: w.ID,
		Payload: map[string]any{"confirm_id": confirmID},
	})
	return nil
}

func (e *Entry) runAttempts(ctx context.Context, w *graph.Workflow, initialInput map[string]any) (*workflow.RunResult, error) {
	started := time.Now()
	current := w
	var lastErr error
	stopReason := StopConsecutiveFailures
	attempt := 0

	for attempt = 1; attempt <= e.config.MaxAttempts; attempt++ {
		e.metrics.attemptStarted()
		e.publish(events.Event{
			Type: events.ReactLoopStarted, WorkflowID: w.ID, Attempt: attempt,
		})

		result, runErr := e.runOnce(ctx, current, initialInput, attempt)
		if runErr == nil {
			e.metrics.runFinished(started, nil)
			return result, nil
		}
		lastErr = runErr

		if errors.Is(runErr, errors.KindCancelled) {
			break
		}
		if attempt == e.config.MaxAttempts {
			stopReason = StopConsecutiveFailures
			break
		}

		patch, patchErr := proposePatch(ctx, current, runErr, e.tools)
		if patchErr != nil || patch == nil {
			stopReason = StopNoPatchAvailable
			break
		}

		patched := patch.apply(current)
		if issues := e.validator.Validate(ctx, patched); len(issues) > 0 {
			// An invalid patch is discarded, never persisted.
			e.logger.Warn("patch for %s rejected by validation: %d issues", w.ID, len(issues))
			stopReason = StopValidationFailed
			break
		}
		if err := e.workflows.Save(ctx, patched); err != nil {
			stopReason = StopNoPatchAvailable
			lastErr = err
			break
		}

		e.publish(events.Event{
			Type: events.PatchApplied, WorkflowID: w.ID, Attempt: attempt,
			NodeID: patch.NodeID,
			Payload: map[string]any{
				"description": patch.Description,
				"key":         patch.Key,
				"old_value":   patch.OldValue,
				"new_value":   patch.NewValue,
				"diff":        renderDiff(current, patched, patch.NodeID),
			},
		})
		e.metrics.patchApplied()
		current = patched
	}
	if attempt > e.config.MaxAttempts {
		attempt = e.config.MaxAttempts
	}
	e.metrics.stopped(stopReason)
	e.metrics.runFinished(started, lastErr)

	e.publish(events.Event{
		Type: events.TerminationReport, WorkflowID: w.ID, Attempt: attempt,
		Payload: map[string]any{
			"stop_reason":    string(stopReason),
			"attempts_total": attempt,
		},
	})
	e.publishTerminalError(w.ID, attempt, lastErr)
	return nil, lastErr
}

// runOnce executes one attempt on a private bus, forwarding its events with
// the attempt number stamped and its terminal workflow_error rewritten to
// workflow_attempt_failed.
func (e *Entry) runOnce(ctx context.Context, w *graph.Workflow, initialInput map[string]any, attempt int) (*workflow.RunResult, error) {
	inner := events.NewBus(nil)
	inner.Subscribe(func(event events.Event) {
		event.Attempt = attempt
		if event.Type == events.WorkflowError {
			event.Type = events.AttemptFailed
		}
		e.publish(event)
	})

	runner := workflow.NewRunner(e.registry, inner, e.config.Runner, e.logger)
	return runner.Execute(ctx, w, initialInput)
}

func (e *Entry) publishTerminalError(workflowID string, attempt int, err error) {
	payload := map[string]any{}
	if err != nil {
		payload["error"] = err.Error()
		payload["error_type"] = string(errors.KindOf(err))
	}
	e.publish(events.Event{
		Type: events.WorkflowError, WorkflowID: workflowID, Attempt: attempt,
		Payload: payload,
	})
}

func (e *Entry) publish(event events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event)
}
