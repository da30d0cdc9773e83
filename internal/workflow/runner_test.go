package workflow

import (
	"context"
	"testing"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/errors"
	"weave/internal/events"
)

func linear(middle graph.Node) *graph.Workflow {
	return &graph.Workflow{
		ID: "wf_run",
		Nodes: []graph.Node{
			{ID: "a", Kind: graph.KindStart},
			middle,
			{ID: "c", Kind: graph.KindEnd},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "a", Target: middle.ID},
			{ID: "e2", Source: middle.ID, Target: "c"},
		},
	}
}

func collectTypes(bus *events.Bus) *[]events.Type {
	var seen []events.Type
	bus.Subscribe(func(e events.Event) { seen = append(seen, e.Type) })
	return &seen
}

func TestExecuteLinearWorkflow(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(_ context.Context, _ *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
			out := map[string]any{"doubled": inputs["value"].(int) * 2}
			return out, nil
		}))

	bus := events.NewBus(nil)
	seen := collectTypes(bus)
	runner := NewRunner(registry, bus, DefaultRunnerConfig(), nil)

	result, err := runner.Execute(context.Background(),
		linear(graph.Node{ID: "b", Kind: graph.KindTransform}),
		map[string]any{"value": 21})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	final, ok := result.Final.(map[string]any)
	if !ok || final["doubled"] != 42 {
		t.Fatalf("expected doubled 42 at the end node, got %v", result.Final)
	}

	want := []events.Type{
		events.WorkflowStart,
		events.NodeStart, events.NodeComplete, // a
		events.NodeStart, events.NodeComplete, // b
		events.NodeStart, events.NodeComplete, // c
		events.WorkflowComplete,
	}
	if len(*seen) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(*seen), *seen)
	}
	for i := range want {
		if (*seen)[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], (*seen)[i])
		}
	}
}

func TestExecuteSkipsOrphanNodes(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)

	executed := map[string]bool{}
	spy := ExecutorFunc(func(_ context.Context, node *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
		executed[node.ID] = true
		return inputs, nil
	})
	registry.Register(graph.KindTransform, spy)

	w := linear(graph.Node{ID: "b", Kind: graph.KindTransform})
	w.Nodes = append(w.Nodes, graph.Node{ID: "orphan", Kind: graph.KindTransform})

	runner := NewRunner(registry, events.NewBus(nil), DefaultRunnerConfig(), nil)
	if _, err := runner.Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if executed["orphan"] {
		t.Fatalf("nodes outside the main subgraph must not run")
	}
	if !executed["b"] {
		t.Fatalf("main subgraph node must run")
	}
}

func TestExecuteRetriesRetryableFailures(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)

	attempts := 0
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(_ context.Context, _ *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New(errors.KindNodeExecution, "flaky").AsRetryable()
			}
			return inputs, nil
		}))

	config := DefaultRunnerConfig()
	config.BackoffBase = time.Millisecond
	runner := NewRunner(registry, events.NewBus(nil), config, nil)

	w := linear(graph.Node{ID: "b", Kind: graph.KindTransform,
		Config: map[string]any{graph.ConfigKeyRetryCount: 3}})
	if _, err := runner.Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryNonRetryable(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)

	attempts := 0
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(_ context.Context, _ *graph.Node, _ map[string]any, _ RunContext) (any, error) {
			attempts++
			return nil, errors.New(errors.KindNodeExecution, "broken config")
		}))

	config := DefaultRunnerConfig()
	config.BackoffBase = time.Millisecond
	runner := NewRunner(registry, events.NewBus(nil), config, nil)

	w := linear(graph.Node{ID: "b", Kind: graph.KindTransform,
		Config: map[string]any{graph.ConfigKeyRetryCount: 5}})
	_, err := runner.Execute(context.Background(), w, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if attempts != 1 {
		t.Fatalf("non-retryable errors must not retry, got %d attempts", attempts)
	}
}

func TestExecuteEmitsSingleTerminalError(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(_ context.Context, _ *graph.Node, _ map[string]any, _ RunContext) (any, error) {
			return nil, errors.New(errors.KindNodeExecution, "boom")
		}))

	bus := events.NewBus(nil)
	var errorEvents []events.Event
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.WorkflowError {
			errorEvents = append(errorEvents, e)
		}
	})
	runner := NewRunner(registry, bus, DefaultRunnerConfig(), nil)

	_, err := runner.Execute(context.Background(), linear(graph.Node{ID: "b", Kind: graph.KindTransform}), nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(errorEvents) != 1 {
		t.Fatalf("expected exactly one workflow_error, got %d", len(errorEvents))
	}
	payload := errorEvents[0].Payload
	if payload["error_type"] != string(errors.KindNodeExecution) {
		t.Fatalf("error payload missing error_type: %v", payload)
	}
	if payload["node_id"] != "b" {
		t.Fatalf("error payload must name the failing node: %v", payload)
	}
}

func TestExecutePerNodeTimeout(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(ctx context.Context, _ *graph.Node, _ map[string]any, _ RunContext) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	config := DefaultRunnerConfig()
	config.DefaultNodeTimeout = 20 * time.Millisecond
	runner := NewRunner(registry, events.NewBus(nil), config, nil)

	_, err := runner.Execute(context.Background(), linear(graph.Node{ID: "b", Kind: graph.KindTransform}), nil)
	if errors.KindOf(err) != errors.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestExecuteCancellation(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)
	ctx, cancel := context.WithCancel(context.Background())
	registry.Register(graph.KindTransform, ExecutorFunc(
		func(execCtx context.Context, _ *graph.Node, _ map[string]any, _ RunContext) (any, error) {
			cancel()
			<-execCtx.Done()
			return nil, execCtx.Err()
		}))

	runner := NewRunner(registry, events.NewBus(nil), DefaultRunnerConfig(), nil)
	_, err := runner.Execute(ctx, linear(graph.Node{ID: "b", Kind: graph.KindTransform}), nil)
	if errors.KindOf(err) != errors.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestGatherInputsFollowsEdgeOrder(t *testing.T) {
	registry := NewExecutorRegistry()
	RegisterBuiltins(registry)

	registry.Register(graph.KindTransform, ExecutorFunc(
		func(_ context.Context, node *graph.Node, _ map[string]any, _ RunContext) (any, error) {
			return map[string]any{"from": node.ID}, nil
		}))

	var joined map[string]any
	registry.Register(graph.KindDefault, ExecutorFunc(
		func(_ context.Context, _ *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
			joined = inputs
			return inputs, nil
		}))

	w := &graph.Workflow{
		ID: "wf_join",
		Nodes: []graph.Node{
			{ID: "a", Kind: graph.KindStart},
			{ID: "t1", Kind: graph.KindTransform},
			{ID: "t2", Kind: graph.KindTransform},
			{ID: "join", Kind: graph.KindDefault},
			{ID: "z", Kind: graph.KindEnd},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "a", Target: "t1"},
			{ID: "e2", Source: "a", Target: "t2"},
			{ID: "e3", Source: "t1", Target: "join"},
			{ID: "e4", Source: "t2", Target: "join"},
			{ID: "e5", Source: "join", Target: "z"},
		},
	}

	runner := NewRunner(registry, events.NewBus(nil), DefaultRunnerConfig(), nil)
	if _, err := runner.Execute(context.Background(), w, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Both predecessors produce the "from" key; the later edge wins.
	if joined["from"] != "t2" {
		t.Fatalf("expected later predecessor to win the merge, got %v", joined)
	}
}
