package workflow

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	"weave/internal/domain/graph"
	knowledgedomain "weave/internal/domain/knowledge"
	"weave/internal/errors"
	"weave/internal/shared/jsonx"
	"weave/internal/shared/logging"
	"weave/internal/toolengine"
)

// RunContext carries per-run facts into node executors.
type RunContext struct {
	WorkflowID   string
	RunID        string
	InitialInput map[string]any
}

// NodeExecutor runs one node kind. Implementations return domain errors so
// the run loop can classify retryability.
type NodeExecutor interface {
	Execute(ctx context.Context, node *graph.Node, inputs map[string]any, rc RunContext) (any, error)
}

// ExecutorRegistry maps node kinds to their executors.
type ExecutorRegistry struct {
	mu     sync.RWMutex
	byKind map[graph.NodeKind]NodeExecutor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{byKind: make(map[graph.NodeKind]NodeExecutor)}
}

// Register binds an executor to a node kind, replacing any previous one.
func (r *ExecutorRegistry) Register(kind graph.NodeKind, executor NodeExecutor) {
	r.mu.Lock()
	r.byKind[kind] = executor
	r.mu.Unlock()
}

// Has reports whether the kind has an executor.
func (r *ExecutorRegistry) Has(kind graph.NodeKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKind[kind]
	return ok
}

// For returns the executor for a node kind.
func (r *ExecutorRegistry) For(kind graph.NodeKind) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.byKind[kind]
	if !ok {
		return nil, errors.New(errors.KindNodeExecution,
			"no executor registered for %s nodes", kind)
	}
	return executor, nil
}

// ExecutorFunc adapts a function to the NodeExecutor interface.
type ExecutorFunc func(ctx context.Context, node *graph.Node, inputs map[string]any, rc RunContext) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, node *graph.Node, inputs map[string]any, rc RunContext) (any, error) {
	return f(ctx, node, inputs, rc)
}

// RegisterBuiltins installs the pass-through executors for the structural
// node kinds. Start and input nodes hand the initial input forward; end,
// output, default, transform, and image nodes forward their gathered inputs.
func RegisterBuiltins(registry *ExecutorRegistry) {
	passInitial := ExecutorFunc(func(_ context.Context, _ *graph.Node, inputs map[string]any, rc RunContext) (any, error) {
		if len(rc.InitialInput) > 0 {
			return rc.InitialInput, nil
		}
		return inputs, nil
	})
	passInputs := ExecutorFunc(func(_ context.Context, _ *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
		return inputs, nil
	})

	registry.Register(graph.KindStart, passInitial)
	registry.Register(graph.KindInput, passInitial)
	registry.Register(graph.KindEnd, passInputs)
	registry.Register(graph.KindOutput, passInputs)
	registry.Register(graph.KindDefault, passInputs)
	registry.Register(graph.KindTransform, passInputs)
	registry.Register(graph.KindImage, passInputs)
}

// HTTPNodeExecutor runs http-kind nodes: it issues the configured request,
// sending the gathered inputs as a JSON body for mutating methods.
type HTTPNodeExecutor struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPNodeExecutor creates the executor, defaulting to a plain client.
// Per-node deadlines come from the run context, not the client.
func NewHTTPNodeExecutor(client *http.Client, logger logging.Logger) *HTTPNodeExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPNodeExecutor{client: client, logger: logging.OrNop(logger)}
}

func (e *HTTPNodeExecutor) Execute(ctx context.Context, node *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
	url := node.StringConfig(graph.ConfigKeyURL)
	method := strings.ToUpper(node.StringConfig(graph.ConfigKeyMethod))

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead && len(inputs) > 0 {
		payload, err := jsonx.Marshal(inputs)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindNodeExecution,
				"inputs for node %q do not marshal", node.ID)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNodeExecution,
			"cannot build request for node %q", node.ID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(err, errors.KindTimeout,
				"node %q request exceeded its deadline", node.ID)
		}
		return nil, errors.Wrap(err, errors.KindNodeExecution,
			"node %q request failed", node.ID)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNodeExecution,
			"cannot read response for node %q", node.ID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		nodeErr := errors.New(errors.KindNodeExecution,
			"node %q got status %d from %s", node.ID, resp.StatusCode, url).
			WithMeta("status", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			nodeErr = nodeErr.AsRetryable()
		}
		return nil, nodeErr
	}

	var out any
	if err := jsonx.Unmarshal(payload, &out); err != nil {
		return string(payload), nil
	}
	return out, nil
}

// ScriptNodeExecutor runs python and javascript nodes by piping the inline
// code to the interpreter. Inputs arrive as JSON on stdin; stdout is decoded
// as the node output.
type ScriptNodeExecutor struct {
	pythonBin string
	nodeBin   string
	logger    logging.Logger
}

// NewScriptNodeExecutor creates the executor using the given interpreter
// binaries, defaulting to python3 and node on PATH.
func NewScriptNodeExecutor(pythonBin, nodeBin string, logger logging.Logger) *ScriptNodeExecutor {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if nodeBin == "" {
		nodeBin = "node"
	}
	return &ScriptNodeExecutor{pythonBin: pythonBin, nodeBin: nodeBin, logger: logging.OrNop(logger)}
}

func (e *ScriptNodeExecutor) Execute(ctx context.Context, node *graph.Node, inputs map[string]any, _ RunContext) (any, error) {
	code := node.StringConfig(graph.ConfigKeyCode)

	var cmd *exec.Cmd
	switch node.Kind {
	case graph.KindPython:
		cmd = exec.CommandContext(ctx, e.pythonBin, "-c", code)
	case graph.KindJavaScript:
		cmd = exec.CommandContext(ctx, e.nodeBin, "-e", code)
	default:
		return nil, errors.New(errors.KindNodeExecution,
			"script executor cannot run %s nodes", node.Kind)
	}

	stdin, err := jsonx.Marshal(inputs)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNodeExecution,
			"inputs for node %q do not marshal", node.ID)
	}
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(ctx.Err(), errors.KindTimeout,
				"node %q script exceeded its deadline", node.ID)
		}
		return nil, errors.Wrap(err, errors.KindNodeExecution,
			"node %q script failed: %s", node.ID, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var decoded any
	if err := jsonx.Unmarshal(out, &decoded); err != nil {
		return string(out), nil
	}
	return decoded, nil
}

// ToolNodeExecutor bridges tool-kind nodes to the shared tool engine. The
// node's tool_id resolves through the repository to the tool name the engine
// indexes by.
type ToolNodeExecutor struct {
	engine  *toolengine.Engine
	resolve func(ctx context.Context, toolID string) (string, error)
}

// NewToolNodeExecutor creates the executor. resolve maps a tool_id to the
// engine's tool name; pass nil to use the id verbatim.
func NewToolNodeExecutor(engine *toolengine.Engine, resolve func(ctx context.Context, toolID string) (string, error)) *ToolNodeExecutor {
	return &ToolNodeExecutor{engine: engine, resolve: resolve}
}

func (e *ToolNodeExecutor) Execute(ctx context.Context, node *graph.Node, inputs map[string]any, rc RunContext) (any, error) {
	toolID := node.ToolID()
	if toolID == "" {
		return nil, errors.New(errors.KindNodeExecution,
			"node %q has no tool_id", node.ID)
	}

	name := toolID
	if e.resolve != nil {
		resolved, err := e.resolve(ctx, toolID)
		if err != nil {
			return nil, err
		}
		name = resolved
	}

	params := make(map[string]any, len(inputs))
	for k, v := range inputs {
		params[k] = v
	}
	if declared, ok := node.Config["params"].(map[string]any); ok {
		for k, v := range declared {
			params[k] = v
		}
	}

	result, err := e.engine.Execute(ctx, toolengine.Call{
		ToolName:   name,
		Params:     params,
		CallerType: knowledgedomain.CallerWorkflowNode,
		CallerID:   node.ID,
		WorkflowID: rc.WorkflowID,
		RunID:      rc.RunID,
	})
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}
