package toolengine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"weave/internal/domain/tool"
	"weave/internal/errors"
	"weave/internal/shared/jsonx"
	"weave/internal/shared/logging"
)

// Executor invokes one entry-kind family of tools.
type Executor interface {
	Execute(ctx context.Context, t *tool.Tool, params map[string]any) (any, error)
}

// BuiltinHandler is an in-process tool implementation registered by name.
type BuiltinHandler func(ctx context.Context, params map[string]any) (any, error)

// BuiltinExecutor dispatches builtin entries to registered Go handlers.
type BuiltinExecutor struct {
	handlers map[string]BuiltinHandler
}

// NewBuiltinExecutor creates an executor with no handlers registered.
func NewBuiltinExecutor() *BuiltinExecutor {
	return &BuiltinExecutor{handlers: make(map[string]BuiltinHandler)}
}

// RegisterHandler binds a handler name used in manifests to its function.
func (e *BuiltinExecutor) RegisterHandler(name string, handler BuiltinHandler) {
	e.handlers[name] = handler
}

func (e *BuiltinExecutor) Execute(ctx context.Context, t *tool.Tool, params map[string]any) (any, error) {
	handler, ok := e.handlers[t.Entry.Handler]
	if !ok {
		return nil, errors.New(errors.KindToolExecutionFailed,
			"builtin handler %q for tool %q is not registered", t.Entry.Handler, t.Name)
	}
	out, err := handler(ctx, params)
	if err != nil {
		if errors.KindOf(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.KindToolExecutionFailed,
			"builtin tool %q failed", t.Name)
	}
	return out, nil
}

// HTTPExecutor posts the parameter map as JSON to the entry URL and decodes
// the JSON response body.
type HTTPExecutor struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPExecutor creates an executor backed by client, or a default client
// with a 30s overall timeout when client is nil.
func NewHTTPExecutor(client *http.Client, logger logging.Logger) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client, logger: logging.OrNop(logger)}
}

func (e *HTTPExecutor) Execute(ctx context.Context, t *tool.Tool, params map[string]any) (any, error) {
	body, err := jsonx.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidRequest,
			"parameters for tool %q do not marshal", t.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Entry.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindToolExecutionFailed,
			"cannot build request for tool %q", t.Name)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := t.Entry.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		kind := errors.KindToolExecutionFailed
		if ctx.Err() == context.DeadlineExceeded {
			kind = errors.KindTimeout
		}
		return nil, errors.Wrap(err, kind, "http tool %q failed", t.Name)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindToolExecutionFailed,
			"cannot read response from tool %q", t.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := errors.New(errors.KindToolExecutionFailed,
			"http tool %q returned status %d", t.Name, resp.StatusCode).
			WithMeta("status", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			statusErr = statusErr.AsRetryable()
		}
		return nil, statusErr
	}

	var out any
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	if err := jsonx.Unmarshal(payload, &out); err != nil {
		// Non-JSON bodies pass through as text.
		return string(payload), nil
	}
	return out, nil
}

// ScriptExecutor runs python and javascript entries as subprocesses. The
// parameter map is written as JSON on stdin; stdout is decoded as the result.
type ScriptExecutor struct {
	pythonBin string
	nodeBin   string
	logger    logging.Logger
}

// NewScriptExecutor creates a script executor using the given interpreter
// binaries, defaulting to python3 and node on PATH.
func NewScriptExecutor(pythonBin, nodeBin string, logger logging.Logger) *ScriptExecutor {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if nodeBin == "" {
		nodeBin = "node"
	}
	return &ScriptExecutor{pythonBin: pythonBin, nodeBin: nodeBin, logger: logging.OrNop(logger)}
}

func (e *ScriptExecutor) Execute(ctx context.Context, t *tool.Tool, params map[string]any) (any, error) {
	var bin string
	switch t.Entry.Kind {
	case tool.EntryPython:
		bin = e.pythonBin
	case tool.EntryJavaScript:
		bin = e.nodeBin
	default:
		return nil, errors.New(errors.KindToolExecutionFailed,
			"script executor cannot run %s entries", t.Entry.Kind)
	}

	input, err := jsonx.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidRequest,
			"parameters for tool %q do not marshal", t.Name)
	}

	cmd := exec.CommandContext(ctx, bin, t.Entry.Handler)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(ctx.Err(), errors.KindTimeout,
				"script tool %q timed out", t.Name)
		}
		detail := strings.TrimSpace(stderr.String())
		return nil, errors.Wrap(err, errors.KindToolExecutionFailed,
			"script tool %q failed: %s", t.Name, detail)
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

// ExecutorRegistry routes tools to the executor for their entry kind.
type ExecutorRegistry struct {
	byKind map[tool.EntryKind]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{byKind: make(map[tool.EntryKind]Executor)}
}

// Register binds an executor to an entry kind.
func (r *ExecutorRegistry) Register(kind tool.EntryKind, executor Executor) {
	r.byKind[kind] = executor
}

// For returns the executor for the tool's entry kind.
func (r *ExecutorRegistry) For(t *tool.Tool) (Executor, error) {
	executor, ok := r.byKind[t.Entry.Kind]
	if !ok {
		return nil, errors.New(errors.KindToolExecutionFailed,
			"no executor registered for %s entries", t.Entry.Kind)
	}
	return executor, nil
}
