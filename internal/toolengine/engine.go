package toolengine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	knowledgedomain "weave/internal/domain/knowledge"
	"weave/internal/domain/tool"
	"weave/internal/errors"
	"weave/internal/events"
	"weave/internal/knowledge"
	"weave/internal/shared/id"
	"weave/internal/shared/logging"
)

// Config tunes the engine's concurrency and caching behavior.
type Config struct {
	GlobalConcurrency  int
	DefaultConcurrency int
	CacheSize          int
	CacheTTL           time.Duration
	CacheSkip          []string
	DefaultTimeout     time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:  64,
		DefaultConcurrency: 4,
		CacheSize:          defaultCacheSize,
		CacheTTL:           defaultCacheTTL,
		DefaultTimeout:     30 * time.Second,
	}
}

// Call identifies one tool invocation for validation, admission, and audit.
type Call struct {
	ToolName       string
	Params         map[string]any
	CallerType     knowledgedomain.CallerType
	CallerID       string
	ConversationID string
	WorkflowID     string
	RunID          string
	NoCache        bool
}

// Result is the outcome of one tool invocation.
type Result struct {
	Output   any
	Cached   bool
	Duration time.Duration
	TraceID  string
}

// Engine is the shared tool catalog. It indexes tools by name, tag, and
// category, admits executions through the limiter, serves repeat calls from
// the result cache, and records every call in the audit store.
type Engine struct {
	mu         sync.RWMutex
	byName     map[string]*tool.Tool
	byTag      map[string]map[string]bool
	byCategory map[tool.Category]map[string]bool

	config    Config
	executors *ExecutorRegistry
	limiter   *Limiter
	cache     *ResultCache
	metrics   *Metrics
	bus       *events.Bus
	audit     knowledge.Store
	tracer    trace.Tracer
	logger    logging.Logger
}

// NewEngine builds an engine with the given executors and event bus. The
// audit store is attached later via SetKnowledgeStore so the composition
// root can break the startup cycle.
func NewEngine(config Config, executors *ExecutorRegistry, bus *events.Bus, metrics *Metrics, logger logging.Logger) (*Engine, error) {
	if config.GlobalConcurrency <= 0 {
		config.GlobalConcurrency = 64
	}
	if config.DefaultConcurrency <= 0 {
		config.DefaultConcurrency = 4
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	logger = logging.OrNop(logger)

	cache, err := NewResultCache(config.CacheSize, config.CacheTTL, config.CacheSkip, logger)
	if err != nil {
		return nil, err
	}
	if executors == nil {
		executors = NewExecutorRegistry()
	}

	return &Engine{
		byName:     make(map[string]*tool.Tool),
		byTag:      make(map[string]map[string]bool),
		byCategory: make(map[tool.Category]map[string]bool),
		config:     config,
		executors:  executors,
		limiter:    NewLimiter(config.GlobalConcurrency, config.DefaultConcurrency, metrics),
		cache:      cache,
		metrics:    metrics,
		bus:        bus,
		tracer:     otel.Tracer("weave/toolengine"),
		logger:     logger,
	}, nil
}

// SetKnowledgeStore attaches the audit sink. Calls made before attachment
// are executed but not recorded.
func (e *Engine) SetKnowledgeStore(store knowledge.Store) {
	e.mu.Lock()
	e.audit = store
	e.mu.Unlock()
}

// Load reads every manifest in dir (non-recursive) and registers the tools.
// A broken manifest fails the whole load so a partial catalog never serves.
func (e *Engine) Load(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindRepositoryUnavailable,
			"cannot read tool directory %s", dir)
	}

	var loaded []*tool.Tool
	for _, entry := range entries {
		if entry.IsDir() || !isManifestPath(entry.Name()) {
			continue
		}
		t, err := loadManifestFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return 0, err
		}
		loaded = append(loaded, t)
	}

	for _, t := range loaded {
		if err := e.Register(t); err != nil {
			return 0, err
		}
	}
	e.logger.Info("loaded %d tool manifests from %s", len(loaded), dir)
	return len(loaded), nil
}

// Register adds or replaces a tool in the catalog, keyed by name.
func (e *Engine) Register(t *tool.Tool) error {
	if t == nil || strings.TrimSpace(t.Name) == "" {
		return errors.New(errors.KindValidation, "tool name is required")
	}

	e.mu.Lock()
	_, replacing := e.byName[t.Name]
	if replacing {
		e.unindexLocked(t.Name)
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	e.byName[t.Name] = t
	e.indexLocked(t)
	e.mu.Unlock()

	if replacing {
		e.cache.Invalidate(t.Name)
	}
	eventType := events.ToolRegistered
	if replacing {
		eventType = events.ToolUpdated
	}
	e.publish(events.Event{
		Type:    eventType,
		Payload: map[string]any{"tool": t.Name, "version": t.Version},
	})
	return nil
}

// Remove drops a tool from the catalog. Removing an absent tool is a no-op.
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	_, existed := e.byName[name]
	if existed {
		e.unindexLocked(name)
		delete(e.byName, name)
	}
	e.mu.Unlock()

	if !existed {
		return
	}
	e.cache.Invalidate(name)
	e.publish(events.Event{
		Type:    events.ToolRemoved,
		Payload: map[string]any{"tool": name},
	})
}

func (e *Engine) indexLocked(t *tool.Tool) {
	for _, tag := range t.Tags {
		if e.byTag[tag] == nil {
			e.byTag[tag] = make(map[string]bool)
		}
		e.byTag[tag][t.Name] = true
	}
	if e.byCategory[t.Category] == nil {
		e.byCategory[t.Category] = make(map[string]bool)
	}
	e.byCategory[t.Category][t.Name] = true
}

func (e *Engine) unindexLocked(name string) {
	old, ok := e.byName[name]
	if !ok {
		return
	}
	for _, tag := range old.Tags {
		delete(e.byTag[tag], name)
		if len(e.byTag[tag]) == 0 {
			delete(e.byTag, tag)
		}
	}
	delete(e.byCategory[old.Category], name)
	if len(e.byCategory[old.Category]) == 0 {
		delete(e.byCategory, old.Category)
	}
}

// Get returns the tool with the given name.
func (e *Engine) Get(name string) (*tool.Tool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.byName[name]
	if !ok {
		return nil, errors.New(errors.KindToolNotFound, "tool %q is not registered", name).
			WithMeta("tool", name)
	}
	return t, nil
}

// List returns every registered tool sorted by name.
func (e *Engine) List() []*tool.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*tool.Tool, 0, len(e.byName))
	for _, t := range e.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindByTag returns the tools carrying the tag, sorted by name.
func (e *Engine) FindByTag(tag string) []*tool.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectLocked(e.byTag[tag])
}

// FindByCategory returns the tools in the category, sorted by name.
func (e *Engine) FindByCategory(category tool.Category) []*tool.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectLocked(e.byCategory[category])
}

func (e *Engine) collectLocked(names map[string]bool) []*tool.Tool {
	out := make([]*tool.Tool, 0, len(names))
	for name := range names {
		if t, ok := e.byName[name]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one tool call through the full pipeline: lookup, status
// check, parameter validation, cache probe, admission, execution, audit.
// Every call is audited, cached hits and failures included.
func (e *Engine) Execute(ctx context.Context, call Call) (*Result, error) {
	started := time.Now()

	ctx, span := e.tracer.Start(ctx, "tool.execute")
	defer span.End()
	traceID := id.NewTraceID()
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	t, err := e.Get(call.ToolName)
	if err != nil {
		e.record(ctx, call, nil, false, traceID, time.Since(started), err)
		return nil, err
	}
	if t.Deprecated() {
		err := errors.New(errors.KindToolDeprecated,
			"tool %q is deprecated and cannot be invoked", t.Name).
			WithMeta("tool", t.Name)
		e.record(ctx, call, nil, false, traceID, time.Since(started), err)
		return nil, err
	}

	effective, issues := ValidateParams(t, call.Params)
	if len(issues) > 0 {
		err := paramsError(t, issues)
		e.record(ctx, call, nil, false, traceID, time.Since(started), err)
		return nil, err
	}

	if !call.NoCache {
		if output, hit := e.cache.Get(t.Name, effective); hit {
			e.metrics.cacheHit(t.Name)
			duration := time.Since(started)
			auditCall := call
			auditCall.Params = effective
			e.record(ctx, auditCall, output, true, traceID, duration, nil)
			return &Result{Output: output, Cached: true, Duration: duration, TraceID: traceID}, nil
		}
	}

	release, err := e.limiter.Acquire(ctx, t.Name, t.Concurrency)
	if err != nil {
		e.record(ctx, call, nil, false, traceID, time.Since(started), err)
		return nil, err
	}
	defer release()

	executor, err := e.executors.For(t)
	if err != nil {
		e.record(ctx, call, nil, false, traceID, time.Since(started), err)
		return nil, err
	}

	execCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.config.DefaultTimeout)
		defer cancel()
	}

	output, execErr := executor.Execute(execCtx, t, effective)
	duration := time.Since(started)

	e.mu.Lock()
	t.UsageCount++
	e.mu.Unlock()

	auditCall := call
	auditCall.Params = effective
	e.record(ctx, auditCall, output, false, traceID, duration, execErr)

	if execErr != nil {
		e.metrics.execution(t.Name, "error", duration.Seconds())
		return nil, execErr
	}
	e.metrics.execution(t.Name, "success", duration.Seconds())
	e.cache.Put(t.Name, effective, output)

	return &Result{Output: output, Duration: duration, TraceID: traceID}, nil
}

func (e *Engine) record(ctx context.Context, call Call, output any, cached bool, traceID string, duration time.Duration, execErr error) {
	e.mu.RLock()
	audit := e.audit
	e.mu.RUnlock()
	if audit == nil {
		return
	}

	record := knowledgedomain.CallRecord{
		ToolName:       call.ToolName,
		CallerType:     call.CallerType,
		CallerID:       call.CallerID,
		ConversationID: call.ConversationID,
		WorkflowID:     call.WorkflowID,
		RunID:          call.RunID,
		Params:         call.Params,
		Success:        execErr == nil,
		Output:         output,
		Cached:         cached,
		Duration:       duration,
		TraceID:        traceID,
	}
	if execErr != nil {
		record.ErrorKind = string(errors.KindOf(execErr))
		record.Error = execErr.Error()
	}
	if err := audit.Record(ctx, record); err != nil {
		e.logger.Warn("audit record for %q failed: %v", call.ToolName, err)
	}
}

func (e *Engine) publish(event events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event)
}
