// weave-server is the runtime daemon: it loads the configuration, composes
// the engine, orchestrator, lifecycle manager, and canvas fabric around one
// shared event bus, and serves the HTTP and websocket API until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"weave/internal/canvas"
	"weave/internal/config"
	"weave/internal/domain/graph"
	"weave/internal/domain/tool"
	"weave/internal/events"
	"weave/internal/knowledge"
	"weave/internal/lifecycle"
	"weave/internal/llm"
	"weave/internal/orchestrator"
	"weave/internal/react"
	"weave/internal/server"
	"weave/internal/shared/logging"
	"weave/internal/storage/memstore"
	"weave/internal/toolengine"
	"weave/internal/workflow"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "weave-server",
		Short:         "Agent workflow runtime",
		Long:          "weave-server runs the workflow validator, DAG executor, ReAct orchestrator, tool engine, lifecycle manager, and canvas sync fabric behind one HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("weave-server %s\n", version)
		},
	})
	return rootCmd
}

func run(parent context.Context, cfg config.Config) error {
	applyLogLevel(cfg.Logging.Level)
	logger := logging.NewComponentLogger("server")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	bus := events.NewBus(logging.NewComponentLogger("events"))

	workflows := memstore.NewWorkflowStore()
	toolRepo := memstore.NewToolStore()
	callLog := knowledge.NewCallLog(cfg.Knowledge.MaxCallRecords, logging.NewComponentLogger("knowledge"))
	notes := knowledge.NewNoteManager(logging.NewComponentLogger("knowledge"))

	engine, err := buildToolEngine(ctx, cfg, bus, registry, toolRepo, callLog)
	if err != nil {
		return err
	}

	nodeRegistry := workflow.NewExecutorRegistry()
	workflow.RegisterBuiltins(nodeRegistry)
	nodeRegistry.Register(graph.KindHTTP, workflow.NewHTTPNodeExecutor(nil, logging.NewComponentLogger("workflow")))
	scripts := workflow.NewScriptNodeExecutor("", "", logging.NewComponentLogger("workflow"))
	nodeRegistry.Register(graph.KindPython, scripts)
	nodeRegistry.Register(graph.KindJavaScript, scripts)
	nodeRegistry.Register(graph.KindTool, workflow.NewToolNodeExecutor(engine, func(ctx context.Context, toolID string) (string, error) {
		t, err := toolRepo.Get(ctx, toolID)
		if err != nil {
			return "", err
		}
		return t.Name, nil
	}))

	validator := workflow.NewValidator(toolRepo, nodeRegistry, logging.NewComponentLogger("validator"))
	confirms := orchestrator.NewConfirmBroker()
	entry := orchestrator.NewEntry(validator, nodeRegistry, workflows, toolRepo, bus, confirms, orchestrator.Config{
		MaxAttempts:         cfg.Repair.MaxAttempts,
		RequireConfirmation: cfg.Repair.RequireConfirmation,
		Runner: workflow.RunnerConfig{
			DefaultNodeTimeout: cfg.Runner.DefaultNodeTimeout,
			BackoffBase:        cfg.Runner.BackoffBase,
		},
	}, logging.NewComponentLogger("orchestrator"))
	entry.SetMetrics(orchestrator.NewMetrics(registry))

	reactLoop := buildReactLoop(cfg, nodeRegistry, bus, logger)

	scheduler := lifecycle.NewScheduler(lifecycle.SchedulerConfig{
		MaxConcurrentAgents: cfg.Scheduler.MaxConcurrentAgents,
		CPUQuota:            cfg.Scheduler.CPUQuota,
		MemoryQuotaMB:       cfg.Scheduler.MemoryQuotaMB,
		GPUQuotaMB:          cfg.Scheduler.GPUQuotaMB,
		Policy:              lifecycle.Policy(cfg.Scheduler.Policy),
	})
	execLog := lifecycle.NewExecutionLogger(cfg.Scheduler.ExecutionLogCapacity)
	manager := lifecycle.NewManager(scheduler, execLog, bus,
		lifecycle.NewManagerMetrics(registry), logging.NewComponentLogger("lifecycle"))

	fabric := canvas.NewFabric(canvas.Config{
		AckTimeout:    cfg.Canvas.AckTimeout,
		MaxRetries:    cfg.Canvas.MaxRetries,
		SweepInterval: cfg.Canvas.SweepInterval,
		DedupSize:     cfg.Canvas.DedupSize,
	}, logging.NewComponentLogger("canvas"))
	detach := fabric.AttachBus(bus)
	defer detach()
	go fabric.Run(ctx)

	srv := server.New(server.Deps{
		Config:    cfg,
		Validator: validator,
		Entry:     entry,
		Confirms:  confirms,
		Workflows: workflows,
		Engine:    engine,
		CallLog:   callLog,
		Notes:     notes,
		Manager:   manager,
		ExecLog:   execLog,
		Fabric:    fabric,
		React:     reactLoop,
		Gatherer:  registry,
		Logger:    logger,
	})
	return srv.Start(ctx)
}

// buildToolEngine assembles the engine, loads the manifest directory, mirrors
// the catalog into the tool repository, and starts the manifest watcher.
func buildToolEngine(
	ctx context.Context,
	cfg config.Config,
	bus *events.Bus,
	registry *prometheus.Registry,
	toolRepo *memstore.ToolStore,
	callLog *knowledge.CallLog,
) (*toolengine.Engine, error) {
	logger := logging.NewComponentLogger("toolengine")

	executors := toolengine.NewExecutorRegistry()
	executors.Register(tool.EntryBuiltin, toolengine.NewBuiltinExecutor())
	executors.Register(tool.EntryHTTP, toolengine.NewHTTPExecutor(nil, logger))
	scripts := toolengine.NewScriptExecutor("", "", logger)
	executors.Register(tool.EntryPython, scripts)
	executors.Register(tool.EntryJavaScript, scripts)

	engine, err := toolengine.NewEngine(toolengine.Config{
		GlobalConcurrency:  cfg.Tools.GlobalConcurrency,
		DefaultConcurrency: cfg.Tools.DefaultConcurrency,
		CacheSize:          cfg.Tools.CacheSize,
		CacheTTL:           cfg.Tools.CacheTTL,
		DefaultTimeout:     cfg.Tools.DefaultTimeout,
	}, executors, bus, toolengine.NewMetrics(registry), logger)
	if err != nil {
		return nil, err
	}
	engine.SetKnowledgeStore(callLog)

	// The validator reads the tool repository; mirror the engine catalog so
	// the two never disagree.
	bus.Subscribe(func(event events.Event) {
		switch event.Type {
		case events.ToolRegistered, events.ToolUpdated:
			name, _ := event.Payload["tool"].(string)
			if t, err := engine.Get(name); err == nil {
				if saveErr := toolRepo.Save(ctx, t); saveErr != nil {
					logger.Warn("mirror tool %s: %v", name, saveErr)
				}
			}
		case events.ToolRemoved:
			name, _ := event.Payload["tool"].(string)
			if t, err := toolRepo.GetByName(ctx, name); err == nil {
				if delErr := toolRepo.Delete(ctx, t.ID); delErr != nil {
					logger.Warn("unmirror tool %s: %v", name, delErr)
				}
			}
		}
	})

	if _, err := os.Stat(cfg.Tools.Dir); err == nil {
		count, err := engine.Load(cfg.Tools.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded %d tools from %s", count, cfg.Tools.Dir)

		if cfg.Tools.Watch {
			watcher, err := toolengine.NewWatcher(engine, cfg.Tools.Dir, logger)
			if err != nil {
				return nil, err
			}
			go watcher.Run(ctx)
		}
	} else {
		logger.Warn("tool directory %s not found; starting with an empty catalog", cfg.Tools.Dir)
	}
	return engine, nil
}

// buildReactLoop wires the model-guided orchestrator, or returns nil when no
// model credentials are configured.
func buildReactLoop(cfg config.Config, nodeRegistry *workflow.ExecutorRegistry, bus *events.Bus, logger logging.Logger) *react.Orchestrator {
	model, err := llm.NewHTTPClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logging.NewComponentLogger("llm"))
	if err != nil {
		logger.Warn("react loop disabled: %v", err)
		return nil
	}
	runner := workflow.NewRunner(nodeRegistry, bus, workflow.RunnerConfig{
		DefaultNodeTimeout: cfg.Runner.DefaultNodeTimeout,
		BackoffBase:        cfg.Runner.BackoffBase,
	}, logging.NewComponentLogger("workflow"))
	return react.New(model, runner, bus, react.Config{
		MaxSteps:           cfg.React.MaxSteps,
		MaxIterations:      cfg.React.MaxIterations,
		MaxParseAttempts:   cfg.React.MaxParseAttempts,
		MessageTokenBudget: cfg.React.MessageTokenBudget,
	}, logging.NewComponentLogger("react"))
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		logging.SetLevel(logging.LevelDebug)
	case "warn":
		logging.SetLevel(logging.LevelWarn)
	case "error":
		logging.SetLevel(logging.LevelError)
	default:
		logging.SetLevel(logging.LevelInfo)
	}
}
