// Package server exposes the runtime over HTTP: workflow CRUD and runs,
// the tool catalog, knowledge queries, agent lifecycle, prometheus metrics,
// and the websocket canvas endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weave/internal/canvas"
	"weave/internal/config"
	"weave/internal/errors"
	"weave/internal/knowledge"
	"weave/internal/lifecycle"
	"weave/internal/orchestrator"
	"weave/internal/react"
	"weave/internal/shared/logging"
	"weave/internal/storage"
	"weave/internal/toolengine"
	"weave/internal/workflow"
)

// Deps carries everything the handlers need. All fields are required unless
// noted.
type Deps struct {
	Config    config.Config
	Validator *workflow.Validator
	Entry     *orchestrator.Entry
	Confirms  *orchestrator.ConfirmBroker
	Workflows storage.WorkflowRepository
	Engine    *toolengine.Engine
	CallLog   *knowledge.CallLog
	Notes     *knowledge.NoteManager
	Manager   *lifecycle.Manager
	ExecLog   *lifecycle.ExecutionLogger
	Fabric    *canvas.Fabric
	React     *react.Orchestrator // optional; react-run is rejected when nil
	Gatherer  prometheus.Gatherer // optional; /metrics is absent when nil
	Logger    logging.Logger
}

// Server is the HTTP front of the runtime.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger logging.Logger
}

// New builds the router. Start runs it.
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(deps.Config.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = deps.Config.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		deps:   deps,
		engine: engine,
		logger: logging.OrNop(deps.Logger),
	}
	s.routes()

	s.http = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // runs and websockets outlive any fixed write budget
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api/v1")

	api.GET("/workflows", s.listWorkflows)
	api.GET("/workflows/:id", s.getWorkflow)
	api.PUT("/workflows/:id", s.saveWorkflow)
	api.DELETE("/workflows/:id", s.deleteWorkflow)
	api.POST("/workflows/:id/validate", s.validateWorkflow)
	api.POST("/workflows/:id/run", s.runWorkflow)
	api.POST("/workflows/:id/react-run", s.reactRunWorkflow)
	api.POST("/confirmations/:id", s.resolveConfirmation)

	api.GET("/tools", s.listTools)
	api.GET("/tools/:name", s.getTool)
	api.POST("/tools", s.registerTool)
	api.DELETE("/tools/:name", s.removeTool)
	api.POST("/tools/:name/execute", s.executeTool)

	api.GET("/knowledge/calls", s.listCalls)
	api.GET("/knowledge/calls/summary", s.summarizeCalls)
	api.GET("/notes", s.listNotes)
	api.POST("/notes", s.createNote)
	api.PATCH("/notes/:id", s.updateNote)
	api.POST("/notes/:id/:action", s.transitionNote)

	api.GET("/agents", s.listAgents)
	api.POST("/agents", s.spawnAgent)
	api.GET("/agents/:id", s.getAgent)
	api.POST("/agents/:id/restart", s.restartAgent)
	api.DELETE("/agents/:id", s.terminateAgent)
	api.GET("/agents/:id/log", s.agentLog)

	s.engine.GET("/ws/workflows/:id", s.canvasSocket)
}

// Start serves until the context ends, then drains within the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.deps.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindParse, errors.KindInvalidRequest:
		return http.StatusBadRequest
	case errors.KindToolNotFound:
		return http.StatusNotFound
	case errors.KindToolDeprecated, errors.KindInvalidTransition, errors.KindBusiness:
		return http.StatusConflict
	case errors.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindRepositoryUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := errors.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	if meta := errors.MetaOf(err); len(meta) > 0 {
		body["meta"] = meta
	}
	c.JSON(statusOf(err), body)
}
