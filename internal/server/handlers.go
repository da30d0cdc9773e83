package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"weave/internal/domain/graph"
	knowledgedomain "weave/internal/domain/knowledge"
	"weave/internal/domain/tool"
	"weave/internal/errors"
	"weave/internal/knowledge"
	"weave/internal/lifecycle"
	"weave/internal/orchestrator"
	"weave/internal/toolengine"
	"weave/internal/workflow"
)

// --- workflows ---

func (s *Server) listWorkflows(c *gin.Context) {
	items, err := s.deps.Workflows.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": items})
}

func (s *Server) getWorkflow(c *gin.Context) {
	w, err := s.deps.Workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// saveWorkflow validates before persisting; rejected graphs are never
// written.
func (s *Server) saveWorkflow(c *gin.Context) {
	var w graph.Workflow
	if err := c.ShouldBindJSON(&w); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode workflow"))
		return
	}
	w.ID = c.Param("id")

	if issues := s.deps.Validator.Validate(c.Request.Context(), &w); len(issues) > 0 {
		s.fail(c, workflow.IssuesError(&w, issues))
		return
	}
	if err := s.deps.Workflows.Save(c.Request.Context(), &w); err != nil {
		s.fail(c, err)
		return
	}
	if s.deps.Fabric != nil {
		if _, err := s.deps.Fabric.SyncWorkflow(w.ID, &w); err != nil {
			s.logger.Warn("canvas sync after save: %v", err)
		}
	}
	c.JSON(http.StatusOK, &w)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	if err := s.deps.Workflows.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) validateWorkflow(c *gin.Context) {
	var w graph.Workflow
	if err := c.ShouldBindJSON(&w); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode workflow"))
		return
	}
	w.ID = c.Param("id")

	if issues := s.deps.Validator.Validate(c.Request.Context(), &w); len(issues) > 0 {
		c.JSON(http.StatusOK, gin.H{"valid": false, "issues": issues})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

type runRequest struct {
	InitialInput map[string]any `json:"initial_input"`
}

// runWorkflow launches the save-validate-run pipeline in the background;
// progress and the terminal outcome stream over the canvas socket.
func (s *Server) runWorkflow(c *gin.Context) {
	w, err := s.deps.Workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode run request"))
			return
		}
	}

	go func() {
		if _, err := s.deps.Entry.SaveAndRun(context.Background(), w, req.InitialInput); err != nil {
			s.logger.Warn("run of %s ended with error: %v", w.ID, err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": w.ID, "status": "accepted"})
}

// reactRunWorkflow drives the workflow through the model-guided loop instead
// of the plain DAG runner.
func (s *Server) reactRunWorkflow(c *gin.Context) {
	if s.deps.React == nil {
		s.fail(c, errors.New(errors.KindInvalidRequest, "no model is configured; react runs are disabled"))
		return
	}
	w, err := s.deps.Workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if issues := s.deps.Validator.Validate(c.Request.Context(), w); len(issues) > 0 {
		s.fail(c, workflow.IssuesError(w, issues))
		return
	}
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode run request"))
			return
		}
	}

	go func() {
		if _, err := s.deps.React.Run(context.Background(), w, req.InitialInput); err != nil {
			s.logger.Warn("react run of %s ended with error: %v", w.ID, err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": w.ID, "status": "accepted"})
}

type confirmRequest struct {
	Decision string `json:"decision" binding:"required"`
}

func (s *Server) resolveConfirmation(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode confirmation"))
		return
	}
	decision := orchestrator.Decision(req.Decision)
	if decision != orchestrator.DecisionAllow && decision != orchestrator.DecisionDeny {
		s.fail(c, errors.New(errors.KindInvalidRequest, "decision must be allow or deny"))
		return
	}
	if !s.deps.Confirms.Resolve(c.Param("id"), decision) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or already resolved confirmation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// --- tools ---

func (s *Server) listTools(c *gin.Context) {
	if tag := c.Query("tag"); tag != "" {
		c.JSON(http.StatusOK, gin.H{"tools": s.deps.Engine.FindByTag(tag)})
		return
	}
	if category := c.Query("category"); category != "" {
		c.JSON(http.StatusOK, gin.H{"tools": s.deps.Engine.FindByCategory(tool.Category(category))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": s.deps.Engine.List()})
}

func (s *Server) getTool(c *gin.Context) {
	t, err := s.deps.Engine.Get(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) registerTool(c *gin.Context) {
	var t tool.Tool
	if err := c.ShouldBindJSON(&t); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode tool"))
		return
	}
	if err := s.deps.Engine.Register(&t); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, &t)
}

func (s *Server) removeTool(c *gin.Context) {
	s.deps.Engine.Remove(c.Param("name"))
	c.Status(http.StatusNoContent)
}

type executeToolRequest struct {
	Params     map[string]any `json:"params"`
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	NoCache    bool           `json:"no_cache"`
}

func (s *Server) executeTool(c *gin.Context) {
	var req executeToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode execution request"))
		return
	}
	result, err := s.deps.Engine.Execute(c.Request.Context(), toolengine.Call{
		ToolName:   c.Param("name"),
		Params:     req.Params,
		CallerType: knowledgedomain.CallerOperator,
		CallerID:   c.GetHeader("X-Client-ID"),
		WorkflowID: req.WorkflowID,
		RunID:      req.RunID,
		NoCache:    req.NoCache,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"output":      result.Output,
		"cached":      result.Cached,
		"duration_ms": result.Duration.Milliseconds(),
		"trace_id":    result.TraceID,
	})
}

// --- knowledge ---

func callFilterFrom(c *gin.Context) knowledge.CallFilter {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return knowledge.CallFilter{
		RunID:      c.Query("run_id"),
		WorkflowID: c.Query("workflow_id"),
		ToolName:   c.Query("tool_name"),
		CallerID:   c.Query("caller_id"),
		Limit:      limit,
	}
}

func (s *Server) listCalls(c *gin.Context) {
	records, err := s.deps.CallLog.GetCalls(c.Request.Context(), callFilterFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (s *Server) summarizeCalls(c *gin.Context) {
	summary, err := s.deps.CallLog.Summarize(c.Request.Context(), callFilterFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listNotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notes": s.deps.Notes.List()})
}

type createNoteRequest struct {
	Kind    string   `json:"kind" binding:"required"`
	Owner   string   `json:"owner" binding:"required"`
	Content string   `json:"content" binding:"required"`
	Tags    []string `json:"tags"`
}

func (s *Server) createNote(c *gin.Context) {
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode note"))
		return
	}
	note, err := s.deps.Notes.Create(knowledgedomain.NoteKind(req.Kind), req.Owner, req.Content, req.Tags)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

type updateNoteRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) updateNote(c *gin.Context) {
	var req updateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode note update"))
		return
	}
	if err := s.deps.Notes.UpdateContent(c.Param("id"), req.Content); err != nil {
		s.fail(c, err)
		return
	}
	note, err := s.deps.Notes.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

type noteActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
	Owner  string `json:"owner"`
}

func (s *Server) transitionNote(c *gin.Context) {
	var req noteActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode note action"))
			return
		}
	}
	noteID := c.Param("id")

	var err error
	switch c.Param("action") {
	case "submit":
		err = s.deps.Notes.Submit(noteID, req.Actor)
	case "approve":
		err = s.deps.Notes.Approve(noteID, req.Actor)
	case "reject":
		err = s.deps.Notes.Reject(noteID, req.Actor, req.Reason)
	case "archive":
		err = s.deps.Notes.Archive(noteID, req.Actor)
	case "fork":
		var forked *knowledgedomain.Note
		forked, err = s.deps.Notes.Fork(noteID, req.Owner)
		if err == nil {
			c.JSON(http.StatusCreated, forked)
			return
		}
	default:
		s.fail(c, errors.New(errors.KindInvalidRequest, "unknown note action %q", c.Param("action")))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	note, getErr := s.deps.Notes.Get(noteID)
	if getErr != nil {
		s.fail(c, getErr)
		return
	}
	c.JSON(http.StatusOK, note)
}

// --- agents ---

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.deps.Manager.List()})
}

type spawnRequest struct {
	ID        string              `json:"id" binding:"required"`
	Type      string              `json:"type" binding:"required"`
	Config    map[string]any      `json:"config"`
	Resources lifecycle.Resources `json:"resources"`
}

func (s *Server) spawnAgent(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode spawn request"))
		return
	}
	agent, err := s.deps.Manager.Spawn(c.Request.Context(), req.ID, req.Type, req.Config, req.Resources)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.deps.Manager.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) restartAgent(c *gin.Context) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errors.Wrap(err, errors.KindInvalidRequest, "decode restart request"))
			return
		}
	}
	agent, err := s.deps.Manager.Restart(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) terminateAgent(c *gin.Context) {
	agent, err := s.deps.Manager.Terminate(c.Request.Context(), c.Param("id"), c.Query("reason"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) agentLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries := s.deps.ExecLog.Entries(lifecycle.LogFilter{
		AgentID: c.Param("id"),
		Type:    lifecycle.LogEntryType(c.Query("type")),
		Limit:   limit,
	})
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
