package workflow

import (
	"context"
	"fmt"

	"weave/internal/domain/graph"
	"weave/internal/errors"
	"weave/internal/shared/logging"
	"weave/internal/storage"
)

// Validator checks a workflow before every persistence write. Validation is
// fail-closed: if the tool repository cannot answer, the workflow is
// rejected, never waved through.
type Validator struct {
	tools     storage.ToolRepository
	executors *ExecutorRegistry
	logger    logging.Logger
}

// NewValidator creates a validator backed by the tool repository and the
// node executor registry.
func NewValidator(tools storage.ToolRepository, executors *ExecutorRegistry, logger logging.Logger) *Validator {
	return &Validator{
		tools:     tools,
		executors: executors,
		logger:    logging.OrNop(logger),
	}
}

// Validate normalizes w in place, then runs the ordered check procedure.
// An empty result means the workflow may be persisted.
func (v *Validator) Validate(ctx context.Context, w *graph.Workflow) []Issue {
	var issues []Issue

	w.Normalize()

	if len(w.Nodes) == 0 {
		return []Issue{issuef(CodeEmptyWorkflow, "nodes", "workflow has no nodes")}
	}

	issues = append(issues, v.checkMainSubgraph(w)...)
	issues = append(issues, checkNodeIDs(w)...)
	issues = append(issues, checkEdges(w)...)

	if _, cyclic := graph.TopologicalOrder(w); len(cyclic) > 0 {
		issue := issuef(CodeCycleDetected, "edges", "workflow contains a cycle")
		issue.Meta = map[string]any{"nodes": cyclic}
		issues = append(issues, issue)
	}

	issues = append(issues, v.checkNodes(ctx, w)...)

	if len(issues) > 0 {
		v.logger.Debug("workflow %s rejected with %d issues", w.ID, len(issues))
	}
	return issues
}

func (v *Validator) checkMainSubgraph(w *graph.Workflow) []Issue {
	sub := graph.ComputeMainSubgraph(w)

	var issues []Issue
	if len(sub.Starts) == 0 {
		issues = append(issues, issuef(CodeMissingStart, "nodes", "workflow has no start node"))
	}
	if len(sub.Ends) == 0 {
		issues = append(issues, issuef(CodeMissingEnd, "nodes", "workflow has no end node"))
	}
	if len(issues) > 0 {
		return issues
	}

	if len(sub.Members) == 0 {
		return []Issue{issuef(CodeNoStartToEndPath, "edges", "no path connects a start node to an end node")}
	}
	if len(sub.Intermediate) == 0 {
		return []Issue{issuef(CodeMissingIntermediateNodes, "nodes",
			"the start-to-end path needs at least one intermediate node")}
	}
	return nil
}

func checkNodeIDs(w *graph.Workflow) []Issue {
	seen := make(map[string]bool, len(w.Nodes))
	var duplicates []string
	for _, n := range w.Nodes {
		if seen[n.ID] {
			duplicates = append(duplicates, n.ID)
			continue
		}
		seen[n.ID] = true
	}
	if len(duplicates) == 0 {
		return nil
	}
	issue := issuef(CodeDuplicateNodeID, "nodes", "duplicate node ids: %v", duplicates)
	issue.Meta = map[string]any{"ids": duplicates}
	return []Issue{issue}
}

func checkEdges(w *graph.Workflow) []Issue {
	known := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		known[n.ID] = true
	}

	var issues []Issue
	for i, e := range w.Edges {
		if !known[e.Source] {
			issues = append(issues, issuef(CodeMissingNode,
				fmt.Sprintf("edges[%d].source_node_id", i),
				"edge %s references unknown source node %q", e.ID, e.Source))
		}
		if !known[e.Target] {
			issues = append(issues, issuef(CodeMissingNode,
				fmt.Sprintf("edges[%d].target_node_id", i),
				"edge %s references unknown target node %q", e.ID, e.Target))
		}
	}
	return issues
}

func (v *Validator) checkNodes(ctx context.Context, w *graph.Workflow) []Issue {
	var issues []Issue
	for i := range w.Nodes {
		node := &w.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if !node.Kind.Valid() {
			issues = append(issues, issuef(CodeInvalidConfig, path+".type",
				"node %q has unknown kind %q", node.ID, node.Kind))
			continue
		}
		if v.executors != nil && !v.executors.Has(node.Kind) {
			issues = append(issues, issuef(CodeMissingExecutor, path+".type",
				"no executor registered for %s nodes", node.Kind))
			continue
		}

		switch {
		case node.Kind.IsScript():
			if node.StringConfig(graph.ConfigKeyCode) == "" {
				issues = append(issues, issuef(CodeMissingCode, path+".config.code",
					"node %q requires a code string", node.ID))
			}
		case node.Kind == graph.KindHTTP:
			if node.StringConfig(graph.ConfigKeyURL) == "" {
				issues = append(issues, issuef(CodeMissingURL, path+".config.url",
					"node %q requires a url", node.ID))
			}
			if node.StringConfig(graph.ConfigKeyMethod) == "" {
				issues = append(issues, issuef(CodeMissingMethod, path+".config.method",
					"node %q requires a method", node.ID))
			}
		case node.Kind == graph.KindTool:
			issues = append(issues, v.checkToolNode(ctx, node, path)...)
		}
	}
	return issues
}

func (v *Validator) checkToolNode(ctx context.Context, node *graph.Node, path string) []Issue {
	toolID := node.ToolID()
	if toolID == "" {
		return []Issue{issuef(CodeMissingToolID, path+".config.tool_id",
			"node %q requires a tool_id", node.ID)}
	}

	if v.tools == nil {
		return []Issue{issuef(CodeToolRepositoryUnavailable, path+".config.tool_id",
			"tool repository is not configured; cannot verify %q", toolID)}
	}

	t, err := v.tools.Get(ctx, toolID)
	switch {
	case errors.Is(err, errors.KindToolNotFound):
		issue := issuef(CodeToolNotFound, path+".config.tool_id",
			"tool %q does not exist", toolID)
		issue.Meta = map[string]any{"tool_id": toolID}
		return []Issue{issue}
	case err != nil:
		// Unknown is never valid.
		issue := issuef(CodeToolRepositoryUnavailable, path+".config.tool_id",
			"tool repository unreachable while verifying %q", toolID)
		issue.Meta = map[string]any{"tool_id": toolID, "cause": err.Error()}
		return []Issue{issue}
	case t.Deprecated():
		issue := issuef(CodeToolDeprecated, path+".config.tool_id",
			"tool %q is deprecated", toolID)
		issue.Meta = map[string]any{"tool_id": toolID}
		return []Issue{issue}
	}
	return nil
}

// IssuesError folds a non-empty issue list into a validation DomainError so
// transports surface the full structured list.
func IssuesError(w *graph.Workflow, issues []Issue) error {
	return errors.New(errors.KindValidation,
		"workflow %s failed validation with %d issues", w.ID, len(issues)).
		WithMeta("issues", issues)
}
