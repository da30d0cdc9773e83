// Package workflow implements graph validation and DAG execution: the
// fail-closed validator run before every persistence write, the node
// executor registry, and the topological run loop with per-node retry.
package workflow

import "fmt"

// IssueCode is a stable identifier the interface layer maps to UI copy.
// Codes never change once shipped.
type IssueCode string

const (
	CodeDuplicateNodeID           IssueCode = "duplicate_node_id"
	CodeMissingNode               IssueCode = "missing_node"
	CodeCycleDetected             IssueCode = "cycle_detected"
	CodeMissingExecutor           IssueCode = "missing_executor"
	CodeMissingCode               IssueCode = "missing_code"
	CodeMissingURL                IssueCode = "missing_url"
	CodeMissingMethod             IssueCode = "missing_method"
	CodeMissingToolID             IssueCode = "missing_tool_id"
	CodeToolNotFound              IssueCode = "tool_not_found"
	CodeToolDeprecated            IssueCode = "tool_deprecated"
	CodeToolRepositoryUnavailable IssueCode = "tool_repository_unavailable"
	CodeEmptyWorkflow             IssueCode = "empty_workflow"
	CodeMissingStart              IssueCode = "missing_start"
	CodeMissingEnd                IssueCode = "missing_end"
	CodeNoStartToEndPath          IssueCode = "no_start_to_end_path"
	CodeMissingIntermediateNodes  IssueCode = "missing_intermediate_nodes"
	CodeInvalidEdges              IssueCode = "invalid_edges"
	CodeInvalidConfig             IssueCode = "invalid_config"
)

// Issue is one validator finding. Path points at the offending element using
// bracketed indices, e.g. nodes[1].config.tool_id.
type Issue struct {
	Code    IssueCode      `json:"code"`
	Message string         `json:"message"`
	Path    string         `json:"path,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func issuef(code IssueCode, path, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}
