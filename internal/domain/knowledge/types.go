// Package knowledge defines the audit and collaboration value objects: the
// tool-call record appended to the audit log, and the knowledge note sum type
// with its lifecycle states.
package knowledge

import (
	"time"
)

// CallerType identifies who invoked a tool.
type CallerType string

const (
	CallerWorkflowNode      CallerType = "workflow_node"
	CallerConversationAgent CallerType = "conversation_agent"
	CallerScheduler         CallerType = "scheduler"
	CallerOperator          CallerType = "operator"
)

// CallRecord is one append-only entry in the tool-call audit log. Records are
// never mutated after Append.
type CallRecord struct {
	ToolName       string         `json:"tool_name"`
	CallerType     CallerType     `json:"caller_type"`
	CallerID       string         `json:"caller_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	RunID          string         `json:"run_id,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Success        bool           `json:"success"`
	Output         any            `json:"output,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	Error          string         `json:"error,omitempty"`
	Cached         bool           `json:"cached,omitempty"`
	Duration       time.Duration  `json:"duration"`
	TraceID        string         `json:"trace_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NoteKind tags the knowledge note sum type.
type NoteKind string

const (
	NoteProgress   NoteKind = "progress"
	NoteConclusion NoteKind = "conclusion"
	NoteBlocker    NoteKind = "blocker"
	NoteNextAction NoteKind = "next_action"
	NoteReference  NoteKind = "reference"
)

// Valid reports whether k is a member of the closed kind set.
func (k NoteKind) Valid() bool {
	switch k {
	case NoteProgress, NoteConclusion, NoteBlocker, NoteNextAction, NoteReference:
		return true
	}
	return false
}

// NoteStatus is a note's lifecycle stage.
type NoteStatus string

const (
	NoteDraft    NoteStatus = "draft"
	NotePending  NoteStatus = "pending"
	NoteApproved NoteStatus = "approved"
	NoteArchived NoteStatus = "archived"
)

// Note is a collaboration artifact attached to workflow runs. Status moves
// only through the lifecycle manager; once approved, Content is frozen and a
// new version must be forked.
type Note struct {
	ID         string     `json:"id"`
	Kind       NoteKind   `json:"kind"`
	Status     NoteStatus `json:"status"`
	Owner      string     `json:"owner"`
	Content    string     `json:"content"`
	Tags       []string   `json:"tags,omitempty"`
	Version    int        `json:"version"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt time.Time  `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Immutable reports whether the note content can no longer change in place.
func (n *Note) Immutable() bool {
	return n.Status == NoteApproved || n.Status == NoteArchived
}
