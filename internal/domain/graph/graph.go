// Package graph holds the workflow aggregate: typed nodes, directed edges,
// and the snapshot/diff model the canvas layer renders.
package graph

import (
	"strings"
	"time"
)

// NodeKind identifies the executor responsible for a node. The set is closed;
// executors register against these tags.
type NodeKind string

const (
	KindInput      NodeKind = "input"
	KindStart      NodeKind = "start"
	KindDefault    NodeKind = "default"
	KindTransform  NodeKind = "transform"
	KindHTTP       NodeKind = "http"
	KindPython     NodeKind = "python"
	KindJavaScript NodeKind = "javascript"
	KindTool       NodeKind = "tool"
	KindImage      NodeKind = "image"
	KindEnd        NodeKind = "end"
	KindOutput     NodeKind = "output"
)

// Kinds returns every valid node kind.
func Kinds() []NodeKind {
	return []NodeKind{
		KindInput, KindStart, KindDefault, KindTransform, KindHTTP,
		KindPython, KindJavaScript, KindTool, KindImage, KindEnd, KindOutput,
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k NodeKind) Valid() bool {
	switch k {
	case KindInput, KindStart, KindDefault, KindTransform, KindHTTP,
		KindPython, KindJavaScript, KindTool, KindImage, KindEnd, KindOutput:
		return true
	}
	return false
}

// IsScript reports whether the node kind requires a code payload.
func (k NodeKind) IsScript() bool {
	return k == KindPython || k == KindJavaScript
}

// IsTerminal reports whether the node kind closes the main subgraph.
func (k NodeKind) IsTerminal() bool {
	return k == KindEnd || k == KindOutput
}

// ConfigKeyToolID is the canonical config key referencing a tool; the legacy
// camel-case alias is rewritten during normalization.
const (
	ConfigKeyToolID      = "tool_id"
	ConfigKeyToolIDAlias = "toolId"
	ConfigKeyCode        = "code"
	ConfigKeyURL         = "url"
	ConfigKeyMethod      = "method"
	ConfigKeyTimeout     = "timeout"
	ConfigKeyRetryCount  = "retry_count"
)

// Position is the node's 2-D canvas placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex of the workflow graph.
type Node struct {
	ID       string         `json:"id"`
	Kind     NodeKind       `json:"type"`
	Name     string         `json:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Position Position       `json:"position"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source_node_id"`
	Target string `json:"target_node_id"`
}

// Workflow is the aggregate root persisted by the workflow repository.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// NodeIDs returns the node identifiers in declaration order.
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Predecessors returns the source node ids of edges targeting id, in the
// order the edges are declared. Input gathering relies on this ordering.
func (w *Workflow) Predecessors(id string) []string {
	var sources []string
	for _, e := range w.Edges {
		if e.Target == id {
			sources = append(sources, e.Source)
		}
	}
	return sources
}

// Successors returns the target node ids of edges originating at id.
func (w *Workflow) Successors(id string) []string {
	var targets []string
	for _, e := range w.Edges {
		if e.Source == id {
			targets = append(targets, e.Target)
		}
	}
	return targets
}

// Clone returns a deep copy. Patches mutate clones, never the stored graph.
func (w *Workflow) Clone() *Workflow {
	out := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		Nodes:       make([]Node, len(w.Nodes)),
		Edges:       append([]Edge(nil), w.Edges...),
	}
	for i, n := range w.Nodes {
		out.Nodes[i] = n
		if n.Config != nil {
			cfg := make(map[string]any, len(n.Config))
			for k, v := range n.Config {
				cfg[k] = v
			}
			out.Nodes[i].Config = cfg
		}
	}
	return out
}

// Normalize rewrites legacy config keys in place. Tool-kind nodes get their
// tool reference moved under the canonical tool_id key with surrounding
// whitespace stripped. Normalization is idempotent.
func (w *Workflow) Normalize() {
	for i := range w.Nodes {
		node := &w.Nodes[i]
		if node.Kind != KindTool || node.Config == nil {
			continue
		}
		if alias, ok := node.Config[ConfigKeyToolIDAlias]; ok {
			if _, canonical := node.Config[ConfigKeyToolID]; !canonical {
				node.Config[ConfigKeyToolID] = alias
			}
			delete(node.Config, ConfigKeyToolIDAlias)
		}
		if raw, ok := node.Config[ConfigKeyToolID]; ok {
			if s, isString := raw.(string); isString {
				node.Config[ConfigKeyToolID] = strings.TrimSpace(s)
			}
		}
	}
}

// ToolID returns the trimmed tool reference of a tool-kind node.
func (n *Node) ToolID() string {
	if n.Config == nil {
		return ""
	}
	if s, ok := n.Config[ConfigKeyToolID].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// StringConfig returns a trimmed string config value.
func (n *Node) StringConfig(key string) string {
	if n.Config == nil {
		return ""
	}
	if s, ok := n.Config[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// IntConfig returns an integer config value, tolerating JSON float decoding.
func (n *Node) IntConfig(key string) (int, bool) {
	if n.Config == nil {
		return 0, false
	}
	switch v := n.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
