package graph

import (
	"bytes"

	"weave/internal/shared/jsonx"
)

// Diff is the structural delta between two canvas snapshots. The canvas
// fabric flattens a diff into a linear message sequence; an empty diff
// produces no messages.
type Diff struct {
	AddedNodes    []Node       `json:"added_nodes,omitempty"`
	RemovedNodes  []string     `json:"removed_nodes,omitempty"`
	ModifiedNodes []NodeChange `json:"modified_nodes,omitempty"`
	AddedEdges    []Edge       `json:"added_edges,omitempty"`
	RemovedEdges  []string     `json:"removed_edges,omitempty"`
}

// NodeChange records the per-field changes of one modified node. Only the
// fields that actually changed are present.
type NodeChange struct {
	ID      string         `json:"id"`
	Changes map[string]any `json:"changes"`
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 &&
		len(d.ModifiedNodes) == 0 && len(d.AddedEdges) == 0 &&
		len(d.RemovedEdges) == 0
}

// Compare computes the diff from the old snapshot to the new one.
func Compare(old, new *Workflow) Diff {
	var diff Diff

	oldNodes := make(map[string]Node, len(old.Nodes))
	for _, n := range old.Nodes {
		oldNodes[n.ID] = n
	}
	newNodes := make(map[string]Node, len(new.Nodes))
	for _, n := range new.Nodes {
		newNodes[n.ID] = n
	}

	for _, n := range new.Nodes {
		prev, existed := oldNodes[n.ID]
		if !existed {
			diff.AddedNodes = append(diff.AddedNodes, n)
			continue
		}
		changes := make(map[string]any)
		if prev.Position != n.Position {
			changes["position"] = n.Position
		}
		if prev.Kind != n.Kind {
			changes["type"] = n.Kind
		}
		if !configEqual(prev.Config, n.Config) || prev.Name != n.Name {
			changes["data"] = map[string]any{"name": n.Name, "config": n.Config}
		}
		if len(changes) > 0 {
			diff.ModifiedNodes = append(diff.ModifiedNodes, NodeChange{ID: n.ID, Changes: changes})
		}
	}
	for _, n := range old.Nodes {
		if _, kept := newNodes[n.ID]; !kept {
			diff.RemovedNodes = append(diff.RemovedNodes, n.ID)
		}
	}

	oldEdges := make(map[string]Edge, len(old.Edges))
	for _, e := range old.Edges {
		oldEdges[e.ID] = e
	}
	newEdges := make(map[string]Edge, len(new.Edges))
	for _, e := range new.Edges {
		newEdges[e.ID] = e
	}
	for _, e := range new.Edges {
		if _, existed := oldEdges[e.ID]; !existed {
			diff.AddedEdges = append(diff.AddedEdges, e)
		}
	}
	for _, e := range old.Edges {
		if _, kept := newEdges[e.ID]; !kept {
			diff.RemovedEdges = append(diff.RemovedEdges, e.ID)
		}
	}

	return diff
}

// Apply replays the diff on top of the old snapshot. Compare followed by
// Apply reproduces the new snapshot; tests rely on this law.
func Apply(old *Workflow, diff Diff) *Workflow {
	out := old.Clone()

	removedNodes := make(map[string]bool, len(diff.RemovedNodes))
	for _, id := range diff.RemovedNodes {
		removedNodes[id] = true
	}
	kept := out.Nodes[:0]
	for _, n := range out.Nodes {
		if !removedNodes[n.ID] {
			kept = append(kept, n)
		}
	}
	out.Nodes = kept

	for _, change := range diff.ModifiedNodes {
		node, ok := out.Node(change.ID)
		if !ok {
			continue
		}
		if pos, exists := change.Changes["position"]; exists {
			if p, isPos := pos.(Position); isPos {
				node.Position = p
			}
		}
		if kind, exists := change.Changes["type"]; exists {
			if k, isKind := kind.(NodeKind); isKind {
				node.Kind = k
			}
		}
		if data, exists := change.Changes["data"]; exists {
			if m, isMap := data.(map[string]any); isMap {
				if name, hasName := m["name"].(string); hasName {
					node.Name = name
				}
				if cfg, hasCfg := m["config"].(map[string]any); hasCfg {
					node.Config = cfg
				}
			}
		}
	}

	out.Nodes = append(out.Nodes, diff.AddedNodes...)

	removedEdges := make(map[string]bool, len(diff.RemovedEdges))
	for _, id := range diff.RemovedEdges {
		removedEdges[id] = true
	}
	keptEdges := out.Edges[:0]
	for _, e := range out.Edges {
		if !removedEdges[e.ID] {
			keptEdges = append(keptEdges, e)
		}
	}
	out.Edges = append(keptEdges, diff.AddedEdges...)

	return out
}

func configEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	aj, errA := jsonx.Marshal(a)
	bj, errB := jsonx.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
