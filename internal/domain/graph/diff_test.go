package graph

import (
	"reflect"
	"testing"
)

func TestCompareEmptyDiff(t *testing.T) {
	w := linearWorkflow()
	diff := Compare(w, w.Clone())
	if !diff.Empty() {
		t.Fatalf("identical snapshots must produce an empty diff: %+v", diff)
	}
}

func TestCompareDetectsEveryChangeClass(t *testing.T) {
	old := linearWorkflow()
	new := old.Clone()

	new.Nodes = append(new.Nodes, Node{ID: "d", Kind: KindTransform})
	new.Edges = append(new.Edges, Edge{ID: "e3", Source: "c", Target: "d"})
	new.Nodes[1].Position = Position{X: 10, Y: 20}
	new.Nodes[1].Config["url"] = "https://changed.example.com"

	keptNodes := new.Nodes[:0]
	for _, n := range new.Nodes {
		if n.ID != "a" {
			keptNodes = append(keptNodes, n)
		}
	}
	new.Nodes = keptNodes
	keptEdges := new.Edges[:0]
	for _, e := range new.Edges {
		if e.ID != "e1" {
			keptEdges = append(keptEdges, e)
		}
	}
	new.Edges = keptEdges

	diff := Compare(old, new)

	if len(diff.AddedNodes) != 1 || diff.AddedNodes[0].ID != "d" {
		t.Fatalf("expected added node d, got %+v", diff.AddedNodes)
	}
	if !reflect.DeepEqual(diff.RemovedNodes, []string{"a"}) {
		t.Fatalf("expected removed node a, got %v", diff.RemovedNodes)
	}
	if len(diff.ModifiedNodes) != 1 || diff.ModifiedNodes[0].ID != "b" {
		t.Fatalf("expected modified node b, got %+v", diff.ModifiedNodes)
	}
	changes := diff.ModifiedNodes[0].Changes
	if _, ok := changes["position"]; !ok {
		t.Fatalf("expected position change recorded")
	}
	if _, ok := changes["data"]; !ok {
		t.Fatalf("expected data change recorded")
	}
	if len(diff.AddedEdges) != 1 || diff.AddedEdges[0].ID != "e3" {
		t.Fatalf("expected added edge e3, got %+v", diff.AddedEdges)
	}
	if !reflect.DeepEqual(diff.RemovedEdges, []string{"e1"}) {
		t.Fatalf("expected removed edge e1, got %v", diff.RemovedEdges)
	}
}

func TestApplyReproducesNewSnapshot(t *testing.T) {
	old := linearWorkflow()
	new := old.Clone()
	new.Nodes[0].Position = Position{X: 5, Y: 5}
	new.Nodes = append(new.Nodes, Node{ID: "x", Kind: KindTransform, Config: map[string]any{"expr": "$.a"}})
	new.Edges = append(new.Edges, Edge{ID: "e9", Source: "b", Target: "x"})

	applied := Apply(old, Compare(old, new))

	roundTrip := Compare(new, applied)
	if !roundTrip.Empty() {
		t.Fatalf("apply(compare(old,new)) must equal new, residual diff: %+v", roundTrip)
	}
}

func TestCompareIgnoresNilVersusEmptyConfig(t *testing.T) {
	old := &Workflow{Nodes: []Node{{ID: "n", Kind: KindDefault, Config: nil}}}
	new := &Workflow{Nodes: []Node{{ID: "n", Kind: KindDefault, Config: map[string]any{}}}}
	if diff := Compare(old, new); !diff.Empty() {
		t.Fatalf("nil and empty config are equivalent, got %+v", diff)
	}
}
