package graph

// TopologicalOrder returns the node ids in dependency order using Kahn's
// algorithm. Ties are broken by declaration order so execution is
// deterministic. The second return lists the node ids trapped in a cycle;
// the order is only valid when that list is empty.
func TopologicalOrder(w *Workflow) ([]string, []string) {
	indegree := make(map[string]int, len(w.Nodes))
	for _, n := range w.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range w.Edges {
		if _, ok := indegree[e.Target]; ok {
			indegree[e.Target]++
		}
	}

	var frontier []string
	for _, n := range w.Nodes {
		if indegree[n.ID] == 0 {
			frontier = append(frontier, n.ID)
		}
	}

	order := make([]string, 0, len(w.Nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		for _, succ := range w.Successors(id) {
			if _, ok := indegree[succ]; !ok {
				continue
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				frontier = append(frontier, succ)
			}
		}
	}

	if len(order) == len(w.Nodes) {
		return order, nil
	}

	ordered := make(map[string]bool, len(order))
	for _, id := range order {
		ordered[id] = true
	}
	var cyclic []string
	for _, n := range w.Nodes {
		if !ordered[n.ID] {
			cyclic = append(cyclic, n.ID)
		}
	}
	return nil, cyclic
}

// reachable walks the graph from the given seeds. When reverse is true the
// walk follows edges backwards.
func reachable(w *Workflow, seeds []string, reverse bool) map[string]bool {
	seen := make(map[string]bool, len(w.Nodes))
	stack := append([]string(nil), seeds...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		var next []string
		if reverse {
			next = w.Predecessors(id)
		} else {
			next = w.Successors(id)
		}
		for _, n := range next {
			if !seen[n] {
				stack = append(stack, n)
			}
		}
	}
	return seen
}

// MainSubgraph computes the node ids both forward-reachable from a start node
// and backward-reachable from an end node. Nodes outside this set stay on the
// canvas but are invisible to execution.
type MainSubgraph struct {
	Starts       []string
	Ends         []string
	Members      map[string]bool
	Intermediate []string
}

// ComputeMainSubgraph derives the main subgraph of w.
func ComputeMainSubgraph(w *Workflow) MainSubgraph {
	sub := MainSubgraph{Members: make(map[string]bool)}
	for _, n := range w.Nodes {
		switch n.Kind {
		case KindStart:
			sub.Starts = append(sub.Starts, n.ID)
		case KindEnd:
			sub.Ends = append(sub.Ends, n.ID)
		}
	}
	if len(sub.Starts) == 0 || len(sub.Ends) == 0 {
		return sub
	}

	forward := reachable(w, sub.Starts, false)
	backward := reachable(w, sub.Ends, true)

	for _, n := range w.Nodes {
		if !forward[n.ID] || !backward[n.ID] {
			continue
		}
		sub.Members[n.ID] = true
		if n.Kind != KindStart && n.Kind != KindEnd {
			sub.Intermediate = append(sub.Intermediate, n.ID)
		}
	}
	return sub
}
