package react

import (
	"fmt"
	"strings"

	"weave/internal/domain/graph"
)

// actionExemplars holds one literal JSON example per action kind, in the
// order they appear in the prompt.
var actionExemplars = []struct {
	kind    string
	example string
	note    string
}{
	{"reason", `{"type": "reason", "reasoning": "The http node must run before the end node."}`,
		"think out loud without touching the graph"},
	{"execute_node", `{"type": "execute_node", "node_id": "node_2", "reasoning": "Fetch the data."}`,
		"run one workflow node"},
	{"wait", `{"type": "wait", "reasoning": "Waiting for the upload to land."}`,
		"pause until external input arrives"},
	{"finish", `{"type": "finish", "reasoning": "All nodes ran successfully."}`,
		"end the run as completed"},
	{"error_recovery", `{"type": "error_recovery", "node_id": "node_2", "reasoning": "Retry after the timeout.", "retry_count": 1}`,
		"re-run a node that previously failed"},
}

// systemPrompt builds the instruction block handed to the model before the
// accumulated message log.
func systemPrompt(w *graph.Workflow, state *LoopState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are orchestrating the workflow %q (id %s).\n", w.Name, w.ID)
	b.WriteString("Each turn, answer with exactly one JSON object choosing your next action.\n\n")

	b.WriteString("Actions:\n")
	for _, a := range actionExemplars {
		fmt.Fprintf(&b, "- %s — %s\n  %s\n", a.kind, a.note, a.example)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Answer with a single JSON object, no prose, no markdown fences.\n")
	b.WriteString("- The \"type\" field is required and must be one of the actions above.\n")
	b.WriteString("- execute_node and error_recovery require a \"node_id\".\n")
	b.WriteString("- A node may be executed at most once; only error_recovery may target an already-executed node.\n")
	fmt.Fprintf(&b, "- You have %d steps in total; finish before the budget runs out.\n", state.MaxSteps)

	fmt.Fprintf(&b, "\nAvailable nodes: %s\n", strings.Join(describeNodes(w, state.AvailableNodes), ", "))
	executed := state.ExecutedIDs()
	if len(executed) == 0 {
		b.WriteString("Executed nodes: none\n")
	} else {
		fmt.Fprintf(&b, "Executed nodes: %s\n", strings.Join(executed, ", "))
	}
	fmt.Fprintf(&b, "Current step: %d of %d\n", state.CurrentStep, state.MaxSteps)

	return b.String()
}

func describeNodes(w *graph.Workflow, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if node, ok := w.Node(id); ok {
			out = append(out, fmt.Sprintf("%s (%s)", id, node.Kind))
			continue
		}
		out = append(out, id)
	}
	return out
}

// retryPrompt tells the model why its last answer was rejected and how to
// fix it. attempt is the failed attempt number.
func retryPrompt(state *LoopState, attempt int, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous answer was rejected (attempt %d of 3): %v\n", attempt, cause)
	b.WriteString("Answer again with exactly one JSON object. ")
	b.WriteString("The \"type\" field is required; execute_node and error_recovery need a \"node_id\" ")
	fmt.Fprintf(&b, "from the available nodes: %s.", strings.Join(state.AvailableNodes, ", "))
	return b.String()
}
