package action

import (
	"testing"

	"weave/internal/errors"
)

func TestDecodeValidVariants(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		kind   Kind
		nodeID string
	}{
		{"reason", `{"type":"reason","reasoning":"plan"}`, KindReason, ""},
		{"execute", `{"type":"execute_node","node_id":"b"}`, KindExecuteNode, "b"},
		{"recovery", `{"type":"error_recovery","node_id":"b","retry_count":1}`, KindErrorRecovery, "b"},
		{"wait", `{"type":"wait"}`, KindWait, ""},
		{"finish", `{"type":"finish"}`, KindFinish, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := Decode(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if act.Kind != tt.kind {
				t.Fatalf("expected kind %q, got %q", tt.kind, act.Kind)
			}
			if act.NodeID != tt.nodeID {
				t.Fatalf("expected node id %q, got %q", tt.nodeID, act.NodeID)
			}
		})
	}
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	_, err := Decode("not json at all")
	if errors.KindOf(err) != errors.KindParse {
		t.Fatalf("expected parse_error, got %v", err)
	}
}

func TestDecodeRejectsArray(t *testing.T) {
	_, err := Decode(`[{"type":"finish"}]`)
	if errors.KindOf(err) != errors.KindParse {
		t.Fatalf("arrays are not actions, got %v", err)
	}
}

func TestDecodeRepairsSloppyJSON(t *testing.T) {
	// Markdown fence plus a trailing comma: both common model artifacts.
	input := "```json\n{\"type\": \"reason\", \"reasoning\": \"plan\",}\n```"
	act, err := Decode(input)
	if err != nil {
		t.Fatalf("repairable output must decode: %v", err)
	}
	if act.Kind != KindReason {
		t.Fatalf("expected reason, got %q", act.Kind)
	}
}

func TestDecodeFieldRules(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing type", `{"reasoning":"x"}`},
		{"unknown type", `{"type":"dance"}`},
		{"execute without node", `{"type":"execute_node"}`},
		{"recovery without node", `{"type":"error_recovery"}`},
		{"numeric node id", `{"type":"execute_node","node_id":7}`},
		{"negative retry", `{"type":"reason","retry_count":-1}`},
		{"fractional retry", `{"type":"reason","retry_count":1.5}`},
		{"non-string reasoning", `{"type":"reason","reasoning":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if errors.KindOf(err) != errors.KindParse {
				t.Fatalf("expected parse_error, got %v", err)
			}
		})
	}
}

func TestDecodeZeroRetryCountAllowed(t *testing.T) {
	act, err := Decode(`{"type":"execute_node","node_id":"n1","retry_count":0}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", act.RetryCount)
	}
}

func TestRequiresNode(t *testing.T) {
	if !KindExecuteNode.RequiresNode() || !KindErrorRecovery.RequiresNode() {
		t.Fatalf("execute_node and error_recovery require node ids")
	}
	if KindReason.RequiresNode() || KindWait.RequiresNode() || KindFinish.RequiresNode() {
		t.Fatalf("reason, wait, finish must not require node ids")
	}
}
