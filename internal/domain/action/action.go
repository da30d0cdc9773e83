// Package action defines the tagged variant the language model emits each
// ReAct iteration, plus the strict two-stage decoder (syntax, then shape)
// applied to raw model output.
package action

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"weave/internal/errors"
	"weave/internal/shared/jsonx"
)

// Kind is the closed set of action variants.
type Kind string

const (
	KindReason        Kind = "reason"
	KindExecuteNode   Kind = "execute_node"
	KindWait          Kind = "wait"
	KindFinish        Kind = "finish"
	KindErrorRecovery Kind = "error_recovery"
)

// Valid reports whether k is a member of the closed variant set.
func (k Kind) Valid() bool {
	switch k {
	case KindReason, KindExecuteNode, KindWait, KindFinish, KindErrorRecovery:
		return true
	}
	return false
}

// RequiresNode reports whether the variant must name a node.
func (k Kind) RequiresNode() bool {
	return k == KindExecuteNode || k == KindErrorRecovery
}

// Kinds returns every valid action kind, in prompt order.
func Kinds() []Kind {
	return []Kind{KindReason, KindExecuteNode, KindWait, KindFinish, KindErrorRecovery}
}

// Action is the decoded model directive.
type Action struct {
	Kind       Kind           `json:"type"`
	NodeID     string         `json:"node_id,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	RetryCount int            `json:"retry_count,omitempty"`
}

// rawAction mirrors the wire shape with loose types so stage B can report
// precise field errors instead of opaque unmarshal failures.
type rawAction struct {
	Type       any            `json:"type"`
	NodeID     any            `json:"node_id"`
	Reasoning  any            `json:"reasoning"`
	Params     map[string]any `json:"params"`
	RetryCount any            `json:"retry_count"`
}

// Decode parses raw model output into an Action. Stage A decodes the text as
// a JSON object, repairing common model artifacts (markdown fences, trailing
// commas) before giving up. Stage B coerces fields and enforces the variant
// rules. All failures carry the parse_error kind; business rules against loop
// state are the orchestrator's stage C.
func Decode(output string) (*Action, error) {
	payload := strings.TrimSpace(output)
	payload = stripFences(payload)

	var raw rawAction
	if err := jsonx.Unmarshal([]byte(payload), &raw); err != nil || !strings.HasPrefix(payload, "{") {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, errors.New(errors.KindParse, "action is not a JSON object").
				WithMeta("raw", truncate(output, 200))
		}
		raw = rawAction{}
		if err := jsonx.Unmarshal([]byte(repaired), &raw); err != nil || !strings.HasPrefix(strings.TrimSpace(repaired), "{") {
			return nil, errors.New(errors.KindParse, "action is not a JSON object").
				WithMeta("raw", truncate(output, 200))
		}
	}

	return coerce(raw)
}

func coerce(raw rawAction) (*Action, error) {
	kindStr, ok := raw.Type.(string)
	if !ok || kindStr == "" {
		return nil, errors.New(errors.KindParse, "action requires a string \"type\" field")
	}
	kind := Kind(kindStr)
	if !kind.Valid() {
		return nil, errors.New(errors.KindParse, "unknown action type %q", kindStr).
			WithMeta("type", kindStr)
	}

	act := &Action{Kind: kind, Params: raw.Params}

	if raw.NodeID != nil {
		s, isString := raw.NodeID.(string)
		if !isString {
			return nil, errors.New(errors.KindParse, "node_id must be a string")
		}
		act.NodeID = strings.TrimSpace(s)
	}
	if kind.RequiresNode() && act.NodeID == "" {
		return nil, errors.New(errors.KindParse, "action %q requires node_id", kind)
	}

	if raw.Reasoning != nil {
		s, isString := raw.Reasoning.(string)
		if !isString {
			return nil, errors.New(errors.KindParse, "reasoning must be a string")
		}
		act.Reasoning = s
	}

	if raw.RetryCount != nil {
		n, numeric := raw.RetryCount.(float64)
		if !numeric || n != float64(int(n)) {
			return nil, errors.New(errors.KindParse, "retry_count must be an integer")
		}
		if n < 0 {
			return nil, errors.New(errors.KindParse, "retry_count must be non-negative")
		}
		act.RetryCount = int(n)
	}

	return act, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
