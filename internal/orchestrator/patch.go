package orchestrator

import (
	"context"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"weave/internal/domain/graph"
	"weave/internal/domain/tool"
	"weave/internal/errors"
	"weave/internal/shared/jsonx"
	"weave/internal/storage"
)

// minPatchedTimeout is the floor a timeout patch raises the node to.
const minPatchedTimeout = 60

// Patch is one config-only mutation proposed between run attempts.
type Patch struct {
	NodeID      string
	Key         string
	OldValue    any
	NewValue    any
	Description string
}

// proposePatch inspects a failed attempt and suggests a repair, or nil when
// the failure is not in the recoverable set.
func proposePatch(ctx context.Context, w *graph.Workflow, runErr error, tools storage.ToolRepository) (*Patch, error) {
	meta := errors.MetaOf(runErr)
	nodeID, _ := meta["node_id"].(string)
	if nodeID == "" {
		return nil, nil
	}
	node, ok := w.Node(nodeID)
	if !ok {
		return nil, nil
	}

	switch errors.KindOf(runErr) {
	case errors.KindTimeout:
		if !errors.IsRetryable(runErr) {
			return nil, nil
		}
		current, _ := node.IntConfig(graph.ConfigKeyTimeout)
		next := current * 2
		if next < minPatchedTimeout {
			next = minPatchedTimeout
		}
		return &Patch{
			NodeID:      nodeID,
			Key:         graph.ConfigKeyTimeout,
			OldValue:    current,
			NewValue:    next,
			Description: fmt.Sprintf("raise timeout on %s from %ds to %ds", nodeID, current, next),
		}, nil

	case errors.KindToolNotFound:
		replacement, err := findReplacementTool(ctx, node, tools)
		if err != nil || replacement == nil {
			return nil, err
		}
		return &Patch{
			NodeID:      nodeID,
			Key:         graph.ConfigKeyToolID,
			OldValue:    node.ToolID(),
			NewValue:    replacement.ID,
			Description: fmt.Sprintf("swap missing tool %q on %s for %q", node.ToolID(), nodeID, replacement.Name),
		}, nil
	}
	return nil, nil
}

// findReplacementTool picks a published tool compatible with the node:
// matching category when the node declares one, otherwise the first
// published tool. Returns nil when nothing fits.
func findReplacementTool(ctx context.Context, node *graph.Node, tools storage.ToolRepository) (*tool.Tool, error) {
	if tools == nil {
		return nil, nil
	}
	candidates, err := tools.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRepositoryUnavailable,
			"cannot search for a replacement tool")
	}

	current := node.ToolID()
	wantCategory := tool.Category(node.StringConfig("category"))
	var fallback *tool.Tool
	for _, candidate := range candidates {
		if candidate.Status != tool.StatusPublished {
			continue
		}
		// Swapping to the tool that just failed would loop forever.
		if candidate.ID == current || candidate.Name == current {
			continue
		}
		if wantCategory != "" && candidate.Category == wantCategory {
			return candidate, nil
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if wantCategory != "" && fallback != nil {
		// No category match; a published tool is still better than giving up.
		return fallback, nil
	}
	return fallback, nil
}

// apply mutates a clone of w with the patch and returns it. The original
// workflow is never touched; persistence happens only after re-validation.
func (p *Patch) apply(w *graph.Workflow) *graph.Workflow {
	patched := w.Clone()
	node, ok := patched.Node(p.NodeID)
	if !ok {
		return patched
	}
	if node.Config == nil {
		node.Config = make(map[string]any)
	}
	node.Config[p.Key] = p.NewValue
	return patched
}

// renderDiff produces a human-readable before/after of the patched node's
// config for the patch-applied event.
func renderDiff(before, after *graph.Workflow, nodeID string) string {
	oldNode, ok := before.Node(nodeID)
	if !ok {
		return ""
	}
	newNode, ok := after.Node(nodeID)
	if !ok {
		return ""
	}

	oldJSON, err := jsonx.MarshalIndent(oldNode.Config, "", "  ")
	if err != nil {
		return ""
	}
	newJSON, err := jsonx.MarshalIndent(newNode.Config, "", "  ")
	if err != nil {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(oldJSON), string(newJSON), false)
	dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}
