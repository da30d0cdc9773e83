// Package storage declares the thin persistence contracts the runtime
// consumes. The core never talks to a database directly; adapters implement
// these interfaces and surface repository_unavailable when unreachable.
package storage

import (
	"context"

	"weave/internal/domain/graph"
	"weave/internal/domain/tool"
)

// WorkflowRepository owns the workflow aggregate.
type WorkflowRepository interface {
	Save(ctx context.Context, w *graph.Workflow) error
	Get(ctx context.Context, id string) (*graph.Workflow, error)
	List(ctx context.Context) ([]*graph.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ToolRepository owns the tool aggregate. Name is unique among active tools.
type ToolRepository interface {
	Save(ctx context.Context, t *tool.Tool) error
	Get(ctx context.Context, id string) (*tool.Tool, error)
	GetByName(ctx context.Context, name string) (*tool.Tool, error)
	List(ctx context.Context) ([]*tool.Tool, error)
	// Delete is idempotent: deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
}
