// Package memstore provides mutex-guarded in-memory repositories. They back
// tests and single-process deployments; relational adapters satisfy the same
// interfaces.
package memstore

import (
	"context"
	"sync"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/domain/tool"
	"weave/internal/errors"
)

// WorkflowStore is an in-memory WorkflowRepository.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*graph.Workflow
}

// NewWorkflowStore creates an empty workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]*graph.Workflow)}
}

// Save stores a deep copy so later caller mutations never leak into the
// persisted state.
func (s *WorkflowStore) Save(_ context.Context, w *graph.Workflow) error {
	if w == nil || w.ID == "" {
		return errors.New(errors.KindInvalidRequest, "workflow requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := w.Clone()
	if existing, ok := s.workflows[w.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()
	s.workflows[w.ID] = stored
	return nil
}

// Get returns a deep copy of the stored workflow.
func (s *WorkflowStore) Get(_ context.Context, id string) (*graph.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, errors.New(errors.KindInvalidRequest, "workflow %q not found", id)
	}
	return w.Clone(), nil
}

// List returns deep copies of every stored workflow.
func (s *WorkflowStore) List(_ context.Context) ([]*graph.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	return out, nil
}

// Delete removes the workflow; unknown ids are a no-op.
func (s *WorkflowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

// ToolStore is an in-memory ToolRepository.
type ToolStore struct {
	mu    sync.RWMutex
	byID  map[string]*tool.Tool
	index map[string]string // active name -> id
}

// NewToolStore creates an empty tool store.
func NewToolStore() *ToolStore {
	return &ToolStore{
		byID:  make(map[string]*tool.Tool),
		index: make(map[string]string),
	}
}

func copyTool(t *tool.Tool) *tool.Tool {
	out := *t
	out.Tags = append([]string(nil), t.Tags...)
	out.Params = append([]tool.Param(nil), t.Params...)
	if t.Returns != nil {
		out.Returns = make(map[string]any, len(t.Returns))
		for k, v := range t.Returns {
			out.Returns[k] = v
		}
	}
	return &out
}

// Save stores the tool, enforcing name uniqueness among non-deprecated tools.
func (s *ToolStore) Save(_ context.Context, t *tool.Tool) error {
	if t == nil || t.ID == "" {
		return errors.New(errors.KindInvalidRequest, "tool requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.Deprecated() {
		if ownerID, taken := s.index[t.Name]; taken && ownerID != t.ID {
			return errors.New(errors.KindInvalidRequest,
				"tool name %q is already registered to %q", t.Name, ownerID)
		}
	}

	stored := copyTool(t)
	if existing, ok := s.byID[t.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		if existing.Name != stored.Name || existing.Deprecated() != stored.Deprecated() {
			delete(s.index, existing.Name)
		}
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()

	s.byID[t.ID] = stored
	if !stored.Deprecated() {
		s.index[stored.Name] = stored.ID
	} else {
		delete(s.index, stored.Name)
	}
	return nil
}

// Get returns a copy of the tool with the given id.
func (s *ToolStore) Get(_ context.Context, id string) (*tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, errors.New(errors.KindToolNotFound, "tool %q not found", id)
	}
	return copyTool(t), nil
}

// GetByName resolves an active tool by its unique name.
func (s *ToolStore) GetByName(_ context.Context, name string) (*tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.index[name]
	if !ok {
		return nil, errors.New(errors.KindToolNotFound, "tool named %q not found", name)
	}
	return copyTool(s.byID[id]), nil
}

// List returns copies of every stored tool, deprecated included.
func (s *ToolStore) List(_ context.Context) ([]*tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*tool.Tool, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, copyTool(t))
	}
	return out, nil
}

// Delete removes the tool. Deleting an unknown id is a no-op.
func (s *ToolStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byID[id]; ok {
		delete(s.index, t.Name)
		delete(s.byID, id)
	}
	return nil
}
