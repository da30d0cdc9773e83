// Package orchestrator implements the save-validate-run entry: the confirm
// gate, up to three execution attempts, and config-only self-repair patches
// between attempts.
package orchestrator

import (
	"context"
	"sync"

	"weave/internal/errors"
	"weave/internal/shared/id"
)

// Decision is the caller's answer to a confirm request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// ConfirmBroker parks run requests until an external caller resolves them.
// The websocket layer resolves by confirm id.
type ConfirmBroker struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewConfirmBroker creates an empty broker.
func NewConfirmBroker() *ConfirmBroker {
	return &ConfirmBroker{pending: make(map[string]chan Decision)}
}

// Open registers a new confirm request and returns its id.
func (b *ConfirmBroker) Open() string {
	confirmID := id.NewConfirmID()
	b.mu.Lock()
	b.pending[confirmID] = make(chan Decision, 1)
	b.mu.Unlock()
	return confirmID
}

// Await blocks until the request is resolved or ctx fires.
func (b *ConfirmBroker) Await(ctx context.Context, confirmID string) (Decision, error) {
	b.mu.Lock()
	ch, ok := b.pending[confirmID]
	b.mu.Unlock()
	if !ok {
		return "", errors.New(errors.KindInvalidRequest, "unknown confirm id %q", confirmID)
	}

	defer func() {
		b.mu.Lock()
		delete(b.pending, confirmID)
		b.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), errors.KindCancelled,
			"confirm request %s abandoned", confirmID)
	}
}

// Resolve delivers the caller's decision. Resolving an unknown or already
// resolved id reports false.
func (b *ConfirmBroker) Resolve(confirmID string, decision Decision) bool {
	b.mu.Lock()
	ch, ok := b.pending[confirmID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- decision:
		return true
	default:
		return false
	}
}
