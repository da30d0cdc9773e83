package canvas

import (
	"context"
	"sync"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/events"
	"weave/internal/shared/jsonx"
	"weave/internal/shared/logging"
)

// FailureHandler is invoked once per message whose retries are exhausted.
type FailureHandler func(workflowID string, msg Message)

// Config holds the delivery ceilings of the fabric.
type Config struct {
	AckTimeout    time.Duration
	MaxRetries    int
	SweepInterval time.Duration
	DedupSize     int
	OnFailure     FailureHandler
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout:    5 * time.Second,
		MaxRetries:    3,
		SweepInterval: time.Second,
		DedupSize:     defaultDedupSize,
	}
}

// pendingEntry tracks one broadcast until every recipient acknowledges it.
type pendingEntry struct {
	msg        Message
	data       []byte
	workflowID string
	waiting    map[string]bool
	retryCount int
	sentAt     time.Time
}

// Fabric owns the canvas connections for every workflow and keeps them in
// sync. It is a pure event-bus subscriber; no producer knows it exists.
type Fabric struct {
	mu        sync.Mutex
	config    Config
	conns     map[string]map[string]Conn
	snapshots map[string]*graph.Workflow
	pending   map[string]*pendingEntry
	dedup     *dedupRing
	logger    logging.Logger
}

// NewFabric creates an empty fabric.
func NewFabric(config Config, logger logging.Logger) *Fabric {
	defaults := DefaultConfig()
	if config.AckTimeout <= 0 {
		config.AckTimeout = defaults.AckTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	return &Fabric{
		config:    config,
		conns:     make(map[string]map[string]Conn),
		snapshots: make(map[string]*graph.Workflow),
		pending:   make(map[string]*pendingEntry),
		dedup:     newDedupRing(config.DedupSize),
		logger:    logging.OrNop(logger),
	}
}

// Subscribe registers the connection for a workflow. With sendInitialState
// the current snapshot is pushed as an initial_state message to that client
// only.
func (f *Fabric) Subscribe(workflowID string, conn Conn, snapshot *graph.Workflow, sendInitialState bool) error {
	f.mu.Lock()
	set, ok := f.conns[workflowID]
	if !ok {
		set = make(map[string]Conn)
		f.conns[workflowID] = set
	}
	set[conn.ID()] = conn
	if snapshot != nil {
		f.snapshots[workflowID] = snapshot.Clone()
	}
	current := f.snapshots[workflowID]
	f.mu.Unlock()

	f.logger.Debug("canvas subscribe workflow=%s client=%s", workflowID, conn.ID())
	if !sendInitialState || current == nil {
		return nil
	}

	msg := Message{
		Type:       MsgInitialState,
		WorkflowID: workflowID,
		Payload: map[string]any{
			"nodes": current.Nodes,
			"edges": current.Edges,
		},
	}
	data, err := msg.stamp()
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		f.drop(workflowID, conn.ID())
		return err
	}
	f.track(msg, data, workflowID, []string{conn.ID()})
	return nil
}

// Unsubscribe removes the connection and forgets its pending acks.
func (f *Fabric) Unsubscribe(workflowID, clientID string) {
	f.drop(workflowID, clientID)
}

// Broadcast fans the message out to every connection of the workflow except
// excludeClient and tracks it until each recipient acknowledges. The stamped
// message is returned so callers know its id.
func (f *Fabric) Broadcast(workflowID string, msg Message, excludeClient string) (Message, error) {
	msg.WorkflowID = workflowID
	data, err := msg.stamp()
	if err != nil {
		return msg, err
	}

	f.mu.Lock()
	targets := make([]Conn, 0, len(f.conns[workflowID]))
	for clientID, conn := range f.conns[workflowID] {
		if clientID == excludeClient {
			continue
		}
		targets = append(targets, conn)
	}
	f.mu.Unlock()

	var delivered []string
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			f.logger.Warn("canvas send failed workflow=%s client=%s: %v", workflowID, conn.ID(), err)
			f.drop(workflowID, conn.ID())
			continue
		}
		delivered = append(delivered, conn.ID())
	}
	f.track(msg, data, workflowID, delivered)
	return msg, nil
}

// Acknowledge clears one client from a message's waiting set. It reports
// whether the ack matched an outstanding delivery; repeats return false.
func (f *Fabric) Acknowledge(clientID, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.pending[messageID]
	if !ok || !entry.waiting[clientID] {
		return false
	}
	delete(entry.waiting, clientID)
	if len(entry.waiting) == 0 {
		delete(f.pending, messageID)
	}
	return true
}

// HandleInbound processes one client frame. Duplicates (same client, type,
// and message id) are ignored.
func (f *Fabric) HandleInbound(clientID string, raw []byte) error {
	var in Inbound
	if err := jsonx.Unmarshal(raw, &in); err != nil {
		return err
	}
	if in.MessageID != "" {
		key := clientID + "\x00" + in.Type + "\x00" + in.MessageID
		if f.dedup.Observe(key) {
			f.logger.Debug("canvas duplicate frame client=%s id=%s", clientID, in.MessageID)
			return nil
		}
	}
	if in.Type == string(MsgAck) {
		f.Acknowledge(clientID, in.MessageID)
	}
	return nil
}

// SyncWorkflow diffs the stored snapshot against updated and broadcasts the
// change as a linear message sequence. An unchanged workflow produces no
// messages.
func (f *Fabric) SyncWorkflow(workflowID string, updated *graph.Workflow) ([]Message, error) {
	f.mu.Lock()
	previous := f.snapshots[workflowID]
	if previous == nil {
		previous = &graph.Workflow{}
	}
	f.snapshots[workflowID] = updated.Clone()
	f.mu.Unlock()

	diff := graph.Compare(previous, updated)
	if diff.Empty() {
		return nil, nil
	}

	var sent []Message
	emit := func(msgType events.Type, payload map[string]any) error {
		msg, err := f.Broadcast(workflowID, Message{Type: msgType, Payload: payload}, "")
		if err != nil {
			return err
		}
		sent = append(sent, msg)
		return nil
	}

	for _, n := range diff.AddedNodes {
		if err := emit(events.NodeCreated, map[string]any{"node": n}); err != nil {
			return sent, err
		}
	}
	for _, nodeID := range diff.RemovedNodes {
		if err := emit(events.NodeDeleted, map[string]any{"node_id": nodeID}); err != nil {
			return sent, err
		}
	}
	for _, change := range diff.ModifiedNodes {
		if err := emit(events.NodeUpdated, map[string]any{"node_id": change.ID, "changes": change.Changes}); err != nil {
			return sent, err
		}
	}
	for _, e := range diff.AddedEdges {
		if err := emit(events.EdgeCreated, map[string]any{"edge": e}); err != nil {
			return sent, err
		}
	}
	for _, edgeID := range diff.RemovedEdges {
		if err := emit(events.EdgeDeleted, map[string]any{"edge_id": edgeID}); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// AttachBus forwards runtime events for subscribed workflows to their canvas
// clients. The returned function cancels the subscription.
func (f *Fabric) AttachBus(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.Event) {
		if e.WorkflowID == "" {
			return
		}
		payload := make(map[string]any, len(e.Payload)+4)
		for k, v := range e.Payload {
			payload[k] = v
		}
		if e.RunID != "" {
			payload["run_id"] = e.RunID
		}
		if e.NodeID != "" {
			payload["node_id"] = e.NodeID
		}
		if e.NodeType != "" {
			payload["node_type"] = e.NodeType
		}
		if e.Attempt > 0 {
			payload["attempt"] = e.Attempt
		}
		if _, err := f.Broadcast(e.WorkflowID, Message{Type: e.Type, Payload: payload}, ""); err != nil {
			f.logger.Warn("canvas forward %s failed: %v", e.Type, err)
		}
	})
}

// Run sweeps the pending map until the context ends.
func (f *Fabric) Run(ctx context.Context) {
	ticker := time.NewTicker(f.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.sweep(now)
		}
	}
}

// ConnectionCount reports how many clients follow the workflow.
func (f *Fabric) ConnectionCount(workflowID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[workflowID])
}

// PendingCount reports how many messages await acknowledgment.
func (f *Fabric) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// sweep re-sends overdue messages and drops the ones whose retries are
// exhausted, invoking the failure handler exactly once for each.
func (f *Fabric) sweep(now time.Time) {
	type resend struct {
		entry *pendingEntry
		conns []Conn
	}
	var resends []resend
	var failed []*pendingEntry

	f.mu.Lock()
	for messageID, entry := range f.pending {
		age := now.Sub(entry.sentAt)
		if age <= f.config.AckTimeout*time.Duration(entry.retryCount+1) {
			continue
		}
		if entry.retryCount >= f.config.MaxRetries {
			delete(f.pending, messageID)
			failed = append(failed, entry)
			continue
		}
		entry.retryCount++
		var conns []Conn
		for clientID := range entry.waiting {
			if conn, ok := f.conns[entry.workflowID][clientID]; ok {
				conns = append(conns, conn)
			} else {
				delete(entry.waiting, clientID)
			}
		}
		if len(entry.waiting) == 0 {
			delete(f.pending, messageID)
			continue
		}
		resends = append(resends, resend{entry: entry, conns: conns})
	}
	f.mu.Unlock()

	for _, r := range resends {
		for _, conn := range r.conns {
			// The original message id is reused so receivers dedupe.
			if err := conn.Send(r.entry.data); err != nil {
				f.drop(r.entry.workflowID, conn.ID())
			}
		}
		f.logger.Debug("canvas resend id=%s retry=%d", r.entry.msg.ID, r.entry.retryCount)
	}
	for _, entry := range failed {
		f.logger.Warn("canvas delivery failed id=%s workflow=%s after %d retries",
			entry.msg.ID, entry.workflowID, entry.retryCount)
		if f.config.OnFailure != nil {
			f.config.OnFailure(entry.workflowID, entry.msg)
		}
	}
}

// track registers a delivered message for acknowledgment tracking.
func (f *Fabric) track(msg Message, data []byte, workflowID string, delivered []string) {
	if len(delivered) == 0 {
		return
	}
	waiting := make(map[string]bool, len(delivered))
	for _, clientID := range delivered {
		waiting[clientID] = true
	}
	f.mu.Lock()
	f.pending[msg.ID] = &pendingEntry{
		msg:        msg,
		data:       data,
		workflowID: workflowID,
		waiting:    waiting,
		sentAt:     msg.Timestamp,
	}
	f.mu.Unlock()
}

// drop removes a connection and clears it from every waiting set.
func (f *Fabric) drop(workflowID, clientID string) {
	f.mu.Lock()
	if set, ok := f.conns[workflowID]; ok {
		if conn, exists := set[clientID]; exists {
			delete(set, clientID)
			conn.Close()
		}
		if len(set) == 0 {
			delete(f.conns, workflowID)
		}
	}
	for messageID, entry := range f.pending {
		if entry.workflowID != workflowID {
			continue
		}
		delete(entry.waiting, clientID)
		if len(entry.waiting) == 0 {
			delete(f.pending, messageID)
		}
	}
	f.mu.Unlock()
}
