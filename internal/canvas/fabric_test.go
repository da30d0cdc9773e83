package canvas

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"weave/internal/domain/graph"
	"weave/internal/events"
	"weave/internal/shared/jsonx"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("connection reset")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.frames))
	for _, frame := range c.frames {
		var msg Message
		if err := jsonx.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func testFabric() *Fabric {
	return NewFabric(Config{AckTimeout: 10 * time.Millisecond}, nil)
}

func subscribe(t *testing.T, f *Fabric, workflowID, clientID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: clientID}
	if err := f.Subscribe(workflowID, conn, nil, false); err != nil {
		t.Fatalf("subscribe %s: %v", clientID, err)
	}
	return conn
}

func TestBroadcastSkipsExcludedClient(t *testing.T) {
	f := testFabric()
	a := subscribe(t, f, "wf-1", "client-a")
	b := subscribe(t, f, "wf-1", "client-b")

	msg, err := f.Broadcast("wf-1", Message{Type: events.NodeMoved}, "client-a")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("broadcast must stamp a message id")
	}
	if len(a.messages(t)) != 0 {
		t.Fatalf("excluded client must receive nothing")
	}
	got := b.messages(t)
	if len(got) != 1 || got[0].Type != events.NodeMoved || got[0].WorkflowID != "wf-1" {
		t.Fatalf("unexpected delivery: %#v", got)
	}
}

func TestResendOnlyReachesUnackedClients(t *testing.T) {
	f := testFabric()
	a := subscribe(t, f, "wf-1", "client-a")
	b := subscribe(t, f, "wf-1", "client-b")

	msg, err := f.Broadcast("wf-1", Message{Type: events.NodeCreated}, "")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if !f.Acknowledge("client-a", msg.ID) {
		t.Fatalf("first ack must be accepted")
	}

	f.sweep(time.Now().Add(time.Hour))

	if got := a.messages(t); len(got) != 1 {
		t.Fatalf("acked client must not see a duplicate, got %d frames", len(got))
	}
	got := b.messages(t)
	if len(got) != 2 {
		t.Fatalf("unacked client must be resent, got %d frames", len(got))
	}
	if got[1].ID != msg.ID {
		t.Fatalf("resend must reuse the original message id: %s vs %s", got[1].ID, msg.ID)
	}

	if !f.Acknowledge("client-b", msg.ID) {
		t.Fatalf("second client's ack must be accepted")
	}
	if f.PendingCount() != 0 {
		t.Fatalf("pending must be empty after all acks, got %d", f.PendingCount())
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	f := testFabric()
	subscribe(t, f, "wf-1", "client-a")

	msg, _ := f.Broadcast("wf-1", Message{Type: events.NodeCreated}, "")
	if !f.Acknowledge("client-a", msg.ID) {
		t.Fatalf("first ack must be accepted")
	}
	if f.Acknowledge("client-a", msg.ID) {
		t.Fatalf("repeated ack must report false")
	}
	if f.Acknowledge("client-a", "msg_unknown") {
		t.Fatalf("unknown message id must report false")
	}
}

func TestRetriesExhaustedInvokesFailureHandlerOnce(t *testing.T) {
	var failures []Message
	f := NewFabric(Config{
		AckTimeout: 10 * time.Millisecond,
		MaxRetries: 3,
		OnFailure:  func(_ string, msg Message) { failures = append(failures, msg) },
	}, nil)
	conn := subscribe(t, f, "wf-1", "client-a")

	msg, _ := f.Broadcast("wf-1", Message{Type: events.NodeCreated}, "")

	// Three resends, then the drop.
	for i := 0; i < 5; i++ {
		f.sweep(time.Now().Add(time.Hour))
	}

	if got := len(conn.messages(t)); got != 4 { // original + 3 retries
		t.Fatalf("expected 4 deliveries, got %d", got)
	}
	if len(failures) != 1 || failures[0].ID != msg.ID {
		t.Fatalf("failure handler must fire exactly once, got %d", len(failures))
	}
	if f.PendingCount() != 0 {
		t.Fatalf("dropped message must leave pending, got %d", f.PendingCount())
	}
}

func TestSendFailureRemovesConnection(t *testing.T) {
	f := testFabric()
	healthy := subscribe(t, f, "wf-1", "client-a")
	broken := &fakeConn{id: "client-b", fail: true}
	if err := f.Subscribe("wf-1", broken, nil, false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := f.Broadcast("wf-1", Message{Type: events.NodeCreated}, ""); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if f.ConnectionCount("wf-1") != 1 {
		t.Fatalf("failed connection must be removed, got %d", f.ConnectionCount("wf-1"))
	}
	if !broken.closed {
		t.Fatalf("failed connection must be closed")
	}
	if len(healthy.messages(t)) != 1 {
		t.Fatalf("healthy connection must still be served")
	}
}

func TestSubscribeSendsInitialState(t *testing.T) {
	f := testFabric()
	snapshot := &graph.Workflow{
		ID: "wf-1",
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.KindStart},
			{ID: "end", Kind: graph.KindEnd},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start", Target: "end"}},
	}
	conn := &fakeConn{id: "client-a"}
	if err := f.Subscribe("wf-1", conn, snapshot, true); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := conn.messages(t)
	if len(got) != 1 || got[0].Type != MsgInitialState {
		t.Fatalf("expected one initial_state frame, got %#v", got)
	}
	nodes, ok := got[0].Payload["nodes"].([]any)
	if !ok || len(nodes) != 2 {
		t.Fatalf("initial state must carry the node snapshot: %#v", got[0].Payload)
	}
	if f.PendingCount() != 1 {
		t.Fatalf("initial state must await an ack")
	}
}

func TestSyncWorkflowEmitsLinearDiffMessages(t *testing.T) {
	f := testFabric()
	before := &graph.Workflow{
		ID: "wf-1",
		Nodes: []graph.Node{
			{ID: "start", Kind: graph.KindStart},
			{ID: "old", Kind: graph.KindDefault},
			{ID: "end", Kind: graph.KindEnd},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start", Target: "old"}},
	}
	conn := &fakeConn{id: "client-a"}
	if err := f.Subscribe("wf-1", conn, before, false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	after := before.Clone()
	after.Nodes = []graph.Node{
		{ID: "start", Kind: graph.KindStart, Position: graph.Position{X: 10}},
		{ID: "fresh", Kind: graph.KindDefault},
		{ID: "end", Kind: graph.KindEnd},
	}
	after.Edges = []graph.Edge{{ID: "e2", Source: "start", Target: "fresh"}}

	sent, err := f.SyncWorkflow("wf-1", after)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	want := []events.Type{
		events.NodeCreated, events.NodeDeleted, events.NodeUpdated,
		events.EdgeCreated, events.EdgeDeleted,
	}
	if len(sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(sent))
	}
	for i, msgType := range want {
		if sent[i].Type != msgType {
			t.Fatalf("message %d: got %s, want %s", i, sent[i].Type, msgType)
		}
	}
	if sent[1].Payload["node_id"] != "old" {
		t.Fatalf("node_deleted must name the removed node: %#v", sent[1].Payload)
	}

	// Unchanged snapshot produces no traffic.
	again, err := f.SyncWorkflow("wf-1", after)
	if err != nil || len(again) != 0 {
		t.Fatalf("empty diff must emit nothing, got %d / %v", len(again), err)
	}
}

func TestInboundAckFlow(t *testing.T) {
	f := testFabric()
	subscribe(t, f, "wf-1", "client-a")
	msg, _ := f.Broadcast("wf-1", Message{Type: events.NodeCreated}, "")

	frame := []byte(`{"type":"ack","message_id":"` + msg.ID + `"}`)
	if err := f.HandleInbound("client-a", frame); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if f.PendingCount() != 0 {
		t.Fatalf("ack frame must clear pending")
	}
	// A replayed frame is deduplicated, not an error.
	if err := f.HandleInbound("client-a", frame); err != nil {
		t.Fatalf("duplicate inbound: %v", err)
	}
}

func TestBusEventsAreForwarded(t *testing.T) {
	f := testFabric()
	conn := subscribe(t, f, "wf-1", "client-a")
	bus := events.NewBus(nil)
	cancel := f.AttachBus(bus)
	defer cancel()

	bus.Publish(events.Event{
		Type:       events.NodeComplete,
		WorkflowID: "wf-1",
		RunID:      "run-1",
		NodeID:     "b",
		Payload:    map[string]any{"output": "done"},
	})
	bus.Publish(events.Event{Type: events.ToolRegistered}) // no workflow id

	got := conn.messages(t)
	if len(got) != 1 || got[0].Type != events.NodeComplete {
		t.Fatalf("expected one forwarded node_complete, got %#v", got)
	}
	if got[0].Payload["node_id"] != "b" || got[0].Payload["run_id"] != "run-1" {
		t.Fatalf("forwarded payload must carry identifiers: %#v", got[0].Payload)
	}
}

func TestDedupRingTrimsOldest(t *testing.T) {
	ring := newDedupRing(10)
	for i := 0; i < 10; i++ {
		if ring.Observe(fmt.Sprintf("key-%d", i)) {
			t.Fatalf("fresh key %d reported as duplicate", i)
		}
	}
	if !ring.Observe("key-5") {
		t.Fatalf("resident key must be a duplicate")
	}
	if ring.Observe("key-10") {
		t.Fatalf("overflow key reported as duplicate")
	}
	if ring.Len() != 10 {
		t.Fatalf("ring must hold its limit, got %d", ring.Len())
	}
	// key-0 was trimmed to make room, so it reads as fresh again.
	if ring.Observe("key-0") {
		t.Fatalf("trimmed key must be forgotten")
	}
}
