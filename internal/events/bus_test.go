package events

import (
	"sync"
	"testing"
)

func TestPublishFanOutInOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.Subscribe(func(e Event) { order = append(order, "first:"+string(e.Type)) })
	bus.Subscribe(func(e Event) { order = append(order, "second:"+string(e.Type)) })

	bus.Publish(Event{Type: NodeStart})
	bus.Publish(Event{Type: NodeComplete})

	want := []string{
		"first:node_start", "second:node_start",
		"first:node_complete", "second:node_complete",
	}
	if len(order) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery %d: expected %q, got %q", i, want[i], order[i])
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)

	count := 0
	cancel := bus.Subscribe(func(Event) { count++ })

	bus.Publish(Event{Type: NodeStart})
	cancel()
	bus.Publish(Event{Type: NodeComplete})

	if count != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", count)
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers left")
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := NewBus(nil)
	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Publish(Event{Type: WorkflowStart, WorkflowID: "wf_1"})
	if got.Timestamp.IsZero() {
		t.Fatalf("publish must stamp the event timestamp")
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Type: NodeStart})
			}
		}()
	}
	wg.Wait()

	if count != 800 {
		t.Fatalf("expected 800 deliveries, got %d", count)
	}
}
