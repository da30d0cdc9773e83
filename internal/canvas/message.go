// Package canvas keeps connected editors in sync with the runtime: per-workflow
// connection sets, reliable broadcast with acknowledgment and retry, inbound
// deduplication, and snapshot diffing.
package canvas

import (
	"time"

	"weave/internal/events"
	"weave/internal/shared/id"
	"weave/internal/shared/jsonx"
)

// Message types the fabric produces beyond the shared runtime event set.
const (
	MsgInitialState   events.Type = "initial_state"
	MsgCanvasSnapshot events.Type = "canvas_snapshot"
	MsgAck            events.Type = "ack"
)

// Message is one outbound frame. Retries reuse the original ID so receivers
// can dedupe.
type Message struct {
	ID         string         `json:"message_id"`
	Type       events.Type    `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// stamp fills the generated fields and returns the wire encoding.
func (m *Message) stamp() ([]byte, error) {
	if m.ID == "" {
		m.ID = id.NewMessageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return jsonx.Marshal(m)
}

// Inbound is a frame received from a client. For acks, MessageID names the
// outbound message being acknowledged.
type Inbound struct {
	Type      string         `json:"type"`
	MessageID string         `json:"message_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}
