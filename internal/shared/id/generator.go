// Package id generates prefixed identifiers for runs, messages, connections
// and agents. Identifiers are time-ordered (UUIDv7) so logs sort naturally.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

func newIdentifier(prefix string) string {
	v7, err := uuid.NewV7()
	if err != nil {
		// rand failure is effectively unreachable; fall back to raw entropy
		// so identifier generation never blocks a run.
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf))
	}
	return fmt.Sprintf("%s-%s", prefix, v7.String())
}

// NewRunID generates a workflow run identifier.
func NewRunID() string { return newIdentifier("run") }

// NewMessageID generates a canvas message identifier.
func NewMessageID() string { return newIdentifier("msg") }

// NewClientID generates a canvas connection identifier.
func NewClientID() string { return newIdentifier("client") }

// NewTraceID generates a fallback trace identifier for audit records when no
// span is active.
func NewTraceID() string { return newIdentifier("trace") }

// NewConfirmID generates a run-confirmation gate identifier.
func NewConfirmID() string { return newIdentifier("confirm") }

// NewAgentID generates an agent instance identifier.
func NewAgentID() string { return newIdentifier("agent") }

// NewNoteID generates a knowledge note identifier.
func NewNoteID() string { return newIdentifier("note") }
