package lifecycle

import (
	"sync"
	"time"

	"weave/internal/shared/jsonx"
)

// LogEntryType classifies one execution log entry.
type LogEntryType string

const (
	LogResourceAllocation LogEntryType = "resource_allocation"
	LogStateChange        LogEntryType = "state_change"
	LogLifecycleOperation LogEntryType = "lifecycle_operation"
)

// LogEntry is one record in the bounded ring.
type LogEntry struct {
	Type      LogEntryType   `json:"type"`
	AgentID   string         `json:"agent_id"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecutionLogger keeps the most recent lifecycle activity in a fixed-size
// ring. On overflow the oldest entry is overwritten.
type ExecutionLogger struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int
	filled  bool
}

const defaultLogCapacity = 1000

// NewExecutionLogger creates a ring holding up to capacity entries.
func NewExecutionLogger(capacity int) *ExecutionLogger {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &ExecutionLogger{entries: make([]LogEntry, capacity)}
}

// Record appends one entry, overwriting the oldest when full.
func (l *ExecutionLogger) Record(entryType LogEntryType, agentID string, detail map[string]any) {
	entry := LogEntry{
		Type:      entryType,
		AgentID:   agentID,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	l.entries[l.head] = entry
	l.head = (l.head + 1) % len(l.entries)
	if l.head == 0 {
		l.filled = true
	}
	l.mu.Unlock()
}

// LogFilter narrows Entries queries. Zero values match everything.
type LogFilter struct {
	AgentID string
	Type    LogEntryType
	Limit   int
}

// Entries returns matching records, oldest first.
func (l *ExecutionLogger) Entries(filter LogFilter) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.head
	start := 0
	if l.filled {
		size = len(l.entries)
		start = l.head
	}

	var out []LogEntry
	for i := 0; i < size; i++ {
		entry := l.entries[(start+i)%len(l.entries)]
		if filter.AgentID != "" && entry.AgentID != filter.AgentID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Export renders the matching entries as a JSON array.
func (l *ExecutionLogger) Export(filter LogFilter) ([]byte, error) {
	entries := l.Entries(filter)
	if entries == nil {
		entries = []LogEntry{}
	}
	return jsonx.MarshalIndent(entries, "", "  ")
}

// Len reports how many entries the ring currently holds.
func (l *ExecutionLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.filled {
		return len(l.entries)
	}
	return l.head
}
