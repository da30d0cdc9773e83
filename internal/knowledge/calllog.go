// Package knowledge implements the append-only tool-call audit log and the
// knowledge-note lifecycle manager.
package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"weave/internal/domain/knowledge"
	"weave/internal/shared/logging"
)

// Store is the audit sink the tool engine records into.
type Store interface {
	Record(ctx context.Context, record knowledge.CallRecord) error
	GetCalls(ctx context.Context, filter CallFilter) ([]knowledge.CallRecord, error)
	Summarize(ctx context.Context, filter CallFilter) (CallSummary, error)
}

// CallFilter narrows audit queries. Zero values match everything.
type CallFilter struct {
	RunID      string
	WorkflowID string
	ToolName   string
	CallerID   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// CallSummary aggregates matching records.
type CallSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	ByTool    map[string]int `json:"by_tool"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
}

// CallLog is the in-memory append-only store. It keeps at most maxRecords
// entries; on overflow the oldest entries are dropped so recent activity is
// always queryable.
type CallLog struct {
	mu         sync.RWMutex
	records    []knowledge.CallRecord
	maxRecords int
	logger     logging.Logger
}

const defaultMaxRecords = 10000

// NewCallLog creates a call log holding up to maxRecords entries.
func NewCallLog(maxRecords int, logger logging.Logger) *CallLog {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	return &CallLog{
		maxRecords: maxRecords,
		logger:     logging.OrNop(logger),
	}
}

// Record appends; entries are never mutated afterwards.
func (l *CallLog) Record(_ context.Context, record knowledge.CallRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	if overflow := len(l.records) - l.maxRecords; overflow > 0 {
		l.records = append([]knowledge.CallRecord(nil), l.records[overflow:]...)
		l.logger.Warn("call log overflow: dropped %d oldest records", overflow)
	}
	return nil
}

func (f CallFilter) matches(r knowledge.CallRecord) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if f.CallerID != "" && r.CallerID != f.CallerID {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// GetCalls returns matching records, oldest first.
func (l *CallLog) GetCalls(_ context.Context, filter CallFilter) ([]knowledge.CallRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []knowledge.CallRecord
	for _, r := range l.records {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Summarize aggregates counts and latency percentiles over matching records.
func (l *CallLog) Summarize(ctx context.Context, filter CallFilter) (CallSummary, error) {
	records, err := l.GetCalls(ctx, filter)
	if err != nil {
		return CallSummary{}, err
	}

	summary := CallSummary{ByTool: make(map[string]int)}
	durations := make([]time.Duration, 0, len(records))
	for _, r := range records {
		summary.Total++
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.ByTool[r.ToolName]++
		durations = append(durations, r.Duration)
	}

	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		summary.P50 = percentile(durations, 50)
		summary.P95 = percentile(durations, 95)
		summary.P99 = percentile(durations, 99)
	}
	return summary, nil
}

// percentile assumes sorted input and uses the nearest-rank method.
func percentile(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Len returns the number of retained records.
func (l *CallLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
