package knowledge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"weave/internal/domain/knowledge"
)

func record(tool, runID string, ok bool, d time.Duration) knowledge.CallRecord {
	return knowledge.CallRecord{
		ToolName:   tool,
		CallerType: knowledge.CallerWorkflowNode,
		RunID:      runID,
		Success:    ok,
		Duration:   d,
		Timestamp:  time.Now(),
	}
}

func TestCallLogAppendAndFilter(t *testing.T) {
	ctx := context.Background()
	log := NewCallLog(100, nil)

	for i := 0; i < 5; i++ {
		if err := log.Record(ctx, record("calc", "run_1", true, time.Millisecond)); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if err := log.Record(ctx, record("web_search", "run_2", false, time.Second)); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	calls, err := log.GetCalls(ctx, CallFilter{RunID: "run_1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 records for run_1, got %d", len(calls))
	}

	calls, _ = log.GetCalls(ctx, CallFilter{ToolName: "web_search"})
	if len(calls) != 1 || calls[0].Success {
		t.Fatalf("expected one failed web_search record, got %+v", calls)
	}

	calls, _ = log.GetCalls(ctx, CallFilter{RunID: "run_1", Limit: 2})
	if len(calls) != 2 {
		t.Fatalf("limit must cap results, got %d", len(calls))
	}
}

func TestCallLogOverflowDropsOldest(t *testing.T) {
	ctx := context.Background()
	log := NewCallLog(3, nil)

	for i := 0; i < 5; i++ {
		_ = log.Record(ctx, record(fmt.Sprintf("tool_%d", i), "run", true, 0))
	}
	if log.Len() != 3 {
		t.Fatalf("expected cap of 3, got %d", log.Len())
	}
	calls, _ := log.GetCalls(ctx, CallFilter{})
	if calls[0].ToolName != "tool_2" {
		t.Fatalf("oldest records must be dropped first, got %s", calls[0].ToolName)
	}
}

func TestSummarizePercentiles(t *testing.T) {
	ctx := context.Background()
	log := NewCallLog(0, nil)

	for i := 1; i <= 100; i++ {
		_ = log.Record(ctx, record("calc", "run", i%10 != 0, time.Duration(i)*time.Millisecond))
	}

	summary, err := log.Summarize(ctx, CallFilter{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if summary.Total != 100 || summary.Failed != 10 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.P50 != 50*time.Millisecond {
		t.Fatalf("expected p50 of 50ms, got %v", summary.P50)
	}
	if summary.P95 != 95*time.Millisecond {
		t.Fatalf("expected p95 of 95ms, got %v", summary.P95)
	}
	if summary.P99 != 99*time.Millisecond {
		t.Fatalf("expected p99 of 99ms, got %v", summary.P99)
	}
	if summary.ByTool["calc"] != 100 {
		t.Fatalf("expected per-tool count of 100, got %d", summary.ByTool["calc"])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary, err := NewCallLog(0, nil).Summarize(context.Background(), CallFilter{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if summary.Total != 0 || summary.P50 != 0 {
		t.Fatalf("empty log must summarize to zeros, got %+v", summary)
	}
}
