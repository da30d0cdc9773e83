package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindToolNotFound, "tool %q is not registered", "web_search")
	if got := KindOf(err); got != KindToolNotFound {
		t.Fatalf("expected tool_not_found, got %q", got)
	}

	wrapped := fmt.Errorf("dispatch failed: %w", err)
	if got := KindOf(wrapped); got != KindToolNotFound {
		t.Fatalf("KindOf should see through wrapping, got %q", got)
	}

	if got := KindOf(stderrors.New("plain")); got != "" {
		t.Fatalf("plain errors must report empty kind, got %q", got)
	}
}

func TestWithMeta(t *testing.T) {
	err := New(KindValidation, "workflow rejected").
		WithMeta("issues", []string{"cycle_detected"})

	meta := MetaOf(err)
	if meta == nil {
		t.Fatalf("expected meta map")
	}
	if _, ok := meta["issues"]; !ok {
		t.Fatalf("expected issues key in meta")
	}
	if MetaOf(stderrors.New("plain")) != nil {
		t.Fatalf("plain errors carry no meta")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit retryable", New(KindNodeExecution, "boom").AsRetryable(), true},
		{"timeout kind", New(KindTimeout, "node deadline exceeded"), true},
		{"repository unavailable", New(KindRepositoryUnavailable, "tool repo down"), true},
		{"cancelled kind", New(KindCancelled, "run cancelled"), false},
		{"validation kind", New(KindValidation, "bad graph"), false},
		{"quota kind", New(KindQuotaExceeded, "no slots"), false},
		{"context deadline", context.DeadlineExceeded, true},
		{"context cancel", context.Canceled, false},
		{"connection refused text", fmt.Errorf("dial tcp 127.0.0.1:9000: connect: connection refused"), true},
		{"plain permanent", stderrors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	root := stderrors.New("socket closed")
	err := Wrap(root, KindConnectionClosed, "canvas send failed")
	if !stderrors.Is(err, root) {
		t.Fatalf("expected wrapped root to be reachable")
	}
	if err.Error() == "" {
		t.Fatalf("expected formatted message")
	}
}
