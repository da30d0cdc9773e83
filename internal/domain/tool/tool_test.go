package tool

import (
	"testing"

	"weave/internal/errors"
)

func TestPublishOnlyFromTesting(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusPublished, StatusDeprecated} {
		tl := &Tool{Name: "calc", Status: status}
		err := tl.Publish()
		if err == nil {
			t.Fatalf("publish from %q must fail", status)
		}
		if errors.KindOf(err) != errors.KindInvalidTransition {
			t.Fatalf("expected invalid_transition, got %v", err)
		}
	}

	tl := &Tool{Name: "calc", Status: StatusTesting}
	if err := tl.Publish(); err != nil {
		t.Fatalf("publish from testing must succeed: %v", err)
	}
	if tl.Status != StatusPublished {
		t.Fatalf("expected published, got %q", tl.Status)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusDraft, StatusTesting, true},
		{StatusDraft, StatusDeprecated, false},
		{StatusTesting, StatusDraft, true},
		{StatusTesting, StatusDeprecated, true},
		{StatusPublished, StatusDeprecated, true},
		{StatusPublished, StatusDraft, false},
		{StatusDeprecated, StatusDraft, false},
		{StatusDeprecated, StatusPublished, false},
	}
	for _, tt := range tests {
		tl := &Tool{Name: "calc", Status: tt.from}
		err := tl.Transition(tt.to)
		if tt.ok && err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tt.from, tt.to, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}

func TestParamLookup(t *testing.T) {
	tl := &Tool{Params: []Param{{Name: "query", Type: ParamString, Required: true}}}
	if _, ok := tl.Param("query"); !ok {
		t.Fatalf("expected to find declared parameter")
	}
	if _, ok := tl.Param("missing"); ok {
		t.Fatalf("undeclared parameter must not resolve")
	}
}

func TestClosedSets(t *testing.T) {
	if ParamType("tuple").Valid() {
		t.Fatalf("tuple is not a valid parameter type")
	}
	if EntryKind("grpc").Valid() {
		t.Fatalf("grpc is not a valid entry kind")
	}
	if Category("misc").Valid() {
		t.Fatalf("misc is not a valid category")
	}
	if !ParamBoolean.Valid() || !EntryHTTP.Valid() || !CategoryData.Valid() {
		t.Fatalf("closed-set members must validate")
	}
}
