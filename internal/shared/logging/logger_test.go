package logging

import "testing"

type recordingLogger struct {
	calls int
}

func (r *recordingLogger) Debug(string, ...any) { r.calls++ }
func (r *recordingLogger) Info(string, ...any)  { r.calls++ }
func (r *recordingLogger) Warn(string, ...any)  { r.calls++ }
func (r *recordingLogger) Error(string, ...any) { r.calls++ }

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) must return a usable logger")
	}

	var typedNil *recordingLogger
	logger := OrNop(typedNil)
	// Must not panic on a nil pointer receiver hiding behind the interface.
	logger.Info("ignored")

	real := &recordingLogger{}
	if OrNop(real) != Logger(real) {
		t.Fatalf("OrNop must pass through non-nil loggers")
	}
}

func TestMultiFanOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	logger := Multi(a, nil, b)
	logger.Info("hello %s", "world")
	logger.Error("boom")

	if a.calls != 2 || b.calls != 2 {
		t.Fatalf("expected both loggers to see 2 calls, got %d and %d", a.calls, b.calls)
	}
}

func TestMultiFlattensNested(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	nested := Multi(a, b)

	flattened := Multi(nested, &recordingLogger{})
	ml, ok := flattened.(*multiLogger)
	if !ok {
		t.Fatalf("expected multiLogger, got %T", flattened)
	}
	if len(ml.loggers) != 3 {
		t.Fatalf("expected 3 flattened loggers, got %d", len(ml.loggers))
	}
}

func TestMultiEmptyIsNop(t *testing.T) {
	logger := Multi(nil, nil)
	logger.Warn("discarded")
	if _, ok := logger.(nopLogger); !ok {
		t.Fatalf("expected nop logger for empty fan-out, got %T", logger)
	}
}
