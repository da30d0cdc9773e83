package toolengine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"weave/internal/errors"
)

// Limiter enforces the per-tool concurrency ceilings plus the process-wide
// one. Admission waits FIFO on the per-tool queue and respects the caller's
// context; rejections are synchronous when the context is already done.
type Limiter struct {
	mu       sync.Mutex
	perTool  map[string]*toolSlot
	global   *semaphore.Weighted
	fallback int
	metrics  *Metrics
}

type toolSlot struct {
	slots   chan struct{}
	waiting int
}

// NewLimiter creates a limiter with the given process-wide ceiling and the
// default per-tool ceiling used when a tool declares none.
func NewLimiter(globalLimit, defaultPerTool int, metrics *Metrics) *Limiter {
	if globalLimit <= 0 {
		globalLimit = 64
	}
	if defaultPerTool <= 0 {
		defaultPerTool = 4
	}
	return &Limiter{
		perTool:  make(map[string]*toolSlot),
		global:   semaphore.NewWeighted(int64(globalLimit)),
		fallback: defaultPerTool,
		metrics:  metrics,
	}
}

func (l *Limiter) slot(toolName string, ceiling int) *toolSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.perTool[toolName]; ok {
		return s
	}
	if ceiling <= 0 {
		ceiling = l.fallback
	}
	s := &toolSlot{slots: make(chan struct{}, ceiling)}
	l.perTool[toolName] = s
	return s
}

// Acquire admits one execution of toolName, waiting until both a per-tool
// and a global slot are free. The returned release function must be called
// exactly once.
func (l *Limiter) Acquire(ctx context.Context, toolName string, ceiling int) (func(), error) {
	s := l.slot(toolName, ceiling)

	l.mu.Lock()
	s.waiting++
	l.mu.Unlock()
	l.metrics.queueDepth(toolName, +1)

	defer func() {
		l.mu.Lock()
		s.waiting--
		l.mu.Unlock()
		l.metrics.queueDepth(toolName, -1)
	}()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		l.metrics.rejected(toolName)
		return nil, errors.Wrap(ctx.Err(), errors.KindQuotaExceeded,
			"gave up waiting for a %q slot", toolName)
	}

	if err := l.global.Acquire(ctx, 1); err != nil {
		<-s.slots
		l.metrics.rejected(toolName)
		return nil, errors.Wrap(err, errors.KindQuotaExceeded,
			"gave up waiting for a global tool slot")
	}

	l.metrics.admitted(toolName)
	l.metrics.inFlight(toolName, +1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.global.Release(1)
			<-s.slots
			l.metrics.inFlight(toolName, -1)
		})
	}
	return release, nil
}

// InFlight reports the current number of executing calls for a tool.
func (l *Limiter) InFlight(toolName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.perTool[toolName]; ok {
		return len(s.slots)
	}
	return 0
}

// QueueLength reports how many callers are waiting for a slot.
func (l *Limiter) QueueLength(toolName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.perTool[toolName]; ok {
		waiting := s.waiting - len(s.slots)
		if waiting < 0 {
			return 0
		}
		return waiting
	}
	return 0
}
