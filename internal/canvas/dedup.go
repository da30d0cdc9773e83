package canvas

import "sync"

const defaultDedupSize = 1000

// dedupRing remembers recently seen inbound message keys. On overflow the
// oldest tenth is trimmed so admission stays amortized O(1).
type dedupRing struct {
	mu    sync.Mutex
	limit int
	order []string
	seen  map[string]bool
}

func newDedupRing(limit int) *dedupRing {
	if limit <= 0 {
		limit = defaultDedupSize
	}
	return &dedupRing{limit: limit, seen: make(map[string]bool)}
}

// Observe records the key and reports whether it was already present.
func (r *dedupRing) Observe(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen[key] {
		return true
	}
	if len(r.order) >= r.limit {
		trim := r.limit / 10
		if trim < 1 {
			trim = 1
		}
		for _, old := range r.order[:trim] {
			delete(r.seen, old)
		}
		r.order = append(r.order[:0], r.order[trim:]...)
	}
	r.seen[key] = true
	r.order = append(r.order, key)
	return false
}

func (r *dedupRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
