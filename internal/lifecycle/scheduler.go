package lifecycle

import (
	"fmt"
	"sync"
)

// Policy is the closed set of scheduling strategies.
type Policy string

const (
	PolicyPriority      Policy = "priority"
	PolicyFIFO          Policy = "fifo"
	PolicyResourceAware Policy = "resource_aware"
	PolicyWeightedFair  Policy = "weighted_fair"
	PolicyLeastLoaded   Policy = "least_loaded"
	PolicyRoundRobin    Policy = "round_robin"
)

// Valid reports whether p is a member of the closed policy set.
func (p Policy) Valid() bool {
	switch p {
	case PolicyPriority, PolicyFIFO, PolicyResourceAware,
		PolicyWeightedFair, PolicyLeastLoaded, PolicyRoundRobin:
		return true
	}
	return false
}

// SchedulerConfig holds the admission ceilings.
type SchedulerConfig struct {
	MaxConcurrentAgents int
	CPUQuota            float64
	MemoryQuotaMB       int
	GPUQuotaMB          int
	Policy              Policy
}

// DefaultSchedulerConfig returns the admission defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentAgents: 32,
		CPUQuota:            64,
		MemoryQuotaMB:       65536,
		GPUQuotaMB:          0,
		Policy:              PolicyFIFO,
	}
}

// Request is one admission candidate.
type Request struct {
	AgentID   string
	Owner     string
	Host      string
	Priority  int
	Weight    float64
	Resources Resources
}

// Decision is the synchronous admission outcome. Basis snapshots the facts
// the decision was made on so rejections are explainable after the fact.
type Decision struct {
	Admitted bool           `json:"admitted"`
	Reason   string         `json:"reason,omitempty"`
	Basis    map[string]any `json:"basis"`
}

// Scheduler admits agents against global quotas and orders waiting requests
// by the configured policy. Admission never blocks.
type Scheduler struct {
	mu        sync.Mutex
	config    SchedulerConfig
	running   int
	allocated Resources
	hostLoad  map[string]int
	ownerUse  map[string]float64
	queue     []Request
	rrCursor  int
}

// NewScheduler creates a scheduler with the given ceilings.
func NewScheduler(config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.MaxConcurrentAgents <= 0 {
		config.MaxConcurrentAgents = defaults.MaxConcurrentAgents
	}
	if config.CPUQuota <= 0 {
		config.CPUQuota = defaults.CPUQuota
	}
	if config.MemoryQuotaMB <= 0 {
		config.MemoryQuotaMB = defaults.MemoryQuotaMB
	}
	if !config.Policy.Valid() {
		config.Policy = defaults.Policy
	}
	return &Scheduler{
		config:   config,
		hostLoad: make(map[string]int),
		ownerUse: make(map[string]float64),
	}
}

// Admit checks the request against every quota and, on success, reserves
// the slot and resources. Rejections carry a reason and a decision basis.
func (s *Scheduler) Admit(req Request) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	basis := s.basisLocked(req)

	if s.running >= s.config.MaxConcurrentAgents {
		return Decision{
			Admitted: false,
			Reason: fmt.Sprintf("running agents at ceiling (%d of %d)",
				s.running, s.config.MaxConcurrentAgents),
			Basis: basis,
		}
	}
	want := s.allocated.Add(req.Resources)
	if want.CPUCores > s.config.CPUQuota {
		return Decision{
			Admitted: false,
			Reason: fmt.Sprintf("cpu quota exceeded: %.1f of %.1f cores",
				want.CPUCores, s.config.CPUQuota),
			Basis: basis,
		}
	}
	if want.MemoryMB > s.config.MemoryQuotaMB {
		return Decision{
			Admitted: false,
			Reason: fmt.Sprintf("memory quota exceeded: %d of %d MB",
				want.MemoryMB, s.config.MemoryQuotaMB),
			Basis: basis,
		}
	}
	if s.config.GPUQuotaMB > 0 && want.GPUMemoryMB > s.config.GPUQuotaMB {
		return Decision{
			Admitted: false,
			Reason: fmt.Sprintf("gpu quota exceeded: %d of %d MB",
				want.GPUMemoryMB, s.config.GPUQuotaMB),
			Basis: basis,
		}
	}

	s.running++
	s.allocated = want
	s.hostLoad[req.Host]++
	s.ownerUse[req.Owner] += weightOf(req)
	return Decision{Admitted: true, Basis: basis}
}

// Release returns the slot and resources of a terminated agent.
func (s *Scheduler) Release(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
	s.allocated = s.allocated.Sub(req.Resources)
	if s.hostLoad[req.Host] > 0 {
		s.hostLoad[req.Host]--
	}
	s.ownerUse[req.Owner] -= weightOf(req)
	if s.ownerUse[req.Owner] < 0 {
		s.ownerUse[req.Owner] = 0
	}
}

// Enqueue parks a request for later policy-ordered selection.
func (s *Scheduler) Enqueue(req Request) {
	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.mu.Unlock()
}

// Next pops the waiting request the configured policy ranks first, or false
// when the queue is empty.
func (s *Scheduler) Next() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Request{}, false
	}

	idx := 0
	switch s.config.Policy {
	case PolicyFIFO:
		// queue order is arrival order

	case PolicyPriority:
		for i, req := range s.queue {
			if req.Priority > s.queue[idx].Priority {
				idx = i
			}
		}

	case PolicyResourceAware:
		// Smallest footprint first, so headroom serves more agents.
		for i, req := range s.queue {
			if footprint(req.Resources) < footprint(s.queue[idx].Resources) {
				idx = i
			}
		}

	case PolicyWeightedFair:
		// Lowest used-share-to-weight ratio goes first.
		best := s.fairShare(s.queue[idx])
		for i, req := range s.queue {
			if share := s.fairShare(req); share < best {
				best = share
				idx = i
			}
		}

	case PolicyLeastLoaded:
		for i, req := range s.queue {
			if s.hostLoad[req.Host] < s.hostLoad[s.queue[idx].Host] {
				idx = i
			}
		}

	case PolicyRoundRobin:
		owners := s.queuedOwners()
		if len(owners) > 0 {
			owner := owners[s.rrCursor%len(owners)]
			s.rrCursor++
			for i, req := range s.queue {
				if req.Owner == owner {
					idx = i
					break
				}
			}
		}
	}

	req := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	return req, true
}

// QueueLength reports how many requests are waiting.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running reports the current admitted count.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) basisLocked(req Request) map[string]any {
	return map[string]any{
		"policy":        string(s.config.Policy),
		"running":       s.running,
		"max_agents":    s.config.MaxConcurrentAgents,
		"allocated_cpu": s.allocated.CPUCores,
		"allocated_mem": s.allocated.MemoryMB,
		"cpu_quota":     s.config.CPUQuota,
		"memory_quota":  s.config.MemoryQuotaMB,
		"host_load":     s.hostLoad[req.Host],
		"priority":      req.Priority,
	}
}

func (s *Scheduler) fairShare(req Request) float64 {
	return s.ownerUse[req.Owner] / weightOf(req)
}

func (s *Scheduler) queuedOwners() []string {
	seen := make(map[string]bool)
	var owners []string
	for _, req := range s.queue {
		if !seen[req.Owner] {
			seen[req.Owner] = true
			owners = append(owners, req.Owner)
		}
	}
	return owners
}

func weightOf(req Request) float64 {
	if req.Weight <= 0 {
		return 1
	}
	return req.Weight
}

func footprint(r Resources) float64 {
	return r.CPUCores + float64(r.MemoryMB)/1024 + float64(r.GPUMemoryMB)/1024
}
