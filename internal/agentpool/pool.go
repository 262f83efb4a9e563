// Package agentpool keeps an LRU pool of
// reusable agent instances keyed by pool-key, with atomic reservation that
// prevents two concurrent acquirers from leasing the same instance.
package agentpool

import (
	"fmt"
	"sync"
	"time"
)

// Agent is the minimal surface a pooled instance must provide. Reset is
// called on reuse to clear nested delegation-routing state and prior
// conversation history before a reused instance takes on a new task.
type Agent interface {
	Reset()
}

// Config carries the parameters that
// distinguish one agent task from another for pooling purposes.
type Config struct {
	IsSpecializedAgent bool
	SystemPrompt       string
	BaseAgentPrompt    string
	TaskPrompt         string
	ParentCallID       string
	MaxDuration        time.Duration
	HasInitialMessages bool
	PoolKey            string
	Verbose            bool
}

type entry struct {
	AgentID        string
	Agent          Agent
	Config         Config
	CreatedAt      time.Time
	LastAccessedAt time.Time
	UseCount       int
	InUse          bool
}

// Lease is a held reservation on a pooled agent. Callers must call
// Release when done so the entry becomes eligible for reuse or eviction.
type Lease struct {
	AgentID string
	Agent   Agent
	pool    *Pool
}

// Release returns the leased agent to the pool.
func (l *Lease) Release() {
	l.pool.release(l.AgentID)
}

// Pool is an LRU pool of reusable agents. Default max size is 5; callers
// running deep delegation chains configure a larger cap.
type Pool struct {
	mu        sync.Mutex
	maxSize   int
	entries   map[string]*entry
	order     []string // insertion/access order, oldest first, for LRU eviction
	acquiring map[string]bool
	idGen     func() string
	newAgent  func(cfg Config) Agent
}

// New creates a pool bounded at maxSize (falls back to 5 if <= 0).
// idGen generates new agent IDs (injected for deterministic tests);
// newAgent constructs a fresh agent instance for a given Config.
func New(maxSize int, idGen func() string, newAgent func(cfg Config) Agent) *Pool {
	if maxSize <= 0 {
		maxSize = 5
	}
	return &Pool{
		maxSize:   maxSize,
		entries:   make(map[string]*entry),
		acquiring: make(map[string]bool),
		idGen:     idGen,
		newAgent:  newAgent,
	}
}

// Acquire reserves an agent for cfg, reusing a free matching entry when
// possible, otherwise evicting the least-recently-used free entry or
// creating a new one.
func (p *Pool) Acquire(cfg Config) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Initial-context tasks must never leak history across tasks: always
	// create fresh, never reuse.
	if !cfg.HasInitialMessages {
		if id, e := p.findMatchLocked(cfg); e != nil {
			p.acquiring[id] = true
			e.InUse = true
			e.UseCount++
			e.LastAccessedAt = time.Now()
			delete(p.acquiring, id)
			e.Agent.Reset()
			e.Config = cfg
			p.touchLocked(id)
			return &Lease{AgentID: id, Agent: e.Agent, pool: p}, nil
		}
	}

	if len(p.entries) >= p.maxSize {
		// If every entry is in use, evictLRULocked is a no-op and the pool
		// temporarily exceeds its cap rather than blocking the caller.
		p.evictLRULocked()
	}

	id := p.idGen()
	ag := p.newAgent(cfg)
	now := time.Now()
	e := &entry{
		AgentID:        id,
		Agent:          ag,
		Config:         cfg,
		CreatedAt:      now,
		LastAccessedAt: now,
		UseCount:       1,
		InUse:          true,
	}
	p.entries[id] = e
	p.order = append(p.order, id)
	return &Lease{AgentID: id, Agent: ag, pool: p}, nil
}

// findMatchLocked returns the first free, non-acquiring entry matching
// cfg: pool keys must match exactly when both are set, a key on only one
// side never matches, and keyless configs match on specialization.
func (p *Pool) findMatchLocked(cfg Config) (string, *entry) {
	for _, id := range p.order {
		e := p.entries[id]
		if e.InUse || p.acquiring[id] {
			continue
		}
		if matches(e.Config, cfg) {
			return id, e
		}
	}
	return "", nil
}

func matches(existing, wanted Config) bool {
	switch {
	case existing.PoolKey != "" && wanted.PoolKey != "":
		return existing.PoolKey == wanted.PoolKey
	case existing.PoolKey != "" || wanted.PoolKey != "":
		return false
	default:
		return existing.IsSpecializedAgent == wanted.IsSpecializedAgent
	}
}

// evictLRULocked removes the least-recently-used free entry. Returns
// false if every entry is currently in use (cap exceeded temporarily).
func (p *Pool) evictLRULocked() bool {
	bestIdx := -1
	var bestTime time.Time
	for i, id := range p.order {
		e := p.entries[id]
		if e.InUse || p.acquiring[id] {
			continue
		}
		if bestIdx == -1 || e.LastAccessedAt.Before(bestTime) {
			bestIdx = i
			bestTime = e.LastAccessedAt
		}
	}
	if bestIdx == -1 {
		return false
	}
	id := p.order[bestIdx]
	delete(p.entries, id)
	p.order = append(p.order[:bestIdx], p.order[bestIdx+1:]...)
	return true
}

// touchLocked moves id to the end of the LRU order (most recently used).
func (p *Pool) touchLocked(id string) {
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.order = append(p.order, id)
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		e.InUse = false
		e.LastAccessedAt = time.Now()
	}
}

// EvictPluginAgents removes non-in-use entries whose pool key starts with
// "plugin-<name>-", e.g. when a plugin is deactivated.
func (p *Pool) EvictPluginAgents(name string) {
	prefix := fmt.Sprintf("plugin-%s-", name)
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.order[:0:0]
	for _, id := range p.order {
		e := p.entries[id]
		if !e.InUse && len(e.Config.PoolKey) >= len(prefix) && e.Config.PoolKey[:len(prefix)] == prefix {
			delete(p.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	p.order = kept
}

// Size reports the number of entries currently held (in use or idle).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Clear removes every entry, in-use or not; used on full shutdown.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*entry)
	p.order = nil
	p.acquiring = make(map[string]bool)
}
