// Package delegation tracks the delegations each agent currently has in
// flight, so a user interjection can be routed to the deepest
// currently-executing delegated agent.
package delegation

import (
	"sync"
	"time"
)

// State is the lifecycle state of a DelegationContext.
type State string

const (
	// StateExecuting marks a delegation as currently running and routable.
	StateExecuting State = "executing"
	// StateCompleting marks a delegation that has started winding down and
	// is no longer routable for interjections.
	StateCompleting State = "completing"
)

// Nested is implemented by a pooled agent that may itself hold a nested
// Tree, so a deepest-executing search can descend through delegations
// spawned by a delegation.
type Nested interface {
	DelegationTree() *Tree
}

// Interjectable receives a user interjection routed to the agent currently
// executing a delegation. InjectUserMessage queues the text for the agent's
// next loop step; Interrupt cancels its in-flight model call.
type Interjectable interface {
	InjectUserMessage(text string)
	Interrupt(reason string)
}

// Context is a single active or completing delegation.
type Context struct {
	CallID      string
	ToolName    string
	State       State
	PooledAgent Nested        // nil when the delegated agent has no further nesting
	Target      Interjectable // receives interjections routed to this delegation
	Timestamp   time.Time
}

// ActiveDelegation is the result of a deepest-executing lookup.
type ActiveDelegation struct {
	Context Context
	Depth   int
}

// MaxRecursionDepth bounds the deepest-executing search.
const MaxRecursionDepth = 4

// Tree tracks active delegations for one agent.
type Tree struct {
	mu       sync.Mutex
	contexts map[string]*Context
}

// New creates an empty delegation tree.
func New() *Tree {
	return &Tree{contexts: make(map[string]*Context)}
}

// Register records a new executing delegation for callID.
func (t *Tree) Register(callID, toolName string, pooledAgent Nested) {
	t.RegisterTarget(callID, toolName, pooledAgent, nil)
}

// RegisterTarget records a new executing delegation for callID along with
// the Interjectable that should receive interjections routed to it.
func (t *Tree) RegisterTarget(callID, toolName string, pooledAgent Nested, target Interjectable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts[callID] = &Context{
		CallID:      callID,
		ToolName:    toolName,
		State:       StateExecuting,
		PooledAgent: pooledAgent,
		Target:      target,
		Timestamp:   time.Now(),
	}
}

// TransitionToCompleting marks callID as winding down: it stays in the map
// (for bookkeeping) but becomes unroutable.
func (t *Tree) TransitionToCompleting(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.contexts[callID]; ok {
		c.State = StateCompleting
	}
}

// Clear removes callID entirely.
func (t *Tree) Clear(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.contexts, callID)
}

// ClearAll removes every delegation, e.g. when a pooled agent is reused
// for an unrelated task.
func (t *Tree) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts = make(map[string]*Context)
}

// GetActiveDelegation returns the deepest routable (executing) delegation
// reachable from this tree, bounded by MaxRecursionDepth. Ties are broken
// by the most recent timestamp. Returns (zero, false) if nothing is
// executing.
func (t *Tree) GetActiveDelegation() (ActiveDelegation, bool) {
	return t.deepest(0)
}

func (t *Tree) deepest(depth int) (ActiveDelegation, bool) {
	t.mu.Lock()
	// Snapshot executing contexts while holding the lock; descend into
	// children without re-entering this tree's own lock.
	executing := make([]Context, 0, len(t.contexts))
	for _, c := range t.contexts {
		if c.State == StateExecuting {
			executing = append(executing, *c)
		}
	}
	t.mu.Unlock()

	var best ActiveDelegation
	found := false

	for _, c := range executing {
		candidate := ActiveDelegation{Context: c, Depth: depth}
		if depth < MaxRecursionDepth && c.PooledAgent != nil {
			if child := c.PooledAgent.DelegationTree(); child != nil {
				if deeper, ok := child.deepest(depth + 1); ok {
					candidate = deeper
				}
			}
		}
		if !found || candidate.Depth > best.Depth ||
			(candidate.Depth == best.Depth && candidate.Context.Timestamp.After(best.Context.Timestamp)) {
			best = candidate
			found = true
		}
	}
	return best, found
}
