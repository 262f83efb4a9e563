package agent

import (
	"context"

	"github.com/allyrun/ally/internal/delegation"
)

// DefaultMaxAgentDepth bounds how deep delegation chains may nest. A
// delegation tool must refuse to spawn a child once the current depth
// reaches this value.
const DefaultMaxAgentDepth = 3

type delegationTreeKey struct{}
type parentWatchdogKey struct{}
type agentDepthKey struct{}

// WithDelegationTree exposes the executing runtime's delegation tree to the
// tools it runs, so a delegation tool can register its child on the tree of
// whichever runtime invoked it, at any nesting depth.
func WithDelegationTree(ctx context.Context, tree *delegation.Tree) context.Context {
	return context.WithValue(ctx, delegationTreeKey{}, tree)
}

// DelegationTreeFromContext returns the invoking runtime's delegation tree,
// or nil outside a tool execution.
func DelegationTreeFromContext(ctx context.Context) *delegation.Tree {
	tree, _ := ctx.Value(delegationTreeKey{}).(*delegation.Tree)
	return tree
}

// WithParentWatchdog exposes the invoking runtime's activity watchdog to its
// tools, so a delegation tool can pause the parent's timer while its child
// runs and resume it with the delegation's outcome.
func WithParentWatchdog(ctx context.Context, wd *ActivityWatchdog) context.Context {
	return context.WithValue(ctx, parentWatchdogKey{}, wd)
}

// ParentWatchdogFromContext returns the invoking runtime's watchdog, or nil
// when the runtime runs without one.
func ParentWatchdogFromContext(ctx context.Context) *ActivityWatchdog {
	wd, _ := ctx.Value(parentWatchdogKey{}).(*ActivityWatchdog)
	return wd
}

// WithAgentDepth records the delegation depth of the agent run owning ctx.
// The root run is depth 0; a delegation tool sets depth+1 on the context it
// hands its child.
func WithAgentDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, agentDepthKey{}, depth)
}

// AgentDepthFromContext returns the delegation depth for ctx (0 at the root).
func AgentDepthFromContext(ctx context.Context) int {
	depth, _ := ctx.Value(agentDepthKey{}).(int)
	return depth
}
