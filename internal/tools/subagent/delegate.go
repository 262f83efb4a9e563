// Package subagent implements the delegation tool: it leases a pooled agent
// runtime, runs a task on it in the foreground or background, and keeps the
// delegation tree and parent watchdog in sync for the task's duration.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/agentpool"
	"github.com/allyrun/ally/internal/background"
	"github.com/allyrun/ally/internal/delegation"
	"github.com/allyrun/ally/internal/observability"
	"github.com/allyrun/ally/pkg/models"
)

// PooledRuntime is the surface a pooled agent runtime must provide for
// delegation. *agent.Runtime satisfies it.
type PooledRuntime interface {
	Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
	DelegationTree() *delegation.Tree
	Reset()
}

// Thoroughness names the time budget a delegated task runs under.
type Thoroughness string

const (
	ThoroughnessQuick    Thoroughness = "quick"
	ThoroughnessMedium   Thoroughness = "medium"
	ThoroughnessThorough Thoroughness = "thorough"
	ThoroughnessUncapped Thoroughness = "uncapped"
)

// Budget returns the wall-time budget for a thoroughness level; 0 means
// uncapped. Unknown values get the medium budget.
func (t Thoroughness) Budget() time.Duration {
	switch t {
	case ThoroughnessQuick:
		return time.Minute
	case ThoroughnessMedium, "":
		return 5 * time.Minute
	case ThoroughnessThorough:
		return 10 * time.Minute
	case ThoroughnessUncapped:
		return 0
	default:
		return 5 * time.Minute
	}
}

// Delegator leases pooled runtimes for delegated tasks and tracks them on
// the invoking runtime's delegation tree.
type Delegator struct {
	pool       *agentpool.Pool
	supervisor *background.AgentSupervisor
	maxDepth   int
	metrics    *observability.Metrics
}

// NewDelegator creates a Delegator over pool. supervisor may be nil when
// background delegation is disabled; maxDepth <= 0 falls back to
// agent.DefaultMaxAgentDepth.
func NewDelegator(pool *agentpool.Pool, supervisor *background.AgentSupervisor, maxDepth int) *Delegator {
	if maxDepth <= 0 {
		maxDepth = agent.DefaultMaxAgentDepth
	}
	return &Delegator{pool: pool, supervisor: supervisor, maxDepth: maxDepth}
}

// SetMetrics attaches an optional metrics collector for pool occupancy.
func (d *Delegator) SetMetrics(m *observability.Metrics) {
	d.metrics = m
}

// interjectTarget routes interjections into a running delegated task.
type interjectTarget struct {
	queue  *agent.SteeringQueue
	cancel context.CancelFunc
}

func (t *interjectTarget) InjectUserMessage(text string) {
	t.queue.SteerText(text)
}

func (t *interjectTarget) Interrupt(reason string) {
	t.cancel()
}

// delegateParams are the arguments the model supplies to the delegate tool.
type delegateParams struct {
	Task            string `json:"task"`
	Name            string `json:"name"`
	SystemPrompt    string `json:"system_prompt"`
	Thoroughness    string `json:"thoroughness"`
	PoolKey         string `json:"pool_key"`
	RunInBackground bool   `json:"run_in_background"`
}

// Run leases a pooled runtime and executes task on it. Foreground runs
// block until the child finishes and return its final text; background runs
// return immediately with the background agent id.
func (d *Delegator) Run(ctx context.Context, params delegateParams) (string, error) {
	depth := agent.AgentDepthFromContext(ctx)
	if depth >= d.maxDepth {
		return "", fmt.Errorf("delegation depth limit reached (%d); finish this task directly instead of delegating further", d.maxDepth)
	}

	callID := observability.GetToolCallID(ctx)
	if callID == "" {
		callID = uuid.NewString()
	}

	if params.RunInBackground {
		return d.runBackground(ctx, callID, depth, params)
	}
	return d.runForeground(ctx, callID, depth, params)
}

func (d *Delegator) runForeground(ctx context.Context, callID string, depth int, params delegateParams) (string, error) {
	lease, err := d.pool.Acquire(agentpool.Config{
		IsSpecializedAgent: true,
		SystemPrompt:       params.SystemPrompt,
		TaskPrompt:         params.Task,
		ParentCallID:       callID,
		MaxDuration:        Thoroughness(params.Thoroughness).Budget(),
		PoolKey:            params.PoolKey,
	})
	if err != nil {
		return "", fmt.Errorf("acquire pooled agent: %w", err)
	}
	defer lease.Release()
	d.recordOccupancy()

	rt, ok := lease.Agent.(PooledRuntime)
	if !ok {
		return "", fmt.Errorf("pooled agent %s does not support delegation", lease.AgentID)
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if budget := Thoroughness(params.Thoroughness).Budget(); budget > 0 {
		childCtx, cancel = context.WithTimeout(childCtx, budget)
		defer cancel()
	}

	queue := agent.NewSteeringQueue()
	childCtx = agent.WithSteeringQueue(childCtx, queue)
	childCtx = agent.WithAgentDepth(childCtx, depth+1)
	if params.SystemPrompt != "" {
		childCtx = agent.WithSystemPrompt(childCtx, params.SystemPrompt)
	}

	tree := agent.DelegationTreeFromContext(ctx)
	if tree != nil {
		tree.RegisterTarget(callID, "delegate", rt, &interjectTarget{queue: queue, cancel: cancel})
		defer tree.Clear(callID)
	}

	// The parent's no-tool-call watchdog must not fire while the parent is
	// legitimately blocked on this child; a failed delegation resumes the
	// timer without crediting the parent with progress.
	succeeded := false
	if wd := agent.ParentWatchdogFromContext(ctx); wd != nil {
		wd.Pause()
		defer func() { wd.Resume(succeeded) }()
	}

	result, err := driveRun(childCtx, rt, callID, params)

	if tree != nil {
		tree.TransitionToCompleting(callID)
	}
	if err != nil {
		return "", err
	}
	succeeded = true
	return result, nil
}

func (d *Delegator) runBackground(ctx context.Context, callID string, depth int, params delegateParams) (string, error) {
	if d.supervisor == nil {
		return "", fmt.Errorf("background delegation is not enabled")
	}
	lease, err := d.pool.Acquire(agentpool.Config{
		IsSpecializedAgent: true,
		SystemPrompt:       params.SystemPrompt,
		TaskPrompt:         params.Task,
		ParentCallID:       callID,
		PoolKey:            params.PoolKey,
	})
	if err != nil {
		return "", fmt.Errorf("acquire pooled agent: %w", err)
	}
	d.recordOccupancy()

	rt, ok := lease.Agent.(PooledRuntime)
	if !ok {
		lease.Release()
		return "", fmt.Errorf("pooled agent %s does not support delegation", lease.AgentID)
	}

	budget := Thoroughness(params.Thoroughness).Budget()
	record := d.supervisor.Spawn(params.Task, callID, budget, func(runCtx context.Context) (string, error) {
		defer lease.Release()
		runCtx = agent.WithAgentDepth(runCtx, depth+1)
		if params.SystemPrompt != "" {
			runCtx = agent.WithSystemPrompt(runCtx, params.SystemPrompt)
		}
		return driveRun(runCtx, rt, callID, params)
	})

	return fmt.Sprintf("Started background agent %s for task: %s\nUse delegate_status to check on it.", record.ID, params.Task), nil
}

// driveRun sends the task to the pooled runtime and drains its stream into
// the final text.
func driveRun(ctx context.Context, rt PooledRuntime, callID string, params delegateParams) (string, error) {
	session := &models.Session{
		ID:        "delegate-" + callID,
		AgentID:   strings.TrimSpace(params.Name),
		Channel:   models.ChannelDelegate,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   params.Task,
		CreatedAt: time.Now(),
	}

	chunks, err := rt.Process(ctx, session, msg)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Text != "" {
			out.WriteString(chunk.Text)
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return strings.TrimSpace(out.String()), nil
}

func (d *Delegator) recordOccupancy() {
	if d.metrics != nil {
		d.metrics.SetPoolOccupancy(d.pool.Size())
	}
}

// DelegateTool exposes the Delegator to the model.
type DelegateTool struct {
	agent.ToolMeta
	delegator *Delegator
}

// NewDelegateTool wraps delegator as a registered tool.
func NewDelegateTool(delegator *Delegator) *DelegateTool {
	return &DelegateTool{
		ToolMeta: agent.NewToolMeta(false, true, false, false, true,
			"Delegate self-contained subtasks rather than long exploratory sequences; pick the smallest thoroughness that fits."),
		delegator: delegator,
	}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Delegate a task to a sub-agent with its own conversation and tools. " +
		"Set run_in_background=true for fire-and-forget tasks you will check on later."
}

func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "The complete, self-contained task for the sub-agent"},
			"name": {"type": "string", "description": "Short label for the sub-agent (e.g. 'researcher')"},
			"system_prompt": {"type": "string", "description": "Optional system prompt overriding the default"},
			"thoroughness": {"type": "string", "enum": ["quick", "medium", "thorough", "uncapped"], "description": "Time budget: quick ~1min, medium ~5min, thorough ~10min"},
			"run_in_background": {"type": "boolean", "description": "Run without blocking; returns a background agent id"}
		},
		"required": ["task"]
	}`)
}

func (t *DelegateTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params delegateParams
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(params.Task) == "" {
		return &agent.ToolResult{Content: "task is required", IsError: true}, nil
	}

	result, err := t.delegator.Run(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return &agent.ToolResult{Content: "delegation interrupted: " + err.Error(), IsError: true}, nil
		}
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: result}, nil
}

// StatusTool reports on background-delegated agents.
type StatusTool struct {
	agent.ToolMeta
	supervisor *background.AgentSupervisor
}

// NewStatusTool wraps supervisor as a registered tool.
func NewStatusTool(supervisor *background.AgentSupervisor) *StatusTool {
	return &StatusTool{
		ToolMeta:   agent.NewToolMeta(false, true, true, false, false, ""),
		supervisor: supervisor,
	}
}

func (t *StatusTool) Name() string { return "delegate_status" }

func (t *StatusTool) Description() string {
	return "Check a background agent by id, or list all running background agents."
}

func (t *StatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Background agent id (omit to list all running)"}
		}
	}`)
}

func (t *StatusTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}

	if params.ID != "" {
		record, ok := t.supervisor.Get(params.ID)
		if !ok {
			return &agent.ToolResult{Content: "no background agent with id " + params.ID, IsError: true}, nil
		}
		return &agent.ToolResult{Content: formatRecord(record)}, nil
	}

	active := t.supervisor.ListActive()
	if len(active) == 0 {
		return &agent.ToolResult{Content: "No background agents running."}, nil
	}
	var out strings.Builder
	for _, record := range active {
		out.WriteString(formatRecord(record))
		out.WriteString("\n")
	}
	return &agent.ToolResult{Content: strings.TrimRight(out.String(), "\n")}, nil
}

func formatRecord(record background.AgentRunRecord) string {
	if record.Outcome == nil {
		return fmt.Sprintf("%s: running since %s — %s",
			record.ID, record.StartedAt.Format(time.RFC3339), record.Task)
	}
	out := fmt.Sprintf("%s: %s — %s", record.ID, record.Outcome.Status, record.Task)
	if record.Outcome.Result != "" {
		out += "\nResult: " + record.Outcome.Result
	}
	if record.Outcome.Error != "" {
		out += "\nError: " + record.Outcome.Error
	}
	return out
}
