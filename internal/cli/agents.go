package cli

import (
	"fmt"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/agentpool"
	"github.com/allyrun/ally/internal/background"
	"github.com/allyrun/ally/internal/config"
	"github.com/allyrun/ally/internal/workspace"
)

// agentView backs the /agent command with a snapshot of the pool, the
// delegation chain, and background agents.
type agentView struct {
	runtime *agent.Runtime
	pool    *agentpool.Pool
	bg      *background.AgentSupervisor
}

func (v *agentView) List() []string {
	out := []string{fmt.Sprintf("pool: %d entries", v.pool.Size())}
	if active, ok := v.runtime.DelegationTree().GetActiveDelegation(); ok {
		out = append(out, fmt.Sprintf("delegating: call %s via %s (depth %d)",
			active.Context.CallID, active.Context.ToolName, active.Depth))
	}
	for _, record := range v.bg.ListActive() {
		out = append(out, fmt.Sprintf("background: %s — %s", record.ID, record.Task))
	}
	return out
}

// projectView backs the /project command with the workspace's context files.
type projectView struct {
	cfg *config.Config
}

func (v *projectView) View() string {
	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(v.cfg))
	if err != nil {
		return "no project context loaded"
	}
	if ws.AgentsContent == "" && ws.SoulContent == "" {
		return "no project context files found (AGENTS.md, SOUL.md)"
	}
	out := ""
	if ws.AgentsContent != "" {
		out += ws.AgentsContent + "\n"
	}
	if ws.SoulContent != "" {
		out += ws.SoulContent + "\n"
	}
	return out
}

func (v *projectView) Init() error {
	root := v.cfg.Workspace.Path
	if root == "" {
		root = "."
	}
	_, err := workspace.EnsureWorkspaceFiles(root, workspace.BootstrapFilesForConfig(v.cfg), false)
	return err
}
