package cli

import (
	"fmt"

	"github.com/allyrun/ally/internal/background"
)

// taskFacade adapts the background shell and agent supervisors to the
// commands.TaskManager interface the /task command depends on.
type taskFacade struct {
	shells *background.ShellSupervisor
	agents *background.AgentSupervisor
}

func newTaskFacade(shells *background.ShellSupervisor, agents *background.AgentSupervisor) *taskFacade {
	return &taskFacade{shells: shells, agents: agents}
}

func (f *taskFacade) List() []string {
	var out []string
	for _, p := range f.shells.ListProcesses() {
		out = append(out, fmt.Sprintf("%s  shell   %-10s %s", p.ID, p.Status, p.Command))
	}
	for _, r := range f.agents.ListActive() {
		status := "running"
		if r.Outcome != nil {
			status = string(r.Outcome.Status)
		}
		out = append(out, fmt.Sprintf("%s  agent   %-10s %s", r.ID, status, r.Task))
	}
	return out
}

func (f *taskFacade) Kill(id string) error {
	if _, ok := f.shells.GetProcess(id); ok {
		return f.shells.KillProcess(id, "SIGTERM")
	}
	if _, ok := f.agents.Get(id); ok {
		return f.agents.KillAgent(id)
	}
	return fmt.Errorf("no running task with id %q", id)
}
