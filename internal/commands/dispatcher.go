package commands

// Dependencies is the facade surface the command dispatcher sits in
// front of. Each field is optional: a nil field degrades its command to a
// "not available" response rather than panicking, since not every host
// (e.g. a one-shot `--once` run) wires every collaborator.
type Dependencies struct {
	// CurrentModel returns the model currently in use, for `/model` with
	// no arguments.
	CurrentModel func() string

	// SetModel switches the active model for `/model <name>`.
	SetModel func(name string) error

	// Plugins backs `/plugin`.
	Plugins PluginLister

	// Tasks backs `/task`, fronting both the BackgroundShellSupervisor and
	// the BackgroundAgentSupervisor by id namespace (shell-* vs
	// bg-agent-*).
	Tasks TaskManager

	// Agents backs `/agent`, typically a thin view over the
	// DelegationTree and AgentPool.
	Agents AgentLister

	// Project backs `/project`.
	Project ProjectContext

	// Debug backs `/debug`, typically exposing ReadStateTracker,
	// PatchJournal, and LoopDetector state.
	Debug DebugInspector
}

// PluginLister is the minimal plugin-management surface /plugin needs.
type PluginLister interface {
	List() []string
	Active() []string
	Toggle(action, name string) error
}

// TaskManager is the minimal surface /task needs over background work.
type TaskManager interface {
	List() []string
	Kill(id string) error
}

// AgentLister is the minimal surface /agent needs.
type AgentLister interface {
	List() []string
}

// ProjectContext is the minimal surface /project needs.
type ProjectContext interface {
	View() string
	Init() error
}

// DebugInspector is the minimal surface /debug needs.
type DebugInspector interface {
	Inspect(subcommand string) (string, error)
}

// NewDispatcher builds a Registry with the builtin slash-command surface
// registered against deps.
func NewDispatcher(deps Dependencies) *Registry {
	r := NewRegistry(nil)
	RegisterBuiltins(r, deps)
	return r
}
