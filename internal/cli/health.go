package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/allyrun/ally/internal/background"
	"github.com/allyrun/ally/internal/commands"
	"github.com/allyrun/ally/internal/config"
	"github.com/allyrun/ally/internal/sessions"
)

// ollamaProbe checks whether the configured Ollama endpoint answers.
type ollamaProbe struct {
	cfg *config.Config
}

func (p *ollamaProbe) Probe(ctx context.Context) (*commands.ModelHealth, error) {
	health := &commands.ModelHealth{
		Provider: cfgLLMProvider(p.cfg),
		Model:    p.cfg.LLM.Model,
		Endpoint: p.cfg.LLM.Endpoint,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.LLM.Endpoint+"/api/tags", nil)
	if err != nil {
		health.Error = err.Error()
		return health, nil
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		health.Error = err.Error()
		return health, nil
	}
	defer resp.Body.Close()

	health.Reachable = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !health.Reachable {
		health.Error = fmt.Sprintf("endpoint responded with status %d", resp.StatusCode)
	}
	return health, nil
}

func cfgLLMProvider(cfg *config.Config) string {
	if cfg.LLM.Provider != "" {
		return cfg.LLM.Provider
	}
	return "ollama"
}

// debugInspector implements commands.DebugInspector by delegating "health"
// to a commands.HealthChecker built over the running session store and
// background supervisors; other subcommands report as unavailable.
type debugInspector struct {
	checker *commands.HealthChecker
	store   sessions.Store
	shells  *background.ShellSupervisor
	agents  *background.AgentSupervisor
}

func newDebugInspector(checker *commands.HealthChecker, store sessions.Store, shells *background.ShellSupervisor, agents *background.AgentSupervisor) *debugInspector {
	return &debugInspector{checker: checker, store: store, shells: shells, agents: agents}
}

// newHealthChecker builds the commands.HealthChecker shared by the /debug
// command and the system_health agent tool.
func newHealthChecker(cfg *config.Config) *commands.HealthChecker {
	return commands.NewHealthChecker(commands.DefaultHealthCheckerConfig(), &ollamaProbe{cfg: cfg})
}

func (d *debugInspector) Inspect(subcommand string) (string, error) {
	switch subcommand {
	case "", "health":
		summary, err := d.checker.Check(context.Background(), &commands.HealthCheckOptions{
			Tasks: &commands.TasksHealth{
				RunningShells: len(d.shells.ListProcesses()),
				RunningAgents: len(d.agents.ListActive()),
			},
		})
		if err != nil {
			return "", err
		}
		return commands.FormatHealthSummary(summary), nil
	default:
		return "", fmt.Errorf("unknown debug subcommand %q", subcommand)
	}
}
