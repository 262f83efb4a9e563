// Package commands provides the health command for system status checks.
package commands

import (
	"context"
	"fmt"
	"time"
)

// HealthSummary contains the overall health status of the agent runtime:
// the local model endpoint, the session store, and any background work.
type HealthSummary struct {
	OK         bool          `json:"ok"`
	Ts         int64         `json:"ts"`
	DurationMs int64         `json:"duration_ms"`
	Model      *ModelHealth  `json:"model,omitempty"`
	Sessions   *SessionsHealth `json:"sessions,omitempty"`
	Tasks      *TasksHealth  `json:"tasks,omitempty"`
}

// ModelHealth reports whether the configured LLM endpoint is reachable.
type ModelHealth struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Endpoint  string `json:"endpoint"`
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionsHealth contains session store status.
type SessionsHealth struct {
	Count  int              `json:"count"`
	Recent []*RecentSession `json:"recent,omitempty"`
}

// RecentSession contains information about a recent session.
type RecentSession struct {
	Key       string `json:"key"`
	UpdatedAt *int64 `json:"updated_at,omitempty"`
	AgeMs     *int64 `json:"age_ms,omitempty"`
}

// TasksHealth reports how many background shells/agents are running.
type TasksHealth struct {
	RunningShells int `json:"running_shells"`
	RunningAgents int `json:"running_agents"`
}

// ModelProber checks whether the configured model endpoint is reachable.
type ModelProber interface {
	Probe(ctx context.Context) (*ModelHealth, error)
}

// HealthChecker performs health checks on the agent runtime.
type HealthChecker struct {
	config *HealthCheckerConfig
	model  ModelProber
}

// HealthCheckerConfig configures the health checker.
type HealthCheckerConfig struct {
	TimeoutMs       int64
	ProbeModel      bool
	IncludeSessions bool
	IncludeTasks    bool
}

// DefaultHealthCheckerConfig returns sensible defaults.
func DefaultHealthCheckerConfig() *HealthCheckerConfig {
	return &HealthCheckerConfig{
		TimeoutMs:       10000,
		ProbeModel:      true,
		IncludeSessions: true,
		IncludeTasks:    true,
	}
}

// NewHealthChecker creates a new health checker. model may be nil, in which
// case model reachability is skipped.
func NewHealthChecker(config *HealthCheckerConfig, model ModelProber) *HealthChecker {
	if config == nil {
		config = DefaultHealthCheckerConfig()
	}
	return &HealthChecker{config: config, model: model}
}

// HealthCheckOptions configures a single health check invocation.
type HealthCheckOptions struct {
	TimeoutMs  int64
	ProbeModel *bool
	Sessions   *SessionsHealth
	Tasks      *TasksHealth
}

// Check performs a health check.
func (h *HealthChecker) Check(ctx context.Context, opts *HealthCheckOptions) (*HealthSummary, error) {
	startedAt := time.Now()

	if opts == nil {
		opts = &HealthCheckOptions{}
	}

	timeout := time.Duration(h.config.TimeoutMs) * time.Millisecond
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summary := &HealthSummary{OK: true, Ts: startedAt.UnixMilli()}

	shouldProbe := h.config.ProbeModel
	if opts.ProbeModel != nil {
		shouldProbe = *opts.ProbeModel
	}
	if shouldProbe && h.model != nil {
		probeStart := time.Now()
		model, err := h.model.Probe(ctx)
		if err != nil {
			summary.OK = false
			summary.Model = &ModelHealth{Reachable: false, Error: err.Error()}
		} else if model != nil {
			model.LatencyMs = time.Since(probeStart).Milliseconds()
			if !model.Reachable {
				summary.OK = false
			}
			summary.Model = model
		}
	}

	if h.config.IncludeSessions && opts.Sessions != nil {
		summary.Sessions = opts.Sessions
	}
	if h.config.IncludeTasks && opts.Tasks != nil {
		summary.Tasks = opts.Tasks
	}

	summary.DurationMs = time.Since(startedAt).Milliseconds()
	return summary, nil
}

// FormatHealthSummary formats a health summary for display.
func FormatHealthSummary(summary *HealthSummary) string {
	if summary == nil {
		return "No health data"
	}

	result := fmt.Sprintf("Health Check (took %dms)\n", summary.DurationMs)
	result += fmt.Sprintf("Status: %s\n", formatOK(summary.OK))

	if summary.Model != nil {
		m := summary.Model
		if m.Reachable {
			result += fmt.Sprintf("\nModel: %s @ %s (%s, %dms)\n", m.Model, m.Endpoint, m.Provider, m.LatencyMs)
		} else {
			result += fmt.Sprintf("\nModel: unreachable at %s", m.Endpoint)
			if m.Error != "" {
				result += fmt.Sprintf(" - %s", m.Error)
			}
			result += "\n"
		}
	}

	if summary.Sessions != nil {
		result += fmt.Sprintf("\nSessions: %d total\n", summary.Sessions.Count)
		for _, s := range summary.Sessions.Recent {
			age := "unknown"
			if s.AgeMs != nil {
				age = formatDuration(time.Duration(*s.AgeMs) * time.Millisecond)
			}
			result += fmt.Sprintf("  %s (%s ago)\n", s.Key, age)
		}
	}

	if summary.Tasks != nil {
		result += fmt.Sprintf("\nBackground: %d shells, %d agents running\n",
			summary.Tasks.RunningShells, summary.Tasks.RunningAgents)
	}

	return result
}

func formatOK(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAILED"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
