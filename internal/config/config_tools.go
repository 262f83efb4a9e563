package config

import "time"

// ToolsConfig controls the tool orchestrator, permission broker, patch
// journal, and background shell supervisor.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Patch     PatchJournalConfig  `yaml:"patch_journal"`
	Shell     ShellConfig         `yaml:"shell"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Subagents SubagentConfig      `yaml:"subagents"`
}

// SubagentConfig bounds the agent pool and delegation nesting.
type SubagentConfig struct {
	PoolSize int `yaml:"pool_size"`
	MaxDepth int `yaml:"max_depth"`
}

// ToolExecutionConfig controls the orchestrator's per-call lifecycle.
type ToolExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`
}

// ApprovalConfig controls the permission broker: which tools require
// confirmation, the auto-confirm escape hatch (--auto-confirm), and
// per-pattern allow lists.
type ApprovalConfig struct {
	AutoConfirm       bool          `yaml:"auto_confirm"`
	Allowlist         []string      `yaml:"allowlist"`
	Denylist          []string      `yaml:"denylist"`
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
}

// PatchJournalConfig bounds the undo log.
type PatchJournalConfig struct {
	MaxPatches  int `yaml:"max_patches"`
	MaxTotalKiB int `yaml:"max_total_kib"`
}

// ShellConfig bounds the background shell supervisor.
type ShellConfig struct {
	RingBufferLines int           `yaml:"ring_buffer_lines"`
	KillGrace       time.Duration `yaml:"kill_grace"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools,
// resolved by internal/tools/policy.Resolver.
type ToolPoliciesConfig struct {
	Default string           `yaml:"default"` // "allow" | "deny"
	Rules   []ToolPolicyRule `yaml:"rules"`
}

type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 50
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Approval.PermissionTimeout == 0 {
		cfg.Approval.PermissionTimeout = 30 * time.Second
	}
	if cfg.Patch.MaxPatches == 0 {
		cfg.Patch.MaxPatches = 200
	}
	if cfg.Patch.MaxTotalKiB == 0 {
		cfg.Patch.MaxTotalKiB = 50 * 1024
	}
	if cfg.Shell.RingBufferLines == 0 {
		cfg.Shell.RingBufferLines = 10000
	}
	if cfg.Shell.KillGrace == 0 {
		cfg.Shell.KillGrace = 5 * time.Second
	}
	if cfg.Shell.DefaultTimeout == 0 {
		cfg.Shell.DefaultTimeout = 10 * time.Minute
	}
	if cfg.Policies.Default == "" {
		cfg.Policies.Default = "allow"
	}
	if cfg.Subagents.PoolSize == 0 {
		cfg.Subagents.PoolSize = 5
	}
	if cfg.Subagents.MaxDepth == 0 {
		cfg.Subagents.MaxDepth = 3
	}
}
