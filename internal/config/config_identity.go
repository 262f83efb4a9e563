package config

// WorkspaceConfig points at the project-context files the workspace loader
// reads to build the system prompt.
type WorkspaceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	MaxChars     int    `yaml:"max_chars"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// IdentityConfig is free-form persona configuration surfaced in the system
// prompt; the core treats it as opaque.
type IdentityConfig struct {
	Name  string `yaml:"name"`
	Vibe  string `yaml:"vibe"`
	Emoji string `yaml:"emoji"`
}

// UserConfig is free-form user profile information surfaced in the system
// prompt; the core treats it as opaque.
type UserConfig struct {
	Name             string `yaml:"name"`
	PreferredAddress string `yaml:"preferred_address"`
	Timezone         string `yaml:"timezone"`
	Notes            string `yaml:"notes"`
}

// ProfileConfig describes the on-disk layout under HomeDir() for a named
// profile: ~/.ally/profiles/<name>/{plugins,agents,cache,config}.
type ProfileConfig struct {
	Name       string `yaml:"name"`
	PluginsDir string `yaml:"plugins_dir"`
	AgentsDir  string `yaml:"agents_dir"`
	CacheDir   string `yaml:"cache_dir"`
	ConfigDir  string `yaml:"config_dir"`
}

// PluginsConfig controls which plugin directories are scanned for
// manifests and which plugins are enabled.
type PluginsConfig struct {
	Load    PluginLoadConfig             `yaml:"load"`
	Entries map[string]PluginEntryConfig `yaml:"entries"`
}

type PluginLoadConfig struct {
	Paths []string `yaml:"paths"`
}

type PluginEntryConfig struct {
	Enabled bool           `yaml:"enabled"`
	Path    string         `yaml:"path"`
	Config  map[string]any `yaml:"config"`
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	cfg.Enabled = true
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 8000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
}

func applyProfileDefaults(cfg *ProfileConfig) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	base := HomeDir() + "/profiles/" + cfg.Name
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = base + "/plugins"
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = base + "/agents"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = base + "/cache"
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = base + "/config"
	}
}

// DefaultWorkspaceConfig returns the zero-value workspace config with
// defaults applied, for callers that need one without a full Load.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}
