package config

// CommandsConfig controls the slash-command dispatcher.
type CommandsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Aliases map[string]string `yaml:"aliases"`
	Disable []string `yaml:"disable"`
}

func applyCommandsDefaults(cfg *CommandsConfig) {
	cfg.Enabled = true
}
