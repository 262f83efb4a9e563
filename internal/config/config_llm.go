package config

// LLMConfig configures the model client: the local-model endpoint
// contacted by default, request tuning, and the discovery/fallback chain
// used when a requested model isn't available.
type LLMConfig struct {
	Provider        string               `yaml:"provider"` // ollama | openai | anthropic | bedrock | google
	Model           string               `yaml:"model"`
	Endpoint        string               `yaml:"endpoint"`
	Temperature     float64              `yaml:"temperature"`
	ContextSize     int                  `yaml:"context_size"`
	MaxTokens       int                  `yaml:"max_tokens"`
	ReasoningEffort string               `yaml:"reasoning_effort"`
	KeepAlive       string               `yaml:"keep_alive"`
	MaxRetries      int                  `yaml:"max_retries"`
	BaseTimeout     int                  `yaml:"base_timeout_seconds"`
	RetryIncrement  int                  `yaml:"retry_increment_seconds"`
	AutoDiscover    LLMAutoDiscoverConfig `yaml:"auto_discover"`
	Fallback        []LLMProviderConfig  `yaml:"fallback"`
}

// LLMProviderConfig names one entry in the model client's failover chain.
type LLMProviderConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// LLMAutoDiscoverConfig controls probing a local Ollama endpoint's model
// listing API so the CLI can offer `--model` completion and validate the
// configured model actually exists before the first request.
type LLMAutoDiscoverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Refresh string `yaml:"refresh"` // e.g. "5m"
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "ollama"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5-coder:32b"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.ContextSize == 0 {
		cfg.ContextSize = 32768
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseTimeout == 0 {
		cfg.BaseTimeout = 240
	}
	if cfg.RetryIncrement == 0 {
		cfg.RetryIncrement = 60
	}
}
