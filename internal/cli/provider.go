package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/agent/providers"
	"github.com/allyrun/ally/internal/config"
)

// buildProvider constructs one provider backend by name. Hosted backends
// read their credentials from the conventional environment variables; the
// local ollama backend needs only the endpoint.
func buildProvider(name, model, endpoint string, cfg *config.Config) (agent.LLMProvider, error) {
	timeout := time.Duration(cfg.LLM.BaseTimeout)*time.Second +
		time.Duration(cfg.LLM.MaxRetries+1)*time.Minute

	switch name {
	case "", "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      endpoint,
			DefaultModel: model,
			Timeout:      timeout,
		}), nil
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY")), nil
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: endpoint,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region: os.Getenv("AWS_REGION"),
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// buildProviderChain assembles the model client: the configured primary
// backend, an optional failover chain over cfg.LLM.Fallback, and the retry
// decorator with the adaptive per-attempt timeout schedule.
func buildProviderChain(cfg *config.Config) (agent.LLMProvider, error) {
	primary, err := buildProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.Endpoint, cfg)
	if err != nil {
		return nil, err
	}

	base := primary
	if len(cfg.LLM.Fallback) > 0 {
		chain := agent.NewFailoverOrchestrator(primary, nil)
		for _, fb := range cfg.LLM.Fallback {
			p, err := buildProvider(fb.Provider, fb.Model, fb.Endpoint, cfg)
			if err != nil {
				return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
			}
			chain.AddProvider(p)
		}
		base = chain
	}

	return providers.WithRetry(base, providers.RetryConfig{
		MaxRetries:     cfg.LLM.MaxRetries,
		BaseTimeout:    time.Duration(cfg.LLM.BaseTimeout) * time.Second,
		RetryIncrement: time.Duration(cfg.LLM.RetryIncrement) * time.Second,
	}), nil
}
