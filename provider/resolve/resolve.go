// Package resolve maps provider names to concrete agentworld.Provider
// clients, with API keys read from provider-specific environment
// variables.
package resolve

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/agentworld/agentworld"
	"github.com/agentworld/agentworld/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat
// Provider.
type Config struct {
	Provider string // "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers
}

// Provider creates an agentworld.Provider from a provider-agnostic
// Config.
func Provider(cfg Config) (agentworld.Provider, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// Resolver returns an agentworld.ProviderResolver that caches one client
// per (provider, model) pair. API keys come from <PROVIDER>_API_KEY env
// vars (e.g. OPENAI_API_KEY).
func Resolver() agentworld.ProviderResolver {
	var mu sync.Mutex
	cache := make(map[string]agentworld.Provider)
	return func(provider, model string) (agentworld.Provider, error) {
		key := provider + "::" + model
		mu.Lock()
		defer mu.Unlock()
		if p, ok := cache[key]; ok {
			return p, nil
		}
		p, err := Provider(Config{
			Provider: provider,
			Model:    model,
			APIKey:   os.Getenv(strings.ToUpper(provider) + "_API_KEY"),
		})
		if err != nil {
			return nil, err
		}
		cache[key] = p
		return p, nil
	}
}

func openaiCompatProvider(cfg Config) agentworld.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL,
		openaicompat.WithName(cfg.Provider))
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
