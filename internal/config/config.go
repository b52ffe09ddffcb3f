// Package config loads runtime configuration: defaults, then a TOML
// file, then environment variables (env wins).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	World    WorldConfig    `toml:"world"`
	LLM      LLMConfig      `toml:"llm"`
	Storage  StorageConfig  `toml:"storage"`
	Shell    ShellConfig    `toml:"shell"`
	Observer ObserverConfig `toml:"observer"`
}

type WorldConfig struct {
	Name             string `toml:"name"`
	TurnLimit        int    `toml:"turn_limit"`
	MainAgent        string `toml:"main_agent"`
	WorkingDirectory string `toml:"working_directory"`
	Streaming        bool   `toml:"streaming"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type StorageConfig struct {
	// Type selects the backend: "sqlite", "file", "memory", or "postgres".
	Type string `toml:"type"`
	// Path is the SQLite file or the file-store root directory.
	Path string `toml:"path"`
	// PostgresURL is the pgx connection string for type "postgres".
	PostgresURL string `toml:"postgres_url"`
}

type ShellConfig struct {
	TimeoutMs int `toml:"timeout_ms"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		World: WorldConfig{
			Name:             "default",
			TurnLimit:        5,
			WorkingDirectory: filepath.Join(home, "agentworld-workspace"),
			Streaming:        true,
		},
		LLM:     LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Storage: StorageConfig{Type: "sqlite", Path: "agentworld.db"},
		Shell:   ShellConfig{TimeoutMs: 600000},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "agentworld.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AGENT_WORLD_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("AGENT_WORLD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AGENT_WORLD_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("AGENT_WORLD_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENT_WORLD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENT_WORLD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENT_WORLD_WORKING_DIRECTORY"); v != "" {
		cfg.World.WorkingDirectory = v
	}
	if v := os.Getenv("AGENT_WORLD_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.Enabled = true
		cfg.Observer.Endpoint = v
	}
	return cfg
}
