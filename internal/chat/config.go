package chat

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the assistant's settings. Values come from an optional YAML
// file; environment variables override the file.
type Config struct {
	Listen                 string   `yaml:"listen"`
	Providers              []string `yaml:"providers"`
	HistoryDB              string   `yaml:"history_db"`
	LLMModel               string   `yaml:"llm_model"`
	ProviderTimeoutSeconds int      `yaml:"provider_timeout_seconds"`
}

// DefaultConfig returns the built-in settings: the two local providers on
// their conventional ports.
func DefaultConfig() Config {
	return Config{
		Listen: ":8080",
		Providers: []string{
			"http://127.0.0.1:8000",
			"http://127.0.0.1:8001",
		},
		HistoryDB:              "",
		ProviderTimeoutSeconds: 30,
	}
}

// LoadConfig reads the YAML file at path (skipped when empty or missing) and
// applies environment overrides. A .env file in the working directory is
// loaded first so local development needs no exported variables.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_LISTEN")); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_PROVIDERS")); v != "" {
		var providers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				providers = append(providers, p)
			}
		}
		cfg.Providers = providers
	}
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_HISTORY_DB")); v != "" {
		cfg.HistoryDB = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_PROVIDER_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ProviderTimeoutSeconds = n
		}
	}

	if len(cfg.Providers) == 0 {
		return Config{}, fmt.Errorf("no providers configured")
	}
	return cfg, nil
}

// ProviderTimeout returns the per-provider HTTP timeout.
func (c Config) ProviderTimeout() time.Duration {
	if c.ProviderTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}
