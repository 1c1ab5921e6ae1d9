package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvTemplates(string(data))

	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with only defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18530
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.TaskStore.Path == "" {
		cfg.TaskStore.Path = filepath.Join(TasktalkPath(), "tasks.db")
	}
	if cfg.Dispatch.DecideTimeout == 0 {
		cfg.Dispatch.DecideTimeout = Duration(60 * time.Second)
	}
	if cfg.Dispatch.ExecuteTimeout == 0 {
		cfg.Dispatch.ExecuteTimeout = Duration(15 * time.Second)
	}
	if cfg.Dispatch.StoreRetries == 0 {
		cfg.Dispatch.StoreRetries = 3
	}
	if cfg.Dispatch.TailMessages == 0 {
		cfg.Dispatch.TailMessages = 40
	}
	if cfg.Context.WindowSize == 0 {
		cfg.Context.WindowSize = 10
	}
}
