package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/pmorel/tasktalk/internal/config"
)

// ResolveAPIKey resolves the credential for a provider.
// Resolution order: config api_key (env templates are expanded at load
// time) then the driver's default environment variable. Ollama needs no
// credential and always resolves to an empty key.
func ResolveAPIKey(cfg config.ProviderConfig) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}

	switch strings.ToLower(cfg.Driver) {
	case "claude":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	case "ollama":
		return "", nil
	default:
		return "", fmt.Errorf("unknown driver %q: cannot resolve credentials", cfg.Driver)
	}
}
