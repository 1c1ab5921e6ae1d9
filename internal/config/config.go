// Package config loads the tasktalk configuration.
package config

import "time"

// Config is the root configuration for tasktalk.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Models    ModelsConfig    `json:"models"`
	Events    EventsConfig    `json:"events"`
	TaskStore TaskStoreConfig `json:"task_store"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Context   ContextConfig   `json:"context"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string   `json:"driver"` // "openai", "claude", "ollama"
	Model     string   `json:"model"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKey    string   `json:"api_key,omitempty"` // direct value or ${{ .Env.VAR }}
	MaxTokens int      `json:"max_tokens,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// TaskStoreConfig selects the task record store backend.
// When URL is set the external REST service is used, otherwise the
// embedded SQLite store at Path.
type TaskStoreConfig struct {
	URL     string   `json:"url,omitempty"`
	Path    string   `json:"path,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`
}

// DispatchConfig holds turn execution settings.
type DispatchConfig struct {
	DecideTimeout  Duration `json:"decide_timeout,omitempty"`  // reasoning call budget
	ExecuteTimeout Duration `json:"execute_timeout,omitempty"` // per-operation budget
	StoreRetries   int      `json:"store_retries,omitempty"`   // attempts on a retryable store error
	TailMessages   int      `json:"tail_messages,omitempty"`   // messages handed to the reasoner
}

// ContextConfig holds reference-tracking settings.
type ContextConfig struct {
	WindowSize int `json:"window_size,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
