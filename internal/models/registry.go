package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/pmorel/tasktalk/internal/config"
)

// Registry lazily builds chat models from the providers section of the
// configuration. A provider is constructed at most once; a construction
// error is remembered and returned on every subsequent Get.
type Registry struct {
	cfg config.ModelsConfig

	mu      sync.Mutex
	entries map[string]*providerEntry
}

type providerEntry struct {
	once  sync.Once
	model model.ToolCallingChatModel
	err   error
}

// NewRegistry creates a registry backed by the given models config.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*providerEntry),
	}
}

// Get returns the chat model for a named provider, building it on first use.
func (r *Registry) Get(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	pcfg, ok := r.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	r.mu.Lock()
	entry, ok := r.entries[name]
	if !ok {
		entry = &providerEntry{}
		r.entries[name] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.model, entry.err = CreateModel(ctx, pcfg)
	})
	if entry.err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, entry.err)
	}
	return entry.model, nil
}

// Default returns the chat model for the configured default provider.
func (r *Registry) Default(ctx context.Context) (model.ToolCallingChatModel, error) {
	if r.cfg.Default == "" {
		return nil, fmt.Errorf("no default provider configured")
	}
	return r.Get(ctx, r.cfg.Default)
}
