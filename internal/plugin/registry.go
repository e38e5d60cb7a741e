package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/partyline/server/internal/logging"
)

// Registry owns the registered plugins and their namespace routing table.
// Plugins are trusted code; the registry isolates their message dispatch by
// namespace but does not sandbox them.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]Plugin
	byNamespace map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{
		byID:        make(map[string]Plugin),
		byNamespace: make(map[string]Plugin),
	}
}

// Register validates id and namespace uniqueness, runs the plugin's
// OnInitialize hook with the hub sender, and stores the plugin.
func (reg *Registry) Register(p Plugin, s Sender) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if p.ID() == "" || p.Namespace() == "" {
		return fmt.Errorf("plugin must declare an id and a namespace")
	}
	if _, exists := reg.byID[p.ID()]; exists {
		return fmt.Errorf("plugin id %q already registered", p.ID())
	}
	if _, exists := reg.byNamespace[p.Namespace()]; exists {
		return fmt.Errorf("plugin namespace %q already registered", p.Namespace())
	}

	if init, ok := p.(Initializer); ok {
		if err := init.OnInitialize(s); err != nil {
			return fmt.Errorf("plugin %q initialization: %w", p.ID(), err)
		}
	}

	reg.byID[p.ID()] = p
	reg.byNamespace[p.Namespace()] = p
	logging.Info(context.Background(), "plugin registered",
		zap.String("game_id", p.ID()),
		zap.String("namespace", p.Namespace()),
	)
	return nil
}

// Get returns the plugin registered under an id, or nil.
func (reg *Registry) Get(id string) Plugin {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byID[id]
}

// ByNamespace returns the plugin owning a namespace, or nil.
func (reg *Registry) ByNamespace(ns string) Plugin {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byNamespace[ns]
}

// IDs returns the registered plugin ids.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.byID))
	for id := range reg.byID {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns per-plugin registration info for the admin surface.
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	stats := make(map[string]any, len(reg.byID))
	for id, p := range reg.byID {
		stats[id] = map[string]any{
			"namespace": p.Namespace(),
			"events":    len(p.Handlers()),
		}
	}
	return stats
}

// Destroy runs every plugin's cleanup hook and clears the registry.
func (reg *Registry) Destroy() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, p := range reg.byID {
		if c, ok := p.(CleanupHook); ok {
			c.OnCleanup()
		}
		delete(reg.byID, id)
	}
	for ns := range reg.byNamespace {
		delete(reg.byNamespace, ns)
	}
}
