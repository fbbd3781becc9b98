// Copyright 2025 FreshFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package warehouse

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

// Factory creates a Store instance for the given backend type
type Factory func(storeType string) (Store, error)

// Registry manages warehouse store instances by name.
// Thread-safe for concurrent access.
type Registry struct {
	stores  map[string]Store
	configs map[string]*Config
	factory Factory
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		stores:  make(map[string]Store),
		configs: make(map[string]*Config),
		factory: factory,
		logger:  log.New(os.Stdout, "[WAREHOUSE] ", log.LstdFlags),
	}
}

// Register stores a config. The backing store is instantiated lazily
// on first Get so startup never blocks on a slow database.
func (r *Registry) Register(cfg *Config) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("store config must include a name")
	}
	if cfg.Type == "" {
		return fmt.Errorf("store config '%s' must include a type", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.Name]; exists {
		return fmt.Errorf("store '%s' already registered", cfg.Name)
	}

	r.configs[cfg.Name] = cfg
	r.logger.Printf("Registered store config: %s (type: %s)", cfg.Name, cfg.Type)
	return nil
}

// Get returns a connected store by name, instantiating it on first use
func (r *Registry) Get(ctx context.Context, name string) (Store, error) {
	r.mu.RLock()
	store, ok := r.stores[name]
	r.mu.RUnlock()
	if ok {
		return store, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have won the race
	if store, ok := r.stores[name]; ok {
		return store, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("store '%s' not registered", name)
	}

	if r.factory == nil {
		return nil, fmt.Errorf("no store factory configured")
	}

	store, err := r.factory(cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to create store '%s': %w", name, err)
	}

	if err := store.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect store '%s': %w", name, err)
	}

	r.stores[name] = store
	r.logger.Printf("Connected store: %s (type: %s)", name, cfg.Type)
	return store, nil
}

// List returns the names of all registered store configs
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Health reports the health of every instantiated store by name.
// Registered but not yet connected stores are omitted since lazy
// instantiation means they have no connection to check.
func (r *Registry) Health(ctx context.Context) map[string]*HealthStatus {
	r.mu.RLock()
	stores := make(map[string]Store, len(r.stores))
	for name, store := range r.stores {
		stores[name] = store
	}
	r.mu.RUnlock()

	statuses := make(map[string]*HealthStatus, len(stores))
	for name, store := range stores {
		status, err := store.HealthCheck(ctx)
		if err != nil {
			statuses[name] = &HealthStatus{Healthy: false, Message: err.Error()}
			continue
		}
		statuses[name] = status
	}
	return statuses
}

// Shutdown disconnects every instantiated store
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, store := range r.stores {
		if err := store.Disconnect(ctx); err != nil {
			r.logger.Printf("Failed to disconnect store %s: %v", name, err)
		}
		delete(r.stores, name)
	}
}
