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
	"testing"
	"time"
)

type fakeStore struct {
	connected    bool
	disconnected bool
	healthErr    error
}

func (f *fakeStore) Connect(ctx context.Context, cfg *Config) error {
	f.connected = true
	return nil
}

func (f *fakeStore) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &HealthStatus{Healthy: true, LastChecked: time.Now()}, nil
}

func (f *fakeStore) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	return &QueryResult{Rows: []map[string]interface{}{}}, nil
}

func (f *fakeStore) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	return &CommandResult{Success: true}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	fake := &fakeStore{}
	reg := NewRegistry(func(storeType string) (Store, error) {
		if storeType != "postgres" {
			return nil, fmt.Errorf("unknown store type '%s'", storeType)
		}
		return fake, nil
	})

	cfg := &Config{Name: "core", Type: "postgres", ConnectionURL: "postgres://x"}
	if err := reg.Register(cfg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	store, err := reg.Get(context.Background(), "core")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !fake.connected {
		t.Error("expected store to be connected on first Get")
	}

	// Second Get returns the cached instance
	again, err := reg.Get(context.Background(), "core")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if again != store {
		t.Error("expected cached store instance")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry(nil)

	cfg := &Config{Name: "core", Type: "postgres"}
	if err := reg.Register(cfg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(cfg); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry(nil)

	if err := reg.Register(&Config{Type: "postgres"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := reg.Register(&Config{Name: "core"}); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry(nil)

	if _, err := reg.Get(context.Background(), "missing"); err == nil {
		t.Error("expected error for unregistered store")
	}
}

func TestRegistry_Health(t *testing.T) {
	healthy := &fakeStore{}
	failing := &fakeStore{healthErr: fmt.Errorf("connection reset")}
	stores := map[string]Store{"core": healthy, "replica": failing}

	reg := NewRegistry(func(storeType string) (Store, error) {
		return stores[storeType], nil
	})

	// Store names double as factory types so each Get yields its own fake
	for name := range stores {
		if err := reg.Register(&Config{Name: name, Type: name}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	_ = reg.Register(&Config{Name: "lazy", Type: "core"})

	for _, name := range []string{"core", "replica"} {
		if _, err := reg.Get(context.Background(), name); err != nil {
			t.Fatalf("Get %s: %v", name, err)
		}
	}

	statuses := reg.Health(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if _, ok := statuses["lazy"]; ok {
		t.Error("unconnected store should be omitted from health report")
	}
	if !statuses["core"].Healthy {
		t.Error("expected core store to report healthy")
	}
	if statuses["replica"].Healthy {
		t.Error("expected replica store to report unhealthy")
	}
	if statuses["replica"].Message != "connection reset" {
		t.Errorf("unexpected failure message: %q", statuses["replica"].Message)
	}
}

func TestRegistry_Shutdown(t *testing.T) {
	fake := &fakeStore{}
	reg := NewRegistry(func(storeType string) (Store, error) {
		return fake, nil
	})

	_ = reg.Register(&Config{Name: "core", Type: "postgres"})
	if _, err := reg.Get(context.Background(), "core"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	reg.Shutdown(context.Background())
	if !fake.disconnected {
		t.Error("expected store to be disconnected on shutdown")
	}
}
