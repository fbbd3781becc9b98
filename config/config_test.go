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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("FF_TEST_VAR", "hello")
	defer os.Unsetenv("FF_TEST_VAR")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"braced", "value: ${FF_TEST_VAR}", "value: hello"},
		{"bare", "value: $FF_TEST_VAR", "value: hello"},
		{"undefined", "value: ${FF_TEST_MISSING}", "value: "},
		{"default used", "value: ${FF_TEST_MISSING:-fallback}", "value: fallback"},
		{"default ignored", "value: ${FF_TEST_VAR:-fallback}", "value: hello"},
		{"no vars", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExpandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLoader(t *testing.T) {
	os.Setenv("FF_TEST_DB_URL", "postgres://app:secret@db:5432/freshflow")
	defer os.Unsetenv("FF_TEST_DB_URL")

	content := `version: "1.0"
gateway:
  port: 8080
  tool_service_url: http://toolsvc:8081
  rate_limit_rpm: 120
warehouse:
  type: postgres
  connection_url: ${FF_TEST_DB_URL}
  timeout_ms: 5000
redis:
  url: redis://cache:6379
`
	path := filepath.Join(t.TempDir(), "freshflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	cfg := loader.Config()
	if cfg.Gateway.Port != 8080 {
		t.Errorf("gateway port = %d, want 8080", cfg.Gateway.Port)
	}
	if cfg.Warehouse.ConnectionURL != "postgres://app:secret@db:5432/freshflow" {
		t.Errorf("warehouse url not expanded: %q", cfg.Warehouse.ConnectionURL)
	}
	if cfg.WarehouseTimeout().Milliseconds() != 5000 {
		t.Errorf("warehouse timeout = %v, want 5s", cfg.WarehouseTimeout())
	}
	if cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("redis url = %q", cfg.Redis.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     File
		wantErr bool
	}{
		{"valid", File{Version: "1.0", Warehouse: WarehouseConfig{Type: "postgres"}}, false},
		{"missing version", File{}, true},
		{"bad warehouse type", File{Version: "1.0", Warehouse: WarehouseConfig{Type: "bigquery"}}, true},
		{"negative rate limit", File{Version: "1.0", Gateway: GatewayConfig{RateLimitRPM: -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
