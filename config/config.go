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
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File represents the root structure of a FreshFlow configuration file
type File struct {
	Version   string          `yaml:"version"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	ToolSvc   ToolSvcConfig   `yaml:"toolsvc,omitempty"`
	Warehouse WarehouseConfig `yaml:"warehouse,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Media     MediaConfig     `yaml:"media,omitempty"`
	Routing   RoutingConfig   `yaml:"routing,omitempty"`
}

// GatewayConfig holds the client-facing gateway settings
type GatewayConfig struct {
	Port           int    `yaml:"port,omitempty"`
	ToolServiceURL string `yaml:"tool_service_url,omitempty"`
	JWTSecret      string `yaml:"jwt_secret,omitempty"`
	SelfHostedMode bool   `yaml:"self_hosted_mode,omitempty"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm,omitempty"`
}

// ToolSvcConfig holds the tool service settings
type ToolSvcConfig struct {
	Port int `yaml:"port,omitempty"`
}

// WarehouseConfig holds the central data store connection settings
type WarehouseConfig struct {
	Type          string                 `yaml:"type,omitempty"`
	ConnectionURL string                 `yaml:"connection_url,omitempty"`
	Options       map[string]interface{} `yaml:"options,omitempty"`
	TimeoutMs     int                    `yaml:"timeout_ms,omitempty"`
	MaxRetries    int                    `yaml:"max_retries,omitempty"`
}

// RedisConfig holds rate limit and cache settings
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

// MediaConfig holds object storage settings for harvest photos
type MediaConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	EmulatorHost    string `yaml:"emulator_host,omitempty"`
	SignedURLTTLMin int    `yaml:"signed_url_ttl_min,omitempty"`
}

// RoutingConfig holds Google Maps Platform settings for delivery routing
type RoutingConfig struct {
	APIKey          string `yaml:"api_key,omitempty"`
	RoutesEndpoint  string `yaml:"routes_endpoint,omitempty"`
	GeocodeEndpoint string `yaml:"geocode_endpoint,omitempty"`
	TimeoutMs       int    `yaml:"timeout_ms,omitempty"`
}

// Loader loads configuration from a YAML file
type Loader struct {
	filePath string
	config   *File
}

// NewLoader creates a loader and parses the file immediately
func NewLoader(filePath string) (*Loader, error) {
	loader := &Loader{filePath: filePath}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	return loader, nil
}

func (l *Loader) reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.filePath, err)
	}

	// Expand environment variables in the content
	expanded := ExpandEnvVars(string(data))

	var cfg File
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return err
	}

	l.config = &cfg
	return nil
}

// Config returns the parsed configuration
func (l *Loader) Config() *File {
	return l.config
}

// Reload re-reads the configuration file
func (l *Loader) Reload() error {
	return l.reload()
}

// WarehouseTimeout returns the configured warehouse timeout with a 30s default
func (f *File) WarehouseTimeout() time.Duration {
	if f.Warehouse.TimeoutMs > 0 {
		return time.Duration(f.Warehouse.TimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnvVars expands environment variable references in the string.
// Supports ${VAR_NAME}, $VAR_NAME, and ${VAR_NAME:-default} syntax.
// Undefined variables without a default expand to the empty string.
func ExpandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultVal
	})
}

// Validate checks the structure of a parsed config file
func Validate(cfg *File) error {
	if cfg.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}

	if cfg.Warehouse.Type != "" && cfg.Warehouse.Type != "postgres" {
		return fmt.Errorf("unsupported warehouse type '%s'", cfg.Warehouse.Type)
	}

	if cfg.Gateway.RateLimitRPM < 0 {
		return fmt.Errorf("gateway rate_limit_rpm must not be negative")
	}

	return nil
}
