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

// Package warehouse defines the contract for the central FreshFlow data
// store shared by every tool service. Implementations live in
// subpackages and register themselves with the Registry.
package warehouse

import (
	"context"
	"fmt"
	"time"
)

// Store is the interface every warehouse backend must implement
type Store interface {
	// Connect establishes the connection using the provided configuration
	Connect(ctx context.Context, cfg *Config) error

	// Disconnect closes the connection and releases resources
	Disconnect(ctx context.Context) error

	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Query runs a read-only statement and returns the matching rows
	Query(ctx context.Context, q *Query) (*QueryResult, error)

	// Execute runs a mutating statement (INSERT, UPDATE, DELETE)
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)
}

// Config holds the settings needed to connect to a warehouse backend
type Config struct {
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	ConnectionURL string                 `json:"connection_url"`
	Options       map[string]interface{} `json:"options,omitempty"`
	Timeout       time.Duration          `json:"timeout"`
	MaxRetries    int                    `json:"max_retries"`
}

// Query represents a read-only request against the warehouse
type Query struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// QueryResult holds rows returned by a Query
type QueryResult struct {
	Rows     []map[string]interface{} `json:"rows"`
	Count    int                      `json:"count"`
	Duration time.Duration            `json:"duration"`
}

// Command represents a mutating request against the warehouse
type Command struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// CommandResult holds the outcome of an Execute call
type CommandResult struct {
	Success      bool          `json:"success"`
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
}

// HealthStatus reports the current health of a store
type HealthStatus struct {
	Healthy     bool          `json:"healthy"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"last_checked"`
}

// StoreError wraps backend failures with a stable error code
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Common error codes returned by store implementations
const (
	ErrCodeConnection = "CONNECTION_ERROR"
	ErrCodeQuery      = "QUERY_ERROR"
	ErrCodeExecute    = "EXECUTE_ERROR"
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeConfig     = "CONFIG_ERROR"
)

// NewStoreError creates a StoreError wrapping an underlying failure
func NewStoreError(code, message string, err error) *StoreError {
	return &StoreError{Code: code, Message: message, Err: err}
}
