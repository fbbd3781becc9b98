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

package postgres

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"freshflow/platform/warehouse"
)

// Store implements the warehouse.Store interface on PostgreSQL
type Store struct {
	config *warehouse.Config
	db     *sql.DB
	logger *log.Logger
}

// NewStore creates a new PostgreSQL store instance
func NewStore() *Store {
	return &Store{
		logger: log.New(os.Stdout, "[PG_STORE] ", log.LstdFlags),
	}
}

// Connect establishes a connection to PostgreSQL
func (s *Store) Connect(ctx context.Context, cfg *warehouse.Config) error {
	s.config = cfg

	db, err := sql.Open("postgres", cfg.ConnectionURL)
	if err != nil {
		return warehouse.NewStoreError(warehouse.ErrCodeConnection, "failed to open connection", err)
	}

	// Configure connection pool
	maxOpenConns := 25
	maxIdleConns := 5
	connMaxLifetime := 5 * time.Minute

	if val, ok := cfg.Options["max_open_conns"].(int); ok {
		maxOpenConns = val
	}
	if val, ok := cfg.Options["max_idle_conns"].(int); ok {
		maxIdleConns = val
	}
	if val, ok := cfg.Options["conn_max_lifetime"].(string); ok {
		if duration, err := time.ParseDuration(val); err == nil {
			connMaxLifetime = duration
		}
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return warehouse.NewStoreError(warehouse.ErrCodeConnection, "failed to ping database", err)
	}

	s.db = db
	s.logger.Printf("Connected to PostgreSQL: %s (max_conns=%d)", cfg.Name, maxOpenConns)

	return nil
}

// Disconnect closes the database connection
func (s *Store) Disconnect(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return warehouse.NewStoreError(warehouse.ErrCodeConnection, "failed to close connection", err)
	}

	s.logger.Printf("Disconnected from PostgreSQL: %s", s.config.Name)
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *Store) HealthCheck(ctx context.Context) (*warehouse.HealthStatus, error) {
	if s.db == nil {
		return &warehouse.HealthStatus{
			Healthy:     false,
			Message:     "database not connected",
			LastChecked: time.Now(),
		}, nil
	}

	start := time.Now()
	err := s.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return &warehouse.HealthStatus{
			Healthy:     false,
			Message:     err.Error(),
			Latency:     latency,
			LastChecked: time.Now(),
		}, nil
	}

	return &warehouse.HealthStatus{
		Healthy:     true,
		Latency:     latency,
		LastChecked: time.Now(),
	}, nil
}

// Query executes a SELECT statement and returns the rows
func (s *Store) Query(ctx context.Context, q *warehouse.Query) (*warehouse.QueryResult, error) {
	if s.db == nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeQuery, "database not connected", nil)
	}

	timeout := q.Timeout
	if timeout == 0 {
		timeout = s.config.Timeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(queryCtx, q.Statement, q.Args...)
	if err != nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeQuery, "query execution failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeQuery, "failed to get columns", err)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, warehouse.NewStoreError(warehouse.ErrCodeQuery, "failed to scan row", err)
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			// Convert []byte to string for text/varchar fields
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeQuery, "row iteration failed", err)
	}

	return &warehouse.QueryResult{
		Rows:     results,
		Count:    len(results),
		Duration: time.Since(start),
	}, nil
}

// Execute runs an INSERT, UPDATE, or DELETE statement
func (s *Store) Execute(ctx context.Context, cmd *warehouse.Command) (*warehouse.CommandResult, error) {
	if s.db == nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeExecute, "database not connected", nil)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = s.config.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := s.db.ExecContext(execCtx, cmd.Statement, cmd.Args...)
	if err != nil {
		return nil, warehouse.NewStoreError(warehouse.ErrCodeExecute, "statement execution failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		// Not all drivers report affected rows for every statement
		affected = 0
	}

	return &warehouse.CommandResult{
		Success:      true,
		RowsAffected: affected,
		Duration:     time.Since(start),
	}, nil
}

// DB exposes the underlying pool for the migration runner
func (s *Store) DB() *sql.DB {
	return s.db
}
