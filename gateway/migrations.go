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

package gateway

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MigrationFile represents a migration file with metadata
type MigrationFile struct {
	Path    string
	Version string
	Name    string
}

// collectMigrations finds all SQL migration files under basePath/core,
// sorted by version number.
func collectMigrations(basePath string) ([]MigrationFile, error) {
	path := filepath.Join(basePath, "core")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("ℹ️  Migration directory not found: %s (skipping)", path)
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations in %s: %w", path, err)
	}

	var migrations []MigrationFile
	for _, file := range files {
		filename := filepath.Base(file)
		// Down migrations are handled separately
		if strings.HasSuffix(filename, "_down.sql") {
			continue
		}

		migrations = append(migrations, MigrationFile{
			Path:    file,
			Version: extractMigrationVersion(filename),
			Name:    extractMigrationName(filename),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ensureSchemaMigrationsTable creates the schema_migrations tracking table
func ensureSchemaMigrationsTable(db *sql.DB) {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			version VARCHAR(20) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			execution_time_ms INTEGER,
			success BOOLEAN NOT NULL DEFAULT true,
			error_message TEXT,
			applied_by VARCHAR(100) DEFAULT 'gateway',
			hostname VARCHAR(255),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_schema_migrations_version
			ON schema_migrations(version);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		log.Printf("⚠️  Failed to create schema_migrations table: %v", err)
		// Don't fail here - fall back to running all migrations
		return
	}

	log.Println("✅ Schema migrations tracking table ready")
}

// getAppliedMigrations returns the set of successfully applied migration versions
func getAppliedMigrations(db *sql.DB) map[string]bool {
	applied := make(map[string]bool)

	rows, err := db.Query(`
		SELECT version
		FROM schema_migrations
		WHERE success = true
		ORDER BY version
	`)
	if err != nil {
		log.Printf("⚠️  Failed to query schema_migrations: %v", err)
		// Empty map means all migrations get run
		return applied
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error closing rows: %v", err)
		}
	}()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			log.Printf("⚠️  Failed to scan migration version: %v", err)
			continue
		}
		applied[version] = true
	}

	if len(applied) > 0 {
		log.Printf("📋 Found %d previously applied migrations", len(applied))
	}

	return applied
}

// runMigrations applies all pending migrations. A migration failure is
// fatal so the service never starts against a half-built schema.
func runMigrations(db *sql.DB, basePath string) error {
	migrations, err := collectMigrations(basePath)
	if err != nil {
		return fmt.Errorf("failed to collect migration files: %w", err)
	}
	if len(migrations) == 0 {
		log.Println("ℹ️  No migration files found")
		return nil
	}

	ensureSchemaMigrationsTable(db)
	applied := getAppliedMigrations(db)

	successCount := 0
	skippedCount := 0
	for _, migration := range migrations {
		filename := filepath.Base(migration.Path)

		if applied[migration.Version] {
			log.Printf("⏭️  Migration %s already applied (skipping)", filename)
			skippedCount++
			continue
		}

		sqlBytes, err := os.ReadFile(migration.Path)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		// Not wrapped in a transaction so migrations can manage their own
		startTime := time.Now()
		_, err = db.Exec(string(sqlBytes))
		executionTimeMs := int(time.Since(startTime).Milliseconds())

		if err != nil {
			recordMigrationFailure(db, migration.Version, filename, err, executionTimeMs)
			log.Printf("❌ Migration %s FAILED: %v", filename, err)
			return fmt.Errorf("migration %s failed: %w", filename, err)
		}

		recordMigrationSuccess(db, migration.Version, filename, executionTimeMs)
		log.Printf("✅ Migration %s applied successfully (%dms)", filename, executionTimeMs)
		successCount++
	}

	log.Printf("✅ Database migrations completed: %d applied, %d skipped, %d total", successCount, skippedCount, len(migrations))
	return nil
}

// extractMigrationVersion extracts the version number from a migration filename.
// "003_gateway_clients.sql" -> "003"
func extractMigrationVersion(filename string) string {
	name := strings.TrimSuffix(filename, ".sql")
	parts := strings.Split(name, "_")
	if len(parts) > 0 {
		return parts[0]
	}
	return name
}

// extractMigrationName extracts the human-readable name from a migration filename.
// "003_gateway_clients.sql" -> "gateway_clients"
func extractMigrationName(filename string) string {
	name := strings.TrimSuffix(filename, ".sql")
	parts := strings.Split(name, "_")
	if len(parts) > 1 {
		return strings.Join(parts[1:], "_")
	}
	return name
}

// recordMigrationSuccess records a successful migration in schema_migrations
func recordMigrationSuccess(db *sql.DB, version, filename string, executionTimeMs int) {
	name := extractMigrationName(filename)
	hostname, _ := os.Hostname()

	_, err := db.Exec(`
		INSERT INTO schema_migrations (
			version, name, applied_at, execution_time_ms,
			success, applied_by, hostname
		)
		VALUES ($1, $2, NOW(), $3, true, 'gateway', $4)
		ON CONFLICT (version) DO UPDATE SET
			applied_at = NOW(),
			execution_time_ms = $3,
			success = true,
			error_message = NULL
	`, version, name, executionTimeMs, hostname)

	if err != nil {
		log.Printf("⚠️  Failed to record migration success for %s: %v", filename, err)
	}
}

// recordMigrationFailure records a failed migration in schema_migrations
func recordMigrationFailure(db *sql.DB, version, filename string, migrationErr error, executionTimeMs int) {
	name := extractMigrationName(filename)
	hostname, _ := os.Hostname()

	_, err := db.Exec(`
		INSERT INTO schema_migrations (
			version, name, applied_at, execution_time_ms,
			success, error_message, applied_by, hostname
		)
		VALUES ($1, $2, NOW(), $3, false, $4, 'gateway', $5)
		ON CONFLICT (version) DO UPDATE SET
			applied_at = NOW(),
			execution_time_ms = $3,
			success = false,
			error_message = $4
	`, version, name, executionTimeMs, migrationErr.Error(), hostname)

	if err != nil {
		log.Printf("⚠️  Failed to record migration failure for %s: %v", filename, err)
	}
}
