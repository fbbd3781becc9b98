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

// Package gateway implements the client-facing entry point of the
// FreshFlow platform. It authenticates the dialogue agent, enforces
// tenant isolation and rate limits, forwards tool calls to the tool
// service, and records an audit trail for every call.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"freshflow/platform/config"
)

// Configuration
var (
	jwtSecret       = []byte(os.Getenv("JWT_SECRET"))
	toolServiceURL  = getEnv("TOOL_SERVICE_URL", "http://localhost:8081")
	toolServiceHTTP = &http.Client{Timeout: 60 * time.Second}
	authDB          *sql.DB
	auditQueue      *AuditQueue
)

// Application readiness state for health checks.
// The health endpoint responds immediately while initialization happens.
var appReady atomic.Bool

// Global router and server, so health checks pass during slow initialization
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
)

// initServerImmediately starts the HTTP server with just /health registered.
// This lets load balancer health checks pass during the potentially slow
// initialization phase (database connections, migrations, Redis). Other
// routes are added after initialization completes. The server never shuts
// down, so there is no transition gap.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()

	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("🚀 FreshFlow Gateway starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Small delay to ensure server is ready to accept connections
	time.Sleep(50 * time.Millisecond)
	log.Println("✅ Health endpoint ready - initialization can proceed safely")
}

// readinessAwareHealthHandler returns health status based on initialization state
func readinessAwareHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "starting"
	if appReady.Load() {
		status = "healthy"
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "freshflow-gateway",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// Run is the exported entry point for the gateway service
func Run() {
	// Start server immediately with /health so health checks pass
	// during initialization. Other routes are added once ready.
	port := getEnv("PORT", "8080")
	initServerImmediately(port)

	gatewayMetrics = newGatewayMetrics()

	// Optional YAML config file, env vars take precedence
	if cfgPath := os.Getenv("CONFIG_FILE"); cfgPath != "" {
		loader, err := config.NewLoader(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config file %s: %v", cfgPath, err)
		}
		cfg := loader.Config()
		if os.Getenv("TOOL_SERVICE_URL") == "" && cfg.Gateway.ToolServiceURL != "" {
			toolServiceURL = cfg.Gateway.ToolServiceURL
		}
		if os.Getenv("JWT_SECRET") == "" && cfg.Gateway.JWTSecret != "" {
			jwtSecret = []byte(cfg.Gateway.JWTSecret)
		}
		log.Printf("📋 Loaded configuration from %s", cfgPath)
	}

	// Database is required for migrations, auth, and the audit trail.
	// Without it the gateway falls back to whitelist auth and file audits.
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL != "" {
		db, err := connectWithRetry(dbURL, 5)
		if err != nil {
			log.Fatalf("Database connection failed. Exiting to prevent incomplete setup: %v", err)
		}
		authDB = db

		log.Println("Running database migrations...")
		migrationsPath := getEnv("MIGRATIONS_PATH", "/app/migrations/")
		if err := runMigrations(authDB, migrationsPath); err != nil {
			log.Fatalf("Database migrations failed. Exiting to prevent incomplete setup: %v", err)
		}
	} else {
		log.Println("⚠️  DATABASE_URL not set - using whitelist auth and file-only audit trail")
	}

	// Redis for distributed rate limiting; in-memory fallback otherwise
	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		if err := initRedis(redisURL); err != nil {
			log.Printf("⚠️  Redis initialization failed: %v (falling back to in-memory rate limiting)", err)
		}
	} else {
		log.Println("ℹ️  REDIS_URL not set - using in-memory rate limiting")
	}

	// Async audit queue with JSONL fallback
	auditMode := AuditMode(getEnv("AUDIT_MODE", string(AuditModePerformance)))
	fallbackPath := getEnv("AUDIT_FALLBACK_FILE", "/tmp/freshflow_audit_fallback.jsonl")
	aq, err := NewAuditQueue(auditMode, 10000, 4, authDB, fallbackPath)
	if err != nil {
		log.Fatalf("Failed to start audit queue: %v", err)
	}
	auditQueue = aq

	// Register all routes on the global router (server is already running with /health)

	// Metrics endpoint for real performance data (JSON format)
	globalRouter.HandleFunc("/metrics", metricsHandler).Methods("GET")

	// Prometheus metrics endpoint (Prometheus exposition format)
	globalRouter.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Main tool call endpoint - all agent requests flow through here
	globalRouter.HandleFunc("/api/tool-call", toolCallHandler).Methods("POST")

	// Client management endpoints
	globalRouter.HandleFunc("/api/clients", listClientsHandler).Methods("GET")
	globalRouter.HandleFunc("/api/clients", createClientHandler).Methods("POST")

	// Rate limit inspection endpoint for debugging
	globalRouter.HandleFunc("/api/ratelimit", rateLimitStatusHandler).Methods("GET")

	// Mark application as ready - /health will now return "healthy"
	appReady.Store(true)
	log.Println("✅ All initialization complete - application ready")
	log.Printf("🚀 FreshFlow Gateway fully operational on port %s", port)

	// Block until a shutdown signal, then drain the audit queue and
	// close connections before exiting
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Printf("Received %s - shutting down gateway...", sig)
	appReady.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auditQueue.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Audit queue shutdown: %v", err)
	}
	if err := closeRedis(); err != nil {
		log.Printf("⚠️  Redis close: %v", err)
	}
	if authDB != nil {
		if err := authDB.Close(); err != nil {
			log.Printf("⚠️  Database close: %v", err)
		}
	}
	log.Println("Gateway shutdown complete")
}

// connectWithRetry opens the database with exponential backoff, since
// container DNS may still be initializing at startup.
func connectWithRetry(dbURL string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Printf("✅ Connected to database (attempt %d/%d)", attempt, maxRetries)
				return db, nil
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("⚠️  Database connection failed (attempt %d/%d): %v", attempt, maxRetries, err)
			log.Printf("   Retrying in %v...", backoff)
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
}
