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

// Package tools implements the FreshFlow tool service. Every operational
// tool the dialogue agent can call lives here: farm harvest logging and
// advice, market forecasts and ordering, logistics tracking with cold
// chain monitoring, delivery routing, and entity lookups.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freshflow/platform/config"
	"freshflow/platform/media"
	"freshflow/platform/warehouse"
	"freshflow/platform/warehouse/postgres"
)

// Application readiness state for health checks.
// The health endpoint responds immediately while initialization happens.
var appReady atomic.Bool

// Global router so health checks pass during slow initialization
var globalRouter *mux.Router

// initServerImmediately starts the HTTP server with just /health registered.
// This lets load balancer health checks pass while the warehouse, Redis,
// and GCS connections are still being established. Other routes are added
// after initialization completes.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()
	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	go func() {
		log.Printf("🚀 FreshFlow Tool Service starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, globalRouter); err != nil {
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
		"service":   "freshflow-toolsvc",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// Run is the exported entry point for the tool service
func Run() {
	// Start server immediately with /health so health checks pass
	// during initialization. Other routes are added once ready.
	port := getEnv("PORT", "8081")
	initServerImmediately(port)

	// Optional YAML config file, env vars take precedence
	var cfg *config.File
	if cfgPath := os.Getenv("CONFIG_FILE"); cfgPath != "" {
		loader, err := config.NewLoader(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config file %s: %v", cfgPath, err)
		}
		cfg = loader.Config()
		log.Printf("📋 Loaded configuration from %s", cfgPath)
	} else {
		cfg = &config.File{}
	}

	// The warehouse is the one hard dependency. The gateway owns schema
	// migrations; this service only reads and writes.
	dbURL := getEnv("DATABASE_URL", cfg.Warehouse.ConnectionURL)
	if dbURL == "" {
		log.Fatalf("DATABASE_URL not set - the tool service cannot run without the warehouse")
	}

	registry := warehouse.NewRegistry(func(storeType string) (warehouse.Store, error) {
		if storeType != "postgres" {
			return nil, fmt.Errorf("unsupported warehouse type '%s'", storeType)
		}
		return postgres.NewStore(), nil
	})
	if err := registry.Register(&warehouse.Config{
		Name:          "warehouse",
		Type:          "postgres",
		ConnectionURL: dbURL,
		Timeout:       cfg.WarehouseTimeout(),
		MaxRetries:    cfg.Warehouse.MaxRetries,
	}); err != nil {
		log.Fatalf("Failed to register warehouse store: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	store, err := registry.Get(connectCtx, "warehouse")
	cancel()
	if err != nil {
		log.Fatalf("Warehouse connection failed. Exiting to prevent incomplete setup: %v", err)
	}

	// Redis caches lookup results; the tools fall back to the warehouse
	// on every call without it.
	var cache *redis.Client
	if redisURL := getEnv("REDIS_URL", cfg.Redis.URL); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Printf("⚠️  Invalid REDIS_URL: %v (lookup caching disabled)", err)
		} else {
			cache = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := cache.Ping(pingCtx).Err(); err != nil {
				log.Printf("⚠️  Redis unreachable: %v (lookup caching disabled)", err)
				cache = nil
			} else {
				log.Println("✅ Redis connected - lookup caching enabled")
			}
			cancel()
		}
	} else {
		log.Println("ℹ️  REDIS_URL not set - lookup caching disabled")
	}

	// GCS photo storage for harvests and QC issues
	var mediaStore *media.Store
	if bucket := getEnv("MEDIA_BUCKET", cfg.Media.Bucket); bucket != "" {
		mediaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		mediaStore, err = media.New(mediaCtx, media.Config{
			Bucket:          bucket,
			CredentialsFile: getEnv("MEDIA_CREDENTIALS_FILE", cfg.Media.CredentialsFile),
			Endpoint:        getEnv("MEDIA_ENDPOINT", cfg.Media.EmulatorHost),
			SignedURLTTL:    time.Duration(cfg.Media.SignedURLTTLMin) * time.Minute,
		})
		cancel()
		if err != nil {
			log.Printf("⚠️  Photo storage unavailable: %v (photo uploads disabled)", err)
		} else {
			log.Printf("✅ Photo storage connected (bucket: %s)", bucket)
		}
	} else {
		log.Println("ℹ️  MEDIA_BUCKET not set - photo uploads disabled")
	}

	// Google Maps Platform for delivery route optimization
	var routes *RoutePlanner
	if apiKey := getEnv("ROUTING_API_KEY", cfg.Routing.APIKey); apiKey != "" {
		routes = NewRoutePlanner(apiKey, cfg.Routing.RoutesEndpoint, cfg.Routing.GeocodeEndpoint,
			time.Duration(cfg.Routing.TimeoutMs)*time.Millisecond)
		log.Println("✅ Route planner configured")
	} else {
		log.Println("ℹ️  ROUTING_API_KEY not set - delivery route optimization disabled")
	}

	// Async cold-chain alert dispatcher with JSONL fallback
	queueSize := getEnvInt("ALERT_QUEUE_SIZE", 1000)
	workers := getEnvInt("ALERT_WORKERS", 2)
	fallbackPath := getEnv("ALERT_FALLBACK_FILE", "/tmp/freshflow_alert_fallback.jsonl")
	alerts, err := NewAlertDispatcher(store, queueSize, workers, fallbackPath)
	if err != nil {
		log.Fatalf("Failed to start alert dispatcher: %v", err)
	}

	service := NewService(store, cache, mediaStore, routes, alerts)

	// Register all routes on the global router (server is already running with /health)

	// Tool call endpoint - every request the gateway forwards lands here
	globalRouter.HandleFunc("/api/v1/tools/{tool}", service.ToolHandler).Methods("POST")

	// Prometheus metrics endpoint (Prometheus exposition format)
	globalRouter.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Mark application as ready - /health will now return "healthy"
	appReady.Store(true)
	log.Println("✅ All initialization complete - application ready")
	log.Printf("🚀 FreshFlow Tool Service fully operational on port %s", port)

	// Block forever - server is running in goroutine, nothing else to do
	select {}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
