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
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientAuth holds the credentials and limits of a known client.
// In production clients are loaded from the gateway_clients table;
// the whitelist covers local development and docker-compose setups.
type ClientAuth struct {
	ClientID  string
	APIKey    string
	Name      string
	TenantID  string
	RateLimit int // requests per minute
	Enabled   bool
}

// RateLimitEntry tracks request counts for in-memory rate limiting.
// When the window expires (1 minute), the counter resets.
type RateLimitEntry struct {
	Count     int
	ResetTime time.Time
	mu        sync.Mutex
}

// Known clients whitelist for local development
var knownClients = map[string]*ClientAuth{
	"freshflow-agent-dev": {
		ClientID:  "freshflow-agent-dev",
		APIKey:    "ffk-dev-5f1c9b2e8a7d4c3f",
		Name:      "FreshFlow Agent (Dev)",
		TenantID:  "freshflow_dev",
		RateLimit: 1000,
		Enabled:   true,
	},
	"loadtest": {
		ClientID:  "loadtest",
		APIKey:    "ffk-loadtest-93ab07d1e6f24c88",
		Name:      "Load Testing Client",
		TenantID:  "loadtest_tenant",
		RateLimit: 10000,
		Enabled:   true,
	},
}

// In-memory rate limiting (fallback when Redis is unavailable)
var rateLimitMap = make(map[string]*RateLimitEntry)
var rateLimitMu sync.RWMutex

// hashAPIKey returns the hex SHA-256 of an API key for database lookup
func hashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// validateClientKey validates a client against the in-memory whitelist
func validateClientKey(ctx context.Context, clientID, apiKey string) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID required")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	clientAuth, exists := knownClients[clientID]
	if !exists {
		return nil, fmt.Errorf("client '%s' not found in whitelist", clientID)
	}

	if !clientAuth.Enabled {
		return nil, fmt.Errorf("client '%s' is disabled", clientID)
	}

	if apiKey != clientAuth.APIKey {
		return nil, fmt.Errorf("invalid API key for client '%s'", clientID)
	}

	if err := checkRateLimitDistributed(ctx, clientID, clientAuth.RateLimit); err != nil {
		return nil, err
	}

	return &Client{
		ID:        clientAuth.ClientID,
		Name:      clientAuth.Name,
		TenantID:  clientAuth.TenantID,
		RateLimit: clientAuth.RateLimit,
		Enabled:   true,
	}, nil
}

// validateClientKeyDB validates a client using the gateway_clients table
func validateClientKeyDB(ctx context.Context, db *sql.DB, clientID, apiKey string) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID required")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	query := `
		SELECT client_id, client_name, tenant_id, rate_limit_rpm, enabled, revoked_at
		FROM gateway_clients
		WHERE client_id = $1 AND api_key_hash = $2
	`

	var client Client
	var rateLimit sql.NullInt64
	var revokedAt sql.NullTime

	err := db.QueryRowContext(ctx, query, clientID, hashAPIKey(apiKey)).Scan(
		&client.ID,
		&client.Name,
		&client.TenantID,
		&rateLimit,
		&client.Enabled,
		&revokedAt,
	)
	if err == sql.ErrNoRows {
		// Fall back to the whitelist for development clients
		return validateClientKey(ctx, clientID, apiKey)
	}
	if err != nil {
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}

	if !client.Enabled {
		return nil, fmt.Errorf("client '%s' is disabled", clientID)
	}

	if revokedAt.Valid && revokedAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("API key for client '%s' was revoked", clientID)
	}

	client.RateLimit = 120 // default when no per-client limit is set
	if rateLimit.Valid {
		client.RateLimit = int(rateLimit.Int64)
	}

	if err := checkRateLimitDistributed(ctx, clientID, client.RateLimit); err != nil {
		return nil, err
	}

	// Usage tracking is best effort
	if _, err := db.ExecContext(ctx, `
		UPDATE gateway_clients
		SET last_used_at = NOW(), total_requests = total_requests + 1
		WHERE client_id = $1
	`, clientID); err != nil {
		fmt.Printf("Warning: failed to update client usage for %s: %v\n", clientID, err)
	}

	return &client, nil
}

// checkRateLimit implements in-memory rate limiting, used when Redis is down
func checkRateLimit(clientID string, limitPerMinute int) error {
	if limitPerMinute <= 0 {
		return nil
	}

	now := time.Now()

	rateLimitMu.Lock()
	defer rateLimitMu.Unlock()

	entry, exists := rateLimitMap[clientID]
	if !exists {
		rateLimitMap[clientID] = &RateLimitEntry{
			Count:     1,
			ResetTime: now.Add(time.Minute),
		}
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if now.After(entry.ResetTime) {
		entry.Count = 1
		entry.ResetTime = now.Add(time.Minute)
		return nil
	}

	entry.Count++

	if entry.Count > limitPerMinute {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", entry.Count, limitPerMinute)
	}

	return nil
}

// getRateLimitStatus returns current in-memory rate limit status for a client
//
//nolint:unused // Used in tests
func getRateLimitStatus(clientID string) (count int, limit int, resetTime time.Time) {
	rateLimitMu.RLock()
	defer rateLimitMu.RUnlock()

	entry, exists := rateLimitMap[clientID]
	if !exists {
		return 0, 0, time.Time{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	clientAuth, exists := knownClients[clientID]
	if !exists {
		return entry.Count, 0, entry.ResetTime
	}

	return entry.Count, clientAuth.RateLimit, entry.ResetTime
}

// validateUserToken parses the end user's JWT and checks the tenant claim
func validateUserToken(tokenString string, expectedTenantID string) (*User, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token required")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	tenantID := getClaimString(claims, "tenant_id")
	if tenantID == "" {
		tenantID = expectedTenantID // backward compat for tokens minted before tenancy
	}

	return &User{
		ID:       getClaimString(claims, "user_id"),
		Email:    getClaimString(claims, "email"),
		Name:     getClaimString(claims, "name"),
		Role:     getClaimString(claims, "role"),
		Region:   getClaimString(claims, "region"),
		TenantID: tenantID,
	}, nil
}
