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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// toolCallHandler is the single entry point for the dialogue agent.
// Every tool invocation flows through authentication, tenant isolation,
// rate limiting, and forwarding to the tool service.
func toolCallHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	atomic.AddInt64(&gatewayMetrics.totalRequests, 1)

	log.Printf("📨 Incoming tool call from %s - Method: %s, Path: %s", r.RemoteAddr, r.Method, r.URL.Path)
	log.Printf("   Headers: X-API-Key: %s, Content-Type: %s",
		maskString(r.Header.Get("X-API-Key")),
		r.Header.Get("Content-Type"))

	var req ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		atomic.AddInt64(&gatewayMetrics.failedRequests, 1)
		log.Printf("❌ Request body parse failed: %v", err)
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Tool) == "" {
		atomic.AddInt64(&gatewayMetrics.failedRequests, 1)
		sendErrorResponse(w, "tool is required", http.StatusBadRequest)
		return
	}
	log.Printf("   Tool call: ClientID='%s', Tool='%s', Args=%s",
		req.ClientID, req.Tool, truncateString(summarizeArgs(req.Args), 120))

	// 1. Validate client authentication
	validateClientStart := time.Now()

	selfHostedMode := os.Getenv("SELF_HOSTED_MODE") == "true"

	var client *Client
	var err error

	if selfHostedMode {
		log.Printf("🏠 Self-hosted mode: Skipping authentication for client '%s'", req.ClientID)
		client = &Client{
			ID:       req.ClientID,
			Name:     "Self-Hosted",
			TenantID: req.ClientID,
			Enabled:  true,
		}
	} else {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			log.Printf("❌ Missing X-API-Key header")
			promAuthFailures.Inc()
			sendErrorResponse(w, "X-API-Key header required", http.StatusUnauthorized)
			return
		}
		log.Printf("🔐 Validating API key for client '%s' with key '%s'", req.ClientID, maskString(apiKey))

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if authDB != nil {
			client, err = validateClientKeyDB(ctx, authDB, req.ClientID, apiKey)
		} else {
			client, err = validateClientKey(ctx, req.ClientID, apiKey)
		}
		if err != nil {
			if strings.Contains(err.Error(), "rate limit exceeded") {
				log.Printf("🚦 Rate limit exceeded for client '%s'", req.ClientID)
				atomic.AddInt64(&gatewayMetrics.rejectedReqs, 1)
				promRateLimited.Inc()
				sendErrorResponse(w, err.Error(), http.StatusTooManyRequests)
				return
			}
			log.Printf("❌ Client validation failed for '%s': %v", req.ClientID, err)
			promAuthFailures.Inc()
			sendErrorResponse(w, "Authentication failed: "+err.Error(), http.StatusUnauthorized)
			return
		}
		log.Printf("✅ API key validated for client '%s'", client.ID)
	}

	if !client.Enabled {
		sendErrorResponse(w, "Client disabled", http.StatusForbidden)
		return
	}

	// 2. Validate and extract user from token
	user, err := validateUserToken(req.UserToken, client.TenantID)
	if err != nil {
		promAuthFailures.Inc()
		sendErrorResponse(w, "Invalid user token", http.StatusUnauthorized)
		return
	}

	// 3. Verify tenant isolation
	log.Printf("🔍 Checking tenant isolation: User TenantID='%s', Client TenantID='%s'", user.TenantID, client.TenantID)
	if user.TenantID != client.TenantID {
		log.Printf("❌ TENANT MISMATCH: User TenantID='%s' does not match Client TenantID='%s'", user.TenantID, client.TenantID)
		sendErrorResponse(w, "Tenant mismatch", http.StatusForbidden)
		return
	}
	authTime := time.Since(validateClientStart)

	// 4. Forward to the tool service
	forwardStart := time.Now()
	log.Printf("🚀 Forwarding tool call: ClientID=%s, Tool=%s", req.ClientID, req.Tool)
	statusCode, toolResp, err := forwardToToolService(req, user, client)
	forwardTime := time.Since(forwardStart)

	gatewayMetrics.recordStageTimings(authTime.Milliseconds(), forwardTime.Milliseconds())

	latencyMs := time.Since(startTime).Milliseconds()
	gatewayMetrics.recordLatency(latencyMs)
	gatewayMetrics.recordToolCall(req.Tool, latencyMs, err)
	promRequestDuration.WithLabelValues(req.Tool).Observe(float64(latencyMs))

	auditStatus := "success"
	auditError := ""
	if err != nil {
		auditStatus = "error"
		auditError = err.Error()
	} else if statusCode >= 400 {
		auditStatus = "tool_error"
	}

	if auditQueue != nil {
		if qErr := auditQueue.Record(AuditEntry{
			ClientID:    client.ID,
			UserID:      user.ID,
			TenantID:    client.TenantID,
			Tool:        req.Tool,
			Status:      auditStatus,
			StatusCode:  statusCode,
			DurationMs:  latencyMs,
			RequestArgs: summarizeArgs(req.Args),
			Error:       auditError,
		}); qErr != nil {
			log.Printf("⚠️  Failed to queue audit entry: %v", qErr)
		}
	}

	if err != nil {
		atomic.AddInt64(&gatewayMetrics.failedRequests, 1)
		log.Printf("❌ Tool service forward failed: %v (time: %v)", err, forwardTime)
		promRequestsTotal.WithLabelValues("error").Inc()
		sendErrorResponse(w, "Tool service error: "+err.Error(), http.StatusBadGateway)
		return
	}
	log.Printf("✅ Tool service responded with status %d (time: %v)", statusCode, forwardTime)

	atomic.AddInt64(&gatewayMetrics.successRequests, 1)
	promRequestsTotal.WithLabelValues("success").Inc()

	response := ToolCallResponse{
		Success: statusCode < 400,
		Data:    toolResp,
		Metadata: map[string]interface{}{
			"tool":               req.Tool,
			"tenant_id":          client.TenantID,
			"processing_time_ms": latencyMs,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding tool call response: %v", err)
	}
}

// forwardToToolService POSTs the tool arguments to the tool service and
// returns its status code and decoded body.
func forwardToToolService(req ToolCallRequest, user *User, client *Client) (int, interface{}, error) {
	payload := map[string]interface{}{
		"args":       req.Args,
		"client_id":  client.ID,
		"tenant_id":  client.TenantID,
		"user_id":    user.ID,
		"request_id": fmt.Sprintf("req_%d", time.Now().UnixNano()),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	toolURL := toolServiceURL + "/api/v1/tools/" + req.Tool
	resp, err := toolServiceHTTP.Post(toolURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("❌ ERROR: Failed to call tool service at %s: %v", toolURL, err)
		return 0, nil, fmt.Errorf("tool service connection failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to decode tool service response: %v", err)
	}

	return resp.StatusCode, result, nil
}

// listClientsHandler returns registered clients. Reads from the database
// when available, otherwise from the development whitelist.
func listClientsHandler(w http.ResponseWriter, r *http.Request) {
	var clients []Client

	if authDB != nil {
		rows, err := authDB.QueryContext(r.Context(), `
			SELECT client_id, client_name, tenant_id, COALESCE(rate_limit_rpm, 120), enabled
			FROM gateway_clients
			ORDER BY client_id
		`)
		if err != nil {
			sendErrorResponse(w, "Failed to list clients: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var c Client
			if err := rows.Scan(&c.ID, &c.Name, &c.TenantID, &c.RateLimit, &c.Enabled); err != nil {
				sendErrorResponse(w, "Failed to scan client: "+err.Error(), http.StatusInternalServerError)
				return
			}
			clients = append(clients, c)
		}
	} else {
		for _, ca := range knownClients {
			clients = append(clients, Client{
				ID:        ca.ClientID,
				Name:      ca.Name,
				TenantID:  ca.TenantID,
				RateLimit: ca.RateLimit,
				Enabled:   ca.Enabled,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(clients); err != nil {
		log.Printf("Error encoding clients response: %v", err)
	}
}

// createClientHandler registers a new client and returns its API key once
func createClientHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID     string `json:"client_id"`
		Name         string `json:"name"`
		TenantID     string `json:"tenant_id"`
		RateLimitRPM int    `json:"rate_limit_rpm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if body.ClientID == "" || body.Name == "" || body.TenantID == "" {
		sendErrorResponse(w, "client_id, name, and tenant_id are required", http.StatusBadRequest)
		return
	}

	if authDB == nil {
		sendErrorResponse(w, "Client registration requires a database", http.StatusServiceUnavailable)
		return
	}

	// The API key is returned exactly once; only its hash is stored
	apiKey := "ffk-" + uuid.New().String()

	rateLimit := sql.NullInt64{}
	if body.RateLimitRPM > 0 {
		rateLimit = sql.NullInt64{Int64: int64(body.RateLimitRPM), Valid: true}
	}

	_, err := authDB.ExecContext(r.Context(), `
		INSERT INTO gateway_clients (client_id, client_name, api_key_hash, tenant_id, rate_limit_rpm, enabled)
		VALUES ($1, $2, $3, $4, $5, true)
	`, body.ClientID, body.Name, hashAPIKey(apiKey), body.TenantID, rateLimit)
	if err != nil {
		sendErrorResponse(w, "Failed to register client: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"client_id": body.ClientID,
		"name":      body.Name,
		"tenant_id": body.TenantID,
		"api_key":   apiKey,
	}); err != nil {
		log.Printf("Error encoding client response: %v", err)
	}
}

// rateLimitStatusHandler reports the current window count for a client
func rateLimitStatusHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		sendErrorResponse(w, "client_id query parameter required", http.StatusBadRequest)
		return
	}

	count, resetTime, err := getRateLimitStatusRedis(r.Context(), clientID)
	if err != nil {
		sendErrorResponse(w, "Failed to get rate limit status: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"client_id":  clientID,
		"count":      count,
		"reset_time": resetTime,
	}); err != nil {
		log.Printf("Error encoding rate limit status response: %v", err)
	}
}
