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
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ToolCallRequest is the envelope the dialogue agent sends for every tool invocation
type ToolCallRequest struct {
	Tool      string                 `json:"tool"`
	ClientID  string                 `json:"client_id"`
	UserToken string                 `json:"user_token"`
	Args      map[string]interface{} `json:"args"`
}

// ToolCallResponse wraps the tool service result for the caller
type ToolCallResponse struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Client represents a registered client application
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TenantID     string    `json:"tenant_id"`
	RateLimit    int       `json:"rate_limit"`
	Enabled      bool      `json:"enabled"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
	TotalCalls   int64     `json:"total_calls,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// User represents the authenticated end user behind a tool call
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Region   string `json:"region"`
	TenantID string `json:"tenant_id"`
}

// sendErrorResponse writes a JSON error envelope with the given status code
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	response := ToolCallResponse{
		Success: false,
		Error:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func maskString(s string) string {
	if s == "" {
		return "<empty>"
	}
	if len(s) < 5 {
		return "***"
	}
	if len(s) <= 12 {
		return s[:4] + "***"
	}
	return s[:8] + "..." + s[len(s)-4:]
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// summarizeArgs renders a compact single-line view of tool call arguments
// for the audit trail. Values are truncated so the audit row stays small.
func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return truncateString(strings.ReplaceAll(string(data), "\n", " "), 500)
}
