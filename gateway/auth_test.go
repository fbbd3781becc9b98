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
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
)

func resetRateLimitState() {
	rateLimitMu.Lock()
	rateLimitMap = make(map[string]*RateLimitEntry)
	rateLimitMu.Unlock()
}

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestValidateClientKey(t *testing.T) {
	resetRateLimitState()
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		apiKey   string
		wantErr  string
	}{
		{"valid client", "freshflow-agent-dev", "ffk-dev-5f1c9b2e8a7d4c3f", ""},
		{"missing client id", "", "ffk-dev-5f1c9b2e8a7d4c3f", "client ID required"},
		{"missing key", "freshflow-agent-dev", "", "API key required"},
		{"unknown client", "ghost", "ffk-anything", "not found in whitelist"},
		{"wrong key", "freshflow-agent-dev", "ffk-wrong", "invalid API key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := validateClientKey(ctx, tt.clientID, tt.apiKey)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if client.TenantID != "freshflow_dev" {
					t.Errorf("unexpected tenant: %s", client.TenantID)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
			}
		})
	}
}

func TestValidateClientKeyDB(t *testing.T) {
	resetRateLimitState()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	apiKey := "ffk-prod-abc123def456"

	rows := sqlmock.NewRows([]string{
		"client_id", "client_name", "tenant_id", "rate_limit_rpm", "enabled", "revoked_at",
	}).AddRow("agent-prod", "Production Agent", "freshflow_prod", 500, true, nil)

	mock.ExpectQuery("SELECT client_id, client_name, tenant_id").
		WithArgs("agent-prod", hashAPIKey(apiKey)).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE gateway_clients").
		WithArgs("agent-prod").
		WillReturnResult(sqlmock.NewResult(0, 1))

	client, err := validateClientKeyDB(context.Background(), db, "agent-prod", apiKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.TenantID != "freshflow_prod" || client.RateLimit != 500 {
		t.Errorf("unexpected client: %+v", client)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestValidateClientKeyDB_FallsBackToWhitelist(t *testing.T) {
	resetRateLimitState()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT client_id, client_name, tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"client_id", "client_name", "tenant_id", "rate_limit_rpm", "enabled", "revoked_at",
		}))

	client, err := validateClientKeyDB(context.Background(), db, "freshflow-agent-dev", "ffk-dev-5f1c9b2e8a7d4c3f")
	if err != nil {
		t.Fatalf("expected whitelist fallback to succeed: %v", err)
	}
	if client.ID != "freshflow-agent-dev" {
		t.Errorf("unexpected client: %+v", client)
	}
}

func TestCheckRateLimit_InMemory(t *testing.T) {
	resetRateLimitState()

	limit := 5
	for i := 0; i < limit; i++ {
		if err := checkRateLimit("burst-client", limit); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}

	if err := checkRateLimit("burst-client", limit); err == nil {
		t.Error("expected rate limit error")
	}
}

func TestValidateUserToken(t *testing.T) {
	oldSecret := jwtSecret
	jwtSecret = []byte("test-secret-key")
	defer func() { jwtSecret = oldSecret }()

	t.Run("valid token", func(t *testing.T) {
		tokenString := signTestToken(t, jwtSecret, jwt.MapClaims{
			"user_id":   "farmer-042",
			"email":     "grower@example.com",
			"name":      "Field Manager",
			"role":      "agent",
			"tenant_id": "freshflow_dev",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})

		user, err := validateUserToken(tokenString, "freshflow_dev")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID != "farmer-042" || user.TenantID != "freshflow_dev" {
			t.Errorf("unexpected user: %+v", user)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := validateUserToken("", "freshflow_dev"); err == nil {
			t.Error("expected error for empty token")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		tokenString := signTestToken(t, []byte("other-secret"), jwt.MapClaims{
			"user_id": "u1",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		if _, err := validateUserToken(tokenString, "freshflow_dev"); err == nil {
			t.Error("expected error for bad signature")
		}
	})

	t.Run("missing tenant falls back to client tenant", func(t *testing.T) {
		tokenString := signTestToken(t, jwtSecret, jwt.MapClaims{
			"user_id": "legacy-user",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		user, err := validateUserToken(tokenString, "legacy_tenant")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.TenantID != "legacy_tenant" {
			t.Errorf("expected fallback tenant, got %s", user.TenantID)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		tokenString := signTestToken(t, jwtSecret, jwt.MapClaims{
			"user_id": "u1",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})
		if _, err := validateUserToken(tokenString, "freshflow_dev"); err == nil {
			t.Error("expected error for expired token")
		}
	})
}

func TestHashAPIKey(t *testing.T) {
	h1 := hashAPIKey("ffk-sample")
	h2 := hashAPIKey("ffk-sample")
	h3 := hashAPIKey("ffk-other")

	if h1 != h2 {
		t.Error("hash should be deterministic")
	}
	if h1 == h3 {
		t.Error("different keys should hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}
