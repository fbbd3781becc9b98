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

// Package integration holds end-to-end smoke tests that run against a
// deployed FreshFlow stack. They are skipped unless GATEWAY_URL points
// at a live gateway:
//
//	GATEWAY_URL=http://localhost:8080 FRESHFLOW_API_KEY=ffk-dev-5f1c9b2e8a7d4c3f go test ./test/integration/
package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

func gatewayURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("GATEWAY_URL")
	if url == "" {
		t.Skip("GATEWAY_URL not set; skipping integration test")
	}
	return url
}

func apiKey() string {
	if key := os.Getenv("FRESHFLOW_API_KEY"); key != "" {
		return key
	}
	return "ffk-dev-5f1c9b2e8a7d4c3f"
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func TestGatewayHealth(t *testing.T) {
	url := gatewayURL(t)

	resp, err := httpClient().Get(url + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy gateway, got %v", body["status"])
	}
	if body["service"] != "freshflow-gateway" {
		t.Errorf("unexpected service name %v", body["service"])
	}
}

func callTool(t *testing.T, tool string, args map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"tool": tool,
		"args": args,
	})
	if err != nil {
		t.Fatalf("failed to encode tool call: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, gatewayURL(t)+"/api/tool-call", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey())

	resp, err := httpClient().Do(req)
	if err != nil {
		t.Fatalf("tool call %s failed: %v", tool, err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response for %s: %v", tool, err)
	}
	return resp.StatusCode, body
}

func TestToolCallRoundTrip(t *testing.T) {
	code, body := callTool(t, "lookup_product", map[string]interface{}{})

	if code != http.StatusOK {
		t.Fatalf("expected 200 from lookup_product, got %d: %v", code, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}

	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	if _, ok := data["matches"]; !ok {
		t.Errorf("lookup_product data missing matches: %v", data)
	}
}

func TestHarvestLifecycle(t *testing.T) {
	harvestDate := time.Now().Format("2006-01-02")

	code, body := callTool(t, "log_harvest", map[string]interface{}{
		"farm_id":               "FARM-IT-001",
		"product_id":            "PROD-IT-001",
		"harvested_quantity_kg": 150,
		"harvest_date":          harvestDate,
		"quality_score":         4.2,
	})
	if code != http.StatusOK {
		t.Fatalf("log_harvest returned %d: %v", code, body)
	}

	data, _ := body["data"].(map[string]interface{})
	if data == nil || data["harvest_id"] == "" {
		t.Fatalf("log_harvest did not return a harvest ID: %v", body)
	}

	code, body = callTool(t, "get_harvest_advice", map[string]interface{}{
		"farm_id": "FARM-IT-001",
	})
	if code != http.StatusOK {
		t.Fatalf("get_harvest_advice returned %d: %v", code, body)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	code, body := callTool(t, "definitely_not_a_tool", map[string]interface{}{})

	if code == http.StatusOK {
		t.Fatalf("expected error for unknown tool, got 200: %v", body)
	}
}

func TestRejectsMissingAPIKey(t *testing.T) {
	payload := []byte(`{"tool":"lookup_product","args":{}}`)

	req, err := http.NewRequest(http.MethodPost, gatewayURL(t)+"/api/tool-call", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without API key, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	url := gatewayURL(t)

	for _, path := range []string{"/metrics", "/prometheus"} {
		resp, err := httpClient().Get(url + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 from %s, got %d", path, resp.StatusCode)
		}
	}
}
