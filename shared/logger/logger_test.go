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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	original := log.Writer()
	originalFlags := log.Flags()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(original)
		log.SetFlags(originalFlags)
	}()

	fn()
	return buf.String()
}

func decodeEntry(t *testing.T, raw string) LogEntry {
	t.Helper()

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &entry); err != nil {
		t.Fatalf("Failed to decode log entry %q: %v", raw, err)
	}
	return entry
}

func TestNew(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")
	l := New("toolsvc")

	if l.Component != "toolsvc" {
		t.Errorf("Expected component toolsvc, got %s", l.Component)
	}
	if l.InstanceID != "instance-123" {
		t.Errorf("Expected instance ID instance-123, got %s", l.InstanceID)
	}
	if l.Container == "" {
		t.Error("Expected container to be set from hostname")
	}
}

func TestNew_UnknownInstance(t *testing.T) {
	t.Setenv("INSTANCE_ID", "")
	l := New("gateway")

	if l.InstanceID != "unknown" {
		t.Errorf("Expected unknown instance ID, got %s", l.InstanceID)
	}
}

func TestInfo_EmitsStructuredJSON(t *testing.T) {
	l := New("gateway")

	out := captureOutput(t, func() {
		l.Info("client-123", "req-456", "Tool call completed", map[string]interface{}{
			"tool": "get_market_prices",
		})
	})

	entry := decodeEntry(t, out)
	if entry.Level != INFO {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if entry.ClientID != "client-123" {
		t.Errorf("Expected client-123, got %s", entry.ClientID)
	}
	if entry.RequestID != "req-456" {
		t.Errorf("Expected req-456, got %s", entry.RequestID)
	}
	if entry.Fields["tool"] != "get_market_prices" {
		t.Errorf("Expected tool field, got %v", entry.Fields)
	}
	if entry.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestMinLevel_SuppressesDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")
	l := New("gateway")

	out := captureOutput(t, func() {
		l.Debug("client-1", "req-1", "noisy detail", nil)
	})

	if strings.TrimSpace(out) != "" {
		t.Errorf("Expected debug entry to be suppressed, got %q", out)
	}
}

func TestMinLevel_DebugEnabled(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	l := New("gateway")

	out := captureOutput(t, func() {
		l.Debug("client-1", "req-1", "noisy detail", nil)
	})

	entry := decodeEntry(t, out)
	if entry.Level != DEBUG {
		t.Errorf("Expected DEBUG entry, got %s", entry.Level)
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("toolsvc")

	out := captureOutput(t, func() {
		l.InfoWithDuration("client-1", "req-1", "Tool call completed", 12.5, nil)
	})

	entry := decodeEntry(t, out)
	if entry.Fields["duration_ms"] != 12.5 {
		t.Errorf("Expected duration_ms 12.5, got %v", entry.Fields["duration_ms"])
	}
}

func TestErrorWithCode(t *testing.T) {
	l := New("gateway")

	out := captureOutput(t, func() {
		l.ErrorWithCode("client-1", "req-1", "Forward failed", 502, errTest, map[string]interface{}{
			"tool": "track_shipment",
		})
	})

	entry := decodeEntry(t, out)
	if entry.Level != ERROR {
		t.Errorf("Expected ERROR entry, got %s", entry.Level)
	}
	if entry.Fields["status_code"] != float64(502) {
		t.Errorf("Expected status_code 502, got %v", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != errTest.Error() {
		t.Errorf("Expected error field, got %v", entry.Fields["error"])
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "connection refused" }
