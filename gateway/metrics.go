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
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshflow_gateway_requests_total",
			Help: "Total number of tool call requests processed by the gateway",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freshflow_gateway_request_duration_milliseconds",
			Help:    "Tool call duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
		[]string{"tool"},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "freshflow_gateway_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting",
		},
	)
	promAuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "freshflow_gateway_auth_failures_total",
			Help: "Total number of failed client or user authentications",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promRateLimited)
	prometheus.MustRegister(promAuthFailures)
}

// GatewayMetrics tracks real performance metrics
type GatewayMetrics struct {
	mu sync.RWMutex

	// Request counters
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	rejectedReqs    int64

	// Latency tracking (last 1000, in milliseconds)
	lastLatencies []int64

	// Per-stage timing (in milliseconds)
	authTimings    []int64 // client + user validation + tenant check
	forwardTimings []int64 // gateway → tool service network time

	// Per-tool breakdown
	toolCounters map[string]*ToolMetrics

	startTime time.Time

	// Error tracking for error rate calculation
	errorTimestamps []time.Time
}

// ToolMetrics tracks metrics per tool
type ToolMetrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	Latencies       []int64
	LastError       string
	LastErrorTime   time.Time
}

// Global metrics instance
var gatewayMetrics *GatewayMetrics

func newGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		toolCounters: make(map[string]*ToolMetrics),
		startTime:    time.Now(),
	}
}

// recordLatency adds a latency measurement to the rolling window
func (m *GatewayMetrics) recordLatency(latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.lastLatencies) >= 1000 {
		m.lastLatencies = m.lastLatencies[1:]
	}
	m.lastLatencies = append(m.lastLatencies, latencyMs)
}

// recordStageTimings records the auth and forward stage durations
func (m *GatewayMetrics) recordStageTimings(authMs, forwardMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.authTimings) >= 1000 {
		m.authTimings = m.authTimings[1:]
	}
	m.authTimings = append(m.authTimings, authMs)

	if forwardMs >= 0 {
		if len(m.forwardTimings) >= 1000 {
			m.forwardTimings = m.forwardTimings[1:]
		}
		m.forwardTimings = append(m.forwardTimings, forwardMs)
	}
}

// recordToolCall tracks per-tool counters and latencies
func (m *GatewayMetrics) recordToolCall(tool string, latencyMs int64, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tm, exists := m.toolCounters[tool]
	if !exists {
		tm = &ToolMetrics{}
		m.toolCounters[tool] = tm
	}

	tm.TotalRequests++
	if callErr != nil {
		tm.FailedRequests++
		tm.LastError = callErr.Error()
		tm.LastErrorTime = time.Now()
		m.errorTimestamps = append(m.errorTimestamps, time.Now())
		if len(m.errorTimestamps) > 1000 {
			m.errorTimestamps = m.errorTimestamps[1:]
		}
	} else {
		tm.SuccessRequests++
	}

	if len(tm.Latencies) >= 1000 {
		tm.Latencies = tm.Latencies[1:]
	}
	tm.Latencies = append(tm.Latencies, latencyMs)
}

// getToolMetrics returns a JSON-friendly snapshot of per-tool counters
func (m *GatewayMetrics) getToolMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]interface{}, len(m.toolCounters))
	for tool, tm := range m.toolCounters {
		out[tool] = map[string]interface{}{
			"total_requests":   tm.TotalRequests,
			"success_requests": tm.SuccessRequests,
			"failed_requests":  tm.FailedRequests,
			"p95_ms":           calculateP95(tm.Latencies),
			"avg_latency_ms":   calculateAverage(tm.Latencies),
			"last_error":       tm.LastError,
		}
	}
	return out
}

// metricsHandler returns real-time performance metrics as JSON
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if gatewayMetrics == nil {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "Metrics not initialized",
			"timestamp": time.Now().UTC(),
		}); err != nil {
			log.Printf("Error encoding metrics error response: %v", err)
		}
		return
	}

	gatewayMetrics.mu.RLock()

	uptime := time.Since(gatewayMetrics.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&gatewayMetrics.totalRequests)
	successReqs := atomic.LoadInt64(&gatewayMetrics.successRequests)
	failedReqs := atomic.LoadInt64(&gatewayMetrics.failedRequests)
	rejectedReqs := atomic.LoadInt64(&gatewayMetrics.rejectedReqs)

	rps := float64(0)
	if uptime > 0 {
		rps = float64(totalReqs) / uptime
	}

	overallP50 := calculateP50(gatewayMetrics.lastLatencies)
	overallP95 := calculateP95(gatewayMetrics.lastLatencies)
	overallP99 := calculateP99(gatewayMetrics.lastLatencies)
	avgLatency := calculateAverage(gatewayMetrics.lastLatencies)

	authP95 := calculateP95(gatewayMetrics.authTimings)
	authAvg := calculateAverage(gatewayMetrics.authTimings)
	forwardP95 := calculateP95(gatewayMetrics.forwardTimings)
	forwardAvg := calculateAverage(gatewayMetrics.forwardTimings)

	errorRate := calculateErrorRate(gatewayMetrics.errorTimestamps)

	successRate := float64(100.0)
	if totalReqs > 0 {
		successRate = float64(successReqs) * 100.0 / float64(totalReqs)
	}

	gatewayMetrics.mu.RUnlock()

	toolMetrics := gatewayMetrics.getToolMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"gateway_metrics": map[string]interface{}{
			"uptime_seconds":     uptime,
			"total_requests":     totalReqs,
			"success_requests":   successReqs,
			"failed_requests":    failedReqs,
			"rejected_requests":  rejectedReqs,
			"success_rate":       successRate,
			"rps":                rps,
			"error_rate_per_sec": errorRate,

			"p50_ms":         overallP50,
			"p95_ms":         overallP95,
			"p99_ms":         overallP99,
			"avg_latency_ms": avgLatency,

			"auth_p95_ms":    authP95,
			"auth_avg_ms":    authAvg,
			"forward_p95_ms": forwardP95,
			"forward_avg_ms": forwardAvg,
		},
		"tools":     toolMetrics,
		"timestamp": time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding metrics response: %v", err)
	}
}

// calculatePercentile calculates any percentile from latencies
func calculatePercentile(latencies []int64, percentile float64) float64 {
	if len(latencies) == 0 {
		return 0
	}

	// Make a copy to avoid modifying original
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)

	// Simple sort (use sort package for larger arrays in future)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	idx := int(float64(len(sorted)) * percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return float64(sorted[idx])
}

func calculateP50(latencies []int64) float64 {
	return calculatePercentile(latencies, 0.50)
}

func calculateP95(latencies []int64) float64 {
	return calculatePercentile(latencies, 0.95)
}

func calculateP99(latencies []int64) float64 {
	return calculatePercentile(latencies, 0.99)
}

func calculateAverage(latencies []int64) float64 {
	if len(latencies) == 0 {
		return 0
	}

	var sum int64
	for _, lat := range latencies {
		sum += lat
	}

	return float64(sum) / float64(len(latencies))
}

// calculateErrorRate returns errors per second over the last 60 seconds
func calculateErrorRate(errorTimestamps []time.Time) float64 {
	if len(errorTimestamps) == 0 {
		return 0
	}

	cutoff := time.Now().Add(-60 * time.Second)
	count := 0
	for _, ts := range errorTimestamps {
		if ts.After(cutoff) {
			count++
		}
	}

	return float64(count) / 60.0
}
