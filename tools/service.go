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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"freshflow/platform/media"
	"freshflow/platform/shared/logger"
	"freshflow/platform/warehouse"
)

// Prometheus metrics
var (
	promToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshflow_toolsvc_calls_total",
			Help: "Total tool calls processed by the tool service",
		},
		[]string{"tool", "status"},
	)

	promToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freshflow_toolsvc_call_duration_milliseconds",
			Help:    "Tool call duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(promToolCallsTotal)
	prometheus.MustRegister(promToolCallDuration)
}

// toolHandler is the signature every tool endpoint implements. It returns
// the HTTP status code and the response body.
type toolHandler func(ctx context.Context, args map[string]interface{}) (int, map[string]interface{})

// Service hosts every tool endpoint and owns their shared dependencies.
type Service struct {
	store  warehouse.Store
	cache  *redis.Client
	media  *media.Store
	routes *RoutePlanner
	alerts *AlertDispatcher
	log    *logger.Logger
}

// NewService wires the tool endpoints to their backing stores. cache,
// mediaStore, routes, and alerts may be nil; the affected tools degrade
// rather than fail at startup.
func NewService(store warehouse.Store, cache *redis.Client, mediaStore *media.Store, routes *RoutePlanner, alerts *AlertDispatcher) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		media:  mediaStore,
		routes: routes,
		alerts: alerts,
		log:    logger.New("toolsvc"),
	}
}

// handlers maps tool names to their implementations.
func (s *Service) handlers() map[string]toolHandler {
	return map[string]toolHandler{
		// Farm operations
		"log_harvest":               s.logHarvest,
		"get_harvest_advice":        s.getHarvestAdvice,
		"report_farm_quality_issue": s.reportFarmQualityIssue,
		"schedule_farm_pickup":      s.scheduleFarmPickup,

		// Market data
		"get_demand_forecast":        s.getDemandForecast,
		"get_market_prices":          s.getMarketPrices,
		"check_product_availability": s.checkProductAvailability,
		"place_purchase_order":       s.placePurchaseOrder,

		// Logistics
		"track_shipment":            s.trackShipment,
		"report_cold_chain_reading": s.reportColdChainReading,
		"check_warehouse_stock":     s.checkWarehouseStock,
		"optimize_delivery_route":   s.optimizeDeliveryRoute,
		"request_farm_pickup":       s.requestFarmPickup,

		// Lookups
		"lookup_product":  s.lookupProduct,
		"lookup_customer": s.lookupCustomer,
		"lookup_farm":     s.lookupFarm,
		"lookup_vehicle":  s.lookupVehicle,
	}
}

// toolCallPayload is the envelope the gateway forwards for each call.
type toolCallPayload struct {
	Args      map[string]interface{} `json:"args"`
	ClientID  string                 `json:"client_id"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id"`
	RequestID string                 `json:"request_id"`
}

// ToolHandler serves POST /api/v1/tools/{tool}.
func (s *Service) ToolHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tool := mux.Vars(r)["tool"]

	var payload toolCallPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "Invalid JSON body received.",
		})
		return
	}
	if payload.Args == nil {
		payload.Args = map[string]interface{}{}
	}

	handler, ok := s.handlers()[tool]
	if !ok {
		s.log.Warn(payload.ClientID, payload.RequestID, "Unknown tool requested", map[string]interface{}{
			"tool": tool,
		})
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status":  "error",
			"message": fmt.Sprintf("Tool %s not found.", tool),
		})
		return
	}

	statusCode, body := handler(r.Context(), payload.Args)

	durationMS := float64(time.Since(start).Milliseconds())
	outcome := "success"
	if statusCode >= 400 {
		outcome = "error"
	}
	promToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	promToolCallDuration.WithLabelValues(tool).Observe(durationMS)

	s.log.InfoWithDuration(payload.ClientID, payload.RequestID, "Tool call completed", durationMS, map[string]interface{}{
		"tool":        tool,
		"tenant_id":   payload.TenantID,
		"status_code": statusCode,
	})

	writeJSON(w, statusCode, body)
}

func writeJSON(w http.ResponseWriter, statusCode int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// errorResponse builds the standard error body used by every tool.
func errorResponse(message string) map[string]interface{} {
	return map[string]interface{}{"status": "error", "message": message}
}

// missingFieldsResponse reports which required fields the caller omitted.
func missingFieldsResponse(missing []string) map[string]interface{} {
	return errorResponse(fmt.Sprintf("Missing required fields in body: %s", strings.Join(missing, ", ")))
}

// missingFields returns the names of required args that are absent or empty.
func missingFields(args map[string]interface{}, required ...string) []string {
	var missing []string
	for _, field := range required {
		v, ok := args[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// stringArg returns the arg as a string when present and non-empty.
func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}

// stringArgDefault returns the arg or fallback when absent/empty.
func stringArgDefault(args map[string]interface{}, key, fallback string) string {
	if s := stringArg(args, key); s != "" {
		return s
	}
	return fallback
}

// intArg coerces the arg to an int. JSON numbers arrive as float64;
// string digits are accepted too since the dialogue agent is loose
// with types.
func intArg(args map[string]interface{}, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("field %s not present", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q for %s", n, key)
		}
		return parsed, nil
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q for %s", n, key)
		}
		return int(parsed), nil
	default:
		return 0, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

// floatArg coerces the arg to a float64.
func floatArg(args map[string]interface{}, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("field %s not present", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q for %s", n, key)
		}
		return parsed, nil
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q for %s", n, key)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

// dateArg validates a YYYY-MM-DD arg and returns it normalized.
func dateArg(args map[string]interface{}, key string) (string, error) {
	raw := stringArg(args, key)
	if raw == "" {
		return "", fmt.Errorf("field %s not present", key)
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return "", fmt.Errorf("invalid date %q for %s", raw, key)
	}
	return parsed.Format("2006-01-02"), nil
}

// stringListArg coerces the arg to a list of non-empty strings.
func stringListArg(args map[string]interface{}, key string) []string {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	raw, isList := v.([]interface{})
	if !isList {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, isStr := item.(string); isStr && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// firstRowInt64 reads a numeric aggregate from the first row, treating
// NULL (missing key or nil) as zero.
func firstRowInt64(result *warehouse.QueryResult, column string) int64 {
	if result == nil || len(result.Rows) == 0 {
		return 0
	}
	return coerceInt64(result.Rows[0][column])
}

// coerceInt64 normalizes the numeric types the sql driver may hand back.
func coerceInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return parsed
	default:
		return 0
	}
}

// coerceFloat64 normalizes numeric values, including NUMERIC columns the
// driver returns as strings.
func coerceFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// rowsOrEmpty never returns nil so handlers can serialize [] instead of null.
func rowsOrEmpty(result *warehouse.QueryResult) []map[string]interface{} {
	if result == nil || result.Rows == nil {
		return []map[string]interface{}{}
	}
	return result.Rows
}
