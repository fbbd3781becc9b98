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
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshflow/platform/warehouse"
)

// Cold-chain temperature thresholds in Celsius.
const (
	coldChainWarningCelsius  = 8.0
	coldChainCriticalCelsius = 15.0
)

// trackShipment returns the shipment row plus the last cold-chain
// readings when the shipment requires cold chain. A reading-query
// failure degrades to a warning with the shipment data intact.
func (s *Service) trackShipment(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "shipment_id"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	shipmentID := stringArg(args, "shipment_id")

	shipmentResult, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT shipment_id, order_id, origin_location_id, destination_location_id,
				departure_timestamp, arrival_timestamp_estimate, arrival_timestamp_actual,
				carrier_name, vehicle_id, status, total_quantity_kg, requires_cold_chain
			FROM shipments
			WHERE shipment_id = $1
			LIMIT 1`,
		Args: []interface{}{shipmentID},
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to retrieve shipment details.",
			"details": err.Error(),
		}
	}

	if len(shipmentResult.Rows) == 0 {
		return http.StatusOK, map[string]interface{}{
			"status":  "not_found",
			"message": fmt.Sprintf("Shipment ID %s not found.", shipmentID),
		}
	}

	shipment := shipmentResult.Rows[0]
	readings := []map[string]interface{}{}
	var readingErr error

	if requiresColdChain(shipment["requires_cold_chain"]) {
		readingResult, err := s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT reading_timestamp, temperature_celsius, location, sensor_id
				FROM cold_chain_readings
				WHERE shipment_id = $1
				ORDER BY reading_timestamp DESC
				LIMIT 10`,
			Args: []interface{}{shipmentID},
		})
		if err != nil {
			readingErr = err
			log.Printf("⚠️  Failed to retrieve cold chain readings for %s: %v", shipmentID, err)
		} else {
			readings = rowsOrEmpty(readingResult)
		}
	}

	if readingErr != nil {
		return http.StatusOK, map[string]interface{}{
			"status":                     "warning",
			"message":                    "Data retrieval issues encountered.",
			"details":                    fmt.Sprintf("Cold chain query failed: %v", readingErr),
			"shipment_details":           shipment,
			"recent_cold_chain_readings": readings,
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":                     "success",
		"shipment_details":           shipment,
		"recent_cold_chain_readings": readings,
	}
}

// reportColdChainReading stores a temperature reading for a shipment
// and dispatches an alert when the temperature breaches a threshold.
func (s *Service) reportColdChainReading(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "shipment_id", "temperature_celsius", "timestamp"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	temperature, err := floatArg(args, "temperature_celsius")
	if err != nil {
		return http.StatusBadRequest, errorResponse("Invalid format for temperature_celsius. Expected number.")
	}

	rawTimestamp := stringArg(args, "timestamp")
	parsedTime, err := time.Parse(time.RFC3339, rawTimestamp)
	if err != nil {
		// Sensors sometimes omit the zone; treat those readings as UTC
		parsedTime, err = time.Parse("2006-01-02T15:04:05", rawTimestamp)
		if err != nil {
			return http.StatusBadRequest, errorResponse("Invalid timestamp format. Expected ISO 8601 format.")
		}
		parsedTime = parsedTime.UTC()
	}

	shipmentID := stringArg(args, "shipment_id")
	readingID := uuid.New().String()

	_, err = s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO cold_chain_readings
			(reading_id, shipment_id, vehicle_id, reading_timestamp, temperature_celsius, location, sensor_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		Args: []interface{}{
			readingID,
			shipmentID,
			nullable(stringArg(args, "vehicle_id")),
			parsedTime,
			temperature,
			nullable(stringArg(args, "location")),
			stringArgDefault(args, "sensor_id", "Unknown"),
		},
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to report cold chain reading.",
			"details": err.Error(),
		}
	}

	message := "Cold chain reading reported successfully."
	if temperature > coldChainWarningCelsius {
		message += " Warning: Temperature is elevated."
	}
	if temperature > coldChainCriticalCelsius {
		message = "Critical: High temperature excursion reported."
	}

	if s.alerts != nil && temperature > coldChainWarningCelsius {
		s.alerts.Dispatch(ColdChainAlert{
			ShipmentID:  shipmentID,
			ReadingID:   readingID,
			Temperature: temperature,
			Severity:    severityForTemperature(temperature),
			Message:     message,
		})
	}

	return http.StatusOK, map[string]interface{}{
		"status":     "success",
		"reading_id": readingID,
		"message":    message,
	}
}

// checkWarehouseStock lists stock at a location ordered by freshness.
func (s *Service) checkWarehouseStock(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "location_id"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	locationID := stringArg(args, "location_id")

	qb := newWhereBuilder()
	qb.add("location_id = %s", locationID)
	qb.add("status = %s", stringArgDefault(args, "status", "Available"))
	if productID := stringArg(args, "product_id"); productID != "" {
		qb.add("product_id = %s", productID)
	}
	if nearingExpiry, _ := args["nearing_expiry"].(bool); nearingExpiry {
		qb.addClause("expiry_date BETWEEN CURRENT_DATE AND CURRENT_DATE + INTERVAL '7 days'")
	}

	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT stock_id, product_id, current_quantity_kg,
				entry_date, best_before_date, expiry_date,
				storage_conditions, status
			FROM inventory_stock %s
			ORDER BY expiry_date ASC, best_before_date ASC
			LIMIT 20`, qb.whereSQL()),
		Args: qb.args,
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to retrieve warehouse stock.",
			"details": err.Error(),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":      "success",
		"location_id": locationID,
		"stock_items": rowsOrEmpty(result),
	}
}

// requestFarmPickup is the logistics intake for pickup requests coming
// from the farm tools. The caller may be async, so validation failures
// are acknowledged with an error status rather than a 4xx.
func (s *Service) requestFarmPickup(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "farm_id", "product_id", "quantity_kg", "requested_date"); len(missing) > 0 {
		log.Printf("❌ Logistics Pickup Request Error: Missing required fields in body: %s", strings.Join(missing, ", "))
		return http.StatusOK, map[string]interface{}{
			"status":  "error",
			"message": fmt.Sprintf("Logistics Pickup Request Error: Missing required fields: %s", strings.Join(missing, ", ")),
		}
	}

	farmID := stringArg(args, "farm_id")
	productID := stringArg(args, "product_id")
	quantityKg, err := intArg(args, "quantity_kg")
	if err != nil {
		return http.StatusOK, errorResponse("Logistics Pickup Request Error: Invalid quantity_kg.")
	}
	requestedDate, err := dateArg(args, "requested_date")
	if err != nil {
		return http.StatusOK, errorResponse("Logistics Pickup Request Error: Invalid requested_date.")
	}

	log.Printf("📨 Logistics received pickup request: Farm ID %s, Product ID %s, Quantity %d kg, Requested Date %s",
		farmID, productID, quantityKg, requestedDate)

	shipmentID := uuid.New().String()
	if _, err := s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO shipments
			(shipment_id, origin_location_id, status, total_quantity_kg, requires_cold_chain)
			VALUES ($1, $2, $3, $4, $5)`,
		Args: []interface{}{shipmentID, farmID, "Preparing", quantityKg, true},
	}); err != nil {
		log.Printf("⚠️  Failed to create shipment for pickup request (farm %s): %v", farmID, err)
		return http.StatusOK, map[string]interface{}{
			"status":  "error",
			"message": fmt.Sprintf("Error processing logistics pickup request: %v", err),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":      "acknowledged",
		"shipment_id": shipmentID,
		"message":     "Pickup request received by Logistics.",
	}
}

// requiresColdChain reads the flag from a warehouse row, tolerating the
// representations different drivers produce.
func requiresColdChain(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true") || b == "t" || b == "1"
	case int64:
		return b != 0
	default:
		return false
	}
}
