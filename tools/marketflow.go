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
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshflow/platform/warehouse"
)

// defaultPricePerKg is used when neither a market price nor a catalog
// base price exists for an ordered product.
const defaultPricePerKg = 2.50

// getDemandForecast returns the latest forecasts for a product over a
// target window, optionally narrowed to a region.
func (s *Service) getDemandForecast(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "product_id", "target_date_start", "target_date_end"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	qb := newWhereBuilder()
	qb.add("product_id = %s", stringArg(args, "product_id"))
	qb.add("target_date_start = %s", stringArg(args, "target_date_start"))
	qb.add("target_date_end = %s", stringArg(args, "target_date_end"))
	if region := stringArg(args, "region"); region != "" {
		qb.add("region = %s", region)
	}

	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT forecast_id, region, forecast_date,
				target_date_start, target_date_end,
				forecasted_demand_kg, confidence_level
			FROM demand_forecasts %s
			ORDER BY forecast_date DESC
			LIMIT 5`, qb.whereSQL()),
		Args: qb.args,
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to retrieve demand forecasts.",
			"details": err.Error(),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":    "success",
		"forecasts": rowsOrEmpty(result),
	}
}

// getMarketPrices returns the market price for a product on an exact
// date (default today). Zero rows is still success, with a message the
// agent can relay.
func (s *Service) getMarketPrices(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "product_id"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	productID := stringArg(args, "product_id")
	region := stringArg(args, "region")
	marketDate := stringArgDefault(args, "date", time.Now().Format("2006-01-02"))

	qb := newWhereBuilder()
	qb.add("product_id = %s", productID)
	qb.add("market_date = %s", marketDate)
	if region != "" {
		qb.add("region = %s", region)
	}

	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT price_record_id, region, market_date,
				average_market_price_per_kg, source
			FROM market_prices %s
			LIMIT 1`, qb.whereSQL()),
		Args: qb.args,
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to retrieve market prices.",
			"details": err.Error(),
		}
	}

	prices := rowsOrEmpty(result)
	if len(prices) == 0 {
		regionSuffix := ""
		if region != "" {
			regionSuffix = fmt.Sprintf(" in %s", region)
		}
		return http.StatusOK, map[string]interface{}{
			"status":  "success",
			"prices":  prices,
			"message": fmt.Sprintf("No market price found for %s on %s%s.", productID, marketDate, regionSuffix),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status": "success",
		"prices": prices,
	}
}

// checkProductAvailability combines on-hand stock, incoming in-transit
// shipments, and upcoming harvest estimates for a product.
func (s *Service) checkProductAvailability(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "product_id"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	productID := stringArg(args, "product_id")
	locationID := stringArg(args, "location_id")

	stockQB := newWhereBuilder()
	stockQB.add("product_id = %s", productID)
	stockQB.addClause("status = 'Available'")
	if locationID != "" {
		// Location filter applies to stock only; shipments and schedules
		// describe network-wide supply.
		stockQB.add("location_id = %s", locationID)
	}

	stockResult, errStock := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT SUM(current_quantity_kg) AS total_on_hand,
				COUNT(DISTINCT location_id) AS num_locations
			FROM inventory_stock %s`, stockQB.whereSQL()),
		Args: stockQB.args,
	})

	shipmentResult, errShipment := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT SUM(oi.ordered_quantity_kg) AS total_incoming_shipments
			FROM shipments sh
			JOIN order_items oi ON sh.order_id = oi.order_id
			WHERE oi.product_id = $1
			  AND sh.status = 'In Transit'
			  AND sh.arrival_timestamp_estimate >= NOW()`,
		Args: []interface{}{productID},
	})

	scheduleResult, errSchedule := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT SUM(expected_yield_estimate_kg) AS total_upcoming_harvest
			FROM harvest_schedules
			WHERE product_id = $1
			  AND planned_harvest_date_estimate >= CURRENT_DATE
			  AND status IN ('Planned', 'Planted', 'Growing', 'Harvesting')`,
		Args: []interface{}{productID},
	})

	if errStock != nil || errShipment != nil || errSchedule != nil {
		var details []string
		if errStock != nil {
			details = append(details, fmt.Sprintf("Stock query failed: %v", errStock))
		}
		if errShipment != nil {
			details = append(details, fmt.Sprintf("Shipment query failed: %v", errShipment))
		}
		if errSchedule != nil {
			details = append(details, fmt.Sprintf("Schedule query failed: %v", errSchedule))
		}
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to retrieve availability data.",
			"details": strings.Join(details, " | "),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":                      "success",
		"product_id":                  productID,
		"location_id":                 locationID,
		"total_on_hand_kg":            firstRowInt64(stockResult, "total_on_hand"),
		"num_stock_locations":         firstRowInt64(stockResult, "num_locations"),
		"total_incoming_shipments_kg": firstRowInt64(shipmentResult, "total_incoming_shipments"),
		"total_upcoming_harvest_kg":   firstRowInt64(scheduleResult, "total_upcoming_harvest"),
	}
}

// orderLine is one priced item of a purchase order.
type orderLine struct {
	orderItemID string
	productID   string
	quantityKg  int
	pricePerKg  float64
	lineTotal   float64
}

// placePurchaseOrder creates an order with one line per item. Prices
// come from the latest market price, then the catalog base price, then
// a default.
func (s *Service) placePurchaseOrder(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "customer_id", "items"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	rawItems, ok := args["items"].([]interface{})
	if !ok || len(rawItems) == 0 {
		return http.StatusBadRequest, errorResponse("Field 'items' must be a non-empty list.")
	}

	customerID := stringArg(args, "customer_id")
	orderID := uuid.New().String()
	orderDate := time.Now().Format("2006-01-02")

	var lines []orderLine
	totalAmount := 0.0

	for _, raw := range rawItems {
		item, isMap := raw.(map[string]interface{})
		if !isMap {
			return http.StatusBadRequest, errorResponse("Each item in 'items' must have 'product_id' and 'quantity_kg'.")
		}
		productID := stringArg(item, "product_id")
		if productID == "" {
			return http.StatusBadRequest, errorResponse("Each item in 'items' must have 'product_id' and 'quantity_kg'.")
		}
		quantityKg, err := intArg(item, "quantity_kg")
		if err != nil {
			return http.StatusBadRequest, errorResponse(
				fmt.Sprintf("Invalid quantity_kg format for product %s. Expected integer.", productID))
		}
		if quantityKg <= 0 {
			return http.StatusBadRequest, errorResponse(
				fmt.Sprintf("Invalid quantity for product %s. Must be positive integer.", productID))
		}

		pricePerKg := s.resolvePricePerKg(ctx, productID)
		lineTotal := math.Round(float64(quantityKg)*pricePerKg*100) / 100
		totalAmount += lineTotal

		lines = append(lines, orderLine{
			orderItemID: uuid.New().String(),
			productID:   productID,
			quantityKg:  quantityKg,
			pricePerKg:  pricePerKg,
			lineTotal:   lineTotal,
		})
	}
	totalAmount = math.Round(totalAmount*100) / 100

	// Delivery address: request wins, then the customer record, then a
	// placeholder the agent can query the user about.
	deliveryAddress := stringArg(args, "delivery_address")
	if deliveryAddress == "" {
		custResult, err := s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT shipping_address FROM customers WHERE customer_id = $1 LIMIT 1`,
			Args:      []interface{}{customerID},
		})
		if err != nil {
			log.Printf("⚠️  Could not fetch customer shipping address for %s: %v", customerID, err)
		} else if len(custResult.Rows) > 0 {
			if addr, isStr := custResult.Rows[0]["shipping_address"].(string); isStr {
				deliveryAddress = addr
			}
		}
	}
	if deliveryAddress == "" {
		deliveryAddress = "Unknown Address"
	}

	_, errOrder := s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO orders
			(order_id, customer_id, order_date, delivery_date_requested, delivery_address, status, total_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		Args: []interface{}{
			orderID, customerID, orderDate,
			stringArgDefault(args, "delivery_date_requested", orderDate),
			deliveryAddress,
			stringArgDefault(args, "status", "Pending"),
			totalAmount,
		},
	})

	var errItems error
	if errOrder == nil {
		for _, line := range lines {
			if _, err := s.store.Execute(ctx, &warehouse.Command{
				Statement: `INSERT INTO order_items
					(order_item_id, order_id, product_id, ordered_quantity_kg, price_per_kg_at_order, line_item_total)
					VALUES ($1, $2, $3, $4, $5, $6)`,
				Args: []interface{}{
					line.orderItemID, orderID, line.productID,
					line.quantityKg, line.pricePerKg, line.lineTotal,
				},
			}); err != nil {
				errItems = err
				break
			}
		}
	}

	if errOrder != nil || errItems != nil {
		var details []string
		if errOrder != nil {
			details = append(details, fmt.Sprintf("Order insert failed: %v", errOrder))
		}
		if errItems != nil {
			details = append(details, fmt.Sprintf("Order items insert failed: %v", errItems))
		}
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to place purchase order.",
			"details": strings.Join(details, " | "),
		}
	}

	return http.StatusOK, map[string]interface{}{
		"status":       "success",
		"order_id":     orderID,
		"message":      "Purchase order placed successfully.",
		"total_amount": totalAmount,
	}
}

// resolvePricePerKg finds the most recent market price for the product,
// falling back to the catalog base price, then the platform default.
func (s *Service) resolvePricePerKg(ctx context.Context, productID string) float64 {
	priceResult, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT average_market_price_per_kg FROM market_prices
			WHERE product_id = $1 ORDER BY market_date DESC LIMIT 1`,
		Args: []interface{}{productID},
	})
	if err == nil && len(priceResult.Rows) > 0 {
		if price := coerceFloat64(priceResult.Rows[0]["average_market_price_per_kg"]); price > 0 {
			return price
		}
	}

	catalogResult, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT base_price_per_kg FROM products WHERE product_id = $1 LIMIT 1`,
		Args:      []interface{}{productID},
	})
	if err == nil && len(catalogResult.Rows) > 0 {
		if price := coerceFloat64(catalogResult.Rows[0]["base_price_per_kg"]); price > 0 {
			return price
		}
	}

	return defaultPricePerKg
}
