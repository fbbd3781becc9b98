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
	"log"
	"net/http"
	"strings"
	"time"

	"freshflow/platform/warehouse"
)

// lookupCacheTTL bounds staleness of cached lookup results. Reference
// data changes rarely, so a short TTL keeps the agent responsive
// without serving stale catalogs for long.
const lookupCacheTTL = 60 * time.Second

// lookupProduct matches catalog products by name substring. An empty
// query returns the first page of the catalog so the agent can browse.
func (s *Service) lookupProduct(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	query := stringArg(args, "product_name")

	return s.cachedLookup(ctx, "product", query, func() (*warehouse.QueryResult, error) {
		if query == "" {
			return s.store.Query(ctx, &warehouse.Query{
				Statement: `SELECT product_id, product_name, category, storage_requirements
					FROM products LIMIT 100`,
			})
		}
		return s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT product_id, product_name, category, storage_requirements
				FROM products
				WHERE LOWER(product_name) LIKE LOWER($1)
				LIMIT 100`,
			Args: []interface{}{"%" + query + "%"},
		})
	})
}

// lookupCustomer matches customers by name substring.
func (s *Service) lookupCustomer(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	query := stringArg(args, "customer_name_query")

	return s.cachedLookup(ctx, "customer", query, func() (*warehouse.QueryResult, error) {
		if query == "" {
			return s.store.Query(ctx, &warehouse.Query{
				Statement: `SELECT customer_id, customer_name, customer_type, shipping_address
					FROM customers LIMIT 100`,
			})
		}
		return s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT customer_id, customer_name, customer_type, shipping_address
				FROM customers
				WHERE LOWER(customer_name) LIKE LOWER($1)
				LIMIT 100`,
			Args: []interface{}{"%" + query + "%"},
		})
	})
}

// lookupFarm matches farms by name or location substring.
func (s *Service) lookupFarm(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	query := stringArg(args, "farm_name")

	return s.cachedLookup(ctx, "farm", query, func() (*warehouse.QueryResult, error) {
		if query == "" {
			return s.store.Query(ctx, &warehouse.Query{
				Statement: `SELECT farm_id, farm_name, farm_location, supplier_name
					FROM farms LIMIT 100`,
			})
		}
		return s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT farm_id, farm_name, farm_location, supplier_name
				FROM farms
				WHERE LOWER(farm_name) LIKE LOWER($1) OR LOWER(farm_location) LIKE LOWER($1)
				LIMIT 100`,
			Args: []interface{}{"%" + query + "%"},
		})
	})
}

// lookupVehicle resolves a vehicle by exact license number. Unlike the
// other lookups a miss is a 404, since the agent asks for a specific
// vehicle rather than browsing.
func (s *Service) lookupVehicle(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	licenseNo := stringArg(args, "vehicle_license_no")
	if licenseNo == "" {
		return http.StatusBadRequest, map[string]interface{}{
			"error": "Missing or empty vehicle_license_no in request body",
		}
	}

	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT vehicle_id, carrier_name, vehicle_type, capacity_kg,
				has_temperature_monitoring, vehicle_license_no
			FROM vehicles
			WHERE vehicle_license_no = $1
			LIMIT 1`,
		Args: []interface{}{licenseNo},
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"error":   "Internal server error during vehicle lookup",
			"details": err.Error(),
		}
	}

	matches := rowsOrEmpty(result)
	if len(matches) == 0 {
		return http.StatusNotFound, map[string]interface{}{
			"error":   fmt.Sprintf("Vehicle with license '%s' not found", licenseNo),
			"matches": matches,
		}
	}

	return http.StatusOK, map[string]interface{}{"matches": matches}
}

// cachedLookup serves a lookup from Redis when possible, falling
// through to the warehouse and caching the result. Cache errors fail
// open so a Redis outage never breaks lookups.
func (s *Service) cachedLookup(ctx context.Context, entity, query string, fetch func() (*warehouse.QueryResult, error)) (int, map[string]interface{}) {
	cacheKey := fmt.Sprintf("lookup:%s:%s", entity, strings.ToLower(query))

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var matches []map[string]interface{}
			if jsonErr := json.Unmarshal([]byte(cached), &matches); jsonErr == nil {
				return http.StatusOK, map[string]interface{}{"matches": matches}
			}
		}
	}

	result, err := fetch()
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"error":   fmt.Sprintf("Internal server error during %s lookup", entity),
			"details": err.Error(),
		}
	}

	matches := rowsOrEmpty(result)

	if s.cache != nil {
		if data, jsonErr := json.Marshal(matches); jsonErr == nil {
			if err := s.cache.Set(ctx, cacheKey, data, lookupCacheTTL).Err(); err != nil {
				log.Printf("⚠️  Failed to cache %s lookup: %v", entity, err)
			}
		}
	}

	return http.StatusOK, map[string]interface{}{"matches": matches}
}
