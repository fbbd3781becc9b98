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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"freshflow/platform/warehouse"
)

// Default external endpoints; overridable for tests and emulators.
const (
	defaultRoutesEndpoint  = "https://routes.googleapis.com/directions/v2:computeRoutes"
	defaultGeocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"
)

// embeddedCoordsRE matches the "Lat: .., Lon: .." strings synthetic
// location data carries, so those rows skip the geocoding call.
var embeddedCoordsRE = regexp.MustCompile(`Lat:\s*(-?[0-9.]+)\s*,\s*Lon:\s*(-?[0-9.]+)`)

// RoutePlanner calls the external routing and geocoding APIs.
type RoutePlanner struct {
	apiKey          string
	routesEndpoint  string
	geocodeEndpoint string
	httpClient      *http.Client
}

// NewRoutePlanner builds a planner for the given API key. Empty
// endpoints fall back to the production API URLs.
func NewRoutePlanner(apiKey, routesEndpoint, geocodeEndpoint string, timeout time.Duration) *RoutePlanner {
	if routesEndpoint == "" {
		routesEndpoint = defaultRoutesEndpoint
	}
	if geocodeEndpoint == "" {
		geocodeEndpoint = defaultGeocodeEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RoutePlanner{
		apiKey:          apiKey,
		routesEndpoint:  routesEndpoint,
		geocodeEndpoint: geocodeEndpoint,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type waypoint struct {
	Location struct {
		LatLng latLng `json:"latLng"`
	} `json:"location"`
}

func newWaypoint(coords latLng) waypoint {
	var w waypoint
	w.Location.LatLng = coords
	return w
}

type computeRoutesRequest struct {
	Origin                   waypoint   `json:"origin"`
	Destination              waypoint   `json:"destination"`
	Intermediates            []waypoint `json:"intermediates,omitempty"`
	TravelMode               string     `json:"travelMode"`
	RoutingPreference        string     `json:"routingPreference"`
	ComputeAlternativeRoutes bool       `json:"computeAlternativeRoutes"`
	RouteModifiers           struct {
		AvoidTolls    bool `json:"avoidTolls"`
		AvoidHighways bool `json:"avoidHighways"`
	} `json:"routeModifiers"`
}

type routeLeg struct {
	Duration       string `json:"duration"`
	DistanceMeters int64  `json:"distanceMeters"`
}

type computedRoute struct {
	Duration       string     `json:"duration"`
	DistanceMeters int64      `json:"distanceMeters"`
	Legs           []routeLeg `json:"legs"`
}

type computeRoutesResponse struct {
	Routes []computedRoute `json:"routes"`
}

// Geocode resolves a free-form address to coordinates. A nil result
// with nil error means the address produced zero matches.
func (p *RoutePlanner) Geocode(ctx context.Context, address string) (*latLng, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("routing API key not configured")
	}
	if address == "" {
		return nil, fmt.Errorf("empty address")
	}

	endpoint := fmt.Sprintf("%s?address=%s&key=%s",
		p.geocodeEndpoint, url.QueryEscape(address), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}

	switch {
	case body.Status == "OK" && len(body.Results) > 0:
		loc := body.Results[0].Geometry.Location
		return &latLng{Latitude: loc.Lat, Longitude: loc.Lng}, nil
	case body.Status == "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, fmt.Errorf("geocoding API status %s: %s", body.Status, body.ErrorMessage)
	}
}

// ComputeRoutes requests a traffic-aware driving route through every
// destination in order; destinations before the last become
// intermediate waypoints.
func (p *RoutePlanner) ComputeRoutes(ctx context.Context, origin latLng, destinations []latLng) (*computeRoutesResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("routing API key not configured")
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("no destinations provided")
	}

	payload := computeRoutesRequest{
		Origin:            newWaypoint(origin),
		Destination:       newWaypoint(destinations[len(destinations)-1]),
		TravelMode:        "DRIVE",
		RoutingPreference: "TRAFFIC_AWARE_OPTIMAL",
	}
	for _, dest := range destinations[:len(destinations)-1] {
		payload.Intermediates = append(payload.Intermediates, newWaypoint(dest))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.routesEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", "routes.duration,routes.distanceMeters,routes.legs.duration,routes.legs.distanceMeters")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routes API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routes API returned HTTP %d", resp.StatusCode)
	}

	var body computeRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode routes response: %w", err)
	}
	return &body, nil
}

// parseAPIDuration converts the Routes API duration form ("3600s",
// "123.5s") to a time.Duration.
func parseAPIDuration(raw string) time.Duration {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "s")
	if trimmed == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// parseEmbeddedCoords extracts "Lat: .., Lon: .." coordinates from a
// location string when present.
func parseEmbeddedCoords(location string) *latLng {
	m := embeddedCoordsRE.FindStringSubmatch(location)
	if m == nil {
		return nil
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lon, errLon := strconv.ParseFloat(m[2], 64)
	if errLat != nil || errLon != nil {
		return nil
	}
	return &latLng{Latitude: lat, Longitude: lon}
}

// destinationDetail is a geocoded order delivery stop.
type destinationDetail struct {
	OrderID string
	Address string
	Coords  latLng
	TotalKg int64
}

// optimizeDeliveryRoute resolves the origin and each order's delivery
// address to coordinates, asks the routing API for a traffic-aware
// route, and converts the legs into numbered stops with cumulative
// arrival times.
func (s *Service) optimizeDeliveryRoute(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	originID := stringArg(args, "origin_location_id")
	orderIDs := stringListArg(args, "destination_order_ids")
	if originID == "" || args["destination_order_ids"] == nil {
		return http.StatusBadRequest, errorResponse("Missing required input parameters")
	}
	if len(orderIDs) == 0 {
		return http.StatusBadRequest, errorResponse("Field 'destination_order_ids' must be a non-empty list.")
	}
	if s.routes == nil {
		return http.StatusServiceUnavailable, errorResponse("Route planning is not configured.")
	}

	vehicleID := stringArg(args, "vehicle_id")
	routeDate := stringArg(args, "route_date")

	originCoords, err := s.resolveLocationCoordinates(ctx, originID)
	if err != nil {
		return http.StatusInternalServerError, errorResponse("Error retrieving necessary data")
	}
	if originCoords == nil {
		return http.StatusNotFound, map[string]interface{}{
			"status":  "not_found",
			"message": fmt.Sprintf("Origin location ID %s not found or coordinates unavailable.", originID),
		}
	}

	destinations, err := s.resolveOrderDestinations(ctx, orderIDs)
	if err != nil {
		return http.StatusInternalServerError, errorResponse("Error retrieving necessary data")
	}
	if len(destinations) == 0 {
		return http.StatusOK, map[string]interface{}{
			"status":  "unavailable",
			"message": "Could not find valid destinations or coordinates for provided order IDs.",
		}
	}

	var vehicleInfo map[string]interface{}
	if vehicleID != "" {
		vehicleResult, err := s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT vehicle_id, vehicle_type, capacity_kg, has_temperature_monitoring, carrier_name
				FROM vehicles WHERE vehicle_id = $1 LIMIT 1`,
			Args: []interface{}{vehicleID},
		})
		if err != nil || len(vehicleResult.Rows) == 0 {
			log.Printf("⚠️  Could not retrieve vehicle details for %s: %v", vehicleID, err)
		} else {
			vehicleInfo = vehicleResult.Rows[0]
		}
	}

	destCoords := make([]latLng, len(destinations))
	for i, dest := range destinations {
		destCoords[i] = dest.Coords
	}

	routesResult, err := s.routes.ComputeRoutes(ctx, *originCoords, destCoords)
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to compute route via routing service",
			"details": err.Error(),
		}
	}
	if len(routesResult.Routes) == 0 {
		return http.StatusOK, map[string]interface{}{
			"status":  "unavailable",
			"message": "Could not compute a route with the provided locations.",
		}
	}

	mainRoute := routesResult.Routes[0]

	// Departure buffer covers vehicle loading at the origin
	departure := time.Now().Add(time.Duration(5+rand.Intn(11)) * time.Minute)

	stops := []map[string]interface{}{{
		"stop_number":                                  0,
		"location_id":                                  originID,
		"location_type":                                "Origin",
		"estimated_arrival_time":                       departure.Format(time.RFC3339),
		"estimated_duration_from_previous_stop":        "0s",
		"estimated_distance_from_previous_stop_meters": 0,
	}}

	cumulative := time.Duration(0)
	for i, leg := range mainRoute.Legs {
		if i >= len(destinations) {
			break
		}
		cumulative += parseAPIDuration(leg.Duration)
		dest := destinations[i]
		stops = append(stops, map[string]interface{}{
			"stop_number":                                  i + 1,
			"destination_id":                               dest.OrderID,
			"destination_address":                          dest.Address,
			"estimated_arrival_time":                       departure.Add(cumulative).Format(time.RFC3339),
			"estimated_duration_from_previous_stop":        leg.Duration,
			"estimated_distance_from_previous_stop_meters": leg.DistanceMeters,
			"total_kg_for_stop":                            dest.TotalKg,
		})
	}

	response := map[string]interface{}{
		"status":                          "success",
		"vehicle_id":                      vehicleID,
		"num_stops_on_route":              len(mainRoute.Legs) + 1,
		"estimated_total_duration":        mainRoute.Duration,
		"estimated_total_distance_meters": mainRoute.DistanceMeters,
		"route_stops":                     stops,
		"route_date":                      routeDate,
	}
	if vehicleInfo != nil {
		response["vehicle_details"] = vehicleInfo
	}

	return http.StatusOK, response
}

// resolveLocationCoordinates finds a farm or warehouse location string
// and converts it to coordinates, preferring embedded "Lat/Lon" values
// over a geocoding round trip. Returns nil when the ID is unknown or
// the address cannot be resolved.
func (s *Service) resolveLocationCoordinates(ctx context.Context, locationID string) (*latLng, error) {
	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT farm_location AS location FROM farms WHERE farm_id = $1
			UNION ALL
			SELECT location_address AS location FROM warehouses WHERE warehouse_id = $2
			LIMIT 1`,
		Args: []interface{}{locationID, locationID},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}

	location, _ := result.Rows[0]["location"].(string)
	if coords := parseEmbeddedCoords(location); coords != nil {
		return coords, nil
	}

	coords, err := s.routes.Geocode(ctx, location)
	if err != nil {
		log.Printf("⚠️  Geocoding failed for location %s: %v", locationID, err)
		return nil, nil
	}
	return coords, nil
}

// resolveOrderDestinations loads each order's delivery address and
// quantity, then resolves coordinates. Orders whose address cannot be
// resolved are skipped.
func (s *Service) resolveOrderDestinations(ctx context.Context, orderIDs []string) ([]destinationDetail, error) {
	result, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT o.order_id, o.delivery_address,
				COALESCE(SUM(oi.ordered_quantity_kg), 0) AS total_kg
			FROM orders o
			LEFT JOIN order_items oi ON o.order_id = oi.order_id
			WHERE o.order_id = ANY($1)
			GROUP BY o.order_id, o.delivery_address`,
		Args: []interface{}{pq.Array(orderIDs)},
	})
	if err != nil {
		return nil, err
	}

	var destinations []destinationDetail
	for _, row := range result.Rows {
		orderID, _ := row["order_id"].(string)
		address, _ := row["delivery_address"].(string)

		coords := parseEmbeddedCoords(address)
		if coords == nil {
			geocoded, err := s.routes.Geocode(ctx, address)
			if err != nil || geocoded == nil {
				log.Printf("⚠️  Could not get coordinates for order %s from address %q. Skipping destination.", orderID, address)
				continue
			}
			coords = geocoded
		}

		destinations = append(destinations, destinationDetail{
			OrderID: orderID,
			Address: address,
			Coords:  *coords,
			TotalKg: coerceInt64(row["total_kg"]),
		})
	}
	return destinations, nil
}
