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
	"encoding/base64"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshflow/platform/warehouse"
)

// logHarvest records a completed harvest for a farm and product.
func (s *Service) logHarvest(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "farm_id", "product_id", "harvested_quantity_kg", "harvest_date"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	harvestDate, err := dateArg(args, "harvest_date")
	if err != nil {
		return http.StatusBadRequest, errorResponse("Invalid harvest_date format. Expected YYYY-MM-DD.")
	}

	quantityKg, err := intArg(args, "harvested_quantity_kg")
	if err != nil {
		return http.StatusBadRequest, errorResponse("Invalid format for harvested_quantity_kg. Expected integer.")
	}

	var estimatedYield interface{}
	if _, present := args["estimated_yield_kg"]; present && args["estimated_yield_kg"] != nil {
		yield, err := intArg(args, "estimated_yield_kg")
		if err != nil {
			return http.StatusBadRequest, errorResponse("Invalid format for estimated_yield_kg. Expected integer.")
		}
		estimatedYield = yield
	}

	var qualityScore interface{}
	if _, present := args["quality_score"]; present && args["quality_score"] != nil {
		score, err := floatArg(args, "quality_score")
		if err != nil {
			return http.StatusBadRequest, errorResponse("Invalid format for quality_score. Expected number.")
		}
		qualityScore = score
	}

	var plantingDate interface{}
	if stringArg(args, "planting_date") != "" {
		pd, err := dateArg(args, "planting_date")
		if err != nil {
			return http.StatusBadRequest, errorResponse("Invalid planting_date format. Expected YYYY-MM-DD.")
		}
		plantingDate = pd
	}

	harvestID := uuid.New().String()
	photosPath, failCode, failBody := s.resolvePhotoPath(ctx, args, harvestID, s.media.UploadHarvestPhoto)
	if failCode != 0 {
		return failCode, failBody
	}

	_, err = s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO harvests
			(harvest_id, farm_id, product_id, product_name, category,
			 harvest_date, harvested_quantity_kg, estimated_yield_kg,
			 quality_score, quality_notes, photos_gcs_path, planting_date, field_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		Args: []interface{}{
			harvestID,
			stringArg(args, "farm_id"),
			stringArg(args, "product_id"),
			nullable(stringArg(args, "product_name")),
			nullable(stringArg(args, "category")),
			harvestDate,
			quantityKg,
			estimatedYield,
			qualityScore,
			stringArg(args, "quality_notes"),
			nullable(photosPath),
			plantingDate,
			nullable(stringArg(args, "field_id")),
		},
	})
	if err != nil {
		log.Printf("❌ Failed to log harvest for farm %s: %v", stringArg(args, "farm_id"), err)
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to log harvest record.",
			"details": err.Error(),
		}
	}

	body := map[string]interface{}{
		"status":     "success",
		"harvest_id": harvestID,
		"message":    "Harvest record logged successfully.",
	}
	if photosPath != "" {
		body["photos_gcs_path"] = photosPath
	}
	return http.StatusOK, body
}

// getHarvestAdvice aggregates recent harvests, QC issues, upcoming
// schedules, and the farm profile into an advisory payload. Partial
// query failures degrade to a warning with whatever data succeeded.
func (s *Service) getHarvestAdvice(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	farmID := stringArg(args, "farm_id")
	productID := stringArg(args, "product_id")
	startDate := stringArg(args, "start_date")
	endDate := stringArg(args, "end_date")

	harvestQB := newWhereBuilder()
	qcQB := newWhereBuilder()
	scheduleQB := newWhereBuilder()
	scheduleQB.addClause("planned_harvest_date_estimate >= CURRENT_DATE")

	if farmID != "" {
		harvestQB.add("farm_id = %s", farmID)
		qcQB.add("farm_id = %s", farmID)
		scheduleQB.add("farm_id = %s", farmID)
	}
	if productID != "" {
		harvestQB.add("product_id = %s", productID)
		// QC issues without a product apply farm-wide
		qcQB.add("(product_id IS NULL OR product_id = %s)", productID)
		scheduleQB.add("product_id = %s", productID)
	}

	switch {
	case startDate != "" && endDate != "":
		harvestQB.add2("harvest_date BETWEEN %s AND %s", startDate, endDate)
		qcQB.add2("issue_date BETWEEN %s AND %s", startDate, endDate)
	case startDate != "":
		harvestQB.add("harvest_date >= %s", startDate)
		qcQB.add("issue_date >= %s", startDate)
	case endDate != "":
		harvestQB.add("harvest_date <= %s", endDate)
		qcQB.add("issue_date <= %s", endDate)
	default:
		harvestQB.addClause("harvest_date >= CURRENT_DATE - INTERVAL '90 days'")
		qcQB.addClause("issue_date >= CURRENT_DATE - INTERVAL '90 days'")
	}

	harvestResult, errH := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT harvest_date, harvested_quantity_kg, quality_score, quality_notes, photos_gcs_path
			FROM harvests %s ORDER BY harvest_date DESC LIMIT 5`, harvestQB.whereSQL()),
		Args: harvestQB.args,
	})

	qcResult, errQ := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT issue_date, issue_type, severity, notes
			FROM farm_qc_issues %s ORDER BY issue_date DESC LIMIT 5`, qcQB.whereSQL()),
		Args: qcQB.args,
	})

	scheduleResult, errS := s.store.Query(ctx, &warehouse.Query{
		Statement: fmt.Sprintf(`SELECT planned_planting_date, planned_harvest_date_estimate, expected_yield_estimate_kg, status
			FROM harvest_schedules %s ORDER BY planned_planting_date ASC LIMIT 5`, scheduleQB.whereSQL()),
		Args: scheduleQB.args,
	})

	farmDetails := map[string]interface{}{}
	var errF error
	if farmID != "" {
		var farmResult *warehouse.QueryResult
		farmResult, errF = s.store.Query(ctx, &warehouse.Query{
			Statement: `SELECT farm_name, farm_location, primary_crops_grown FROM farms WHERE farm_id = $1 LIMIT 1`,
			Args:      []interface{}{farmID},
		})
		if errF == nil && farmResult != nil && len(farmResult.Rows) > 0 {
			farmDetails = farmResult.Rows[0]
		}
	}

	harvests := rowsOrEmpty(harvestResult)
	qcIssues := rowsOrEmpty(qcResult)
	schedules := rowsOrEmpty(scheduleResult)
	s.attachPhotoURLs(harvests)

	if errH == nil && errQ == nil && errS == nil && errF == nil {
		return http.StatusOK, map[string]interface{}{
			"status":             "success",
			"farm_details":       farmDetails,
			"recent_harvests":    harvests,
			"recent_qc_issues":   qcIssues,
			"upcoming_schedules": schedules,
		}
	}

	var details []string
	if errH != nil {
		details = append(details, fmt.Sprintf("Harvest query failed: %v", errH))
	}
	if errQ != nil {
		details = append(details, fmt.Sprintf("QC query failed: %v", errQ))
	}
	if errS != nil {
		details = append(details, fmt.Sprintf("Schedule query failed: %v", errS))
	}
	if errF != nil {
		details = append(details, fmt.Sprintf("Farm query failed: %v", errF))
	}

	// Partial data is still useful to the agent; only fail when every
	// source came back empty.
	havePartialData := len(harvests) > 0 || len(qcIssues) > 0 || len(schedules) > 0 || len(farmDetails) > 0
	statusCode := http.StatusInternalServerError
	status := "error"
	message := "Failed to retrieve data for advice."
	if havePartialData {
		statusCode = http.StatusOK
		status = "warning"
		message = "Data retrieval issues encountered."
	}

	return statusCode, map[string]interface{}{
		"status":             status,
		"message":            message,
		"details":            strings.Join(details, " | "),
		"farm_details":       farmDetails,
		"recent_harvests":    harvests,
		"recent_qc_issues":   qcIssues,
		"upcoming_schedules": schedules,
	}
}

// reportFarmQualityIssue files a quality control issue against a farm.
func (s *Service) reportFarmQualityIssue(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "farm_id", "issue_type"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	issueDate := stringArgDefault(args, "issue_date", time.Now().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", issueDate); err != nil {
		return http.StatusBadRequest, errorResponse("Invalid issue_date format. Expected YYYY-MM-DD.")
	}

	var affectedQuantity interface{}
	if _, present := args["affected_quantity_kg"]; present && args["affected_quantity_kg"] != nil {
		qty, err := intArg(args, "affected_quantity_kg")
		if err != nil {
			return http.StatusBadRequest, errorResponse("Invalid format for affected_quantity_kg. Expected integer.")
		}
		affectedQuantity = qty
	}

	issueID := uuid.New().String()
	photosPath, failCode, failBody := s.resolvePhotoPath(ctx, args, issueID, s.media.UploadIssuePhoto)
	if failCode != 0 {
		return failCode, failBody
	}

	_, err := s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO farm_qc_issues
			(issue_id, farm_id, product_id, issue_type, issue_date,
			 affected_quantity_kg, severity, reported_by, notes, photos_gcs_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		Args: []interface{}{
			issueID,
			stringArg(args, "farm_id"),
			nullable(stringArg(args, "product_id")),
			stringArg(args, "issue_type"),
			issueDate,
			affectedQuantity,
			stringArgDefault(args, "severity", "Medium"),
			stringArgDefault(args, "reported_by", "AI Agent"),
			stringArg(args, "notes"),
			nullable(photosPath),
		},
	})
	if err != nil {
		log.Printf("❌ Failed to report QC issue for farm %s: %v", stringArg(args, "farm_id"), err)
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to report quality issue.",
			"details": err.Error(),
		}
	}

	body := map[string]interface{}{
		"status":   "success",
		"issue_id": issueID,
		"message":  "Farm quality issue reported successfully.",
	}
	if photosPath != "" {
		body["photos_gcs_path"] = photosPath
	}
	return http.StatusOK, body
}

// resolvePhotoPath uploads an inline base64 photo when one was
// provided and returns the stored object reference. Without an inline
// photo the caller-supplied photos_gcs_path is used as-is. A non-zero
// status code signals a request error the caller must return.
func (s *Service) resolvePhotoPath(ctx context.Context, args map[string]interface{}, recordID string,
	upload func(context.Context, string, []byte, string) (string, error)) (string, int, map[string]interface{}) {

	encoded := stringArg(args, "photo_base64")
	if encoded == "" {
		return stringArg(args, "photos_gcs_path"), 0, nil
	}
	if s.media == nil {
		return "", http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"message": "Photo storage is not configured.",
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", http.StatusBadRequest, errorResponse("Invalid photo_base64 encoding.")
	}

	ref, err := upload(ctx, recordID, data, stringArgDefault(args, "photo_content_type", "image/jpeg"))
	if err != nil {
		log.Printf("❌ Photo upload failed for %s: %v", recordID, err)
		return "", http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to store photo.",
			"details": err.Error(),
		}
	}
	return ref, 0, nil
}

// scheduleFarmPickup checks how much of the product the farm has
// harvested in the week before the requested date, and when sufficient,
// records the pickup and notifies the logistics intake tool.
func (s *Service) scheduleFarmPickup(ctx context.Context, args map[string]interface{}) (int, map[string]interface{}) {
	if missing := missingFields(args, "farm_id", "product_id", "quantity_kg", "requested_date"); len(missing) > 0 {
		return http.StatusBadRequest, missingFieldsResponse(missing)
	}

	requestedDate, err := dateArg(args, "requested_date")
	if err != nil {
		return http.StatusBadRequest, errorResponse("Invalid requested_date format. Expected YYYY-MM-DD.")
	}

	quantityKg, err := intArg(args, "quantity_kg")
	if err != nil {
		return http.StatusBadRequest, errorResponse("Invalid format for quantity_kg. Expected integer.")
	}

	farmID := stringArg(args, "farm_id")
	productID := stringArg(args, "product_id")

	// Harvested quantity in the 7 days before the requested date counts
	// as available for pickup.
	availResult, err := s.store.Query(ctx, &warehouse.Query{
		Statement: `SELECT SUM(harvested_quantity_kg) AS total_harvested
			FROM harvests
			WHERE farm_id = $1 AND product_id = $2
			  AND harvest_date >= $3::date - INTERVAL '7 days'`,
		Args: []interface{}{farmID, productID, requestedDate},
	})
	if err != nil {
		return http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Failed to check farm availability.",
			"details": err.Error(),
		}
	}

	availableKg := firstRowInt64(availResult, "total_harvested")
	if availableKg < int64(quantityKg) {
		return http.StatusOK, map[string]interface{}{
			"status": "unavailable",
			"message": fmt.Sprintf(
				"Unable to schedule pickup for %d kg. Only found approximately %d kg recently harvested or on hand for this product at this farm. Please adjust quantity or date.",
				quantityKg, availableKg),
		}
	}

	requestedDay, _ := time.Parse("2006-01-02", requestedDate)
	estimatedPickup := requestedDay.Add(
		time.Duration(rand.Intn(3))*24*time.Hour +
			time.Duration(8+rand.Intn(9))*time.Hour +
			time.Duration(rand.Intn(60))*time.Minute)

	requestID := uuid.New().String()
	if _, err := s.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO pickup_requests
			(request_id, farm_id, product_id, quantity_kg, requested_date, status, estimated_pickup_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		Args: []interface{}{
			requestID, farmID, productID, quantityKg, requestedDate,
			"Acknowledged", estimatedPickup.Format("2006-01-02"),
		},
	}); err != nil {
		log.Printf("⚠️  Pickup request insert failed for farm %s: %v", farmID, err)
	}

	// Hand the request to the logistics intake tool so a shipment gets
	// created. Intake errors are logged and acknowledged, never fatal.
	intakeStatus, intakeBody := s.requestFarmPickup(ctx, map[string]interface{}{
		"farm_id":        farmID,
		"product_id":     productID,
		"quantity_kg":    quantityKg,
		"requested_date": requestedDate,
	})
	if intakeStatus != http.StatusOK {
		log.Printf("⚠️  Logistics intake returned %d for pickup %s: %v", intakeStatus, requestID, intakeBody)
	}

	return http.StatusOK, map[string]interface{}{
		"status": "success",
		"details": map[string]interface{}{
			"request_status":            "Acknowledged",
			"request_id":                requestID,
			"estimated_pickup_datetime": estimatedPickup.Format(time.RFC3339),
			"confirmed_quantity_kg":     quantityKg,
			"message":                   "Pickup request received and appears feasible. Logistics is being notified and will confirm exact details.",
		},
	}
}

// attachPhotoURLs adds a short-lived photo_url to every row that
// carries a photos_gcs_path. Signing failures leave the row unchanged.
func (s *Service) attachPhotoURLs(rows []map[string]interface{}) {
	if s.media == nil {
		return
	}
	for _, row := range rows {
		ref, _ := row["photos_gcs_path"].(string)
		if ref == "" {
			continue
		}
		url, err := s.media.SignedURL(ref)
		if err != nil {
			log.Printf("⚠️  Failed to sign photo URL for %s: %v", ref, err)
			continue
		}
		row["photo_url"] = url
	}
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// whereBuilder accumulates WHERE clauses with positional placeholders.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{}
}

// add appends a clause with a single parameter; %s is replaced by the
// next positional placeholder.
func (w *whereBuilder) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, fmt.Sprintf("$%d", len(w.args))))
}

// add2 appends a clause consuming two parameters.
func (w *whereBuilder) add2(clause string, arg1, arg2 interface{}) {
	w.args = append(w.args, arg1, arg2)
	w.clauses = append(w.clauses, fmt.Sprintf(clause,
		fmt.Sprintf("$%d", len(w.args)-1), fmt.Sprintf("$%d", len(w.args))))
}

// addClause appends a parameterless clause.
func (w *whereBuilder) addClause(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) whereSQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}
