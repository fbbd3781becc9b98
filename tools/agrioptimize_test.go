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
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshflow/platform/warehouse"
)

func TestLogHarvest_Success(t *testing.T) {
	store := &fakeWarehouse{}
	s := newTestService(store)

	code, body := s.logHarvest(context.Background(), map[string]interface{}{
		"farm_id":               "FARM-1",
		"product_id":            "PROD-001",
		"harvested_quantity_kg": float64(150),
		"harvest_date":          "2026-08-20",
		"quality_score":         "4.5",
	})

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["harvest_id"])

	commands := store.recordedCommands()
	require.Len(t, commands, 1)
	assert.Contains(t, commands[0].Statement, "INSERT INTO harvests")
	assert.Equal(t, 150, commands[0].Args[6])
	assert.InDelta(t, 4.5, commands[0].Args[8].(float64), 0.0001)
}

func TestLogHarvest_MissingFields(t *testing.T) {
	s := newTestService(&fakeWarehouse{})

	code, body := s.logHarvest(context.Background(), map[string]interface{}{
		"farm_id": "FARM-1",
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "product_id")
	assert.Contains(t, body["message"], "harvest_date")
}

func TestLogHarvest_InvalidDate(t *testing.T) {
	s := newTestService(&fakeWarehouse{})

	code, body := s.logHarvest(context.Background(), map[string]interface{}{
		"farm_id":               "FARM-1",
		"product_id":            "PROD-001",
		"harvested_quantity_kg": float64(150),
		"harvest_date":          "20-08-2026",
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "harvest_date")
}

func TestLogHarvest_InsertFailure(t *testing.T) {
	store := &fakeWarehouse{
		execFn: func(cmd *warehouse.Command) (*warehouse.CommandResult, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}
	s := newTestService(store)

	code, body := s.logHarvest(context.Background(), map[string]interface{}{
		"farm_id":               "FARM-1",
		"product_id":            "PROD-001",
		"harvested_quantity_kg": float64(150),
		"harvest_date":          "2026-08-20",
	})

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "error", body["status"])
}

func TestLogHarvest_InlinePhotoWithoutMediaStore(t *testing.T) {
	s := newTestService(&fakeWarehouse{})

	code, body := s.logHarvest(context.Background(), map[string]interface{}{
		"farm_id":               "FARM-1",
		"product_id":            "PROD-001",
		"harvested_quantity_kg": float64(150),
		"harvest_date":          "2026-08-20",
		"photo_base64":          "aGVsbG8=",
	})

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestGetHarvestAdvice_Success(t *testing.T) {
	store := &fakeWarehouse{
		queryFn: func(q *warehouse.Query) (*warehouse.QueryResult, error) {
			switch {
			case strings.Contains(q.Statement, "FROM harvests"):
				return rowsResult(map[string]interface{}{
					"harvest_date":          "2026-08-01",
					"harvested_quantity_kg": int64(200),
				}), nil
			case strings.Contains(q.Statement, "FROM farm_qc_issues"):
				return rowsResult(), nil
			case strings.Contains(q.Statement, "FROM harvest_schedules"):
				return rowsResult(map[string]interface{}{
					"planned_harvest_date_estimate": "2026-09-15",
					"status":                        "Growing",
				}), nil
			case strings.Contains(q.Statement, "FROM farms"):
				return rowsResult(map[string]interface{}{
					"farm_name":     "Green Acres",
					"farm_location": "Valley Road 5",
				}), nil
			default:
				return rowsResult(), nil
			}
		},
	}
	s := newTestService(store)

	code, body := s.getHarvestAdvice(context.Background(), map[string]interface{}{
		"farm_id":    "FARM-1",
		"product_id": "PROD-001",
	})

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Len(t, body["recent_harvests"], 1)
	assert.Len(t, body["upcoming_schedules"], 1)
	assert.Empty(t, body["recent_qc_issues"])

	farm, ok := body["farm_details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Green Acres", farm["farm_name"])
}

func TestGetHarvestAdvice_DefaultWindow(t *testing.T) {
	store := &fakeWarehouse{}
	s := newTestService(store)

	code, _ := s.getHarvestAdvice(context.Background(), map[string]interface{}{
		"farm_id": "FARM-1",
	})
	require.Equal(t, http.StatusOK, code)

	var harvestQuery *warehouse.Query
	for _, q := range store.recordedQueries() {
		if strings.Contains(q.Statement, "FROM harvests") {
			harvestQuery = q
		}
	}
	require.NotNil(t, harvestQuery)
	assert.Contains(t, harvestQuery.Statement, "INTERVAL '90 days'")
}

func TestGetHarvestAdvice_PartialFailureWarns(t *testing.T) {
	store := &fakeWarehouse{
		queryFn: func(q *warehouse.Query) (*warehouse.QueryResult, error) {
			if strings.Contains(q.Statement, "FROM harvests") {
				return nil, fmt.Errorf("relation missing")
			}
			if strings.Contains(q.Statement, "FROM harvest_schedules") {
				return rowsResult(map[string]interface{}{"status": "Planned"}), nil
			}
			return rowsResult(), nil
		},
	}
	s := newTestService(store)

	code, body := s.getHarvestAdvice(context.Background(), map[string]interface{}{
		"farm_id": "FARM-1",
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warning", body["status"])
	assert.Contains(t, body["details"], "Harvest query failed")
	assert.Len(t, body["upcoming_schedules"], 1)
}

func TestGetHarvestAdvice_TotalFailure(t *testing.T) {
	store := &fakeWarehouse{
		queryFn: func(q *warehouse.Query) (*warehouse.QueryResult, error) {
			return nil, fmt.Errorf("warehouse down")
		},
	}
	s := newTestService(store)

	code, body := s.getHarvestAdvice(context.Background(), map[string]interface{}{})

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "error", body["status"])
}

func TestReportFarmQualityIssue_Defaults(t *testing.T) {
	store := &fakeWarehouse{}
	s := newTestService(store)

	code, body := s.reportFarmQualityIssue(context.Background(), map[string]interface{}{
		"farm_id":    "FARM-1",
		"issue_type": "Pest Infestation",
	})

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["issue_id"])

	commands := store.recordedCommands()
	require.Len(t, commands, 1)
	assert.Contains(t, commands[0].Statement, "INSERT INTO farm_qc_issues")
	assert.Equal(t, "Medium", commands[0].Args[6])
	assert.Equal(t, "AI Agent", commands[0].Args[7])
}

func TestReportFarmQualityIssue_InvalidDate(t *testing.T) {
	s := newTestService(&fakeWarehouse{})

	code, _ := s.reportFarmQualityIssue(context.Background(), map[string]interface{}{
		"farm_id":    "FARM-1",
		"issue_type": "Mold",
		"issue_date": "yesterday",
	})

	assert.Equal(t, http.StatusBadRequest, code)
}

func TestScheduleFarmPickup_Insufficient(t *testing.T) {
	store := &fakeWarehouse{
		queryFn: func(q *warehouse.Query) (*warehouse.QueryResult, error) {
			return rowsResult(map[string]interface{}{"total_harvested": int64(40)}), nil
		},
	}
	s := newTestService(store)

	code, body := s.scheduleFarmPickup(context.Background(), map[string]interface{}{
		"farm_id":        "FARM-1",
		"product_id":     "PROD-001",
		"quantity_kg":    float64(100),
		"requested_date": "2026-08-30",
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Contains(t, body["message"], "100 kg")
	assert.Empty(t, store.recordedCommands())
}

func TestScheduleFarmPickup_Success(t *testing.T) {
	store := &fakeWarehouse{
		queryFn: func(q *warehouse.Query) (*warehouse.QueryResult, error) {
			return rowsResult(map[string]interface{}{"total_harvested": int64(500)}), nil
		},
	}
	s := newTestService(store)

	code, body := s.scheduleFarmPickup(context.Background(), map[string]interface{}{
		"farm_id":        "FARM-1",
		"product_id":     "PROD-001",
		"quantity_kg":    float64(100),
		"requested_date": "2026-08-30",
	})

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])

	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Acknowledged", details["request_status"])
	assert.NotEmpty(t, details["request_id"])
	assert.NotEmpty(t, details["estimated_pickup_datetime"])
	assert.Equal(t, 100, details["confirmed_quantity_kg"])

	// Pickup request recorded and logistics intake created a shipment
	var sawPickup, sawShipment bool
	for _, cmd := range store.recordedCommands() {
		if strings.Contains(cmd.Statement, "INSERT INTO pickup_requests") {
			sawPickup = true
		}
		if strings.Contains(cmd.Statement, "INSERT INTO shipments") {
			sawShipment = true
		}
	}
	assert.True(t, sawPickup)
	assert.True(t, sawShipment)
}

func TestWhereBuilder(t *testing.T) {
	qb := newWhereBuilder()
	assert.Equal(t, "", qb.whereSQL())

	qb.add("farm_id = %s", "FARM-1")
	qb.add2("harvest_date BETWEEN %s AND %s", "2026-01-01", "2026-02-01")
	qb.addClause("status = 'Harvested'")

	assert.Equal(t,
		"WHERE farm_id = $1 AND harvest_date BETWEEN $2 AND $3 AND status = 'Harvested'",
		qb.whereSQL())
	assert.Equal(t, []interface{}{"FARM-1", "2026-01-01", "2026-02-01"}, qb.args)
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", nullable("x"))
}
