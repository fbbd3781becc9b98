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

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"freshflow/platform/warehouse"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewStore()
	s.db = db
	s.config = &warehouse.Config{
		Name:    "test-warehouse",
		Type:    "postgres",
		Timeout: 5 * time.Second,
	}
	return s, mock
}

func TestStore_Query_NilDB(t *testing.T) {
	s := NewStore()
	s.config = &warehouse.Config{Name: "test", Timeout: time.Second}

	_, err := s.Query(context.Background(), &warehouse.Query{Statement: "SELECT 1"})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_Execute_NilDB(t *testing.T) {
	s := NewStore()
	s.config = &warehouse.Config{Name: "test", Timeout: time.Second}

	_, err := s.Execute(context.Background(), &warehouse.Command{Statement: "DELETE FROM x"})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_HealthCheck_NilDB(t *testing.T) {
	s := NewStore()

	status, err := s.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Healthy {
		t.Error("expected unhealthy status for nil db")
	}
}

func TestStore_Query_WithMock(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"product_id", "product_name", "category"}).
		AddRow("PROD-001", "Heirloom Tomatoes", "Vegetables").
		AddRow("PROD-002", "Strawberries", "Berries")

	mock.ExpectQuery("SELECT product_id, product_name, category FROM products").WillReturnRows(rows)

	result, err := s.Query(context.Background(), &warehouse.Query{
		Statement: "SELECT product_id, product_name, category FROM products",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Count != 2 {
		t.Errorf("expected 2 rows, got %d", result.Count)
	}
	if result.Rows[0]["product_name"] != "Heirloom Tomatoes" {
		t.Errorf("unexpected first row: %v", result.Rows[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_Query_ByteValuesBecomeStrings(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"notes"}).AddRow([]byte("minor bruising"))
	mock.ExpectQuery("SELECT notes FROM qc_issues").WillReturnRows(rows)

	result, err := s.Query(context.Background(), &warehouse.Query{
		Statement: "SELECT notes FROM qc_issues",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, ok := result.Rows[0]["notes"].(string)
	if !ok || val != "minor bruising" {
		t.Errorf("expected string value, got %T %v", result.Rows[0]["notes"], result.Rows[0]["notes"])
	}
}

func TestStore_Query_WithLimit(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"harvest_id"}).
		AddRow("H-1").AddRow("H-2").AddRow("H-3").AddRow("H-4")
	mock.ExpectQuery("SELECT harvest_id FROM harvests").WillReturnRows(rows)

	result, err := s.Query(context.Background(), &warehouse.Query{
		Statement: "SELECT harvest_id FROM harvests",
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Count != 2 {
		t.Errorf("expected limit to cap rows at 2, got %d", result.Count)
	}
}

func TestStore_Execute_WithMock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO farm_qc_issues").
		WithArgs("FARM-001", "Pest Damage").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := s.Execute(context.Background(), &warehouse.Command{
		Statement: "INSERT INTO farm_qc_issues (farm_id, issue_type) VALUES ($1, $2)",
		Args:      []interface{}{"FARM-001", "Pest Damage"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success || result.RowsAffected != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
