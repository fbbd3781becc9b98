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
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"freshflow/platform/warehouse"
)

// Alert severities, lowest to highest.
const (
	SeverityInfo     = "Info"
	SeverityWarning  = "Warning"
	SeverityCritical = "Critical"
)

// severityForTemperature applies the cold-chain severity ladder.
func severityForTemperature(celsius float64) string {
	switch {
	case celsius > coldChainCriticalCelsius:
		return SeverityCritical
	case celsius > coldChainWarningCelsius:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ColdChainAlert is one temperature excursion to persist and surface.
type ColdChainAlert struct {
	AlertID     string    `json:"alert_id"`
	ShipmentID  string    `json:"shipment_id"`
	ReadingID   string    `json:"reading_id,omitempty"`
	Severity    string    `json:"severity"`
	Temperature float64   `json:"temperature_celsius"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertDispatcher persists cold-chain alerts asynchronously so the
// reading endpoint never blocks on alert storage. Queue-full drops are
// counted rather than blocking the caller.
type AlertDispatcher struct {
	store        warehouse.Store
	queue        chan ColdChainAlert
	wg           sync.WaitGroup
	fallbackFile *os.File
	fallbackMu   sync.Mutex

	statsMu   sync.Mutex
	persisted int64
	failed    int64
	dropped   int64
}

// NewAlertDispatcher starts the worker pool. The fallback file catches
// alerts that cannot reach the warehouse.
func NewAlertDispatcher(store warehouse.Store, queueSize, workers int, fallbackPath string) (*AlertDispatcher, error) {
	fallbackFile, err := os.OpenFile(fallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert fallback file: %v", err)
	}

	d := &AlertDispatcher{
		store:        store,
		queue:        make(chan ColdChainAlert, queueSize),
		fallbackFile: fallbackFile,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	log.Printf("Cold-chain alert dispatcher started with %d workers, fallback: %s", workers, fallbackPath)
	return d, nil
}

// Dispatch enqueues an alert. Critical alerts are logged immediately
// so they surface even if persistence lags.
func (d *AlertDispatcher) Dispatch(alert ColdChainAlert) {
	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	if alert.Severity == SeverityCritical {
		log.Printf("❌ CRITICAL cold-chain excursion: shipment %s at %.1fC", alert.ShipmentID, alert.Temperature)
	}

	select {
	case d.queue <- alert:
	default:
		d.statsMu.Lock()
		d.dropped++
		dropped := d.dropped
		d.statsMu.Unlock()
		log.Printf("⚠️  Alert queue full, dropped alert for shipment %s (%d dropped total)", alert.ShipmentID, dropped)
	}
}

func (d *AlertDispatcher) worker(id int) {
	defer d.wg.Done()

	for alert := range d.queue {
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if err = d.persist(alert); err == nil {
				d.statsMu.Lock()
				d.persisted++
				d.statsMu.Unlock()
				break
			}
			time.Sleep(time.Duration(100*(attempt+1)) * time.Millisecond)
		}

		if err != nil {
			d.statsMu.Lock()
			d.failed++
			d.statsMu.Unlock()

			d.fallbackMu.Lock()
			if fallbackErr := d.writeToFallback(alert); fallbackErr != nil {
				log.Printf("Alert worker %d: failed to write fallback: %v", id, fallbackErr)
			}
			d.fallbackMu.Unlock()
		}
	}
}

func (d *AlertDispatcher) persist(alert ColdChainAlert) error {
	if d.store == nil {
		return fmt.Errorf("warehouse store not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.store.Execute(ctx, &warehouse.Command{
		Statement: `INSERT INTO cold_chain_alerts
			(alert_id, shipment_id, reading_id, severity, temperature_celsius, message)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		Args: []interface{}{
			alert.AlertID, alert.ShipmentID, nullable(alert.ReadingID),
			alert.Severity, alert.Temperature, alert.Message,
		},
	})
	return err
}

func (d *AlertDispatcher) writeToFallback(alert ColdChainAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if _, err := d.fallbackFile.Write(append(data, '\n')); err != nil {
		return err
	}
	return d.fallbackFile.Sync()
}

// Shutdown drains the queue and stops the workers.
func (d *AlertDispatcher) Shutdown(ctx context.Context) error {
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return d.fallbackFile.Close()
	case <-ctx.Done():
		return fmt.Errorf("alert dispatcher shutdown timed out: %w", ctx.Err())
	}
}

// Stats reports dispatcher counters.
func (d *AlertDispatcher) Stats() map[string]interface{} {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return map[string]interface{}{
		"persisted": d.persisted,
		"failed":    d.failed,
		"dropped":   d.dropped,
		"queue_len": len(d.queue),
	}
}
