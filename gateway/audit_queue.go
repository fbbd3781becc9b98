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
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const auditInsertSQL = `
	INSERT INTO tool_call_audits (
		audit_id, client_id, user_id, tenant_id, tool,
		status, status_code, duration_ms, request_summary, error_message, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (audit_id) DO NOTHING
`

// AuditMode defines how audit records are persisted
type AuditMode string

const (
	AuditModeCompliance  AuditMode = "compliance"  // Sync writes for failures
	AuditModePerformance AuditMode = "performance" // Async for everything
)

// AuditEntry represents one tool call in the audit trail
type AuditEntry struct {
	AuditID     string    `json:"audit_id"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	Tool        string    `json:"tool"`
	Status      string    `json:"status"`
	StatusCode  int       `json:"status_code"`
	DurationMs  int64     `json:"duration_ms"`
	RequestArgs string    `json:"request_args"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Retries     int       `json:"-"`
}

// AuditQueue manages async audit logging with persistence guarantees
type AuditQueue struct {
	mode         AuditMode
	queue        chan AuditEntry
	workers      int
	wg           sync.WaitGroup
	db           *sql.DB
	fallbackFile *os.File
	mu           sync.Mutex

	// Counters
	processed uint64
	failed    uint64
	queued    uint64
}

// NewAuditQueue creates a new audit queue with a JSONL fallback file.
// Entries stranded in the fallback file by a previous run are replayed
// into the database before the file is reopened for appending.
func NewAuditQueue(mode AuditMode, queueSize int, workers int, db *sql.DB, fallbackPath string) (*AuditQueue, error) {
	if db != nil {
		if replayed, err := replayAuditFallback(db, fallbackPath); err != nil {
			log.Printf("⚠️  Audit fallback replay incomplete, keeping file: %v", err)
		} else if replayed > 0 {
			log.Printf("Replayed %d audit entries from fallback file", replayed)
		}
	}

	fallbackFile, err := os.OpenFile(
		fallbackPath,
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0600,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback file: %v", err)
	}

	aq := &AuditQueue{
		mode:         mode,
		queue:        make(chan AuditEntry, queueSize),
		workers:      workers,
		db:           db,
		fallbackFile: fallbackFile,
	}

	for i := 0; i < workers; i++ {
		aq.wg.Add(1)
		go aq.worker(i)
	}

	log.Printf("AuditQueue started in %s mode with %d workers, fallback: %s", mode, workers, fallbackPath)
	return aq, nil
}

// Record logs a completed tool call. Failed calls are written synchronously
// in compliance mode so a crash cannot lose them.
func (aq *AuditQueue) Record(entry AuditEntry) error {
	if entry.AuditID == "" {
		entry.AuditID = uuid.New().String()
	}
	entry.Timestamp = time.Now()

	if aq.mode == AuditModeCompliance && entry.Status != "success" {
		return aq.writeToDB(entry)
	}

	return aq.queueEntry(entry)
}

// queueEntry queues an entry for async processing
func (aq *AuditQueue) queueEntry(entry AuditEntry) error {
	select {
	case aq.queue <- entry:
		aq.queued++
		return nil
	default:
		// Queue full - write to fallback immediately
		aq.mu.Lock()
		defer aq.mu.Unlock()
		return aq.writeToFallback(entry)
	}
}

// worker processes audit entries from the queue
func (aq *AuditQueue) worker(id int) {
	defer aq.wg.Done()

	for entry := range aq.queue {
		var err error
		for retry := 0; retry < 3; retry++ {
			if err = aq.writeToDB(entry); err == nil {
				aq.processed++
				break
			}

			// Exponential backoff
			time.Sleep(time.Millisecond * time.Duration(100*(retry+1)))
			entry.Retries++
		}

		if err != nil {
			aq.failed++
			aq.mu.Lock()
			if fallbackErr := aq.writeToFallback(entry); fallbackErr != nil {
				log.Printf("Worker %d: Failed to write to fallback: %v", id, fallbackErr)
			}
			aq.mu.Unlock()
		}
	}
}

// replayAuditFallback re-inserts fallback entries left by a previous run.
// The audit_id conflict clause makes replay idempotent, so a crash midway
// through replay is safe. The file is truncated only after every line has
// been accepted; malformed lines are dropped since they can never replay.
func replayAuditFallback(db *sql.DB, fallbackPath string) (int, error) {
	file, err := os.Open(fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Printf("Dropping malformed audit fallback line: %v", err)
			continue
		}

		if err := execWithRetry(db, auditInsertSQL,
			entry.AuditID,
			entry.ClientID,
			entry.UserID,
			entry.TenantID,
			entry.Tool,
			entry.Status,
			entry.StatusCode,
			entry.DurationMs,
			entry.RequestArgs,
			nullIfEmpty(entry.Error),
			entry.Timestamp); err != nil {
			file.Close()
			return replayed, fmt.Errorf("replay stopped at entry %s: %v", entry.AuditID, err)
		}
		replayed++
	}

	scanErr := scanner.Err()
	file.Close()
	if scanErr != nil {
		return replayed, scanErr
	}

	if err := os.Truncate(fallbackPath, 0); err != nil {
		return replayed, fmt.Errorf("failed to truncate fallback file: %v", err)
	}
	return replayed, nil
}

// writeToDB inserts the entry into tool_call_audits with retries
func (aq *AuditQueue) writeToDB(entry AuditEntry) error {
	if aq.db == nil {
		return fmt.Errorf("database connection not initialized")
	}

	return execWithRetry(aq.db, auditInsertSQL,
		entry.AuditID,
		entry.ClientID,
		entry.UserID,
		entry.TenantID,
		entry.Tool,
		entry.Status,
		entry.StatusCode,
		entry.DurationMs,
		entry.RequestArgs,
		nullIfEmpty(entry.Error),
		entry.Timestamp)
}

// writeToFallback writes the entry to the JSONL fallback file
func (aq *AuditQueue) writeToFallback(entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %v", err)
	}

	_, err = fmt.Fprintf(aq.fallbackFile, "%s\n", data)
	if err != nil {
		return fmt.Errorf("failed to write to fallback: %v", err)
	}

	return aq.fallbackFile.Sync()
}

// Shutdown gracefully shuts down the queue
func (aq *AuditQueue) Shutdown(ctx context.Context) error {
	log.Println("Shutting down audit queue...")

	close(aq.queue)

	done := make(chan struct{})
	go func() {
		aq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Audit queue shutdown complete. Processed: %d, Failed: %d",
			aq.processed, aq.failed)
		return nil
	case <-ctx.Done():
		// Timeout - drain remaining entries to fallback
		remaining := len(aq.queue)
		for entry := range aq.queue {
			if err := aq.writeToFallback(entry); err != nil {
				log.Printf("Failed to write entry to fallback during timeout: %v", err)
			}
		}
		log.Printf("Timeout: Saved %d entries to fallback", remaining)
		return ctx.Err()
	}
}

// GetStats returns queue statistics
func (aq *AuditQueue) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"mode":      aq.mode,
		"queued":    aq.queued,
		"processed": aq.processed,
		"failed":    aq.failed,
		"pending":   len(aq.queue),
	}
}

// execWithRetry runs a statement with exponential backoff: 100ms, 200ms, 400ms
func execWithRetry(db *sql.DB, query string, args ...interface{}) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(query, args...)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			log.Printf("Database write failed (attempt %d/%d), retrying in %v: %v",
				attempt+1, maxRetries, delay, err)
			time.Sleep(delay)
		}
	}

	log.Printf("Database write failed after %d attempts: %v", maxRetries, lastErr)
	return lastErr
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
