// Package store keeps synced rows in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"eventsync/internal/mapper"
)

// StoredRow is a row as kept in the database
type StoredRow struct {
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resourceId"`
	RowID      string          `json:"rowId"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
	RunID      string          `json:"runId"`
	SyncedAt   time.Time       `json:"syncedAt"`
}

// Store upserts normalized rows keyed by resource, resource id and row id
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the database at path
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return s, nil
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rows (
		resource TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		row_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		run_id TEXT NOT NULL,
		synced_at DATETIME NOT NULL,
		PRIMARY KEY (resource, resource_id, row_id)
	);

	CREATE INDEX IF NOT EXISTS idx_rows_synced_at ON rows(synced_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Upsert writes rows in one transaction. Re-syncing a row replaces it.
func (s *Store) Upsert(ctx context.Context, resource, resourceID, runID string, rows []mapper.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rows (resource, resource_id, row_id, name, data, run_id, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource, resource_id, row_id) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			run_id = excluded.run_id,
			synced_at = excluded.synced_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal row %s: %w", row.RowID(), err)
		}
		if _, err := stmt.ExecContext(ctx, resource, resourceID, row.RowID(), row.DisplayName(), data, runID, now); err != nil {
			return 0, fmt.Errorf("failed to upsert row %s: %w", row.RowID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rows: %w", err)
	}

	log.Debug().
		Str("resource", resource).
		Str("resource_id", resourceID).
		Int("rows", len(rows)).
		Msg("Rows stored")

	return len(rows), nil
}

// List returns the stored rows of one resource ordered by row id
func (s *Store) List(ctx context.Context, resource, resourceID string) ([]StoredRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource, resource_id, row_id, name, data, run_id, synced_at
		FROM rows
		WHERE resource = ? AND resource_id = ?
		ORDER BY row_id ASC
	`, resource, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var result []StoredRow
	for rows.Next() {
		var r StoredRow
		var data []byte
		if err := rows.Scan(&r.Resource, &r.ResourceID, &r.RowID, &r.Name, &data, &r.RunID, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Data = data
		result = append(result, r)
	}

	return result, rows.Err()
}

// Stats returns store statistics
type Stats struct {
	Rows       int64
	LastSynced *time.Time
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rows`).Scan(&stats.Rows); err != nil {
		return nil, err
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(synced_at) FROM rows`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		if t, err := parseSQLiteTime(last.String); err == nil {
			stats.LastSynced = &t
		}
	}

	return stats, nil
}

// MAX() loses the column type, so the driver hands back text
func parseSQLiteTime(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
