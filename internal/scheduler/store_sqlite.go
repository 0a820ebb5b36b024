// Copyright 2025 Tom Barlow
//
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

package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by SQLite: WAL mode for concurrent
// readers, a bounded connection pool, and a migrate-on-open schema.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path
// and runs its schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("scheduler: database path is required")
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: migrate schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		workflow_path TEXT NOT NULL,
		cron TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		input_parameters_json TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		allow_overlap INTEGER NOT NULL DEFAULT 0,
		max_concurrent_runs INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		created_at TEXT,
		last_run_at TEXT,
		next_run_at TEXT,
		run_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSchedule(row interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	var sched Schedule
	var paramsJSON string
	var enabled, allowOverlap int
	var timeoutMs int64
	var createdAt, lastRunAt, nextRunAt sql.NullString

	if err := row.Scan(
		&sched.ID, &sched.WorkflowPath, &sched.Cron, &sched.Name, &sched.Description, &paramsJSON,
		&enabled, &allowOverlap, &sched.Policy.MaxConcurrentRuns, &timeoutMs, &sched.Policy.MaxRetries,
		&createdAt, &lastRunAt, &nextRunAt,
		&sched.RunCount, &sched.ErrorCount,
	); err != nil {
		return nil, err
	}

	sched.Enabled = enabled != 0
	sched.Policy.AllowOverlap = allowOverlap != 0
	sched.Policy.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if err := json.Unmarshal([]byte(paramsJSON), &sched.InputParameters); err != nil {
		return nil, fmt.Errorf("decode input_parameters_json: %w", err)
	}
	if createdAt.Valid {
		t, err := time.Parse(time.RFC3339, createdAt.String)
		if err == nil {
			sched.CreatedAt = t
		}
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err == nil {
			sched.LastRunAt = &t
		}
	}
	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err == nil {
			sched.NextRunAt = t
		}
	}
	return &sched, nil
}

const scheduleColumns = `id, workflow_path, cron, name, description, input_parameters_json, enabled, allow_overlap, max_concurrent_runs, timeout_ms, max_retries, created_at, last_run_at, next_run_at, run_count, error_count`

// Get implements Store.
func (s *SQLiteStore) Get(id string) (*Schedule, bool, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scheduler: get schedule: %w", err)
	}
	return sched, true, nil
}

// GetAll implements Store.
func (s *SQLiteStore) GetAll() ([]*Schedule, error) {
	return s.query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY id`)
}

// GetEnabled implements Store.
func (s *SQLiteStore) GetEnabled() ([]*Schedule, error) {
	return s.query(`SELECT ` + scheduleColumns + ` FROM schedules WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLiteStore) query(q string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: query schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Save implements Store, upserting by id.
func (s *SQLiteStore) Save(sched *Schedule) error {
	if sched.ID == "" {
		return fmt.Errorf("scheduler: schedule id is required")
	}
	paramsJSON, err := json.Marshal(sched.InputParameters)
	if err != nil {
		return fmt.Errorf("scheduler: encode input parameters: %w", err)
	}

	var lastRunAt any
	if sched.LastRunAt != nil {
		lastRunAt = sched.LastRunAt.Format(time.RFC3339)
	}
	var createdAt any
	if !sched.CreatedAt.IsZero() {
		createdAt = sched.CreatedAt.Format(time.RFC3339)
	}

	_, err = s.db.Exec(`INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_path = excluded.workflow_path,
			cron = excluded.cron,
			name = excluded.name,
			description = excluded.description,
			input_parameters_json = excluded.input_parameters_json,
			enabled = excluded.enabled,
			allow_overlap = excluded.allow_overlap,
			max_concurrent_runs = excluded.max_concurrent_runs,
			timeout_ms = excluded.timeout_ms,
			max_retries = excluded.max_retries,
			created_at = excluded.created_at,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			run_count = excluded.run_count,
			error_count = excluded.error_count`,
		sched.ID, sched.WorkflowPath, sched.Cron, sched.Name, sched.Description, string(paramsJSON),
		boolToInt(sched.Enabled), boolToInt(sched.Policy.AllowOverlap),
		sched.Policy.MaxConcurrentRuns, sched.Policy.Timeout.Milliseconds(), sched.Policy.MaxRetries,
		createdAt, lastRunAt, sched.NextRunAt.Format(time.RFC3339),
		sched.RunCount, sched.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("scheduler: save schedule: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("scheduler: delete schedule: %w", err)
	}
	return nil
}

// UpdateRunTimes implements Store.
func (s *SQLiteStore) UpdateRunTimes(id string, lastRunAt time.Time, nextRunAt time.Time, errored bool) error {
	errInc := 0
	if errored {
		errInc = 1
	}
	res, err := s.db.Exec(`UPDATE schedules SET
			last_run_at = ?, next_run_at = ?, run_count = run_count + 1, error_count = error_count + ?
		WHERE id = ?`,
		lastRunAt.Format(time.RFC3339), nextRunAt.Format(time.RFC3339), errInc, id,
	)
	if err != nil {
		return fmt.Errorf("scheduler: update run times: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("scheduler: update run times: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scheduler: schedule %q not found", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
