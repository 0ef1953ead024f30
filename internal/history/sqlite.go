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

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// SQLiteStore is a single-writer, WAL-mode SQLite Store. Step ordinals are
// computed as max+1 under a transaction, per §4.3.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite history backend.
type SQLiteConfig struct {
	Path string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed run history store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: pragma %s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			error TEXT,
			inputs TEXT,
			runnable_config TEXT,
			trace_id TEXT,
			trace_started_at TEXT,
			trace_completed_at TEXT,
			trace_last_span_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			execution_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			at TEXT NOT NULL,
			payload TEXT,
			PRIMARY KEY (execution_id, ordinal)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("history: migration failed: %w", err)
		}
	}
	return nil
}

// StartRun inserts a new run row; fails NameConflict if execution_id exists.
func (s *SQLiteStore) StartRun(ctx context.Context, in StartRunInput) (Record, error) {
	inputsJSON, _ := json.Marshal(in.Inputs)
	configJSON, _ := json.Marshal(in.RunnableConfig)
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, workflow_id, status, started_at, inputs, runnable_config, trace_id, trace_started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ExecutionID, in.WorkflowID, string(StatusRunning), now.Format(time.RFC3339),
		string(inputsJSON), string(configJSON), nullString(in.TraceID), formatTimePtr(in.TraceStartedAt),
	)
	if err != nil {
		return Record{}, orcheoerrors.NewRunHistoryError("start_run",
			orcheoerrors.NewNameConflict("run_history", in.ExecutionID))
	}

	return Record{
		ExecutionID: in.ExecutionID, WorkflowID: in.WorkflowID, Status: StatusRunning, StartedAt: now,
		Inputs: in.Inputs, RunnableConfig: in.RunnableConfig, TraceID: in.TraceID, TraceStartedAt: in.TraceStartedAt,
	}, nil
}

// AppendStep computes ordinal = max+1 under a transaction and inserts the step.
func (s *SQLiteStore) AppendStep(ctx context.Context, executionID string, payload map[string]any) (Step, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE execution_id = ?`, executionID).Scan(&exists); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	if exists == 0 {
		return Step{}, orcheoerrors.NewNotFound("run_history", executionID)
	}

	var maxOrdinal sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM run_steps WHERE execution_id = ?`, executionID).Scan(&maxOrdinal); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	ordinal := 0
	if maxOrdinal.Valid {
		ordinal = int(maxOrdinal.Int64) + 1
	}

	now := time.Now()
	payloadJSON, _ := json.Marshal(payload)
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_steps (execution_id, ordinal, at, payload) VALUES (?, ?, ?, ?)`,
		executionID, ordinal, now.Format(time.RFC3339), string(payloadJSON)); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET trace_last_span_at = ? WHERE execution_id = ?`,
		now.Format(time.RFC3339), executionID); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}

	if err := tx.Commit(); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	return Step{Index: ordinal, At: now, Payload: payload}, nil
}

func (s *SQLiteStore) transition(ctx context.Context, executionID string, target Status, errMsg string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE execution_id = ?`, executionID).Scan(&current)
	if err == sql.ErrNoRows {
		return orcheoerrors.NewNotFound("run_history", executionID)
	}
	if err != nil {
		return orcheoerrors.NewRunHistoryError("mark_"+string(target), err)
	}
	if Status(current) == target {
		return nil
	}
	if Status(current).IsTerminal() {
		return orcheoerrors.NewRunHistoryError("mark_"+string(target),
			orcheoerrors.NewInvalidTransition("run_history_record", current, string(target)))
	}

	now := time.Now().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE execution_id = ?`,
		string(target), now, nullString(errMsg), executionID)
	if err != nil {
		return orcheoerrors.NewRunHistoryError("mark_"+string(target), err)
	}
	return nil
}

// MarkCompleted sets the run terminal and succeeded.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, executionID string) error {
	return s.transition(ctx, executionID, StatusSucceeded, "")
}

// MarkFailed sets the run terminal and failed, recording errMsg.
func (s *SQLiteStore) MarkFailed(ctx context.Context, executionID string, errMsg string) error {
	return s.transition(ctx, executionID, StatusFailed, errMsg)
}

// MarkCancelled sets the run terminal and cancelled, recording reason.
func (s *SQLiteStore) MarkCancelled(ctx context.Context, executionID string, reason string) error {
	return s.transition(ctx, executionID, StatusCancelled, reason)
}

// UpdateTraceMetadata patches trace fields on a run row.
func (s *SQLiteStore) UpdateTraceMetadata(ctx context.Context, executionID string, update TraceMetadataUpdate) error {
	r, err := s.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if update.TraceID != nil {
		r.TraceID = *update.TraceID
	}
	if update.StartedAt != nil {
		r.TraceStartedAt = update.StartedAt
	}
	if update.UpdatedAt != nil {
		r.TraceLastSpanAt = update.UpdatedAt
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET trace_id = ?, trace_started_at = ?, trace_last_span_at = ? WHERE execution_id = ?`,
		nullString(r.TraceID), formatTimePtr(r.TraceStartedAt), formatTimePtr(r.TraceLastSpanAt), executionID)
	if err != nil {
		return orcheoerrors.NewRunHistoryError("update_trace_metadata", err)
	}
	return nil
}

// Get fetches a run row and its full step log.
func (s *SQLiteStore) Get(ctx context.Context, executionID string) (Record, error) {
	var r Record
	var inputsJSON, configJSON, traceID, traceStartedAt, traceCompletedAt, traceLastSpanAt, completedAt, errMsg sql.NullString
	var status, startedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, status, started_at, completed_at, error, inputs, runnable_config,
			trace_id, trace_started_at, trace_completed_at, trace_last_span_at
		FROM runs WHERE execution_id = ?`, executionID).Scan(
		&r.WorkflowID, &status, &startedAt, &completedAt, &errMsg, &inputsJSON, &configJSON,
		&traceID, &traceStartedAt, &traceCompletedAt, &traceLastSpanAt,
	)
	if err == sql.ErrNoRows {
		return Record{}, orcheoerrors.NewNotFound("run_history", executionID)
	}
	if err != nil {
		return Record{}, orcheoerrors.NewRunHistoryError("get", err)
	}

	r.ExecutionID = executionID
	r.Status = Status(status)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if inputsJSON.Valid {
		_ = json.Unmarshal([]byte(inputsJSON.String), &r.Inputs)
	}
	if configJSON.Valid {
		_ = json.Unmarshal([]byte(configJSON.String), &r.RunnableConfig)
	}
	if traceID.Valid {
		r.TraceID = traceID.String
	}
	r.TraceStartedAt = parseTimePtr(traceStartedAt)
	r.TraceCompletedAt = parseTimePtr(traceCompletedAt)
	r.TraceLastSpanAt = parseTimePtr(traceLastSpanAt)

	steps, err := s.ListSteps(ctx, executionID, 0, 0)
	if err != nil {
		return Record{}, err
	}
	r.Steps = steps

	return r, nil
}

// ListSteps returns steps with ordinal >= fromStep, capped at limit (0 = no cap).
func (s *SQLiteStore) ListSteps(ctx context.Context, executionID string, fromStep int, limit int) ([]Step, error) {
	query := `SELECT ordinal, at, payload FROM run_steps WHERE execution_id = ? AND ordinal >= ? ORDER BY ordinal ASC`
	args := []any{executionID, fromStep}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, orcheoerrors.NewRunHistoryError("list_steps", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var step Step
		var at, payloadJSON string
		if err := rows.Scan(&step.Index, &at, &payloadJSON); err != nil {
			return nil, orcheoerrors.NewRunHistoryError("list_steps", err)
		}
		step.At, _ = time.Parse(time.RFC3339, at)
		_ = json.Unmarshal([]byte(payloadJSON), &step.Payload)
		out = append(out, step)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

var _ Store = (*SQLiteStore)(nil)
