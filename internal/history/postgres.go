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

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// PostgresStore is a pooled, multi-writer Store. Ordinal computation uses
// SELECT ... FOR UPDATE to serialize concurrent appends to the same
// execution_id (§4.3).
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig configures the connection string and pool sizing (max open,
// max idle, idle lifetime) for the history backend. It has no minimum pool
// size or connect-timeout setting.
type PostgresConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
}

// NewPostgresStore opens (and migrates) a Postgres-backed run history store.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			error TEXT,
			inputs JSONB,
			runnable_config JSONB,
			trace_id TEXT,
			trace_started_at TIMESTAMPTZ,
			trace_completed_at TIMESTAMPTZ,
			trace_last_span_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			execution_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			payload JSONB,
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
func (s *PostgresStore) StartRun(ctx context.Context, in StartRunInput) (Record, error) {
	inputsJSON, _ := json.Marshal(in.Inputs)
	configJSON, _ := json.Marshal(in.RunnableConfig)
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, workflow_id, status, started_at, inputs, runnable_config, trace_id, trace_started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		in.ExecutionID, in.WorkflowID, string(StatusRunning), now, string(inputsJSON), string(configJSON),
		nullString(in.TraceID), nullTime(in.TraceStartedAt),
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

// AppendStep serializes the next-ordinal computation with a row lock.
func (s *PostgresStore) AppendStep(ctx context.Context, executionID string, payload map[string]any) (Step, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	defer tx.Rollback()

	var locked int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE execution_id = $1 FOR UPDATE`, executionID).Scan(&locked); err != nil {
		if err == sql.ErrNoRows {
			return Step{}, orcheoerrors.NewNotFound("run_history", executionID)
		}
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}

	var maxOrdinal sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM run_steps WHERE execution_id = $1`, executionID).Scan(&maxOrdinal); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	ordinal := 0
	if maxOrdinal.Valid {
		ordinal = int(maxOrdinal.Int64) + 1
	}

	now := time.Now()
	payloadJSON, _ := json.Marshal(payload)
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_steps (execution_id, ordinal, at, payload) VALUES ($1,$2,$3,$4)`,
		executionID, ordinal, now, string(payloadJSON)); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET trace_last_span_at = $1 WHERE execution_id = $2`, now, executionID); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}

	if err := tx.Commit(); err != nil {
		return Step{}, orcheoerrors.NewRunHistoryError("append_step", err)
	}
	return Step{Index: ordinal, At: now, Payload: payload}, nil
}

func (s *PostgresStore) transition(ctx context.Context, executionID string, target Status, errMsg string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE execution_id = $1`, executionID).Scan(&current)
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

	_, err = s.db.ExecContext(ctx, `UPDATE runs SET status = $1, completed_at = $2, error = $3 WHERE execution_id = $4`,
		string(target), time.Now(), nullString(errMsg), executionID)
	if err != nil {
		return orcheoerrors.NewRunHistoryError("mark_"+string(target), err)
	}
	return nil
}

// MarkCompleted sets the run terminal and succeeded.
func (s *PostgresStore) MarkCompleted(ctx context.Context, executionID string) error {
	return s.transition(ctx, executionID, StatusSucceeded, "")
}

// MarkFailed sets the run terminal and failed, recording errMsg.
func (s *PostgresStore) MarkFailed(ctx context.Context, executionID string, errMsg string) error {
	return s.transition(ctx, executionID, StatusFailed, errMsg)
}

// MarkCancelled sets the run terminal and cancelled, recording reason.
func (s *PostgresStore) MarkCancelled(ctx context.Context, executionID string, reason string) error {
	return s.transition(ctx, executionID, StatusCancelled, reason)
}

// UpdateTraceMetadata patches trace fields on a run row.
func (s *PostgresStore) UpdateTraceMetadata(ctx context.Context, executionID string, update TraceMetadataUpdate) error {
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
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET trace_id = $1, trace_started_at = $2, trace_last_span_at = $3 WHERE execution_id = $4`,
		nullString(r.TraceID), nullTime(r.TraceStartedAt), nullTime(r.TraceLastSpanAt), executionID)
	if err != nil {
		return orcheoerrors.NewRunHistoryError("update_trace_metadata", err)
	}
	return nil
}

// Get fetches a run row and its full step log.
func (s *PostgresStore) Get(ctx context.Context, executionID string) (Record, error) {
	var r Record
	var inputsJSON, configJSON sql.NullString
	var traceID, errMsg sql.NullString
	var traceStartedAt, traceCompletedAt, traceLastSpanAt, completedAt sql.NullTime
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, status, started_at, completed_at, error, inputs, runnable_config,
			trace_id, trace_started_at, trace_completed_at, trace_last_span_at
		FROM runs WHERE execution_id = $1`, executionID).Scan(
		&r.WorkflowID, &status, &r.StartedAt, &completedAt, &errMsg, &inputsJSON, &configJSON,
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
	r.CompletedAt = sqlNullTimePtr(completedAt)
	r.TraceStartedAt = sqlNullTimePtr(traceStartedAt)
	r.TraceCompletedAt = sqlNullTimePtr(traceCompletedAt)
	r.TraceLastSpanAt = sqlNullTimePtr(traceLastSpanAt)

	steps, err := s.ListSteps(ctx, executionID, 0, 0)
	if err != nil {
		return Record{}, err
	}
	r.Steps = steps

	return r, nil
}

// ListSteps returns steps with ordinal >= fromStep, capped at limit (0 = no cap).
func (s *PostgresStore) ListSteps(ctx context.Context, executionID string, fromStep int, limit int) ([]Step, error) {
	query := `SELECT ordinal, at, payload FROM run_steps WHERE execution_id = $1 AND ordinal >= $2 ORDER BY ordinal ASC`
	args := []any{executionID, fromStep}
	if limit > 0 {
		query += ` LIMIT $3`
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
		var payloadJSON string
		if err := rows.Scan(&step.Index, &step.At, &payloadJSON); err != nil {
			return nil, orcheoerrors.NewRunHistoryError("list_steps", err)
		}
		_ = json.Unmarshal([]byte(payloadJSON), &step.Payload)
		out = append(out, step)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func sqlNullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*PostgresStore)(nil)
