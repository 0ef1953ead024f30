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

package agentensor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// PostgresStore is a Postgres Checkpoint Store. The teacher's Postgres
// backends call sql.Open("pgx", ...) without ever registering a driver
// under that name; this blank-imports pgx/v5/stdlib, which does, fixing
// the same defect noted in vault's and repository's Postgres backends.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig configures the Postgres checkpoint backend.
type PostgresConfig struct {
	ConnectionString string
	MaxOpenConns     int
}

// NewPostgresStore opens (and migrates) a Postgres-backed Checkpoint Store.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("agentensor: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("agentensor: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agentensor_checkpoints (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			config_version INTEGER NOT NULL,
			runnable_config JSONB NOT NULL,
			metrics JSONB NOT NULL,
			metadata JSONB NOT NULL,
			artifact_url TEXT,
			is_best BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_agentensor_workflow_version
			ON agentensor_checkpoints(workflow_id, config_version);
		CREATE INDEX IF NOT EXISTS idx_agentensor_workflow_best
			ON agentensor_checkpoints(workflow_id, is_best);
	`)
	return err
}

// RecordCheckpoint implements Store.RecordCheckpoint, resolving the next
// version under a per-workflow transaction-scoped advisory lock so
// concurrent writers for the same workflow
// never produce duplicate or skipped config_version values.
func (s *PostgresStore) RecordCheckpoint(ctx context.Context, in RecordInput) (Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, in.WorkflowID); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: acquire workflow lock: %w", err)
	}

	version := in.ConfigVersion
	if version == 0 {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(config_version), 0) FROM agentensor_checkpoints WHERE workflow_id = $1`,
			in.WorkflowID)
		if err := row.Scan(&version); err != nil {
			return Checkpoint{}, fmt.Errorf("agentensor: resolve next version: %w", err)
		}
		version++
	}

	if in.IsBest {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agentensor_checkpoints SET is_best = FALSE WHERE workflow_id = $1`, in.WorkflowID); err != nil {
			return Checkpoint{}, fmt.Errorf("agentensor: clear is_best: %w", err)
		}
	}

	cp := Checkpoint{
		ID:             uuid.NewString(),
		WorkflowID:     in.WorkflowID,
		ConfigVersion:  version,
		RunnableConfig: in.RunnableConfig,
		Metrics:        in.Metrics,
		Metadata:       in.Metadata,
		ArtifactURL:    in.ArtifactURL,
		IsBest:         in.IsBest,
		CreatedAt:      time.Now(),
	}

	runnableConfig, err := json.Marshal(cp.RunnableConfig)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: marshal runnable_config: %w", err)
	}
	metrics, err := json.Marshal(cp.Metrics)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: marshal metrics: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agentensor_checkpoints
			(id, workflow_id, config_version, runnable_config, metrics, metadata, artifact_url, is_best, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cp.ID, cp.WorkflowID, cp.ConfigVersion, runnableConfig, metrics, metadata,
		cp.ArtifactURL, cp.IsBest, cp.CreatedAt,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: commit: %w", err)
	}
	return cp, nil
}

func scanPGCheckpoint(row interface {
	Scan(dest ...any) error
}) (Checkpoint, error) {
	var (
		cp                                 Checkpoint
		runnableConfig, metrics, metadata  []byte
		artifactURL                        sql.NullString
	)
	if err := row.Scan(&cp.ID, &cp.WorkflowID, &cp.ConfigVersion, &runnableConfig, &metrics, &metadata,
		&artifactURL, &cp.IsBest, &cp.CreatedAt); err != nil {
		return Checkpoint{}, err
	}
	cp.ArtifactURL = artifactURL.String
	if err := json.Unmarshal(runnableConfig, &cp.RunnableConfig); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal runnable_config: %w", err)
	}
	if err := json.Unmarshal(metrics, &cp.Metrics); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal metadata: %w", err)
	}
	return cp, nil
}

// ListCheckpoints implements Store.ListCheckpoints.
func (s *PostgresStore) ListCheckpoints(ctx context.Context, workflowID string, limit int) ([]Checkpoint, error) {
	query := `SELECT id, workflow_id, config_version, runnable_config, metrics, metadata, artifact_url, is_best, created_at
		FROM agentensor_checkpoints WHERE workflow_id = $1 ORDER BY config_version DESC`
	args := []any{workflowID}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("agentensor: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanPGCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetCheckpoint implements Store.GetCheckpoint.
func (s *PostgresStore) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, config_version, runnable_config, metrics, metadata, artifact_url, is_best, created_at
		FROM agentensor_checkpoints WHERE id = $1`, id)
	cp, err := scanPGCheckpoint(row)
	if err == sql.ErrNoRows {
		return Checkpoint{}, orcheoerrors.NewNotFound("checkpoint", id)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: get checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint implements Store.LatestCheckpoint.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context, workflowID string) (Checkpoint, bool, error) {
	list, err := s.ListCheckpoints(ctx, workflowID, 1)
	if err != nil {
		return Checkpoint{}, false, err
	}
	if len(list) == 0 {
		return Checkpoint{}, false, nil
	}
	return list[0], true, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
