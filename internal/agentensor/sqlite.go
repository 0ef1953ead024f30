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

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// SQLiteStore is a single-writer, WAL-mode SQLite Checkpoint Store,
// grounded on the same connection/migration conventions as vault's and
// history's SQLite backends.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite checkpoint backend.
type SQLiteConfig struct {
	Path string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed Checkpoint Store.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("agentensor: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("agentensor: pragma %s: %w", p, err)
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
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agentensor_checkpoints (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			config_version INTEGER NOT NULL,
			runnable_config TEXT NOT NULL,
			metrics TEXT NOT NULL,
			metadata TEXT NOT NULL,
			artifact_url TEXT,
			is_best INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_agentensor_workflow_version
			ON agentensor_checkpoints(workflow_id, config_version);
		CREATE INDEX IF NOT EXISTS idx_agentensor_workflow_best
			ON agentensor_checkpoints(workflow_id, is_best);
	`)
	return err
}

// RecordCheckpoint implements Store.RecordCheckpoint under a transaction
// so the max(config_version)+1 resolution and the is_best clear-and-set
// are atomic with respect to concurrent writers.
func (s *SQLiteStore) RecordCheckpoint(ctx context.Context, in RecordInput) (Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: begin tx: %w", err)
	}
	defer tx.Rollback()

	version := in.ConfigVersion
	if version == 0 {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(config_version), 0) FROM agentensor_checkpoints WHERE workflow_id = ?`,
			in.WorkflowID)
		if err := row.Scan(&version); err != nil {
			return Checkpoint{}, fmt.Errorf("agentensor: resolve next version: %w", err)
		}
		version++
	}

	if in.IsBest {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agentensor_checkpoints SET is_best = 0 WHERE workflow_id = ?`, in.WorkflowID); err != nil {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.WorkflowID, cp.ConfigVersion, string(runnableConfig), string(metrics), string(metadata),
		cp.ArtifactURL, boolToInt(cp.IsBest), cp.CreatedAt,
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: commit: %w", err)
	}
	return cp, nil
}

func scanCheckpoint(row interface {
	Scan(dest ...any) error
}) (Checkpoint, error) {
	var (
		cp                                       Checkpoint
		runnableConfig, metrics, metadata         string
		artifactURL                               sql.NullString
		isBest                                    int
	)
	if err := row.Scan(&cp.ID, &cp.WorkflowID, &cp.ConfigVersion, &runnableConfig, &metrics, &metadata,
		&artifactURL, &isBest, &cp.CreatedAt); err != nil {
		return Checkpoint{}, err
	}
	cp.ArtifactURL = artifactURL.String
	cp.IsBest = isBest != 0
	if err := json.Unmarshal([]byte(runnableConfig), &cp.RunnableConfig); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal runnable_config: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &cp.Metrics); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &cp.Metadata); err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: unmarshal metadata: %w", err)
	}
	return cp, nil
}

// ListCheckpoints implements Store.ListCheckpoints.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, workflowID string, limit int) ([]Checkpoint, error) {
	query := `SELECT id, workflow_id, config_version, runnable_config, metrics, metadata, artifact_url, is_best, created_at
		FROM agentensor_checkpoints WHERE workflow_id = ? ORDER BY config_version DESC`
	args := []any{workflowID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("agentensor: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetCheckpoint implements Store.GetCheckpoint.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, config_version, runnable_config, metrics, metadata, artifact_url, is_best, created_at
		FROM agentensor_checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return Checkpoint{}, orcheoerrors.NewNotFound("checkpoint", id)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("agentensor: get checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint implements Store.LatestCheckpoint.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, workflowID string) (Checkpoint, bool, error) {
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
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
