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

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// PostgresRepository is a connection-pooled Postgres Repository.
//
// The teacher's equivalent backend calls sql.Open("pgx", ...) without
// registering a pgx driver anywhere in its import graph or go.mod, so it
// fails at runtime with `unknown driver "pgx"`; this constructor corrects
// that by registering the pgx stdlib driver via blank import, matching how
// rakunlabs-at and jordigilh-kubernaut both depend on jackc/pgx/v5.
type PostgresRepository struct {
	db *sql.DB
}

// PostgresConfig configures the Postgres repository backend's pool.
type PostgresConfig struct {
	ConnectionString string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxIdleTime   time.Duration
}

// NewPostgresRepository opens (and migrates) a Postgres-backed repository.
func NewPostgresRepository(cfg PostgresConfig) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
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
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}

	r := &PostgresRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			description TEXT,
			tags JSONB,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			publish_token_hash TEXT,
			published_at TIMESTAMPTZ,
			published_by TEXT,
			require_login BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			graph JSONB,
			metadata JSONB,
			created_by TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			notes TEXT,
			checksum TEXT,
			UNIQUE(workflow_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_version_id TEXT,
			status TEXT NOT NULL,
			triggered_by TEXT,
			input_payload JSONB,
			output_payload JSONB,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_audit_events (
			id BIGSERIAL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			actor TEXT,
			action TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			metadata JSONB
		)`,
	}
	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("repository: migration failed: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) recordAudit(ctx context.Context, workflowID string, evt AuditEvent) error {
	metaJSON, _ := json.Marshal(evt.Metadata)
	_, err := r.db.ExecContext(ctx, `INSERT INTO workflow_audit_events (workflow_id, actor, action, timestamp, metadata) VALUES ($1, $2, $3, $4, $5)`,
		workflowID, evt.Actor, evt.Action, evt.Timestamp, string(metaJSON))
	return err
}

func (r *PostgresRepository) loadAudit(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT actor, action, timestamp, metadata FROM workflow_audit_events WHERE workflow_id = $1 ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var evt AuditEvent
		var metaJSON sql.NullString
		if err := rows.Scan(&evt.Actor, &evt.Action, &evt.Timestamp, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &evt.Metadata)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CreateWorkflow inserts a new workflow row.
func (r *PostgresRepository) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (Workflow, error) {
	base := slugify(in.Name)
	slug := base
	for i := 2; i < 5; i++ {
		var count int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE slug = $1`, slug).Scan(&count); err != nil {
			return Workflow{}, fmt.Errorf("repository: check slug: %w", err)
		}
		if count == 0 {
			break
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}

	now := time.Now()
	tagsJSON, _ := json.Marshal(dedupeLowerTags(in.Tags))
	w := Workflow{ID: uuid.NewString(), Name: in.Name, Slug: slug, Description: in.Description, Tags: dedupeLowerTags(in.Tags), CreatedAt: now}

	_, err := r.db.ExecContext(ctx, `INSERT INTO workflows (id, name, slug, description, tags, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.Name, w.Slug, w.Description, string(tagsJSON), now)
	if err != nil {
		return Workflow{}, fmt.Errorf("repository: insert workflow: %w", err)
	}
	if err := r.recordAudit(ctx, w.ID, AuditEvent{Actor: in.Actor, Action: "create", Timestamp: now}); err != nil {
		return Workflow{}, fmt.Errorf("repository: record audit: %w", err)
	}
	w.AuditLog, _ = r.loadAudit(ctx, w.ID)
	return w, nil
}

func (r *PostgresRepository) scanWorkflow(row interface{ Scan(dest ...any) error }) (Workflow, error) {
	var w Workflow
	var description, publishHash, publishedBy sql.NullString
	var publishedAt sql.NullTime
	var tagsJSON sql.NullString

	err := row.Scan(&w.ID, &w.Name, &w.Slug, &description, &tagsJSON, &w.IsArchived, &w.IsPublic,
		&publishHash, &publishedAt, &publishedBy, &w.RequireLogin, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return Workflow{}, orcheoerrors.NewNotFound("workflow", "")
	}
	if err != nil {
		return Workflow{}, fmt.Errorf("repository: scan workflow: %w", err)
	}

	w.Description = description.String
	if tagsJSON.Valid {
		_ = json.Unmarshal([]byte(tagsJSON.String), &w.Tags)
	}
	w.PublishTokenHash = publishHash.String
	w.PublishedBy = publishedBy.String
	if publishedAt.Valid {
		t := publishedAt.Time
		w.PublishedAt = &t
	}
	return w, nil
}

const pgWorkflowColumns = `id, name, slug, description, tags, is_archived, is_public, publish_token_hash, published_at, published_by, require_login, created_at`

// GetWorkflow fetches a workflow by ID.
func (r *PostgresRepository) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows WHERE id = $1`, id)
	w, err := r.scanWorkflow(row)
	if err != nil {
		if orcheoerrors.IsNotFound(err) {
			return Workflow{}, orcheoerrors.NewNotFound("workflow", id)
		}
		return Workflow{}, err
	}
	w.AuditLog, _ = r.loadAudit(ctx, id)
	return w, nil
}

// GetWorkflowBySlug fetches a workflow by its unique slug.
func (r *PostgresRepository) GetWorkflowBySlug(ctx context.Context, slug string) (Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows WHERE slug = $1`, slug)
	w, err := r.scanWorkflow(row)
	if err != nil {
		if orcheoerrors.IsNotFound(err) {
			return Workflow{}, orcheoerrors.NewNotFound("workflow", slug)
		}
		return Workflow{}, err
	}
	w.AuditLog, _ = r.loadAudit(ctx, w.ID)
	return w, nil
}

// ListWorkflows returns every workflow row.
func (r *PostgresRepository) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows`)
	if err != nil {
		return nil, fmt.Errorf("repository: list workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		w, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ArchiveWorkflow marks a workflow archived.
func (r *PostgresRepository) ArchiveWorkflow(ctx context.Context, id string, actor string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE workflows SET is_archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: archive workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orcheoerrors.NewNotFound("workflow", id)
	}
	return r.recordAudit(ctx, id, AuditEvent{Actor: actor, Action: "archive", Timestamp: time.Now()})
}

// CreateVersion appends an immutable version row with the next version
// number under a transaction so concurrent inserts stay monotonic.
func (r *PostgresRepository) CreateVersion(ctx context.Context, in CreateVersionInput) (WorkflowVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = $1 FOR UPDATE`, in.WorkflowID).Scan(&locked); err != nil {
		if err == sql.ErrNoRows {
			return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow", in.WorkflowID)
		}
		return WorkflowVersion{}, err
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM workflow_versions WHERE workflow_id = $1`, in.WorkflowID).Scan(&maxVersion); err != nil {
		return WorkflowVersion{}, err
	}
	next := 1
	if maxVersion.Valid {
		next = int(maxVersion.Int64) + 1
	}

	sum, err := checksum(in.Graph)
	if err != nil {
		return WorkflowVersion{}, err
	}

	v := WorkflowVersion{
		ID: uuid.NewString(), WorkflowID: in.WorkflowID, Version: next, Graph: in.Graph, Metadata: in.Metadata,
		CreatedBy: in.Actor, CreatedAt: time.Now(), Notes: in.Notes, Checksum: sum,
	}
	graphJSON, _ := json.Marshal(v.Graph)
	metaJSON, _ := json.Marshal(v.Metadata)

	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_versions (id, workflow_id, version, graph, metadata, created_by, created_at, notes, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.WorkflowID, v.Version, string(graphJSON), string(metaJSON), v.CreatedBy, v.CreatedAt, v.Notes, v.Checksum)
	if err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: commit version: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) scanVersion(row interface{ Scan(dest ...any) error }) (WorkflowVersion, error) {
	var v WorkflowVersion
	var graphJSON, metaJSON sql.NullString
	err := row.Scan(&v.ID, &v.WorkflowID, &v.Version, &graphJSON, &metaJSON, &v.CreatedBy, &v.CreatedAt, &v.Notes, &v.Checksum)
	if err == sql.ErrNoRows {
		return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow_version", "")
	}
	if err != nil {
		return WorkflowVersion{}, err
	}
	if graphJSON.Valid {
		_ = json.Unmarshal([]byte(graphJSON.String), &v.Graph)
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &v.Metadata)
	}
	return v, nil
}

const pgVersionColumns = `id, workflow_id, version, graph, metadata, created_by, created_at, notes, checksum`

// GetVersion fetches one version by its 1-based version number.
func (r *PostgresRepository) GetVersion(ctx context.Context, workflowID string, version int) (WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pgVersionColumns+` FROM workflow_versions WHERE workflow_id = $1 AND version = $2`, workflowID, version)
	v, err := r.scanVersion(row)
	if err != nil {
		if orcheoerrors.IsNotFound(err) {
			return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow_version", workflowID)
		}
		return WorkflowVersion{}, err
	}
	return v, nil
}

// ListVersions returns every version of a workflow ordered by version.
func (r *PostgresRepository) ListVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pgVersionColumns+` FROM workflow_versions WHERE workflow_id = $1 ORDER BY version ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowVersion
	for rows.Next() {
		v, err := r.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DiffVersions computes a unified diff over canonical-JSON(graph).
func (r *PostgresRepository) DiffVersions(ctx context.Context, workflowID string, base, target int) (VersionDiff, error) {
	baseVersion, err := r.GetVersion(ctx, workflowID, base)
	if err != nil {
		return VersionDiff{}, err
	}
	targetVersion, err := r.GetVersion(ctx, workflowID, target)
	if err != nil {
		return VersionDiff{}, err
	}
	lines, err := unifiedDiffLines(baseVersion.Graph, targetVersion.Graph)
	if err != nil {
		return VersionDiff{}, err
	}
	return VersionDiff{Base: baseVersion, Target: targetVersion, Lines: lines}, nil
}

// CreateRun inserts a new pending run row.
func (r *PostgresRepository) CreateRun(ctx context.Context, in CreateRunInput) (WorkflowRun, error) {
	now := time.Now()
	run := WorkflowRun{ID: uuid.NewString(), WorkflowID: in.WorkflowID, WorkflowVersionID: in.WorkflowVersionID,
		Status: RunPending, TriggeredBy: in.TriggeredBy, InputPayload: in.InputPayload, CreatedAt: now}

	inputJSON, _ := json.Marshal(run.InputPayload)
	_, err := r.db.ExecContext(ctx, `INSERT INTO workflow_runs (id, workflow_id, workflow_version_id, status, triggered_by, input_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.WorkflowID, run.WorkflowVersionID, string(run.Status), run.TriggeredBy, string(inputJSON), now)
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("repository: insert run: %w", err)
	}
	return run, nil
}

func (r *PostgresRepository) scanRun(row interface{ Scan(dest ...any) error }) (WorkflowRun, error) {
	var run WorkflowRun
	var versionID, errMsg sql.NullString
	var inputJSON, outputJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	var status string

	err := row.Scan(&run.ID, &run.WorkflowID, &versionID, &status, &run.TriggeredBy, &inputJSON, &outputJSON,
		&startedAt, &completedAt, &errMsg, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return WorkflowRun{}, orcheoerrors.NewNotFound("workflow_run", "")
	}
	if err != nil {
		return WorkflowRun{}, err
	}

	run.WorkflowVersionID = versionID.String
	run.Status = RunStatus(status)
	run.Error = errMsg.String
	if inputJSON.Valid {
		_ = json.Unmarshal([]byte(inputJSON.String), &run.InputPayload)
	}
	if outputJSON.Valid {
		_ = json.Unmarshal([]byte(outputJSON.String), &run.OutputPayload)
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

const pgRunColumns = `id, workflow_id, workflow_version_id, status, triggered_by, input_payload, output_payload, started_at, completed_at, error, created_at`

// GetRun fetches a run by ID.
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pgRunColumns+` FROM workflow_runs WHERE id = $1`, id)
	run, err := r.scanRun(row)
	if err != nil {
		if orcheoerrors.IsNotFound(err) {
			return WorkflowRun{}, orcheoerrors.NewNotFound("workflow_run", id)
		}
		return WorkflowRun{}, err
	}
	return run, nil
}

// ListRuns returns every run belonging to a workflow.
func (r *PostgresRepository) ListRuns(ctx context.Context, workflowID string) ([]WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pgRunColumns+` FROM workflow_runs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) transitionRun(ctx context.Context, id string, target RunStatus, setClause string, args []any) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM workflow_runs WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return orcheoerrors.NewNotFound("workflow_run", id)
	}
	if err != nil {
		return err
	}

	valid := false
	switch {
	case RunStatus(current) == RunPending && target == RunRunning:
		valid = true
	case RunStatus(current) == RunRunning && target == RunSucceeded:
		valid = true
	case (RunStatus(current) == RunPending || RunStatus(current) == RunRunning) && target == RunFailed:
		valid = true
	case !RunStatus(current).IsTerminal() && target == RunCancelled:
		valid = true
	}
	if !valid {
		return orcheoerrors.NewInvalidTransition("workflow_run", current, string(target))
	}

	query := fmt.Sprintf(`UPDATE workflow_runs SET status = $1, %s WHERE id = $%d`, setClause, len(args)+2)
	fullArgs := append([]any{string(target)}, args...)
	fullArgs = append(fullArgs, id)
	_, err = r.db.ExecContext(ctx, query, fullArgs...)
	return err
}

// MarkRunStarted transitions pending -> running.
func (r *PostgresRepository) MarkRunStarted(ctx context.Context, id string) error {
	return r.transitionRun(ctx, id, RunRunning, "started_at = $2", []any{time.Now()})
}

// MarkRunSucceeded transitions running -> succeeded, recording output.
func (r *PostgresRepository) MarkRunSucceeded(ctx context.Context, id string, output map[string]any) error {
	outputJSON, _ := json.Marshal(output)
	return r.transitionRun(ctx, id, RunSucceeded, "completed_at = $2, output_payload = $3", []any{time.Now(), string(outputJSON)})
}

// MarkRunFailed transitions {pending,running} -> failed, recording errMsg.
func (r *PostgresRepository) MarkRunFailed(ctx context.Context, id string, errMsg string) error {
	return r.transitionRun(ctx, id, RunFailed, "completed_at = $2, error = $3", []any{time.Now(), errMsg})
}

// MarkRunCancelled transitions any non-terminal state -> cancelled.
func (r *PostgresRepository) MarkRunCancelled(ctx context.Context, id string, reason string) error {
	return r.transitionRun(ctx, id, RunCancelled, "completed_at = $2, error = $3", []any{time.Now(), reason})
}

// PublishWorkflow publishes a workflow; fails if already public.
func (r *PostgresRepository) PublishWorkflow(ctx context.Context, workflowID string, tokenHash string, requireLogin bool, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is already public")
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET is_public = TRUE, publish_token_hash = $1, published_at = $2, published_by = $3, require_login = $4 WHERE id = $5`,
		tokenHash, now, actor, requireLogin, workflowID)
	if err != nil {
		return fmt.Errorf("repository: publish workflow: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{Actor: actor, Action: "publish", Timestamp: now, Metadata: map[string]any{"token": maskToken(tokenHash)}})
}

// RotatePublishToken replaces the publish token; fails if not public.
func (r *PostgresRepository) RotatePublishToken(ctx context.Context, workflowID string, tokenHash string, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	previous := w.PublishTokenHash
	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET publish_token_hash = $1 WHERE id = $2`, tokenHash, workflowID)
	if err != nil {
		return fmt.Errorf("repository: rotate publish token: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{
		Actor: actor, Action: "rotate_publish_token", Timestamp: time.Now(),
		Metadata: map[string]any{"previous_token": maskToken(previous), "new_token": maskToken(tokenHash)},
	})
}

// RevokePublish unpublishes a workflow; fails if not public.
func (r *PostgresRepository) RevokePublish(ctx context.Context, workflowID string, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET is_public = FALSE, publish_token_hash = '', published_at = NULL WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("repository: revoke publish: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{Actor: actor, Action: "revoke_publish", Timestamp: time.Now()})
}

// VerifyPublishToken resolves a workflow by slug and checks rawToken.
func (r *PostgresRepository) VerifyPublishToken(ctx context.Context, slug string, rawToken string) (Workflow, error) {
	w, err := r.GetWorkflowBySlug(ctx, slug)
	if err != nil {
		return Workflow{}, err
	}
	if !w.IsPublic || !verifyTokenHash(rawToken, w.PublishTokenHash) {
		return Workflow{}, orcheoerrors.NewWorkflowPublishStateError(w.ID, "invalid or expired publish token")
	}
	return w, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() error { return r.db.Close() }

var _ Repository = (*PostgresRepository)(nil)
