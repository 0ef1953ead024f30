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
	_ "modernc.org/sqlite"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// SQLiteRepository is a single-writer, WAL-mode SQLite Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// SQLiteConfig configures the SQLite repository backend.
type SQLiteConfig struct {
	Path string
}

// NewSQLiteRepository opens (and migrates) a SQLite-backed repository.
func NewSQLiteRepository(cfg SQLiteConfig) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository: pragma %s: %w", p, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			description TEXT,
			tags TEXT,
			is_archived INTEGER NOT NULL DEFAULT 0,
			is_public INTEGER NOT NULL DEFAULT 0,
			publish_token_hash TEXT,
			published_at TEXT,
			published_by TEXT,
			require_login INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			graph TEXT,
			metadata TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
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
			input_payload TEXT,
			output_payload TEXT,
			started_at TEXT,
			completed_at TEXT,
			error TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			actor TEXT,
			action TEXT,
			timestamp TEXT NOT NULL,
			metadata TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("repository: migration failed: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) recordAudit(ctx context.Context, workflowID string, evt AuditEvent) error {
	metaJSON, _ := json.Marshal(evt.Metadata)
	_, err := r.db.ExecContext(ctx, `INSERT INTO workflow_audit_events (workflow_id, actor, action, timestamp, metadata) VALUES (?, ?, ?, ?, ?)`,
		workflowID, evt.Actor, evt.Action, evt.Timestamp.Format(time.RFC3339), string(metaJSON))
	return err
}

func (r *SQLiteRepository) loadAudit(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT actor, action, timestamp, metadata FROM workflow_audit_events WHERE workflow_id = ? ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var evt AuditEvent
		var ts string
		var metaJSON sql.NullString
		if err := rows.Scan(&evt.Actor, &evt.Action, &ts, &metaJSON); err != nil {
			return nil, err
		}
		evt.Timestamp, _ = time.Parse(time.RFC3339, ts)
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &evt.Metadata)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CreateWorkflow inserts a new workflow row.
func (r *SQLiteRepository) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (Workflow, error) {
	base := slugify(in.Name)
	slug := base
	for i := 2; i < 5; i++ {
		var count int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE slug = ?`, slug).Scan(&count); err != nil {
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

	_, err := r.db.ExecContext(ctx, `INSERT INTO workflows (id, name, slug, description, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Slug, w.Description, string(tagsJSON), now.Format(time.RFC3339))
	if err != nil {
		return Workflow{}, fmt.Errorf("repository: insert workflow: %w", err)
	}
	if err := r.recordAudit(ctx, w.ID, AuditEvent{Actor: in.Actor, Action: "create", Timestamp: now}); err != nil {
		return Workflow{}, fmt.Errorf("repository: record audit: %w", err)
	}
	w.AuditLog, _ = r.loadAudit(ctx, w.ID)
	return w, nil
}

func (r *SQLiteRepository) scanWorkflow(row interface{ Scan(dest ...any) error }) (Workflow, error) {
	var w Workflow
	var description, publishHash, publishedBy sql.NullString
	var publishedAt sql.NullString
	var tagsJSON sql.NullString
	var isArchived, isPublic, requireLogin int
	var createdAt string

	err := row.Scan(&w.ID, &w.Name, &w.Slug, &description, &tagsJSON, &isArchived, &isPublic,
		&publishHash, &publishedAt, &publishedBy, &requireLogin, &createdAt)
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
	w.IsArchived = isArchived != 0
	w.IsPublic = isPublic != 0
	w.PublishTokenHash = publishHash.String
	w.PublishedBy = publishedBy.String
	w.RequireLogin = requireLogin != 0
	if publishedAt.Valid {
		t, err := time.Parse(time.RFC3339, publishedAt.String)
		if err == nil {
			w.PublishedAt = &t
		}
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return w, nil
}

const workflowColumns = `id, name, slug, description, tags, is_archived, is_public, publish_token_hash, published_at, published_by, require_login, created_at`

// GetWorkflow fetches a workflow by ID.
func (r *SQLiteRepository) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
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
func (r *SQLiteRepository) GetWorkflowBySlug(ctx context.Context, slug string) (Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE slug = ?`, slug)
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
func (r *SQLiteRepository) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows`)
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
func (r *SQLiteRepository) ArchiveWorkflow(ctx context.Context, id string, actor string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE workflows SET is_archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repository: archive workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orcheoerrors.NewNotFound("workflow", id)
	}
	return r.recordAudit(ctx, id, AuditEvent{Actor: actor, Action: "archive", Timestamp: time.Now()})
}

// CreateVersion appends an immutable version row with the next version
// number, computed under a transaction so concurrent inserts stay monotonic.
func (r *SQLiteRepository) CreateVersion(ctx context.Context, in CreateVersionInput) (WorkflowVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE id = ?`, in.WorkflowID).Scan(&exists); err != nil {
		return WorkflowVersion{}, err
	}
	if exists == 0 {
		return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow", in.WorkflowID)
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM workflow_versions WHERE workflow_id = ?`, in.WorkflowID).Scan(&maxVersion); err != nil {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkflowID, v.Version, string(graphJSON), string(metaJSON), v.CreatedBy, v.CreatedAt.Format(time.RFC3339), v.Notes, v.Checksum)
	if err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return WorkflowVersion{}, fmt.Errorf("repository: commit version: %w", err)
	}
	return v, nil
}

func (r *SQLiteRepository) scanVersion(row interface{ Scan(dest ...any) error }) (WorkflowVersion, error) {
	var v WorkflowVersion
	var graphJSON, metaJSON sql.NullString
	var createdAt string
	err := row.Scan(&v.ID, &v.WorkflowID, &v.Version, &graphJSON, &metaJSON, &v.CreatedBy, &createdAt, &v.Notes, &v.Checksum)
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
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return v, nil
}

const versionColumns = `id, workflow_id, version, graph, metadata, created_by, created_at, notes, checksum`

// GetVersion fetches one version by its 1-based version number.
func (r *SQLiteRepository) GetVersion(ctx context.Context, workflowID string, version int) (WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE workflow_id = ? AND version = ?`, workflowID, version)
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
func (r *SQLiteRepository) ListVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE workflow_id = ? ORDER BY version ASC`, workflowID)
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
func (r *SQLiteRepository) DiffVersions(ctx context.Context, workflowID string, base, target int) (VersionDiff, error) {
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
func (r *SQLiteRepository) CreateRun(ctx context.Context, in CreateRunInput) (WorkflowRun, error) {
	now := time.Now()
	run := WorkflowRun{ID: uuid.NewString(), WorkflowID: in.WorkflowID, WorkflowVersionID: in.WorkflowVersionID,
		Status: RunPending, TriggeredBy: in.TriggeredBy, InputPayload: in.InputPayload, CreatedAt: now}

	inputJSON, _ := json.Marshal(run.InputPayload)
	_, err := r.db.ExecContext(ctx, `INSERT INTO workflow_runs (id, workflow_id, workflow_version_id, status, triggered_by, input_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.WorkflowVersionID, string(run.Status), run.TriggeredBy, string(inputJSON), now.Format(time.RFC3339))
	if err != nil {
		return WorkflowRun{}, fmt.Errorf("repository: insert run: %w", err)
	}
	return run, nil
}

func (r *SQLiteRepository) scanRun(row interface{ Scan(dest ...any) error }) (WorkflowRun, error) {
	var run WorkflowRun
	var versionID, errMsg sql.NullString
	var inputJSON, outputJSON sql.NullString
	var startedAt, completedAt sql.NullString
	var status, createdAt string

	err := row.Scan(&run.ID, &run.WorkflowID, &versionID, &status, &run.TriggeredBy, &inputJSON, &outputJSON,
		&startedAt, &completedAt, &errMsg, &createdAt)
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
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return run, nil
}

const runColumns = `id, workflow_id, workflow_version_id, status, triggered_by, input_payload, output_payload, started_at, completed_at, error, created_at`

// GetRun fetches a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
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
func (r *SQLiteRepository) ListRuns(ctx context.Context, workflowID string) ([]WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE workflow_id = ?`, workflowID)
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

func (r *SQLiteRepository) transitionRun(ctx context.Context, id string, target RunStatus, setCols string, args []any) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM workflow_runs WHERE id = ?`, id).Scan(&current)
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

	query := fmt.Sprintf(`UPDATE workflow_runs SET status = ?, %s WHERE id = ?`, setCols)
	fullArgs := append([]any{string(target)}, args...)
	fullArgs = append(fullArgs, id)
	_, err = r.db.ExecContext(ctx, query, fullArgs...)
	return err
}

// MarkRunStarted transitions pending -> running.
func (r *SQLiteRepository) MarkRunStarted(ctx context.Context, id string) error {
	return r.transitionRun(ctx, id, RunRunning, "started_at = ?", []any{time.Now().Format(time.RFC3339)})
}

// MarkRunSucceeded transitions running -> succeeded, recording output.
func (r *SQLiteRepository) MarkRunSucceeded(ctx context.Context, id string, output map[string]any) error {
	outputJSON, _ := json.Marshal(output)
	return r.transitionRun(ctx, id, RunSucceeded, "completed_at = ?, output_payload = ?",
		[]any{time.Now().Format(time.RFC3339), string(outputJSON)})
}

// MarkRunFailed transitions {pending,running} -> failed, recording errMsg.
func (r *SQLiteRepository) MarkRunFailed(ctx context.Context, id string, errMsg string) error {
	return r.transitionRun(ctx, id, RunFailed, "completed_at = ?, error = ?", []any{time.Now().Format(time.RFC3339), errMsg})
}

// MarkRunCancelled transitions any non-terminal state -> cancelled.
func (r *SQLiteRepository) MarkRunCancelled(ctx context.Context, id string, reason string) error {
	return r.transitionRun(ctx, id, RunCancelled, "completed_at = ?, error = ?", []any{time.Now().Format(time.RFC3339), reason})
}

// PublishWorkflow publishes a workflow; fails if already public.
func (r *SQLiteRepository) PublishWorkflow(ctx context.Context, workflowID string, tokenHash string, requireLogin bool, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is already public")
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET is_public = 1, publish_token_hash = ?, published_at = ?, published_by = ?, require_login = ? WHERE id = ?`,
		tokenHash, now.Format(time.RFC3339), actor, boolToInt(requireLogin), workflowID)
	if err != nil {
		return fmt.Errorf("repository: publish workflow: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{Actor: actor, Action: "publish", Timestamp: now, Metadata: map[string]any{"token": maskToken(tokenHash)}})
}

// RotatePublishToken replaces the publish token; fails if not public.
func (r *SQLiteRepository) RotatePublishToken(ctx context.Context, workflowID string, tokenHash string, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	previous := w.PublishTokenHash
	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET publish_token_hash = ? WHERE id = ?`, tokenHash, workflowID)
	if err != nil {
		return fmt.Errorf("repository: rotate publish token: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{
		Actor: actor, Action: "rotate_publish_token", Timestamp: time.Now(),
		Metadata: map[string]any{"previous_token": maskToken(previous), "new_token": maskToken(tokenHash)},
	})
}

// RevokePublish unpublishes a workflow; fails if not public.
func (r *SQLiteRepository) RevokePublish(ctx context.Context, workflowID string, actor string) error {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	_, err = r.db.ExecContext(ctx, `UPDATE workflows SET is_public = 0, publish_token_hash = '', published_at = NULL WHERE id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("repository: revoke publish: %w", err)
	}
	return r.recordAudit(ctx, workflowID, AuditEvent{Actor: actor, Action: "revoke_publish", Timestamp: time.Now()})
}

// VerifyPublishToken resolves a workflow by slug and checks rawToken.
func (r *SQLiteRepository) VerifyPublishToken(ctx context.Context, slug string, rawToken string) (Workflow, error) {
	w, err := r.GetWorkflowBySlug(ctx, slug)
	if err != nil {
		return Workflow{}, err
	}
	if !w.IsPublic || !verifyTokenHash(rawToken, w.PublishTokenHash) {
		return Workflow{}, orcheoerrors.NewWorkflowPublishStateError(w.ID, "invalid or expired publish token")
	}
	return w, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Repository = (*SQLiteRepository)(nil)
