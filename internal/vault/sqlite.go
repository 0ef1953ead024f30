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

package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// SQLiteVault is a single-writer SQLite backend for the vault (WAL journal
// mode when SQLiteConfig.WAL is set),
// grounded on internal/controller/backend/sqlite's connection and
// migration conventions.
type SQLiteVault struct {
	db     *sql.DB
	cipher Cipher
}

// SQLiteConfig configures the SQLite vault backend.
type SQLiteConfig struct {
	Path string
	WAL  bool
}

// NewSQLiteVault opens (and migrates) a SQLite-backed vault.
func NewSQLiteVault(cfg SQLiteConfig, cipher Cipher) (*SQLiteVault, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("vault: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if cfg.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault: pragma %s: %w", p, err)
		}
	}

	v := &SQLiteVault{db: db, cipher: cipher}
	if err := v.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

func (v *SQLiteVault) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			provider TEXT NOT NULL,
			kind TEXT NOT NULL,
			access TEXT NOT NULL,
			scopes TEXT,
			template_id TEXT,
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL,
			key_version INTEGER NOT NULL DEFAULT 1,
			health_status TEXT NOT NULL DEFAULT 'UNKNOWN',
			health_checked_at TEXT,
			health_failure_reason TEXT,
			created_at TEXT NOT NULL,
			owner TEXT,
			audit_log TEXT,
			audit_dropped INTEGER NOT NULL DEFAULT 0,
			schema_version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_scope_name ON credentials(workflow_id, name)`,
		`CREATE TABLE IF NOT EXISTS credential_templates (
			provider TEXT PRIMARY KEY,
			display_name TEXT,
			description TEXT,
			kind TEXT,
			scopes TEXT,
			fields TEXT,
			rotate_after_days INTEGER,
			governance_checks TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := v.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("vault: migration failed: %w", err)
		}
	}
	return nil
}

func (v *SQLiteVault) scanRow(row interface {
	Scan(dest ...any) error
}) (*Metadata, error) {
	var m Metadata
	var scopesJSON, auditJSON, healthCheckedAt, healthFailure, templateID, owner sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &m.WorkflowID, &m.Name, &m.Provider, &m.Kind, &m.Access, &scopesJSON,
		&templateID, &m.Encrypted.Ciphertext, &m.Encrypted.Nonce, &m.Encrypted.KeyVersion,
		&m.Health.Status, &healthCheckedAt, &healthFailure,
		&createdAt, &owner, &auditJSON, &m.AuditDropped,
	)
	if err == sql.ErrNoRows {
		return nil, orcheoerrors.NewNotFound("credential", "")
	}
	if err != nil {
		return nil, fmt.Errorf("vault: scan credential: %w", err)
	}

	if scopesJSON.Valid {
		_ = json.Unmarshal([]byte(scopesJSON.String), &m.Scopes)
	}
	if auditJSON.Valid {
		_ = json.Unmarshal([]byte(auditJSON.String), &m.AuditLog)
	}
	if templateID.Valid {
		m.TemplateID = templateID.String
	}
	if owner.Valid {
		m.Owner = owner.String
	}
	if healthFailure.Valid {
		m.Health.FailureReason = healthFailure.String
	}
	if healthCheckedAt.Valid {
		t, err := time.Parse(time.RFC3339, healthCheckedAt.String)
		if err == nil {
			m.Health.LastCheckedAt = &t
		}
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &m, nil
}

func (v *SQLiteVault) insert(ctx context.Context, m *Metadata) error {
	scopesJSON, _ := json.Marshal(m.Scopes)
	auditJSON, _ := json.Marshal(m.AuditLog)

	_, err := v.db.ExecContext(ctx, `
		INSERT INTO credentials (id, workflow_id, name, provider, kind, access, scopes, template_id,
			ciphertext, nonce, key_version, health_status, health_checked_at, health_failure_reason,
			created_at, owner, audit_log, audit_dropped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.WorkflowID, m.Name, m.Provider, m.Kind, m.Access, string(scopesJSON), nullString(m.TemplateID),
		m.Encrypted.Ciphertext, m.Encrypted.Nonce, m.Encrypted.KeyVersion,
		m.Health.Status, formatTimePtr(m.Health.LastCheckedAt), nullString(m.Health.FailureReason),
		m.CreatedAt.Format(time.RFC3339), nullString(m.Owner), string(auditJSON), m.AuditDropped,
	)
	if err != nil {
		return fmt.Errorf("vault: insert credential: %w", err)
	}
	return nil
}

func (v *SQLiteVault) update(ctx context.Context, m *Metadata) error {
	scopesJSON, _ := json.Marshal(m.Scopes)
	auditJSON, _ := json.Marshal(m.AuditLog)

	_, err := v.db.ExecContext(ctx, `
		UPDATE credentials SET workflow_id=?, name=?, provider=?, kind=?, access=?, scopes=?, template_id=?,
			ciphertext=?, nonce=?, key_version=?, health_status=?, health_checked_at=?, health_failure_reason=?,
			owner=?, audit_log=?, audit_dropped=?
		WHERE id=?`,
		m.WorkflowID, m.Name, m.Provider, m.Kind, m.Access, string(scopesJSON), nullString(m.TemplateID),
		m.Encrypted.Ciphertext, m.Encrypted.Nonce, m.Encrypted.KeyVersion,
		m.Health.Status, formatTimePtr(m.Health.LastCheckedAt), nullString(m.Health.FailureReason),
		nullString(m.Owner), string(auditJSON), m.AuditDropped, m.ID,
	)
	if err != nil {
		return fmt.Errorf("vault: update credential: %w", err)
	}
	return nil
}

// CreateCredential encrypts and inserts a new credential row.
func (v *SQLiteVault) CreateCredential(ctx context.Context, in CreateCredentialInput) (Metadata, error) {
	var existing int
	err := v.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM credentials WHERE workflow_id=? AND name=?`,
		in.WorkflowID, in.Name).Scan(&existing)
	if err != nil {
		return Metadata{}, fmt.Errorf("vault: check name conflict: %w", err)
	}
	if existing > 0 {
		return Metadata{}, orcheoerrors.NewNameConflict(in.WorkflowID, in.Name)
	}

	payload, err := v.cipher.Encrypt([]byte(in.Secret))
	if err != nil {
		return Metadata{}, err
	}

	access := in.Access
	if access == "" {
		access = AccessPrivate
	}

	m := &Metadata{
		ID:         newID(),
		WorkflowID: in.WorkflowID,
		Name:       in.Name,
		Provider:   in.Provider,
		Kind:       in.Kind,
		Access:     access,
		Scopes:     append([]string(nil), in.Scopes...),
		TemplateID: in.TemplateID,
		Encrypted:  payload,
		Health:     Health{Status: HealthUnknown},
		CreatedAt:  time.Now(),
		Owner:      in.Actor,
	}
	appendAudit(m, AuditEvent{Actor: in.Actor, Action: "create", Timestamp: m.CreatedAt})

	if err := v.insert(ctx, m); err != nil {
		return Metadata{}, err
	}
	return *m, nil
}

// ListCredentials returns every credential visible in scope.
func (v *SQLiteVault) ListCredentials(ctx context.Context, scope Context) ([]Metadata, error) {
	rows, err := v.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, provider, kind, access, scopes, template_id,
			ciphertext, nonce, key_version, health_status, health_checked_at, health_failure_reason,
			created_at, owner, audit_log, audit_dropped
		FROM credentials
		WHERE access = 'public' OR workflow_id = '' OR workflow_id = ?`, scope.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("vault: list credentials: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m, err := v.scanRow(rows)
		if err != nil {
			return nil, err
		}
		if visible(m, scope) {
			out = append(out, *m)
		}
	}
	return out, rows.Err()
}

// RevealSecret decrypts a credential's plaintext, enforcing scope.
func (v *SQLiteVault) RevealSecret(ctx context.Context, credentialID string, scope Context) (string, error) {
	m, err := v.GetCredential(ctx, credentialID)
	if err != nil {
		return "", err
	}
	if !visible(&m, scope) {
		return "", orcheoerrors.NewWorkflowScopeError(credentialID, scope.WorkflowID)
	}
	plaintext, err := v.cipher.Decrypt(m.Encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GetCredential fetches a credential row by ID.
func (v *SQLiteVault) GetCredential(ctx context.Context, credentialID string) (Metadata, error) {
	row := v.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, provider, kind, access, scopes, template_id,
			ciphertext, nonce, key_version, health_status, health_checked_at, health_failure_reason,
			created_at, owner, audit_log, audit_dropped
		FROM credentials WHERE id = ?`, credentialID)
	m, err := v.scanRow(row)
	if err != nil {
		if orcheoerrors.IsNotFound(err) {
			return Metadata{}, orcheoerrors.NewNotFound("credential", credentialID)
		}
		return Metadata{}, err
	}
	return *m, nil
}

// FindByName resolves a credential by (scope, name), preferring a
// workflow-private match over shared/public.
func (v *SQLiteVault) FindByName(ctx context.Context, scope Context, name string) (Metadata, error) {
	row := v.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, provider, kind, access, scopes, template_id,
			ciphertext, nonce, key_version, health_status, health_checked_at, health_failure_reason,
			created_at, owner, audit_log, audit_dropped
		FROM credentials WHERE workflow_id = ? AND name = ?`, scope.WorkflowID, name)
	if m, err := v.scanRow(row); err == nil {
		return *m, nil
	}

	row = v.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, provider, kind, access, scopes, template_id,
			ciphertext, nonce, key_version, health_status, health_checked_at, health_failure_reason,
			created_at, owner, audit_log, audit_dropped
		FROM credentials WHERE workflow_id = '' AND name = ?`, name)
	m, err := v.scanRow(row)
	if err != nil {
		return Metadata{}, orcheoerrors.NewNotFound("credential", name)
	}
	if !visible(m, scope) {
		return Metadata{}, orcheoerrors.NewNotFound("credential", name)
	}
	return *m, nil
}

// UpdateCredential loads, mutates, and persists a credential row.
func (v *SQLiteVault) UpdateCredential(ctx context.Context, credentialID string, actor string, mutate func(*Metadata)) (Metadata, error) {
	m, err := v.GetCredential(ctx, credentialID)
	if err != nil {
		return Metadata{}, err
	}
	mutate(&m)
	appendAudit(&m, AuditEvent{Actor: actor, Action: "update", Timestamp: time.Now()})
	if err := v.update(ctx, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// DeleteCredential removes a credential row.
func (v *SQLiteVault) DeleteCredential(ctx context.Context, credentialID string, actor string) error {
	res, err := v.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("vault: delete credential: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return orcheoerrors.NewNotFound("credential", credentialID)
	}
	return nil
}

// MarkHealth records the latest OAuth health check outcome.
func (v *SQLiteVault) MarkHealth(ctx context.Context, credentialID string, actor string, health Health) error {
	_, err := v.UpdateCredential(ctx, credentialID, actor, func(m *Metadata) { m.Health = health })
	return err
}

// UpdateOAuthTokens re-encrypts a refreshed OAuth token set.
func (v *SQLiteVault) UpdateOAuthTokens(ctx context.Context, credentialID string, actor string, tokens OAuthTokens) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("vault: marshal oauth tokens: %w", err)
	}
	payload, err := v.cipher.Encrypt(raw)
	if err != nil {
		return err
	}
	_, err = v.UpdateCredential(ctx, credentialID, actor, func(m *Metadata) { m.Encrypted = payload })
	return err
}

// CreateTemplate upserts a credential template.
func (v *SQLiteVault) CreateTemplate(ctx context.Context, tmpl Template) error {
	fieldsJSON, _ := json.Marshal(tmpl.Fields)
	scopesJSON, _ := json.Marshal(tmpl.Scopes)
	checksJSON, _ := json.Marshal(tmpl.GovernanceChecks)

	_, err := v.db.ExecContext(ctx, `
		INSERT INTO credential_templates (provider, display_name, description, kind, scopes, fields, rotate_after_days, governance_checks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET display_name=excluded.display_name, description=excluded.description,
			kind=excluded.kind, scopes=excluded.scopes, fields=excluded.fields,
			rotate_after_days=excluded.rotate_after_days, governance_checks=excluded.governance_checks`,
		tmpl.Provider, tmpl.DisplayName, tmpl.Description, tmpl.Kind, string(scopesJSON), string(fieldsJSON),
		tmpl.RotateAfterDays, string(checksJSON),
	)
	if err != nil {
		return fmt.Errorf("vault: upsert template: %w", err)
	}
	return nil
}

// GetTemplate fetches a template by provider slug.
func (v *SQLiteVault) GetTemplate(ctx context.Context, provider string) (Template, error) {
	row := v.db.QueryRowContext(ctx, `
		SELECT provider, display_name, description, kind, scopes, fields, rotate_after_days, governance_checks
		FROM credential_templates WHERE provider = ?`, provider)
	return scanTemplate(row)
}

// ListTemplates returns every registered template.
func (v *SQLiteVault) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := v.db.QueryContext(ctx, `
		SELECT provider, display_name, description, kind, scopes, fields, rotate_after_days, governance_checks
		FROM credential_templates`)
	if err != nil {
		return nil, fmt.Errorf("vault: list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row interface{ Scan(dest ...any) error }) (Template, error) {
	var t Template
	var scopesJSON, fieldsJSON, checksJSON string
	var rotate sql.NullInt64

	err := row.Scan(&t.Provider, &t.DisplayName, &t.Description, &t.Kind, &scopesJSON, &fieldsJSON, &rotate, &checksJSON)
	if err == sql.ErrNoRows {
		return Template{}, orcheoerrors.NewNotFound("credential_template", "")
	}
	if err != nil {
		return Template{}, fmt.Errorf("vault: scan template: %w", err)
	}
	_ = json.Unmarshal([]byte(scopesJSON), &t.Scopes)
	_ = json.Unmarshal([]byte(fieldsJSON), &t.Fields)
	_ = json.Unmarshal([]byte(checksJSON), &t.GovernanceChecks)
	if rotate.Valid {
		t.RotateAfterDays = int(rotate.Int64)
	}
	return t, nil
}

// Close releases the underlying database handle.
func (v *SQLiteVault) Close() error { return v.db.Close() }

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

var _ Vault = (*SQLiteVault)(nil)
