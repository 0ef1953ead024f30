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

// Package vault implements the credential vault (C1): encrypted credential
// storage, per-workflow scoping, and the substitution bridge that hands
// plaintext secrets to node construction without ever exposing the vault
// itself to node code.
package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of the stored secret payload.
type Kind string

const (
	KindSecret Kind = "SECRET"
	KindOAuth  Kind = "OAUTH"
	KindAPIKey Kind = "API_KEY"
)

// Access controls which workflows may see a credential in listings and
// resolve it at runtime.
type Access string

const (
	AccessPrivate Access = "private"
	AccessShared  Access = "shared"
	AccessPublic  Access = "public"
)

// HealthStatus reflects the last OAuth health check outcome for a credential.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// Health is the cached OAuth health gate state for a single credential.
type Health struct {
	Status         HealthStatus
	LastCheckedAt  *time.Time
	FailureReason  string
}

// AuditEvent is one append-only entry in a credential's audit log.
type AuditEvent struct {
	Actor     string
	Action    string
	Timestamp time.Time
	Metadata  map[string]any
}

// EncryptedPayload is the ciphertext and nonce produced by a Cipher, stored
// alongside the credential row.
type EncryptedPayload struct {
	Ciphertext []byte
	Nonce      []byte
	KeyVersion int
}

// Metadata is the persisted, non-secret view of a credential: everything
// except the decrypted payload. Listings return Metadata plus a preview,
// never the plaintext.
type Metadata struct {
	ID             string
	WorkflowID     string // empty => shared/public scope
	Name           string
	Provider       string
	Kind           Kind
	Access         Access
	Scopes         []string
	TemplateID     string
	Encrypted      EncryptedPayload
	Health         Health
	CreatedAt      time.Time
	Owner          string
	AuditLog       []AuditEvent
	AuditDropped   int
}

// Preview returns a non-sensitive ciphertext preview: the first and last two
// characters of the base64-ish encoded ciphertext. Never the plaintext.
func (m Metadata) Preview() string {
	return previewCiphertext(m.Encrypted.Ciphertext)
}

// OAuthTokens is the decrypted payload shape for KindOAuth credentials.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// TemplateField describes one field a credential template requires to issue
// a new credential for its provider.
type TemplateField struct {
	Name     string
	Label    string
	Required bool
	Secret   bool
	Pattern  string
	Example  string
}

// Template is a schema for issuing credentials of a specific provider.
type Template struct {
	Provider         string
	DisplayName      string
	Description      string
	Kind             Kind
	Scopes           []string
	Fields           []TemplateField
	RotateAfterDays  int
	GovernanceChecks []string
}

// Context scopes a vault operation to the workflow (if any) making it.
type Context struct {
	WorkflowID string
}

// CreateCredentialInput is the input to create_credential.
type CreateCredentialInput struct {
	Name       string
	Provider   string
	Kind       Kind
	Secret     string // plaintext SECRET/API_KEY, or JSON-encoded OAuthTokens for OAUTH
	Actor      string
	WorkflowID string // empty => shared/public, governed by Access
	Access     Access
	TemplateID string
	Scopes     []string
}

// maxAuditEvents bounds the in-memory audit log per credential (Design
// Notes §9, "Audit log growth").
const maxAuditEvents = 200

func appendAudit(m *Metadata, evt AuditEvent) {
	m.AuditLog = append(m.AuditLog, evt)
	if len(m.AuditLog) > maxAuditEvents {
		drop := len(m.AuditLog) - maxAuditEvents
		m.AuditDropped += drop
		m.AuditLog = m.AuditLog[drop:]
	}
}

func newID() string { return uuid.NewString() }

// Vault is the full credential vault contract used by the orchestrator and,
// indirectly, by the graph compiler via CredentialResolver.
type Vault interface {
	CreateCredential(ctx context.Context, in CreateCredentialInput) (Metadata, error)
	ListCredentials(ctx context.Context, scope Context) ([]Metadata, error)
	RevealSecret(ctx context.Context, credentialID string, scope Context) (string, error)
	UpdateCredential(ctx context.Context, credentialID string, actor string, mutate func(*Metadata)) (Metadata, error)
	DeleteCredential(ctx context.Context, credentialID string, actor string) error
	MarkHealth(ctx context.Context, credentialID string, actor string, health Health) error
	UpdateOAuthTokens(ctx context.Context, credentialID string, actor string, tokens OAuthTokens) error
	GetCredential(ctx context.Context, credentialID string) (Metadata, error)
	FindByName(ctx context.Context, scope Context, name string) (Metadata, error)

	CreateTemplate(ctx context.Context, tmpl Template) error
	GetTemplate(ctx context.Context, provider string) (Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
}
