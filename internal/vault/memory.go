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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// MemoryVault is an in-memory Vault implementation. Every mutation is
// serialized by a single mutex; this is appropriate for tests and
// single-process, low-volume deployments. §5 specifies per-credential
// locking for writers; MemoryVault approximates that with one coarse lock
// since the in-memory map itself is the shared state.
type MemoryVault struct {
	mu          sync.RWMutex
	cipher      Cipher
	byID        map[string]*Metadata
	byScopeName map[string]string // "scope|name" -> id
	templates   map[string]Template
}

// NewMemoryVault builds an empty in-memory vault using the given cipher.
func NewMemoryVault(cipher Cipher) *MemoryVault {
	return &MemoryVault{
		cipher:      cipher,
		byID:        make(map[string]*Metadata),
		byScopeName: make(map[string]string),
		templates:   make(map[string]Template),
	}
}

func scopeKey(workflowID, name string) string {
	return workflowID + "|" + name
}

// CreateCredential encrypts and stores a new credential.
func (v *MemoryVault) CreateCredential(ctx context.Context, in CreateCredentialInput) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := scopeKey(in.WorkflowID, in.Name)
	if _, exists := v.byScopeName[key]; exists {
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

	v.byID[m.ID] = m
	v.byScopeName[key] = m.ID

	return *m, nil
}

// visible reports whether a credential is visible in the given scope:
// public, or shared/private matching the workflow.
func visible(m *Metadata, scope Context) bool {
	switch m.Access {
	case AccessPublic:
		return true
	case AccessShared:
		return m.WorkflowID == "" || m.WorkflowID == scope.WorkflowID
	default: // private
		return m.WorkflowID != "" && m.WorkflowID == scope.WorkflowID
	}
}

// ListCredentials returns metadata (never plaintext) visible in scope.
func (v *MemoryVault) ListCredentials(ctx context.Context, scope Context) ([]Metadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []Metadata
	for _, m := range v.byID {
		if visible(m, scope) {
			out = append(out, *m)
		}
	}
	return out, nil
}

// RevealSecret decrypts and returns the plaintext secret, enforcing scope.
func (v *MemoryVault) RevealSecret(ctx context.Context, credentialID string, scope Context) (string, error) {
	v.mu.RLock()
	m, ok := v.byID[credentialID]
	v.mu.RUnlock()
	if !ok {
		return "", orcheoerrors.NewNotFound("credential", credentialID)
	}
	if !visible(m, scope) {
		return "", orcheoerrors.NewWorkflowScopeError(credentialID, scope.WorkflowID)
	}

	plaintext, err := v.cipher.Decrypt(m.Encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GetCredential returns metadata by ID regardless of scope (used by
// internal callers such as the OAuth health service which already knows
// the workflow the credential belongs to).
func (v *MemoryVault) GetCredential(ctx context.Context, credentialID string) (Metadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.byID[credentialID]
	if !ok {
		return Metadata{}, orcheoerrors.NewNotFound("credential", credentialID)
	}
	return *m, nil
}

// FindByName resolves a credential within scope by name, preferring a
// workflow-private match over a shared/public one with the same name.
func (v *MemoryVault) FindByName(ctx context.Context, scope Context, name string) (Metadata, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if id, ok := v.byScopeName[scopeKey(scope.WorkflowID, name)]; ok {
		return *v.byID[id], nil
	}
	if id, ok := v.byScopeName[scopeKey("", name)]; ok {
		m := v.byID[id]
		if visible(m, scope) {
			return *m, nil
		}
	}
	return Metadata{}, orcheoerrors.NewNotFound("credential", name)
}

// UpdateCredential applies mutate under lock and audits the change.
func (v *MemoryVault) UpdateCredential(ctx context.Context, credentialID string, actor string, mutate func(*Metadata)) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.byID[credentialID]
	if !ok {
		return Metadata{}, orcheoerrors.NewNotFound("credential", credentialID)
	}
	mutate(m)
	appendAudit(m, AuditEvent{Actor: actor, Action: "update", Timestamp: time.Now()})
	return *m, nil
}

// DeleteCredential removes a credential permanently.
func (v *MemoryVault) DeleteCredential(ctx context.Context, credentialID string, actor string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.byID[credentialID]
	if !ok {
		return orcheoerrors.NewNotFound("credential", credentialID)
	}
	delete(v.byID, credentialID)
	delete(v.byScopeName, scopeKey(m.WorkflowID, m.Name))
	return nil
}

// MarkHealth records the latest OAuth health check outcome.
func (v *MemoryVault) MarkHealth(ctx context.Context, credentialID string, actor string, health Health) error {
	_, err := v.UpdateCredential(ctx, credentialID, actor, func(m *Metadata) {
		m.Health = health
	})
	return err
}

// UpdateOAuthTokens re-encrypts a refreshed OAuth token set.
func (v *MemoryVault) UpdateOAuthTokens(ctx context.Context, credentialID string, actor string, tokens OAuthTokens) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("vault: marshal oauth tokens: %w", err)
	}
	payload, err := v.cipher.Encrypt(raw)
	if err != nil {
		return err
	}
	_, err = v.UpdateCredential(ctx, credentialID, actor, func(m *Metadata) {
		m.Encrypted = payload
	})
	return err
}

// CreateTemplate registers a credential template.
func (v *MemoryVault) CreateTemplate(ctx context.Context, tmpl Template) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.templates[tmpl.Provider] = tmpl
	return nil
}

// GetTemplate fetches a template by provider slug.
func (v *MemoryVault) GetTemplate(ctx context.Context, provider string) (Template, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.templates[provider]
	if !ok {
		return Template{}, orcheoerrors.NewNotFound("credential_template", provider)
	}
	return t, nil
}

// ListTemplates returns every registered template.
func (v *MemoryVault) ListTemplates(ctx context.Context) ([]Template, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Template, 0, len(v.templates))
	for _, t := range v.templates {
		out = append(out, t)
	}
	return out, nil
}

var _ Vault = (*MemoryVault)(nil)
