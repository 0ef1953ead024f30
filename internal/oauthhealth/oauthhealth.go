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

// Package oauthhealth implements the OAuth health service (C2): a
// per-provider refresh/validate registry, a cached per-workflow Report, and
// the require_healthy gate transport layers call before dispatching a run.
package oauthhealth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ShaojieJiang/orcheo/internal/vault"
	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// ProviderHandler is the capability set a provider registers: refresh and
// validate tokens. Orcheo owns no specific provider implementations.
type ProviderHandler interface {
	RefreshTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (*vault.OAuthTokens, error)
	ValidateTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (vault.HealthStatus, string, error)
}

// CredentialStatus is one credential's entry in a workflow health Report.
type CredentialStatus struct {
	CredentialID  string
	Status        vault.HealthStatus
	FailureReason string
	CheckedAt     time.Time
}

// Report is the cached outcome of ensure_workflow_health for one workflow.
type Report struct {
	WorkflowID string
	Statuses   []CredentialStatus
	CheckedAt  time.Time
}

// IsHealthy reports whether every credential in the report is HEALTHY.
func (r Report) IsHealthy() bool {
	for _, s := range r.Statuses {
		if s.Status != vault.HealthHealthy {
			return false
		}
	}
	return true
}

// TTLMargin is how far ahead of expiry a token is proactively refreshed.
const TTLMargin = 5 * time.Minute

// Service is the OAuth health service: provider registry plus a cached,
// per-workflow Report refreshed by ensure_workflow_health.
type Service struct {
	v vault.Vault

	mu        sync.RWMutex
	providers map[string]ProviderHandler
	reports   map[string]Report

	group singleflight.Group
}

// New builds a Service backed by v.
func New(v vault.Vault) *Service {
	return &Service{
		v:         v,
		providers: make(map[string]ProviderHandler),
		reports:   make(map[string]Report),
	}
}

// RegisterProvider installs a provider's refresh/validate handler. Called at
// startup; not safe to call concurrently with health checks.
func (s *Service) RegisterProvider(provider string, h ProviderHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[provider] = h
}

// EnsureWorkflowHealth recomputes and caches the health Report for every
// OAuth credential scoped to workflowID, per §4.2. Concurrent callers for
// the same workflow share one in-flight computation via singleflight.
func (s *Service) EnsureWorkflowHealth(ctx context.Context, workflowID string) (Report, error) {
	result, err, _ := s.group.Do(workflowID, func() (any, error) {
		return s.ensureWorkflowHealth(ctx, workflowID)
	})
	if err != nil {
		return Report{}, err
	}
	return result.(Report), nil
}

func (s *Service) ensureWorkflowHealth(ctx context.Context, workflowID string) (Report, error) {
	creds, err := s.v.ListCredentials(ctx, vault.Context{WorkflowID: workflowID})
	if err != nil {
		return Report{}, fmt.Errorf("oauthhealth: list credentials: %w", err)
	}

	now := time.Now()
	report := Report{WorkflowID: workflowID, CheckedAt: now}

	for _, md := range creds {
		if md.WorkflowID != workflowID {
			continue
		}
		status := s.checkCredential(ctx, md, now)
		report.Statuses = append(report.Statuses, status)
	}

	s.mu.Lock()
	s.reports[workflowID] = report
	s.mu.Unlock()

	return report, nil
}

func (s *Service) checkCredential(ctx context.Context, md vault.Metadata, now time.Time) CredentialStatus {
	cs := CredentialStatus{CredentialID: md.ID, CheckedAt: now}

	if md.Kind != vault.KindOAuth {
		cs.Status = vault.HealthHealthy
		_ = s.v.MarkHealth(ctx, md.ID, "oauthhealth", vault.Health{Status: vault.HealthHealthy, LastCheckedAt: &now})
		return cs
	}

	s.mu.RLock()
	handler, ok := s.providers[md.Provider]
	s.mu.RUnlock()
	if !ok {
		cs.Status = vault.HealthUnhealthy
		cs.FailureReason = "no provider registered"
		_ = s.v.MarkHealth(ctx, md.ID, "oauthhealth", vault.Health{
			Status: vault.HealthUnhealthy, LastCheckedAt: &now, FailureReason: cs.FailureReason,
		})
		return cs
	}

	plaintext, err := s.v.RevealSecret(ctx, md.ID, vault.Context{WorkflowID: md.WorkflowID})
	if err != nil {
		cs.Status = vault.HealthUnhealthy
		cs.FailureReason = err.Error()
		return cs
	}
	tokens, err := decodeTokens(plaintext)
	if err != nil {
		cs.Status = vault.HealthUnhealthy
		cs.FailureReason = err.Error()
		return cs
	}

	if !tokens.ExpiresAt.IsZero() && tokens.ExpiresAt.Before(now.Add(TTLMargin)) {
		refreshed, err := handler.RefreshTokens(ctx, md, *tokens)
		if err != nil {
			cs.Status = vault.HealthUnhealthy
			cs.FailureReason = err.Error()
			_ = s.v.MarkHealth(ctx, md.ID, "oauthhealth", vault.Health{
				Status: vault.HealthUnhealthy, LastCheckedAt: &now, FailureReason: cs.FailureReason,
			})
			return cs
		}
		if refreshed != nil {
			if err := s.v.UpdateOAuthTokens(ctx, md.ID, "oauthhealth", *refreshed); err != nil {
				cs.Status = vault.HealthUnhealthy
				cs.FailureReason = fmt.Sprintf("persist refreshed tokens: %v", err)
				return cs
			}
			tokens = refreshed
		}
	}

	status, reason, err := handler.ValidateTokens(ctx, md, *tokens)
	if err != nil {
		cs.Status = vault.HealthUnhealthy
		cs.FailureReason = err.Error()
	} else {
		cs.Status = status
		cs.FailureReason = reason
	}

	_ = s.v.MarkHealth(ctx, md.ID, "oauthhealth", vault.Health{
		Status: cs.Status, LastCheckedAt: &now, FailureReason: cs.FailureReason,
	})
	return cs
}

// RequireHealthy enforces that workflowID has a cached, healthy Report.
// Transport layers call this before dispatching a run (§4.2).
func (s *Service) RequireHealthy(workflowID string) error {
	s.mu.RLock()
	report, ok := s.reports[workflowID]
	s.mu.RUnlock()

	if !ok {
		return orcheoerrors.NewCredentialHealthError(workflowID, "no health report cached")
	}
	if !report.IsHealthy() {
		return orcheoerrors.NewCredentialHealthError(workflowID, "one or more credentials unhealthy")
	}
	return nil
}

// CachedReport returns the last computed report for workflowID, if any.
func (s *Service) CachedReport(workflowID string) (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[workflowID]
	return report, ok
}
