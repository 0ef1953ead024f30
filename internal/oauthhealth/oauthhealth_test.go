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

package oauthhealth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/internal/vault"
)

type fakeProvider struct {
	refreshCalls int
	refreshErr   error
	validateErr  error
}

func (f *fakeProvider) RefreshTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (*vault.OAuthTokens, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	refreshed := tokens
	refreshed.AccessToken = "refreshed-token"
	refreshed.ExpiresAt = time.Now().Add(time.Hour)
	return &refreshed, nil
}

func (f *fakeProvider) ValidateTokens(ctx context.Context, md vault.Metadata, tokens vault.OAuthTokens) (vault.HealthStatus, string, error) {
	if f.validateErr != nil {
		return vault.HealthUnhealthy, f.validateErr.Error(), nil
	}
	return vault.HealthHealthy, "", nil
}

func testVault(t *testing.T) vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	c, err := vault.NewAESGCMCipher(key, 1)
	require.NoError(t, err)
	return vault.NewMemoryVault(c)
}

func createOAuthCred(t *testing.T, v vault.Vault, workflowID string, tokens vault.OAuthTokens) vault.Metadata {
	t.Helper()
	raw, err := json.Marshal(tokens)
	require.NoError(t, err)
	cred, err := v.CreateCredential(context.Background(), vault.CreateCredentialInput{
		Name: "provider-cred", Provider: "acme", Kind: vault.KindOAuth, Secret: string(raw),
		WorkflowID: workflowID, Actor: "alice",
	})
	require.NoError(t, err)
	return cred
}

func TestEnsureWorkflowHealth_NonOAuthIsHealthy(t *testing.T) {
	v := testVault(t)
	_, err := v.CreateCredential(context.Background(), vault.CreateCredentialInput{
		Name: "api-key", Provider: "acme", Kind: vault.KindSecret, Secret: "sk-123", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	svc := New(v)
	report, err := svc.EnsureWorkflowHealth(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.True(t, report.IsHealthy())
}

func TestEnsureWorkflowHealth_NoProviderRegistered(t *testing.T) {
	v := testVault(t)
	createOAuthCred(t, v, "wf-1", vault.OAuthTokens{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})

	svc := New(v)
	report, err := svc.EnsureWorkflowHealth(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, report.Statuses, 1)
	assert.Equal(t, vault.HealthUnhealthy, report.Statuses[0].Status)
	assert.Equal(t, "no provider registered", report.Statuses[0].FailureReason)
}

func TestEnsureWorkflowHealth_RefreshesNearExpiry(t *testing.T) {
	v := testVault(t)
	cred := createOAuthCred(t, v, "wf-1", vault.OAuthTokens{
		AccessToken: "old", RefreshToken: "refresh-me", ExpiresAt: time.Now().Add(time.Minute),
	})

	fp := &fakeProvider{}
	svc := New(v)
	svc.RegisterProvider("acme", fp)

	report, err := svc.EnsureWorkflowHealth(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fp.refreshCalls)
	assert.True(t, report.IsHealthy())

	plaintext, err := v.RevealSecret(context.Background(), cred.ID, vault.Context{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Contains(t, plaintext, "refreshed-token")
}

func TestRequireHealthy_FailsWithoutCachedReport(t *testing.T) {
	v := testVault(t)
	svc := New(v)
	err := svc.RequireHealthy("wf-unknown")
	require.Error(t, err)
}

func TestRequireHealthy_PassesAfterHealthyReport(t *testing.T) {
	v := testVault(t)
	_, err := v.CreateCredential(context.Background(), vault.CreateCredentialInput{
		Name: "api-key", Provider: "acme", Kind: vault.KindSecret, Secret: "sk-123", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	svc := New(v)
	_, err = svc.EnsureWorkflowHealth(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.NoError(t, svc.RequireHealthy("wf-1"))
}

func TestRequireHealthy_FailsWhenCredentialUnhealthy(t *testing.T) {
	v := testVault(t)
	createOAuthCred(t, v, "wf-1", vault.OAuthTokens{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})

	fp := &fakeProvider{validateErr: assertError("provider rejected token")}
	svc := New(v)
	svc.RegisterProvider("acme", fp)

	_, err := svc.EnsureWorkflowHealth(context.Background(), "wf-1")
	require.NoError(t, err)

	err = svc.RequireHealthy("wf-1")
	require.Error(t, err)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
