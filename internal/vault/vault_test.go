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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

func testCipher(t *testing.T) Cipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewAESGCMCipher(key, 1)
	require.NoError(t, err)
	return c
}

func TestMemoryVault_CreateCredential_NameConflict(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	_, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "github", Provider: "github", Kind: KindSecret, Secret: "s3cr3t", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	_, err = v.CreateCredential(ctx, CreateCredentialInput{
		Name: "github", Provider: "github", Kind: KindSecret, Secret: "other", WorkflowID: "wf-1", Actor: "bob",
	})
	require.Error(t, err)
	var conflict *orcheoerrors.NameConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestMemoryVault_RevealSecret_EnforcesScope(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	cred, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "stripe", Provider: "stripe", Kind: KindSecret, Secret: "sk_live_abc", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	plaintext, err := v.RevealSecret(ctx, cred.ID, Context{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Equal(t, "sk_live_abc", plaintext)

	_, err = v.RevealSecret(ctx, cred.ID, Context{WorkflowID: "wf-2"})
	require.Error(t, err)
	var scopeErr *orcheoerrors.WorkflowScopeError
	require.ErrorAs(t, err, &scopeErr)
}

func TestMemoryVault_SharedAndPublicVisibility(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	shared, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "shared-key", Provider: "acme", Kind: KindSecret, Secret: "x", Access: AccessShared, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = v.RevealSecret(ctx, shared.ID, Context{WorkflowID: "wf-anything"})
	require.NoError(t, err)

	public, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "public-key", Provider: "acme", Kind: KindSecret, Secret: "y", WorkflowID: "wf-1", Access: AccessPublic, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = v.RevealSecret(ctx, public.ID, Context{WorkflowID: "wf-other"})
	require.NoError(t, err)
}

func TestMemoryVault_AuditLogCapping(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	cred, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "rotating", Provider: "acme", Kind: KindSecret, Secret: "v0", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	for i := 0; i < 250; i++ {
		_, err := v.UpdateCredential(ctx, cred.ID, "alice", func(m *Metadata) {})
		require.NoError(t, err)
	}

	got, err := v.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got.AuditLog), maxAuditEvents)
	assert.Greater(t, got.AuditDropped, 0)
}

func TestMemoryVault_UpdateOAuthTokens(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	cred, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "slack", Provider: "slack", Kind: KindOAuth, Secret: `{"access_token":"old"}`, WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	err = v.UpdateOAuthTokens(ctx, cred.ID, "alice", OAuthTokens{AccessToken: "new-token", Scope: "read"})
	require.NoError(t, err)

	plaintext, err := v.RevealSecret(ctx, cred.ID, Context{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Contains(t, plaintext, "new-token")
}

func TestCredentialResolver_ResolveConfig(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	_, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "api_key", Provider: "acme", Kind: KindSecret, Secret: "sk-abc123", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	resolver := NewCredentialResolver(v, "wf-1")
	resolved, err := resolver.ResolveConfig(ctx, map[string]any{
		"headers": map[string]any{
			"Authorization": "Bearer [[api_key]]",
		},
		"tags": []any{"static", "[[api_key]]"},
	})
	require.NoError(t, err)

	headers := resolved["headers"].(map[string]any)
	assert.Equal(t, "Bearer sk-abc123", headers["Authorization"])
	tags := resolved["tags"].([]any)
	assert.Equal(t, "sk-abc123", tags[1])
}

func TestCredentialResolver_MissingCredentialFails(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))
	resolver := NewCredentialResolver(v, "wf-1")

	_, err := resolver.ResolveString(ctx, "token=[[does_not_exist]]")
	require.Error(t, err)
}

func TestMemoryVault_FindByName_PrefersPrivateOverShared(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault(testCipher(t))

	_, err := v.CreateCredential(ctx, CreateCredentialInput{
		Name: "token", Provider: "acme", Kind: KindSecret, Secret: "shared-val", Access: AccessShared, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = v.CreateCredential(ctx, CreateCredentialInput{
		Name: "token", Provider: "acme", Kind: KindSecret, Secret: "private-val", WorkflowID: "wf-1", Actor: "alice",
	})
	require.NoError(t, err)

	cred, err := v.FindByName(ctx, Context{WorkflowID: "wf-1"}, "token")
	require.NoError(t, err)
	plaintext, err := v.RevealSecret(ctx, cred.ID, Context{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Equal(t, "private-val", plaintext)
}

func TestAESGCMCipher_RoundTrip(t *testing.T) {
	c := testCipher(t)
	payload, err := c.Encrypt([]byte("hello world"))
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Nonce)

	plaintext, err := c.Decrypt(payload)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(plaintext))
}

func TestAESGCMCipher_RejectsShortKey(t *testing.T) {
	_, err := NewAESGCMCipher([]byte("too-short"), 1)
	require.Error(t, err)
}
