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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

func TestMemoryRepository_CreateWorkflow_DerivesUniqueSlug(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	w1, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Invoice Sync", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "invoice-sync", w1.Slug)

	w2, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Invoice Sync", Actor: "alice"})
	require.NoError(t, err)
	assert.NotEqual(t, w1.Slug, w2.Slug)
	assert.Contains(t, w2.Slug, "invoice-sync")
}

func TestMemoryRepository_CreateVersion_MonotonicallyIncreasing(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		v, err := r.CreateVersion(ctx, CreateVersionInput{WorkflowID: w.ID, Graph: map[string]any{"n": i}, Actor: "alice"})
		require.NoError(t, err)
		assert.Equal(t, i, v.Version)
		assert.NotEmpty(t, v.Checksum)
	}

	versions, err := r.ListVersions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}
}

func TestMemoryRepository_DiffVersions_ReportsChangedLines(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	_, err = r.CreateVersion(ctx, CreateVersionInput{WorkflowID: w.ID, Graph: map[string]any{"nodes": []any{"a"}}, Actor: "alice"})
	require.NoError(t, err)
	_, err = r.CreateVersion(ctx, CreateVersionInput{WorkflowID: w.ID, Graph: map[string]any{"nodes": []any{"a", "b"}}, Actor: "alice"})
	require.NoError(t, err)

	diff, err := r.DiffVersions(ctx, w.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Base.Version)
	assert.Equal(t, 2, diff.Target.Version)
	assert.NotEmpty(t, diff.Lines)
}

func TestMemoryRepository_WorkflowRun_ValidTransitions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	run, err := r.CreateRun(ctx, CreateRunInput{WorkflowID: w.ID, TriggeredBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, RunPending, run.Status)

	require.NoError(t, r.MarkRunStarted(ctx, run.ID))
	require.NoError(t, r.MarkRunSucceeded(ctx, run.ID, map[string]any{"ok": true}))

	got, err := r.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, true, got.OutputPayload["ok"])
}

func TestMemoryRepository_WorkflowRun_RejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	run, err := r.CreateRun(ctx, CreateRunInput{WorkflowID: w.ID, TriggeredBy: "alice"})
	require.NoError(t, err)

	err = r.MarkRunSucceeded(ctx, run.ID, nil)
	require.Error(t, err)
	var invalidErr *orcheoerrors.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
}

func TestMemoryRepository_WorkflowRun_CancelFromNonTerminal(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	run, err := r.CreateRun(ctx, CreateRunInput{WorkflowID: w.ID, TriggeredBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, r.MarkRunCancelled(ctx, run.ID, "user requested"))

	got, err := r.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, got.Status)

	err = r.MarkRunCancelled(ctx, run.ID, "again")
	require.Error(t, err)
}

func TestMemoryRepository_PublishLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	rawToken := "a-very-secret-raw-token-123456"
	tokenHash := hashToken(rawToken)

	require.NoError(t, r.PublishWorkflow(ctx, w.ID, tokenHash, false, "alice"))

	err = r.PublishWorkflow(ctx, w.ID, tokenHash, false, "alice")
	require.Error(t, err)
	var publishErr *orcheoerrors.WorkflowPublishStateError
	require.ErrorAs(t, err, &publishErr)

	published, err := r.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	last := published.AuditLog[len(published.AuditLog)-1]
	assert.Equal(t, "publish", last.Action)
	assert.Equal(t, "publish:******"+tokenHash[len(tokenHash)-6:], last.Metadata["token"])

	verified, err := r.VerifyPublishToken(ctx, w.Slug, rawToken)
	require.NoError(t, err)
	assert.Equal(t, w.ID, verified.ID)

	_, err = r.VerifyPublishToken(ctx, w.Slug, "wrong-token")
	require.Error(t, err)

	newRaw := "a-different-rotated-token-987654"
	newHash := hashToken(newRaw)
	require.NoError(t, r.RotatePublishToken(ctx, w.ID, newHash, "alice"))

	rotated, err := r.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	rotateEvt := rotated.AuditLog[len(rotated.AuditLog)-1]
	assert.Equal(t, "rotate_publish_token", rotateEvt.Action)
	assert.Equal(t, "publish:******"+tokenHash[len(tokenHash)-6:], rotateEvt.Metadata["previous_token"])
	assert.Equal(t, "publish:******"+newHash[len(newHash)-6:], rotateEvt.Metadata["new_token"])

	_, err = r.VerifyPublishToken(ctx, w.Slug, rawToken)
	require.Error(t, err, "old token must no longer verify after rotation")

	verifiedNew, err := r.VerifyPublishToken(ctx, w.Slug, newRaw)
	require.NoError(t, err)
	assert.Equal(t, w.ID, verifiedNew.ID)

	require.NoError(t, r.RevokePublish(ctx, w.ID, "alice"))
	_, err = r.VerifyPublishToken(ctx, w.Slug, newRaw)
	require.Error(t, err, "revoked workflow must reject any token")

	err = r.RevokePublish(ctx, w.ID, "alice")
	require.Error(t, err, "revoking an already-unpublished workflow fails")
}

func TestMemoryRepository_ArchiveWorkflow_NeverDeletes(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	w, err := r.CreateWorkflow(ctx, CreateWorkflowInput{Name: "Pipeline", Actor: "alice"})
	require.NoError(t, err)

	require.NoError(t, r.ArchiveWorkflow(ctx, w.ID, "alice"))

	got, err := r.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

func TestMaskToken_FormatsLastSixChars(t *testing.T) {
	hash := hashToken("some-raw-token")
	masked := maskToken(hash)
	assert.Equal(t, "publish:******"+hash[len(hash)-6:], masked)
}

func TestVerifyTokenHash_ConstantTimeCorrectness(t *testing.T) {
	hash := hashToken("correct-token")
	assert.True(t, verifyTokenHash("correct-token", hash))
	assert.False(t, verifyTokenHash("wrong-token", hash))
}
