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

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/internal/graphcompiler"
	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/internal/repository"
	"github.com/ShaojieJiang/orcheo/internal/tracing"
	"github.com/ShaojieJiang/orcheo/internal/vault"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
)

type collectingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *collectingSink) Emit(e ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryRepository, *history.MemoryStore) {
	t.Helper()
	cipher, err := vault.NewAESGCMCipher([]byte("0123456789abcdef0123456789abcdef"), 1)
	require.NoError(t, err)
	v := vault.NewMemoryVault(cipher)
	h := history.NewMemoryStore()
	repo := repository.NewMemoryRepository()
	tracer := tracing.NewWorkflowTracer(nil)
	registry := graphcompiler.NewRegistry()
	graphcompiler.RegisterBuiltins(registry)

	e := New(v, h, repo, tracer, registry)
	return e, repo, h
}

func TestRun_HappyPath_ScenarioS1(t *testing.T) {
	e, repo, h := newTestEngine(t)
	ctx := context.Background()

	wf, err := repo.CreateWorkflow(ctx, repository.CreateWorkflowInput{Name: "Demo", Actor: "tester"})
	require.NoError(t, err)

	version, err := repo.CreateVersion(ctx, repository.CreateVersionInput{
		WorkflowID: wf.ID,
		Graph: map[string]any{
			"entry": "a",
			"nodes": []any{
				map[string]any{"id": "a", "type": "Noop"},
				map[string]any{"id": "b", "type": "Noop"},
			},
			"edges": []any{[]any{"a", "b"}},
		},
		Actor: "tester",
	})
	require.NoError(t, err)

	run, err := repo.CreateRun(ctx, repository.CreateRunInput{
		WorkflowID:        wf.ID,
		WorkflowVersionID: version.ID,
		InputPayload:      map[string]any{"x": 1},
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunStarted(ctx, run.ID))

	sink := &collectingSink{}
	err = e.Run(ctx, RunInput{
		WorkflowID:  wf.ID,
		Version:     version,
		Inputs:      map[string]any{"x": 1},
		ExecutionID: run.ID,
		Sink:        sink,
	})
	require.NoError(t, err)

	runs, err := repo.ListRuns(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, repository.RunSucceeded, runs[0].Status)

	record, err := h.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, record.Steps, 3)
	assert.Contains(t, record.Steps[0].Payload, "a")
	assert.Contains(t, record.Steps[1].Payload, "b")
	assert.Equal(t, "completed", record.Steps[2].Payload["status"])

	spans := e.Tracer.Spans(run.ID)
	require.NotEmpty(t, spans)
	assert.Equal(t, observability.StatusCodeOK, spans[0].Status.Code)
}

func TestRun_Cancellation_ScenarioS2(t *testing.T) {
	e, repo, h := newTestEngine(t)
	ctx := context.Background()

	wf, err := repo.CreateWorkflow(ctx, repository.CreateWorkflowInput{Name: "Cancellable", Actor: "tester"})
	require.NoError(t, err)

	version, err := repo.CreateVersion(ctx, repository.CreateVersionInput{
		WorkflowID: wf.ID,
		Graph: map[string]any{
			"entry": "a",
			"nodes": []any{
				map[string]any{"id": "a", "type": "Noop"},
				map[string]any{"id": "b", "type": "Noop"},
				map[string]any{"id": "c", "type": "Noop"},
			},
			"edges": []any{[]any{"a", "b"}, []any{"b", "c"}},
		},
		Actor: "tester",
	})
	require.NoError(t, err)

	run, err := repo.CreateRun(ctx, repository.CreateRunInput{
		WorkflowID:        wf.ID,
		WorkflowVersionID: version.ID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunStarted(ctx, run.ID))

	token := NewCancelToken()
	token.Trigger("user-cancel")

	err = e.Run(ctx, RunInput{
		WorkflowID:  wf.ID,
		Version:     version,
		ExecutionID: run.ID,
		Cancel:      token,
	})
	require.NoError(t, err)

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCancelled, got.Status)
	assert.Equal(t, "user-cancel", got.Error)

	record, err := h.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, record.Steps)
	last := record.Steps[len(record.Steps)-1]
	assert.Equal(t, "cancelled", last.Payload["status"])
	assert.Equal(t, "user-cancel", last.Payload["reason"])

	spans := e.Tracer.Spans(run.ID)
	require.NotEmpty(t, spans)
	assert.Equal(t, observability.StatusCodeError, spans[0].Status.Code)
	assert.Equal(t, "user-cancel", spans[0].Status.Message)
}

func TestStepBudgetExceeded_MarksRunFailed(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	e.StepBudget = 3
	ctx := context.Background()

	wf, err := repo.CreateWorkflow(ctx, repository.CreateWorkflowInput{Name: "Cyclic", Actor: "tester"})
	require.NoError(t, err)

	version, err := repo.CreateVersion(ctx, repository.CreateVersionInput{
		WorkflowID: wf.ID,
		Graph: map[string]any{
			"entry": "a",
			"nodes": []any{
				map[string]any{"id": "a", "type": "Noop"},
				map[string]any{"id": "b", "type": "Noop"},
			},
			"edges": []any{[]any{"a", "b"}, []any{"b", "a"}},
		},
		Actor: "tester",
	})
	require.NoError(t, err)

	run, err := repo.CreateRun(ctx, repository.CreateRunInput{
		WorkflowID:        wf.ID,
		WorkflowVersionID: version.ID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunStarted(ctx, run.ID))

	err = e.Run(ctx, RunInput{
		WorkflowID:  wf.ID,
		Version:     version,
		ExecutionID: run.ID,
	})
	require.Error(t, err)

	got, getErr := repo.GetRun(ctx, run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, repository.RunFailed, got.Status)
}
