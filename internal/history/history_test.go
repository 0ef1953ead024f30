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

package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_StartRun_FailsOnDuplicateExecutionID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	_, err = s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.Error(t, err)
}

func TestMemoryStore_AppendStep_GaplessSequentialIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		step, err := s.AppendStep(ctx, "exec-1", map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, i, step.Index)
	}

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, rec.Steps, 5)
	for i, step := range rec.Steps {
		assert.Equal(t, i, step.Index)
	}
}

func TestMemoryStore_AppendStep_NotFoundForUnknownExecution(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.AppendStep(ctx, "does-not-exist", map[string]any{})
	require.Error(t, err)
}

func TestMemoryStore_MarkCompleted_IdempotentForSameTargetState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, "exec-1"))
	require.NoError(t, s.MarkCompleted(ctx, "exec-1"))

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
}

func TestMemoryStore_MarkFailed_FailsOnConflictingTerminalState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, "exec-1"))

	err = s.MarkFailed(ctx, "exec-1", "boom")
	require.Error(t, err)
}

func TestMemoryStore_ListSteps_FromStepAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := s.AppendStep(ctx, "exec-1", map[string]any{"n": i})
		require.NoError(t, err)
	}

	steps, err := s.ListSteps(ctx, "exec-1", 3, 2)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 3, steps[0].Index)
	assert.Equal(t, 4, steps[1].Index)
}

func TestMemoryStore_UpdateTraceMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.StartRun(ctx, StartRunInput{WorkflowID: "wf-1", ExecutionID: "exec-1"})
	require.NoError(t, err)

	traceID := "trace-abc"
	err = s.UpdateTraceMetadata(ctx, "exec-1", TraceMetadataUpdate{TraceID: &traceID})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "trace-abc", rec.TraceID)
}
