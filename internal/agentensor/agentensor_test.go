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

package agentensor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordCheckpoint_VersionsIncreaseWithoutGaps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cp, err := s.RecordCheckpoint(ctx, RecordInput{WorkflowID: "wf-1", Metrics: map[string]any{"loss": 0.1}})
		require.NoError(t, err)
		assert.Equal(t, i, cp.ConfigVersion)
	}
}

func TestMemoryStore_RecordCheckpoint_ConcurrentCallsStayGapless(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordCheckpoint(ctx, RecordInput{WorkflowID: "wf-2"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.ListCheckpoints(ctx, "wf-2", 0)
	require.NoError(t, err)
	require.Len(t, list, 20)

	seen := make(map[int]bool)
	for _, cp := range list {
		assert.False(t, seen[cp.ConfigVersion], "duplicate version %d", cp.ConfigVersion)
		seen[cp.ConfigVersion] = true
	}
	for v := 1; v <= 20; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}

func TestMemoryStore_IsBest_AtMostOnePerWorkflow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.RecordCheckpoint(ctx, RecordInput{WorkflowID: "wf-3", IsBest: true})
	require.NoError(t, err)
	second, err := s.RecordCheckpoint(ctx, RecordInput{WorkflowID: "wf-3", IsBest: true})
	require.NoError(t, err)

	list, err := s.ListCheckpoints(ctx, "wf-3", 0)
	require.NoError(t, err)

	bestCount := 0
	for _, cp := range list {
		if cp.IsBest {
			bestCount++
			assert.Equal(t, second.ID, cp.ID)
		}
	}
	assert.Equal(t, 1, bestCount)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryStore_ListCheckpoints_DescendingByVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.RecordCheckpoint(ctx, RecordInput{WorkflowID: "wf-4"})
		require.NoError(t, err)
	}

	list, err := s.ListCheckpoints(ctx, "wf-4", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 3, list[0].ConfigVersion)
	assert.Equal(t, 2, list[1].ConfigVersion)
	assert.Equal(t, 1, list[2].ConfigVersion)
}

func TestMemoryStore_LatestCheckpoint_EmptyWorkflow(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.LatestCheckpoint(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_GetCheckpoint_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetCheckpoint(context.Background(), "missing")
	require.Error(t, err)
}
