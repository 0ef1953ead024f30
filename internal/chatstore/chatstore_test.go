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

package chatstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedThread(t *testing.T, s Store, id string) {
	t.Helper()
	_, err := s.SaveThread(context.Background(), Thread{ID: id}, SaveThreadContext{WorkflowID: "wf-1"})
	require.NoError(t, err)
}

func TestSaveThread_MergesMetadataWithoutOverwritingExplicitFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	thread, err := s.SaveThread(ctx, Thread{ID: "t1", Metadata: map[string]any{"workflow_id": "explicit"}},
		SaveThreadContext{WorkflowID: "from-context", WorkflowName: "My Workflow"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", thread.Metadata["workflow_id"])
	assert.Equal(t, "My Workflow", thread.Metadata["workflow_name"])
}

func TestSaveThread_UpsertPreservesCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.SaveThread(ctx, Thread{ID: "t1", Title: "v1"}, SaveThreadContext{})
	require.NoError(t, err)

	second, err := s.SaveThread(ctx, Thread{ID: "t1", Title: "v2"}, SaveThreadContext{})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "v2", second.Title)
}

func TestAddThreadItem_EnforcesSequentialOrdinals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "t1")

	for i := 0; i < 3; i++ {
		item, err := s.AddThreadItem(ctx, "t1", Item{ItemType: "message", Payload: map[string]any{"i": i}})
		require.NoError(t, err)
		assert.Equal(t, i, item.Ordinal)
	}
}

func TestSaveItem_UpsertsByThreadAndItemID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "t1")

	created, err := s.SaveItem(ctx, Item{ID: "item-1", ThreadID: "t1", ItemType: "message", Payload: map[string]any{"v": 1}})
	require.NoError(t, err)
	assert.Equal(t, 0, created.Ordinal)

	updated, err := s.SaveItem(ctx, Item{ID: "item-1", ThreadID: "t1", ItemType: "message", Payload: map[string]any{"v": 2}})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Ordinal) // same ordinal, upsert not append

	items, err := s.LoadThreadItems(ctx, "t1", "", 0, OrderAsc)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0].Payload["v"])
}

// TestLoadThreadItems_MarkerNeverResolvesAcrossThreads verifies that a
// marker minted in one thread never resolves against another thread's
// ordinal space.
func TestLoadThreadItems_MarkerNeverResolvesAcrossThreads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "T1")
	seedThread(t, s, "T2")

	var m0, m1 Item
	for i, id := range []string{"m0", "m1"} {
		it, err := s.AddThreadItem(ctx, "T1", Item{ID: id, ItemType: "message"})
		require.NoError(t, err)
		if i == 0 {
			m0 = it
		} else {
			m1 = it
		}
	}
	_ = m1
	var n0 Item
	for i, id := range []string{"n0", "n1"} {
		it, err := s.AddThreadItem(ctx, "T2", Item{ID: id, ItemType: "message"})
		require.NoError(t, err)
		if i == 0 {
			n0 = it
		}
	}

	items, err := s.LoadThreadItems(ctx, "T1", n0.ID, 10, OrderAsc)
	require.NoError(t, err)

	// Must never mix in T2 items, and since n0 is unresolved inside T1,
	// the page must start from ordinal 0 (all of T1's items).
	for _, it := range items {
		assert.Equal(t, "T1", it.ThreadID)
	}
	assert.Len(t, items, 2)
	assert.Equal(t, m0.ID, items[0].ID)
}

func TestLoadThreadItems_ResolvedMarkerPagesByOrdinal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "t1")

	var first Item
	for i, id := range []string{"a", "b", "c"} {
		it, err := s.AddThreadItem(ctx, "t1", Item{ID: id, ItemType: "message"})
		require.NoError(t, err)
		if i == 0 {
			first = it
		}
	}

	items, err := s.LoadThreadItems(ctx, "t1", first.ID, 10, OrderAsc)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
}

func TestLoadThreads_KeysetPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		seedThread(t, s, id)
		time.Sleep(time.Millisecond)
	}

	first, err := s.LoadThreads(ctx, 2, nil, OrderAsc)
	require.NoError(t, err)
	require.Len(t, first, 2)

	cursor := &ThreadCursor{CreatedAt: first[len(first)-1].CreatedAt, ID: first[len(first)-1].ID}
	rest, err := s.LoadThreads(ctx, 10, cursor, OrderAsc)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "t3", rest[0].ID)
}

func TestDeleteThread_CascadesToItems(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "t1")
	_, err := s.AddThreadItem(ctx, "t1", Item{ItemType: "message"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteThread(ctx, "t1"))

	_, err = s.LoadThread(ctx, "t1")
	assert.Error(t, err)
	items, err := s.LoadThreadItems(ctx, "t1", "", 0, OrderAsc)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPruneThreadsOlderThan_DeletesStaleThreadsOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "old")
	time.Sleep(2 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)
	seedThread(t, s, "new")

	n, err := s.PruneThreadsOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.LoadThread(ctx, "old")
	assert.Error(t, err)
	_, err = s.LoadThread(ctx, "new")
	assert.NoError(t, err)
}

func TestSearchThreadItems_SubstringMatchOnPayload(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedThread(t, s, "t1")
	_, err := s.AddThreadItem(ctx, "t1", Item{ItemType: "message", Payload: map[string]any{"text": "hello world"}})
	require.NoError(t, err)
	_, err = s.AddThreadItem(ctx, "t1", Item{ItemType: "message", Payload: map[string]any{"text": "goodbye"}})
	require.NoError(t, err)

	results, err := s.SearchThreadItems(ctx, "t1", "hello", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello world", results[0].Payload["text"])
}

func TestMemoryStore_AttachmentsUnsupported(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.SaveAttachment(ctx, Attachment{}, nil)
	assert.ErrorIs(t, err, ErrAttachmentsUnsupported)
}

func TestAppendRunMirror_DedupesAndCaps(t *testing.T) {
	metadata := map[string]any{}
	for i := 0; i < 25; i++ {
		metadata = AppendRunMirror(metadata, "run-0")
	}
	runs := metadata["runs"].([]string)
	assert.Len(t, runs, 1)

	for i := 1; i < 25; i++ {
		metadata = AppendRunMirror(metadata, "run-"+string(rune('a'+i)))
	}
	runs = metadata["runs"].([]string)
	assert.LessOrEqual(t, len(runs), 20)
}
