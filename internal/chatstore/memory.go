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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// MemoryStore is a mutex-guarded in-memory Store. Attachments are
// unsupported.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*Thread
	items   map[string][]*Item // threadID -> items, ordinal order
}

// NewMemoryStore builds an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*Thread),
		items:   make(map[string][]*Item),
	}
}

// SaveThread implements Store.SaveThread: upsert by id, metadata merged.
func (s *MemoryStore) SaveThread(ctx context.Context, thread Thread, rctx SaveThreadContext) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	thread.Metadata = mergeThreadMetadata(thread.Metadata, rctx)

	existing, ok := s.threads[thread.ID]
	if ok {
		thread.CreatedAt = existing.CreatedAt
	} else {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	cp := thread
	s.threads[thread.ID] = &cp
	return cp, nil
}

// LoadThread implements Store.LoadThread.
func (s *MemoryStore) LoadThread(ctx context.Context, id string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return Thread{}, orcheoerrors.NewNotFound("chat_thread", id)
	}
	return *t, nil
}

// LoadThreads implements Store.LoadThreads with keyset pagination by
// created_at then id.
func (s *MemoryStore) LoadThreads(ctx context.Context, limit int, after *ThreadCursor, order Order) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		all = append(all, t)
	}
	asc := order != OrderDesc
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			if asc {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		if asc {
			return all[i].ID < all[j].ID
		}
		return all[i].ID > all[j].ID
	})

	if after != nil {
		idx := len(all)
		for i, t := range all {
			var past bool
			if asc {
				past = t.CreatedAt.After(after.CreatedAt) || (t.CreatedAt.Equal(after.CreatedAt) && t.ID > after.ID)
			} else {
				past = t.CreatedAt.Before(after.CreatedAt) || (t.CreatedAt.Equal(after.CreatedAt) && t.ID < after.ID)
			}
			if past {
				idx = i
				break
			}
		}
		all = all[idx:]
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]Thread, len(all))
	for i, t := range all {
		out[i] = *t
	}
	return out, nil
}

// AddThreadItem implements Store.AddThreadItem, assigning the next ordinal.
func (s *MemoryStore) AddThreadItem(ctx context.Context, threadID string, item Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return Item{}, orcheoerrors.NewNotFound("chat_thread", threadID)
	}

	existing := s.items[threadID]
	item.ThreadID = threadID
	item.Ordinal = len(existing)
	item.CreatedAt = time.Now()

	cp := item
	s.items[threadID] = append(existing, &cp)
	s.touchThreadLocked(threadID)
	return cp, nil
}

// SaveItem implements Store.SaveItem: upsert by (thread_id, item_id).
func (s *MemoryStore) SaveItem(ctx context.Context, item Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[item.ThreadID]; !ok {
		return Item{}, orcheoerrors.NewNotFound("chat_thread", item.ThreadID)
	}

	existing := s.items[item.ThreadID]
	for i, it := range existing {
		if it.ID == item.ID {
			item.Ordinal = it.Ordinal
			item.CreatedAt = it.CreatedAt
			cp := item
			existing[i] = &cp
			s.touchThreadLocked(item.ThreadID)
			return cp, nil
		}
	}

	item.Ordinal = len(existing)
	item.CreatedAt = time.Now()
	cp := item
	s.items[item.ThreadID] = append(existing, &cp)
	s.touchThreadLocked(item.ThreadID)
	return cp, nil
}

func (s *MemoryStore) touchThreadLocked(threadID string) {
	if t, ok := s.threads[threadID]; ok {
		t.UpdatedAt = time.Now()
	}
}

// resolveMarkerLocked finds the ordinal of an item by (id, threadID). A
// marker that doesn't resolve under both conditions is treated as unknown
// rather than resolved against another thread's item.
func (s *MemoryStore) resolveMarkerLocked(threadID, marker string) (int, bool) {
	if marker == "" {
		return 0, true
	}
	for _, it := range s.items[threadID] {
		if it.ID == marker {
			return it.Ordinal, true
		}
	}
	return 0, false
}

// LoadThreadItems implements Store.LoadThreadItems with ordinal-based
// pagination.
func (s *MemoryStore) LoadThreadItems(ctx context.Context, threadID string, after string, limit int, order Order) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startOrdinal, resolved := s.resolveMarkerLocked(threadID, after)
	items := s.items[threadID]

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if after != "" {
			if !resolved {
				// unresolved marker: page starts from ordinal 0
			} else if it.Ordinal <= startOrdinal {
				continue
			}
		}
		out = append(out, *it)
	}

	if order == OrderDesc {
		sort.Slice(out, func(i, j int) bool { return out[i].Ordinal > out[j].Ordinal })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchThreadItems implements Store.SearchThreadItems: substring match on
// the serialized item payload.
func (s *MemoryStore) SearchThreadItems(ctx context.Context, threadID string, query string, after string, limit int) ([]Item, error) {
	items, err := s.LoadThreadItems(ctx, threadID, after, 0, OrderAsc)
	if err != nil {
		return nil, err
	}

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.Contains(serializeItemPayload(it.Payload), query) {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteThread implements Store.DeleteThread, cascading to items (and, for
// backends that support them, attachments).
func (s *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return orcheoerrors.NewNotFound("chat_thread", id)
	}
	delete(s.threads, id)
	delete(s.items, id)
	return nil
}

// PruneThreadsOlderThan implements Store.PruneThreadsOlderThan.
func (s *MemoryStore) PruneThreadsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, t := range s.threads {
		if t.UpdatedAt.Before(cutoff) {
			delete(s.threads, id)
			delete(s.items, id)
			count++
		}
	}
	return count, nil
}

// SaveAttachment implements Store.SaveAttachment. The in-memory backend
// declares attachments unsupported.
func (s *MemoryStore) SaveAttachment(ctx context.Context, att Attachment, data []byte) (Attachment, error) {
	return Attachment{}, ErrAttachmentsUnsupported
}

// LoadAttachment implements Store.LoadAttachment.
func (s *MemoryStore) LoadAttachment(ctx context.Context, id string) (Attachment, []byte, error) {
	return Attachment{}, nil, ErrAttachmentsUnsupported
}

// DeleteAttachment implements Store.DeleteAttachment.
func (s *MemoryStore) DeleteAttachment(ctx context.Context, id string) error {
	return ErrAttachmentsUnsupported
}

var _ Store = (*MemoryStore)(nil)
