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

// Package chatstore implements the Chat Store (C9): threads, ordinal-
// numbered thread items, and attachments, shared by three backends
// (memory, SQLite, Postgres) behind one contract.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Order is the sort direction for keyset-paginated listings.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// maxRunsMirror bounds the number of run IDs kept in thread.metadata.runs.
const maxRunsMirror = 20

// Thread is the persisted chat thread entity.
type Thread struct {
	ID        string
	Title     string
	Status    map[string]any
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one entry in a thread's item log, ordered within its thread by
// Ordinal.
type Item struct {
	ID        string
	ThreadID  string
	Ordinal   int
	ItemType  string
	Payload   map[string]any
	CreatedAt time.Time
}

// Attachment is a stored attachment, optionally owned by a thread.
type Attachment struct {
	ID             string
	ThreadID       string
	AttachmentType string
	Name           string
	MimeType       string
	Details        map[string]any
	StoragePath    string
	CreatedAt      time.Time
}

// SaveThreadContext carries the inbound request context SaveThread merges
// into a thread's metadata without overwriting fields the caller set
// explicitly.
type SaveThreadContext struct {
	WorkflowID   string
	WorkflowName string
}

// ThreadCursor is the keyset pagination marker for load_threads: created_at
// plus id breaks ties between threads created in the same instant.
type ThreadCursor struct {
	CreatedAt time.Time
	ID        string
}

// ErrAttachmentsUnsupported is returned by backends that do not implement
// attachment storage, such as the in-memory backend.
var ErrAttachmentsUnsupported = errors.New("chatstore: attachments unsupported by this backend")

// BlobStore persists attachment bytes by storage path, independent of the
// attachment's metadata row.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Store is the chat persistence contract shared by every backend.
type Store interface {
	SaveThread(ctx context.Context, thread Thread, rctx SaveThreadContext) (Thread, error)
	LoadThread(ctx context.Context, id string) (Thread, error)
	LoadThreads(ctx context.Context, limit int, after *ThreadCursor, order Order) ([]Thread, error)

	AddThreadItem(ctx context.Context, threadID string, item Item) (Item, error)
	SaveItem(ctx context.Context, item Item) (Item, error)
	LoadThreadItems(ctx context.Context, threadID string, after string, limit int, order Order) ([]Item, error)
	SearchThreadItems(ctx context.Context, threadID string, query string, after string, limit int) ([]Item, error)

	DeleteThread(ctx context.Context, id string) error
	PruneThreadsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	SaveAttachment(ctx context.Context, att Attachment, data []byte) (Attachment, error)
	LoadAttachment(ctx context.Context, id string) (Attachment, []byte, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// serializeItemPayload renders an item payload for substring search,
// shared by every backend's search_thread_items.
func serializeItemPayload(payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}

// mergeThreadMetadata merges rctx's workflow_id/workflow_name into
// metadata without clobbering keys the caller already set.
func mergeThreadMetadata(metadata map[string]any, rctx SaveThreadContext) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out["workflow_id"]; !ok && rctx.WorkflowID != "" {
		out["workflow_id"] = rctx.WorkflowID
	}
	if _, ok := out["workflow_name"]; !ok && rctx.WorkflowName != "" {
		out["workflow_name"] = rctx.WorkflowName
	}
	return out
}

// AppendRunMirror folds runID into metadata's "runs" mirror, deduplicating
// and capping at maxRunsMirror (oldest dropped first). Callers record a
// run against a thread by calling this before SaveThread.
func AppendRunMirror(metadata map[string]any, runID string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	var runs []string
	switch v := out["runs"].(type) {
	case []string:
		runs = append(runs, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				runs = append(runs, s)
			}
		}
	}
	for _, r := range runs {
		if r == runID {
			out["runs"] = runs
			return out
		}
	}
	runs = append(runs, runID)
	if len(runs) > maxRunsMirror {
		runs = runs[len(runs)-maxRunsMirror:]
	}
	out["runs"] = runs
	return out
}
