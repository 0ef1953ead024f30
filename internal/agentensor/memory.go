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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// MemoryStore is a mutex-guarded in-memory Checkpoint Store.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	byWorkflow  map[string][]string // workflowID -> checkpoint ids, insertion order
}

// NewMemoryStore builds an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]*Checkpoint),
		byWorkflow:  make(map[string][]string),
	}
}

func (s *MemoryStore) maxVersionLocked(workflowID string) int {
	max := 0
	for _, id := range s.byWorkflow[workflowID] {
		if v := s.checkpoints[id].ConfigVersion; v > max {
			max = v
		}
	}
	return max
}

// RecordCheckpoint implements Store.RecordCheckpoint.
func (s *MemoryStore) RecordCheckpoint(ctx context.Context, in RecordInput) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := in.ConfigVersion
	if version == 0 {
		version = s.maxVersionLocked(in.WorkflowID) + 1
	}

	cp := &Checkpoint{
		ID:             uuid.NewString(),
		WorkflowID:     in.WorkflowID,
		ConfigVersion:  version,
		RunnableConfig: in.RunnableConfig,
		Metrics:        in.Metrics,
		Metadata:       in.Metadata,
		ArtifactURL:    in.ArtifactURL,
		IsBest:         in.IsBest,
		CreatedAt:      time.Now(),
	}

	if in.IsBest {
		for _, id := range s.byWorkflow[in.WorkflowID] {
			s.checkpoints[id].IsBest = false
		}
	}

	s.checkpoints[cp.ID] = cp
	s.byWorkflow[in.WorkflowID] = append(s.byWorkflow[in.WorkflowID], cp.ID)
	return *cp, nil
}

// ListCheckpoints implements Store.ListCheckpoints.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, workflowID string, limit int) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Checkpoint, 0, len(s.byWorkflow[workflowID]))
	for _, id := range s.byWorkflow[workflowID] {
		out = append(out, *s.checkpoints[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigVersion > out[j].ConfigVersion })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCheckpoint implements Store.GetCheckpoint.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return Checkpoint{}, orcheoerrors.NewNotFound("checkpoint", id)
	}
	return *cp, nil
}

// LatestCheckpoint implements Store.LatestCheckpoint.
func (s *MemoryStore) LatestCheckpoint(ctx context.Context, workflowID string) (Checkpoint, bool, error) {
	list, err := s.ListCheckpoints(ctx, workflowID, 1)
	if err != nil {
		return Checkpoint{}, false, err
	}
	if len(list) == 0 {
		return Checkpoint{}, false, nil
	}
	return list[0], true, nil
}

var _ Store = (*MemoryStore)(nil)
