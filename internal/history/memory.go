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
	"sync"
	"time"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// MemoryStore is a mutex-guarded in-memory Store: append-under-lock, no
// durability (§4.3 backend semantics table).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore builds an empty in-memory run history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// StartRun creates a new record; fails if execution_id already exists.
func (s *MemoryStore) StartRun(ctx context.Context, in StartRunInput) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[in.ExecutionID]; exists {
		return Record{}, orcheoerrors.NewRunHistoryError("start_run",
			orcheoerrors.NewNameConflict("run_history", in.ExecutionID))
	}

	r := &Record{
		ExecutionID:    in.ExecutionID,
		WorkflowID:     in.WorkflowID,
		Status:         StatusRunning,
		StartedAt:      time.Now(),
		Inputs:         in.Inputs,
		RunnableConfig: in.RunnableConfig,
		TraceID:        in.TraceID,
		TraceStartedAt: in.TraceStartedAt,
	}
	s.records[in.ExecutionID] = r
	return *r, nil
}

// AppendStep assigns the next sequential index and appends payload.
func (s *MemoryStore) AppendStep(ctx context.Context, executionID string, payload map[string]any) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return Step{}, orcheoerrors.NewNotFound("run_history", executionID)
	}

	step := Step{Index: len(r.Steps), At: time.Now(), Payload: payload}
	r.Steps = append(r.Steps, step)
	r.TraceLastSpanAt = &step.At
	return step, nil
}

func (s *MemoryStore) transition(executionID string, target Status, apply func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return orcheoerrors.NewNotFound("run_history", executionID)
	}
	if r.Status == target {
		return nil // idempotent for the same target state
	}
	if r.Status.IsTerminal() {
		return orcheoerrors.NewRunHistoryError("mark_"+string(target),
			orcheoerrors.NewInvalidTransition("run_history_record", string(r.Status), string(target)))
	}

	apply(r)
	now := time.Now()
	r.Status = target
	r.CompletedAt = &now
	return nil
}

// MarkCompleted sets the record terminal and succeeded.
func (s *MemoryStore) MarkCompleted(ctx context.Context, executionID string) error {
	return s.transition(executionID, StatusSucceeded, func(r *Record) {})
}

// MarkFailed sets the record terminal and failed, recording errMsg.
func (s *MemoryStore) MarkFailed(ctx context.Context, executionID string, errMsg string) error {
	return s.transition(executionID, StatusFailed, func(r *Record) { r.Error = errMsg })
}

// MarkCancelled sets the record terminal and cancelled, recording reason.
func (s *MemoryStore) MarkCancelled(ctx context.Context, executionID string, reason string) error {
	return s.transition(executionID, StatusCancelled, func(r *Record) { r.Error = reason })
}

// UpdateTraceMetadata patches trace fields on a record.
func (s *MemoryStore) UpdateTraceMetadata(ctx context.Context, executionID string, update TraceMetadataUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return orcheoerrors.NewNotFound("run_history", executionID)
	}
	if update.TraceID != nil {
		r.TraceID = *update.TraceID
	}
	if update.StartedAt != nil {
		r.TraceStartedAt = update.StartedAt
	}
	if update.UpdatedAt != nil {
		r.TraceLastSpanAt = update.UpdatedAt
	}
	return nil
}

// Get returns a copy of the record, including its step log.
func (s *MemoryStore) Get(ctx context.Context, executionID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return Record{}, orcheoerrors.NewNotFound("run_history", executionID)
	}
	cp := *r
	cp.Steps = append([]Step(nil), r.Steps...)
	return cp, nil
}

// ListSteps returns steps at index >= fromStep, capped at limit (0 = no cap).
func (s *MemoryStore) ListSteps(ctx context.Context, executionID string, fromStep int, limit int) ([]Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[executionID]
	if !ok {
		return nil, orcheoerrors.NewNotFound("run_history", executionID)
	}

	var out []Step
	for _, step := range r.Steps {
		if step.Index < fromStep {
			continue
		}
		out = append(out, step)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
