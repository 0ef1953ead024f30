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

// Package history implements the Run History Store (C3): an append-only,
// per-execution step log shared by three backends (memory, SQLite,
// Postgres) behind one contract.
package history

import (
	"context"
	"time"
)

// Status is a run history record's lifecycle state, mirroring WorkflowRun's
// status vocabulary (§3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// StartRunInput is the input to start_run.
type StartRunInput struct {
	WorkflowID      string
	ExecutionID     string
	Inputs          map[string]any
	RunnableConfig  map[string]any
	TraceID         string
	TraceStartedAt  *time.Time
}

// Step is one RunHistoryStep: an append-only entry in a record's step log.
type Step struct {
	Index   int
	At      time.Time
	Payload map[string]any
}

// Record is a RunHistoryRecord (§3).
type Record struct {
	ExecutionID       string
	WorkflowID        string
	Status            Status
	StartedAt         time.Time
	CompletedAt       *time.Time
	Error             string
	Inputs            map[string]any
	RunnableConfig    map[string]any
	Steps             []Step
	TraceID           string
	TraceStartedAt    *time.Time
	TraceCompletedAt  *time.Time
	TraceLastSpanAt   *time.Time
}

// TraceMetadataUpdate patches trace_id/started_at/updated_at on a record.
type TraceMetadataUpdate struct {
	TraceID   *string
	StartedAt *time.Time
	UpdatedAt *time.Time
}

// Store is the Run History Store contract shared by every backend (§4.3).
type Store interface {
	StartRun(ctx context.Context, in StartRunInput) (Record, error)
	AppendStep(ctx context.Context, executionID string, payload map[string]any) (Step, error)
	MarkCompleted(ctx context.Context, executionID string) error
	MarkFailed(ctx context.Context, executionID string, errMsg string) error
	MarkCancelled(ctx context.Context, executionID string, reason string) error
	UpdateTraceMetadata(ctx context.Context, executionID string, update TraceMetadataUpdate) error
	Get(ctx context.Context, executionID string) (Record, error)
	ListSteps(ctx context.Context, executionID string, fromStep int, limit int) ([]Step, error)
}
