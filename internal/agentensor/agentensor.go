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

// Package agentensor implements the Checkpoint Store (C10): Agentensor
// training checkpoints per workflow, with best-of-workflow promotion.
package agentensor

import (
	"context"
	"time"
)

// Checkpoint is one recorded training checkpoint for a workflow.
type Checkpoint struct {
	ID             string
	WorkflowID     string
	ConfigVersion  int
	RunnableConfig map[string]any
	Metrics        map[string]any
	Metadata       map[string]any
	ArtifactURL    string
	IsBest         bool
	CreatedAt      time.Time
}

// RecordInput is the input to record_checkpoint. ConfigVersion, when
// zero, is resolved to max(existing)+1 under the store's lock.
type RecordInput struct {
	WorkflowID     string
	RunnableConfig map[string]any
	Metrics        map[string]any
	Metadata       map[string]any
	ArtifactURL    string
	IsBest         bool
	ConfigVersion  int
}

// Store is the Checkpoint Store contract shared by every backend (§4.10).
type Store interface {
	// RecordCheckpoint inserts a new checkpoint. If in.IsBest, every other
	// checkpoint for in.WorkflowID has is_best atomically cleared in the
	// same operation (at most one is_best row per workflow).
	RecordCheckpoint(ctx context.Context, in RecordInput) (Checkpoint, error)
	// ListCheckpoints returns a workflow's checkpoints, config_version
	// DESC, capped at limit (0 = no cap).
	ListCheckpoints(ctx context.Context, workflowID string, limit int) ([]Checkpoint, error)
	// GetCheckpoint returns a single checkpoint by id, or NotFound.
	GetCheckpoint(ctx context.Context, id string) (Checkpoint, error)
	// LatestCheckpoint returns a workflow's highest config_version
	// checkpoint, or (Checkpoint{}, false) if it has none.
	LatestCheckpoint(ctx context.Context, workflowID string) (Checkpoint, bool, error)
}
