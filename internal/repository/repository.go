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

// Package repository implements the Repository (C4): Workflow,
// WorkflowVersion, and WorkflowRun ownership, the publish token lifecycle,
// and canonical-JSON version diffing.
package repository

import (
	"context"
	"time"
)

// RunStatus is a WorkflowRun's lifecycle state (§3).
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether s is one of the terminal run states.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// AuditEvent is one append-only entry in a workflow's or run's audit log.
type AuditEvent struct {
	Actor     string
	Action    string
	Timestamp time.Time
	Metadata  map[string]any
}

// maxAuditEvents bounds the embedded audit log (Design Notes §9).
const maxAuditEvents = 200

func appendAudit(log []AuditEvent, dropped *int, evt AuditEvent) []AuditEvent {
	log = append(log, evt)
	if len(log) > maxAuditEvents {
		drop := len(log) - maxAuditEvents
		*dropped += drop
		log = log[drop:]
	}
	return log
}

// Workflow is the persisted Workflow entity (§3). Never deleted; archive
// instead.
type Workflow struct {
	ID               string
	Name             string
	Slug             string
	Description      string
	Tags             []string
	IsArchived       bool
	IsPublic         bool
	PublishTokenHash string
	PublishedAt      *time.Time
	PublishedBy      string
	RequireLogin     bool
	AuditLog         []AuditEvent
	AuditDropped     int
	CreatedAt        time.Time
}

// WorkflowVersion is immutable once created (§3).
type WorkflowVersion struct {
	ID        string
	WorkflowID string
	Version   int
	Graph     map[string]any
	Metadata  map[string]any
	CreatedBy string
	CreatedAt time.Time
	Notes     string
	Checksum  string
}

// WorkflowRun is the persisted run entity owned by Repository (§3).
type WorkflowRun struct {
	ID                string
	WorkflowID        string
	WorkflowVersionID string
	Status            RunStatus
	TriggeredBy       string
	InputPayload      map[string]any
	OutputPayload     map[string]any
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Error             string
	AuditLog          []AuditEvent
	AuditDropped      int
	CreatedAt         time.Time
}

// CreateWorkflowInput is the input to create_workflow.
type CreateWorkflowInput struct {
	Name        string
	Description string
	Tags        []string
	Actor       string
}

// CreateVersionInput is the input to create_version.
type CreateVersionInput struct {
	WorkflowID string
	Graph      map[string]any
	Metadata   map[string]any
	Notes      string
	Actor      string
}

// CreateRunInput is the input to create_run.
type CreateRunInput struct {
	WorkflowID        string
	WorkflowVersionID string
	TriggeredBy       string
	InputPayload      map[string]any
}

// VersionDiff is the result of diff_versions: base, target, and an ordered
// sequence of unified-diff lines over canonical-JSON(graph).
type VersionDiff struct {
	Base   WorkflowVersion
	Target WorkflowVersion
	Lines  []string
}

// Repository is the full Repository contract used by the orchestrator.
type Repository interface {
	CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (Workflow, error)
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	GetWorkflowBySlug(ctx context.Context, slug string) (Workflow, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	ArchiveWorkflow(ctx context.Context, id string, actor string) error

	CreateVersion(ctx context.Context, in CreateVersionInput) (WorkflowVersion, error)
	GetVersion(ctx context.Context, workflowID string, version int) (WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error)
	DiffVersions(ctx context.Context, workflowID string, base, target int) (VersionDiff, error)

	CreateRun(ctx context.Context, in CreateRunInput) (WorkflowRun, error)
	GetRun(ctx context.Context, id string) (WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string) ([]WorkflowRun, error)
	MarkRunStarted(ctx context.Context, id string) error
	MarkRunSucceeded(ctx context.Context, id string, output map[string]any) error
	MarkRunFailed(ctx context.Context, id string, errMsg string) error
	MarkRunCancelled(ctx context.Context, id string, reason string) error

	PublishWorkflow(ctx context.Context, workflowID string, tokenHash string, requireLogin bool, actor string) error
	RotatePublishToken(ctx context.Context, workflowID string, tokenHash string, actor string) error
	RevokePublish(ctx context.Context, workflowID string, actor string) error
	VerifyPublishToken(ctx context.Context, slug string, rawToken string) (Workflow, error)
}
