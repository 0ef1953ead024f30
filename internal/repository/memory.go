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

package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// MemoryRepository is a mutex-guarded in-memory Repository.
type MemoryRepository struct {
	mu          sync.Mutex
	workflows   map[string]*Workflow
	bySlug      map[string]string
	versions    map[string][]*WorkflowVersion // workflowID -> versions, index 0 = version 1
	runs        map[string]*WorkflowRun
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*Workflow),
		bySlug:    make(map[string]string),
		versions:  make(map[string][]*WorkflowVersion),
		runs:      make(map[string]*WorkflowRun),
	}
}

// CreateWorkflow inserts a new workflow, deriving a unique slug.
func (r *MemoryRepository) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := slugify(in.Name)
	slug := base
	for i := 2; ; i++ {
		if _, taken := r.bySlug[slug]; !taken {
			break
		}
		slug = base + "-" + uuid.NewString()[:4]
		if i > 3 {
			break
		}
	}

	now := time.Now()
	w := &Workflow{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Slug:        slug,
		Description: in.Description,
		Tags:        dedupeLowerTags(in.Tags),
		CreatedAt:   now,
	}
	w.AuditLog = appendAudit(w.AuditLog, &w.AuditDropped, AuditEvent{Actor: in.Actor, Action: "create", Timestamp: now})

	r.workflows[w.ID] = w
	r.bySlug[w.Slug] = w.ID
	return *w, nil
}

// GetWorkflow fetches a workflow by ID.
func (r *MemoryRepository) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, orcheoerrors.NewNotFound("workflow", id)
	}
	return *w, nil
}

// GetWorkflowBySlug fetches a workflow by its unique slug.
func (r *MemoryRepository) GetWorkflowBySlug(ctx context.Context, slug string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySlug[slug]
	if !ok {
		return Workflow{}, orcheoerrors.NewNotFound("workflow", slug)
	}
	return *r.workflows[id], nil
}

// ListWorkflows returns every workflow, archived or not.
func (r *MemoryRepository) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, *w)
	}
	return out, nil
}

// ArchiveWorkflow marks a workflow archived (never deleted, per §3).
func (r *MemoryRepository) ArchiveWorkflow(ctx context.Context, id string, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return orcheoerrors.NewNotFound("workflow", id)
	}
	w.IsArchived = true
	w.AuditLog = appendAudit(w.AuditLog, &w.AuditDropped, AuditEvent{Actor: actor, Action: "archive", Timestamp: time.Now()})
	return nil
}

// CreateVersion appends an immutable version with a monotonically
// increasing version number starting at 1 (Testable Property #3).
func (r *MemoryRepository) CreateVersion(ctx context.Context, in CreateVersionInput) (WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[in.WorkflowID]; !ok {
		return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow", in.WorkflowID)
	}

	sum, err := checksum(in.Graph)
	if err != nil {
		return WorkflowVersion{}, err
	}

	existing := r.versions[in.WorkflowID]
	v := &WorkflowVersion{
		ID:         uuid.NewString(),
		WorkflowID: in.WorkflowID,
		Version:    len(existing) + 1,
		Graph:      in.Graph,
		Metadata:   in.Metadata,
		CreatedBy:  in.Actor,
		CreatedAt:  time.Now(),
		Notes:      in.Notes,
		Checksum:   sum,
	}
	r.versions[in.WorkflowID] = append(existing, v)
	return *v, nil
}

// GetVersion fetches one version by its 1-based version number.
func (r *MemoryRepository) GetVersion(ctx context.Context, workflowID string, version int) (WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[workflowID]
	if version < 1 || version > len(versions) {
		return WorkflowVersion{}, orcheoerrors.NewNotFound("workflow_version", workflowID)
	}
	return *versions[version-1], nil
}

// ListVersions returns every version of a workflow in creation order.
func (r *MemoryRepository) ListVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.versions[workflowID]
	out := make([]WorkflowVersion, len(versions))
	for i, v := range versions {
		out[i] = *v
	}
	return out, nil
}

// DiffVersions computes a unified diff over canonical-JSON(graph) between
// two versions of the same workflow.
func (r *MemoryRepository) DiffVersions(ctx context.Context, workflowID string, base, target int) (VersionDiff, error) {
	baseVersion, err := r.GetVersion(ctx, workflowID, base)
	if err != nil {
		return VersionDiff{}, err
	}
	targetVersion, err := r.GetVersion(ctx, workflowID, target)
	if err != nil {
		return VersionDiff{}, err
	}
	lines, err := unifiedDiffLines(baseVersion.Graph, targetVersion.Graph)
	if err != nil {
		return VersionDiff{}, err
	}
	return VersionDiff{Base: baseVersion, Target: targetVersion, Lines: lines}, nil
}

// CreateRun inserts a new pending run.
func (r *MemoryRepository) CreateRun(ctx context.Context, in CreateRunInput) (WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &WorkflowRun{
		ID:                uuid.NewString(),
		WorkflowID:        in.WorkflowID,
		WorkflowVersionID: in.WorkflowVersionID,
		Status:            RunPending,
		TriggeredBy:       in.TriggeredBy,
		InputPayload:      in.InputPayload,
		CreatedAt:         time.Now(),
	}
	run.AuditLog = appendAudit(run.AuditLog, &run.AuditDropped, AuditEvent{Actor: in.TriggeredBy, Action: "create_run", Timestamp: run.CreatedAt})
	r.runs[run.ID] = run
	return *run, nil
}

// GetRun fetches a run by ID.
func (r *MemoryRepository) GetRun(ctx context.Context, id string) (WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return WorkflowRun{}, orcheoerrors.NewNotFound("workflow_run", id)
	}
	return *run, nil
}

// ListRuns returns every run belonging to a workflow.
func (r *MemoryRepository) ListRuns(ctx context.Context, workflowID string) ([]WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WorkflowRun
	for _, run := range r.runs {
		if run.WorkflowID == workflowID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (r *MemoryRepository) transitionRun(id string, target RunStatus, apply func(*WorkflowRun)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return orcheoerrors.NewNotFound("workflow_run", id)
	}

	valid := false
	switch {
	case run.Status == RunPending && target == RunRunning:
		valid = true
	case run.Status == RunRunning && target == RunSucceeded:
		valid = true
	case (run.Status == RunPending || run.Status == RunRunning) && target == RunFailed:
		valid = true
	case !run.Status.IsTerminal() && target == RunCancelled:
		valid = true
	}
	if !valid {
		return orcheoerrors.NewInvalidTransition("workflow_run", string(run.Status), string(target))
	}

	apply(run)
	run.Status = target
	now := time.Now()
	if target == RunRunning {
		run.StartedAt = &now
	} else {
		run.CompletedAt = &now
	}
	return nil
}

// MarkRunStarted transitions pending -> running.
func (r *MemoryRepository) MarkRunStarted(ctx context.Context, id string) error {
	return r.transitionRun(id, RunRunning, func(run *WorkflowRun) {})
}

// MarkRunSucceeded transitions running -> succeeded, recording output.
func (r *MemoryRepository) MarkRunSucceeded(ctx context.Context, id string, output map[string]any) error {
	return r.transitionRun(id, RunSucceeded, func(run *WorkflowRun) { run.OutputPayload = output })
}

// MarkRunFailed transitions {pending,running} -> failed, recording errMsg.
func (r *MemoryRepository) MarkRunFailed(ctx context.Context, id string, errMsg string) error {
	return r.transitionRun(id, RunFailed, func(run *WorkflowRun) { run.Error = errMsg })
}

// MarkRunCancelled transitions any non-terminal state -> cancelled.
func (r *MemoryRepository) MarkRunCancelled(ctx context.Context, id string, reason string) error {
	return r.transitionRun(id, RunCancelled, func(run *WorkflowRun) { run.Error = reason })
}

// PublishWorkflow publishes a workflow; fails if already public.
func (r *MemoryRepository) PublishWorkflow(ctx context.Context, workflowID string, tokenHash string, requireLogin bool, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workflows[workflowID]
	if !ok {
		return orcheoerrors.NewNotFound("workflow", workflowID)
	}
	if w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is already public")
	}

	now := time.Now()
	w.IsPublic = true
	w.PublishTokenHash = tokenHash
	w.PublishedAt = &now
	w.PublishedBy = actor
	w.RequireLogin = requireLogin
	w.AuditLog = appendAudit(w.AuditLog, &w.AuditDropped, AuditEvent{
		Actor: actor, Action: "publish", Timestamp: now,
		Metadata: map[string]any{"token": maskToken(tokenHash)},
	})
	return nil
}

// RotatePublishToken replaces the publish token; fails if not public.
func (r *MemoryRepository) RotatePublishToken(ctx context.Context, workflowID string, tokenHash string, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workflows[workflowID]
	if !ok {
		return orcheoerrors.NewNotFound("workflow", workflowID)
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	previous := w.PublishTokenHash
	w.PublishTokenHash = tokenHash
	now := time.Now()
	w.AuditLog = appendAudit(w.AuditLog, &w.AuditDropped, AuditEvent{
		Actor: actor, Action: "rotate_publish_token", Timestamp: now,
		Metadata: map[string]any{"previous_token": maskToken(previous), "new_token": maskToken(tokenHash)},
	})
	return nil
}

// RevokePublish unpublishes a workflow; fails if not public.
func (r *MemoryRepository) RevokePublish(ctx context.Context, workflowID string, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workflows[workflowID]
	if !ok {
		return orcheoerrors.NewNotFound("workflow", workflowID)
	}
	if !w.IsPublic {
		return orcheoerrors.NewWorkflowPublishStateError(workflowID, "workflow is not public")
	}

	w.IsPublic = false
	w.PublishTokenHash = ""
	w.PublishedAt = nil
	w.AuditLog = appendAudit(w.AuditLog, &w.AuditDropped, AuditEvent{Actor: actor, Action: "revoke_publish", Timestamp: time.Now()})
	return nil
}

// VerifyPublishToken resolves a workflow by slug and checks rawToken against
// its stored hash using a constant-time compare.
func (r *MemoryRepository) VerifyPublishToken(ctx context.Context, slug string, rawToken string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySlug[slug]
	if !ok {
		return Workflow{}, orcheoerrors.NewNotFound("workflow", slug)
	}
	w := r.workflows[id]
	if !w.IsPublic || !verifyTokenHash(rawToken, w.PublishTokenHash) {
		return Workflow{}, orcheoerrors.NewWorkflowPublishStateError(id, "invalid or expired publish token")
	}
	return *w, nil
}

var _ Repository = (*MemoryRepository)(nil)
