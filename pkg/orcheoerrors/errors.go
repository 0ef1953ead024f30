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

// Package orcheoerrors provides the error taxonomy shared by every runtime
// core component: typed errors that callers can match with errors.As, plus
// thin Wrap/Wrapf helpers for adding context without losing the chain.
package orcheoerrors

import (
	"errors"
	"fmt"
)

// Wrap adds context to err, returning nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to err, returning nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is a convenience re-export of errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a convenience re-export of errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// NotFoundError is returned when a requested entity does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidTransitionError is returned when a state machine transition is not
// permitted from the entity's current state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// NewInvalidTransition builds an InvalidTransitionError.
func NewInvalidTransition(entity, from, to string) error {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// IsInvalidTransition reports whether err is (or wraps) an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

// NameConflictError is returned when a credential name already exists within
// a scope.
type NameConflictError struct {
	Scope string
	Name  string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name conflict in scope %s: %s", e.Scope, e.Name)
}

// NewNameConflict builds a NameConflictError.
func NewNameConflict(scope, name string) error {
	return &NameConflictError{Scope: scope, Name: name}
}

// WorkflowScopeError is returned when a caller attempts to read or mutate a
// credential outside the workflow scope it was created in.
type WorkflowScopeError struct {
	CredentialID string
	WorkflowID   string
}

func (e *WorkflowScopeError) Error() string {
	return fmt.Sprintf("credential %s is not visible to workflow %s", e.CredentialID, e.WorkflowID)
}

// NewWorkflowScopeError builds a WorkflowScopeError.
func NewWorkflowScopeError(credentialID, workflowID string) error {
	return &WorkflowScopeError{CredentialID: credentialID, WorkflowID: workflowID}
}

// WorkflowPublishStateError is returned when publish/rotate/revoke is called
// from an invalid publish state.
type WorkflowPublishStateError struct {
	WorkflowID string
	Reason     string
}

func (e *WorkflowPublishStateError) Error() string {
	return fmt.Sprintf("workflow %s publish state error: %s", e.WorkflowID, e.Reason)
}

// NewWorkflowPublishStateError builds a WorkflowPublishStateError.
func NewWorkflowPublishStateError(workflowID, reason string) error {
	return &WorkflowPublishStateError{WorkflowID: workflowID, Reason: reason}
}

// RunHistoryError wraps a persistence failure from the run history
// subsystem. Callers treat these as non-fatal to the run: log and continue.
type RunHistoryError struct {
	Op    string
	Cause error
}

func (e *RunHistoryError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("run history error during %s", e.Op)
	}
	return fmt.Sprintf("run history error during %s: %v", e.Op, e.Cause)
}

func (e *RunHistoryError) Unwrap() error { return e.Cause }

// NewRunHistoryError builds a RunHistoryError.
func NewRunHistoryError(op string, cause error) error {
	return &RunHistoryError{Op: op, Cause: cause}
}

// CredentialHealthError is raised by the pre-execution health gate when a
// workflow's credentials are not known to be healthy.
type CredentialHealthError struct {
	WorkflowID string
	Reason     string
}

func (e *CredentialHealthError) Error() string {
	return fmt.Sprintf("workflow %s failed credential health gate: %s", e.WorkflowID, e.Reason)
}

// NewCredentialHealthError builds a CredentialHealthError.
func NewCredentialHealthError(workflowID, reason string) error {
	return &CredentialHealthError{WorkflowID: workflowID, Reason: reason}
}

// WebhookValidationError maps to HTTP 400: structural, header, or query
// parameter failures during webhook admission.
type WebhookValidationError struct {
	Reason string
}

func (e *WebhookValidationError) Error() string { return "webhook validation failed: " + e.Reason }

// NewWebhookValidationError builds a WebhookValidationError.
func NewWebhookValidationError(reason string) error {
	return &WebhookValidationError{Reason: reason}
}

// WebhookAuthenticationError maps to HTTP 401: shared-secret or HMAC
// verification failures, including replay detection.
type WebhookAuthenticationError struct {
	Reason string
}

func (e *WebhookAuthenticationError) Error() string {
	return "webhook authentication failed: " + e.Reason
}

// NewWebhookAuthenticationError builds a WebhookAuthenticationError.
func NewWebhookAuthenticationError(reason string) error {
	return &WebhookAuthenticationError{Reason: reason}
}

// RateLimitExceededError maps to HTTP 429.
type RateLimitExceededError struct {
	Limit    int
	Interval string
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d per %s", e.Limit, e.Interval)
}

// NewRateLimitExceeded builds a RateLimitExceededError.
func NewRateLimitExceeded(limit int, interval string) error {
	return &RateLimitExceededError{Limit: limit, Interval: interval}
}

// ScriptIngestionError is returned when a sandboxed langgraph-script graph
// fails to compile or fails to yield an unambiguous graph-builder object.
type ScriptIngestionError struct {
	Reason string
}

func (e *ScriptIngestionError) Error() string { return "script ingestion failed: " + e.Reason }

// NewScriptIngestionError builds a ScriptIngestionError.
func NewScriptIngestionError(reason string) error {
	return &ScriptIngestionError{Reason: reason}
}

// ExecutionError wraps a terminal error propagated from node code during a
// run, after best-effort cleanup has recorded the failure.
type ExecutionError struct {
	NodeID string
	Cause  error
}

func (e *ExecutionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("execution error: %v", e.Cause)
	}
	return fmt.Sprintf("execution error in node %s: %v", e.NodeID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// NewExecutionError builds an ExecutionError.
func NewExecutionError(nodeID string, cause error) error {
	return &ExecutionError{NodeID: nodeID, Cause: cause}
}

// StepBudgetExceededError terminates a run that breaches the per-run node
// execution budget, guarding against unbounded cyclic graphs.
type StepBudgetExceededError struct {
	Budget int
}

func (e *StepBudgetExceededError) Error() string {
	return fmt.Sprintf("step budget of %d node executions exceeded", e.Budget)
}

// NewStepBudgetExceeded builds a StepBudgetExceededError.
func NewStepBudgetExceeded(budget int) error {
	return &StepBudgetExceededError{Budget: budget}
}
