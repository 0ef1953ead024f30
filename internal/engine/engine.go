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

// Package engine implements the Execution Engine (C6): it drives a
// compiled graph to completion for a single run, emitting stepwise
// progress, persisting run history, recording trace spans, and honoring
// cooperative cancellation.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ShaojieJiang/orcheo/internal/graphcompiler"
	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/internal/log"
	"github.com/ShaojieJiang/orcheo/internal/repository"
	"github.com/ShaojieJiang/orcheo/internal/tracing"
	"github.com/ShaojieJiang/orcheo/internal/vault"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// defaultStepBudget bounds node executions per run (Design Notes §9,
// "Cyclic state graphs").
const defaultStepBudget = 10000

// ProgressEvent is one unit of progress emitted to a run's ProgressSink.
// Kind is one of "trace.update" or "trace.completion"; Step and Spans are
// populated according to Kind.
type ProgressEvent struct {
	Kind  string
	Root  bool
	Step  graphcompiler.Step
	Spans []observability.Span
}

// ProgressSink receives ProgressEvents as a run executes. Implementations
// must not block the driver for long; callers wanting backpressure should
// buffer internally.
type ProgressSink interface {
	Emit(event ProgressEvent)
}

// NoopProgressSink discards every event.
type NoopProgressSink struct{}

// Emit implements ProgressSink.
func (NoopProgressSink) Emit(ProgressEvent) {}

// CancelToken is polled by the driver between node transitions and is
// also threaded into the compiled graph's Stream context, so a trigger
// unblocks any in-flight node send rather than leaking its goroutine.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

// NewCancelToken builds an untriggered CancelToken.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Trigger marks the token triggered with reason, idempotently.
func (c *CancelToken) Trigger(reason string) {
	c.mu.Lock()
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	c.cancel()
}

// Triggered reports whether Trigger has been called.
func (c *CancelToken) Triggered() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Reason returns the trigger reason, or "" if untriggered.
func (c *CancelToken) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done returns a channel closed when Trigger is first called.
func (c *CancelToken) Done() <-chan struct{} { return c.ctx.Done() }

// memCheckpointer is the in-memory default Checkpointer (§4.6 invariants:
// "Checkpointer is optional (in-memory default)").
type memCheckpointer struct {
	mu    sync.Mutex
	saved map[string]graphcompiler.State
}

// NewMemoryCheckpointer builds a process-lifetime Checkpointer.
func NewMemoryCheckpointer() graphcompiler.Checkpointer {
	return &memCheckpointer{saved: make(map[string]graphcompiler.State)}
}

func (c *memCheckpointer) key(executionID, nodeID string) string {
	return executionID + "\x00" + nodeID
}

func (c *memCheckpointer) Save(executionID, nodeID string, state graphcompiler.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[c.key(executionID, nodeID)] = state
	return nil
}

func (c *memCheckpointer) Load(executionID, nodeID string) (graphcompiler.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.saved[c.key(executionID, nodeID)]
	return s, ok
}

// Engine wires the Graph Compiler, Run History Store, Tracing Layer, and
// Repository together to drive one run at a time to completion.
type Engine struct {
	Vault        vault.Vault
	History      history.Store
	Repository   repository.Repository
	Tracer       *tracing.WorkflowTracer
	Registry     *graphcompiler.Registry
	Checkpointer graphcompiler.Checkpointer
	StepBudget   int
	Logger       *slog.Logger

	// Metrics is optional; when set, Run reports run/step boundaries to it.
	Metrics *tracing.MetricsCollector
}

// New builds an Engine with a process-lifetime in-memory checkpointer and
// the default step budget. Callers may override either field afterwards.
func New(v vault.Vault, h history.Store, r repository.Repository, t *tracing.WorkflowTracer, registry *graphcompiler.Registry) *Engine {
	return &Engine{
		Vault:        v,
		History:      h,
		Repository:   r,
		Tracer:       t,
		Registry:     registry,
		Checkpointer: NewMemoryCheckpointer(),
		StepBudget:   defaultStepBudget,
		Logger:       slog.Default(),
	}
}

// RunInput is the input to Run.
type RunInput struct {
	WorkflowID  string
	Version     repository.WorkflowVersion
	Inputs      map[string]any
	ExecutionID string
	Sink        ProgressSink
	Cancel      *CancelToken
}

// Run drives version.Graph to completion for a single execution, exactly
// per the run() operation: start history, open the root trace span,
// stream the compiled graph emitting progress and history steps, then
// settle the run's terminal state in both history and the repository.
//
// ctx's deadline (if any) is the run's cooperative timeout (§5 Timeouts):
// a context cancellation trips in.Cancel rather than aborting the
// goroutine outright.
func (e *Engine) Run(ctx context.Context, in RunInput) error {
	sink := in.Sink
	if sink == nil {
		sink = NoopProgressSink{}
	}
	cancelToken := in.Cancel
	if cancelToken == nil {
		cancelToken = NewCancelToken()
	}
	logger := e.Logger.With(log.RunIDKey, in.ExecutionID, log.WorkflowKey, in.WorkflowID)
	startedAt := time.Now()
	e.recordRunStart(ctx, in)

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	go func() {
		select {
		case <-cancelToken.Done():
			stopStream()
		case <-streamCtx.Done():
		}
	}()
	go e.watchDeadline(ctx, streamCtx, cancelToken)

	resolver := vault.NewCredentialResolver(e.Vault, in.WorkflowID)

	if _, err := e.History.StartRun(ctx, history.StartRunInput{
		WorkflowID:  in.WorkflowID,
		ExecutionID: in.ExecutionID,
		Inputs:      in.Inputs,
	}); err != nil {
		return orcheoerrors.Wrapf(err, "engine: start run %s", in.ExecutionID)
	}

	traceID := e.Tracer.StartRootSpan(ctx, in.WorkflowID, in.ExecutionID, in.Inputs)
	now := time.Now()
	if err := e.History.UpdateTraceMetadata(ctx, in.ExecutionID, history.TraceMetadataUpdate{
		TraceID:   &traceID,
		StartedAt: &now,
	}); err != nil {
		logger.Warn("update trace metadata failed", "error", err)
	}
	sink.Emit(ProgressEvent{Kind: "trace.update", Root: true})

	compiler := graphcompiler.New(e.Registry, resolver)
	compiled, err := compiler.Compile(ctx, in.Version.Graph)
	if err != nil {
		return e.fail(ctx, in, sink, logger, startedAt, err)
	}

	state := compiled.StartState(in.Inputs)
	steps, errs := compiled.Stream(streamCtx, state, graphcompiler.RunConfig{
		ExecutionID:  in.ExecutionID,
		StepBudget:   e.stepBudget(),
		Checkpointer: e.Checkpointer,
	})

	stepIndex := 0
	for steps != nil || errs != nil {
		if cancelToken.Triggered() {
			return e.cancelled(ctx, in, sink, logger, startedAt, cancelToken.Reason())
		}
		select {
		case step, ok := <-steps:
			if !ok {
				steps = nil
				continue
			}
			stepStartedAt := time.Now()
			span := e.Tracer.RecordStep(ctx, in.ExecutionID, stepIndex, step)
			stepIndex++
			if _, err := e.History.AppendStep(ctx, in.ExecutionID, step); err != nil {
				logger.Warn("append step failed", "error", err)
			}
			e.recordStepComplete(ctx, in, step, time.Since(stepStartedAt))
			sink.Emit(ProgressEvent{Kind: "trace.update", Step: step, Spans: []observability.Span{span}})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				if cancelToken.Triggered() {
					return e.cancelled(ctx, in, sink, logger, startedAt, cancelToken.Reason())
				}
				return e.fail(ctx, in, sink, logger, startedAt, err)
			}
		}
	}

	if cancelToken.Triggered() {
		return e.cancelled(ctx, in, sink, logger, startedAt, cancelToken.Reason())
	}
	return e.succeed(ctx, in, sink, logger, startedAt, compiled)
}

// recordRunStart reports a run's start to e.Metrics, if configured.
func (e *Engine) recordRunStart(ctx context.Context, in RunInput) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.RecordRunStart(ctx, in.ExecutionID, in.WorkflowID)
}

// recordRunComplete reports a run's terminal outcome to e.Metrics, if configured.
func (e *Engine) recordRunComplete(ctx context.Context, in RunInput, status string, startedAt time.Time) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.RecordRunComplete(ctx, in.ExecutionID, in.WorkflowID, status, time.Since(startedAt))
}

// recordStepComplete reports one node step's completion to e.Metrics, if
// configured. Step status and node id are read from the step payload when
// present, defaulting to "completed" and "" otherwise.
func (e *Engine) recordStepComplete(ctx context.Context, in RunInput, step graphcompiler.Step, duration time.Duration) {
	if e.Metrics == nil {
		return
	}
	status, _ := step["status"].(string)
	if status == "" {
		status = "completed"
	}
	nodeID, _ := step["node"].(string)
	e.Metrics.RecordStepComplete(ctx, in.WorkflowID, nodeID, status, duration)
}

func (e *Engine) stepBudget() int {
	if e.StepBudget > 0 {
		return e.StepBudget
	}
	return defaultStepBudget
}

func (e *Engine) watchDeadline(ctx, streamCtx context.Context, token *CancelToken) {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			token.Trigger("deadline exceeded")
		} else {
			token.Trigger("context cancelled")
		}
	case <-streamCtx.Done():
	}
}

// succeed implements the run() success path: terminal step, terminal
// history record, OK trace closure, repository settlement with the
// extracted reply.
func (e *Engine) succeed(ctx context.Context, in RunInput, sink ProgressSink, logger *slog.Logger, startedAt time.Time, compiled graphcompiler.CompiledGraph) error {
	snapshot := compiled.FinalState()
	completion := graphcompiler.Step{"status": "completed"}
	if _, err := e.History.AppendStep(ctx, in.ExecutionID, completion); err != nil {
		logger.Warn("append completion step failed", "error", err)
	}
	if err := e.History.MarkCompleted(ctx, in.ExecutionID); err != nil {
		logger.Warn("mark completed failed", "error", err)
	}
	e.Tracer.CloseRoot(in.ExecutionID, observability.StatusCodeOK, "")
	e.emitCompletion(sink, false)
	e.recordRunComplete(ctx, in, "succeeded", startedAt)

	output := extractReply(snapshot)
	if err := e.Repository.MarkRunSucceeded(ctx, in.ExecutionID, output); err != nil {
		return orcheoerrors.Wrapf(err, "engine: mark run %s succeeded", in.ExecutionID)
	}
	return nil
}

// cancelled implements the run() CANCELLED path.
func (e *Engine) cancelled(ctx context.Context, in RunInput, sink ProgressSink, logger *slog.Logger, startedAt time.Time, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	step := graphcompiler.Step{"status": "cancelled", "reason": reason}
	if _, err := e.History.AppendStep(ctx, in.ExecutionID, step); err != nil {
		logger.Warn("append cancellation step failed", "error", err)
	}
	if err := e.History.MarkCancelled(ctx, in.ExecutionID, reason); err != nil {
		logger.Warn("mark cancelled failed", "error", err)
	}
	e.Tracer.CloseRoot(in.ExecutionID, observability.StatusCodeError, reason)
	e.emitCompletion(sink, true)
	e.recordRunComplete(ctx, in, "cancelled", startedAt)

	if err := e.Repository.MarkRunCancelled(ctx, in.ExecutionID, reason); err != nil {
		return orcheoerrors.Wrapf(err, "engine: mark run %s cancelled", in.ExecutionID)
	}
	return nil
}

// fail implements the run() "on any exception" path: every history/trace
// write here is best-effort, because terminal status must end up set on
// the repository even if history writes fail (§4.6 invariants).
func (e *Engine) fail(ctx context.Context, in RunInput, sink ProgressSink, logger *slog.Logger, startedAt time.Time, cause error) error {
	msg := cause.Error()
	step := graphcompiler.Step{"status": "error", "error": msg}
	if _, err := e.History.AppendStep(ctx, in.ExecutionID, step); err != nil {
		logger.Warn("append error step failed", "error", err)
	}
	if err := e.History.MarkFailed(ctx, in.ExecutionID, msg); err != nil {
		logger.Warn("mark failed failed", "error", err)
	}
	e.Tracer.CloseRoot(in.ExecutionID, observability.StatusCodeError, msg)
	e.emitCompletion(sink, true)
	e.recordRunComplete(ctx, in, "failed", startedAt)

	if err := e.Repository.MarkRunFailed(ctx, in.ExecutionID, msg); err != nil {
		logger.Error("mark run failed write failed", "error", err)
	}
	return orcheoerrors.Wrapf(cause, "engine: run %s failed", in.ExecutionID)
}

func (e *Engine) emitCompletion(sink ProgressSink, terminal bool) {
	if sink == nil {
		return
	}
	sink.Emit(ProgressEvent{Kind: "trace.completion", Root: terminal})
}

// extractReply builds the output view from a run's final state. State is
// copied verbatim, which carries the reserved `_messages` key (when
// present) intact into the output view (§4.6 invariants).
func extractReply(snapshot graphcompiler.State) map[string]any {
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}
