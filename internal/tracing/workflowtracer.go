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

package tracing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/internal/tracing/redact"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
)

// WorkflowTracer implements the Tracing Layer (C7): it maintains a
// durable, JSON-round-trippable Span model per execution, and — when an
// observability.TracerProvider is configured — bridges every stored span
// into a matching OTel span so the same data reaches both the trace view
// and any connected OTel backend.
type WorkflowTracer struct {
	provider observability.TracerProvider
	redactor *redact.Redactor

	mu   sync.Mutex
	runs map[string]*tracedRun
}

type tracedRun struct {
	workflowID string
	spans      []observability.Span
	otelSpans  map[string]observability.SpanHandle // spanID -> live OTel handle
	otelCtx    context.Context
}

// NewWorkflowTracer builds a WorkflowTracer. provider may be nil, in which
// case spans are only kept in the durable model (no OTel export). Span
// attribute strings are scrubbed with a standard-mode Redactor before
// storage; call SetRedactor to change or disable this.
func NewWorkflowTracer(provider observability.TracerProvider) *WorkflowTracer {
	return &WorkflowTracer{
		provider: provider,
		redactor: redact.NewRedactor(redact.ModeStandard),
		runs:     make(map[string]*tracedRun),
	}
}

// SetRedactor overrides the redactor used to scrub span attribute strings
// (including leaked, unresolved "[[credential_name]]" tokens) before they
// are stored or exported. Passing nil disables redaction.
func (t *WorkflowTracer) SetRedactor(r *redact.Redactor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.redactor = r
}

// redactAttrs returns a copy of attrs with every string (and string-slice
// element) value passed through the configured redactor.
func (t *WorkflowTracer) redactAttrs(attrs map[string]any) map[string]any {
	if t.redactor == nil || attrs == nil {
		return attrs
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = t.redactValue(v)
	}
	return out
}

func (t *WorkflowTracer) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return t.redactor.RedactString(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = t.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// StartRootSpan opens the root `workflow.execution` span for a run and
// returns its trace id.
func (t *WorkflowTracer) StartRootSpan(ctx context.Context, workflowID, executionID string, inputs map[string]any) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	traceID := uuid.NewString()
	spanID := uuid.NewString()

	attrs := map[string]any{
		"orcheo.workflow.id":      workflowID,
		"orcheo.execution.id":     executionID,
		"orcheo.execution.status": "running",
	}
	if inputs != nil {
		attrs["orcheo.workflow.inputs"] = truncateAttribute(fmt.Sprintf("%v", inputs))
	}
	attrs = t.redactAttrs(attrs)

	root := observability.Span{
		TraceID:    traceID,
		SpanID:     spanID,
		Name:       "workflow.execution",
		Kind:       observability.SpanKindInternal,
		StartTime:  time.Now(),
		Attributes: attrs,
	}

	run := &tracedRun{workflowID: workflowID, spans: []observability.Span{root}, otelSpans: make(map[string]observability.SpanHandle)}

	if t.provider != nil {
		otelCtx, handle := t.provider.Tracer("orcheo").Start(ctx, root.Name, observability.WithAttributes(attrs))
		run.otelCtx = otelCtx
		run.otelSpans[spanID] = handle
	}

	t.runs[executionID] = run
	return traceID
}

// RecordStep appends a child span derived from step's payload. name is
// `workflow.step.<node_id>` when payload has exactly one top-level key,
// else `workflow.step.<index>`.
func (t *WorkflowTracer) RecordStep(ctx context.Context, executionID string, index int, payload map[string]any) observability.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[executionID]
	if !ok {
		return observability.Span{}
	}

	name := fmt.Sprintf("workflow.step.%d", index)
	if len(payload) == 1 {
		for k := range payload {
			name = "workflow.step." + k
		}
	}

	span := observability.Span{
		TraceID:    run.spans[0].TraceID,
		SpanID:     uuid.NewString(),
		ParentID:   run.spans[0].SpanID,
		Name:       name,
		Kind:       observability.SpanKindInternal,
		StartTime:  time.Now(),
		EndTime:    time.Now(),
		Attributes: t.redactAttrs(extractStepAttributes(payload)),
		Status:     statusFromPayload(payload),
	}
	run.spans = append(run.spans, span)

	if t.provider != nil && run.otelCtx != nil {
		_, handle := t.provider.Tracer("orcheo").Start(run.otelCtx, span.Name, observability.WithAttributes(span.Attributes))
		handle.SetStatus(span.Status.Code, span.Status.Message)
		handle.End()
	}

	return span
}

// CloseRoot finalizes the root span with the run's terminal status.
func (t *WorkflowTracer) CloseRoot(executionID string, code observability.StatusCode, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[executionID]
	if !ok {
		return
	}
	now := time.Now()
	run.spans[0].EndTime = now
	run.spans[0].Status = observability.SpanStatus{Code: code, Message: message}
	run.spans[0].Attributes["orcheo.execution.status"] = statusLabel(code)

	if handle, ok := run.otelSpans[run.spans[0].SpanID]; ok {
		handle.SetStatus(code, message)
		handle.End()
	}
}

// Spans returns every span recorded for executionID, sorted by
// (start_time, span_id) as required by the ordering guarantees in §5.
func (t *WorkflowTracer) Spans(executionID string) []observability.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[executionID]
	if !ok {
		return nil
	}
	out := make([]observability.Span, len(run.spans))
	copy(out, run.spans)
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].SpanID < out[j].SpanID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func statusLabel(code observability.StatusCode) string {
	switch code {
	case observability.StatusCodeOK:
		return "completed"
	case observability.StatusCodeError:
		return "error"
	default:
		return "running"
	}
}

// statusFromPayload maps a step's "status" field onto a span status per
// the table in §4.7: completed/success/succeeded -> OK; error/failed/
// failure -> ERROR; cancelled/canceled -> ERROR with reason; running/"" ->
// UNSET.
func statusFromPayload(payload map[string]any) observability.SpanStatus {
	raw, _ := firstString(payload, "status")
	switch raw {
	case "completed", "success", "succeeded":
		return observability.SpanStatus{Code: observability.StatusCodeOK}
	case "error", "failed", "failure":
		msg, _ := firstString(payload, "error")
		return observability.SpanStatus{Code: observability.StatusCodeError, Message: msg}
	case "cancelled", "canceled":
		reason, _ := firstString(payload, "reason")
		return observability.SpanStatus{Code: observability.StatusCodeError, Message: reason}
	default:
		return observability.SpanStatus{Code: observability.StatusCodeUnset}
	}
}

// extractStepAttributes scans a step payload for the fixed set of
// orcheo.step.* attributes §4.7 names.
func extractStepAttributes(payload map[string]any) map[string]any {
	attrs := make(map[string]any)

	nodes := make([]any, 0, len(payload))
	for k := range payload {
		nodes = append(nodes, k)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].(string) < nodes[j].(string) })
	attrs["orcheo.step.nodes"] = truncateAttribute(nodes)

	if vals := collectUnder(payload, "prompt", "prompts", "messages"); len(vals) > 0 {
		attrs["orcheo.step.prompts"] = truncateAttribute(vals)
	}
	if vals := collectUnder(payload, "response", "responses", "output", "outputs", "result", "results"); len(vals) > 0 {
		attrs["orcheo.step.responses"] = truncateAttribute(vals)
	}
	if vals := collectUnder(payload, "artifact_ids", "artifacts"); len(vals) > 0 {
		attrs["orcheo.step.artifacts"] = truncateAttribute(vals)
	}
	for _, usageKey := range []string{"token_usage", "usage"} {
		if usage, ok := findNested(payload, usageKey); ok {
			for k, v := range flattenNumeric(usage) {
				attrs["orcheo.step.token_usage."+k] = v
			}
		}
	}
	if status, ok := firstString(payload, "status"); ok {
		attrs["orcheo.step.status"] = status
	}
	return attrs
}

func collectUnder(payload map[string]any, keys ...string) []any {
	var out []any
	for _, node := range payload {
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := m[k]; ok {
				out = append(out, v)
			}
		}
	}
	return out
}

func findNested(payload map[string]any, key string) (map[string]any, bool) {
	for _, node := range payload {
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		if usage, ok := m[key].(map[string]any); ok {
			return usage, true
		}
	}
	return nil, false
}

func flattenNumeric(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case float64:
			out[k] = strconv.FormatFloat(n, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(n)
		}
	}
	return out
}

func firstString(payload map[string]any, key string) (string, bool) {
	for _, node := range payload {
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m[key].(string); ok {
			return s, true
		}
	}
	if s, ok := payload[key].(string); ok {
		return s, true
	}
	return "", false
}
