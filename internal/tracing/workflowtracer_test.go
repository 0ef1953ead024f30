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
	"strings"
	"testing"

	"github.com/ShaojieJiang/orcheo/internal/tracing/redact"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
)

func TestWorkflowTracer_StartRootSpanAndRecordStep(t *testing.T) {
	tracer := NewWorkflowTracer(nil)
	ctx := context.Background()

	traceID := tracer.StartRootSpan(ctx, "wf-1", "exec-1", map[string]any{"x": 1})
	if traceID == "" {
		t.Fatal("expected non-empty trace id")
	}

	step := tracer.RecordStep(ctx, "exec-1", 0, map[string]any{"node-a": map[string]any{"status": "completed"}})
	if step.Name != "workflow.step.node-a" {
		t.Errorf("expected step name derived from single node key, got %q", step.Name)
	}

	tracer.CloseRoot("exec-1", observability.StatusCodeOK, "")

	spans := tracer.Spans("exec-1")
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Attributes["orcheo.execution.status"] != "completed" {
		t.Errorf("expected root span to carry terminal status, got %v", spans[0].Attributes["orcheo.execution.status"])
	}
}

func TestWorkflowTracer_RedactsLeakedCredentialTokens(t *testing.T) {
	tracer := NewWorkflowTracer(nil)
	ctx := context.Background()

	tracer.StartRootSpan(ctx, "wf-1", "exec-1", nil)
	step := tracer.RecordStep(ctx, "exec-1", 0, map[string]any{
		"http_call": map[string]any{
			"status":   "completed",
			"response": "Authorization: Bearer [[api_key]]",
		},
	})

	responses, ok := step.Attributes["orcheo.step.responses"]
	if !ok {
		t.Fatal("expected orcheo.step.responses attribute")
	}
	items, ok := responses.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected a single-element response slice, got %T: %v", responses, responses)
	}
	serialized, ok := items[0].(string)
	if !ok {
		t.Fatalf("expected response element to be a string, got %T", items[0])
	}
	if strings.Contains(serialized, "[[api_key]]") {
		t.Errorf("expected unresolved credential token to be redacted, got %q", serialized)
	}
	if !strings.Contains(serialized, "[[REDACTED]]") {
		t.Errorf("expected redacted placeholder in response attribute, got %q", serialized)
	}
}

func TestWorkflowTracer_SetRedactorNilDisablesRedaction(t *testing.T) {
	tracer := NewWorkflowTracer(nil)
	tracer.SetRedactor(nil)

	ctx := context.Background()
	tracer.StartRootSpan(ctx, "wf-1", "exec-1", nil)
	step := tracer.RecordStep(ctx, "exec-1", 0, map[string]any{
		"http_call": map[string]any{
			"status":   "completed",
			"response": "Authorization: Bearer [[api_key]]",
		},
	})

	items, _ := step.Attributes["orcheo.step.responses"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected a single-element response slice, got %v", items)
	}
	serialized, _ := items[0].(string)
	if !strings.Contains(serialized, "[[api_key]]") {
		t.Errorf("expected credential token to survive with redaction disabled, got %q", serialized)
	}
}

func TestWorkflowTracer_SetRedactorCustomMode(t *testing.T) {
	tracer := NewWorkflowTracer(nil)
	tracer.SetRedactor(redact.NewRedactor(redact.ModeStrict))

	ctx := context.Background()
	tracer.StartRootSpan(ctx, "wf-1", "exec-1", map[string]any{"secret": "value"})

	spans := tracer.Spans("exec-1")
	if spans[0].Attributes["orcheo.workflow.inputs"] != "[REDACTED]" {
		t.Errorf("expected strict mode to redact all values, got %v", spans[0].Attributes["orcheo.workflow.inputs"])
	}
}
