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

package traceserializer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
)

func sampleSpans(n int) []observability.Span {
	spans := []observability.Span{
		{SpanID: "root", Name: "workflow.run", StartTime: time.Unix(0, 0), Status: observability.SpanStatus{Code: observability.StatusCodeOK}},
	}
	for i := 0; i < n; i++ {
		spans = append(spans, observability.Span{
			SpanID:    "step-" + string(rune('a'+i)),
			ParentID:  "root",
			Name:      "step",
			StartTime: time.Unix(int64(i+1), 0),
			Status:    observability.SpanStatus{Code: observability.StatusCodeOK},
		})
	}
	return spans
}

func sampleRecord(steps int) history.Record {
	r := history.Record{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      history.StatusRunning,
		StartedAt:   time.Unix(0, 0),
	}
	for i := 0; i < steps; i++ {
		r.Steps = append(r.Steps, history.Step{
			Index: i,
			At:    time.Unix(int64(i+1), 0),
			Payload: map[string]any{
				"llm": map[string]any{
					"token_usage": map[string]any{"total_tokens": float64(10)},
				},
			},
		})
	}
	return r
}

func TestTraceResponse_RootSpanOnlyAtCursorZero(t *testing.T) {
	record := sampleRecord(3)
	spans := sampleSpans(3)

	resp := TraceResponse(record, spans, 0, 2)
	require.Len(t, resp.Spans, 3) // root + 2 child spans
	assert.Equal(t, "root", resp.Spans[0].SpanID)
	assert.Equal(t, "step-a", resp.Spans[1].SpanID)
	assert.Equal(t, "step-b", resp.Spans[2].SpanID)
	assert.Equal(t, 2, resp.PageInfo.NextCursor)
	assert.True(t, resp.PageInfo.HasMore)
}

func TestTraceResponse_NonZeroCursorOmitsRootSpan(t *testing.T) {
	record := sampleRecord(3)
	spans := sampleSpans(3)

	resp := TraceResponse(record, spans, 2, 2)
	require.Len(t, resp.Spans, 1)
	assert.Equal(t, "step-c", resp.Spans[0].SpanID)
}

func TestTraceResponse_TokenUsageAggregatesAcrossAllSteps(t *testing.T) {
	record := sampleRecord(5)
	spans := sampleSpans(5)

	resp := TraceResponse(record, spans, 0, 1) // tiny page
	assert.Equal(t, float64(50), resp.Execution.TokenUsage["total_tokens"])
}

func TestTraceResponse_CompleteRecordReportsFullCursor(t *testing.T) {
	record := sampleRecord(3)
	record.Status = history.StatusSucceeded
	spans := sampleSpans(3)

	resp := TraceResponse(record, spans, 0, 10)
	assert.False(t, resp.PageInfo.HasMore)
	assert.Equal(t, 3, resp.PageInfo.NextCursor)
}

func TestTraceUpdateMessage_CursorDefaultsToNextStepIndex(t *testing.T) {
	spans := sampleSpans(1)[1:]
	msg := TraceUpdateMessage("exec-1", "trace-1", spans, false, 2, 5)
	assert.Equal(t, "trace:update", msg.Type)
	assert.Equal(t, 2, msg.Cursor)
	assert.False(t, msg.Complete)
}

func TestTraceUpdateMessage_CompleteUsesTotalSteps(t *testing.T) {
	spans := sampleSpans(1)[1:]
	msg := TraceUpdateMessage("exec-1", "trace-1", spans, true, 2, 5)
	assert.Equal(t, 5, msg.Cursor)
	assert.True(t, msg.Complete)
}

func TestAggregateTokenUsage_IgnoresNonUsagePayloads(t *testing.T) {
	steps := []history.Step{
		{Index: 0, Payload: map[string]any{"status": "ok"}},
		{Index: 1, Payload: map[string]any{"llm": map[string]any{"usage": map[string]any{"prompt_tokens": float64(3)}}}},
	}
	totals := AggregateTokenUsage(steps)
	assert.Equal(t, float64(3), totals["prompt_tokens"])
}
