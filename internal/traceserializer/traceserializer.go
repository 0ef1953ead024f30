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

// Package traceserializer turns a run history record and its recorded
// spans into the paginated trace_response view and the incremental
// trace:update WS payload, matching github.com/gorilla/websocket's JSON
// message shape without opening a socket itself.
package traceserializer

import (
	"time"

	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/pkg/observability"
)

// SpanStatus is the wire shape of a span's status.
type SpanStatus struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// WireSpan is one span entry in a trace response or update.
type WireSpan struct {
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Attributes   map[string]any `json:"attributes"`
	Events       []WireEvent    `json:"events"`
	Status       SpanStatus     `json:"status"`
}

// WireEvent is one recorded span event.
type WireEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ExecutionSummary is the compact run-level header of a trace response.
type ExecutionSummary struct {
	ExecutionID string             `json:"execution_id"`
	WorkflowID  string             `json:"workflow_id"`
	Status      string             `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Error       string             `json:"error,omitempty"`
	TokenUsage  map[string]float64 `json:"token_usage,omitempty"`
}

// PageInfo describes a trace response's pagination window, mirroring the
// engine's step-index cursoring.
type PageInfo struct {
	NextCursor int  `json:"next_cursor"`
	HasMore    bool `json:"has_more"`
}

// Response is the full payload returned by TraceResponse.
type Response struct {
	Execution ExecutionSummary `json:"execution"`
	Spans     []WireSpan       `json:"spans"`
	PageInfo  PageInfo         `json:"page_info"`
}

// UpdateMessage is the incremental `trace:update` WS payload.
type UpdateMessage struct {
	Type        string     `json:"type"`
	ExecutionID string     `json:"execution_id"`
	TraceID     string     `json:"trace_id,omitempty"`
	Spans       []WireSpan `json:"spans"`
	Complete    bool       `json:"complete"`
	Cursor      int        `json:"cursor"`
}

func toWireSpan(s observability.Span) WireSpan {
	var end *time.Time
	if !s.EndTime.IsZero() {
		t := s.EndTime
		end = &t
	}
	events := make([]WireEvent, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, WireEvent{Name: e.Name, Timestamp: e.Timestamp, Attributes: e.Attributes})
	}
	return WireSpan{
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentID,
		Name:         s.Name,
		StartTime:    s.StartTime,
		EndTime:      end,
		Attributes:   s.Attributes,
		Events:       events,
		Status:       SpanStatus{Code: statusCodeLabel(s.Status.Code), Message: s.Status.Message},
	}
}

func statusCodeLabel(code observability.StatusCode) string {
	switch code {
	case observability.StatusCodeOK:
		return "OK"
	case observability.StatusCodeError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// TraceResponse builds the paginated trace view for record. spans is the
// record's full span set (root first, then children in step order, as
// returned by tracing.WorkflowTracer.Spans). The root span is emitted
// only when cursor == 0; child spans are windowed to [cursor, cursor+limit)
// (limit <= 0 means no cap). Token usage is always aggregated across every
// step in record, independent of the page window.
func TraceResponse(record history.Record, spans []observability.Span, cursor int, limit int) Response {
	var windowed []WireSpan
	if cursor == 0 && len(spans) > 0 {
		windowed = append(windowed, toWireSpan(spans[0]))
	}

	children := spans
	if len(spans) > 0 {
		children = spans[1:]
	}
	end := len(children)
	if limit > 0 && cursor+limit < end {
		end = cursor + limit
	}
	if cursor < end {
		for _, s := range children[cursor:end] {
			windowed = append(windowed, toWireSpan(s))
		}
	}

	complete := record.Status.IsTerminal()
	nextCursor := end
	hasMore := end < len(children) || !complete
	if complete && end >= len(children) {
		nextCursor = len(children)
	}

	return Response{
		Execution: ExecutionSummary{
			ExecutionID: record.ExecutionID,
			WorkflowID:  record.WorkflowID,
			Status:      string(record.Status),
			StartedAt:   record.StartedAt,
			CompletedAt: record.CompletedAt,
			Error:       record.Error,
			TokenUsage:  AggregateTokenUsage(record.Steps),
		},
		Spans: windowed,
		PageInfo: PageInfo{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}

// TraceUpdateMessage builds the incremental `trace:update` payload for a
// batch of newly-available spans. cursor defaults to the next step index
// when spans are still arriving, or totalSteps once complete.
func TraceUpdateMessage(executionID, traceID string, spans []observability.Span, complete bool, nextStepIndex, totalSteps int) UpdateMessage {
	wire := make([]WireSpan, 0, len(spans))
	for _, s := range spans {
		wire = append(wire, toWireSpan(s))
	}
	cursor := nextStepIndex
	if complete {
		cursor = totalSteps
	}
	return UpdateMessage{
		Type:        "trace:update",
		ExecutionID: executionID,
		TraceID:     traceID,
		Spans:       wire,
		Complete:    complete,
		Cursor:      cursor,
	}
}

// AggregateTokenUsage sums, per key, the numeric entries of each node's
// `token_usage`/`usage` map in every step's payload, across the whole record
// rather than just the current page. Only the direct entries of those maps
// are summed; nested maps are not descended into.
func AggregateTokenUsage(steps []history.Step) map[string]float64 {
	totals := make(map[string]float64)
	for _, step := range steps {
		for _, node := range step.Payload {
			m, ok := node.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"token_usage", "usage"} {
				usage, ok := m[key].(map[string]any)
				if !ok {
					continue
				}
				for k, v := range usage {
					if n, ok := toFloat(v); ok {
						totals[k] += n
					}
				}
			}
		}
	}
	return totals
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
