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

/*
Package tracing implements the Tracing Layer (C7): a durable,
JSON-round-trippable Span model for every workflow execution, bridged to
OpenTelemetry when a TracerProvider is configured.

# Overview

The tracing package supports:

  - A WorkflowTracer that records workflow.execution and workflow.step
    spans independent of whether OTel export is configured
  - Prometheus metrics export via MetricsCollector
  - Configurable trace sampling, including always-sample-on-error
  - Sensitive-value redaction before spans leave the process
  - Trace export to OTLP, OTLP/HTTP, or stdout

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "orcheo",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(context.Background(), cfg)

Wrap it in a WorkflowTracer and record a run:

	tracer := tracing.NewWorkflowTracer(provider)
	traceID := tracer.StartRootSpan(ctx, workflowID, executionID, inputs)
	tracer.RecordStep(ctx, executionID, 0, stepPayload)
	tracer.CloseRoot(executionID, observability.StatusCodeOK, "")

# Metrics Collection

Prometheus metrics are collected at run and step boundaries:

	collector := provider.MetricsCollector()
	collector.RecordRunStart(ctx, executionID, workflowID)
	collector.RecordRunComplete(ctx, executionID, workflowID, "succeeded", duration)

Metrics exposed at /metrics:

  - orcheo_runs_total{workflow,status}
  - orcheo_run_duration_seconds{workflow,status}
  - orcheo_steps_total{workflow,node,status}
  - orcheo_step_duration_seconds{workflow,node,status}
  - orcheo_active_runs, orcheo_queue_depth

# Configuration

The orchestrator's YAML configuration exposes these tracing keys (see
internal/orchestrator/config.go):

	tracing:
	  enabled: true
	  exporter_endpoint: localhost:4317
	  span_storage_path: /var/lib/orcheo/traces.db
	  span_retention: 168h

Sampling, exporter lists and redaction settings are not read from YAML; they
are set on Config in code.

# Key Components

  - WorkflowTracer: durable span model for workflow/step execution
  - OTelProvider: OpenTelemetry SDK wrapper
  - MetricsCollector: Prometheus metrics recording
  - Sampler: configurable trace sampling
  - Exporter: trace export to backends (OTLP, stdout, SQLite)

# Subpackages

  - export: OTLP, OTLP/HTTP, and console span exporters
  - storage: SQLite-based span storage for retention and replay
  - redact: sensitive-value and credential-shaped-value redaction
*/
package tracing
