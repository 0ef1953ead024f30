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

package orchestrator

import (
	"context"
	"fmt"

	"github.com/ShaojieJiang/orcheo/internal/tracing"
)

func buildTracerProvider(ctx context.Context, cfg TracingConfig) (*tracing.OTelProvider, error) {
	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = cfg.Enabled
	tcfg.ServiceName = "orcheo-orchestrator"

	if cfg.SpanStoragePath != "" {
		tcfg.Storage.Path = cfg.SpanStoragePath
	}
	if cfg.SpanRetention > 0 {
		tcfg.Storage.Retention.Traces = cfg.SpanRetention
	}

	if cfg.Enabled {
		tcfg.Exporters = []tracing.ExporterConfig{
			{Type: "otlp", Endpoint: cfg.ExporterEndpoint},
		}
	}

	provider, err := tracing.NewOTelProviderWithConfig(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build tracer provider: %w", err)
	}
	return provider, nil
}
