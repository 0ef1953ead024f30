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
	"log/slog"
	"time"

	"github.com/ShaojieJiang/orcheo/internal/agentensor"
	"github.com/ShaojieJiang/orcheo/internal/chatstore"
	"github.com/ShaojieJiang/orcheo/internal/engine"
	"github.com/ShaojieJiang/orcheo/internal/graphcompiler"
	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/internal/oauthhealth"
	"github.com/ShaojieJiang/orcheo/internal/repository"
	"github.com/ShaojieJiang/orcheo/internal/tracing"
	"github.com/ShaojieJiang/orcheo/internal/vault"
	"github.com/ShaojieJiang/orcheo/internal/webhook"
)

// Orchestrator wires every storage and runtime component behind one
// handle: the vault, run history store, repository, chat store,
// checkpoint store, graph compiler, execution engine, tracing layer,
// webhook admission gate, and OAuth health service.
type Orchestrator struct {
	Config Config

	Vault      vault.Vault
	History    history.Store
	Repository repository.Repository
	ChatStore  chatstore.Store
	Agentensor agentensor.Store
	Tracer     *tracing.OTelProvider
	Registry   *graphcompiler.Registry
	Engine     *engine.Engine
	Webhook    *webhook.Gate
	OAuth      *oauthhealth.Service

	stopCleanup context.CancelFunc
}

// New assembles an Orchestrator from cfg. The caller owns the lifetime of
// the returned Orchestrator and must call Close when done.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v, err := buildVault(cfg.Vault)
	if err != nil {
		return nil, err
	}
	h, err := buildHistory(cfg.History)
	if err != nil {
		return nil, err
	}
	repo, err := buildRepository(cfg.Repository)
	if err != nil {
		return nil, err
	}
	agentStore, err := buildAgentensor(cfg.Agentensor)
	if err != nil {
		return nil, err
	}
	chatStore, _, err := buildChatStore(cfg.ChatStore)
	if err != nil {
		return nil, err
	}
	provider, err := buildTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	registry := graphcompiler.NewRegistry()
	graphcompiler.RegisterBuiltins(registry)

	workflowTracer := tracing.NewWorkflowTracer(provider)
	eng := engine.New(v, h, repo, workflowTracer, registry)
	gate := webhook.NewGate()
	oauthSvc := oauthhealth.New(v)

	o := &Orchestrator{
		Config:     cfg,
		Vault:      v,
		History:    h,
		Repository: repo,
		ChatStore:  chatStore,
		Agentensor: agentStore,
		Tracer:     provider,
		Registry:   registry,
		Engine:     eng,
		Webhook:    gate,
		OAuth:      oauthSvc,
	}

	if cfg.ChatStore.RetentionWindow > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		o.stopCleanup = cancel
		interval := cfg.ChatStore.CleanupInterval
		if interval <= 0 {
			interval = time.Hour
		}
		go chatstore.RunCleanupLoop(cleanupCtx, chatStore, cfg.ChatStore.RetentionWindow, interval, logger)
	}

	return o, nil
}

type closer interface {
	Close() error
}

// Close stops background work owned by the Orchestrator and closes any
// backend that exposes a Close method (the SQLite and Postgres backends;
// the in-memory ones do not need it).
func (o *Orchestrator) Close() error {
	if o.stopCleanup != nil {
		o.stopCleanup()
	}

	var firstErr error
	if o.Tracer != nil {
		if err := o.Tracer.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range []any{o.Vault, o.History, o.Repository, o.ChatStore, o.Agentensor} {
		if cl, ok := c.(closer); ok {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Healthy reports whether the orchestrator's dependencies are reachable.
// It is intentionally shallow: a liveness check, not a deep readiness probe.
func (o *Orchestrator) Healthy(ctx context.Context) error {
	if o.Vault == nil || o.History == nil || o.Repository == nil {
		return fmt.Errorf("orchestrator: not fully initialized")
	}
	return nil
}
