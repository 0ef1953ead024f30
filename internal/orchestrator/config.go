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

// Package orchestrator composes the vault, run history store, repository,
// graph compiler, execution engine, tracing layer, webhook admission, chat
// store, checkpoint store, and trace serializer behind one façade.
package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend selects which storage implementation a component binds to.
type Backend string

const (
	BackendMemory   Backend = "inmemory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// PostgresPoolConfig is the min/max/timeout/idle pool sizing for a
// Postgres-backed component.
type PostgresPoolConfig struct {
	Min     int           `yaml:"min"`
	Max     int           `yaml:"max" validate:"omitempty,gtefield=Min"`
	Timeout time.Duration `yaml:"timeout"`
	Idle    time.Duration `yaml:"idle"`
}

// RepositoryConfig selects and configures the Repository backend.
type RepositoryConfig struct {
	Backend      Backend            `yaml:"backend" validate:"required,oneof=inmemory sqlite postgres"`
	SQLitePath   string             `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN  string             `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// HistoryConfig selects and configures the Run History Store backend.
type HistoryConfig struct {
	Backend     Backend `yaml:"backend" validate:"required,oneof=inmemory sqlite postgres"`
	SQLitePath  string  `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN string  `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// VaultConfig selects and configures the Credential Vault backend.
type VaultConfig struct {
	Backend          Backend `yaml:"backend" validate:"required,oneof=inmemory sqlite postgres"`
	SQLitePath       string  `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN      string  `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	EncryptionKeyB64 string  `yaml:"encryption_key_base64" validate:"required"`
	KeyVersion       int     `yaml:"key_version"`
}

// ChatStoreConfig selects and configures the Chat Store backend.
type ChatStoreConfig struct {
	Backend         Backend       `yaml:"backend" validate:"required,oneof=inmemory sqlite postgres"`
	SQLitePath      string        `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN     string        `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	AttachmentsDir  string        `yaml:"attachments_dir"`
	RetentionWindow time.Duration `yaml:"retention_window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AgentensorConfig selects and configures the Checkpoint Store backend.
type AgentensorConfig struct {
	Backend     Backend `yaml:"backend" validate:"required,oneof=inmemory sqlite postgres"`
	SQLitePath  string  `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresDSN string  `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// OAuthConfig configures the OAuth Health component (C2).
type OAuthConfig struct {
	RefreshMarginSeconds int `yaml:"refresh_margin_seconds" validate:"gte=0"`
}

// TracingConfig configures the tracing layer (C7): OTLP export plus the
// SQLite-backed span storage and retention window used for the trace view.
type TracingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ExporterEndpoint string        `yaml:"exporter_endpoint" validate:"required_if=Enabled true"`
	SpanStoragePath  string        `yaml:"span_storage_path"`
	SpanRetention    time.Duration `yaml:"span_retention"`
}

// EngineConfig configures the Execution Engine.
type EngineConfig struct {
	StepBudget int `yaml:"step_budget" validate:"gte=0"`
}

// Config is the orchestrator's full configuration document.
type Config struct {
	Repository RepositoryConfig `yaml:"repository" validate:"required"`
	History    HistoryConfig    `yaml:"history" validate:"required"`
	Vault      VaultConfig      `yaml:"vault" validate:"required"`
	ChatStore  ChatStoreConfig  `yaml:"chat_store" validate:"required"`
	Agentensor AgentensorConfig `yaml:"agentensor" validate:"required"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Engine     EngineConfig     `yaml:"engine"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("orchestrator: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("orchestrator: parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("orchestrator: invalid config: %w", err)
	}
	return cfg, nil
}
