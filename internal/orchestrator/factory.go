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
	"encoding/base64"
	"fmt"

	"github.com/ShaojieJiang/orcheo/internal/agentensor"
	"github.com/ShaojieJiang/orcheo/internal/chatstore"
	"github.com/ShaojieJiang/orcheo/internal/history"
	"github.com/ShaojieJiang/orcheo/internal/repository"
	"github.com/ShaojieJiang/orcheo/internal/vault"
)

func buildVault(cfg VaultConfig) (vault.Vault, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode vault encryption key: %w", err)
	}
	cipher, err := vault.NewAESGCMCipher(key, cfg.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build vault cipher: %w", err)
	}

	switch cfg.Backend {
	case BackendMemory:
		return vault.NewMemoryVault(cipher), nil
	case BackendSQLite:
		return vault.NewSQLiteVault(vault.SQLiteConfig{Path: cfg.SQLitePath, WAL: true}, cipher)
	case BackendPostgres:
		return vault.NewPostgresVault(vault.PostgresConfig{ConnectionString: cfg.PostgresDSN}, cipher)
	default:
		return nil, fmt.Errorf("orchestrator: unknown vault backend %q", cfg.Backend)
	}
}

func buildHistory(cfg HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return history.NewMemoryStore(), nil
	case BackendSQLite:
		return history.NewSQLiteStore(history.SQLiteConfig{Path: cfg.SQLitePath})
	case BackendPostgres:
		return history.NewPostgresStore(history.PostgresConfig{ConnectionString: cfg.PostgresDSN})
	default:
		return nil, fmt.Errorf("orchestrator: unknown history backend %q", cfg.Backend)
	}
}

func buildRepository(cfg RepositoryConfig) (repository.Repository, error) {
	switch cfg.Backend {
	case BackendMemory:
		return repository.NewMemoryRepository(), nil
	case BackendSQLite:
		return repository.NewSQLiteRepository(repository.SQLiteConfig{Path: cfg.SQLitePath})
	case BackendPostgres:
		return repository.NewPostgresRepository(repository.PostgresConfig{
			ConnectionString: cfg.PostgresDSN,
			MaxOpenConns:     cfg.PostgresPool.Max,
			MaxIdleConns:     cfg.PostgresPool.Min,
			ConnMaxIdleTime:  cfg.PostgresPool.Idle,
		})
	default:
		return nil, fmt.Errorf("orchestrator: unknown repository backend %q", cfg.Backend)
	}
}

func buildAgentensor(cfg AgentensorConfig) (agentensor.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return agentensor.NewMemoryStore(), nil
	case BackendSQLite:
		return agentensor.NewSQLiteStore(agentensor.SQLiteConfig{Path: cfg.SQLitePath})
	case BackendPostgres:
		return agentensor.NewPostgresStore(agentensor.PostgresConfig{ConnectionString: cfg.PostgresDSN})
	default:
		return nil, fmt.Errorf("orchestrator: unknown agentensor backend %q", cfg.Backend)
	}
}

func buildChatStore(cfg ChatStoreConfig) (chatstore.Store, chatstore.BlobStore, error) {
	var blobs chatstore.BlobStore
	if cfg.AttachmentsDir != "" {
		lb, err := chatstore.NewLocalBlobStore(cfg.AttachmentsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: build attachment blob store: %w", err)
		}
		blobs = lb
	}

	switch cfg.Backend {
	case BackendMemory:
		return chatstore.NewMemoryStore(), blobs, nil
	case BackendSQLite:
		s, err := chatstore.NewSQLiteStore(chatstore.SQLiteConfig{Path: cfg.SQLitePath, Blobs: blobs})
		return s, blobs, err
	case BackendPostgres:
		s, err := chatstore.NewPostgresStore(chatstore.PostgresConfig{
			ConnectionString: cfg.PostgresDSN,
			Blobs:            blobs,
		})
		return s, blobs, err
	default:
		return nil, nil, fmt.Errorf("orchestrator: unknown chat store backend %q", cfg.Backend)
	}
}
