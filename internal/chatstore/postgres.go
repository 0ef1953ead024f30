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

package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

// PostgresStore is a Postgres Chat Store. Blank-imports pgx/v5/stdlib to
// register the "pgx" driver, the same defect fix applied to the other
// Postgres backends in this module.
type PostgresStore struct {
	db    *sql.DB
	blobs BlobStore
}

// PostgresConfig configures the Postgres chat store backend.
type PostgresConfig struct {
	ConnectionString string
	MaxOpenConns     int
	Blobs            BlobStore
}

// NewPostgresStore opens (and migrates) a Postgres-backed chat store.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("chatstore: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatstore: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, blobs: cfg.Blobs}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_threads (
			id TEXT PRIMARY KEY,
			title TEXT,
			status_json JSONB,
			metadata_json JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			item_type TEXT NOT NULL,
			item_json JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(thread_id, ordinal)
		);
		CREATE TABLE IF NOT EXISTS chat_attachments (
			id TEXT PRIMARY KEY,
			thread_id TEXT,
			attachment_type TEXT NOT NULL,
			name TEXT NOT NULL,
			mime_type TEXT,
			details_json JSONB,
			storage_path TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_threads_created ON chat_threads(created_at, id);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_thread_ordinal ON chat_messages(thread_id, ordinal);
	`)
	return err
}

// SaveThread implements Store.SaveThread: upsert by id, metadata merged.
func (s *PostgresStore) SaveThread(ctx context.Context, thread Thread, rctx SaveThreadContext) (Thread, error) {
	thread.Metadata = mergeThreadMetadata(thread.Metadata, rctx)
	now := time.Now()

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM chat_threads WHERE id = $1`, thread.ID).Scan(&createdAt)
	switch {
	case err == sql.ErrNoRows:
		thread.CreatedAt = now
	case err != nil:
		return Thread{}, fmt.Errorf("chatstore: save_thread: %w", err)
	default:
		thread.CreatedAt = createdAt
	}
	thread.UpdatedAt = now

	statusJSON, _ := json.Marshal(thread.Status)
	metadataJSON, _ := json.Marshal(thread.Metadata)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_threads (id, title, status_json, metadata_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, status_json = excluded.status_json,
			metadata_json = excluded.metadata_json, updated_at = excluded.updated_at`,
		thread.ID, thread.Title, statusJSON, metadataJSON, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("chatstore: save_thread: %w", err)
	}
	return thread, nil
}

func scanPGThread(row interface{ Scan(dest ...any) error }) (Thread, error) {
	var (
		t                    Thread
		title                sql.NullString
		statusJSON, metaJSON []byte
	)
	if err := row.Scan(&t.ID, &title, &statusJSON, &metaJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Thread{}, err
	}
	t.Title = title.String
	if len(statusJSON) > 0 {
		_ = json.Unmarshal(statusJSON, &t.Status)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	return t, nil
}

// LoadThread implements Store.LoadThread.
func (s *PostgresStore) LoadThread(ctx context.Context, id string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, status_json, metadata_json, created_at, updated_at
		FROM chat_threads WHERE id = $1`, id)
	t, err := scanPGThread(row)
	if err == sql.ErrNoRows {
		return Thread{}, orcheoerrors.NewNotFound("chat_thread", id)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("chatstore: load_thread: %w", err)
	}
	return t, nil
}

// LoadThreads implements Store.LoadThreads with keyset pagination by
// created_at then id.
func (s *PostgresStore) LoadThreads(ctx context.Context, limit int, after *ThreadCursor, order Order) ([]Thread, error) {
	dir := "ASC"
	cmp := ">"
	if order == OrderDesc {
		dir = "DESC"
		cmp = "<"
	}

	query := `SELECT id, title, status_json, metadata_json, created_at, updated_at FROM chat_threads`
	var args []any
	if after != nil {
		query += fmt.Sprintf(` WHERE (created_at, id) %s ($1, $2)`, cmp)
		args = append(args, after.CreatedAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at %s, id %s`, dir, dir)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chatstore: load_threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		t, err := scanPGThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddThreadItem implements Store.AddThreadItem, assigning the next ordinal
// under a per-thread advisory lock so concurrent appends against the same
// thread never collide on ordinal.
func (s *PostgresStore) AddThreadItem(ctx context.Context, threadID string, item Item) (Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return Item{}, fmt.Errorf("chatstore: acquire thread lock: %w", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_threads WHERE id = $1`, threadID).Scan(&exists); err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}
	if exists == 0 {
		return Item{}, orcheoerrors.NewNotFound("chat_thread", threadID)
	}

	var maxOrdinal sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM chat_messages WHERE thread_id = $1`, threadID).Scan(&maxOrdinal); err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}
	ordinal := 0
	if maxOrdinal.Valid {
		ordinal = int(maxOrdinal.Int64) + 1
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.ThreadID = threadID
	item.Ordinal = ordinal
	item.CreatedAt = time.Now()

	payloadJSON, _ := json.Marshal(item.Payload)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, thread_id, ordinal, item_type, item_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, threadID, ordinal, item.ItemType, payloadJSON, item.CreatedAt); err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_threads SET updated_at = $1 WHERE id = $2`,
		item.CreatedAt, threadID); err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("chatstore: add_thread_item: %w", err)
	}
	return item, nil
}

// SaveItem implements Store.SaveItem: upsert by (thread_id, item_id).
func (s *PostgresStore) SaveItem(ctx context.Context, item Item) (Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_threads WHERE id = $1`, item.ThreadID).Scan(&exists); err != nil {
		return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
	}
	if exists == 0 {
		return Item{}, orcheoerrors.NewNotFound("chat_thread", item.ThreadID)
	}

	var ordinal int
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT ordinal, created_at FROM chat_messages WHERE thread_id = $1 AND id = $2`,
		item.ThreadID, item.ID).Scan(&ordinal, &createdAt)

	payloadJSON, _ := json.Marshal(item.Payload)
	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(ordinal), -1) FROM chat_messages WHERE thread_id = $1`,
			item.ThreadID).Scan(&ordinal); err != nil {
			return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
		}
		ordinal++
		item.Ordinal = ordinal
		item.CreatedAt = time.Now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, thread_id, ordinal, item_type, item_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.ThreadID, ordinal, item.ItemType, payloadJSON, item.CreatedAt); err != nil {
			return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
		}
	case err != nil:
		return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
	default:
		item.Ordinal = ordinal
		item.CreatedAt = createdAt
		if _, err := tx.ExecContext(ctx, `UPDATE chat_messages SET item_type = $1, item_json = $2 WHERE thread_id = $3 AND id = $4`,
			item.ItemType, payloadJSON, item.ThreadID, item.ID); err != nil {
			return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_threads SET updated_at = $1 WHERE id = $2`,
		time.Now(), item.ThreadID); err != nil {
		return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("chatstore: save_item: %w", err)
	}
	return item, nil
}

func scanPGItem(row interface{ Scan(dest ...any) error }) (Item, error) {
	var (
		it       Item
		itemJSON []byte
	)
	if err := row.Scan(&it.ID, &it.ThreadID, &it.Ordinal, &it.ItemType, &itemJSON, &it.CreatedAt); err != nil {
		return Item{}, err
	}
	if len(itemJSON) > 0 {
		_ = json.Unmarshal(itemJSON, &it.Payload)
	}
	return it, nil
}

func (s *PostgresStore) resolveMarker(ctx context.Context, threadID, marker string) (int, bool, error) {
	if marker == "" {
		return 0, true, nil
	}
	var ordinal int
	err := s.db.QueryRowContext(ctx, `SELECT ordinal FROM chat_messages WHERE thread_id = $1 AND id = $2`,
		threadID, marker).Scan(&ordinal)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("chatstore: resolve marker: %w", err)
	}
	return ordinal, true, nil
}

// LoadThreadItems implements Store.LoadThreadItems with ordinal-based
// pagination.
func (s *PostgresStore) LoadThreadItems(ctx context.Context, threadID string, after string, limit int, order Order) ([]Item, error) {
	ordinal, resolved, err := s.resolveMarker(ctx, threadID, after)
	if err != nil {
		return nil, err
	}

	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}

	query := `SELECT id, thread_id, ordinal, item_type, item_json, created_at FROM chat_messages WHERE thread_id = $1`
	args := []any{threadID}
	if after != "" && resolved {
		query += fmt.Sprintf(` AND ordinal > $%d`, len(args)+1)
		args = append(args, ordinal)
	}
	query += fmt.Sprintf(` ORDER BY ordinal %s`, dir)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chatstore: load_thread_items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanPGItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SearchThreadItems implements Store.SearchThreadItems.
func (s *PostgresStore) SearchThreadItems(ctx context.Context, threadID string, query string, after string, limit int) ([]Item, error) {
	items, err := s.LoadThreadItems(ctx, threadID, after, 0, OrderAsc)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.Contains(serializeItemPayload(it.Payload), query) {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteThread implements Store.DeleteThread, cascading to items and
// attachments (removing attachment blobs from disk).
func (s *PostgresStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("chatstore: acquire thread lock: %w", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_threads WHERE id = $1`, id).Scan(&exists); err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}
	if exists == 0 {
		return orcheoerrors.NewNotFound("chat_thread", id)
	}

	paths, err := s.attachmentPaths(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_attachments WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chatstore: delete_thread: %w", err)
	}

	if s.blobs != nil {
		for _, p := range paths {
			_ = s.blobs.Delete(ctx, p)
		}
	}
	return nil
}

func (s *PostgresStore) attachmentPaths(ctx context.Context, tx *sql.Tx, threadID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT storage_path FROM chat_attachments WHERE thread_id = $1 AND storage_path IS NOT NULL`, threadID)
	if err != nil {
		return nil, fmt.Errorf("chatstore: attachment_paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// PruneThreadsOlderThan implements Store.PruneThreadsOlderThan.
func (s *PostgresStore) PruneThreadsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("chatstore: prune: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chat_threads WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("chatstore: prune: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var paths []string
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return 0, fmt.Errorf("chatstore: acquire thread lock: %w", err)
		}
		p, err := s.attachmentPaths(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		paths = append(paths, p...)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, id); err != nil {
			return 0, fmt.Errorf("chatstore: prune: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_attachments WHERE thread_id = $1`, id); err != nil {
			return 0, fmt.Errorf("chatstore: prune: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE updated_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("chatstore: prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("chatstore: prune: %w", err)
	}

	if s.blobs != nil {
		for _, p := range paths {
			_ = s.blobs.Delete(ctx, p)
		}
	}
	return len(ids), nil
}

// SaveAttachment implements Store.SaveAttachment.
func (s *PostgresStore) SaveAttachment(ctx context.Context, att Attachment, data []byte) (Attachment, error) {
	if s.blobs == nil {
		return Attachment{}, ErrAttachmentsUnsupported
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	att.CreatedAt = time.Now()
	if att.StoragePath == "" {
		att.StoragePath = fmt.Sprintf("%s/%s", att.ThreadID, att.ID)
	}

	if err := s.blobs.Put(ctx, att.StoragePath, data); err != nil {
		return Attachment{}, fmt.Errorf("chatstore: save_attachment: %w", err)
	}

	detailsJSON, _ := json.Marshal(att.Details)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_attachments (id, thread_id, attachment_type, name, mime_type, details_json, storage_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		att.ID, nullableString(att.ThreadID), att.AttachmentType, att.Name, att.MimeType,
		detailsJSON, att.StoragePath, att.CreatedAt)
	if err != nil {
		_ = s.blobs.Delete(ctx, att.StoragePath)
		return Attachment{}, fmt.Errorf("chatstore: save_attachment: %w", err)
	}
	return att, nil
}

// LoadAttachment implements Store.LoadAttachment.
func (s *PostgresStore) LoadAttachment(ctx context.Context, id string) (Attachment, []byte, error) {
	if s.blobs == nil {
		return Attachment{}, nil, ErrAttachmentsUnsupported
	}

	var (
		att                         Attachment
		threadID, mimeType, storage sql.NullString
		detailsJSON                 []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, attachment_type, name, mime_type, details_json, storage_path, created_at
		FROM chat_attachments WHERE id = $1`, id).Scan(
		&att.ID, &threadID, &att.AttachmentType, &att.Name, &mimeType, &detailsJSON, &storage, &att.CreatedAt)
	if err == sql.ErrNoRows {
		return Attachment{}, nil, orcheoerrors.NewNotFound("chat_attachment", id)
	}
	if err != nil {
		return Attachment{}, nil, fmt.Errorf("chatstore: load_attachment: %w", err)
	}
	att.ThreadID = threadID.String
	att.MimeType = mimeType.String
	att.StoragePath = storage.String
	if len(detailsJSON) > 0 {
		_ = json.Unmarshal(detailsJSON, &att.Details)
	}

	var data []byte
	if att.StoragePath != "" {
		data, err = s.blobs.Get(ctx, att.StoragePath)
		if err != nil {
			return Attachment{}, nil, fmt.Errorf("chatstore: load_attachment blob: %w", err)
		}
	}
	return att, data, nil
}

// DeleteAttachment implements Store.DeleteAttachment.
func (s *PostgresStore) DeleteAttachment(ctx context.Context, id string) error {
	if s.blobs == nil {
		return ErrAttachmentsUnsupported
	}
	var storage sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT storage_path FROM chat_attachments WHERE id = $1`, id).Scan(&storage)
	if err == sql.ErrNoRows {
		return orcheoerrors.NewNotFound("chat_attachment", id)
	}
	if err != nil {
		return fmt.Errorf("chatstore: delete_attachment: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_attachments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("chatstore: delete_attachment: %w", err)
	}
	if storage.Valid && storage.String != "" {
		_ = s.blobs.Delete(ctx, storage.String)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
