// Package sqlite is the standalone/dev-mode Store implementation: a single
// file database/sql handle over modernc.org/sqlite, no external Postgres
// required. It mirrors pg's query semantics (embeddings as JSON-encoded
// float arrays, in-application cosine similarity top-k, the same atomic
// sequence/task-claim contracts) closely enough that code exercised against
// it behaves the same way against pg. Grounded in the teacher's
// file-store-vs-pg-store duality (internal/store/file/sessions.go vs
// internal/store/pg/) — here the dev backend is a real embedded database
// rather than flat files, since Sage's schema is relational.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, enables
// foreign keys, and applies the schema if this is a fresh file.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY under any concurrent access this process generates.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() {
	s.db.Close()
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		system_prompt        TEXT NOT NULL,
		message_ids          TEXT NOT NULL DEFAULT '[]',
		max_context_tokens   INTEGER NOT NULL,
		compaction_threshold REAL NOT NULL,
		model                TEXT NOT NULL,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_contexts (
		id          TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		created_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_contexts_agent_id ON chat_contexts(agent_id)`,
	`CREATE TABLE IF NOT EXISTS agent_sequence_counters (
		agent_id   TEXT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
		next_value INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		agent_id     TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL DEFAULT '',
		role         TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'tool', 'system')),
		content      TEXT NOT NULL,
		tool_calls   TEXT,
		tool_results TEXT,
		sequence_id  INTEGER NOT NULL,
		created_at   TEXT NOT NULL,
		embedding    TEXT,
		UNIQUE (agent_id, sequence_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent_id ON messages(agent_id)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		label       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		value       TEXT NOT NULL DEFAULT '',
		char_limit  INTEGER NOT NULL DEFAULT 20000,
		read_only   INTEGER NOT NULL DEFAULT 0,
		version     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		UNIQUE (agent_id, label)
	)`,
	`CREATE TABLE IF NOT EXISTS passages (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		embedding  TEXT,
		tags       TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_passages_agent_id ON passages(agent_id)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		id                  TEXT PRIMARY KEY,
		agent_id            TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		from_sequence_id    INTEGER NOT NULL,
		to_sequence_id      INTEGER NOT NULL,
		content             TEXT NOT NULL,
		embedding           TEXT,
		previous_summary_id TEXT REFERENCES summaries(id),
		created_at          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_agent_id ON summaries(agent_id, to_sequence_id DESC)`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		key      TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (agent_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		task_type       TEXT NOT NULL CHECK (task_type IN ('message', 'tool_call')),
		payload         TEXT NOT NULL,
		next_run_at     TEXT NOT NULL,
		cron_expression TEXT NOT NULL DEFAULT '',
		timezone        TEXT NOT NULL DEFAULT 'UTC',
		status          TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
		last_run_at     TEXT,
		run_count       INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(status, next_run_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_agent_id ON scheduled_tasks(agent_id)`,
}

func encodeEmbedding(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeEmbedding(s *string) ([]float32, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(*s), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if either
// is empty/zero-length or zero-norm. Duplicated from pg's unexported helper
// so the two backends don't share an internal dependency across packages.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func selectTopK[T any](candidates []scored[T], limit int) []T {
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]T, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].value
	}
	return out
}

type scored[T any] struct {
	value T
	score float64
}
