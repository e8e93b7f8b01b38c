package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// NextSequenceID allocates the next monotonic sequence_id for agentID,
// atomically, via an upsert-then-RETURNING against a per-agent counter row.
func (s *Store) NextSequenceID(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO agent_sequence_counters (agent_id, next_value)
		 VALUES (?, 1)
		 ON CONFLICT (agent_id) DO UPDATE SET next_value = next_value + 1
		 RETURNING next_value - 1`,
		agentID.String(),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence id: %w", err)
	}
	return next, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *store.Message) error {
	toolCallsJSON, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool_calls: %w", err)
	}
	toolResultsJSON, err := json.Marshal(m.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool_results: %w", err)
	}
	embedding, err := encodeEmbedding(m.Embedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, agent_id, user_id, role, content, tool_calls, tool_results, sequence_id, created_at, embedding)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID.String(), m.AgentID.String(), m.UserID, string(m.Role), m.Content, string(toolCallsJSON), string(toolResultsJSON), m.SequenceID, m.CreatedAt, embedding,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(dest ...any) error }) (store.Message, error) {
	var m store.Message
	var idStr, agentIDStr, role string
	var toolCallsJSON, toolResultsJSON sql.NullString
	var embedding *string
	err := row.Scan(&idStr, &agentIDStr, &m.UserID, &role, &m.Content, &toolCallsJSON, &toolResultsJSON, &m.SequenceID, &m.CreatedAt, &embedding)
	if err != nil {
		return m, err
	}
	m.ID, err = uuid.Parse(idStr)
	if err != nil {
		return m, err
	}
	m.AgentID, err = uuid.Parse(agentIDStr)
	if err != nil {
		return m, err
	}
	m.Role = store.Role(role)
	if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls); err != nil {
			return m, fmt.Errorf("unmarshal tool_calls: %w", err)
		}
	}
	if toolResultsJSON.Valid && toolResultsJSON.String != "" && toolResultsJSON.String != "null" {
		if err := json.Unmarshal([]byte(toolResultsJSON.String), &m.ToolResults); err != nil {
			return m, fmt.Errorf("unmarshal tool_results: %w", err)
		}
	}
	m.Embedding, err = decodeEmbedding(embedding)
	return m, err
}

const messageColumns = `id, agent_id, user_id, role, content, tool_calls, tool_results, sequence_id, created_at, embedding`

func (s *Store) GetMessagesByIDs(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, agentID.String())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id.String())
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE agent_id = ? AND id IN (` + strings.Join(placeholders, ",") + `) ORDER BY sequence_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages by ids: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SetEmbedding(ctx context.Context, messageID uuid.UUID, embedding []float32) error {
	data, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE messages SET embedding = ? WHERE id = ?`, data, messageID.String())
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

func (s *Store) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE embedding IS NULL ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messages without embedding: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchKeyword scores Message content by the count of query terms it
// contains. sqlite's FTS5 module isn't guaranteed to be compiled into the
// pure-Go modernc.org/sqlite build this backend uses, so this dev-mode
// store substitutes a plain substring scan rather than depend on it; the
// production pg backend uses real tsvector/ts_rank full-text search.
func (s *Store) SearchKeyword(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]store.RecallHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE agent_id = ?`, agentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	terms := strings.Fields(strings.ToLower(query))
	var candidates []scored[store.RecallHit]
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		lc := strings.ToLower(m.Content)
		var hits int
		for _, term := range terms {
			if strings.Contains(lc, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(terms))
		candidates = append(candidates, scored[store.RecallHit]{
			value: store.RecallHit{MessageID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt, Score: score},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selectTopK(candidates, limit), nil
}

// SearchVector scores every embedded Message for agentID by cosine
// similarity in application code, then returns the top-k.
func (s *Store) SearchVector(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, limit int) ([]store.RecallHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at, embedding FROM messages WHERE agent_id = ? AND embedding IS NOT NULL`,
		agentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var candidates []scored[store.RecallHit]
	for rows.Next() {
		var h store.RecallHit
		var idStr, role string
		var embedding *string
		if err := rows.Scan(&idStr, &role, &h.Content, &h.CreatedAt, &embedding); err != nil {
			return nil, err
		}
		h.MessageID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		h.Role = store.Role(role)
		emb, err := decodeEmbedding(embedding)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(queryEmbedding, emb)
		h.Score = sim
		candidates = append(candidates, scored[store.RecallHit]{value: h, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selectTopK(candidates, limit), nil
}

func (s *Store) CountMessages(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE agent_id = ?`, agentID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
