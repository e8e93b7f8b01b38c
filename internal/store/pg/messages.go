package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sageagent/sage/internal/store"
)

// NextSequenceID allocates the next monotonic sequence_id for agentID,
// atomically, via an UPDATE ... RETURNING against a per-agent counter row.
func (s *Store) NextSequenceID(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_sequence_counters (agent_id, next_value)
		 VALUES ($1, 1)
		 ON CONFLICT (agent_id) DO UPDATE SET next_value = agent_sequence_counters.next_value + 1
		 RETURNING next_value - 1`,
		agentID,
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
	embeddingJSON, err := encodeEmbedding(m.Embedding)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, agent_id, user_id, role, content, tool_calls, tool_results, sequence_id, created_at, embedding, tsv)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, to_tsvector('simple', $5))`,
		m.ID, m.AgentID, m.UserID, string(m.Role), m.Content, toolCallsJSON, toolResultsJSON, m.SequenceID, m.CreatedAt, embeddingJSON,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (store.Message, error) {
	var m store.Message
	var role string
	var toolCallsJSON, toolResultsJSON, embeddingJSON []byte
	err := row.Scan(&m.ID, &m.AgentID, &m.UserID, &role, &m.Content, &toolCallsJSON, &toolResultsJSON, &m.SequenceID, &m.CreatedAt, &embeddingJSON)
	if err != nil {
		return m, err
	}
	m.Role = store.Role(role)
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
			return m, fmt.Errorf("unmarshal tool_calls: %w", err)
		}
	}
	if len(toolResultsJSON) > 0 {
		if err := json.Unmarshal(toolResultsJSON, &m.ToolResults); err != nil {
			return m, fmt.Errorf("unmarshal tool_results: %w", err)
		}
	}
	m.Embedding, err = decodeEmbedding(embeddingJSON)
	return m, err
}

const messageColumns = `id, agent_id, user_id, role, content, tool_calls, tool_results, sequence_id, created_at, embedding`

func (s *Store) GetMessagesByIDs(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE agent_id = $1 AND id = ANY($2) ORDER BY sequence_id ASC`,
		agentID, ids,
	)
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
	_, err = s.pool.Exec(ctx, `UPDATE messages SET embedding = $1 WHERE id = $2`, data, messageID)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

func (s *Store) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]store.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`, limit,
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

// SearchKeyword performs full-text search over Message content using
// plainto_tsquery/ts_rank.
func (s *Store) SearchKeyword(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]store.RecallHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at, ts_rank(tsv, plainto_tsquery('simple', $2)) AS score
		 FROM messages
		 WHERE agent_id = $1 AND tsv @@ plainto_tsquery('simple', $2)
		 ORDER BY score DESC
		 LIMIT $3`,
		agentID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var out []store.RecallHit
	for rows.Next() {
		var h store.RecallHit
		var role string
		if err := rows.Scan(&h.MessageID, &role, &h.Content, &h.CreatedAt, &h.Score); err != nil {
			return nil, err
		}
		h.Role = store.Role(role)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchVector scores every embedded Message for agentID by cosine
// similarity in application code (see pg.go), then returns the top-k.
// Practical for the per-agent-bounded embedding set this schema expects;
// a pgvector ANN index would replace this if corpus size demanded it.
func (s *Store) SearchVector(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, limit int) ([]store.RecallHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at, embedding FROM messages WHERE agent_id = $1 AND embedding IS NOT NULL`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var candidates []scoredHit
	for rows.Next() {
		var h store.RecallHit
		var role string
		var embeddingJSON []byte
		if err := rows.Scan(&h.MessageID, &role, &h.Content, &h.CreatedAt, &embeddingJSON); err != nil {
			return nil, err
		}
		h.Role = store.Role(role)
		emb, err := decodeEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(queryEmbedding, emb)
		h.Score = sim
		candidates = append(candidates, scoredHit{hit: h, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topKHits(candidates, limit), nil
}

// scoredHit pairs a RecallHit with its similarity score for in-application
// top-k selection.
type scoredHit struct {
	hit   store.RecallHit
	score float64
}

func topKHits(candidates []scoredHit, limit int) []store.RecallHit {
	// simple selection sort over a bounded candidate set is adequate here
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
	out := make([]store.RecallHit, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].hit
	}
	return out
}

func (s *Store) CountMessages(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE agent_id = $1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
