package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) InsertPassage(ctx context.Context, p *store.Passage) error {
	embeddingJSON, err := encodeEmbedding(p.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO passages (id, agent_id, content, embedding, tags, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.AgentID, p.Content, embeddingJSON, pq.Array(p.Tags), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert passage: %w", err)
	}
	return nil
}

// SearchPassages scores passages for agentID by cosine similarity,
// optionally restricted to rows carrying at least one of tags, and returns
// the top-k.
func (s *Store) SearchPassages(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, topK int, tags []string) ([]store.PassageHit, error) {
	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
	var err error

	if len(tags) > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, agent_id, content, embedding, tags, created_at
			 FROM passages WHERE agent_id = $1 AND tags && $2`,
			agentID, pq.Array(tags),
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, agent_id, content, embedding, tags, created_at FROM passages WHERE agent_id = $1`,
			agentID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var candidates []passageScored
	for rows.Next() {
		var p store.Passage
		var embeddingJSON []byte
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Content, &embeddingJSON, pq.Array(&p.Tags), &p.CreatedAt); err != nil {
			return nil, err
		}
		emb, err := decodeEmbedding(embeddingJSON)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(queryEmbedding, emb)
		candidates = append(candidates, passageScored{hit: store.PassageHit{Passage: p, Similarity: sim}, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topKPassages(candidates, topK), nil
}

type passageScored struct {
	hit   store.PassageHit
	score float64
}

func topKPassages(candidates []passageScored, limit int) []store.PassageHit {
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
	out := make([]store.PassageHit, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].hit
	}
	return out
}

func (s *Store) CountPassages(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM passages WHERE agent_id = $1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}
