package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) InsertPassage(ctx context.Context, p *store.Passage) error {
	embedding, err := encodeEmbedding(p.Embedding)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO passages (id, agent_id, content, embedding, tags, created_at)
		 VALUES (?,?,?,?,?,?)`,
		p.ID.String(), p.AgentID.String(), p.Content, embedding, string(tagsJSON), p.CreatedAt,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, content, embedding, tags, created_at FROM passages WHERE agent_id = ?`,
		agentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	wantTags := make(map[string]bool, len(tags))
	for _, t := range tags {
		wantTags[t] = true
	}

	var candidates []scored[store.PassageHit]
	for rows.Next() {
		var p store.Passage
		var idStr, agentIDStr, tagsJSON string
		var embedding *string
		if err := rows.Scan(&idStr, &agentIDStr, &p.Content, &embedding, &tagsJSON, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		p.AgentID, err = uuid.Parse(agentIDStr)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if len(wantTags) > 0 && !anyTagMatches(p.Tags, wantTags) {
			continue
		}
		emb, err := decodeEmbedding(embedding)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(queryEmbedding, emb)
		candidates = append(candidates, scored[store.PassageHit]{
			value: store.PassageHit{Passage: p, Similarity: sim}, score: sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selectTopK(candidates, topK), nil
}

func anyTagMatches(have []string, want map[string]bool) bool {
	for _, t := range have {
		if want[t] {
			return true
		}
	}
	return false
}

func (s *Store) CountPassages(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM passages WHERE agent_id = ?`, agentID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}
