package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) InsertSummary(ctx context.Context, sm *store.Summary) error {
	embeddingJSON, err := encodeEmbedding(sm.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO summaries (id, agent_id, from_sequence_id, to_sequence_id, content, embedding, previous_summary_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sm.ID, sm.AgentID, sm.FromSequenceID, sm.ToSequenceID, sm.Content, embeddingJSON, sm.PreviousSummaryID, sm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, agentID uuid.UUID) (*store.Summary, error) {
	var sm store.Summary
	var embeddingJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, from_sequence_id, to_sequence_id, content, embedding, previous_summary_id, created_at
		 FROM summaries WHERE agent_id = $1 ORDER BY to_sequence_id DESC LIMIT 1`,
		agentID,
	).Scan(&sm.ID, &sm.AgentID, &sm.FromSequenceID, &sm.ToSequenceID, &sm.Content, &embeddingJSON, &sm.PreviousSummaryID, &sm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	emb, err := decodeEmbedding(embeddingJSON)
	if err != nil {
		return nil, err
	}
	sm.Embedding = emb
	return &sm, nil
}

// LastBlockModification returns the most recent updated_at across all
// blocks for agentID, used to render <memory_metadata>.
func (s *Store) LastBlockModification(ctx context.Context, agentID uuid.UUID) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT coalesce(max(updated_at), to_timestamp(0)) FROM blocks WHERE agent_id = $1`, agentID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last block modification: %w", err)
	}
	return t, nil
}
