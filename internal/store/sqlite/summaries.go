package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) InsertSummary(ctx context.Context, sm *store.Summary) error {
	embedding, err := encodeEmbedding(sm.Embedding)
	if err != nil {
		return err
	}
	var prevID any
	if sm.PreviousSummaryID != nil {
		prevID = sm.PreviousSummaryID.String()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (id, agent_id, from_sequence_id, to_sequence_id, content, embedding, previous_summary_id, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		sm.ID.String(), sm.AgentID.String(), sm.FromSequenceID, sm.ToSequenceID, sm.Content, embedding, prevID, sm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, agentID uuid.UUID) (*store.Summary, error) {
	var sm store.Summary
	var idStr, agentIDStr string
	var embedding *string
	var prevID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, from_sequence_id, to_sequence_id, content, embedding, previous_summary_id, created_at
		 FROM summaries WHERE agent_id = ? ORDER BY to_sequence_id DESC LIMIT 1`,
		agentID.String(),
	).Scan(&idStr, &agentIDStr, &sm.FromSequenceID, &sm.ToSequenceID, &sm.Content, &embedding, &prevID, &sm.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	sm.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	sm.AgentID, err = uuid.Parse(agentIDStr)
	if err != nil {
		return nil, err
	}
	if prevID.Valid {
		id, err := uuid.Parse(prevID.String)
		if err != nil {
			return nil, err
		}
		sm.PreviousSummaryID = &id
	}
	sm.Embedding, err = decodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

// LastBlockModification returns the most recent updated_at across all
// blocks for agentID, used to render <memory_metadata>.
func (s *Store) LastBlockModification(ctx context.Context, agentID uuid.UUID) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT max(updated_at) FROM blocks WHERE agent_id = ?`, agentID.String(),
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last block modification: %w", err)
	}
	if !t.Valid {
		return time.Unix(0, 0).UTC(), nil
	}
	return t.Time, nil
}
