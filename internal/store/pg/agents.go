package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sageagent/sage/internal/store"
)

// GetOrCreateChatContext looks up the ChatContext for externalID; if absent,
// it creates one plus a fresh Agent (via newAgent) and the Agent's default
// Blocks, all inside one transaction so a concurrent first-contact race
// cannot produce two Agents for the same external identifier.
func (s *Store) GetOrCreateChatContext(ctx context.Context, externalID string, newAgent func() (*store.Agent, []store.Block)) (uuid.UUID, bool, error) {
	var agentID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id FROM chat_contexts WHERE external_id = $1`, externalID,
	).Scan(&agentID)
	if err == nil {
		return agentID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("lookup chat context: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Re-check under the transaction in case of a concurrent creator.
	err = tx.QueryRow(ctx,
		`SELECT agent_id FROM chat_contexts WHERE external_id = $1`, externalID,
	).Scan(&agentID)
	if err == nil {
		return agentID, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("lookup chat context in tx: %w", err)
	}

	agent, blocks := newAgent()
	messageIDsJSON, err := json.Marshal(agent.MessageIDs)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("marshal message_ids: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agents (id, name, system_prompt, message_ids, max_context_tokens, compaction_threshold, model, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		agent.ID, agent.Name, agent.SystemPrompt, messageIDsJSON, agent.MaxContextTokens, agent.CompactionThreshold, agent.Model,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert agent: %w", err)
	}

	ccID := store.NewID()
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_contexts (id, external_id, agent_id, created_at) VALUES ($1,$2,$3,now())`,
		ccID, externalID, agent.ID,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert chat context: %w", err)
	}

	for _, b := range blocks {
		_, err = tx.Exec(ctx,
			`INSERT INTO blocks (id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,1,now(),now())`,
			b.ID, agent.ID, b.Label, b.Description, b.Value, b.CharLimit, b.ReadOnly,
		)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("insert default block %q: %w", b.Label, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit: %w", err)
	}
	return agent.ID, true, nil
}

// GetAgent loads an Agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID uuid.UUID) (*store.Agent, error) {
	var a store.Agent
	var messageIDsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, system_prompt, message_ids, max_context_tokens, compaction_threshold, model, created_at, updated_at
		 FROM agents WHERE id = $1`, agentID,
	).Scan(&a.ID, &a.Name, &a.SystemPrompt, &messageIDsJSON, &a.MaxContextTokens, &a.CompactionThreshold, &a.Model, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s not found", agentID)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if err := json.Unmarshal(messageIDsJSON, &a.MessageIDs); err != nil {
		return nil, fmt.Errorf("unmarshal message_ids: %w", err)
	}
	return &a, nil
}

// SetMessageIDs overwrites an Agent's in-context window.
func (s *Store) SetMessageIDs(ctx context.Context, agentID uuid.UUID, messageIDs []uuid.UUID) error {
	data, err := json.Marshal(messageIDs)
	if err != nil {
		return fmt.Errorf("marshal message_ids: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET message_ids = $1, updated_at = now() WHERE id = $2`, data, agentID,
	)
	if err != nil {
		return fmt.Errorf("update message_ids: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s not found", agentID)
	}
	return nil
}
