package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// GetOrCreateChatContext looks up the ChatContext for externalID; if absent,
// it creates one plus a fresh Agent (via newAgent) and the Agent's default
// Blocks, all inside one transaction so a concurrent first-contact race
// cannot produce two Agents for the same external identifier.
func (s *Store) GetOrCreateChatContext(ctx context.Context, externalID string, newAgent func() (*store.Agent, []store.Block)) (uuid.UUID, bool, error) {
	var agentIDStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id FROM chat_contexts WHERE external_id = ?`, externalID,
	).Scan(&agentIDStr)
	if err == nil {
		id, err := uuid.Parse(agentIDStr)
		return id, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("lookup chat context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT agent_id FROM chat_contexts WHERE external_id = ?`, externalID,
	).Scan(&agentIDStr)
	if err == nil {
		id, err := uuid.Parse(agentIDStr)
		if err != nil {
			return uuid.Nil, false, err
		}
		return id, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("lookup chat context in tx: %w", err)
	}

	agent, blocks := newAgent()
	messageIDsJSON, err := json.Marshal(agent.MessageIDs)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("marshal message_ids: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (id, name, system_prompt, message_ids, max_context_tokens, compaction_threshold, model, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		agent.ID.String(), agent.Name, agent.SystemPrompt, string(messageIDsJSON), agent.MaxContextTokens, agent.CompactionThreshold, agent.Model, agent.CreatedAt, agent.CreatedAt,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert agent: %w", err)
	}

	ccID := store.NewID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_contexts (id, external_id, agent_id, created_at) VALUES (?,?,?,?)`,
		ccID.String(), externalID, agent.ID.String(), agent.CreatedAt,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert chat context: %w", err)
	}

	for _, b := range blocks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO blocks (id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at)
			 VALUES (?,?,?,?,?,?,?,1,?,?)`,
			b.ID.String(), agent.ID.String(), b.Label, b.Description, b.Value, b.CharLimit, b.ReadOnly, agent.CreatedAt, agent.CreatedAt,
		)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("insert default block %q: %w", b.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit: %w", err)
	}
	return agent.ID, true, nil
}

// GetAgent loads an Agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID uuid.UUID) (*store.Agent, error) {
	var a store.Agent
	var idStr string
	var messageIDsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_prompt, message_ids, max_context_tokens, compaction_threshold, model, created_at, updated_at
		 FROM agents WHERE id = ?`, agentID.String(),
	).Scan(&idStr, &a.Name, &a.SystemPrompt, &messageIDsJSON, &a.MaxContextTokens, &a.CompactionThreshold, &a.Model, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s not found", agentID)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messageIDsJSON), &a.MessageIDs); err != nil {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET message_ids = ?, updated_at = ? WHERE id = ?`, string(data), time.Now(), agentID.String(),
	)
	if err != nil {
		return fmt.Errorf("update message_ids: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s not found", agentID)
	}
	return nil
}
