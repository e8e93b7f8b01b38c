package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) GetBlocks(ctx context.Context, agentID uuid.UUID) ([]store.Block, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at
		 FROM blocks WHERE agent_id = $1 ORDER BY created_at ASC`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", err)
	}
	defer rows.Close()

	var out []store.Block
	for rows.Next() {
		var b store.Block
		if err := rows.Scan(&b.ID, &b.AgentID, &b.Label, &b.Description, &b.Value, &b.CharLimit, &b.ReadOnly, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBlock(ctx context.Context, agentID uuid.UUID, label string) (*store.Block, error) {
	var b store.Block
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at
		 FROM blocks WHERE agent_id = $1 AND label = $2`, agentID, label,
	).Scan(&b.ID, &b.AgentID, &b.Label, &b.Description, &b.Value, &b.CharLimit, &b.ReadOnly, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block %q: %w", label, err)
	}
	return &b, nil
}

func (s *Store) CreateBlock(ctx context.Context, b *store.Block) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blocks (id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,1,now(),now())
		 ON CONFLICT (agent_id, label) DO NOTHING`,
		b.ID, b.AgentID, b.Label, b.Description, b.Value, b.CharLimit, b.ReadOnly,
	)
	if err != nil {
		return fmt.Errorf("create block %q: %w", b.Label, err)
	}
	return nil
}

// UpdateBlockValue writes newValue and bumps version atomically.
func (s *Store) UpdateBlockValue(ctx context.Context, agentID uuid.UUID, label string, newValue string) (*store.Block, error) {
	var b store.Block
	err := s.pool.QueryRow(ctx,
		`UPDATE blocks SET value = $1, version = version + 1, updated_at = now()
		 WHERE agent_id = $2 AND label = $3
		 RETURNING id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at`,
		newValue, agentID, label,
	).Scan(&b.ID, &b.AgentID, &b.Label, &b.Description, &b.Value, &b.CharLimit, &b.ReadOnly, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("block %q not found for agent %s", label, agentID)
		}
		return nil, fmt.Errorf("update block %q: %w", label, err)
	}
	return &b, nil
}
