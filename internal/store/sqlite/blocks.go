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

func scanBlock(row interface{ Scan(dest ...any) error }) (store.Block, error) {
	var b store.Block
	var idStr, agentIDStr string
	err := row.Scan(&idStr, &agentIDStr, &b.Label, &b.Description, &b.Value, &b.CharLimit, &b.ReadOnly, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	b.ID, err = uuid.Parse(idStr)
	if err != nil {
		return b, err
	}
	b.AgentID, err = uuid.Parse(agentIDStr)
	return b, err
}

const blockColumns = `id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at`

func (s *Store) GetBlocks(ctx context.Context, agentID uuid.UUID) ([]store.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE agent_id = ? ORDER BY created_at ASC`, agentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", err)
	}
	defer rows.Close()

	var out []store.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBlock(ctx context.Context, agentID uuid.UUID, label string) (*store.Block, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE agent_id = ? AND label = ?`, agentID.String(), label,
	)
	b, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block %q: %w", label, err)
	}
	return &b, nil
}

func (s *Store) CreateBlock(ctx context.Context, b *store.Block) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (id, agent_id, label, description, value, char_limit, read_only, version, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,1,?,?)
		 ON CONFLICT (agent_id, label) DO NOTHING`,
		b.ID.String(), b.AgentID.String(), b.Label, b.Description, b.Value, b.CharLimit, b.ReadOnly, now, now,
	)
	if err != nil {
		return fmt.Errorf("create block %q: %w", b.Label, err)
	}
	return nil
}

// UpdateBlockValue writes newValue and bumps version atomically.
func (s *Store) UpdateBlockValue(ctx context.Context, agentID uuid.UUID, label string, newValue string) (*store.Block, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blocks SET value = ?, version = version + 1, updated_at = ?
		 WHERE agent_id = ? AND label = ?`,
		newValue, time.Now(), agentID.String(), label,
	)
	if err != nil {
		return nil, fmt.Errorf("update block %q: %w", label, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("block %q not found for agent %s", label, agentID)
	}
	return s.GetBlock(ctx, agentID, label)
}
