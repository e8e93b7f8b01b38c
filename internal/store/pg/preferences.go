package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) SetPreference(ctx context.Context, agentID uuid.UUID, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_preferences (agent_id, key, value)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (agent_id, key) DO UPDATE SET value = excluded.value`,
		agentID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetPreference(ctx context.Context, agentID uuid.UUID, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM user_preferences WHERE agent_id = $1 AND key = $2`, agentID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get preference %q: %w", key, err)
	}
	return value, true, nil
}
