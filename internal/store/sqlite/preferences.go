package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

func (s *Store) SetPreference(ctx context.Context, agentID uuid.UUID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (agent_id, key, value)
		 VALUES (?,?,?)
		 ON CONFLICT (agent_id, key) DO UPDATE SET value = excluded.value`,
		agentID.String(), key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetPreference(ctx context.Context, agentID uuid.UUID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_preferences WHERE agent_id = ? AND key = ?`, agentID.String(), key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get preference %q: %w", key, err)
	}
	return value, true, nil
}
