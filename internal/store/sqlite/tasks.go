package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

const taskColumns = `id, agent_id, task_type, payload, next_run_at, cron_expression, timezone, status, last_run_at, run_count, last_error, description, created_at`

func scanTask(row interface{ Scan(dest ...any) error }) (store.ScheduledTask, error) {
	var t store.ScheduledTask
	var idStr, agentIDStr, taskType, status string
	var payload string
	var lastRunAt sql.NullTime
	err := row.Scan(&idStr, &agentIDStr, &taskType, &payload, &t.NextRunAt, &t.CronExpression, &t.Timezone, &status,
		&lastRunAt, &t.RunCount, &t.LastError, &t.Description, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return t, err
	}
	t.AgentID, err = uuid.Parse(agentIDStr)
	if err != nil {
		return t, err
	}
	t.TaskType = store.TaskType(taskType)
	t.Status = store.TaskStatus(status)
	t.Payload = json.RawMessage(payload)
	if lastRunAt.Valid {
		t.LastRunAt = &lastRunAt.Time
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *store.ScheduledTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (id, agent_id, task_type, payload, next_run_at, cron_expression, timezone, status, description, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID.String(), t.AgentID.String(), string(t.TaskType), string(t.Payload), t.NextRunAt, t.CronExpression, t.Timezone, string(t.Status), t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// ClaimDueTasks atomically claims every pending task whose next_run_at has
// passed, marking it running. sqlite's single-writer connection (see
// sqlite.go) makes the select-then-update within one transaction race-free
// without needing Postgres's SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM scheduled_tasks WHERE status = ? AND next_run_at <= ?`,
		string(store.TaskPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(store.TaskRunning))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ? WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	claimed, err := tx.QueryContext(ctx, query, args[1:]...)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer claimed.Close()

	var out []store.ScheduledTask
	for claimed.Next() {
		t, err := scanTask(claimed)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := claimed.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *Store) CompleteOneShot(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, last_run_at = ?, run_count = run_count + 1
		 WHERE id = ?`,
		string(store.TaskCompleted), time.Now(), taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("complete one-shot task: %w", err)
	}
	return nil
}

func (s *Store) RescheduleRecurring(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, next_run_at = ?, last_run_at = ?, run_count = run_count + 1, last_error = ''
		 WHERE id = ?`,
		string(store.TaskPending), nextRunAt, time.Now(), taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("reschedule recurring task: %w", err)
	}
	return nil
}

// FailTask records a failed run. Recurring tasks (isRecurring) are put back
// to pending with nextRunAt so the recurrence is never dropped by a single
// failure; one-shot tasks terminate in failed.
func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, lastErr string, isRecurring bool, nextRunAt *time.Time) error {
	if isRecurring && nextRunAt != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE scheduled_tasks SET status = ?, next_run_at = ?, last_run_at = ?, last_error = ?
			 WHERE id = ?`,
			string(store.TaskPending), *nextRunAt, time.Now(), lastErr, taskID.String(),
		)
		if err != nil {
			return fmt.Errorf("fail recurring task: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ?, last_run_at = ?, last_error = ?
		 WHERE id = ?`,
		string(store.TaskFailed), time.Now(), lastErr, taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, agentID uuid.UUID, status string) ([]store.ScheduledTask, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM scheduled_tasks WHERE agent_id = ? AND status = ? ORDER BY next_run_at ASC`,
			agentID.String(), status,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM scheduled_tasks WHERE agent_id = ? ORDER BY next_run_at ASC`,
			agentID.String(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CancelTask(ctx context.Context, agentID, taskID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ? WHERE id = ? AND agent_id = ? AND status IN (?, ?)`,
		string(store.TaskCancelled), taskID.String(), agentID.String(), string(store.TaskPending), string(store.TaskRunning),
	)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s not found or not cancellable", taskID)
	}
	return nil
}

// RecoverStaleRunning returns tasks stuck in `running` at process startup
// back to `pending` when their next_run_at has already passed, so a crash
// mid-dispatch does not strand a task forever. Idempotent across restarts.
func (s *Store) RecoverStaleRunning(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = ? WHERE status = ? AND next_run_at <= ?`,
		string(store.TaskPending), string(store.TaskRunning), now,
	)
	if err != nil {
		return fmt.Errorf("recover stale running tasks: %w", err)
	}
	return nil
}
