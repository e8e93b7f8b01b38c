package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

func (s *Store) CreateTask(ctx context.Context, t *store.ScheduledTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_tasks (id, agent_id, task_type, payload, next_run_at, cron_expression, timezone, status, description, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.AgentID, t.TaskType, t.Payload, t.NextRunAt, t.CronExpression, t.Timezone, t.Status, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// ClaimDueTasks atomically claims every pending task whose next_run_at has
// passed, marking it running, grounded in the teacher's ClaimTask
// atomic-UPDATE-with-rows-affected pattern (teams_tasks.go), generalized
// here to a batch claim via SELECT ... FOR UPDATE SKIP LOCKED so multiple
// scheduler processes never double-fire the same task.
func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx,
		`WITH due AS (
			SELECT id FROM scheduled_tasks
			WHERE status = $1 AND next_run_at <= $2
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE scheduled_tasks t
		 SET status = $3
		 FROM due
		 WHERE t.id = due.id
		 RETURNING t.id, t.agent_id, t.task_type, t.payload, t.next_run_at, t.cron_expression, t.timezone, t.status, t.last_run_at, t.run_count, t.last_error, t.description, t.created_at`,
		store.TaskPending, now, store.TaskRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledTask
	for rows.Next() {
		var t store.ScheduledTask
		if err := rows.Scan(&t.ID, &t.AgentID, &t.TaskType, &t.Payload, &t.NextRunAt, &t.CronExpression, &t.Timezone, &t.Status, &t.LastRunAt, &t.RunCount, &t.LastError, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CompleteOneShot(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET status = $1, last_run_at = now(), run_count = run_count + 1
		 WHERE id = $2`,
		store.TaskCompleted, taskID,
	)
	if err != nil {
		return fmt.Errorf("complete one-shot task: %w", err)
	}
	return nil
}

func (s *Store) RescheduleRecurring(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET status = $1, next_run_at = $2, last_run_at = now(), run_count = run_count + 1, last_error = ''
		 WHERE id = $3`,
		store.TaskPending, nextRunAt, taskID,
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
		_, err := s.pool.Exec(ctx,
			`UPDATE scheduled_tasks SET status = $1, next_run_at = $2, last_run_at = now(), last_error = $3
			 WHERE id = $4`,
			store.TaskPending, *nextRunAt, lastErr, taskID,
		)
		if err != nil {
			return fmt.Errorf("fail recurring task: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET status = $1, last_run_at = now(), last_error = $2
		 WHERE id = $3`,
		store.TaskFailed, lastErr, taskID,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, agentID uuid.UUID, status string) ([]store.ScheduledTask, error) {
	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
	var err error
	if status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, agent_id, task_type, payload, next_run_at, cron_expression, timezone, status, last_run_at, run_count, last_error, description, created_at
			 FROM scheduled_tasks WHERE agent_id = $1 AND status = $2 ORDER BY next_run_at ASC`,
			agentID, status,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, agent_id, task_type, payload, next_run_at, cron_expression, timezone, status, last_run_at, run_count, last_error, description, created_at
			 FROM scheduled_tasks WHERE agent_id = $1 ORDER BY next_run_at ASC`,
			agentID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledTask
	for rows.Next() {
		var t store.ScheduledTask
		if err := rows.Scan(&t.ID, &t.AgentID, &t.TaskType, &t.Payload, &t.NextRunAt, &t.CronExpression, &t.Timezone, &t.Status, &t.LastRunAt, &t.RunCount, &t.LastError, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CancelTask(ctx context.Context, agentID, taskID uuid.UUID) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET status = $1 WHERE id = $2 AND agent_id = $3 AND status IN ($4, $5)`,
		store.TaskCancelled, taskID, agentID, store.TaskPending, store.TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found or not cancellable", taskID)
	}
	return nil
}

// RecoverStaleRunning returns tasks stuck in `running` at process startup
// back to `pending` when their next_run_at has already passed, so a crash
// mid-dispatch does not strand a task forever. Idempotent across restarts
// (SPEC_FULL.md §4.E).
func (s *Store) RecoverStaleRunning(ctx context.Context, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET status = $1 WHERE status = $2 AND next_run_at <= $3`,
		store.TaskPending, store.TaskRunning, now,
	)
	if err != nil {
		return fmt.Errorf("recover stale running tasks: %w", err)
	}
	return nil
}
