package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sageagent/sage/internal/store"
)

// MessagePayload is the JSON shape of a task_type=message ScheduledTask's
// Payload.
type MessagePayload struct {
	Message string `json:"message"`
}

// ToolCallPayload is the JSON shape of a task_type=tool_call ScheduledTask's
// Payload.
type ToolCallPayload struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

// Dispatcher re-enters the Agent Runtime for a due task. Implemented by
// internal/agent.Manager: a synthetic message is routed through the same
// per-agent-locked turn path a live Signal message takes, and a direct
// tool_call task invokes the named tool outside the step loop.
type Dispatcher interface {
	RunSyntheticMessage(ctx context.Context, agentID string, sessionKey string, message string) error
	RunToolCall(ctx context.Context, agentID string, tool string, args map[string]string) error
}

// Scheduler runs the 1-second tick loop that claims due ScheduledTasks and
// dispatches them.
type Scheduler struct {
	store      store.TaskStore
	dispatcher Dispatcher
	interval   time.Duration
}

// New constructs a Scheduler over s, dispatching due tasks through d.
func New(s store.TaskStore, d Dispatcher) *Scheduler {
	return &Scheduler{store: s, dispatcher: d, interval: time.Second}
}

// Recover returns any tasks left in `running` at process startup to
// `pending` when their next_run_at has already passed — idempotent restart
// behavior required by SPEC_FULL.md §4.E.
func (s *Scheduler) Recover(ctx context.Context) error {
	if err := s.store.RecoverStaleRunning(ctx, time.Now()); err != nil {
		return fmt.Errorf("recover stale running tasks: %w", err)
	}
	return nil
}

// Run blocks, ticking every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ClaimDueTasks(ctx, time.Now())
	if err != nil {
		slog.Error("scheduler: claim due tasks failed", "error", err)
		return
	}
	for _, task := range due {
		s.runOne(ctx, task)
	}
}

func (s *Scheduler) runOne(ctx context.Context, task store.ScheduledTask) {
	var runErr error
	switch task.TaskType {
	case store.TaskMessage:
		var payload MessagePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			runErr = fmt.Errorf("decode message payload: %w", err)
			break
		}
		sessionKey := fmt.Sprintf("agent:%s:cron:%s:run:%s", task.AgentID, task.ID, store.NewID())
		runErr = s.dispatcher.RunSyntheticMessage(ctx, task.AgentID.String(), sessionKey, payload.Message)

	case store.TaskToolCall:
		var payload ToolCallPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			runErr = fmt.Errorf("decode tool_call payload: %w", err)
			break
		}
		runErr = s.dispatcher.RunToolCall(ctx, task.AgentID.String(), payload.Tool, payload.Args)

	default:
		runErr = fmt.Errorf("unknown task_type %q", task.TaskType)
	}

	if runErr != nil {
		s.onFailure(ctx, task, runErr)
		return
	}
	s.onSuccess(ctx, task)
}

func (s *Scheduler) onSuccess(ctx context.Context, task store.ScheduledTask) {
	if task.CronExpression == "" {
		if err := s.store.CompleteOneShot(ctx, task.ID); err != nil {
			slog.Error("scheduler: complete one-shot task failed", "task_id", task.ID, "error", err)
		}
		return
	}
	next, err := NextRun(task.CronExpression, task.Timezone, time.Now())
	if err != nil {
		slog.Error("scheduler: compute next run failed", "task_id", task.ID, "error", err)
		s.onFailure(ctx, task, err)
		return
	}
	if err := s.store.RescheduleRecurring(ctx, task.ID, next); err != nil {
		slog.Error("scheduler: reschedule recurring task failed", "task_id", task.ID, "error", err)
	}
}

// onFailure records the failure. A one-shot task is marked failed. A
// recurring task keeps its recurrence: next_run_at is computed here from
// cron_expression and handed to FailTask, which returns the task to
// pending; if that computation fails, next is nil and the task is marked
// failed instead.
func (s *Scheduler) onFailure(ctx context.Context, task store.ScheduledTask, cause error) {
	var next *time.Time
	if task.CronExpression != "" {
		if n, err := NextRun(task.CronExpression, task.Timezone, time.Now()); err == nil {
			next = &n
		}
	}
	if err := s.store.FailTask(ctx, task.ID, cause.Error(), task.CronExpression != "", next); err != nil {
		slog.Error("scheduler: record task failure failed", "task_id", task.ID, "error", err)
	}
}
