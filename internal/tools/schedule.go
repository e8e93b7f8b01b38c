package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/scheduler"
	"github.com/sageagent/sage/internal/store"
)

// ScheduleTaskTool implements schedule_task(task_type, description, run_at,
// payload, timezone?). run_at is either a five-field cron expression (task
// recurs) or an RFC3339 timestamp (task fires once).
type ScheduleTaskTool struct {
	agentID uuid.UUID
	store   store.TaskStore
}

// NewScheduleTaskTool constructs a ScheduleTaskTool bound to agentID.
func NewScheduleTaskTool(agentID uuid.UUID, s store.TaskStore) *ScheduleTaskTool {
	return &ScheduleTaskTool{agentID: agentID, store: s}
}

func (t *ScheduleTaskTool) Name() string { return "schedule_task" }
func (t *ScheduleTaskTool) Description() string {
	return "Schedule a one-shot or recurring task that re-enters the agent as a synthetic message or tool call."
}
func (t *ScheduleTaskTool) ArgsSchema() string {
	return "task_type (message|tool_call), description (string), run_at (RFC3339 timestamp or five-field cron expression), payload (JSON object), timezone (IANA, optional, default UTC)"
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, args map[string]string) *Result {
	taskType := store.TaskType(args["task_type"])
	if taskType != store.TaskMessage && taskType != store.TaskToolCall {
		return ErrorResult("task_type must be \"message\" or \"tool_call\"")
	}
	runAt := strings.TrimSpace(args["run_at"])
	if runAt == "" {
		return ErrorResult("run_at is required")
	}
	rawPayload := args["payload"]
	if rawPayload == "" {
		rawPayload = "{}"
	}
	var payload json.RawMessage
	if !json.Valid([]byte(rawPayload)) {
		return ErrorResult("payload must be valid JSON")
	}
	payload = json.RawMessage(rawPayload)

	timezone := args["timezone"]
	if timezone == "" {
		timezone = "UTC"
	}

	task := &store.ScheduledTask{
		ID:          store.NewID(),
		AgentID:     t.agentID,
		TaskType:    taskType,
		Payload:     payload,
		Timezone:    timezone,
		Status:      store.TaskPending,
		Description: args["description"],
		CreatedAt:   time.Now(),
	}

	if strings.ContainsAny(runAt, " ") {
		task.CronExpression = runAt
		next, err := scheduler.NextRun(runAt, timezone, time.Now())
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid cron expression: %v", err))
		}
		task.NextRunAt = next
	} else {
		when, err := time.Parse(time.RFC3339, runAt)
		if err != nil {
			return ErrorResult("run_at must be an RFC3339 timestamp or a five-field cron expression")
		}
		task.NextRunAt = when
	}

	if err := t.store.CreateTask(ctx, task); err != nil {
		return ErrorResult("schedule_task failed").WithError(err)
	}
	return NewResult(fmt.Sprintf("scheduled task %s, next run at %s", task.ID, task.NextRunAt.Format(time.RFC3339)))
}

// ListSchedulesTool implements list_schedules(status?).
type ListSchedulesTool struct {
	agentID uuid.UUID
	store   store.TaskStore
}

// NewListSchedulesTool constructs a ListSchedulesTool bound to agentID.
func NewListSchedulesTool(agentID uuid.UUID, s store.TaskStore) *ListSchedulesTool {
	return &ListSchedulesTool{agentID: agentID, store: s}
}

func (t *ListSchedulesTool) Name() string { return "list_schedules" }
func (t *ListSchedulesTool) Description() string {
	return "List this agent's scheduled tasks, optionally filtered by status."
}
func (t *ListSchedulesTool) ArgsSchema() string {
	return "status (pending|running|completed|failed|cancelled, optional)"
}

func (t *ListSchedulesTool) Execute(ctx context.Context, args map[string]string) *Result {
	tasks, err := t.store.ListTasks(ctx, t.agentID, args["status"])
	if err != nil {
		return ErrorResult("list_schedules failed").WithError(err)
	}
	if len(tasks) == 0 {
		return NewResult("(no scheduled tasks)")
	}
	var b strings.Builder
	for i, task := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s [%s] %s next_run_at=%s run_count=%d", task.ID, task.Status, task.Description, task.NextRunAt.Format(time.RFC3339), task.RunCount)
	}
	return NewResult(b.String())
}

// CancelScheduleTool implements cancel_schedule(id).
type CancelScheduleTool struct {
	agentID uuid.UUID
	store   store.TaskStore
}

// NewCancelScheduleTool constructs a CancelScheduleTool bound to agentID.
func NewCancelScheduleTool(agentID uuid.UUID, s store.TaskStore) *CancelScheduleTool {
	return &CancelScheduleTool{agentID: agentID, store: s}
}

func (t *CancelScheduleTool) Name() string        { return "cancel_schedule" }
func (t *CancelScheduleTool) Description() string { return "Cancel a scheduled task by id." }
func (t *CancelScheduleTool) ArgsSchema() string  { return "id (string, required)" }

func (t *CancelScheduleTool) Execute(ctx context.Context, args map[string]string) *Result {
	raw := args["id"]
	if raw == "" {
		return ErrorResult("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return ErrorResult("id must be a valid task id")
	}
	if err := t.store.CancelTask(ctx, t.agentID, id); err != nil {
		return ErrorResult("cancel_schedule failed").WithError(err)
	}
	return NewResult(fmt.Sprintf("cancelled task %s", id))
}
