// Package store defines Sage's durable entities and the storage interfaces
// the rest of the system programs against. Three implementations exist: pg
// (Postgres, the production backend), sqlite (standalone development) and
// memstore (in-process, used by tests).
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewID mints a time-ordered opaque identifier for any entity's primary key.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// TaskType distinguishes a scheduled synthetic user message from a direct
// tool invocation.
type TaskType string

const (
	TaskMessage  TaskType = "message"
	TaskToolCall TaskType = "tool_call"
)

// TaskStatus is a ScheduledTask's lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ChatContext binds an external Signal identifier (a recipient UUID or
// group id) to an internal agent. Unique on ExternalID, immutable after
// creation.
type ChatContext struct {
	ID         uuid.UUID
	ExternalID string
	AgentID    uuid.UUID
	CreatedAt  time.Time
}

// Agent is per-tenant runtime configuration and context-window state.
type Agent struct {
	ID                  uuid.UUID
	Name                string
	SystemPrompt        string
	MessageIDs          []uuid.UUID
	MaxContextTokens    int
	CompactionThreshold float64
	Model               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ToolCall is one requested tool invocation, as parsed from an LLM reply or
// stored alongside the assistant Message that requested it.
type ToolCall struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// ToolResult is the envelope persisted as the content of a "tool" role
// Message: {status, message, time}.
type ToolResult struct {
	Status  string `json:"status"` // "OK" or "Failed"
	Message string `json:"message"`
	Time    string `json:"time"`
}

// Message is one turn of conversation: a user message, an assistant reply,
// a tool result, or a system message.
type Message struct {
	ID          uuid.UUID
	AgentID     uuid.UUID
	UserID      string // external sender identifier; empty for assistant/system/tool
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	SequenceID  int64
	CreatedAt   time.Time
	Embedding   []float32 // nil until backfilled
}

// Block is a core-memory editable text unit, always rendered in-context.
type Block struct {
	ID          uuid.UUID
	AgentID     uuid.UUID
	Label       string
	Description string
	Value       string
	CharLimit   int
	ReadOnly    bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Passage is an archival, agent-authored semantic memory item. Never
// mutated after creation.
type Passage struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	Content   string
	Embedding []float32
	Tags      []string
	CreatedAt time.Time
}

// Summary is an LLM-produced compaction of an evicted message range.
// Summaries form a chain via PreviousSummaryID.
type Summary struct {
	ID                uuid.UUID
	AgentID           uuid.UUID
	FromSequenceID    int64
	ToSequenceID      int64
	Content           string
	Embedding         []float32
	PreviousSummaryID *uuid.UUID
	CreatedAt         time.Time
}

// UserPreference is an opaque per-agent key/value pair.
type UserPreference struct {
	AgentID uuid.UUID
	Key     string
	Value   string
}

// ScheduledTask is a one-shot or recurring job that re-enters the Agent
// Runtime as a synthetic message or direct tool call.
type ScheduledTask struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	TaskType       TaskType
	Payload        json.RawMessage
	NextRunAt      time.Time
	CronExpression string // empty for one-shot
	Timezone       string
	Status         TaskStatus
	LastRunAt      *time.Time
	RunCount       int
	LastError      string
	Description    string
	CreatedAt      time.Time
}

// RecallHit is one result of a hybrid conversation_search.
type RecallHit struct {
	MessageID uuid.UUID
	Role      Role
	Content   string
	CreatedAt time.Time
	Score     float64
}

// PassageHit is one result of an archival_search.
type PassageHit struct {
	Passage    Passage
	Similarity float64
}

// AgentStore manages Agent and ChatContext rows.
type AgentStore interface {
	GetOrCreateChatContext(ctx context.Context, externalID string, newAgent func() (*Agent, []Block)) (agentID uuid.UUID, created bool, err error)
	GetAgent(ctx context.Context, agentID uuid.UUID) (*Agent, error)
	SetMessageIDs(ctx context.Context, agentID uuid.UUID, messageIDs []uuid.UUID) error
}

// MessageStore manages recall memory: the durable, append-only Message log.
type MessageStore interface {
	NextSequenceID(ctx context.Context, agentID uuid.UUID) (int64, error)
	InsertMessage(ctx context.Context, m *Message) error
	GetMessagesByIDs(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]Message, error)
	SetEmbedding(ctx context.Context, messageID uuid.UUID, embedding []float32) error
	MessagesWithoutEmbedding(ctx context.Context, limit int) ([]Message, error)
	SearchKeyword(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]RecallHit, error)
	SearchVector(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, limit int) ([]RecallHit, error)
	CountMessages(ctx context.Context, agentID uuid.UUID) (int, error)
}

// BlockStore manages core memory.
type BlockStore interface {
	GetBlocks(ctx context.Context, agentID uuid.UUID) ([]Block, error)
	GetBlock(ctx context.Context, agentID uuid.UUID, label string) (*Block, error)
	CreateBlock(ctx context.Context, b *Block) error
	UpdateBlockValue(ctx context.Context, agentID uuid.UUID, label string, newValue string) (*Block, error)
}

// PassageStore manages archival memory.
type PassageStore interface {
	InsertPassage(ctx context.Context, p *Passage) error
	SearchPassages(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, topK int, tags []string) ([]PassageHit, error)
	CountPassages(ctx context.Context, agentID uuid.UUID) (int, error)
}

// SummaryStore manages summary memory.
type SummaryStore interface {
	InsertSummary(ctx context.Context, s *Summary) error
	LatestSummary(ctx context.Context, agentID uuid.UUID) (*Summary, error)
	LastBlockModification(ctx context.Context, agentID uuid.UUID) (time.Time, error)
}

// PreferenceStore manages UserPreference rows.
type PreferenceStore interface {
	SetPreference(ctx context.Context, agentID uuid.UUID, key, value string) error
	GetPreference(ctx context.Context, agentID uuid.UUID, key string) (string, bool, error)
}

// TaskStore manages the Scheduler's ScheduledTask rows.
type TaskStore interface {
	CreateTask(ctx context.Context, t *ScheduledTask) error
	ClaimDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	CompleteOneShot(ctx context.Context, taskID uuid.UUID) error
	RescheduleRecurring(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error
	FailTask(ctx context.Context, taskID uuid.UUID, lastErr string, isRecurring bool, nextRunAt *time.Time) error
	ListTasks(ctx context.Context, agentID uuid.UUID, status string) ([]ScheduledTask, error)
	CancelTask(ctx context.Context, agentID, taskID uuid.UUID) error
	RecoverStaleRunning(ctx context.Context, now time.Time) error
}

// Store aggregates every entity interface into the single handle the rest
// of Sage is constructed from.
type Store interface {
	AgentStore
	MessageStore
	BlockStore
	PassageStore
	SummaryStore
	PreferenceStore
	TaskStore
}
