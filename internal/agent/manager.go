package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/config"
	"github.com/sageagent/sage/internal/embedder"
	"github.com/sageagent/sage/internal/memory"
	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/sessionkey"
	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/tools"
)

// defaultSystemPrompt seeds a brand new Agent's system prompt, stored on
// the Agent row. Together with the persona block it describes who Sage is
// for this particular contact; the memory_* tools revise the blocks, not
// this prompt.
const defaultSystemPrompt = `You are Sage, a private conversational assistant reachable over Signal. You remember durable facts about the person you're talking to in your memory blocks, search your own conversation history and archival notes when useful, and can schedule yourself to follow up later. Reply in plain text; never mention internal mechanics like tool names or memory blocks to the user.`

// defaultMaxContextTokens is the context budget a new Agent is created
// with. Compaction triggers once the rendered payload estimate crosses
// CompactionThreshold of this value.
const defaultMaxContextTokens = 256_000

// defaultCompactionThreshold is the fraction of defaultMaxContextTokens
// that triggers a compaction pass (SPEC_FULL.md §4.C.6).
const defaultCompactionThreshold = 0.8

// OutboundSender delivers a turn's reply text back to its originating
// Signal contact. Implemented by internal/signal's gateway; declared here,
// narrowly, so Manager never imports the transport package directly.
type OutboundSender interface {
	Send(ctx context.Context, externalID, text string) error
}

// instance is a cached per-agent handle: the Agent row plus the tool
// registry bound to its own workspace directory and agent id, and the
// mutex the Manager serializes that agent's turns through.
type instance struct {
	mu         sync.Mutex
	agent      *store.Agent
	tools      *tools.Registry
	externalID string
}

// Manager is the Agent Runtime entrypoint: it resolves an external Signal
// identifier to its Agent (creating one at first contact), keeps a
// no-eviction in-memory cache of per-agent state, and serializes each
// agent's turns with a per-agent mutex — the same per-session lock
// discipline the teacher's session store uses, narrowed here to the
// per-agent grain Sage's multi-tenant model requires.
type Manager struct {
	store     store.Store
	llm       *providers.Client
	emb       *embedder.Client
	cfg       *config.Config
	loop      *Loop
	instances sync.Map // agentID -> *instance
	sender    OutboundSender
}

// NewManager wires every memory sub-manager and the step loop over store,
// llm, and emb, per SPEC_FULL.md §4.
func NewManager(cfg *config.Config, st store.Store, llm *providers.Client, emb *embedder.Client) *Manager {
	recall := memory.NewRecallManager(st, emb)
	blocks := memory.NewBlockManager(st)
	archival := memory.NewArchivalManager(st, emb)
	summaries := memory.NewSummaryManager(st, llm, emb, cfg.Maple.Model)
	compactor := memory.NewCompactor(st, recall, summaries)
	assembler := memory.NewContextAssembler()

	loop := NewLoop(LoopConfig{
		LLM:          llm,
		Vision:       llm,
		VisionModel:  cfg.Maple.VisionModel,
		Recall:       recall,
		Blocks:       blocks,
		Archival:     archival,
		Summaries:    summaries,
		SummaryStore: st,
		Compactor:    compactor,
		Assembler:    assembler,
		Agents:       st,
	})

	return &Manager{store: st, llm: llm, emb: emb, cfg: cfg, loop: loop}
}

// SetSender attaches the outbound Signal delivery path, used to push a
// scheduled task's synthetic reply to its owning contact. Live turns
// (driven by the Supervisor, which already holds the inbound event) don't
// need this — they deliver RunResult.Messages themselves.
func (m *Manager) SetSender(s OutboundSender) {
	m.sender = s
}

// GetOrCreate resolves externalID (a Signal recipient UUID or group id) to
// its Agent, creating a brand new tenant — default Blocks, workspace
// directory, and config — on first contact.
func (m *Manager) GetOrCreate(ctx context.Context, externalID string) (*store.Agent, *tools.Registry, error) {
	inst, err := m.loadInstance(ctx, externalID)
	if err != nil {
		return nil, nil, err
	}
	return inst.agent, inst.tools, nil
}

// HandleMessage runs one live turn for externalID's agent, serialized
// against any other in-flight turn for the same agent.
func (m *Manager) HandleMessage(ctx context.Context, externalID, userID string, peerKind sessionkey.PeerKind, peerID, text string, mediaPaths []string) (*RunResult, error) {
	inst, err := m.loadInstance(ctx, externalID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	sessKey := sessionkey.Build(inst.agent.ID.String(), peerKind, peerID)
	return m.loop.Run(ctx, RunRequest{
		Agent:      inst.agent,
		Tools:      inst.tools,
		SessionKey: sessKey,
		UserID:     userID,
		Message:    text,
		MediaPaths: mediaPaths,
	})
}

// RunSyntheticMessage implements scheduler.Dispatcher: a scheduled
// task_type=message task re-enters the full step loop as if the contact
// had sent message themselves, then delivers the reply through the
// attached OutboundSender.
func (m *Manager) RunSyntheticMessage(ctx context.Context, agentIDStr, sessionKey, message string) error {
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		return fmt.Errorf("parse agent id: %w", err)
	}
	inst, err := m.instanceByAgentID(ctx, agentID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	result, err := m.loop.Run(ctx, RunRequest{
		Agent:      inst.agent,
		Tools:      inst.tools,
		SessionKey: sessionKey,
		Message:    message,
	})
	inst.mu.Unlock()
	if err != nil {
		return fmt.Errorf("run synthetic message: %w", err)
	}

	if m.sender == nil {
		return nil
	}
	for _, text := range result.Messages {
		if err := m.sender.Send(ctx, inst.externalID, text); err != nil {
			return fmt.Errorf("deliver scheduled reply: %w", err)
		}
	}
	return nil
}

// RunToolCall implements scheduler.Dispatcher: a scheduled task_type=tool_call
// task invokes the named tool directly, outside the step loop — no LLM call,
// no outbound message, since the point of this task shape is a pure
// side-effecting action (e.g. an archival_insert on a timer).
func (m *Manager) RunToolCall(ctx context.Context, agentIDStr, toolName string, args map[string]string) error {
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		return fmt.Errorf("parse agent id: %w", err)
	}
	inst, err := m.instanceByAgentID(ctx, agentID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	t, ok := inst.tools.Get(toolName)
	if !ok {
		return fmt.Errorf("scheduled tool_call: unknown tool %q", toolName)
	}
	res := t.Execute(ctx, args)
	if res.IsError {
		return fmt.Errorf("scheduled tool_call %q failed: %s", toolName, res.ForLLM)
	}
	return nil
}

func (m *Manager) loadInstance(ctx context.Context, externalID string) (*instance, error) {
	agentID, created, err := m.store.GetOrCreateChatContext(ctx, externalID, func() (*store.Agent, []store.Block) {
		id := store.NewID()
		now := time.Now()
		agent := &store.Agent{
			ID:                  id,
			Name:                "sage",
			SystemPrompt:        defaultSystemPrompt,
			MaxContextTokens:    defaultMaxContextTokens,
			CompactionThreshold: defaultCompactionThreshold,
			Model:               m.cfg.Maple.Model,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return agent, memory.NewDefaultBlocks(id)
	})
	if err != nil {
		return nil, fmt.Errorf("get or create chat context: %w", err)
	}

	if v, ok := m.instances.Load(agentID); ok {
		return v.(*instance), nil
	}

	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	workspaceDir := filepath.Join(m.cfg.Workspace, agentID.String())
	if created {
		if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
			return nil, fmt.Errorf("create agent workspace: %w", err)
		}
	}

	inst := &instance{
		agent:      agent,
		tools:      m.buildToolRegistry(agentID, workspaceDir),
		externalID: externalID,
	}
	actual, _ := m.instances.LoadOrStore(agentID, inst)
	return actual.(*instance), nil
}

// instanceByAgentID looks up a cached instance by agent id directly, for
// the scheduler's dispatch path, which only ever has the agent id (not the
// originating external Signal identifier). The instance must already exist
// in the cache — it is always created by a prior live GetOrCreate contact,
// since a ScheduledTask can only be created by a tool call from within an
// existing agent's own turn.
func (m *Manager) instanceByAgentID(ctx context.Context, agentID uuid.UUID) (*instance, error) {
	if v, ok := m.instances.Load(agentID); ok {
		return v.(*instance), nil
	}
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	workspaceDir := filepath.Join(m.cfg.Workspace, agentID.String())
	inst := &instance{agent: agent, tools: m.buildToolRegistry(agentID, workspaceDir)}
	actual, _ := m.instances.LoadOrStore(agentID, inst)
	return actual.(*instance), nil
}

// buildToolRegistry constructs the fixed tool set, bound to agentID and its
// workspace, for one agent instance.
func (m *Manager) buildToolRegistry(agentID uuid.UUID, workspaceDir string) *tools.Registry {
	recall := memory.NewRecallManager(m.store, m.emb)
	blocks := memory.NewBlockManager(m.store)
	archival := memory.NewArchivalManager(m.store, m.emb)

	reg := []tools.Tool{
		tools.NewShellTool(workspaceDir),
		tools.NewMemoryReplaceTool(agentID, blocks),
		tools.NewMemoryAppendTool(agentID, blocks),
		tools.NewMemoryInsertTool(agentID, blocks),
		tools.NewConversationSearchTool(agentID, recall),
		tools.NewArchivalInsertTool(agentID, archival),
		tools.NewArchivalSearchTool(agentID, archival),
		tools.NewSetPreferenceTool(agentID, m.store),
		tools.NewScheduleTaskTool(agentID, m.store),
		tools.NewListSchedulesTool(agentID, m.store),
		tools.NewCancelScheduleTool(agentID, m.store),
		tools.NewDoneTool(),
	}
	if ws := tools.NewWebSearchTool(m.cfg.Tools.BraveAPIKey); ws != nil {
		reg = append(reg, ws)
	}
	return tools.NewRegistry(reg...)
}
