package agent

import (
	"context"
	"testing"

	"github.com/sageagent/sage/internal/memory"
	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/store/memstore"
	"github.com/sageagent/sage/internal/tools"
)

// scriptedLLM replays a fixed sequence of raw replies, one per Chat call,
// so a test can script a full multi-step turn without a real endpoint.
type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.calls >= len(s.replies) {
		return &providers.ChatResponse{Content: "[[ ## messages ## ]]\n(no more scripted replies)\n"}, nil
	}
	reply := s.replies[s.calls]
	s.calls++
	return &providers.ChatResponse{Content: reply, Usage: &providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

// stubTool is a minimal tools.Tool for exercising the tool-execution path.
type stubTool struct {
	result *tools.Result
}

func (t *stubTool) Name() string        { return "web_search" }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) ArgsSchema() string  { return "query (string)" }
func (t *stubTool) Execute(ctx context.Context, args map[string]string) *tools.Result {
	return t.result
}

func newTestLoop(t *testing.T, llm ChatCompleter) (*Loop, *store.Agent, func() *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	agentID := store.NewID()
	agent := &store.Agent{
		ID:                  agentID,
		Name:                "sage",
		SystemPrompt:        "You are Sage.",
		MaxContextTokens:    8000,
		CompactionThreshold: 0.8,
		Model:               "test-model",
	}
	_, created, err := ms.GetOrCreateChatContext(context.Background(), "ext-1", func() (*store.Agent, []store.Block) {
		return agent, memory.NewDefaultBlocks(agentID)
	})
	if err != nil || !created {
		t.Fatalf("seed agent: created=%v err=%v", created, err)
	}

	recall := memory.NewRecallManager(ms, nil)
	blocks := memory.NewBlockManager(ms)
	archival := memory.NewArchivalManager(ms, nil)
	summaries := memory.NewSummaryManager(ms, llm, nil, "test-model")
	compactor := memory.NewCompactor(ms, recall, summaries)
	assembler := memory.NewContextAssembler()

	loop := NewLoop(LoopConfig{
		LLM:          llm,
		Recall:       recall,
		Blocks:       blocks,
		Archival:     archival,
		Summaries:    summaries,
		SummaryStore: ms,
		Compactor:    compactor,
		Assembler:    assembler,
		Agents:       ms,
	})
	return loop, agent, func() *memstore.Store { return ms }
}

func TestLoopSingleMessageNoTools(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"[[ ## reasoning ## ]]\ngreet the user\n[[ ## messages ## ]]\nHello there!\n",
	}}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry()
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Hello there!" {
		t.Fatalf("messages = %#v", res.Messages)
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly 1 LLM call, got %d", llm.calls)
	}
	// system anchor is never a stored row: user msg + 1 assistant msg = 2.
	if len(agent.MessageIDs) != 2 {
		t.Fatalf("message_ids = %d entries, want 2", len(agent.MessageIDs))
	}
}

func TestLoopToolCallThenDone(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"[[ ## tool_calls ## ]]\nweb_search(query=\"weather austin\")\n",
		"[[ ## messages ## ]]\nIt's sunny in Austin.\n[[ ## tool_calls ## ]]\ndone()\n",
	}}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry(&stubTool{result: &tools.Result{ForLLM: "sunny, 85F"}})
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "weather in austin?"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "It's sunny in Austin." {
		t.Fatalf("messages = %#v", res.Messages)
	}
	if res.Steps != 2 {
		t.Fatalf("steps = %d, want 2", res.Steps)
	}
	// user msg + tool result msg + assistant msg = 3.
	if len(agent.MessageIDs) != 3 {
		t.Fatalf("message_ids = %d entries, want 3", len(agent.MessageIDs))
	}
}

func TestLoopToolFailureSurfacesAsSyntheticResult(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"[[ ## tool_calls ## ]]\nweb_search(query=\"x\")\n",
		"[[ ## messages ## ]]\nSorry, that search failed.\n",
	}}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry(&stubTool{result: tools.ErrorResult("provider unreachable")})
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "search something"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("expected the loop to continue past the tool failure, got %#v", res.Messages)
	}
}

func TestLoopParseCorrectionRecoversOnSecondAttempt(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"this reply has no field markers at all",
		"[[ ## messages ## ]]\nRecovered after correction.\n",
	}}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry()
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Recovered after correction." {
		t.Fatalf("messages = %#v", res.Messages)
	}
	if llm.calls != 2 {
		t.Fatalf("expected 2 LLM calls (original + 1 correction), got %d", llm.calls)
	}
}

func TestLoopPersistentParseFailureProducesInternalErrorMessage(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"no markers 1", "no markers 2", "no markers 3",
	}}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry()
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %#v", res.Messages)
	}
	if got := res.Messages[0]; got == "" {
		t.Fatal("expected a non-empty user-visible fallback message")
	}
	if llm.calls != 3 {
		t.Fatalf("expected exactly 3 LLM attempts before giving up, got %d", llm.calls)
	}
}

func TestLoopMaxStepsTruncation(t *testing.T) {
	replies := make([]string, 0, MaxSteps)
	for i := 0; i < MaxSteps; i++ {
		replies = append(replies, "[[ ## tool_calls ## ]]\nweb_search(query=\"x\")\n")
	}
	llm := &scriptedLLM{replies: replies}
	loop, agent, _ := newTestLoop(t, llm)

	reg := tools.NewRegistry(&stubTool{result: &tools.Result{ForLLM: "ok"}})
	res, err := loop.Run(context.Background(), RunRequest{Agent: agent, Tools: reg, Message: "loop forever"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Steps != MaxSteps {
		t.Fatalf("steps = %d, want %d", res.Steps, MaxSteps)
	}
	if llm.calls != MaxSteps {
		t.Fatalf("llm calls = %d, want %d", llm.calls, MaxSteps)
	}
}
