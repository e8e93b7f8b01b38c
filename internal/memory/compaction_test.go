package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/store/memstore"
)

// fakeSummarizer returns a short canned summary regardless of input, enough
// to exercise Compactor without a real LLM endpoint.
type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	return &providers.ChatResponse{Content: "a short canned summary"}, nil
}

func TestCompactorEvictsOldestDownToTarget(t *testing.T) {
	s := memstore.New()
	agentID := newTestAgent(t, s)
	recall := NewRecallManager(s, nil)
	llm := &fakeSummarizer{}
	summaries := NewSummaryManager(s, llm, nil, "test-model")
	compactor := NewCompactor(s, recall, summaries)
	ctx := context.Background()

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	agent.MaxContextTokens = 200 // small budget so a handful of messages trips it

	// Each message is ~100 bytes ~= 25 estimated tokens; 20 messages puts
	// the window well past the 0.8*200=160 token compaction threshold.
	var messageIDs []uuid.UUID
	for i := 0; i < 20; i++ {
		m := &store.Message{
			ID:      store.NewID(),
			AgentID: agentID,
			Role:    store.RoleUser,
			Content: strings.Repeat("x", 100),
		}
		if err := recall.Persist(ctx, m); err != nil {
			t.Fatalf("persist message %d: %v", i, err)
		}
		messageIDs = append(messageIDs, m.ID)
	}
	agent.MessageIDs = messageIDs
	if err := s.SetMessageIDs(ctx, agentID, messageIDs); err != nil {
		t.Fatalf("set message ids: %v", err)
	}

	window, err := recall.GetWindow(ctx, agentID, agent.MessageIDs)
	if err != nil {
		t.Fatalf("get window: %v", err)
	}
	estimated := EstimatedPromptTokens(agent.SystemPrompt, "", RenderConversation(window))
	if !ShouldCompact(agent, estimated) {
		t.Fatalf("expected estimate %d to cross threshold for max=%d", estimated, agent.MaxContextTokens)
	}

	summary, keptIDs, err := compactor.Compact(ctx, agent, nil)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary == nil {
		t.Fatal("expected a new Summary to be produced")
	}
	if len(keptIDs) >= len(messageIDs) {
		t.Fatalf("expected compaction to evict some messages: kept %d of %d", len(keptIDs), len(messageIDs))
	}
	if summary.FromSequenceID > summary.ToSequenceID {
		t.Fatalf("summary range inverted: from=%d to=%d", summary.FromSequenceID, summary.ToSequenceID)
	}

	agent.MessageIDs = keptIDs
	postWindow, err := recall.GetWindow(ctx, agentID, agent.MessageIDs)
	if err != nil {
		t.Fatalf("get post-compaction window: %v", err)
	}
	postEstimate := EstimatedPromptTokens(agent.SystemPrompt, RenderSummary(summary), RenderConversation(postWindow))
	if float64(postEstimate) > CompactionTarget*float64(agent.MaxContextTokens) {
		t.Fatalf("post-compaction estimate %d exceeds target %v", postEstimate, CompactionTarget*float64(agent.MaxContextTokens))
	}

	// Evicted messages remain durably searchable even though they left
	// the in-context window (SPEC_FULL.md §8: recall is a superset).
	evictedCount := len(messageIDs) - len(keptIDs)
	if evictedCount == 0 {
		t.Fatal("expected at least one evicted message")
	}
	total, err := recall.Count(ctx, agentID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != len(messageIDs) {
		t.Fatalf("recall count = %d, want %d (evicted rows must not be deleted)", total, len(messageIDs))
	}

	// Running compaction again immediately (no new messages, now well
	// under target) must be a no-op.
	summary2, keptIDs2, err := compactor.Compact(ctx, agent, &summary.ID)
	if err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if summary2 != nil {
		t.Fatal("second compaction run with nothing over target should produce no new summary")
	}
	if len(keptIDs2) != len(keptIDs) {
		t.Fatalf("second compaction should leave message_ids unchanged, got %d vs %d", len(keptIDs2), len(keptIDs))
	}
}
