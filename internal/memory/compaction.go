package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// CompactionTarget is the fraction of MaxContextTokens an agent's in-context
// window is evicted down to once CompactionThreshold is crossed
// (SPEC_FULL.md §4.C.6).
const CompactionTarget = 0.5

// Compactor evicts the oldest messages from an agent's in-context window
// once it grows past its configured threshold, folding them into a new
// chained Summary. Evicted messages remain in recall memory — only their
// membership in Agent.MessageIDs changes, never their row.
type Compactor struct {
	agents  store.AgentStore
	recall  *RecallManager
	summary *SummaryManager
}

// NewCompactor constructs a Compactor.
func NewCompactor(agents store.AgentStore, recall *RecallManager, summary *SummaryManager) *Compactor {
	return &Compactor{agents: agents, recall: recall, summary: summary}
}

// ShouldCompact reports whether estimatedTokens has crossed agent's
// configured threshold of its max context budget.
func ShouldCompact(agent *store.Agent, estimatedTokens int) bool {
	if agent.MaxContextTokens <= 0 {
		return false
	}
	threshold := agent.CompactionThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	return float64(estimatedTokens) >= threshold*float64(agent.MaxContextTokens)
}

// Compact evicts the oldest messages from agent's in-context window until
// the estimated token count of the system prompt, the remaining window and
// a reserve for the new summary is back under CompactionTarget of
// MaxContextTokens (or one message is left), summarizing the evicted range and
// chaining it onto the agent's previous summary. It returns the new
// Summary (nil if nothing was evicted) and the updated window of message
// ids now written to the Agent row.
func (c *Compactor) Compact(ctx context.Context, agent *store.Agent, previousSummaryID *uuid.UUID) (*store.Summary, []uuid.UUID, error) {
	window, err := c.recall.GetWindow(ctx, agent.ID, agent.MessageIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load window: %w", err)
	}
	if len(window) == 0 {
		return nil, agent.MessageIDs, nil
	}

	targetTokens := int(CompactionTarget * float64(agent.MaxContextTokens))

	// The summary is capped at 400 completion tokens by SummaryManager.
	const summaryReserveTokens = 400
	overhead := EstimateTokens(agent.SystemPrompt) + summaryReserveTokens

	kept := append([]store.Message(nil), window...)
	evicted := make([]store.Message, 0)
	for {
		remaining := RenderConversation(kept)
		if overhead+EstimateTokens(remaining) <= targetTokens || len(kept) <= 1 {
			break
		}
		evicted = append(evicted, kept[0])
		kept = kept[1:]
	}

	if len(evicted) == 0 {
		return nil, agent.MessageIDs, nil
	}

	newSummary, err := c.summary.Summarize(ctx, agent.ID, evicted, evicted[0].SequenceID, evicted[len(evicted)-1].SequenceID, previousSummaryID)
	if err != nil {
		return nil, nil, fmt.Errorf("summarize evicted range: %w", err)
	}

	keptIDs := make([]uuid.UUID, 0, len(kept))
	for _, m := range kept {
		keptIDs = append(keptIDs, m.ID)
	}
	if err := c.agents.SetMessageIDs(ctx, agent.ID, keptIDs); err != nil {
		return nil, nil, fmt.Errorf("persist evicted window: %w", err)
	}

	return newSummary, keptIDs, nil
}
