package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/store"
)

// ChatCompleter is the narrow LLM contract SummaryManager needs: a single
// chat completion call. Satisfied by providers.Client.
type ChatCompleter interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// summaryPromptTemplate asks the model for a compaction of a message range,
// bounded to roughly 100 words per SPEC_FULL.md §4.C.4.
const summaryPromptTemplate = `Summarize the following conversation excerpt in about 100 words. Capture durable facts, decisions, and commitments; omit small talk. Do not address the user directly; write it as a third-person note for your own later reference.

%s`

// SummaryManager produces compaction Summaries by calling the LLM with a
// dedicated summarization prompt, then persists the result with its
// embedding and chain pointer.
type SummaryManager struct {
	store    store.SummaryStore
	llm      ChatCompleter
	embedder Embedder
	model    string
}

// NewSummaryManager constructs a SummaryManager over s, using llm for the
// summarization call and embedder for the resulting Summary's embedding.
func NewSummaryManager(s store.SummaryStore, llm ChatCompleter, embedder Embedder, model string) *SummaryManager {
	return &SummaryManager{store: s, llm: llm, embedder: embedder, model: model}
}

// Summarize calls the LLM over the rendered text of messages (which must
// already be restricted to [fromSeq, toSeq]), persists a new Summary
// chained onto previousSummaryID, and returns it.
func (m *SummaryManager) Summarize(ctx context.Context, agentID uuid.UUID, messages []store.Message, fromSeq, toSeq int64, previousSummaryID *uuid.UUID) (*store.Summary, error) {
	rendered := renderMessagesForSummary(messages)
	resp, err := m.llm.Chat(ctx, providers.ChatRequest{
		Model: m.model,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: fmt.Sprintf(summaryPromptTemplate, rendered)},
		},
		MaxTokens: 400,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: llm call: %w", err)
	}

	content := strings.TrimSpace(resp.Content)

	var embedding []float32
	if m.embedder != nil {
		if v, err := m.embedder.Embed(ctx, content); err == nil {
			embedding = v
		}
	}

	s := &store.Summary{
		ID:                store.NewID(),
		AgentID:           agentID,
		FromSequenceID:    fromSeq,
		ToSequenceID:      toSeq,
		Content:           content,
		Embedding:         embedding,
		PreviousSummaryID: previousSummaryID,
		CreatedAt:         time.Now(),
	}
	if err := m.store.InsertSummary(ctx, s); err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	return s, nil
}

// Latest returns the most recent Summary for agentID, or nil if none exists.
func (m *SummaryManager) Latest(ctx context.Context, agentID uuid.UUID) (*store.Summary, error) {
	s, err := m.store.LatestSummary(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	return s, nil
}

func renderMessagesForSummary(messages []store.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.CreatedAt.Format(time.RFC3339), msg.Role, msg.Content)
	}
	return b.String()
}
