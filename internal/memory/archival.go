package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// DefaultArchivalTopK is archival_search's default top_k when the caller
// omits it.
const DefaultArchivalTopK = 5

// ArchivalManager owns long-term, agent-authored semantic memory: Passages,
// written once via archival_insert and retrieved by cosine similarity via
// archival_search.
type ArchivalManager struct {
	store    store.PassageStore
	embedder Embedder
}

// NewArchivalManager constructs an ArchivalManager over s.
func NewArchivalManager(s store.PassageStore, embedder Embedder) *ArchivalManager {
	return &ArchivalManager{store: s, embedder: embedder}
}

// Insert embeds content and writes a new Passage. Embedding failure is
// best-effort: the passage is still written, with a nil embedding, and is
// then unreachable by vector search; the embedding backfill sweep covers
// messages only, not passages.
func (m *ArchivalManager) Insert(ctx context.Context, agentID uuid.UUID, content string, tags []string) (*store.Passage, error) {
	var embedding []float32
	if m.embedder != nil {
		if v, err := m.embedder.Embed(ctx, content); err == nil {
			embedding = v
		}
	}
	p := &store.Passage{
		ID:        store.NewID(),
		AgentID:   agentID,
		Content:   content,
		Embedding: embedding,
		Tags:      tags,
		CreatedAt: time.Now(),
	}
	if err := m.store.InsertPassage(ctx, p); err != nil {
		return nil, fmt.Errorf("insert passage: %w", err)
	}
	return p, nil
}

// Search embeds query and returns the top-k Passages by cosine similarity,
// optionally restricted to passages carrying at least one of tags.
func (m *ArchivalManager) Search(ctx context.Context, agentID uuid.UUID, query string, topK int, tags []string) ([]store.PassageHit, error) {
	if topK <= 0 {
		topK = DefaultArchivalTopK
	}
	var queryEmb []float32
	if m.embedder != nil {
		v, err := m.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryEmb = v
	}
	hits, err := m.store.SearchPassages(ctx, agentID, queryEmb, topK, tags)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	return hits, nil
}

// Count returns the total number of Passages for agentID, used to render
// <memory_metadata>'s archival passage count.
func (m *ArchivalManager) Count(ctx context.Context, agentID uuid.UUID) (int, error) {
	n, err := m.store.CountPassages(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// FormatResults renders archival_search hits as compact provenance-tagged
// text, tags before content — the idiom this pack's chromem-go-based
// knowledge store (Qefaraki-picoclaw's SearchKnowledge/FormatResults) uses
// for grouping retrieved items by source before their body text.
func FormatResults(hits []store.PassageHit) string {
	if len(hits) == 0 {
		return "(no matching passages)"
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if len(h.Passage.Tags) > 0 {
			fmt.Fprintf(&b, "[tags: %s] ", strings.Join(h.Passage.Tags, ", "))
		}
		fmt.Fprintf(&b, "(similarity %.2f) %s", h.Similarity, h.Passage.Content)
	}
	return b.String()
}
