package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// Embedder produces a fixed-dimension vector for text. Implemented by
// internal/embedder.Client. Kept as a narrow interface here so memory does
// not depend on the HTTP details of the embedding endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// rrfK is the reciprocal-rank-fusion constant used by conversation_search
// (SPEC_FULL.md §4.C.2, §9).
const rrfK = 60

// MaxSearchLimit is the clamp applied to conversation_search's limit
// argument (SPEC_FULL.md §8, boundary behaviors).
const MaxSearchLimit = 50

// RecallHit is one hybrid-search result, annotated the way
// conversation_search renders it to the LLM.
type RecallHit struct {
	MessageID    uuid.UUID
	Role         store.Role
	Content      string
	CreatedAt    time.Time
	RelativeTime string
	Snippet      string
	Score        float64
}

// RecallManager owns the durable, append-only conversation log and its
// hybrid (keyword + vector) search.
type RecallManager struct {
	store    store.MessageStore
	embedder Embedder
}

// NewRecallManager constructs a RecallManager over s, using embedder for
// query-time vector search (embeddings for stored messages are backfilled
// asynchronously elsewhere — see internal/embedder.Backfill).
func NewRecallManager(s store.MessageStore, embedder Embedder) *RecallManager {
	return &RecallManager{store: s, embedder: embedder}
}

// Persist synchronously writes m with the next monotonic sequence_id for its
// agent. Embedding is left nil; a background sweep backfills it.
func (m *RecallManager) Persist(ctx context.Context, msg *store.Message) error {
	seq, err := m.store.NextSequenceID(ctx, msg.AgentID)
	if err != nil {
		return fmt.Errorf("allocate sequence id: %w", err)
	}
	msg.SequenceID = seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

// GetWindow returns the Messages referenced by ids, in sequence order — the
// tail of conversation currently in an agent's context window.
func (m *RecallManager) GetWindow(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]store.Message, error) {
	msgs, err := m.store.GetMessagesByIDs(ctx, agentID, ids)
	if err != nil {
		return nil, fmt.Errorf("get message window: %w", err)
	}
	return msgs, nil
}

// Count returns the total number of Messages ever persisted for agentID,
// used to render <memory_metadata>'s recall message count.
func (m *RecallManager) Count(ctx context.Context, agentID uuid.UUID) (int, error) {
	n, err := m.store.CountMessages(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Search implements conversation_search: fuse the top-k keyword hits and
// top-k vector hits by reciprocal rank fusion (k=60), dedupe by message id,
// and return the fused top `limit` results annotated for display.
func (m *RecallManager) Search(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]RecallHit, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	candidatePool := limit * 4
	if candidatePool < 20 {
		candidatePool = 20
	}

	keywordHits, err := m.store.SearchKeyword(ctx, agentID, query, candidatePool)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var vectorHits []store.RecallHit
	if m.embedder != nil {
		queryEmb, err := m.embedder.Embed(ctx, query)
		if err == nil {
			vectorHits, err = m.store.SearchVector(ctx, agentID, queryEmb, candidatePool)
			if err != nil {
				return nil, fmt.Errorf("vector search: %w", err)
			}
		}
		// Embedding failure degrades gracefully to keyword-only results
		// (embeddings are best-effort everywhere in Sage; see
		// internal/embedder).
	}

	fused := fuseRRF(keywordHits, vectorHits)
	if limit < len(fused) {
		fused = fused[:limit]
	}

	out := make([]RecallHit, 0, len(fused))
	for _, f := range fused {
		out = append(out, RecallHit{
			MessageID:    f.MessageID,
			Role:         f.Role,
			Content:      f.Content,
			CreatedAt:    f.CreatedAt,
			RelativeTime: relativeTime(f.CreatedAt),
			Snippet:      snippet(f.Content, 160),
			Score:        f.Score,
		})
	}
	return out, nil
}

// fuseRRF implements reciprocal rank fusion: score(d) = sum over each
// ranking the item appears in of 1/(k + rank), rank 1-indexed. Items are
// deduplicated by MessageID; the returned slice is the union, descending by
// fused score.
func fuseRRF(keyword, vector []store.RecallHit) []store.RecallHit {
	scores := make(map[uuid.UUID]float64)
	byID := make(map[uuid.UUID]store.RecallHit)

	accumulate := func(hits []store.RecallHit) {
		for rank, h := range hits {
			scores[h.MessageID] += 1.0 / float64(rrfK+rank+1)
			if _, ok := byID[h.MessageID]; !ok {
				byID[h.MessageID] = h
			}
		}
	}
	accumulate(keyword)
	accumulate(vector)

	out := make([]store.RecallHit, 0, len(byID))
	for id, h := range byID {
		h.Score = scores[id]
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func snippet(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
