package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/memory"
)

// ConversationSearchTool implements conversation_search(query, limit=5),
// RecallManager's hybrid (keyword + vector) search over recall memory.
type ConversationSearchTool struct {
	agentID uuid.UUID
	recall  *memory.RecallManager
}

// NewConversationSearchTool constructs a ConversationSearchTool bound to
// agentID.
func NewConversationSearchTool(agentID uuid.UUID, recall *memory.RecallManager) *ConversationSearchTool {
	return &ConversationSearchTool{agentID: agentID, recall: recall}
}

func (t *ConversationSearchTool) Name() string { return "conversation_search" }
func (t *ConversationSearchTool) Description() string {
	return "Search the full conversation history (beyond what is currently in context) by keyword and meaning."
}
func (t *ConversationSearchTool) ArgsSchema() string {
	return "query (string, required), limit (int, optional, default 5, max 50)"
}

func (t *ConversationSearchTool) Execute(ctx context.Context, args map[string]string) *Result {
	query := args["query"]
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := 5
	if raw, ok := args["limit"]; ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	hits, err := t.recall.Search(ctx, t.agentID, query, limit)
	if err != nil {
		return ErrorResult("conversation_search failed").WithError(err)
	}
	if len(hits) == 0 {
		return NewResult("(no matching messages)")
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s, %s] %s: %s", h.RelativeTime, h.CreatedAt.Format("2006-01-02 15:04"), h.Role, h.Snippet)
	}
	return NewResult(b.String())
}
