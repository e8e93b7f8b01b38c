package tools

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/memory"
)

// ArchivalInsertTool implements archival_insert(content, tags?).
type ArchivalInsertTool struct {
	agentID  uuid.UUID
	archival *memory.ArchivalManager
}

// NewArchivalInsertTool constructs an ArchivalInsertTool bound to agentID.
func NewArchivalInsertTool(agentID uuid.UUID, archival *memory.ArchivalManager) *ArchivalInsertTool {
	return &ArchivalInsertTool{agentID: agentID, archival: archival}
}

func (t *ArchivalInsertTool) Name() string { return "archival_insert" }
func (t *ArchivalInsertTool) Description() string {
	return "Write a durable fact into long-term archival memory."
}
func (t *ArchivalInsertTool) ArgsSchema() string {
	return "content (string, required), tags (comma-separated string, optional)"
}

func (t *ArchivalInsertTool) Execute(ctx context.Context, args map[string]string) *Result {
	content := args["content"]
	if content == "" {
		return ErrorResult("content is required")
	}
	tags := splitTags(args["tags"])
	if _, err := t.archival.Insert(ctx, t.agentID, content, tags); err != nil {
		return ErrorResult("archival_insert failed").WithError(err)
	}
	return NewResult("stored")
}

// ArchivalSearchTool implements archival_search(query, top_k=5, tags?).
type ArchivalSearchTool struct {
	agentID  uuid.UUID
	archival *memory.ArchivalManager
}

// NewArchivalSearchTool constructs an ArchivalSearchTool bound to agentID.
func NewArchivalSearchTool(agentID uuid.UUID, archival *memory.ArchivalManager) *ArchivalSearchTool {
	return &ArchivalSearchTool{agentID: agentID, archival: archival}
}

func (t *ArchivalSearchTool) Name() string { return "archival_search" }
func (t *ArchivalSearchTool) Description() string {
	return "Search long-term archival memory by meaning, optionally filtered by tags."
}
func (t *ArchivalSearchTool) ArgsSchema() string {
	return "query (string, required), top_k (int, optional, default 5), tags (comma-separated string, optional)"
}

func (t *ArchivalSearchTool) Execute(ctx context.Context, args map[string]string) *Result {
	query := args["query"]
	if query == "" {
		return ErrorResult("query is required")
	}
	topK := memory.DefaultArchivalTopK
	if raw, ok := args["top_k"]; ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			topK = n
		}
	}
	tags := splitTags(args["tags"])

	hits, err := t.archival.Search(ctx, t.agentID, query, topK, tags)
	if err != nil {
		return ErrorResult("archival_search failed").WithError(err)
	}
	return NewResult(memory.FormatResults(hits))
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
