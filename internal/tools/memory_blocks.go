package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/memory"
)

// blockTools is shared context for the three memory_* tools: each one
// operates on the same agent's BlockManager, identified by agentID bound
// at construction (the Agent Manager builds one set of these per agent).
type blockTools struct {
	agentID uuid.UUID
	blocks  *memory.BlockManager
}

// MemoryReplaceTool implements memory_replace(block, old_text, new_text).
type MemoryReplaceTool struct{ blockTools }

// NewMemoryReplaceTool constructs a MemoryReplaceTool bound to agentID.
func NewMemoryReplaceTool(agentID uuid.UUID, blocks *memory.BlockManager) *MemoryReplaceTool {
	return &MemoryReplaceTool{blockTools{agentID, blocks}}
}

func (t *MemoryReplaceTool) Name() string { return "memory_replace" }
func (t *MemoryReplaceTool) Description() string {
	return "Replace an exact substring within a core memory block."
}
func (t *MemoryReplaceTool) ArgsSchema() string {
	return "block (string, required), old_text (string, required), new_text (string, required)"
}

func (t *MemoryReplaceTool) Execute(ctx context.Context, args map[string]string) *Result {
	block := args["block"]
	if block == "" {
		return ErrorResult("block is required")
	}
	if _, err := t.blocks.Replace(ctx, t.agentID, block, args["old_text"], args["new_text"]); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("updated block %q", block))
}

// MemoryAppendTool implements memory_append(block, content).
type MemoryAppendTool struct{ blockTools }

// NewMemoryAppendTool constructs a MemoryAppendTool bound to agentID.
func NewMemoryAppendTool(agentID uuid.UUID, blocks *memory.BlockManager) *MemoryAppendTool {
	return &MemoryAppendTool{blockTools{agentID, blocks}}
}

func (t *MemoryAppendTool) Name() string { return "memory_append" }
func (t *MemoryAppendTool) Description() string {
	return "Append content to the end of a core memory block."
}
func (t *MemoryAppendTool) ArgsSchema() string {
	return "block (string, required), content (string, required)"
}

func (t *MemoryAppendTool) Execute(ctx context.Context, args map[string]string) *Result {
	block := args["block"]
	if block == "" {
		return ErrorResult("block is required")
	}
	if _, err := t.blocks.Append(ctx, t.agentID, block, args["content"]); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("appended to block %q", block))
}

// MemoryInsertTool implements memory_insert(block, content, line?).
type MemoryInsertTool struct{ blockTools }

// NewMemoryInsertTool constructs a MemoryInsertTool bound to agentID.
func NewMemoryInsertTool(agentID uuid.UUID, blocks *memory.BlockManager) *MemoryInsertTool {
	return &MemoryInsertTool{blockTools{agentID, blocks}}
}

func (t *MemoryInsertTool) Name() string { return "memory_insert" }
func (t *MemoryInsertTool) Description() string {
	return "Insert a line of content into a core memory block at a given line number (or at the end)."
}
func (t *MemoryInsertTool) ArgsSchema() string {
	return "block (string, required), content (string, required), line (int, optional, 0-indexed, default end)"
}

func (t *MemoryInsertTool) Execute(ctx context.Context, args map[string]string) *Result {
	block := args["block"]
	if block == "" {
		return ErrorResult("block is required")
	}
	line := -1
	if raw, ok := args["line"]; ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			line = n
		}
	}
	if _, err := t.blocks.Insert(ctx, t.agentID, block, args["content"], line); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("inserted into block %q", block))
}
