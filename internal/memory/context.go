package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// ToolDescriptor is the slice of a registered tool's identity the Context
// Assembler needs to render the <tools> section. internal/tools.Registry
// produces these; memory never imports internal/tools, avoiding a cycle
// (tools depends on memory's managers, not the other way around).
type ToolDescriptor struct {
	Name        string
	Description string
	ArgsSchema  string
}

// RenderMemoryBlocks renders the <memory_blocks> section: one <label> tag
// per block, in insertion order, each carrying description, a
// chars_current/chars_limit metadata tag, and the raw value.
func RenderMemoryBlocks(blocks []store.Block) string {
	var b strings.Builder
	b.WriteString("<memory_blocks>\n")
	for _, blk := range blocks {
		fmt.Fprintf(&b, "<%s>\n<description>%s</description>\n<metadata chars_current=\"%d\" chars_limit=\"%d\"></metadata>\n<value>%s</value>\n</%s>\n",
			blk.Label, blk.Description, len(blk.Value), blk.CharLimit, blk.Value, blk.Label)
	}
	b.WriteString("</memory_blocks>")
	return b.String()
}

// RenderTools renders the <tools> section: deterministic, name-sorted tool
// descriptions (the registry hands them in already-sorted order).
func RenderTools(tools []ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("<tools>\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  args: %s\n", t.Name, t.Description, t.ArgsSchema)
	}
	b.WriteString("</tools>")
	return b.String()
}

// RenderMetadata renders the <memory_metadata> section: free text carrying
// the current system date in the user's timezone, the last block
// modification timestamp, and the recall/archival counts. This section is
// the only part of the system anchor allowed to churn call-to-call without
// invalidating the blocks+tools cache (see the rebuild-skip rule below).
func RenderMetadata(now time.Time, tz string, lastBlockMod time.Time, recallCount, archivalCount int) string {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString("<memory_metadata>\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.In(loc).Format("2006-01-02 15:04 MST"))
	if !lastBlockMod.IsZero() {
		fmt.Fprintf(&b, "Last block modification: %s\n", lastBlockMod.In(loc).Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Recall memory: %d messages\n", recallCount)
	fmt.Fprintf(&b, "Archival memory: %d passages\n", archivalCount)
	b.WriteString("</memory_metadata>")
	return b.String()
}

// ContextAssembler compiles the canonical in-context payload for one agent
// step: system anchor (base prompt + memory_blocks + memory_metadata +
// tools), the most recent Summary, and the tail of recent conversation.
//
// It implements the rebuild-skip rule (SPEC_FULL.md §4.C.5): the serialized
// <memory_blocks>+<tools> segment is re-rendered every step, and rendering
// is deterministic, so unchanged blocks and tools yield byte-identical bytes
// for that segment (which an LLM endpoint's own prefix-level prompt caching
// can reuse) even though <memory_metadata> (timestamps, counts) changes
// every step. The last rendered segment is kept per agent only to report
// whether the new one is unchanged.
type ContextAssembler struct {
	mu    sync.Mutex
	cache map[uuid.UUID]string // agentID -> last rendered blocks+tools segment
}

// NewContextAssembler constructs an empty ContextAssembler.
func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{cache: make(map[uuid.UUID]string)}
}

// BuildSystemAnchor renders the full system anchor for agentID and reports
// whether the blocks+tools segment was identical to the previous call
// (Reused), for tracing span attributes.
func (a *ContextAssembler) BuildSystemAnchor(
	agentID uuid.UUID,
	basePrompt string,
	blocks []store.Block,
	tools []ToolDescriptor,
	now time.Time,
	tz string,
	lastBlockMod time.Time,
	recallCount, archivalCount int,
) (anchor string, reused bool) {
	blocksStr := RenderMemoryBlocks(blocks)
	toolsStr := RenderTools(tools)
	segment := blocksStr + "\n" + toolsStr

	a.mu.Lock()
	prev, ok := a.cache[agentID]
	reused = ok && prev == segment
	a.cache[agentID] = segment
	a.mu.Unlock()

	metadata := RenderMetadata(now, tz, lastBlockMod, recallCount, archivalCount)

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(blocksStr)
	b.WriteString("\n\n")
	b.WriteString(metadata)
	b.WriteString("\n\n")
	b.WriteString(toolsStr)
	return b.String(), reused
}

// RenderSummary renders the "Summary" section of the payload: the most
// recent Summary's content, or empty when none exists yet.
func RenderSummary(s *store.Summary) string {
	if s == nil {
		return ""
	}
	return "Summary of earlier conversation:\n" + s.Content
}

// RenderConversation renders the tail of in-context Messages with role
// prefix and timestamp, in sequence order.
func RenderConversation(messages []store.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content)
	}
	return b.String()
}

// EstimatedPromptTokens sums the heuristic token estimate over every
// rendered section of the payload: system anchor, summary, and recent
// conversation.
func EstimatedPromptTokens(systemAnchor, summaryText, conversationText string) int {
	return EstimateTokens(systemAnchor) + EstimateTokens(summaryText) + EstimateTokens(conversationText)
}
