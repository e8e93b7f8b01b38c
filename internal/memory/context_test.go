package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

func TestBuildSystemAnchorRebuildSkipRule(t *testing.T) {
	a := NewContextAssembler()
	agentID := uuid.New()
	blocks := []store.Block{{Label: "persona", Description: "d", Value: "v", CharLimit: 100}}
	toolDescs := []ToolDescriptor{{Name: "done", Description: "stop", ArgsSchema: "()"}}

	first, reused := a.BuildSystemAnchor(agentID, "base", blocks, toolDescs, time.Now(), "UTC", time.Time{}, 0, 0)
	if reused {
		t.Fatal("first call should never report reused")
	}

	// Advance "now" and bump the metadata counts: memory_metadata churn
	// alone must not prevent the blocks+tools segment from being marked
	// reused on the next call.
	second, reused := a.BuildSystemAnchor(agentID, "base", blocks, toolDescs, time.Now().Add(time.Hour), "UTC", time.Now(), 5, 2)
	if !reused {
		t.Fatal("unchanged blocks+tools segment should be reported as reused")
	}
	if first == second {
		t.Fatal("metadata churn should still change the fully rendered anchor text")
	}

	// Mutate a block: the next call must NOT be reused.
	blocks[0].Value = "changed"
	_, reused = a.BuildSystemAnchor(agentID, "base", blocks, toolDescs, time.Now(), "UTC", time.Time{}, 0, 0)
	if reused {
		t.Fatal("changing a block value must invalidate the blocks+tools cache")
	}
}

func TestRenderMemoryBlocksOrderAndMetadata(t *testing.T) {
	blocks := []store.Block{
		{Label: "persona", Description: "p", Value: "hello", CharLimit: 20000},
		{Label: "human", Description: "h", Value: "", CharLimit: 20000},
	}
	out := RenderMemoryBlocks(blocks)
	personaIdx := indexOf(out, "<persona>")
	humanIdx := indexOf(out, "<human>")
	if personaIdx == -1 || humanIdx == -1 || personaIdx > humanIdx {
		t.Fatalf("blocks must render in insertion order, got:\n%s", out)
	}
	if !contains(out, `chars_current="5"`) {
		t.Fatalf("expected chars_current=5 for persona's value, got:\n%s", out)
	}
}

func TestEstimatedPromptTokensWithinBudget(t *testing.T) {
	agent := &store.Agent{MaxContextTokens: 1000, CompactionThreshold: 0.8}
	small := EstimatedPromptTokens("short anchor", "", "a couple lines")
	if ShouldCompact(agent, small) {
		t.Fatalf("estimate %d should be well under threshold", small)
	}
	big := EstimatedPromptTokens("short anchor", "", string(make([]byte, 4000)))
	if !ShouldCompact(agent, big) {
		t.Fatalf("estimate %d should cross the 0.8 threshold of 1000", big)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func contains(s, sub string) bool {
	return indexOf(s, sub) != -1
}
