package agent

import (
	"errors"
	"testing"
)

func TestParseAgentResponseMessagesOnly(t *testing.T) {
	raw := "[[ ## reasoning ## ]]\nthe user asked for the weather\n[[ ## messages ## ]]\nIt's sunny today.\n"
	resp, err := ParseAgentResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Reasoning != "the user asked for the weather" {
		t.Fatalf("reasoning = %q", resp.Reasoning)
	}
	if len(resp.Messages) != 1 || resp.Messages[0] != "It's sunny today." {
		t.Fatalf("messages = %#v", resp.Messages)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %#v", resp.ToolCalls)
	}
}

func TestParseAgentResponseToolCalls(t *testing.T) {
	raw := `[[ ## tool_calls ## ]]
web_search(query="weather in Austin", limit=5)
done()
`
	resp, err := ParseAgentResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.Name != "web_search" {
		t.Fatalf("first call name = %q", first.Name)
	}
	if first.Args["query"] != "weather in Austin" || first.Args["limit"] != "5" {
		t.Fatalf("first call args = %#v", first.Args)
	}
	if resp.ToolCalls[1].Name != "done" {
		t.Fatalf("second call name = %q", resp.ToolCalls[1].Name)
	}
}

func TestIsDone(t *testing.T) {
	resp := &AgentResponse{ToolCalls: []ToolCallRequest{{Name: "done", Args: map[string]string{}}}}
	if !resp.IsDone() {
		t.Fatal("expected IsDone() to be true for a single done() call")
	}

	resp = &AgentResponse{ToolCalls: []ToolCallRequest{{Name: "done"}, {Name: "web_search"}}}
	if resp.IsDone() {
		t.Fatal("expected IsDone() to be false when done() is not the only call")
	}
}

func TestParseAgentResponseMalformed(t *testing.T) {
	if _, err := ParseAgentResponse("just some plain text with no markers"); !errors.Is(err, ErrParseFormat) {
		t.Fatalf("expected ErrParseFormat, got %v", err)
	}
}

func TestParseAgentResponseUnterminatedCall(t *testing.T) {
	raw := "[[ ## tool_calls ## ]]\nweb_search(query=\"oops\"\n"
	if _, err := ParseAgentResponse(raw); !errors.Is(err, ErrParseFormat) {
		t.Fatalf("expected ErrParseFormat wrapping a parse error, got %v", err)
	}
}

func TestSplitArgsRespectsQuotedCommas(t *testing.T) {
	args := splitArgs(`a="1,2,3", b=4`)
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %#v", args)
	}
}
