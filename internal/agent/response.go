// Package agent implements Sage's step loop: the per-turn cycle of
// building context, calling the LLM, parsing its structured reply,
// executing tool calls, and persisting the result — grounded in the
// teacher's internal/agent/loop.go shape, generalized to a tool-calling
// contract carried entirely in prompt text rather than vendor tool fields.
package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// AgentResponse is the typed signature the step loop parses every raw LLM
// reply against.
type AgentResponse struct {
	Reasoning string
	Messages  []string
	ToolCalls []ToolCallRequest
}

// ToolCallRequest is one parsed `tool_calls` entry.
type ToolCallRequest struct {
	Name string
	Args map[string]string
}

// fieldMarker matches a `[[ ## field ## ]]` section header; everything
// between one marker and the next (or end of text) is that field's body.
var fieldMarker = regexp.MustCompile(`\[\[\s*##\s*([a-zA-Z_]+)\s*##\s*\]\]`)

// ErrParseFormat is returned when the reply does not carry recognizable
// field markers, or a recognized field fails to parse (e.g. malformed
// tool_calls).
var ErrParseFormat = fmt.Errorf("agent: reply did not match the expected field-marker format")

// ParseAgentResponse splits raw on field markers and decodes the
// `reasoning`, `messages`, and `tool_calls` sections. `messages` is one
// string per line; `tool_calls` is one call per line in the form
// `name(key=value, key=value)`.
func ParseAgentResponse(raw string) (*AgentResponse, error) {
	sections := splitFields(raw)
	if len(sections) == 0 {
		return nil, ErrParseFormat
	}

	resp := &AgentResponse{}
	if v, ok := sections["reasoning"]; ok {
		resp.Reasoning = strings.TrimSpace(v)
	}
	if v, ok := sections["messages"]; ok {
		resp.Messages = nonEmptyLines(v)
	}
	if v, ok := sections["tool_calls"]; ok {
		calls, err := parseToolCalls(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseFormat, err)
		}
		resp.ToolCalls = calls
	}

	if resp.Reasoning == "" && len(resp.Messages) == 0 && len(resp.ToolCalls) == 0 {
		return nil, ErrParseFormat
	}
	return resp, nil
}

// IsDone reports whether resp's tool_calls contains exactly the done
// sentinel, the loop's one valid "stop via tool call" shape.
func (r *AgentResponse) IsDone() bool {
	return len(r.ToolCalls) == 1 && r.ToolCalls[0].Name == "done"
}

func splitFields(raw string) map[string]string {
	locs := fieldMarker.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make(map[string]string, len(locs))
	for i, loc := range locs {
		name := strings.ToLower(raw[loc[2]:loc[3]])
		start := loc[1]
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[name] = raw[start:end]
	}
	return out
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseToolCalls parses one call per nonempty line: `name(k=v, k=v)` or
// bare `name()`/`name`.
func parseToolCalls(s string) ([]ToolCallRequest, error) {
	var out []ToolCallRequest
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		call, err := parseOneToolCall(line)
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, nil
}

func parseOneToolCall(line string) (ToolCallRequest, error) {
	open := strings.Index(line, "(")
	if open == -1 {
		return ToolCallRequest{Name: line, Args: map[string]string{}}, nil
	}
	if !strings.HasSuffix(line, ")") {
		return ToolCallRequest{}, fmt.Errorf("unterminated tool call: %q", line)
	}
	name := strings.TrimSpace(line[:open])
	if name == "" {
		return ToolCallRequest{}, fmt.Errorf("tool call missing name: %q", line)
	}
	argsStr := strings.TrimSpace(line[open+1 : len(line)-1])
	args := map[string]string{}
	if argsStr != "" {
		for _, pair := range splitArgs(argsStr) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return ToolCallRequest{}, fmt.Errorf("malformed argument %q in call %q", pair, line)
			}
			args[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ToolCallRequest{Name: name, Args: args}, nil
}

// splitArgs splits a comma-separated argument list, respecting
// double-quoted values that may themselves contain commas.
func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
