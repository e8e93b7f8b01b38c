package agent

import (
	"context"
	"fmt"

	"github.com/sageagent/sage/internal/providers"
)

// maxParseAttempts is the total number of times Sage asks the LLM for a
// parseable reply to one turn step, including the first attempt — grounded
// in the teacher's bounded-retry shape (internal/retry.Config.MaxAttempts),
// applied here to format compliance instead of transport errors.
const maxParseAttempts = 3

// correctionPromptTemplate is sent as a fresh user turn when a reply fails
// to parse, quoting the malformed reply and the parse error back to the
// model so it can repair its own output.
const correctionPromptTemplate = `Your previous reply did not follow the required format. It must contain at least one of the [[ ## reasoning ## ]], [[ ## messages ## ]], or [[ ## tool_calls ## ]] field markers, and any tool_calls line must look like name(key="value", key="value").

Parse error: %s

Your previous reply:
%s

Reply again, using only the field-marker format.`

// requestAndParse calls llm with chatReq and parses the reply. On a format
// failure it retries with a correction turn appended, up to
// maxParseAttempts total calls. The returned usage is the sum across every
// attempt, since each one is a real billed LLM call.
func requestAndParse(ctx context.Context, llm ChatCompleter, chatReq providers.ChatRequest) (*AgentResponse, providers.Usage, error) {
	var total providers.Usage
	messages := append([]providers.Message(nil), chatReq.Messages...)

	var lastRaw string
	var lastErr error
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		req := chatReq
		req.Messages = messages

		resp, err := llm.Chat(ctx, req)
		if err != nil {
			return nil, total, fmt.Errorf("llm call (attempt %d): %w", attempt, err)
		}
		if resp.Usage != nil {
			total.PromptTokens += resp.Usage.PromptTokens
			total.CompletionTokens += resp.Usage.CompletionTokens
			total.TotalTokens += resp.Usage.TotalTokens
		}

		parsed, perr := ParseAgentResponse(resp.Content)
		if perr == nil {
			return parsed, total, nil
		}

		lastRaw = resp.Content
		lastErr = perr
		if attempt == maxParseAttempts {
			break
		}

		messages = append(messages,
			providers.Message{Role: providers.RoleAssistant, Content: resp.Content},
			providers.Message{Role: providers.RoleUser, Content: fmt.Sprintf(correctionPromptTemplate, perr, resp.Content)},
		)
	}

	return nil, total, fmt.Errorf("%w: reply still unparseable after %d attempts: %v (last: %q)",
		ErrParseFormat, maxParseAttempts, lastErr, truncateForError(lastRaw, 200))
}

func truncateForError(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
