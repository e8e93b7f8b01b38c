package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/memory"
	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/tools"
)

// MaxSteps bounds one turn's think-act-observe cycle (SPEC_FULL.md §4.G):
// after this many LLM calls without reaching a terminal reply, the loop
// gives up rather than run forever against a model that keeps calling
// tools, and ends the turn with a fixed assistant message saying so.
const MaxSteps = 10

// visionContextMessages is how many of the most recent messages are handed
// to the vision call as conversational context, matching the teacher's
// read_image tool's own context window (internal/tools/read_image.go is not
// carried into this pack, but media.go's loadImages shows the same
// recent-context idiom).
const visionContextMessages = 6

// maxImageBytes mirrors the teacher's media.go safety cap.
const maxImageBytes = 10 * 1024 * 1024

// defaultChatMaxTokens bounds one LLM reply.
const defaultChatMaxTokens = 2048

// ChatCompleter is the narrow LLM contract the step loop needs: a single
// chat completion call, carrying no knowledge of HTTP or retry policy.
// Satisfied by providers.Client.
type ChatCompleter interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// VisionDescriber is the narrow LLM contract for describing an uploaded
// image. Satisfied by providers.Client.
type VisionDescriber interface {
	Vision(ctx context.Context, req providers.VisionRequest) (string, error)
}

// Loop is the per-agent step loop: build context, call the LLM, parse its
// reply, execute any requested tools, and repeat until the turn reaches a
// terminal reply or MaxSteps is exhausted.
type Loop struct {
	llm         ChatCompleter
	vision      VisionDescriber
	visionModel string

	recall       *memory.RecallManager
	blocks       *memory.BlockManager
	archival     *memory.ArchivalManager
	summaries    *memory.SummaryManager
	summaryStore store.SummaryStore
	compactor    *memory.Compactor
	assembler    *memory.ContextAssembler
	agents       store.AgentStore
}

// LoopConfig constructs a Loop.
type LoopConfig struct {
	LLM          ChatCompleter
	Vision       VisionDescriber
	VisionModel  string
	Recall       *memory.RecallManager
	Blocks       *memory.BlockManager
	Archival     *memory.ArchivalManager
	Summaries    *memory.SummaryManager
	SummaryStore store.SummaryStore
	Compactor    *memory.Compactor
	Assembler    *memory.ContextAssembler
	Agents       store.AgentStore
}

// NewLoop builds a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		llm:          cfg.LLM,
		vision:       cfg.Vision,
		visionModel:  cfg.VisionModel,
		recall:       cfg.Recall,
		blocks:       cfg.Blocks,
		archival:     cfg.Archival,
		summaries:    cfg.Summaries,
		summaryStore: cfg.SummaryStore,
		compactor:    cfg.Compactor,
		assembler:    cfg.Assembler,
		agents:       cfg.Agents,
	}
}

// RunRequest is one turn's input: a user message (plus optional local image
// attachments) addressed to a specific agent.
type RunRequest struct {
	Agent      *store.Agent
	Tools      *tools.Registry
	SessionKey string
	UserID     string
	Message    string
	MediaPaths []string // local image file paths, already downloaded; removed after preprocessing
	Timezone   string
}

// RunResult is one turn's output: the ordered outbound message chunks the
// caller should deliver, in the order the model produced them.
type RunResult struct {
	Messages []string
	Usage    providers.Usage
	Steps    int
}

// Run executes one full turn for req.Agent, blocking until the turn reaches
// a terminal reply or MaxSteps is exhausted. Callers are responsible for
// serializing concurrent turns against the same agent (see
// internal/agent.Manager's per-agent mutex).
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	agent := req.Agent
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	window, err := l.recall.GetWindow(ctx, agent.ID, agent.MessageIDs)
	if err != nil {
		return nil, fmt.Errorf("load context window: %w", err)
	}

	userText := req.Message
	if len(req.MediaPaths) > 0 {
		userText = l.describeImages(ctx, window, req.MediaPaths, userText)
	}

	userMsg := &store.Message{
		ID:      store.NewID(),
		AgentID: agent.ID,
		UserID:  req.UserID,
		Role:    store.RoleUser,
		Content: userText,
	}
	if err := l.recall.Persist(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	turn := append(window, *userMsg)
	newIDs := []uuid.UUID{userMsg.ID}

	summary, err := l.summaries.Latest(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest summary: %w", err)
	}

	result := &RunResult{}
	truncated := false

	for step := 1; step <= MaxSteps; step++ {
		stepCtx, stepSpan := startStepSpan(ctx, req.SessionKey, step)

		parsed, usage, err := l.callOneStep(stepCtx, agent, req.Tools, tz, summary, turn, step)
		result.Usage.PromptTokens += usage.PromptTokens
		result.Usage.CompletionTokens += usage.CompletionTokens
		result.Usage.TotalTokens += usage.TotalTokens
		result.Steps = step

		if err != nil {
			slog.Error("agent step: reply unparseable after correction attempts", "agent", agent.ID, "step", step, "error", err)
			result.Messages = append(result.Messages, "Sorry, I had trouble responding — please try again.")
			stepSpan.End()
			break
		}

		for _, text := range parsed.Messages {
			msg := store.Message{ID: store.NewID(), AgentID: agent.ID, Role: store.RoleAssistant, Content: text}
			if err := l.recall.Persist(stepCtx, &msg); err != nil {
				slog.Error("agent step: persist assistant message failed", "agent", agent.ID, "error", err)
			}
			turn = append(turn, msg)
			newIDs = append(newIDs, msg.ID)
			result.Messages = append(result.Messages, text)
		}

		done := parsed.IsDone()
		hasRealToolCalls := len(parsed.ToolCalls) > 0 && !done

		if hasRealToolCalls {
			turn = l.executeToolCalls(stepCtx, agent, req.Tools, parsed.ToolCalls, turn, &newIDs)
		}

		stepSpan.End()

		if done || (!hasRealToolCalls && len(parsed.Messages) > 0) {
			break
		}
		if !hasRealToolCalls && len(parsed.Messages) == 0 {
			// Reply carried neither a user-facing message nor a tool call:
			// nothing to act on. Treat as terminal rather than spin to
			// MaxSteps on a model that keeps replying empty.
			break
		}
		truncated = step == MaxSteps
	}

	if truncated {
		text := "I've reached my step limit for this message, so I'm stopping here."
		msg := store.Message{ID: store.NewID(), AgentID: agent.ID, Role: store.RoleAssistant, Content: text}
		if err := l.recall.Persist(ctx, &msg); err != nil {
			slog.Error("agent step: persist truncation message failed", "agent", agent.ID, "error", err)
		}
		newIDs = append(newIDs, msg.ID)
		result.Messages = append(result.Messages, text)
	}

	agent.MessageIDs = append(agent.MessageIDs, newIDs...)
	if err := l.agents.SetMessageIDs(ctx, agent.ID, agent.MessageIDs); err != nil {
		slog.Error("agent step: persist message window failed", "agent", agent.ID, "error", err)
	}

	l.maybeCompact(ctx, agent, summary)

	return result, nil
}

// callOneStep renders the system anchor, calls the LLM (with correction
// retries on parse failure), and returns the parsed reply.
func (l *Loop) callOneStep(ctx context.Context, agent *store.Agent, reg *tools.Registry, tz string, summary *store.Summary, turn []store.Message, step int) (*AgentResponse, providers.Usage, error) {
	blocks, err := l.blocks.List(ctx, agent.ID)
	if err != nil {
		return nil, providers.Usage{}, fmt.Errorf("list memory blocks: %w", err)
	}
	lastMod, err := l.summaryStore.LastBlockModification(ctx, agent.ID)
	if err != nil {
		return nil, providers.Usage{}, fmt.Errorf("last block modification: %w", err)
	}
	recallCount, err := l.recall.Count(ctx, agent.ID)
	if err != nil {
		return nil, providers.Usage{}, fmt.Errorf("count recall messages: %w", err)
	}
	archivalCount, err := l.archival.Count(ctx, agent.ID)
	if err != nil {
		return nil, providers.Usage{}, fmt.Errorf("count archival passages: %w", err)
	}

	var toolDescs []memory.ToolDescriptor
	if reg != nil {
		for _, d := range reg.Descriptors() {
			toolDescs = append(toolDescs, memory.ToolDescriptor{Name: d.Name, Description: d.Description, ArgsSchema: d.ArgsSchema})
		}
	}

	anchor, _ := l.assembler.BuildSystemAnchor(agent.ID, agent.SystemPrompt, blocks, toolDescs, time.Now(), tz, lastMod, recallCount, archivalCount)

	chatMsgs := []providers.Message{{Role: providers.RoleSystem, Content: anchor}}
	if summaryText := memory.RenderSummary(summary); summaryText != "" {
		chatMsgs = append(chatMsgs, providers.Message{Role: providers.RoleSystem, Content: summaryText})
	}
	for _, m := range turn {
		chatMsgs = append(chatMsgs, toProviderMessage(m))
	}

	chatReq := providers.ChatRequest{
		Model:     agent.Model,
		Messages:  chatMsgs,
		MaxTokens: defaultChatMaxTokens,
	}

	llmCtx, span := startLLMSpan(ctx, agent.Model, step)
	parsed, usage, err := requestAndParse(llmCtx, l.llm, chatReq)
	endLLMSpan(span, usage, err)
	return parsed, usage, err
}

// executeToolCalls runs calls sequentially, in listed order — a deliberate
// departure from the teacher's parallel multi-tool-call path (loop.go),
// made because the protocol here is one shared conversational transcript:
// a second tool call's result must never race the first's message append.
func (l *Loop) executeToolCalls(ctx context.Context, agent *store.Agent, reg *tools.Registry, calls []ToolCallRequest, turn []store.Message, newIDs *[]uuid.UUID) []store.Message {
	for _, tc := range calls {
		if tc.Name == "done" {
			continue
		}

		toolCtx, span := startToolSpan(ctx, tc.Name)
		start := time.Now()

		var envelope store.ToolResult
		tool, ok := reg.Get(tc.Name)
		if !ok {
			envelope = store.ToolResult{Status: "Failed", Message: fmt.Sprintf("unknown tool %q", tc.Name), Time: time.Now().UTC().Format(time.RFC3339)}
			endToolSpan(span, tools.ErrorResult(envelope.Message), start)
		} else {
			res := tool.Execute(toolCtx, tc.Args)
			status := "OK"
			if res.IsError {
				status = "Failed"
			}
			envelope = store.ToolResult{Status: status, Message: res.ForLLM, Time: time.Now().UTC().Format(time.RFC3339)}
			endToolSpan(span, res, start)
		}

		body, _ := json.Marshal(envelope)
		toolMsg := store.Message{
			ID:          store.NewID(),
			AgentID:     agent.ID,
			Role:        store.RoleTool,
			Content:     string(body),
			ToolCalls:   []store.ToolCall{{Name: tc.Name, Args: tc.Args}},
			ToolResults: []store.ToolResult{envelope},
		}
		if err := l.recall.Persist(ctx, &toolMsg); err != nil {
			slog.Error("agent step: persist tool result failed", "agent", agent.ID, "tool", tc.Name, "error", err)
		}
		turn = append(turn, toolMsg)
		*newIDs = append(*newIDs, toolMsg.ID)
	}
	return turn
}

// maybeCompact runs the Compactor when the current window has grown past
// agent's configured threshold, chaining a new Summary onto the previous
// one.
func (l *Loop) maybeCompact(ctx context.Context, agent *store.Agent, prevSummary *store.Summary) {
	window, err := l.recall.GetWindow(ctx, agent.ID, agent.MessageIDs)
	if err != nil {
		slog.Error("agent compaction: load window failed", "agent", agent.ID, "error", err)
		return
	}
	estimated := memory.EstimatedPromptTokens(agent.SystemPrompt, memory.RenderSummary(prevSummary), memory.RenderConversation(window))
	if !memory.ShouldCompact(agent, estimated) {
		return
	}

	var prevID *uuid.UUID
	if prevSummary != nil {
		prevID = &prevSummary.ID
	}
	_, keptIDs, err := l.compactor.Compact(ctx, agent, prevID)
	if err != nil {
		slog.Error("agent compaction failed", "agent", agent.ID, "error", err)
		return
	}
	if keptIDs != nil {
		agent.MessageIDs = keptIDs
	}
}

// describeImages runs each attachment through vision and prepends its
// description to text, in attachment order, matching the teacher's
// attach-to-current-message idiom (media.go's loadImages) but producing
// text for Sage's prompt-only transport instead of a vendor image content
// block. Temp files are removed once read, successful or not.
func (l *Loop) describeImages(ctx context.Context, window []store.Message, paths []string, text string) string {
	contextLines := recentContentLines(window, visionContextMessages)

	var descriptions []string
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			os.Remove(p)
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("vision: failed to read image", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("vision: image too large, skipping", "path", p, "size", len(data))
			os.Remove(p)
			continue
		}
		desc, err := l.vision.Vision(ctx, providers.VisionRequest{
			Model:       l.visionModel,
			ImageData:   data,
			MimeType:    mime,
			ContextText: contextLines,
		})
		os.Remove(p)
		if err != nil {
			slog.Warn("vision: describe failed", "path", p, "error", err)
			continue
		}
		descriptions = append(descriptions, desc)
	}

	if len(descriptions) == 0 {
		return text
	}
	var b strings.Builder
	for _, d := range descriptions {
		fmt.Fprintf(&b, "[Uploaded Image: %s]\n", d)
	}
	b.WriteString(text)
	return b.String()
}

func recentContentLines(window []store.Message, n int) []string {
	if len(window) > n {
		window = window[len(window)-n:]
	}
	out := make([]string, 0, len(window))
	for _, m := range window {
		out = append(out, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return out
}

func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

// toProviderMessage maps a persisted store.Message onto the wire Message
// the LLM call sends, rendering tool-result envelopes as plain content
// since Sage carries no vendor tool_call_id field.
func toProviderMessage(m store.Message) providers.Message {
	role := providers.RoleUser
	switch m.Role {
	case store.RoleAssistant:
		role = providers.RoleAssistant
	case store.RoleTool:
		role = providers.RoleTool
	case store.RoleSystem:
		role = providers.RoleSystem
	}
	return providers.Message{Role: role, Content: m.Content}
}
