package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sageagent/sage/internal/retry"
)

// Client talks to one OpenAI-compatible endpoint for chat, embeddings, and
// vision. It never sends tools/tool_choice: Sage's LLM client is a stripped
// sibling of the teacher's OpenAIProvider that only ever asks for raw
// assistant text (see SPEC_FULL.md §4.G).
type Client struct {
	apiBase string
	apiKey  string
	http    *http.Client
	retry   retry.Config
}

// NewClient builds a Client against apiBase (trailing slash trimmed),
// authenticating with apiKey via the standard Bearer header.
func NewClient(apiBase, apiKey string) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultCallTimeout},
		retry:   retry.DefaultConfig(),
	}
}

type chatWireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a single rendered system message plus the turn's prior messages
// to /v1/chat/completions. No vendor tool-call fields are ever attached.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := chatWireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	return retry.Do(ctx, c.retry, func() (*ChatResponse, error) {
		respBody, err := c.post(ctx, "/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var wire chatWireResponse
		if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
			return nil, fmt.Errorf("decode chat response: %w", err)
		}

		resp := &ChatResponse{FinishReason: "stop"}
		if len(wire.Choices) > 0 {
			resp.Content = wire.Choices[0].Message.Content
			if wire.Choices[0].FinishReason != "" {
				resp.FinishReason = wire.Choices[0].FinishReason
			}
		}
		if wire.Usage != nil {
			resp.Usage = &Usage{
				PromptTokens:     wire.Usage.PromptTokens,
				CompletionTokens: wire.Usage.CompletionTokens,
				TotalTokens:      wire.Usage.TotalTokens,
			}
		}
		return resp, nil
	})
}

type embedWireRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedWireResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls /v1/embeddings for every input string, returning one vector per
// input in the same order.
func (c *Client) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	body := embedWireRequest{Model: req.Model, Input: req.Inputs}

	return retry.Do(ctx, c.retry, func() (*EmbedResponse, error) {
		respBody, err := c.post(ctx, "/embeddings", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var wire embedWireResponse
		if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
			return nil, fmt.Errorf("decode embed response: %w", err)
		}
		out := &EmbedResponse{Vectors: make([][]float32, len(wire.Data))}
		for i, d := range wire.Data {
			out.Vectors[i] = d.Embedding
		}
		return out, nil
	})
}

type visionWireRequest struct {
	Model    string        `json:"model"`
	Messages []wireContent `json:"messages"`
}

type wireContent struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Vision asks the vision-capable chat endpoint for a textual description of
// an image, given the last few messages of conversational context.
func (c *Client) Vision(ctx context.Context, req VisionRequest) (string, error) {
	var msgs []wireContent
	for _, ctxLine := range req.ContextText {
		msgs = append(msgs, wireContent{Role: "user", Content: ctxLine})
	}
	instructions := req.Instructions
	if instructions == "" {
		instructions = "Describe this image concisely for use as conversational context."
	}
	encoded := dataURL(req.MimeType, req.ImageData)
	msgs = append(msgs, wireContent{
		Role: "user",
		Content: []map[string]any{
			{"type": "text", "text": instructions},
			{"type": "image_url", "image_url": map[string]string{"url": encoded}},
		},
	})

	body := visionWireRequest{Model: req.Model, Messages: msgs}

	respBody, err := retry.Do(ctx, c.retry, func() (io.ReadCloser, error) {
		return c.post(ctx, "/chat/completions", body)
	})
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var wire chatWireResponse
	if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return "", fmt.Errorf("vision response had no choices")
	}
	return wire.Choices[0].Message.Content, nil
}

func dataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			Body:       truncate(string(respBody), 500),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
