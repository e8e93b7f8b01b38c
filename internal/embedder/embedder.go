// Package embedder wraps the MAPLE embeddings endpoint behind the narrow
// memory.Embedder contract, with retry and a best-effort failure mode: a
// failed embed call never blocks message persistence, it just leaves the
// row unembedded for a later backfill sweep to pick up.
package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/retry"
	"github.com/sageagent/sage/internal/store"
)

// Dimension is the fixed embedding vector length MAPLE returns for its
// configured embedding model.
const Dimension = 768

// Client calls providers.Client.Embed with a jittered-backoff retry policy.
type Client struct {
	provider *providers.Client
	model    string
	cfg      retry.Config
}

// New constructs an embedder Client backed by provider, requesting model
// for every call.
func New(provider *providers.Client, model string) *Client {
	return &Client{provider: provider, model: model, cfg: retry.DefaultConfig()}
}

// Embed returns the embedding vector for text. Empty or whitespace-only
// input never reaches the endpoint — it returns a deterministic zero
// vector, since an empty string has no meaningful semantic embedding and
// the provider's behavior on empty input is undefined.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, Dimension), nil
	}

	vec, err := retry.Do(ctx, c.cfg, func() ([]float32, error) {
		resp, err := c.provider.Embed(ctx, providers.EmbedRequest{Model: c.model, Inputs: []string{text}})
		if err != nil {
			return nil, err
		}
		if len(resp.Vectors) == 0 {
			return nil, fmt.Errorf("embed: empty response")
		}
		return resp.Vectors[0], nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vec, nil
}

// Backfill embeds every currently-unembedded Message, up to limit per call,
// and writes the result back. Intended to run on a periodic ticker; safe to
// call concurrently with itself since SetEmbedding is an idempotent
// single-row write and MessagesWithoutEmbedding only returns rows that are
// still nil.
func Backfill(ctx context.Context, s store.MessageStore, embedder *Client, limit int) (int, error) {
	pending, err := s.MessagesWithoutEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list messages without embedding: %w", err)
	}

	var done int
	for _, m := range pending {
		vec, err := embedder.Embed(ctx, m.Content)
		if err != nil {
			// Best-effort: skip this message, it will be retried on the
			// next sweep.
			continue
		}
		if err := s.SetEmbedding(ctx, m.ID, vec); err != nil {
			continue
		}
		done++
	}
	return done, nil
}
