package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
	"github.com/sageagent/sage/internal/store/memstore"
)

func newTestAgent(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	agentID := store.NewID()
	blocks := NewDefaultBlocks(agentID)
	_, _, err := s.GetOrCreateChatContext(context.Background(), agentID.String(), func() (*store.Agent, []store.Block) {
		return &store.Agent{
			ID:                  agentID,
			Name:                "test",
			SystemPrompt:        "you are a test agent",
			MaxContextTokens:    8000,
			CompactionThreshold: 0.8,
			Model:               "test-model",
		}, blocks
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agentID
}

func TestBlockManagerAppendReplaceInsert(t *testing.T) {
	s := memstore.New()
	agentID := newTestAgent(t, s)
	mgr := NewBlockManager(s)
	ctx := context.Background()

	b, err := mgr.Append(ctx, agentID, "human", "likes coffee")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if b.Value != "likes coffee" {
		t.Fatalf("value = %q, want %q", b.Value, "likes coffee")
	}
	if b.Version != 2 {
		t.Fatalf("version = %d, want 2", b.Version)
	}

	b, err = mgr.Append(ctx, agentID, "human", "\nworks remote")
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if b.Value != "likes coffee\nworks remote" {
		t.Fatalf("value = %q", b.Value)
	}

	b, err = mgr.Replace(ctx, agentID, "human", "likes coffee", "likes tea")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if b.Value != "likes tea\nworks remote" {
		t.Fatalf("value after replace = %q", b.Value)
	}

	b, err = mgr.Insert(ctx, agentID, "human", "lives in Austin", 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if b.Value != "likes tea\nlives in Austin\nworks remote" {
		t.Fatalf("value after insert = %q", b.Value)
	}
}

func TestBlockManagerReplaceErrors(t *testing.T) {
	s := memstore.New()
	agentID := newTestAgent(t, s)
	mgr := NewBlockManager(s)
	ctx := context.Background()

	if _, err := mgr.Append(ctx, agentID, "human", "coffee coffee"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := mgr.Replace(ctx, agentID, "human", "tea", "water"); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}

	if _, err := mgr.Replace(ctx, agentID, "human", "coffee", "tea"); !errors.Is(err, ErrBlockAmbiguous) {
		t.Fatalf("expected ErrBlockAmbiguous, got %v", err)
	}

	if _, err := mgr.Append(ctx, agentID, "does-not-exist", "x"); !errors.Is(err, ErrBlockDoesNotExist) {
		t.Fatalf("expected ErrBlockDoesNotExist, got %v", err)
	}
}

func TestBlockManagerCharLimit(t *testing.T) {
	s := memstore.New()
	agentID := store.NewID()
	block := store.Block{
		ID:        store.NewID(),
		AgentID:   agentID,
		Label:     "tiny",
		CharLimit: 5,
	}
	if _, _, err := s.GetOrCreateChatContext(context.Background(), agentID.String(), func() (*store.Agent, []store.Block) {
		return &store.Agent{ID: agentID, Name: "t", SystemPrompt: "p", Model: "m"}, []store.Block{block}
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mgr := NewBlockManager(s)
	ctx := context.Background()
	if _, err := mgr.Append(ctx, agentID, "tiny", "toolong"); !errors.Is(err, ErrBlockCharLimit) {
		t.Fatalf("expected ErrBlockCharLimit, got %v", err)
	}
}

func TestBlockManagerReadOnly(t *testing.T) {
	s := memstore.New()
	agentID := store.NewID()
	block := store.Block{
		ID:       store.NewID(),
		AgentID:  agentID,
		Label:    "locked",
		ReadOnly: true,
	}
	if _, _, err := s.GetOrCreateChatContext(context.Background(), agentID.String(), func() (*store.Agent, []store.Block) {
		return &store.Agent{ID: agentID, Name: "t", SystemPrompt: "p", Model: "m"}, []store.Block{block}
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mgr := NewBlockManager(s)
	ctx := context.Background()
	if _, err := mgr.Append(ctx, agentID, "locked", "x"); !errors.Is(err, ErrBlockReadOnly) {
		t.Fatalf("expected ErrBlockReadOnly, got %v", err)
	}
}

func TestEnsureDefaultsIdempotent(t *testing.T) {
	s := memstore.New()
	agentID := newTestAgent(t, s)
	mgr := NewBlockManager(s)
	ctx := context.Background()

	if err := mgr.EnsureDefaults(ctx, agentID); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	blocks, err := mgr.List(ctx, agentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 default blocks, got %d", len(blocks))
	}
}
