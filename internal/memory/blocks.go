// Package memory implements Sage's four-tier memory subsystem — core
// Blocks, Recall, Archival, and Summary — plus the ContextAssembler that
// compiles them into the single rendered payload each agent step sends to
// the LLM. The sub-managers are grounded on the teacher's session/store
// split: thin managers that validate in application code and delegate
// persistence to a store.Store interface, mirroring internal/sessions's
// relationship to internal/store in the teacher repo.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// Block edit errors. Wrapped with fmt.Errorf("%w: ...") at the call site so
// callers can still errors.Is against these sentinels.
var (
	ErrBlockNotFound     = errors.New("block: old text not found")
	ErrBlockAmbiguous    = errors.New("block: old text occurs more than once")
	ErrBlockReadOnly     = errors.New("block: read-only")
	ErrBlockCharLimit    = errors.New("block: would exceed char_limit")
	ErrBlockDoesNotExist = errors.New("block: no such label")
)

// DefaultBlockCharLimit is the default char_limit for a newly created Block.
const DefaultBlockCharLimit = 20000

// defaultBlockSpecs describes the Blocks every Agent is seeded with at
// creation time.
var defaultBlockSpecs = []struct {
	Label       string
	Description string
}{
	{Label: "persona", Description: "Sage's own persona: tone, boundaries, and behavioral guidance for this agent."},
	{Label: "human", Description: "Durable facts about the human on the other end of this conversation."},
}

// NewDefaultBlocks builds the empty persona/human Blocks for a brand new
// agent. Called by the Agent Manager at first-contact creation time.
func NewDefaultBlocks(agentID uuid.UUID) []store.Block {
	blocks := make([]store.Block, 0, len(defaultBlockSpecs))
	for _, spec := range defaultBlockSpecs {
		blocks = append(blocks, store.Block{
			ID:          store.NewID(),
			AgentID:     agentID,
			Label:       spec.Label,
			Description: spec.Description,
			Value:       "",
			CharLimit:   DefaultBlockCharLimit,
			ReadOnly:    false,
		})
	}
	return blocks
}

// BlockManager owns the editing primitives over core memory: replace,
// append, and insert, each validating read_only and char_limit before
// writing through to the Store.
type BlockManager struct {
	store store.BlockStore
}

// NewBlockManager constructs a BlockManager over s.
func NewBlockManager(s store.BlockStore) *BlockManager {
	return &BlockManager{store: s}
}

// EnsureDefaults makes sure agentID has at least the persona and human
// blocks, creating any that are missing. Idempotent.
func (m *BlockManager) EnsureDefaults(ctx context.Context, agentID uuid.UUID) error {
	existing, err := m.store.GetBlocks(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, b := range existing {
		have[b.Label] = true
	}
	for _, b := range NewDefaultBlocks(agentID) {
		if have[b.Label] {
			continue
		}
		if err := m.store.CreateBlock(ctx, &b); err != nil {
			return fmt.Errorf("create default block %q: %w", b.Label, err)
		}
	}
	return nil
}

// List returns every Block for agentID, ordered by insertion (as stored).
func (m *BlockManager) List(ctx context.Context, agentID uuid.UUID) ([]store.Block, error) {
	blocks, err := m.store.GetBlocks(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

func (m *BlockManager) get(ctx context.Context, agentID uuid.UUID, label string) (*store.Block, error) {
	b, err := m.store.GetBlock(ctx, agentID, label)
	if err != nil {
		return nil, fmt.Errorf("get block %q: %w", label, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %q", ErrBlockDoesNotExist, label)
	}
	return b, nil
}

// Replace finds the unique exact occurrence of old inside the block's value
// and substitutes newText. Fails with ErrBlockNotFound when old does not
// occur, or ErrBlockAmbiguous when it occurs more than once.
func (m *BlockManager) Replace(ctx context.Context, agentID uuid.UUID, label, old, newText string) (*store.Block, error) {
	b, err := m.get(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if b.ReadOnly {
		return nil, fmt.Errorf("%w: %q", ErrBlockReadOnly, label)
	}
	count := strings.Count(b.Value, old)
	switch count {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrBlockNotFound, old)
	case 1:
		// fall through
	default:
		return nil, fmt.Errorf("%w: %q occurs %d times", ErrBlockAmbiguous, old, count)
	}
	next := strings.Replace(b.Value, old, newText, 1)
	if len(next) > b.CharLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlockCharLimit, len(next), b.CharLimit)
	}
	return m.write(ctx, agentID, label, next)
}

// Append concatenates content onto the block's value. Rejects the edit if
// the resulting length would exceed char_limit.
func (m *BlockManager) Append(ctx context.Context, agentID uuid.UUID, label, content string) (*store.Block, error) {
	b, err := m.get(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if b.ReadOnly {
		return nil, fmt.Errorf("%w: %q", ErrBlockReadOnly, label)
	}
	next := b.Value + content
	if len(next) > b.CharLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlockCharLimit, len(next), b.CharLimit)
	}
	return m.write(ctx, agentID, label, next)
}

// Insert splits the block's value by newline and inserts content at the
// zero-indexed line (or at the end when line == -1), rejoining with
// newlines. Line numbers never appear in the stored value.
func (m *BlockManager) Insert(ctx context.Context, agentID uuid.UUID, label, content string, line int) (*store.Block, error) {
	b, err := m.get(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if b.ReadOnly {
		return nil, fmt.Errorf("%w: %q", ErrBlockReadOnly, label)
	}

	var lines []string
	if b.Value == "" {
		lines = nil
	} else {
		lines = strings.Split(b.Value, "\n")
	}

	if line < 0 || line > len(lines) {
		lines = append(lines, content)
	} else {
		lines = append(lines[:line], append([]string{content}, lines[line:]...)...)
	}
	next := strings.Join(lines, "\n")
	if len(next) > b.CharLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlockCharLimit, len(next), b.CharLimit)
	}
	return m.write(ctx, agentID, label, next)
}

func (m *BlockManager) write(ctx context.Context, agentID uuid.UUID, label, value string) (*store.Block, error) {
	b, err := m.store.UpdateBlockValue(ctx, agentID, label, value)
	if err != nil {
		return nil, fmt.Errorf("update block %q: %w", label, err)
	}
	return b, nil
}
