package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// SetPreferenceTool implements set_preference(key, value).
type SetPreferenceTool struct {
	agentID uuid.UUID
	store   store.PreferenceStore
}

// NewSetPreferenceTool constructs a SetPreferenceTool bound to agentID.
func NewSetPreferenceTool(agentID uuid.UUID, s store.PreferenceStore) *SetPreferenceTool {
	return &SetPreferenceTool{agentID: agentID, store: s}
}

func (t *SetPreferenceTool) Name() string { return "set_preference" }
func (t *SetPreferenceTool) Description() string {
	return "Record an opaque user preference as a key/value pair."
}
func (t *SetPreferenceTool) ArgsSchema() string {
	return "key (string, required), value (string, required)"
}

func (t *SetPreferenceTool) Execute(ctx context.Context, args map[string]string) *Result {
	key := args["key"]
	if key == "" {
		return ErrorResult("key is required")
	}
	if err := t.store.SetPreference(ctx, t.agentID, key, args["value"]); err != nil {
		return ErrorResult("set_preference failed").WithError(err)
	}
	return NewResult("preference saved")
}
