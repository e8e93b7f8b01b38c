package tools

import "context"

// DoneTool is the sentinel the model emits to signal that no further work
// remains this turn. The Agent step loop recognizes a call to "done" by
// name and terminates the loop rather than actually invoking Execute; this
// implementation exists so the tool still has an entry in the rendered
// <tools> block and a harmless Execute for the rare case the loop dispatches
// it like any other call.
type DoneTool struct{}

// NewDoneTool constructs the sentinel tool.
func NewDoneTool() *DoneTool { return &DoneTool{} }

func (t *DoneTool) Name() string { return "done" }
func (t *DoneTool) Description() string {
	return "Signal that no further tool calls are needed this turn."
}
func (t *DoneTool) ArgsSchema() string { return "(no arguments)" }

func (t *DoneTool) Execute(ctx context.Context, args map[string]string) *Result {
	return NewResult("done")
}
