package tools

// Result is the unified return type from tool execution: the content a
// tool's synthetic message carries back to the LLM, plus presentation
// hints for the Agent step loop.
type Result struct {
	ForLLM  string // content sent to the LLM as the tool-result message
	IsError bool   // true marks this a failed invocation
	Err     error  // internal error, not serialized into the tool-result message
}

// NewResult wraps a successful tool output.
func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// ErrorResult wraps a failed tool invocation; message is shown to the LLM
// verbatim so it can adjust its next call.
func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

// WithError attaches an internal error for logging/tracing without
// changing the text the LLM sees.
func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
