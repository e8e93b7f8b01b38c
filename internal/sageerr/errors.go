// Package sageerr defines the error taxonomy shared across Sage's components.
//
// Errors are classified by kind, not by Go type: an error that carries a kind
// wraps one of the sentinels below with fmt.Errorf("%w: ...") and is
// inspected with errors.Is. This mirrors the wrapped-sentinel style the
// surrounding codebase uses for its HTTP/provider errors, generalized to a
// small fixed taxonomy instead of one-off types per call site.
package sageerr

import "errors"

// Kind identifies one of the six error classes a Sage component can raise.
type Kind error

var (
	// Transient covers network, LLM 5xx, and timeout errors. Callers retry
	// with jittered exponential backoff.
	Transient Kind = errors.New("transient")

	// ParseFormat covers an LLM reply that does not match the required
	// typed signature. Callers invoke the correction sub-agent.
	ParseFormat Kind = errors.New("parse_format")

	// ToolError covers a tool that raised or returned failure. Surfaced as
	// a synthetic tool result; the turn continues.
	ToolError Kind = errors.New("tool_error")

	// PolicyDenied covers a disallowed shell pattern or a disallowed
	// sender. Returned as a tool failure, or the event is dropped at the
	// Signal ingress before it ever reaches the Agent.
	PolicyDenied Kind = errors.New("policy_denied")

	// StorageFatal covers a store that stays unreachable after retries.
	// The turn aborts; the user sees a generic "internal error" message;
	// the inbound message remains persisted.
	StorageFatal Kind = errors.New("storage_fatal")

	// ConfigError covers a missing required environment variable or an
	// unparseable config file. The process exits at startup.
	ConfigError Kind = errors.New("config_error")
)

// Is reports whether err is classified under kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
