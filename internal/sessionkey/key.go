// Package sessionkey builds the canonical per-tenant lock/session key used to
// serialize turns for one agent. Signal has no distinct "channel" axis like
// the multi-channel gateway this is adapted from, so the key collapses to
// one fixed channel segment ("signal") plus the direct/group peer kind.
package sessionkey

import "fmt"

// PeerKind distinguishes a Signal direct message from a group conversation.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// Build returns the canonical session key for a live Signal conversation:
//
//	agent:{agentID}:signal:direct:{peerID}
//	agent:{agentID}:signal:group:{groupID}
func Build(agentID string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("agent:%s:signal:%s:%s", agentID, kind, peerID)
}

// BuildCron returns the session key for a scheduler-initiated turn:
//
//	agent:{agentID}:cron:{taskID}:run:{runID}
func BuildCron(agentID, taskID, runID string) string {
	return fmt.Sprintf("agent:%s:cron:%s:run:%s", agentID, taskID, runID)
}
