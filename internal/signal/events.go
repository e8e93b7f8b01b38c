package signal

import "time"

// InboundEvent is one parsed notification off the wire. Exactly one of the
// concrete event types below is carried per value; Kind says which.
type InboundEvent struct {
	Kind    EventKind
	Message *MessageEvent
	Receipt *ReceiptEvent
	Typing  *TypingEvent
	Sync    *SyncEvent
}

// EventKind discriminates InboundEvent's payload.
type EventKind int

const (
	EventMessage EventKind = iota
	EventReceipt
	EventTyping
	EventSync
)

// Attachment is one inbound media attachment reference. The gateway does
// not fetch attachment bytes itself — MediaPaths passed to the Agent
// Runtime are resolved by the Supervisor via signal-cli's attachment
// directory convention, keyed by ID.
type Attachment struct {
	ID          string
	ContentType string
	Filename    string
}

// MessageEvent is an inbound text message, direct or group.
type MessageEvent struct {
	SenderUUID  string
	SenderNum   string
	GroupID     string // empty for a direct message
	Text        string
	Attachments []Attachment
	Timestamp   time.Time
}

// IsGroup reports whether this message arrived in a group conversation.
func (m *MessageEvent) IsGroup() bool {
	return m.GroupID != ""
}

// ReceiptEvent is a delivery or read receipt for a previously sent message.
type ReceiptEvent struct {
	SenderUUID string
	IsDelivery bool
	IsRead     bool
	Timestamps []int64
	When       time.Time
}

// TypingEvent reports a peer's typing indicator state.
type TypingEvent struct {
	SenderUUID string
	Started    bool
}

// SyncEvent reports a message the linked primary device sent itself
// (multi-device sync), surfaced so the gateway doesn't misread our own
// outbound traffic as silence from the peer.
type SyncEvent struct {
	Timestamp time.Time
}

// parseReceiveNotification converts a raw `receive` frame into an
// InboundEvent, or returns ok=false for an envelope shape this gateway
// doesn't model (e.g. a plain delivery ack with no sub-message).
func parseReceiveNotification(p receiveParams) (InboundEvent, bool) {
	env := p.Envelope
	ts := time.UnixMilli(env.Timestamp)

	switch {
	case env.DataMessage != nil:
		var groupID string
		if env.DataMessage.GroupInfo != nil {
			groupID = env.DataMessage.GroupInfo.GroupID
		}
		atts := make([]Attachment, 0, len(env.DataMessage.Attachments))
		for _, a := range env.DataMessage.Attachments {
			atts = append(atts, Attachment{ID: a.ID, ContentType: a.ContentType, Filename: a.Filename})
		}
		return InboundEvent{
			Kind: EventMessage,
			Message: &MessageEvent{
				SenderUUID:  env.SourceUUID,
				SenderNum:   env.SourceNumber,
				GroupID:     groupID,
				Text:        env.DataMessage.Message,
				Attachments: atts,
				Timestamp:   ts,
			},
		}, true

	case env.TypingMessage != nil:
		return InboundEvent{
			Kind: EventTyping,
			Typing: &TypingEvent{
				SenderUUID: env.SourceUUID,
				Started:    env.TypingMessage.Action == "STARTED",
			},
		}, true

	case env.ReceiptMessage != nil:
		return InboundEvent{
			Kind: EventReceipt,
			Receipt: &ReceiptEvent{
				SenderUUID: env.SourceUUID,
				IsDelivery: env.ReceiptMessage.IsDelivery,
				IsRead:     env.ReceiptMessage.IsRead,
				Timestamps: env.ReceiptMessage.Timestamps,
				When:       time.UnixMilli(env.ReceiptMessage.When),
			},
		}, true

	case env.SyncMessage != nil && env.SyncMessage.SentMessage != nil:
		return InboundEvent{
			Kind: EventSync,
			Sync: &SyncEvent{Timestamp: time.UnixMilli(env.SyncMessage.SentMessage.Timestamp)},
		}, true

	default:
		return InboundEvent{}, false
	}
}
