package signal

import (
	"encoding/json"
	"testing"
)

func decodeReceiveParams(t *testing.T, raw string) receiveParams {
	t.Helper()
	var p receiveParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return p
}

func TestParseReceiveNotificationDirectMessage(t *testing.T) {
	p := decodeReceiveParams(t, `{
		"envelope": {
			"sourceUuid": "abc-123",
			"sourceNumber": "+15551234567",
			"timestamp": 1700000000000,
			"dataMessage": {"message": "hello there"}
		}
	}`)

	ev, ok := parseReceiveNotification(p)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Kind != EventMessage {
		t.Fatalf("kind = %v, want EventMessage", ev.Kind)
	}
	if ev.Message.Text != "hello there" || ev.Message.SenderUUID != "abc-123" {
		t.Fatalf("message = %#v", ev.Message)
	}
	if ev.Message.IsGroup() {
		t.Fatal("direct message should not report IsGroup()")
	}
}

func TestParseReceiveNotificationGroupMessage(t *testing.T) {
	p := decodeReceiveParams(t, `{
		"envelope": {
			"sourceUuid": "abc-123",
			"dataMessage": {"message": "hi group", "groupInfo": {"groupId": "g1"}}
		}
	}`)

	ev, ok := parseReceiveNotification(p)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !ev.Message.IsGroup() || ev.Message.GroupID != "g1" {
		t.Fatalf("message = %#v", ev.Message)
	}
}

func TestParseReceiveNotificationTyping(t *testing.T) {
	p := decodeReceiveParams(t, `{
		"envelope": {"sourceUuid": "abc-123", "typingMessage": {"action": "STARTED"}}
	}`)

	ev, ok := parseReceiveNotification(p)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Kind != EventTyping || !ev.Typing.Started {
		t.Fatalf("event = %#v", ev)
	}
}

func TestParseReceiveNotificationReceipt(t *testing.T) {
	p := decodeReceiveParams(t, `{
		"envelope": {"sourceUuid": "abc-123", "receiptMessage": {"isDelivery": true, "timestamps": [1,2,3]}}
	}`)

	ev, ok := parseReceiveNotification(p)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Kind != EventReceipt || !ev.Receipt.IsDelivery || len(ev.Receipt.Timestamps) != 3 {
		t.Fatalf("event = %#v", ev)
	}
}

func TestParseReceiveNotificationUnrecognized(t *testing.T) {
	p := decodeReceiveParams(t, `{"envelope": {"sourceUuid": "abc-123"}}`)
	if _, ok := parseReceiveNotification(p); ok {
		t.Fatal("expected ok=false for an envelope with no recognized sub-message")
	}
}

func TestRPCErrorAsError(t *testing.T) {
	var e *rpcError
	if err := e.asError(); err != nil {
		t.Fatalf("nil *rpcError should produce a nil error, got %v", err)
	}

	e = &rpcError{Code: 42, Message: "boom"}
	if err := e.asError(); err == nil {
		t.Fatal("expected a non-nil error")
	}
}

func TestRPCFrameIsNotification(t *testing.T) {
	f := rpcFrame{Method: "receive"}
	if !f.isNotification() {
		t.Fatal("a frame with Method set should be a notification")
	}
	f = rpcFrame{ID: "sage-1", Result: json.RawMessage(`{}`)}
	if f.isNotification() {
		t.Fatal("a frame with only ID/Result should not be a notification")
	}
}
