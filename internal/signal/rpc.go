package signal

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// rpcRequest is a JSON-RPC 2.0 request frame, the shape signal-cli's
// --json-rpc mode expects for send/sendTyping/sendReceipt calls.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcFrame is the generic shape of anything signal-cli writes back: either
// a notification (has Method, no ID) or a response to a prior request (has
// ID, no Method).
type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) asError() error {
	if e == nil {
		return nil
	}
	return fmt.Errorf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

// isNotification reports whether f is an unsolicited server push (a
// `receive` event) rather than a reply to one of our requests.
func (f *rpcFrame) isNotification() bool {
	return f.Method != ""
}

var rpcIDCounter atomic.Uint64

func nextRPCID() string {
	return fmt.Sprintf("sage-%d", rpcIDCounter.Add(1))
}

// sendParams is the params shape for the `send` method.
type sendParams struct {
	Recipient      []string `json:"recipient,omitempty"`
	GroupID        string   `json:"groupId,omitempty"`
	Message        string   `json:"message"`
	QuoteTimestamp int64    `json:"quoteTimestamp,omitempty"`
	QuoteAuthor    string   `json:"quoteAuthor,omitempty"`
}

// sendTypingParams is the params shape for the `sendTyping` method.
type sendTypingParams struct {
	Recipient []string `json:"recipient,omitempty"`
	GroupID   string   `json:"groupId,omitempty"`
	Stop      bool     `json:"stop,omitempty"`
}

// sendReceiptParams is the params shape for the `sendReceipt` method.
type sendReceiptParams struct {
	Recipient       string `json:"recipient"`
	TargetTimestamp int64  `json:"targetTimestamp"`
	Type            string `json:"type"`
}

// receiveParams is the shape of a `receive` notification's params, trimmed
// to the fields Sage actually consumes.
type receiveParams struct {
	Envelope struct {
		Source       string `json:"source"`
		SourceUUID   string `json:"sourceUuid"`
		SourceNumber string `json:"sourceNumber"`
		Timestamp    int64  `json:"timestamp"`
		DataMessage  *struct {
			Message   string `json:"message"`
			GroupInfo *struct {
				GroupID string `json:"groupId"`
			} `json:"groupInfo"`
			Attachments []struct {
				ID          string `json:"id"`
				ContentType string `json:"contentType"`
				Filename    string `json:"filename"`
			} `json:"attachments"`
		} `json:"dataMessage"`
		TypingMessage *struct {
			Action string `json:"action"`
		} `json:"typingMessage"`
		ReceiptMessage *struct {
			When       int64   `json:"when"`
			IsDelivery bool    `json:"isDelivery"`
			IsRead     bool    `json:"isRead"`
			Timestamps []int64 `json:"timestamps"`
		} `json:"receiptMessage"`
		SyncMessage *struct {
			SentMessage *struct {
				Timestamp int64 `json:"timestamp"`
			} `json:"sentMessage"`
		} `json:"syncMessage"`
	} `json:"envelope"`
}
