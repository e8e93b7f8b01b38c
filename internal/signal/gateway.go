package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the Gateway's connection lifecycle, per SPEC_FULL.md §4.F.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

const (
	keepaliveInterval = 30 * time.Second
	keepaliveTimeout  = 10 * time.Second
	sessionRotation   = 24 * time.Hour
	backoffBase       = time.Second
	backoffMax        = 60 * time.Second
	sendBufferSize    = 256

	// sendRateLimit and sendBurst throttle the connected path so a
	// reconnect-triggered flush of the whole send buffer can't hammer
	// signal-cli in one burst.
	sendRateLimit = 5 // messages/sec
	sendBurst     = 10
)

// Dialer opens a fresh Transport. The Gateway calls it once per connection
// attempt (including every reconnect), so it can carry whatever TCP/
// subprocess parameters the caller configured.
type Dialer func(ctx context.Context) (Transport, error)

// outboundFrame is one queued write, buffered while StateDisconnected so a
// turn's reply is never silently dropped just because the daemon happens
// to be between reconnects.
type outboundFrame struct {
	method string
	params any
}

// Gateway is Sage's single, long-lived connection to the signal-cli
// JSON-RPC daemon: reconnect-with-backoff, a 30s keepalive probe, daily
// session rotation, and the allowlist enforced at event ingress. Grounded
// in the teacher's zalo personal channel protocol.Listener state machine
// (listener.go / listener_handlers.go), generalized from a WebSocket frame
// to signal-cli's line-delimited JSON-RPC and narrowed to one always-on
// connection rather than per-user sessions.
// Gateway also rate-limits connected-path sends with a token bucket so a
// reconnect-triggered flush of the whole buffer can't overwhelm signal-cli.
type Gateway struct {
	dial    Dialer
	allowed func(sender string) bool

	mu       sync.Mutex
	state    State
	tr       Transport
	lastKA   time.Time
	lastSend time.Time
	sendBuf  []outboundFrame

	events chan InboundEvent

	pending   map[string]chan rpcFrame
	pendingMu sync.Mutex

	limiter *rate.Limiter
}

// NewGateway constructs a Gateway that dials connections via dial and drops
// inbound events from senders for which allowed returns false.
func NewGateway(dial Dialer, allowed func(sender string) bool) *Gateway {
	return &Gateway{
		dial:    dial,
		allowed: allowed,
		state:   StateDisconnected,
		events:  make(chan InboundEvent, 64),
		pending: make(map[string]chan rpcFrame),
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendBurst),
	}
}

// Events returns the channel of allowed InboundEvents. Closed when Run
// returns.
func (g *Gateway) Events() <-chan InboundEvent {
	return g.events
}

// State reports the current connection state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run drives the connect/read/reconnect loop until ctx is cancelled. It
// never returns a terminal error: every connection failure is retried with
// jittered exponential backoff (1s, 2s, 4s, ... capped at 60s).
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.events)

	delay := backoffBase
	connectedAt := time.Time{}

	for {
		if ctx.Err() != nil {
			g.setState(StateDisconnected)
			return
		}

		g.setState(StateConnecting)
		tr, err := g.dial(ctx)
		if err != nil {
			slog.Warn("signal gateway: connect failed", "error", err, "retry_in", delay)
			if !sleepOrDone(ctx, jitter(delay)) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}

		g.mu.Lock()
		g.tr = tr
		g.lastKA = time.Now()
		g.mu.Unlock()
		g.setState(StateConnected)
		connectedAt = time.Now()
		delay = backoffBase
		slog.Info("signal gateway: connected")

		g.flushSendBuffer(ctx)
		g.runConnection(ctx, tr, connectedAt)
		_ = tr.Close()

		g.mu.Lock()
		g.tr = nil
		g.mu.Unlock()

		if ctx.Err() != nil {
			g.setState(StateDisconnected)
			return
		}

		g.setState(StateDisconnected)
		slog.Warn("signal gateway: disconnected, reconnecting", "retry_in", delay)
		if !sleepOrDone(ctx, jitter(delay)) {
			return
		}
		delay = nextBackoff(delay)
	}
}

// runConnection owns one connection's lifetime: it pumps inbound frames,
// answers the keepalive probe, and rotates the session every 24h. It
// returns when the read loop errors, the keepalive goes unanswered, or the
// rotation deadline is reached — any of which sends the caller back to
// Run's reconnect path.
func (g *Gateway) runConnection(ctx context.Context, tr Transport, connectedAt time.Time) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- g.readLoop(cctx, tr)
	}()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	rotate := time.NewTimer(sessionRotation)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				slog.Warn("signal gateway: read loop ended", "error", err)
			}
			return
		case <-keepalive.C:
			if err := g.probeKeepalive(ctx, tr); err != nil {
				slog.Warn("signal gateway: keepalive failed", "error", err)
				return
			}
		case <-rotate.C:
			slog.Info("signal gateway: rotating session", "age", time.Since(connectedAt))
			return
		}
	}
}

// probeKeepalive sends a lightweight RPC (listAccounts) and requires a
// reply within keepaliveTimeout; a timeout or transport error forces a
// reconnect, matching the spec's "absence of keepalive reply" trigger.
func (g *Gateway) probeKeepalive(ctx context.Context, tr Transport) error {
	kctx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
	defer cancel()
	_, err := g.call(kctx, tr, "listAccounts", nil)
	if err == nil {
		g.mu.Lock()
		g.lastKA = time.Now()
		g.mu.Unlock()
	}
	return err
}

// readLoop reads line-delimited JSON-RPC frames off tr until ctx is done or
// a transport error occurs, dispatching notifications to parseReceiveNotification
// and resolving any pending call() waiters.
func (g *Gateway) readLoop(ctx context.Context, tr Transport) error {
	for {
		line, err := tr.ReadLine(ctx)
		if err != nil {
			return err
		}
		var frame rpcFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			slog.Debug("signal gateway: unparseable frame", "error", err)
			continue
		}

		if frame.isNotification() {
			g.dispatchNotification(frame)
			continue
		}

		g.pendingMu.Lock()
		ch, ok := g.pending[frame.ID]
		if ok {
			delete(g.pending, frame.ID)
		}
		g.pendingMu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

func (g *Gateway) dispatchNotification(frame rpcFrame) {
	if frame.Method != "receive" {
		return
	}
	var params receiveParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		slog.Warn("signal gateway: bad receive params", "error", err)
		return
	}
	event, ok := parseReceiveNotification(params)
	if !ok {
		return
	}

	if event.Kind == EventMessage && g.allowed != nil {
		sender := event.Message.SenderUUID
		if sender == "" {
			sender = event.Message.SenderNum
		}
		if !g.allowed(sender) {
			slog.Info("signal gateway: dropped event from disallowed sender", "sender", sender)
			return
		}
	}

	select {
	case g.events <- event:
	default:
		slog.Warn("signal gateway: event channel full, dropping event")
	}
}

// call issues one JSON-RPC request and blocks for its matching response.
func (g *Gateway) call(ctx context.Context, tr Transport, method string, params any) (json.RawMessage, error) {
	id := nextRPCID()
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("signal gateway: marshal request: %w", err)
	}

	ch := make(chan rpcFrame, 1)
	g.pendingMu.Lock()
	g.pending[id] = ch
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, id)
		g.pendingMu.Unlock()
	}()

	if err := tr.WriteLine(ctx, line); err != nil {
		return nil, fmt.Errorf("signal gateway: write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-ch:
		if err := frame.Error.asError(); err != nil {
			return nil, err
		}
		return frame.Result, nil
	}
}

// Send delivers text to recipient (a Signal UUID); group sends go through
// SendGroup. When disconnected, the send is queued in a bounded
// drop-oldest buffer and flushed on the next successful connect.
func (g *Gateway) Send(ctx context.Context, recipient, text string) error {
	return g.sendOrQueue(ctx, "send", sendParams{Recipient: []string{recipient}, Message: text})
}

// SendGroup delivers text to a group conversation.
func (g *Gateway) SendGroup(ctx context.Context, groupID, text string) error {
	return g.sendOrQueue(ctx, "send", sendParams{GroupID: groupID, Message: text})
}

// SendQuoted delivers text as a reply quoting an earlier message by the
// quoted author at quoteTimestamp.
func (g *Gateway) SendQuoted(ctx context.Context, recipient, text string, quoteTimestamp int64, quoteAuthor string) error {
	return g.sendOrQueue(ctx, "send", sendParams{
		Recipient: []string{recipient}, Message: text,
		QuoteTimestamp: quoteTimestamp, QuoteAuthor: quoteAuthor,
	})
}

// SendTyping starts (or, if stop, stops) the typing indicator for recipient.
func (g *Gateway) SendTyping(ctx context.Context, recipient string, stop bool) error {
	return g.sendOrQueue(ctx, "sendTyping", sendTypingParams{Recipient: []string{recipient}, Stop: stop})
}

// SendReadReceipt acknowledges targetTimestamp as read to recipient.
func (g *Gateway) SendReadReceipt(ctx context.Context, recipient string, targetTimestamp int64) error {
	return g.sendOrQueue(ctx, "sendReceipt", sendReceiptParams{
		Recipient: recipient, TargetTimestamp: targetTimestamp, Type: "read",
	})
}

func (g *Gateway) sendOrQueue(ctx context.Context, method string, params any) error {
	g.mu.Lock()
	tr := g.tr
	state := g.state
	g.mu.Unlock()

	if state != StateConnected || tr == nil {
		g.enqueue(outboundFrame{method: method, params: params})
		return nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.enqueue(outboundFrame{method: method, params: params})
		return err
	}

	_, err := g.call(ctx, tr, method, params)
	if err != nil {
		g.enqueue(outboundFrame{method: method, params: params})
	}
	return err
}

// enqueue appends to the bounded send buffer, dropping the oldest queued
// frame on overflow (SPEC_FULL.md §4.F: "bounded buffer, drop-oldest").
func (g *Gateway) enqueue(f outboundFrame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sendBuf) >= sendBufferSize {
		g.sendBuf = g.sendBuf[1:]
	}
	g.sendBuf = append(g.sendBuf, f)
}

func (g *Gateway) flushSendBuffer(ctx context.Context) {
	g.mu.Lock()
	buf := g.sendBuf
	g.sendBuf = nil
	tr := g.tr
	g.mu.Unlock()

	for _, f := range buf {
		if tr == nil {
			g.enqueue(f)
			continue
		}
		if err := g.limiter.Wait(ctx); err != nil {
			g.enqueue(f)
			continue
		}
		if _, err := g.call(ctx, tr, f.method, f.params); err != nil {
			slog.Warn("signal gateway: flush send failed, re-queuing", "method", f.method, "error", err)
			g.enqueue(f)
		}
	}
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// jitter adds up to 50% random slack on top of d, matching the teacher's
// listener retry schedule's intent without reusing its fixed per-code table.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
