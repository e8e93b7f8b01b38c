// Package supervisor is Sage's outermost loop (SPEC_FULL.md §4.I): it
// drains InboundEvents from the Signal Gateway, dispatches allowed user
// messages to the Agent Manager one task per message, drives the
// Scheduler's tick, runs the embedding backfill sweep, and hosts the
// minimal health endpoint. Owns graceful startup/shutdown over a single
// Signal transport.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sageagent/sage/internal/agent"
	"github.com/sageagent/sage/internal/config"
	"github.com/sageagent/sage/internal/embedder"
	"github.com/sageagent/sage/internal/scheduler"
	"github.com/sageagent/sage/internal/sessionkey"
	"github.com/sageagent/sage/internal/signal"
	"github.com/sageagent/sage/internal/store"
)

// backfillInterval is how often the background embedding sweep runs
// (SPEC_FULL.md §9, "Embedding backfill").
const backfillInterval = 30 * time.Second

// backfillBatchSize bounds how many null-embedding messages one sweep pass
// fills, so a cold start with a large backlog doesn't monopolize the
// embedder's connection pool.
const backfillBatchSize = 50

// Supervisor owns every long-running task Sage spawns: the Signal inbound
// reader, the scheduler tick, the health endpoint, the backfill sweep, and
// one on-demand task per inbound user message.
type Supervisor struct {
	cfg     *config.Config
	gateway *signal.Gateway
	manager *agent.Manager
	sched   *scheduler.Scheduler
	store   store.MessageStore
	emb     *embedder.Client
}

// New wires a Supervisor over its already-constructed collaborators. cfg's
// Signal.Allowed method has already been bound into gateway's allowlist
// predicate by the caller (see cmd/root.go).
func New(cfg *config.Config, gw *signal.Gateway, mgr *agent.Manager, sched *scheduler.Scheduler, st store.MessageStore, emb *embedder.Client) *Supervisor {
	return &Supervisor{cfg: cfg, gateway: gw, manager: mgr, sched: sched, store: st, emb: emb}
}

// Run blocks until ctx is cancelled, having started every background task.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.sched.Recover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.gateway.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sched.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runBackfillSweep(ctx)
	}()

	healthSrv := newHealthServer(s.cfg.Health.Port)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthSrv.Run(ctx); err != nil {
			slog.Error("supervisor: health server error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drainEvents(ctx)
	}()

	wg.Wait()
	return nil
}

// drainEvents reads InboundEvents off the Gateway and spawns one task per
// allowed user Message; receipts/typing/sync events are observed but
// otherwise require no action from the core (SPEC_FULL.md §4.I).
func (s *Supervisor) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.gateway.Events():
			if !ok {
				return
			}
			if ev.Kind != signal.EventMessage {
				continue
			}
			msg := ev.Message
			go s.handleInboundMessage(ctx, msg)
		}
	}
}

// handleInboundMessage resolves msg's recipient/group id to its Agent,
// signals typing, runs the step loop, and delivers every outbound message
// chunk back through Signal in order.
func (s *Supervisor) handleInboundMessage(ctx context.Context, msg *signal.MessageEvent) {
	externalID := msg.GroupID
	peerKind := sessionkey.PeerGroup
	recipient := msg.GroupID
	if externalID == "" {
		externalID = msg.SenderUUID
		peerKind = sessionkey.PeerDirect
		recipient = msg.SenderUUID
	}

	mediaPaths := s.resolveAttachmentPaths(msg.Attachments)

	_ = s.gateway.SendTyping(ctx, recipient, false)
	defer func() { _ = s.gateway.SendTyping(ctx, recipient, true) }()

	result, err := s.manager.HandleMessage(ctx, externalID, msg.SenderUUID, peerKind, recipient, msg.Text, mediaPaths)
	if err != nil {
		slog.Error("supervisor: agent turn failed", "external_id", externalID, "error", err)
		_ = s.gateway.Send(ctx, recipient, "Sorry, something went wrong handling your message.")
		return
	}

	for _, text := range result.Messages {
		if peerKind == sessionkey.PeerGroup {
			if sendErr := s.gateway.SendGroup(ctx, recipient, text); sendErr != nil {
				slog.Error("supervisor: send group reply failed", "group", recipient, "error", sendErr)
			}
			continue
		}
		if sendErr := s.gateway.Send(ctx, recipient, text); sendErr != nil {
			slog.Error("supervisor: send reply failed", "recipient", recipient, "error", sendErr)
		}
	}
}

// resolveAttachmentPaths maps inbound attachment ids to their local path
// under signal-cli's attachment directory convention
// ($XDG_DATA_HOME/signal-cli/attachments/<id>, falling back to
// ~/.local/share), per the contract documented on signal.Attachment.
func (s *Supervisor) resolveAttachmentPaths(attachments []signal.Attachment) []string {
	if len(attachments) == 0 {
		return nil
	}
	base := attachmentsDir()
	paths := make([]string, 0, len(attachments))
	for _, a := range attachments {
		p := filepath.Join(base, a.ID)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		} else {
			slog.Warn("supervisor: attachment file not found", "id", a.ID, "path", p)
		}
	}
	return paths
}

func attachmentsDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "signal-cli", "attachments")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "signal-cli", "attachments")
}

// runBackfillSweep periodically fills embeddings for Messages persisted
// without one, per SPEC_FULL.md §4.B / §9 — idempotent and safe to run
// repeatedly, so a missed tick or a duplicate run under concurrent
// replicas never corrupts state.
func (s *Supervisor) runBackfillSweep(ctx context.Context) {
	ticker := time.NewTicker(backfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := embedder.Backfill(ctx, s.store, s.emb, backfillBatchSize)
			if err != nil {
				slog.Warn("supervisor: embedding backfill sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("supervisor: embedding backfill swept messages", "count", n)
			}
		}
	}
}
