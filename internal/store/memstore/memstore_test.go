package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

func seedAgent(t *testing.T, s *Store) store.Agent {
	t.Helper()
	agentID := store.NewID()
	agent := store.Agent{
		ID:                  agentID,
		Name:                "test",
		SystemPrompt:        "p",
		MaxContextTokens:    8000,
		CompactionThreshold: 0.8,
		Model:               "m",
	}
	id, created, err := s.GetOrCreateChatContext(context.Background(), "ext-1", func() (*store.Agent, []store.Block) {
		return &agent, nil
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	if !created {
		t.Fatal("expected a fresh chat context to be created")
	}
	if id != agentID {
		t.Fatalf("id = %v, want %v", id, agentID)
	}
	return agent
}

func TestGetOrCreateChatContextIsIdempotent(t *testing.T) {
	s := New()
	first := seedAgent(t, s)

	id, created, err := s.GetOrCreateChatContext(context.Background(), "ext-1", func() (*store.Agent, []store.Block) {
		t.Fatal("newAgent should not be called for an existing external id")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if created {
		t.Fatal("expected created=false on the second call")
	}
	if id != first.ID {
		t.Fatalf("id = %v, want %v", id, first.ID)
	}
}

func TestMessageSequenceAndRetrieval(t *testing.T) {
	s := New()
	agent := seedAgent(t, s)
	ctx := context.Background()

	var inserted []store.Message
	for i := 0; i < 3; i++ {
		seq, err := s.NextSequenceID(ctx, agent.ID)
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("sequence = %d, want %d", seq, i)
		}
		m := store.Message{
			ID:         store.NewID(),
			AgentID:    agent.ID,
			Role:       store.RoleUser,
			Content:    "message",
			SequenceID: seq,
			CreatedAt:  time.Now(),
		}
		if err := s.InsertMessage(ctx, &m); err != nil {
			t.Fatalf("insert message: %v", err)
		}
		inserted = append(inserted, m)
	}

	count, err := s.CountMessages(ctx, agent.ID)
	if err != nil || count != 3 {
		t.Fatalf("count = %d, err = %v", count, err)
	}

	fetched, err := s.GetMessagesByIDs(ctx, agent.ID, []uuid.UUID{inserted[0].ID, inserted[2].ID})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(fetched) != 2 || fetched[0].ID != inserted[0].ID || fetched[1].ID != inserted[2].ID {
		t.Fatalf("fetched = %#v", fetched)
	}
}

func TestSearchKeywordAndVector(t *testing.T) {
	s := New()
	agent := seedAgent(t, s)
	ctx := context.Background()

	m1 := store.Message{ID: store.NewID(), AgentID: agent.ID, Role: store.RoleUser, Content: "the weather in Austin is sunny", SequenceID: 0, CreatedAt: time.Now(), Embedding: []float32{1, 0, 0}}
	m2 := store.Message{ID: store.NewID(), AgentID: agent.ID, Role: store.RoleAssistant, Content: "I enjoy reading books", SequenceID: 1, CreatedAt: time.Now(), Embedding: []float32{0, 1, 0}}
	for _, m := range []store.Message{m1, m2} {
		m := m
		if err := s.InsertMessage(ctx, &m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	hits, err := s.SearchKeyword(ctx, agent.ID, "weather austin", 10)
	if err != nil {
		t.Fatalf("search keyword: %v", err)
	}
	if len(hits) != 1 || hits[0].MessageID != m1.ID {
		t.Fatalf("hits = %#v", hits)
	}

	vhits, err := s.SearchVector(ctx, agent.ID, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("search vector: %v", err)
	}
	if len(vhits) != 2 || vhits[0].MessageID != m1.ID {
		t.Fatalf("vhits = %#v", vhits)
	}
}

func TestTaskClaimAndLifecycle(t *testing.T) {
	s := New()
	agent := seedAgent(t, s)
	ctx := context.Background()

	now := time.Now()
	due := store.ScheduledTask{
		ID:        store.NewID(),
		AgentID:   agent.ID,
		TaskType:  store.TaskMessage,
		NextRunAt: now.Add(-time.Minute),
		Status:    store.TaskPending,
		CreatedAt: now,
	}
	future := store.ScheduledTask{
		ID:        store.NewID(),
		AgentID:   agent.ID,
		TaskType:  store.TaskMessage,
		NextRunAt: now.Add(time.Hour),
		Status:    store.TaskPending,
		CreatedAt: now,
	}
	if err := s.CreateTask(ctx, &due); err != nil {
		t.Fatalf("create due: %v", err)
	}
	if err := s.CreateTask(ctx, &future); err != nil {
		t.Fatalf("create future: %v", err)
	}

	claimed, err := s.ClaimDueTasks(ctx, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("claimed = %#v", claimed)
	}

	if err := s.CompleteOneShot(ctx, due.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	tasks, err := s.ListTasks(ctx, agent.ID, string(store.TaskCompleted))
	if err != nil || len(tasks) != 1 {
		t.Fatalf("tasks = %#v, err = %v", tasks, err)
	}

	if err := s.CancelTask(ctx, agent.ID, future.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, err := s.ListTasks(ctx, agent.ID, string(store.TaskCancelled))
	if err != nil || len(cancelled) != 1 {
		t.Fatalf("cancelled = %#v, err = %v", cancelled, err)
	}
}

func TestPreferences(t *testing.T) {
	s := New()
	agent := seedAgent(t, s)
	ctx := context.Background()

	if _, ok, err := s.GetPreference(ctx, agent.ID, "tz"); err != nil || ok {
		t.Fatalf("expected no preference set, ok=%v err=%v", ok, err)
	}
	if err := s.SetPreference(ctx, agent.ID, "tz", "America/Chicago"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.GetPreference(ctx, agent.ID, "tz")
	if err != nil || !ok || v != "America/Chicago" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
}
