// Package memstore is an in-process store.Store implementation backed by
// plain Go maps under a single mutex. It exists for tests, where a live
// Postgres instance isn't available; it mirrors
// the pg package's query semantics (ranking, atomicity contracts) closely
// enough that code exercised against it behaves the same way against pg.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sageagent/sage/internal/store"
)

// Store is the in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	agents      map[uuid.UUID]*store.Agent
	contexts    map[string]uuid.UUID
	messages    map[uuid.UUID][]*store.Message
	blocks      map[uuid.UUID][]*store.Block
	passages    map[uuid.UUID][]*store.Passage
	summaries   map[uuid.UUID][]*store.Summary
	preferences map[uuid.UUID]map[string]string
	tasks       map[uuid.UUID]*store.ScheduledTask
	sequences   map[uuid.UUID]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		agents:      make(map[uuid.UUID]*store.Agent),
		contexts:    make(map[string]uuid.UUID),
		messages:    make(map[uuid.UUID][]*store.Message),
		blocks:      make(map[uuid.UUID][]*store.Block),
		passages:    make(map[uuid.UUID][]*store.Passage),
		summaries:   make(map[uuid.UUID][]*store.Summary),
		preferences: make(map[uuid.UUID]map[string]string),
		tasks:       make(map[uuid.UUID]*store.ScheduledTask),
		sequences:   make(map[uuid.UUID]int64),
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// GetOrCreateChatContext implements store.AgentStore.
func (s *Store) GetOrCreateChatContext(ctx context.Context, externalID string, newAgent func() (*store.Agent, []store.Block)) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.contexts[externalID]; ok {
		return id, false, nil
	}

	agent, blocks := newAgent()
	now := time.Now()
	agent.CreatedAt, agent.UpdatedAt = now, now
	s.agents[agent.ID] = agent
	s.contexts[externalID] = agent.ID

	for i := range blocks {
		b := blocks[i]
		b.Version = 1
		b.CreatedAt, b.UpdatedAt = now, now
		s.blocks[agent.ID] = append(s.blocks[agent.ID], &b)
	}
	return agent.ID, true, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID uuid.UUID) (*store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	cp := *a
	cp.MessageIDs = append([]uuid.UUID(nil), a.MessageIDs...)
	return &cp, nil
}

func (s *Store) SetMessageIDs(ctx context.Context, agentID uuid.UUID, messageIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	a.MessageIDs = append([]uuid.UUID(nil), messageIDs...)
	a.UpdatedAt = time.Now()
	return nil
}

func (s *Store) NextSequenceID(ctx context.Context, agentID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.sequences[agentID]
	s.sequences[agentID] = next + 1
	return next, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.messages[m.AgentID] = append(s.messages[m.AgentID], &cp)
	return nil
}

func (s *Store) GetMessagesByIDs(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []store.Message
	for _, m := range s.messages[agentID] {
		if want[m.ID] {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (s *Store) SetEmbedding(ctx context.Context, messageID uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, list := range s.messages {
		for _, m := range list {
			if m.ID == messageID {
				m.Embedding = embedding
				return nil
			}
		}
	}
	return fmt.Errorf("message %s not found", messageID)
}

func (s *Store) MessagesWithoutEmbedding(ctx context.Context, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*store.Message
	for _, list := range s.messages {
		for _, m := range list {
			if m.Embedding == nil {
				all = append(all, m)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.Message, len(all))
	for i, m := range all {
		out[i] = *m
	}
	return out, nil
}

func (s *Store) SearchKeyword(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]store.RecallHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []store.RecallHit
	for _, m := range s.messages[agentID] {
		lc := strings.ToLower(m.Content)
		var matched int
		for _, t := range terms {
			if strings.Contains(lc, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, store.RecallHit{
			MessageID: m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Score:     float64(matched) / float64(len(terms)),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) SearchVector(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, limit int) ([]store.RecallHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []store.RecallHit
	for _, m := range s.messages[agentID] {
		if m.Embedding == nil {
			continue
		}
		hits = append(hits, store.RecallHit{
			MessageID: m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Score:     cosineSimilarity(queryEmbedding, m.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) CountMessages(ctx context.Context, agentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[agentID]), nil
}

func (s *Store) GetBlocks(ctx context.Context, agentID uuid.UUID) ([]store.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Block, 0, len(s.blocks[agentID]))
	for _, b := range s.blocks[agentID] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetBlock(ctx context.Context, agentID uuid.UUID, label string) (*store.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks[agentID] {
		if b.Label == label {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateBlock(ctx context.Context, b *store.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.blocks[b.AgentID] {
		if existing.Label == b.Label {
			return nil
		}
	}
	now := time.Now()
	cp := *b
	cp.Version = 1
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.blocks[b.AgentID] = append(s.blocks[b.AgentID], &cp)
	return nil
}

func (s *Store) UpdateBlockValue(ctx context.Context, agentID uuid.UUID, label string, newValue string) (*store.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks[agentID] {
		if b.Label == label {
			b.Value = newValue
			b.Version++
			b.UpdatedAt = time.Now()
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("block %q not found for agent %s", label, agentID)
}

func (s *Store) InsertPassage(ctx context.Context, p *store.Passage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.passages[p.AgentID] = append(s.passages[p.AgentID], &cp)
	return nil
}

func (s *Store) SearchPassages(ctx context.Context, agentID uuid.UUID, queryEmbedding []float32, topK int, tags []string) ([]store.PassageHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantTags := make(map[string]bool, len(tags))
	for _, t := range tags {
		wantTags[t] = true
	}

	var hits []store.PassageHit
	for _, p := range s.passages[agentID] {
		if len(wantTags) > 0 && !anyTagMatches(p.Tags, wantTags) {
			continue
		}
		sim := cosineSimilarity(queryEmbedding, p.Embedding)
		hits = append(hits, store.PassageHit{Passage: *p, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func anyTagMatches(have []string, want map[string]bool) bool {
	for _, t := range have {
		if want[t] {
			return true
		}
	}
	return false
}

func (s *Store) CountPassages(ctx context.Context, agentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.passages[agentID]), nil
}

func (s *Store) InsertSummary(ctx context.Context, sm *store.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sm
	s.summaries[sm.AgentID] = append(s.summaries[sm.AgentID], &cp)
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, agentID uuid.UUID) (*store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.summaries[agentID]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[0]
	for _, sm := range list[1:] {
		if sm.ToSequenceID > latest.ToSequenceID {
			latest = sm
		}
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) LastBlockModification(ctx context.Context, agentID uuid.UUID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	for _, b := range s.blocks[agentID] {
		if b.UpdatedAt.After(latest) {
			latest = b.UpdatedAt
		}
	}
	return latest, nil
}

func (s *Store) SetPreference(ctx context.Context, agentID uuid.UUID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preferences[agentID] == nil {
		s.preferences[agentID] = make(map[string]string)
	}
	s.preferences[agentID][key] = value
	return nil
}

func (s *Store) GetPreference(ctx context.Context, agentID uuid.UUID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.preferences[agentID][key]
	return v, ok, nil
}

func (s *Store) CreateTask(ctx context.Context, t *store.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []store.ScheduledTask
	for _, t := range s.tasks {
		if t.Status == store.TaskPending && !t.NextRunAt.After(now) {
			t.Status = store.TaskRunning
			claimed = append(claimed, *t)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].NextRunAt.Before(claimed[j].NextRunAt) })
	return claimed, nil
}

func (s *Store) CompleteOneShot(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	now := time.Now()
	t.Status = store.TaskCompleted
	t.LastRunAt = &now
	t.RunCount++
	return nil
}

func (s *Store) RescheduleRecurring(ctx context.Context, taskID uuid.UUID, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	now := time.Now()
	t.Status = store.TaskPending
	t.NextRunAt = nextRunAt
	t.LastRunAt = &now
	t.RunCount++
	t.LastError = ""
	return nil
}

func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, lastErr string, isRecurring bool, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	now := time.Now()
	if isRecurring && nextRunAt != nil {
		t.Status = store.TaskPending
		t.NextRunAt = *nextRunAt
		t.LastRunAt = &now
		t.LastError = lastErr
		return nil
	}
	t.Status = store.TaskFailed
	t.LastRunAt = &now
	t.LastError = lastErr
	return nil
}

func (s *Store) ListTasks(ctx context.Context, agentID uuid.UUID, status string) ([]store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ScheduledTask
	for _, t := range s.tasks {
		if t.AgentID != agentID {
			continue
		}
		if status != "" && string(t.Status) != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (s *Store) CancelTask(ctx context.Context, agentID, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.AgentID != agentID {
		return fmt.Errorf("task %s not found or not cancellable", taskID)
	}
	if t.Status != store.TaskPending && t.Status != store.TaskRunning {
		return fmt.Errorf("task %s not found or not cancellable", taskID)
	}
	t.Status = store.TaskCancelled
	return nil
}

func (s *Store) RecoverStaleRunning(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Status == store.TaskRunning && !t.NextRunAt.After(now) {
			t.Status = store.TaskPending
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
