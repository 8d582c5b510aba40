package service

import (
	"context"
	"sync"
	"time"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/models"
)

type fakeClassifier struct {
	mu         sync.Mutex
	pred       ai.Prediction
	err        error
	block      bool
	scores     []ai.SimilarityScore
	simErr     error
	candidates []ai.Candidate
	simCalls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, _ string) (ai.Prediction, error) {
	if f.block {
		<-ctx.Done()
		return ai.Prediction{}, ctx.Err()
	}
	return f.pred, f.err
}

func (f *fakeClassifier) Similarity(_ context.Context, _ string, candidates []ai.Candidate) ([]ai.SimilarityScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	f.candidates = candidates
	return f.scores, f.simErr
}

type fakeKB struct {
	mu         sync.Mutex
	suggestion ai.Suggestion
	err        error
	added      []models.KnowledgeEntry
}

func (f *fakeKB) Suggest(context.Context, string, models.Category, models.Priority) (ai.Suggestion, error) {
	return f.suggestion, f.err
}

func (f *fakeKB) Add(_ context.Context, e models.KnowledgeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, e)
	return nil
}

func (f *fakeKB) entries() []models.KnowledgeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.KnowledgeEntry(nil), f.added...)
}

type published struct {
	room  string
	event string
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []published
}

func (r *recordingBroadcaster) Publish(_ context.Context, room, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, published{room: room, event: event})
	return nil
}

func (r *recordingBroadcaster) has(room, event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.sent {
		if p.room == room && p.event == event {
			return true
		}
	}
	return false
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func ptr[T any](v T) *T { return &v }
