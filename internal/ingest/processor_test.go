package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacklau/hnsearch/internal/hn"
	"github.com/jacklau/hnsearch/internal/pubsub"
	"github.com/jacklau/hnsearch/internal/store"
	"github.com/jacklau/hnsearch/internal/vector"
)

// mockEmbedder returns a deterministic vector derived from the input text
// and can be told to fail for specific inputs.
type mockEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil && m.fail[text] {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestProcessor(t *testing.T, cfg Config) (*Processor, *store.DB, *mockEmbedder, *pubsub.Broker[hn.ItemEvent]) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	embedder := &mockEmbedder{}
	broker := pubsub.NewBroker[hn.ItemEvent]()
	proc, err := NewProcessor(db, embedder, broker, cfg, nil)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	t.Cleanup(proc.Close)
	return proc, db, embedder, broker
}

func testStory(id int64, title, body string) *store.Story {
	return &store.Story{
		ID:       id,
		Title:    title,
		Author:   "tester",
		Score:    10,
		Kind:     "story",
		Body:     body,
		PostedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func testComment(id, storyID int64, body string) *store.Comment {
	return &store.Comment{
		ID:       id,
		ParentID: storyID,
		StoryID:  storyID,
		Author:   "tester",
		Body:     body,
		PostedAt: time.Unix(1700000100, 0).UTC(),
	}
}

func TestProcessStoryBatch(t *testing.T) {
	proc, db, embedder, _ := newTestProcessor(t, Config{})

	res := proc.ProcessStoryBatch(context.Background(), []*store.Story{
		testStory(1, "Title only", ""),
		testStory(2, "With body", "some body text"),
	})

	if res.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", res.Inserted)
	}
	if res.Errors != 0 {
		t.Errorf("expected 0 errors, got %d", res.Errors)
	}
	// Story 1 reuses the title vector for the combined slot; story 2 embeds
	// both, so three provider calls in total.
	if res.Embeddings != 3 {
		t.Errorf("expected 3 embeddings, got %d", res.Embeddings)
	}
	if embedder.callCount() != 3 {
		t.Errorf("expected 3 provider calls, got %d", embedder.callCount())
	}

	s1, err := db.GetStory(1)
	if err != nil {
		t.Fatalf("GetStory(1) failed: %v", err)
	}
	if len(s1.TitleVector) == 0 {
		t.Error("expected non-null title vector")
	}
	if string(s1.CombinedVector) != string(s1.TitleVector) {
		t.Error("empty body should reuse the title vector as combined")
	}

	s2, err := db.GetStory(2)
	if err != nil {
		t.Fatalf("GetStory(2) failed: %v", err)
	}
	if string(s2.CombinedVector) == string(s2.TitleVector) {
		t.Error("non-empty body should get its own combined vector")
	}
}

func TestProcessStoryBatchReplayIsSkipped(t *testing.T) {
	proc, db, _, _ := newTestProcessor(t, Config{})
	batch := []*store.Story{testStory(1, "Once", "")}

	proc.ProcessStoryBatch(context.Background(), batch)
	res := proc.ProcessStoryBatch(context.Background(), []*store.Story{testStory(1, "Changed title", "")})

	if res.Inserted != 0 || res.Skipped != 1 {
		t.Errorf("expected replay skipped, got inserted=%d skipped=%d", res.Inserted, res.Skipped)
	}

	s, err := db.GetStory(1)
	if err != nil {
		t.Fatal(err)
	}
	if s.Title != "Once" {
		t.Errorf("replay must not overwrite the original row, got title %q", s.Title)
	}
}

func TestProcessStoryBatchEmbedFailurePersistsNullVector(t *testing.T) {
	proc, db, embedder, _ := newTestProcessor(t, Config{})
	embedder.fail = map[string]bool{"Doomed": true}

	res := proc.ProcessStoryBatch(context.Background(), []*store.Story{
		testStory(1, "Doomed", ""),
		testStory(2, "Fine", ""),
	})

	if res.Errors != 1 {
		t.Errorf("expected 1 error, got %d", res.Errors)
	}
	if res.Inserted != 2 {
		t.Errorf("failed embedding must not drop the record, inserted=%d", res.Inserted)
	}

	s, err := db.GetStory(1)
	if err != nil {
		t.Fatal(err)
	}
	if s.TitleVector != nil {
		t.Error("expected null title vector after embedding failure")
	}

	// The failed record is repairable.
	missing, err := db.ListStoriesMissingVectors(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0].ID != 1 {
		t.Errorf("expected story 1 to need backfill, got %+v", missing)
	}
}

func TestProcessCommentBatch(t *testing.T) {
	proc, db, _, _ := newTestProcessor(t, Config{MaxEmbedChars: 20})

	res := proc.ProcessCommentBatch(context.Background(), []*store.Comment{
		testComment(10, 1, "short and sweet"),
		testComment(11, 1, strings.Repeat("x", 21)), // over the cap
	})

	if res.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", res.Inserted)
	}
	if res.Skipped != 1 {
		t.Errorf("oversized body should be skipped, got skipped=%d", res.Skipped)
	}

	if _, err := db.GetComment(11); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("skipped comment must not be persisted, got %v", err)
	}

	c, err := db.GetComment(10)
	if err != nil {
		t.Fatal(err)
	}
	want := vector.Encode([]float32{float32(len("short and sweet")), 1})
	if string(c.TextVector) != string(want) {
		t.Error("unexpected text vector")
	}
}

func TestProcessCommentBatchEmbedFailure(t *testing.T) {
	proc, db, embedder, _ := newTestProcessor(t, Config{})
	embedder.fail = map[string]bool{"bad input": true}

	res := proc.ProcessCommentBatch(context.Background(), []*store.Comment{
		testComment(10, 1, "bad input"),
	})

	if res.Errors != 1 || res.Inserted != 1 {
		t.Errorf("expected persisted-with-error, got %+v", res)
	}
	c, err := db.GetComment(10)
	if err != nil {
		t.Fatal(err)
	}
	if c.TextVector != nil {
		t.Error("expected null text vector after embedding failure")
	}
}

func TestBatchStatsAppended(t *testing.T) {
	proc, db, _, _ := newTestProcessor(t, Config{})

	proc.ProcessStoryBatch(context.Background(), []*store.Story{testStory(1, "A", "")})
	proc.ProcessCommentBatch(context.Background(), []*store.Comment{testComment(10, 1, "hello")})

	stats, err := db.ListIngestionStats(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected one stat per kind, got %d", len(stats))
	}

	kinds := map[string]store.IngestionStat{}
	for _, st := range stats {
		kinds[st.Kind] = st
	}
	if st, ok := kinds[store.StatKindStory]; !ok || st.BatchSize != 1 || st.EmbeddingsGenerated != 1 {
		t.Errorf("unexpected story stat: %+v", st)
	}
	if st, ok := kinds[store.StatKindComment]; !ok || st.BatchSize != 1 || st.EmbeddingsGenerated != 1 {
		t.Errorf("unexpected comment stat: %+v", st)
	}
}

// waitForStory polls until the story appears or the deadline passes.
func waitForStory(t *testing.T, db *store.DB, id int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := db.GetStory(id); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("story %d never appeared", id)
}

func TestRunFlushesOnBatchSize(t *testing.T) {
	proc, db, _, broker := newTestProcessor(t, Config{BatchSize: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	// Give the subscriber a moment to attach.
	time.Sleep(20 * time.Millisecond)

	for _, s := range []*store.Story{testStory(1, "A", ""), testStory(2, "B", "")} {
		if err := broker.Publish(ctx, hn.ItemEvent{Story: s}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	waitForStory(t, db, 1, 2*time.Second)
	waitForStory(t, db, 2, 2*time.Second)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunFlushesOnInterval(t *testing.T) {
	proc, db, _, broker := newTestProcessor(t, Config{BatchSize: 100, FlushInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proc.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := broker.Publish(ctx, hn.ItemEvent{Story: testStory(1, "Timed", "")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// A single event must not wait for a full batch.
	waitForStory(t, db, 1, 2*time.Second)
}

func TestRunFlushesFinalBatchOnShutdown(t *testing.T) {
	proc, db, _, broker := newTestProcessor(t, Config{BatchSize: 100, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := broker.Publish(ctx, hn.ItemEvent{Story: testStory(1, "Tail", "")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if _, err := db.GetStory(1); err != nil {
		t.Errorf("final partial batch was not flushed: %v", err)
	}
}

func TestBackfillRepairsNullVectors(t *testing.T) {
	proc, db, embedder, _ := newTestProcessor(t, Config{})
	embedder.fail = map[string]bool{"Broken": true, "nope": true}

	proc.ProcessStoryBatch(context.Background(), []*store.Story{
		testStory(1, "Broken", ""),
		testStory(2, "Healthy", ""),
	})
	proc.ProcessCommentBatch(context.Background(), []*store.Comment{
		testComment(10, 1, "nope"),
	})

	// The provider recovers.
	embedder.fail = nil

	backfiller := NewBackfiller(db, embedder, 0, nil)
	res, err := backfiller.Run(context.Background(), 50)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if res.Stories != 1 || res.Comments != 1 || res.Errors != 0 {
		t.Errorf("unexpected backfill result: %+v", res)
	}

	s, err := db.GetStory(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.TitleVector) == 0 || len(s.CombinedVector) == 0 {
		t.Error("expected story vectors after backfill")
	}
	c, err := db.GetComment(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.TextVector) == 0 {
		t.Error("expected comment vector after backfill")
	}

	// Nothing left to repair.
	missing, err := db.ListStoriesMissingVectors(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no stories missing vectors, got %d", len(missing))
	}
}

func TestProcessStoryBatchPartialFailureStats(t *testing.T) {
	proc, db, embedder, _ := newTestProcessor(t, Config{})
	embedder.fail = map[string]bool{"Story 3": true}

	batch := make([]*store.Story, 0, 5)
	for i := int64(1); i <= 5; i++ {
		batch = append(batch, testStory(i, fmt.Sprintf("Story %d", i), ""))
	}
	res := proc.ProcessStoryBatch(context.Background(), batch)

	if res.Inserted != 5 {
		t.Errorf("all items must be persisted, inserted=%d", res.Inserted)
	}
	if res.Errors != 1 || res.Embeddings != 4 {
		t.Errorf("expected 1 error and 4 embeddings, got %d/%d", res.Errors, res.Embeddings)
	}

	stats, err := db.ListIngestionStats(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat row, got %d", len(stats))
	}
	st := stats[0]
	if st.BatchSize != 5 || st.Errors != 1 || st.EmbeddingsGenerated != 4 {
		t.Errorf("unexpected stat row: %+v", st)
	}
}
