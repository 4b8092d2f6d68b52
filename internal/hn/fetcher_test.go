package hn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jacklau/hnsearch/internal/pubsub"
)

// newItemServer serves a newstories list and a fixed item graph.
func newItemServer(t *testing.T, listIDs []int64, items map[int64]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/newstories.json" {
			parts := make([]string, len(listIDs))
			for i, id := range listIDs {
				parts[i] = strconv.FormatInt(id, 10)
			}
			fmt.Fprintf(w, "[%s]", strings.Join(parts, ","))
			return
		}
		if strings.HasPrefix(r.URL.Path, "/item/") {
			idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			body, ok := items[id]
			if !ok {
				w.Write([]byte("null"))
				return
			}
			w.Write([]byte(body))
			return
		}
		http.NotFound(w, r)
	}))
}

func newTestFetcher(t *testing.T, server *httptest.Server, cfg FetcherConfig) (*Fetcher, *pubsub.Broker[ItemEvent]) {
	t.Helper()
	seen, err := OpenSeenSet(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("OpenSeenSet failed: %v", err)
	}
	t.Cleanup(func() { seen.Close() })

	if cfg.MaxFetchAttempts == 0 {
		cfg.MaxFetchAttempts = 1
	}
	client := NewClient(server.URL, 5*time.Second)
	broker := pubsub.NewBroker[ItemEvent]()
	return NewFetcher(client, seen, broker, cfg, nil), broker
}

// drainEvents collects everything the fetcher published during a poll.
func drainEvents(t *testing.T, cancelSub context.CancelFunc, events <-chan ItemEvent) []ItemEvent {
	t.Helper()
	cancelSub()
	var got []ItemEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestPollPublishesStoryAndComments(t *testing.T) {
	server := newItemServer(t, []int64{100}, map[int64]string{
		100: `{"id":100,"type":"story","by":"alice","time":1700000000,"title":"Show HN: Widget","url":"https://example.com","score":42,"descendants":2,"kids":[200,201]}`,
		200: `{"id":200,"type":"comment","by":"bob","time":1700000100,"parent":100,"text":"Nice work"}`,
		201: `{"id":201,"type":"comment","by":"carol","time":1700000200,"parent":100,"text":"Agreed","kids":[300]}`,
		300: `{"id":300,"type":"comment","by":"dave","time":1700000300,"parent":201,"text":"Me too"}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Stories != 1 {
		t.Errorf("expected 1 story, got %d", stats.Stories)
	}
	if stats.Comments != 3 {
		t.Errorf("expected 3 comments, got %d", stats.Comments)
	}

	got := drainEvents(t, cancelSub, events)
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}

	if got[0].Story == nil {
		t.Fatal("expected first event to be the story")
	}
	story := got[0].Story
	if story.ID != 100 || story.Title != "Show HN: Widget" || story.Score != 42 {
		t.Errorf("unexpected story: %+v", story)
	}
	if !story.PostedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("unexpected posted_at: %v", story.PostedAt)
	}

	for _, ev := range got[1:] {
		if ev.Comment == nil {
			t.Fatal("expected comment event")
		}
		if ev.Comment.StoryID != 100 {
			t.Errorf("comment %d rooted at story %d, want 100", ev.Comment.ID, ev.Comment.StoryID)
		}
	}
	// 300 is a reply to 201 and keeps its direct parent.
	last := got[3].Comment
	if last.ID != 300 || last.ParentID != 201 {
		t.Errorf("unexpected nested comment: %+v", last)
	}
}

func TestPollSkipsSeenStories(t *testing.T) {
	server := newItemServer(t, []int64{100}, map[int64]string{
		100: `{"id":100,"type":"story","by":"alice","time":1700000000,"title":"One","score":1}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	if _, err := fetcher.Poll(context.Background()); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if stats.Stories != 0 {
		t.Errorf("expected 0 stories on replay, got %d", stats.Stories)
	}
	if stats.Skipped != 1 {
		t.Errorf("expected 1 skipped on replay, got %d", stats.Skipped)
	}

	got := drainEvents(t, cancelSub, events)
	if len(got) != 1 {
		t.Errorf("expected 1 event across both polls, got %d", len(got))
	}
}

func TestPollFiltersNonStoryKinds(t *testing.T) {
	server := newItemServer(t, []int64{100, 101, 102}, map[int64]string{
		100: `{"id":100,"type":"job","by":"yc","time":1700000000,"title":"Hiring"}`,
		101: `{"id":101,"type":"story","by":"alice","time":1700000000,"title":"Real story","score":5,"deleted":true}`,
		102: `{"id":102,"type":"story","by":"bob","time":1700000000,"title":"Kept","score":5}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Stories != 1 {
		t.Errorf("expected only the live story, got %d", stats.Stories)
	}

	got := drainEvents(t, cancelSub, events)
	if len(got) != 1 || got[0].Story == nil || got[0].Story.ID != 102 {
		t.Errorf("expected single event for story 102, got %+v", got)
	}
}

func TestWalkCommentsHonorsDepthCap(t *testing.T) {
	// A chain 200 -> 300 -> 400; depth cap 2 keeps 400 out.
	server := newItemServer(t, []int64{100}, map[int64]string{
		100: `{"id":100,"type":"story","by":"alice","time":1700000000,"title":"Deep","score":1,"kids":[200]}`,
		200: `{"id":200,"type":"comment","by":"b","time":1700000100,"parent":100,"text":"depth 1","kids":[300]}`,
		300: `{"id":300,"type":"comment","by":"c","time":1700000200,"parent":200,"text":"depth 2","kids":[400]}`,
		400: `{"id":400,"type":"comment","by":"d","time":1700000300,"parent":300,"text":"depth 3"}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{MaxCommentDepth: 2})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Comments != 2 {
		t.Errorf("expected 2 comments within depth cap, got %d", stats.Comments)
	}

	got := drainEvents(t, cancelSub, events)
	for _, ev := range got {
		if ev.Comment != nil && ev.Comment.ID == 400 {
			t.Error("comment beyond depth cap was emitted")
		}
	}
}

func TestWalkCommentsHonorsFetchCap(t *testing.T) {
	items := map[int64]string{
		100: `{"id":100,"type":"story","by":"alice","time":1700000000,"title":"Wide","score":1,"kids":[200,201,202,203,204]}`,
	}
	for i := int64(200); i <= 204; i++ {
		items[i] = fmt.Sprintf(`{"id":%d,"type":"comment","by":"x","time":1700000100,"parent":100,"text":"c%d"}`, i, i)
	}
	server := newItemServer(t, []int64{100}, items)
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{MaxCommentsPerStory: 3})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Comments != 3 {
		t.Errorf("expected 3 comments under fetch cap, got %d", stats.Comments)
	}
	got := drainEvents(t, cancelSub, events)
	if len(got) != 4 {
		t.Errorf("expected story plus 3 comments, got %d events", len(got))
	}
}

func TestWalkCommentsSkipsDeadAndEmpty(t *testing.T) {
	server := newItemServer(t, []int64{100}, map[int64]string{
		100: `{"id":100,"type":"story","by":"a","time":1700000000,"title":"T","score":1,"kids":[200,201,202]}`,
		200: `{"id":200,"type":"comment","by":"b","time":1700000100,"parent":100,"text":"keeper"}`,
		201: `{"id":201,"type":"comment","by":"c","time":1700000200,"parent":100,"dead":true,"text":"flagged"}`,
		202: `{"id":202,"type":"comment","by":"d","time":1700000300,"parent":100,"text":"   "}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Comments != 1 {
		t.Errorf("expected 1 emitted comment, got %d", stats.Comments)
	}
	got := drainEvents(t, cancelSub, events)
	if len(got) != 2 || got[1].Comment == nil || got[1].Comment.ID != 200 {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestPollTruncatesStoryList(t *testing.T) {
	items := make(map[int64]string)
	var ids []int64
	for i := int64(100); i < 110; i++ {
		ids = append(ids, i)
		items[i] = fmt.Sprintf(`{"id":%d,"type":"story","by":"x","time":1700000000,"title":"S%d","score":1}`, i, i)
	}
	server := newItemServer(t, ids, items)
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{MaxStoriesPerPoll: 4})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Stories != 4 {
		t.Errorf("expected 4 stories after truncation, got %d", stats.Stories)
	}
	got := drainEvents(t, cancelSub, events)
	if len(got) != 4 {
		t.Errorf("expected 4 events, got %d", len(got))
	}
}

func TestPollListFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(t, server, FetcherConfig{})
	if _, err := fetcher.Poll(context.Background()); err == nil {
		t.Fatal("expected error when story list fetch fails")
	}
}

func TestPollItemFailureContinuesCycle(t *testing.T) {
	// 100 is missing from the item map; 101 still gets ingested.
	server := newItemServer(t, []int64{100, 101}, map[int64]string{
		101: `{"id":101,"type":"story","by":"b","time":1700000000,"title":"Survivor","score":1}`,
	})
	defer server.Close()

	fetcher, broker := newTestFetcher(t, server, FetcherConfig{})
	subCtx, cancelSub := context.WithCancel(context.Background())
	events := broker.Subscribe(subCtx)

	stats, err := fetcher.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if stats.Stories != 1 {
		t.Errorf("expected 1 story, got %d", stats.Stories)
	}
	got := drainEvents(t, cancelSub, events)
	if len(got) != 1 || got[0].Story.ID != 101 {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	server := newItemServer(t, nil, nil)
	defer server.Close()

	fetcher, _ := newTestFetcher(t, server, FetcherConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fetcher.Run(ctx, time.Hour) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
