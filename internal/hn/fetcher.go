package hn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacklau/hnsearch/internal/pubsub"
	"github.com/jacklau/hnsearch/internal/retry"
)

// FetcherConfig bounds a Fetcher's work per cycle.
type FetcherConfig struct {
	// Source selects the story list: "new" or "top".
	Source string

	// MaxStoriesPerPoll caps how many stories from the list are considered
	// each cycle.
	MaxStoriesPerPoll int

	// MaxCommentsPerStory caps comment fetches per story tree.
	MaxCommentsPerStory int

	// MaxCommentDepth caps tree depth; children below it are not enqueued.
	MaxCommentDepth int

	// MaxFetchAttempts bounds retries for a transiently failing item fetch.
	MaxFetchAttempts int
}

// Fetcher polls the Hacker News story list, walks each new story's comment
// tree, and publishes normalized records to the broker. It is the sole
// writer of the seen set.
type Fetcher struct {
	client *Client
	seen   *SeenSet
	broker *pubsub.Broker[ItemEvent]
	cfg    FetcherConfig
	logger *slog.Logger
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Stories  int
	Comments int
	Skipped  int
	Errors   int
}

// NewFetcher creates a Fetcher. Zero config fields fall back to conservative
// defaults.
func NewFetcher(client *Client, seen *SeenSet, broker *pubsub.Broker[ItemEvent], cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Source == "" {
		cfg.Source = "new"
	}
	if cfg.MaxStoriesPerPoll <= 0 {
		cfg.MaxStoriesPerPoll = 50
	}
	if cfg.MaxCommentsPerStory <= 0 {
		cfg.MaxCommentsPerStory = 50
	}
	if cfg.MaxCommentDepth <= 0 {
		cfg.MaxCommentDepth = 10
	}
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = retry.DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		seen:   seen,
		broker: broker,
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}
}

// Run starts the continuous poll loop, polling at the given interval until
// the context is cancelled. Cycle-level failures are logged and the loop
// continues on the next tick.
func (f *Fetcher) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting poll loop", "interval", interval.String(), "source", f.cfg.Source)

	// Do an immediate poll.
	if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
		f.logger.Error("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("shutting down", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// The source being unreachable degrades the cycle to a
				// no-op; the loop continues.
				f.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// Poll performs a single cycle: fetch the story list, process unseen stories
// and their comment trees, and publish normalized records.
func (f *Fetcher) Poll(ctx context.Context) (*CycleStats, error) {
	start := time.Now()
	stats := &CycleStats{}

	ids, err := f.client.Stories(ctx, f.cfg.Source)
	if err != nil {
		return stats, fmt.Errorf("polling story list: %w", err)
	}

	if len(ids) > f.cfg.MaxStoriesPerPoll {
		ids = ids[:f.cfg.MaxStoriesPerPoll]
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if f.seen.Contains(id) {
			stats.Skipped++
			continue
		}
		if err := f.processStory(ctx, id, stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			// A single story's failure never aborts the cycle.
			stats.Errors++
			f.logger.Warn("skipping story", "id", id, "error", err)
		}
	}

	f.logger.Info("poll cycle complete",
		"stories", stats.Stories,
		"comments", stats.Comments,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", time.Since(start).String(),
	)
	return stats, nil
}

// processStory fetches one story, publishes it, and walks its comment tree.
func (f *Fetcher) processStory(ctx context.Context, id int64, stats *CycleStats) error {
	item, err := f.fetchItem(ctx, id)
	if err != nil {
		return err
	}

	if item.Deleted || item.Dead {
		return nil
	}
	if !storyKinds[item.Type] {
		// Jobs, polls and stray comments in the list are not ingested.
		return nil
	}

	if err := f.broker.Publish(ctx, ItemEvent{Story: convertStory(item)}); err != nil {
		return err
	}
	if err := f.seen.Add(id); err != nil {
		f.logger.Warn("persisting seen id", "id", id, "error", err)
	}
	stats.Stories++

	emitted, err := f.walkComments(ctx, item.ID, item.Kids)
	stats.Comments += emitted
	return err
}

// frame is one pending node in the comment-tree traversal.
type frame struct {
	id    int64
	depth int
}

// walkComments traverses a story's comment tree iteratively with an explicit
// work list, bounding both depth and total fetches. Seen IDs are skipped
// without a fetch. Returns the number of comments emitted; the only error
// returned is context cancellation, since per-comment failures are skipped.
func (f *Fetcher) walkComments(ctx context.Context, storyID int64, rootKids []int64) (int, error) {
	queue := make([]frame, 0, len(rootKids))
	for _, kid := range rootKids {
		queue = append(queue, frame{id: kid, depth: 1})
	}

	emitted := 0
	fetched := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		fr := queue[0]
		queue = queue[1:]

		// The source cannot produce cycles, but never assume it.
		if fr.id == storyID || f.seen.Contains(fr.id) {
			continue
		}

		if fetched >= f.cfg.MaxCommentsPerStory {
			f.logger.Debug("comment fetch cap reached", "story", storyID, "cap", f.cfg.MaxCommentsPerStory)
			break
		}

		item, err := f.fetchItem(ctx, fr.id)
		fetched++
		if err != nil {
			if ctx.Err() != nil {
				return emitted, ctx.Err()
			}
			f.logger.Debug("skipping comment", "id", fr.id, "error", err)
			continue
		}

		if item.Deleted || item.Dead || item.Type != "comment" {
			continue
		}

		if fr.depth < f.cfg.MaxCommentDepth {
			for _, kid := range item.Kids {
				if kid != fr.id {
					queue = append(queue, frame{id: kid, depth: fr.depth + 1})
				}
			}
		}

		// Empty-body comments are not emitted; they stay out of the seen
		// set so a later edit is picked up.
		if strings.TrimSpace(item.Text) == "" {
			continue
		}

		if err := f.broker.Publish(ctx, ItemEvent{Comment: convertComment(item, storyID)}); err != nil {
			return emitted, err
		}
		if err := f.seen.Add(fr.id); err != nil {
			f.logger.Warn("persisting seen id", "id", fr.id, "error", err)
		}
		emitted++
	}

	return emitted, nil
}

// fetchItem fetches one item, retrying transient failures with backoff.
// Not-found items fail immediately and stay eligible for the next cycle.
func (f *Fetcher) fetchItem(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	err := retry.Do(ctx, f.cfg.MaxFetchAttempts, func() error {
		it, err := f.client.Item(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				return err
			}
			return retry.Permanent(err)
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}
