package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/jacklau/hnsearch/internal/hn"
	"github.com/jacklau/hnsearch/internal/provider"
	"github.com/jacklau/hnsearch/internal/pubsub"
	"github.com/jacklau/hnsearch/internal/store"
	"github.com/jacklau/hnsearch/internal/vector"
)

// shutdownGrace bounds how long the final partial batch may take after the
// subscription closes.
const shutdownGrace = 30 * time.Second

// Config tunes the batch processor.
type Config struct {
	// BatchSize flushes a batch once this many records are buffered.
	BatchSize int

	// FlushInterval flushes whatever is buffered when no size flush happened.
	FlushInterval time.Duration

	// MaxEmbedChars caps embedding input length. Comment bodies beyond it
	// are skipped; story inputs are truncated.
	MaxEmbedChars int

	// Workers sizes the embedding pool.
	Workers int
}

// BatchResult summarizes one processed batch of a single kind.
type BatchResult struct {
	Kind       string
	Inserted   int
	Skipped    int
	Errors     int
	Embeddings int
	Duration   time.Duration
}

// Processor consumes fetched records from the broker, embeds them in
// batches, and persists them with idempotent writes. Every batch leaves one
// ingestion stat row per kind.
type Processor struct {
	store    store.Store
	embedder provider.Embedder
	broker   *pubsub.Broker[hn.ItemEvent]
	pool     *ants.Pool
	cfg      Config
	logger   *slog.Logger
}

// NewProcessor creates a Processor. Zero config fields fall back to
// defaults; Close releases the worker pool.
func NewProcessor(st store.Store, embedder provider.Embedder, broker *pubsub.Broker[hn.ItemEvent], cfg Config, logger *slog.Logger) (*Processor, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxEmbedChars <= 0 {
		cfg.MaxEmbedChars = 8000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() / 2
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}

	return &Processor{
		store:    st,
		embedder: embedder,
		broker:   broker,
		pool:     pool,
		cfg:      cfg,
		logger:   logger.With("component", "processor"),
	}, nil
}

// Close releases the embedding worker pool.
func (p *Processor) Close() {
	p.pool.Release()
}

// Run subscribes to the broker and drains it until the context is cancelled.
// A batch is flushed when it reaches BatchSize or when FlushInterval elapses,
// whichever comes first; the final partial batch is flushed on shutdown under
// a detached grace deadline.
func (p *Processor) Run(ctx context.Context) error {
	events := p.broker.Subscribe(ctx)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	p.logger.Info("starting batch loop",
		"batch_size", p.cfg.BatchSize,
		"flush_interval", p.cfg.FlushInterval.String(),
		"workers", p.cfg.Workers,
	)

	batch := make([]hn.ItemEvent, 0, p.cfg.BatchSize)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Subscription closed; flush what remains under a grace
				// deadline so cancelled contexts don't drop the tail.
				grace, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				p.flush(grace, batch)
				cancel()
				p.logger.Info("shutting down", "reason", ctx.Err())
				return ctx.Err()
			}
			batch = append(batch, ev)
			if len(batch) >= p.cfg.BatchSize {
				p.flush(ctx, batch)
				batch = batch[:0]
				ticker.Reset(p.cfg.FlushInterval)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush splits a mixed batch by kind and processes each side.
func (p *Processor) flush(ctx context.Context, batch []hn.ItemEvent) {
	var stories []*store.Story
	var comments []*store.Comment
	for _, ev := range batch {
		switch {
		case ev.Story != nil:
			stories = append(stories, ev.Story)
		case ev.Comment != nil:
			comments = append(comments, ev.Comment)
		}
	}

	if len(stories) > 0 {
		res := p.ProcessStoryBatch(ctx, stories)
		p.logBatch(res)
	}
	if len(comments) > 0 {
		res := p.ProcessCommentBatch(ctx, comments)
		p.logBatch(res)
	}
}

func (p *Processor) logBatch(res *BatchResult) {
	p.logger.Info("batch processed",
		"kind", res.Kind,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"embeddings", res.Embeddings,
		"duration", res.Duration.String(),
	)
}

// storyVectors holds one story's embedding outcome.
type storyVectors struct {
	title      []float32
	combined   []float32
	embeddings int
	failed     bool
}

// ProcessStoryBatch embeds and persists one batch of stories. Embeddings run
// concurrently on the pool; writes are sequential and idempotent. A failed
// embedding persists the story with null vectors rather than dropping it.
func (p *Processor) ProcessStoryBatch(ctx context.Context, stories []*store.Story) *BatchResult {
	start := time.Now()
	res := &BatchResult{Kind: store.StatKindStory}

	vecs := make([]storyVectors, len(stories))
	var wg sync.WaitGroup
	for i := range stories {
		i, s := i, stories[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			vecs[i] = p.embedStory(ctx, s)
		}
		if err := p.pool.Submit(task); err != nil {
			// Pool released or overloaded; do the work inline.
			task()
		}
	}
	wg.Wait()

	for i, s := range stories {
		v := vecs[i]
		s.TitleVector = vector.Encode(v.title)
		s.CombinedVector = vector.Encode(v.combined)
		res.Embeddings += v.embeddings
		if v.failed {
			res.Errors++
		}

		inserted, err := p.store.InsertStoryIfAbsent(s)
		switch {
		case err != nil:
			res.Errors++
			p.logger.Warn("persisting story", "id", s.ID, "error", err)
		case inserted:
			res.Inserted++
		default:
			res.Skipped++
		}
	}

	res.Duration = time.Since(start)
	p.appendStat(res, len(stories))
	return res
}

// embedStory produces the title vector and the combined title+body vector.
// An empty body reuses the title vector instead of a second provider call.
func (p *Processor) embedStory(ctx context.Context, s *store.Story) storyVectors {
	var out storyVectors

	titleVec, err := p.embedder.Embed(ctx, truncate(s.Title, p.cfg.MaxEmbedChars))
	if err != nil {
		p.logger.Warn("embedding story title", "id", s.ID, "error", err)
		out.failed = true
		return out
	}
	out.title = titleVec
	out.embeddings++

	if strings.TrimSpace(s.Body) == "" {
		out.combined = titleVec
		return out
	}

	combined, err := p.embedder.Embed(ctx, truncate(s.Title+"\n\n"+s.Body, p.cfg.MaxEmbedChars))
	if err != nil {
		p.logger.Warn("embedding story body", "id", s.ID, "error", err)
		out.failed = true
		return out
	}
	out.combined = combined
	out.embeddings++
	return out
}

// commentVector holds one comment's embedding outcome.
type commentVector struct {
	text       []float32
	embeddings int
	failed     bool
	skipped    bool
}

// ProcessCommentBatch embeds and persists one batch of comments. Bodies that
// are empty or longer than MaxEmbedChars are skipped outright.
func (p *Processor) ProcessCommentBatch(ctx context.Context, comments []*store.Comment) *BatchResult {
	start := time.Now()
	res := &BatchResult{Kind: store.StatKindComment}

	vecs := make([]commentVector, len(comments))
	var wg sync.WaitGroup
	for i := range comments {
		i, c := i, comments[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			vecs[i] = p.embedComment(ctx, c)
		}
		if err := p.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	for i, c := range comments {
		v := vecs[i]
		if v.skipped {
			res.Skipped++
			continue
		}
		c.TextVector = vector.Encode(v.text)
		res.Embeddings += v.embeddings
		if v.failed {
			res.Errors++
		}

		inserted, err := p.store.InsertCommentIfAbsent(c)
		switch {
		case err != nil:
			res.Errors++
			p.logger.Warn("persisting comment", "id", c.ID, "error", err)
		case inserted:
			res.Inserted++
		default:
			res.Skipped++
		}
	}

	res.Duration = time.Since(start)
	p.appendStat(res, len(comments))
	return res
}

func (p *Processor) embedComment(ctx context.Context, c *store.Comment) commentVector {
	var out commentVector

	body := strings.TrimSpace(c.Body)
	if body == "" || len(body) > p.cfg.MaxEmbedChars {
		out.skipped = true
		return out
	}

	vec, err := p.embedder.Embed(ctx, body)
	if err != nil {
		p.logger.Warn("embedding comment", "id", c.ID, "error", err)
		out.failed = true
		return out
	}
	out.text = vec
	out.embeddings++
	return out
}

func (p *Processor) appendStat(res *BatchResult, batchSize int) {
	stat := &store.IngestionStat{
		Kind:                res.Kind,
		BatchSize:           batchSize,
		DurationMS:          res.Duration.Milliseconds(),
		EmbeddingsGenerated: res.Embeddings,
		Errors:              res.Errors,
	}
	if err := p.store.AppendIngestionStat(stat); err != nil {
		p.logger.Warn("appending ingestion stat", "kind", res.Kind, "error", err)
	}
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
