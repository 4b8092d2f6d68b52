package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jacklau/hnsearch/internal/provider"
	"github.com/jacklau/hnsearch/internal/store"
	"github.com/jacklau/hnsearch/internal/vector"
)

// BackfillStore is the slice of the storage layer the repair pass needs.
type BackfillStore interface {
	ListStoriesMissingVectors(limit int) ([]store.Story, error)
	UpdateStoryVectors(id int64, titleVector, combinedVector []byte) error
	ListCommentsMissingVectors(limit int) ([]store.Comment, error)
	UpdateCommentVector(id int64, textVector []byte) error
}

// BackfillResult summarizes one repair pass.
type BackfillResult struct {
	Stories  int
	Comments int
	Errors   int
}

// Backfiller re-embeds records that were persisted with null vectors after
// an embedding failure.
type Backfiller struct {
	store         BackfillStore
	embedder      provider.Embedder
	maxEmbedChars int
	logger        *slog.Logger
}

// NewBackfiller creates a Backfiller. maxEmbedChars <= 0 falls back to the
// processor default.
func NewBackfiller(st BackfillStore, embedder provider.Embedder, maxEmbedChars int, logger *slog.Logger) *Backfiller {
	if maxEmbedChars <= 0 {
		maxEmbedChars = 8000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		store:         st,
		embedder:      embedder,
		maxEmbedChars: maxEmbedChars,
		logger:        logger.With("component", "backfill"),
	}
}

// Run repairs up to limit stories and limit comments, returning counts of
// records fixed. Individual failures are counted and skipped.
func (b *Backfiller) Run(ctx context.Context, limit int) (*BackfillResult, error) {
	if limit <= 0 {
		limit = 100
	}
	res := &BackfillResult{}

	if err := b.backfillStories(ctx, limit, res); err != nil {
		return res, err
	}
	if err := b.backfillComments(ctx, limit, res); err != nil {
		return res, err
	}

	b.logger.Info("backfill complete", "stories", res.Stories, "comments", res.Comments, "errors", res.Errors)
	return res, nil
}

func (b *Backfiller) backfillStories(ctx context.Context, limit int, res *BackfillResult) error {
	stories, err := b.store.ListStoriesMissingVectors(limit)
	if err != nil {
		return fmt.Errorf("listing stories missing vectors: %w", err)
	}

	for _, s := range stories {
		if err := ctx.Err(); err != nil {
			return err
		}

		titleVec, err := b.embedder.Embed(ctx, truncate(s.Title, b.maxEmbedChars))
		if err != nil {
			res.Errors++
			b.logger.Warn("re-embedding story title", "id", s.ID, "error", err)
			continue
		}

		combinedVec := titleVec
		if strings.TrimSpace(s.Body) != "" {
			combinedVec, err = b.embedder.Embed(ctx, truncate(s.Title+"\n\n"+s.Body, b.maxEmbedChars))
			if err != nil {
				res.Errors++
				b.logger.Warn("re-embedding story body", "id", s.ID, "error", err)
				continue
			}
		}

		if err := b.store.UpdateStoryVectors(s.ID, vector.Encode(titleVec), vector.Encode(combinedVec)); err != nil {
			res.Errors++
			b.logger.Warn("updating story vectors", "id", s.ID, "error", err)
			continue
		}
		res.Stories++
	}
	return nil
}

func (b *Backfiller) backfillComments(ctx context.Context, limit int, res *BackfillResult) error {
	comments, err := b.store.ListCommentsMissingVectors(limit)
	if err != nil {
		return fmt.Errorf("listing comments missing vectors: %w", err)
	}

	for _, c := range comments {
		if err := ctx.Err(); err != nil {
			return err
		}

		body := strings.TrimSpace(c.Body)
		if body == "" || len(body) > b.maxEmbedChars {
			continue
		}

		vec, err := b.embedder.Embed(ctx, body)
		if err != nil {
			res.Errors++
			b.logger.Warn("re-embedding comment", "id", c.ID, "error", err)
			continue
		}
		if err := b.store.UpdateCommentVector(c.ID, vector.Encode(vec)); err != nil {
			res.Errors++
			b.logger.Warn("updating comment vector", "id", c.ID, "error", err)
			continue
		}
		res.Comments++
	}
	return nil
}
