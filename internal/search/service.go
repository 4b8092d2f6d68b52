package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jacklau/hnsearch/internal/provider"
	"github.com/jacklau/hnsearch/internal/store"
	"github.com/jacklau/hnsearch/internal/vector"
)

// StoryMatch is one ranked story result.
type StoryMatch struct {
	Story      store.Story
	Similarity float32
}

// CommentMatch is one ranked comment result joined to its root story.
type CommentMatch struct {
	Comment    store.Comment
	Story      store.Story
	Similarity float32
}

// Service answers semantic queries over the ingested corpus. Query
// embeddings are cached; rankings are computed by inner product over the
// stored vectors.
type Service struct {
	store        store.Store
	embedder     provider.Embedder
	cache        *QueryCache
	defaultLimit int
	logger       *slog.Logger
}

// NewService creates a search Service. cacheCapacity and defaultLimit fall
// back to 100 and 10 respectively.
func NewService(st store.Store, embedder provider.Embedder, cacheCapacity, defaultLimit int, logger *slog.Logger) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		embedder:     embedder,
		cache:        NewQueryCache(cacheCapacity),
		defaultLimit: defaultLimit,
		logger:       logger.With("component", "search"),
	}
}

// Cache exposes the query cache for inspection.
func (s *Service) Cache() *QueryCache {
	return s.cache
}

// SearchStories ranks stories against the query by inner product over their
// title vectors, filtered to score >= minScore. The second return value
// reports whether the query embedding came from the cache. An empty query
// returns no results without a provider call.
func (s *Service) SearchStories(ctx context.Context, query string, limit, minScore int) ([]StoryMatch, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, nil
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if minScore < 0 {
		minScore = 0
	}

	queryVec, fromCache, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, false, err
	}

	stories, err := s.store.ListStoriesWithTitleVectors(minScore)
	if err != nil {
		return nil, fromCache, fmt.Errorf("listing stories: %w", err)
	}

	matches := make([]StoryMatch, 0, len(stories))
	for _, st := range stories {
		sim, err := vector.InnerProduct(queryVec, vector.Decode(st.TitleVector))
		if err != nil {
			// Stored under a different embedding model; not comparable.
			s.logger.Debug("skipping story", "id", st.ID, "error", err)
			continue
		}
		matches = append(matches, StoryMatch{Story: st, Similarity: sim})
	}

	// Stable sort keeps insertion order on equal similarity.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, fromCache, nil
}

// SearchComments ranks comments against the query by inner product over
// their text vectors, joining each match to its root story. Comments whose
// story is missing are dropped from the results.
func (s *Service) SearchComments(ctx context.Context, query string, limit int) ([]CommentMatch, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, nil
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	queryVec, fromCache, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, false, err
	}

	comments, err := s.store.ListCommentsWithVectors()
	if err != nil {
		return nil, fromCache, fmt.Errorf("listing comments: %w", err)
	}

	type scored struct {
		comment    store.Comment
		similarity float32
	}
	ranked := make([]scored, 0, len(comments))
	for _, c := range comments {
		sim, err := vector.InnerProduct(queryVec, vector.Decode(c.TextVector))
		if err != nil {
			s.logger.Debug("skipping comment", "id", c.ID, "error", err)
			continue
		}
		ranked = append(ranked, scored{comment: c, similarity: sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].similarity > ranked[j].similarity
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]int64, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.comment.StoryID)
	}
	storiesByID, err := s.store.GetStoriesByIDs(ids)
	if err != nil {
		return nil, fromCache, fmt.Errorf("joining stories: %w", err)
	}

	matches := make([]CommentMatch, 0, len(ranked))
	for _, r := range ranked {
		st, ok := storiesByID[r.comment.StoryID]
		if !ok {
			continue
		}
		matches = append(matches, CommentMatch{Comment: r.comment, Story: st, Similarity: r.similarity})
	}
	return matches, fromCache, nil
}

// queryVector resolves the query embedding from the cache or the provider.
func (s *Service) queryVector(ctx context.Context, query string) ([]float32, bool, error) {
	if vec, ok := s.cache.Get(query); ok {
		return vec, true, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("embedding query: %w", err)
	}
	s.cache.Put(query, vec)
	return vec, false, nil
}
