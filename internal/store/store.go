package store

import "time"

// Store defines the storage operations used by the batch processor and the
// search service. It is satisfied by *DB and can be replaced with a mock for
// testing.
type Store interface {
	// InsertStoryIfAbsent inserts a story unless its ID already exists.
	InsertStoryIfAbsent(s *Story) (bool, error)

	// InsertCommentIfAbsent inserts a comment unless its ID already exists.
	InsertCommentIfAbsent(c *Comment) (bool, error)

	// ListStoriesWithTitleVectors returns embedded stories with score >= minScore,
	// in insertion order.
	ListStoriesWithTitleVectors(minScore int) ([]Story, error)

	// ListCommentsWithVectors returns embedded comments in insertion order.
	ListCommentsWithVectors() ([]Comment, error)

	// GetStoriesByIDs returns stories keyed by ID; missing IDs are omitted.
	GetStoriesByIDs(ids []int64) (map[int64]Story, error)

	// AppendIngestionStat appends one batch record to the ingestion log.
	AppendIngestionStat(st *IngestionStat) error

	// AverageProcessingTime returns the mean batch duration in milliseconds
	// over a trailing window.
	AverageProcessingTime(kind string, window time.Duration) (float64, error)
}

// Compile-time check that *DB satisfies the Store interface.
var _ Store = (*DB)(nil)
