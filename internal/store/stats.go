package store

import (
	"fmt"
	"time"
)

// Stat kinds recorded by the batch processor.
const (
	StatKindStory   = "story"
	StatKindComment = "comment"
)

// IngestionStat is one append-only record of a processed batch.
type IngestionStat struct {
	ID                  int64
	Kind                string
	BatchSize           int
	DurationMS          int64
	EmbeddingsGenerated int
	Errors              int
	CreatedAt           time.Time
}

// AppendIngestionStat appends one batch record to the ingestion log.
func (d *DB) AppendIngestionStat(st *IngestionStat) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := d.db.Exec(`
		INSERT INTO ingestion_stats (kind, batch_size, duration_ms, embeddings_generated, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Kind, st.BatchSize, st.DurationMS, st.EmbeddingsGenerated, st.Errors,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending ingestion stat: %w", err)
	}
	return nil
}

// Totals holds corpus-wide counters for the status view.
type Totals struct {
	Stories             int
	Comments            int
	StoriesWithVectors  int
	CommentsWithVectors int
}

// GetTotals returns corpus-wide counts of stored and embedded items.
func (d *DB) GetTotals() (*Totals, error) {
	var t Totals
	err := d.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM stories),
			(SELECT COUNT(*) FROM comments),
			(SELECT COUNT(*) FROM stories WHERE title_vector IS NOT NULL),
			(SELECT COUNT(*) FROM comments WHERE text_vector IS NOT NULL)`,
	).Scan(&t.Stories, &t.Comments, &t.StoriesWithVectors, &t.CommentsWithVectors)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	return &t, nil
}

// AverageProcessingTime returns the mean batch duration in milliseconds for
// the given stat kind over a trailing window. Returns 0 when no batches fall
// inside the window.
func (d *DB) AverageProcessingTime(kind string, window time.Duration) (float64, error) {
	since := time.Now().UTC().Add(-window).Format(time.RFC3339)

	var avg *float64
	err := d.db.QueryRow(`
		SELECT AVG(duration_ms) FROM ingestion_stats
		WHERE kind = ? AND created_at >= ?`, kind, since,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("querying average processing time: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// ListIngestionStats returns the most recent batch records, newest first.
func (d *DB) ListIngestionStats(limit int) ([]IngestionStat, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, batch_size, duration_ms, embeddings_generated, errors, created_at
		FROM ingestion_stats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingestion stats: %w", err)
	}
	defer rows.Close()

	var stats []IngestionStat
	for rows.Next() {
		var st IngestionStat
		var createdAt string
		if err := rows.Scan(&st.ID, &st.Kind, &st.BatchSize, &st.DurationMS,
			&st.EmbeddingsGenerated, &st.Errors, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ingestion stat: %w", err)
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
