package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Story represents a stored Hacker News story. TitleVector and CombinedVector
// hold encoded float32 vectors and are nil until embedding succeeds.
type Story struct {
	ID             int64
	Title          string
	URL            string
	Score          int
	Author         string
	PostedAt       time.Time
	Descendants    int
	Kind           string // story, ask, show, job
	Body           string
	TitleVector    []byte
	CombinedVector []byte
	CreatedAt      time.Time
}

// InsertStoryIfAbsent inserts a story keyed by its external ID. Replays of an
// already-stored ID are a no-op; the return value reports whether a row was
// actually inserted.
func (d *DB) InsertStoryIfAbsent(s *Story) (bool, error) {
	res, err := d.db.Exec(`
		INSERT INTO stories (id, title, url, score, author, posted_at, descendants, kind, body,
		                     title_vector, combined_vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		s.ID, s.Title, s.URL, s.Score, s.Author,
		s.PostedAt.UTC().Format(time.RFC3339),
		s.Descendants, s.Kind, s.Body,
		s.TitleVector, s.CombinedVector,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting story %d: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// GetStory retrieves a story by ID. Returns ErrNotFound if absent.
func (d *DB) GetStory(id int64) (*Story, error) {
	row := d.db.QueryRow(`
		SELECT id, title, url, score, author, posted_at, descendants, kind, body,
		       title_vector, combined_vector, created_at
		FROM stories WHERE id = ?`, id)
	return scanStory(row)
}

// ListStoriesWithTitleVectors returns, in insertion order, all stories whose
// title vector is set and whose score is at least minScore.
func (d *DB) ListStoriesWithTitleVectors(minScore int) ([]Story, error) {
	rows, err := d.db.Query(`
		SELECT id, title, url, score, author, posted_at, descendants, kind, body,
		       title_vector, combined_vector, created_at
		FROM stories
		WHERE title_vector IS NOT NULL AND score >= ?
		ORDER BY rowid`, minScore)
	if err != nil {
		return nil, fmt.Errorf("querying stories with vectors: %w", err)
	}
	defer rows.Close()
	return collectStories(rows)
}

// ListStoriesMissingVectors returns up to limit stories with no title vector,
// oldest first. Used by the backfill repair pass.
func (d *DB) ListStoriesMissingVectors(limit int) ([]Story, error) {
	rows, err := d.db.Query(`
		SELECT id, title, url, score, author, posted_at, descendants, kind, body,
		       title_vector, combined_vector, created_at
		FROM stories
		WHERE title_vector IS NULL
		ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stories missing vectors: %w", err)
	}
	defer rows.Close()
	return collectStories(rows)
}

// UpdateStoryVectors sets the title and combined vectors for a story.
func (d *DB) UpdateStoryVectors(id int64, titleVector, combinedVector []byte) error {
	_, err := d.db.Exec(`
		UPDATE stories SET title_vector = ?, combined_vector = ? WHERE id = ?`,
		titleVector, combinedVector, id)
	if err != nil {
		return fmt.Errorf("updating story vectors for %d: %w", id, err)
	}
	return nil
}

// GetStoriesByIDs returns the stories for the given IDs, keyed by ID.
// Missing IDs are simply absent from the map.
func (d *DB) GetStoriesByIDs(ids []int64) (map[int64]Story, error) {
	result := make(map[int64]Story, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query(fmt.Sprintf(`
		SELECT id, title, url, score, author, posted_at, descendants, kind, body,
		       title_vector, combined_vector, created_at
		FROM stories WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying stories by ids: %w", err)
	}
	defer rows.Close()

	stories, err := collectStories(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range stories {
		result[s.ID] = s
	}
	return result, nil
}

// ListRecentStories returns the most recently posted stories.
func (d *DB) ListRecentStories(limit int) ([]Story, error) {
	rows, err := d.db.Query(`
		SELECT id, title, url, score, author, posted_at, descendants, kind, body,
		       title_vector, combined_vector, created_at
		FROM stories ORDER BY posted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent stories: %w", err)
	}
	defer rows.Close()
	return collectStories(rows)
}

func collectStories(rows *sql.Rows) ([]Story, error) {
	var stories []Story
	for rows.Next() {
		s, err := scanStoryRows(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

func scanStory(row *sql.Row) (*Story, error) {
	var s Story
	var url, author, body sql.NullString
	var postedAt, createdAt string

	err := row.Scan(&s.ID, &s.Title, &url, &s.Score, &author, &postedAt,
		&s.Descendants, &s.Kind, &body, &s.TitleVector, &s.CombinedVector, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning story: %w", err)
	}
	fillStory(&s, url, author, body, postedAt, createdAt)
	return &s, nil
}

func scanStoryRows(rows *sql.Rows) (*Story, error) {
	var s Story
	var url, author, body sql.NullString
	var postedAt, createdAt string

	err := rows.Scan(&s.ID, &s.Title, &url, &s.Score, &author, &postedAt,
		&s.Descendants, &s.Kind, &body, &s.TitleVector, &s.CombinedVector, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning story row: %w", err)
	}
	fillStory(&s, url, author, body, postedAt, createdAt)
	return &s, nil
}

func fillStory(s *Story, url, author, body sql.NullString, postedAt, createdAt string) {
	s.URL = url.String
	s.Author = author.String
	s.Body = body.String
	s.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
}
