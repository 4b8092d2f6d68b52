package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Comment represents a stored Hacker News comment. TextVector holds the
// encoded body embedding and is nil when the body is empty or embedding
// failed.
type Comment struct {
	ID         int64
	ParentID   int64
	StoryID    int64
	Author     string
	PostedAt   time.Time
	Body       string
	TextVector []byte
	CreatedAt  time.Time
}

// InsertCommentIfAbsent inserts a comment keyed by its external ID. Replays
// are a no-op; the return value reports whether a row was inserted.
func (d *DB) InsertCommentIfAbsent(c *Comment) (bool, error) {
	res, err := d.db.Exec(`
		INSERT INTO comments (id, parent_id, story_id, author, posted_at, body, text_vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.ParentID, c.StoryID, c.Author,
		c.PostedAt.UTC().Format(time.RFC3339),
		c.Body, c.TextVector,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("inserting comment %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// GetComment retrieves a comment by ID. Returns ErrNotFound if absent.
func (d *DB) GetComment(id int64) (*Comment, error) {
	row := d.db.QueryRow(`
		SELECT id, parent_id, story_id, author, posted_at, body, text_vector, created_at
		FROM comments WHERE id = ?`, id)

	c, err := scanComment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCommentsWithVectors returns, in insertion order, all comments whose
// text vector is set.
func (d *DB) ListCommentsWithVectors() ([]Comment, error) {
	rows, err := d.db.Query(`
		SELECT id, parent_id, story_id, author, posted_at, body, text_vector, created_at
		FROM comments WHERE text_vector IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying comments with vectors: %w", err)
	}
	defer rows.Close()
	return collectComments(rows)
}

// ListCommentsMissingVectors returns up to limit comments that have a
// non-empty body but no vector, oldest first. Used by the backfill repair pass.
func (d *DB) ListCommentsMissingVectors(limit int) ([]Comment, error) {
	rows, err := d.db.Query(`
		SELECT id, parent_id, story_id, author, posted_at, body, text_vector, created_at
		FROM comments
		WHERE text_vector IS NULL AND body IS NOT NULL AND body != ''
		ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying comments missing vectors: %w", err)
	}
	defer rows.Close()
	return collectComments(rows)
}

// UpdateCommentVector sets the text vector for a comment.
func (d *DB) UpdateCommentVector(id int64, textVector []byte) error {
	_, err := d.db.Exec(`UPDATE comments SET text_vector = ? WHERE id = ?`, textVector, id)
	if err != nil {
		return fmt.Errorf("updating comment vector for %d: %w", id, err)
	}
	return nil
}

func collectComments(rows *sql.Rows) ([]Comment, error) {
	var comments []Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func scanComment(scan func(...any) error) (*Comment, error) {
	var c Comment
	var author, body sql.NullString
	var postedAt, createdAt string

	err := scan(&c.ID, &c.ParentID, &c.StoryID, &author, &postedAt, &body, &c.TextVector, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Author = author.String
	c.Body = body.String
	c.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}
