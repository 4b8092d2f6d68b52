package hn

import (
	"time"

	"github.com/jacklau/hnsearch/internal/store"
)

// Item is the raw Hacker News API item shape, shared by stories, comments,
// jobs and polls.
type Item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"` // unix seconds
	Text        string  `json:"text"`
	Parent      int64   `json:"parent"`
	Kids        []int64 `json:"kids"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	Title       string  `json:"title"`
	Descendants int     `json:"descendants"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
}

// ItemEvent carries one normalized record from the fetcher to the batch
// processor. Exactly one of Story or Comment is set.
type ItemEvent struct {
	Story   *store.Story
	Comment *store.Comment
}

// storyKinds are the item types ingested as stories. Jobs and polls are
// filtered at the fetcher.
var storyKinds = map[string]bool{
	"story": true,
	"ask":   true,
	"show":  true,
}

// convertStory normalizes a raw story item into a store record.
func convertStory(item *Item) *store.Story {
	return &store.Story{
		ID:          item.ID,
		Title:       item.Title,
		URL:         item.URL,
		Score:       item.Score,
		Author:      item.By,
		PostedAt:    time.Unix(item.Time, 0).UTC(),
		Descendants: item.Descendants,
		Kind:        item.Type,
		Body:        item.Text,
	}
}

// convertComment normalizes a raw comment item into a store record rooted at
// the given story.
func convertComment(item *Item, storyID int64) *store.Comment {
	return &store.Comment{
		ID:       item.ID,
		ParentID: item.Parent,
		StoryID:  storyID,
		Author:   item.By,
		PostedAt: time.Unix(item.Time, 0).UTC(),
		Body:     item.Text,
	}
}
