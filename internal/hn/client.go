package hn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Hacker News Firebase API endpoint.
const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// Sentinel errors classifying content-source failures.
var (
	// ErrNotFound marks a permanently missing or deleted item; not retried
	// within a cycle.
	ErrNotFound = errors.New("item not found")

	// ErrTransient marks a network or server failure worth retrying.
	ErrTransient = errors.New("transient source error")
)

// Client is a read-only HTTP client for the Hacker News API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for the given base URL. An empty baseURL uses
// the public endpoint; timeout bounds each request (default 10s).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewStories returns the current new-stories list, most recent first.
func (c *Client) NewStories(ctx context.Context) ([]int64, error) {
	return c.storyList(ctx, "newstories")
}

// TopStories returns the current top-stories list, highest ranked first.
func (c *Client) TopStories(ctx context.Context) ([]int64, error) {
	return c.storyList(ctx, "topstories")
}

// Stories returns the story list for the given source ("new" or "top").
func (c *Client) Stories(ctx context.Context, source string) ([]int64, error) {
	if source == "top" {
		return c.TopStories(ctx)
	}
	return c.NewStories(ctx)
}

func (c *Client) storyList(ctx context.Context, endpoint string) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, endpoint+".json", &ids); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	return ids, nil
}

// Item fetches a single item by ID. The API returns literal "null" for
// unknown IDs, which surfaces as ErrNotFound; network errors and 5xx
// responses surface as ErrTransient.
func (c *Client) Item(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	if err := c.getJSON(ctx, fmt.Sprintf("item/%d.json", id), &item); err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return item, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}

	// The API answers "null" for deleted/unknown items.
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
