package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
)

// Embedder generates vector embeddings from text. Implementations are remote
// clients that can be slow or fail; callers bound each call with a context.
type Embedder interface {
	// Embed returns a fixed-length vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig holds configuration for creating an Embedder.
type EmbedderConfig struct {
	Type   string
	Model  string
	APIKey string
	URL    string
}

// New creates an Embedder from config.
func New(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.URL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %q", cfg.Type)
	}
}
