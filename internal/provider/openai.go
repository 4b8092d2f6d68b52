package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultEmbeddingModel = openai.SmallEmbedding3

// OpenAIEmbedder implements the Embedder interface using the OpenAI
// embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates a new OpenAIEmbedder. Unknown or empty model
// names fall back to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return newOpenAIEmbedderWithClient(openai.NewClient(apiKey), model)
}

// newOpenAIEmbedderWithClient allows injecting a client pointed at a test server.
func newOpenAIEmbedderWithClient(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: client,
		model:  embeddingModel(model),
	}
}

func embeddingModel(model string) openai.EmbeddingModel {
	switch model {
	case string(openai.SmallEmbedding3):
		return openai.SmallEmbedding3
	case string(openai.LargeEmbedding3):
		return openai.LargeEmbedding3
	case string(openai.AdaEmbeddingV2):
		return openai.AdaEmbeddingV2
	default:
		return defaultEmbeddingModel
	}
}

// Embed returns a vector embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.HTTPStatusCode == 429 {
				return nil, fmt.Errorf("%w: %s", ErrRateLimit, err)
			}
			if apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode == 504 {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, err)
			}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrInvalidResponse)
	}

	return resp.Data[0].Embedding, nil
}
