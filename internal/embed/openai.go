// Package embed provides the external embedding provider client used to turn
// query text into vectors.
package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/clevio/clevio/internal/log"
)

// DefaultRequestsPerSecond bounds outbound provider traffic. Cache misses
// arrive in bursts after invalidation; the limiter smooths them out.
const DefaultRequestsPerSecond = 10

// Config configures the OpenAI embedding client.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider endpoint. Empty uses the default;
	// tests point it at a local stub.
	BaseURL string

	// RequestsPerSecond rate-limits provider calls. Default 10.
	RequestsPerSecond float64
}

// OpenAIEmbedder calls the OpenAI embeddings API. It implements the
// retrieval engine's Embedder contract and is safe for concurrent use.
type OpenAIEmbedder struct {
	client  *openai.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// NewOpenAI creates the embedding client.
func NewOpenAI(cfg Config, logger log.Logger) *OpenAIEmbedder {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if logger == nil {
		logger = log.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

// Embed returns the embedding vector for text under the given model.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embedding rate limiter: %w", err)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request (%s): %w", modelID, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding request (%s): provider returned no vector", modelID)
	}

	e.logger.Debug("embedded text",
		"model", modelID,
		"text_length", len(text),
		"dims", len(resp.Data[0].Embedding))

	return resp.Data[0].Embedding, nil
}
