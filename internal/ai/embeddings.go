package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmbeddingUnavailable is returned once all retry attempts against
// the embedding provider are exhausted.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// EmbeddingClient converts text batches into fixed-dimension vectors via
// the Gemini embedding model. Stateless between calls aside from the
// underlying connection.
type EmbeddingClient struct {
	client     *genai.Client
	model      string
	dimension  int
	batchSize  int
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

func NewEmbeddingClient(ctx context.Context, cfg *config.Config) (*EmbeddingClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	return &EmbeddingClient{
		client:     client,
		model:      cfg.EmbeddingsModel,
		dimension:  cfg.VectorDim,
		batchSize:  cfg.EmbedBatchSize,
		maxRetries: cfg.EmbedMaxRetries,
		backoff:    cfg.EmbedBackoff,
		timeout:    cfg.EmbedTimeout,
	}, nil
}

// Dimension returns the fixed vector dimension of the embedding model.
func (ec *EmbeddingClient) Dimension() int {
	return ec.dimension
}

// EmbedBatch embeds texts in provider-sized sub-batches. Transient
// provider errors are retried with exponential backoff; after the
// attempts are exhausted the error wraps ErrEmbeddingUnavailable.
func (ec *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ec.batchSize {
		end := start + ec.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := ec.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (ec *EmbeddingClient) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= ec.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: backoff * 2^(attempt-1)
			delay := ec.backoff << (attempt - 1)
			logger.Warn("Embedding attempt failed, retrying",
				"attempt", attempt, "delay", delay.String(), "error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, err := ec.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

func (ec *EmbeddingClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, ec.timeout)
	defer cancel()

	em := ec.client.EmbeddingModel(ec.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch = batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(callCtx, batch)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		if ec.dimension > 0 && len(emb.Values) != ec.dimension {
			return nil, fmt.Errorf("embedding dimension %d, expected %d", len(emb.Values), ec.dimension)
		}
		vectors[i] = emb.Values
	}

	return vectors, nil
}

// Close releases the underlying client connection.
func (ec *EmbeddingClient) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}
