// Package llm adapts the hosted embedding and generation services to
// the narrow collaborator interfaces the pyramid depends on. Retry
// policy lives here, not in the callers.
package llm

import (
	"context"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"policyrag/internal/errs"
)

const (
	maxRetries         = 3
	maxParallelBatches = 4
)

// EmbeddingsConfig configures the embeddings client.
type EmbeddingsConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// EmbeddingsClient is a batched embeddings adapter over the hosted
// provider.
type EmbeddingsClient struct {
	client    *openai.Client
	model     string
	batchSize int
	timeout   time.Duration
	log       *slog.Logger
}

// NewEmbeddingsClient reads the API key from the configured
// environment variable; a missing key is a configuration error.
func NewEmbeddingsClient(cfg EmbeddingsConfig, log *slog.Logger) (*EmbeddingsClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errs.Configf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	cc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &EmbeddingsClient{
		client:    openai.NewClientWithConfig(cc),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		log:       log.With("component", "embeddings"),
	}, nil
}

// Embed converts texts into dense vectors, batching internally at the
// configured batch size. Batches run with bounded parallelism; the
// result preserves input order.
func (c *EmbeddingsClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errs.Externalf("embed called with no texts")
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)
	batches := (len(texts) + c.batchSize - 1) / c.batchSize
	for start := 0; start < len(texts); start += c.batchSize {
		start := start
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			c.log.Debug("embedding batch",
				"batch", start/c.batchSize+1, "batches", batches, "size", end-start)
			vectors, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EmbeddingsClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errs.External("embed", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
		resp, err := c.createEmbeddings(ctx, batch)
		if err != nil {
			lastErr = err
			continue
		}
		vectors, err := embeddingVectors(resp, len(batch))
		if err != nil {
			// malformed shape is not retryable
			return nil, err
		}
		return vectors, nil
	}
	return nil, errs.External("embed", lastErr)
}

func (c *EmbeddingsClient) createEmbeddings(ctx context.Context, batch []string) (openai.EmbeddingResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: batch,
	})
}

// embeddingVectors converts the provider response into the normalized
// array type, failing loudly when the shape does not match the
// request instead of silently truncating.
func embeddingVectors(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, errs.Externalf("unexpected embedding response shape: %d vectors for %d inputs", len(resp.Data), want)
	}
	vectors := make([][]float32, want)
	dim := 0
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, errs.Externalf("unexpected embedding response shape: index %d out of range", item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, errs.Externalf("unexpected embedding response shape: empty vector at index %d", item.Index)
		}
		if dim == 0 {
			dim = len(item.Embedding)
		} else if len(item.Embedding) != dim {
			return nil, errs.Externalf("unexpected embedding response shape: mixed dimensions %d and %d", dim, len(item.Embedding))
		}
		v := make([]float32, len(item.Embedding))
		copy(v, item.Embedding)
		vectors[item.Index] = v
	}
	for i, v := range vectors {
		if v == nil {
			return nil, errs.Externalf("unexpected embedding response shape: missing vector at index %d", i)
		}
	}
	return vectors, nil
}

// retryDelay is exponential backoff capped at 5s.
func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
