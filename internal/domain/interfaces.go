package domain

import "context"

// Embedder converts a non-empty batch of texts into dense vectors.
// All vectors in one response share the same dimension. Implementations
// batch internally at a bounded batch size and must fail loudly when the
// provider's response shape is unrecognized.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt. An empty string is a valid
// response; provider-level failures surface as errors.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}
