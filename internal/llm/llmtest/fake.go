// Package llmtest provides deterministic in-memory stand-ins for the
// embedding and generation services.
package llmtest

import (
	"context"
	"crypto/sha256"
	"sync"
)

// FakeEmbedder derives a fixed-dimension vector from a hash of each
// text, so equal texts embed identically and distinct texts almost
// never collide.
type FakeEmbedder struct {
	Dim int
	Err error
	// FailAfterCalls, when positive, makes every call past that many fail.
	FailAfterCalls int

	mu    sync.Mutex
	Calls [][]string
}

func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string(nil), texts...))
	calls := len(f.Calls)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.FailAfterCalls > 0 && calls > f.FailAfterCalls {
		return nil, context.DeadlineExceeded
	}
	dim := f.Dim
	if dim == 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		v := make([]float32, dim)
		for j := 0; j < dim; j++ {
			v[j] = float32(sum[j%len(sum)]) - 128
		}
		out[i] = v
	}
	return out, nil
}

// FakeGenerator replays scripted responses in order, or a fixed
// response function.
type FakeGenerator struct {
	Responses []string
	Respond   func(prompt string) (string, error)
	Err       error

	mu      sync.Mutex
	Prompts []string
}

func (f *FakeGenerator) Generate(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	f.Prompts = append(f.Prompts, prompt)
	n := len(f.Prompts)
	f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if f.Respond != nil {
		return f.Respond(prompt)
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	if n > len(f.Responses) {
		return f.Responses[len(f.Responses)-1], nil
	}
	return f.Responses[n-1], nil
}
