// Package cascade compresses one tier's content into the next-coarser
// tier's ingest input. Each source document is summarized
// independently, so a summary-tier citation always points back to
// exactly one source file.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"policyrag/internal/domain"
)

const compressPromptFormat = "You are an assistant compressing policy documents.\n" +
	"Summarize the following text to approximately %d characters. " +
	"Preserve the key details needed for answering queries at the %s level.\n" +
	"---\n%s\n---\n\nNow provide the compressed summary:"

// Summarizer produces target-length compressions through the
// generation service.
type Summarizer struct {
	gen             domain.Generator
	maxOutputTokens int
	log             *slog.Logger
}

func NewSummarizer(gen domain.Generator, maxOutputTokens int, log *slog.Logger) *Summarizer {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 2048
	}
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{gen: gen, maxOutputTokens: maxOutputTokens, log: log.With("component", "cascade")}
}

// Target computes the advisory character budget for compressing a
// text of the given length at the configured ratio.
func Target(sourceLen int, ratio float64) int {
	return int(math.Round(float64(sourceLen) * ratio))
}

// Compress asks the generation service to shrink text to
// approximately targetChars characters. The target is advisory: the
// returned length is whatever the model produced. For non-empty
// input the result is never empty; if the model returns nothing, the
// head of the input is used instead.
func (s *Summarizer) Compress(ctx context.Context, text string, targetChars int, fromLabel, toLabel string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	s.log.Info("compressing", "from", fromLabel, "to", toLabel,
		"input_chars", len(text), "target_chars", targetChars)
	prompt := fmt.Sprintf(compressPromptFormat, targetChars, toLabel, text)
	summary, err := s.gen.Generate(ctx, prompt, s.maxOutputTokens)
	if err != nil {
		return "", fmt.Errorf("compress %s to %s: %w", fromLabel, toLabel, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = truncate(text, targetChars)
		s.log.Warn("empty compression output, falling back to truncation",
			"from", fromLabel, "to", toLabel, "chars", len(summary))
	}
	s.log.Info("compressed", "from", fromLabel, "to", toLabel,
		"input_chars", len(text), "output_chars", len(summary))
	return summary, nil
}

func truncate(text string, n int) string {
	if n <= 0 || n >= len(text) {
		return text
	}
	return text[:n]
}
