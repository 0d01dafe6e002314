// Package router decides which tier answers a question when no
// explicit override is given. The decision is a single model call
// forced to a one-token numeric output; any failure falls back to the
// summary tier, which is neither the most expensive nor the most
// lossy choice.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"policyrag/internal/domain"
)

const decisionPromptFormat = "You route questions about policy documents to one of three retrieval tiers.\n" +
	"Tier 0 (digest): broad overviews, available topics, general orientation.\n" +
	"Tier 1 (summary): aggregated or summarized information across documents.\n" +
	"Tier 2 (detail): specific clauses, figures, names, or technical detail.\n\n" +
	"Question: %s\n\n" +
	"Reply with exactly one digit: 0, 1, or 2."

// Router picks the tier for a question.
type Router struct {
	gen domain.Generator
	log *slog.Logger
}

func New(gen domain.Generator, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{gen: gen, log: log.With("component", "router")}
}

// Route returns the tier that should serve the question. This is a
// single-shot decision: the model is asked once, and an unparseable
// or out-of-range reply degrades to the summary tier without retry.
func (r *Router) Route(ctx context.Context, question string) domain.Level {
	prompt := fmt.Sprintf(decisionPromptFormat, question)
	reply, err := r.gen.Generate(ctx, prompt, 4)
	if err != nil {
		r.log.Warn("routing call failed, using summary tier", "error", err)
		return domain.LevelSummary
	}
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		r.log.Warn("unparseable routing reply, using summary tier", "reply", reply)
		return domain.LevelSummary
	}
	level := domain.Level(n)
	if !level.Valid() {
		r.log.Warn("out-of-range routing reply, using summary tier", "reply", reply)
		return domain.LevelSummary
	}
	r.log.Info("routed", "tier", level.String())
	return level
}
