// Package orchestrator drives ingestion across the three tiers via
// the summarization cascade and querying via the router or an
// explicit tier override.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"policyrag/internal/cascade"
	"policyrag/internal/domain"
	"policyrag/internal/errs"
	"policyrag/internal/extract"
	"policyrag/internal/router"
	"policyrag/internal/tier"
)

// Pyramid owns the three tiers and the policies connecting them.
type Pyramid struct {
	tiers      map[domain.Level]*tier.Tier
	summarizer *cascade.Summarizer
	router     *router.Router

	detailToSummaryRatio float64
	summaryToDigestRatio float64
	log                  *slog.Logger
}

func New(detail, summary, digest *tier.Tier, summarizer *cascade.Summarizer, rt *router.Router,
	detailToSummaryRatio, summaryToDigestRatio float64, log *slog.Logger) *Pyramid {
	if log == nil {
		log = slog.Default()
	}
	return &Pyramid{
		tiers: map[domain.Level]*tier.Tier{
			domain.LevelDetail:  detail,
			domain.LevelSummary: summary,
			domain.LevelDigest:  digest,
		},
		summarizer:           summarizer,
		router:               rt,
		detailToSummaryRatio: detailToSummaryRatio,
		summaryToDigestRatio: summaryToDigestRatio,
		log:                  log.With("component", "orchestrator"),
	}
}

// Tier returns the tier serving the given level.
func (p *Pyramid) Tier(level domain.Level) *tier.Tier {
	return p.tiers[level]
}

// Load restores all three tiers' persisted state.
func (p *Pyramid) Load() error {
	for _, level := range domain.Levels() {
		n, err := p.tiers[level].Load()
		if err != nil {
			return fmt.Errorf("load %s tier: %w", level, err)
		}
		p.log.Info("tier loaded", "tier", level.String(), "vectors", n)
	}
	return nil
}

// Ingest runs the full cascade: raw documents into the detail tier,
// per-document summaries into the summary tier, per-document digests
// into the digest tier. Tier population is strictly sequential
// because each stage's input is the previous stage's output; a
// failure at any tier aborts the remainder and names the tier.
func (p *Pyramid) Ingest(ctx context.Context, paths []string) (*domain.IngestReport, error) {
	files, err := extract.ListDocuments(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	docs := make([]domain.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := extract.LoadFile(f)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.log.Info("ingesting", "files", len(docs))

	report := &domain.IngestReport{}
	detailReport, err := p.tiers[domain.LevelDetail].Ingest(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("detail tier ingest: %w", err)
	}
	report.Tiers = append(report.Tiers, detailReport)

	summaryDocs, err := p.compressEach(ctx, docs, p.detailToSummaryRatio, "detail", "summary")
	if err != nil {
		return nil, fmt.Errorf("summary tier cascade: %w", err)
	}
	summaryReport, err := p.tiers[domain.LevelSummary].Ingest(ctx, summaryDocs)
	if err != nil {
		return nil, fmt.Errorf("summary tier ingest: %w", err)
	}
	report.Tiers = append(report.Tiers, summaryReport)

	digestDocs, err := p.compressEach(ctx, summaryDocs, p.summaryToDigestRatio, "summary", "digest")
	if err != nil {
		return nil, fmt.Errorf("digest tier cascade: %w", err)
	}
	digestReport, err := p.tiers[domain.LevelDigest].Ingest(ctx, digestDocs)
	if err != nil {
		return nil, fmt.Errorf("digest tier ingest: %w", err)
	}
	report.Tiers = append(report.Tiers, digestReport)

	p.log.Info("ingest complete",
		"detail_vectors", detailReport.Vectors,
		"summary_vectors", summaryReport.Vectors,
		"digest_vectors", digestReport.Vectors)
	return report, nil
}

// compressEach summarizes every document independently, preserving
// per-source attribution in the coarser tier: each produced artifact
// is named after the source file it compresses.
func (p *Pyramid) compressEach(ctx context.Context, docs []domain.Document, ratio float64, fromLabel, toLabel string) ([]domain.Document, error) {
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		text := doc.Text()
		target := cascade.Target(len(text), ratio)
		summary, err := p.summarizer.Compress(ctx, text, target, fromLabel, toLabel)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", doc.SourceFile, err)
		}
		if summary == "" {
			continue
		}
		name := fmt.Sprintf("%s_%s", toLabel, sourceName(doc.SourceFile, fromLabel))
		out = append(out, domain.Document{
			SourceFile: name,
			Pages:      []domain.Page{{Number: 1, Text: summary}},
		})
	}
	return out, nil
}

// sourceName strips the previous stage's prefix so that digest
// artifacts are named after the original file, not the summary.
func sourceName(file, fromLabel string) string {
	prefix := fromLabel + "_"
	if len(file) > len(prefix) && file[:len(prefix)] == prefix {
		return file[len(prefix):]
	}
	return file
}

// QueryRequest is one question with optional overrides.
type QueryRequest struct {
	Question        string
	Tier            *domain.Level
	TopK            int
	MaxOutputTokens int
}

// QueryResult carries the answer and which tier produced it.
type QueryResult struct {
	domain.Answer
	Tier domain.Level `json:"tier"`
}

// Query answers the question through the explicitly requested tier,
// or the one the router picks. Provider error internals are logged,
// not returned.
func (p *Pyramid) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("%w: empty question", errs.ErrInvalidInput)
	}
	level := domain.LevelSummary
	if req.Tier != nil {
		if !req.Tier.Valid() {
			return nil, fmt.Errorf("%w: invalid tier %d", errs.ErrInvalidInput, int(*req.Tier))
		}
		level = *req.Tier
	} else {
		level = p.router.Route(ctx, req.Question)
	}
	answer, err := p.tiers[level].Answer(ctx, req.Question, req.TopK, req.MaxOutputTokens)
	if err != nil {
		p.log.Error("query failed", "tier", level.String(), "error", err)
		if errors.Is(err, errs.ErrRetrieval) {
			return nil, fmt.Errorf("%w: query failed", errs.ErrRetrieval)
		}
		return nil, fmt.Errorf("%w: query failed", errs.ErrExternal)
	}
	return &QueryResult{Answer: *answer, Tier: level}, nil
}

// Stats reports every tier's index state keyed by tier name.
func (p *Pyramid) Stats() map[string]domain.IndexStats {
	out := make(map[string]domain.IndexStats, len(p.tiers))
	for level, t := range p.tiers {
		out[level.String()] = t.Stats()
	}
	return out
}
