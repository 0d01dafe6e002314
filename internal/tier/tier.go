// Package tier implements one level of the retrieval pyramid: a
// chunker, a vector index, a retriever, and an answer composer bound
// to shared model clients. The three tiers are instances of this one
// type with different artifact paths.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"policyrag/internal/chunker"
	"policyrag/internal/domain"
	"policyrag/internal/errs"
	"policyrag/internal/vectorindex"
)

const answerPromptFormat = "You are a helpful assistant answering questions about policy documents.\n" +
	"Use ONLY the provided sources. If the answer is not contained, say you don't know.\n" +
	"Cite sources inline as [Source N] where N corresponds to the source block.\n\n" +
	"Question: %s\n\nSources:\n%s\n\nAnswer:"

// Tier is one independently addressable retrieval service.
type Tier struct {
	level    domain.Level
	splitter *chunker.Splitter
	index    *vectorindex.FlatIndex
	embedder domain.Embedder
	gen      domain.Generator

	defaultTopK      int
	defaultMaxTokens int
	log              *slog.Logger

	// serializes ingestion so concurrent adds cannot interleave id
	// assignment with persistence
	ingestMu sync.Mutex
}

// New assembles a tier from its collaborators.
func New(level domain.Level, splitter *chunker.Splitter, index *vectorindex.FlatIndex,
	embedder domain.Embedder, gen domain.Generator, defaultTopK, defaultMaxTokens int, log *slog.Logger) *Tier {
	if log == nil {
		log = slog.Default()
	}
	return &Tier{
		level:            level,
		splitter:         splitter,
		index:            index,
		embedder:         embedder,
		gen:              gen,
		defaultTopK:      defaultTopK,
		defaultMaxTokens: defaultMaxTokens,
		log:              log.With("component", "tier", "tier", level.String()),
	}
}

// Level returns which pyramid level this tier serves.
func (t *Tier) Level() domain.Level { return t.level }

// Load restores the tier's persisted index state.
func (t *Tier) Load() (int, error) { return t.index.Load() }

// Reset clears the tier's index and removes its artifacts.
func (t *Tier) Reset() error { return t.index.Reset() }

// Stats reports the tier's index state.
func (t *Tier) Stats() domain.IndexStats { return t.index.Stats() }

// Ingest chunks, embeds, and indexes the documents, then persists the
// index. The embedding call happens before any index mutation, so a
// failed call leaves the index untouched. Add and save form a unit:
// a failed save means memory is ahead of disk, and that is surfaced.
func (t *Tier) Ingest(ctx context.Context, docs []domain.Document) (domain.TierReport, error) {
	t.ingestMu.Lock()
	defer t.ingestMu.Unlock()

	report := domain.TierReport{Tier: t.level.String(), Files: len(docs)}
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, t.splitter.Split(doc)...)
	}
	if len(chunks) == 0 {
		t.log.Info("nothing to index", "files", len(docs))
		return report, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	t.log.Info("indexing", "files", len(docs), "chunks", len(chunks))
	vectors, err := t.embedder.Embed(ctx, texts)
	if err != nil {
		return report, fmt.Errorf("embed chunks: %w", err)
	}
	if err := t.index.Add(vectors, chunks); err != nil {
		return report, err
	}
	if err := t.index.Save(); err != nil {
		return report, errs.Consistencyf("index has %d unsaved vectors, save failed: %v", len(vectors), err)
	}
	report.Chunks = len(chunks)
	report.Vectors = len(vectors)
	t.log.Info("index saved", "vectors_added", len(vectors))
	return report, nil
}

// Retrieve embeds the question and returns the top-k most similar
// chunks by descending score.
func (t *Tier) Retrieve(ctx context.Context, question string, topK int) ([]domain.RetrievedChunk, error) {
	if topK <= 0 {
		topK = t.defaultTopK
	}
	vectors, err := t.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", errs.ErrRetrieval, err)
	}
	hits, err := t.index.Search(vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRetrieval, err)
	}
	results := make([]domain.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		results = append(results, domain.RetrievedChunk{
			Score:      h.Score,
			Text:       h.Meta.Text,
			SourceFile: h.Meta.SourceFile,
			PageStart:  h.Meta.PageStart,
			PageEnd:    h.Meta.PageEnd,
		})
	}
	t.log.Info("retrieved", "question_chars", len(question), "top_k", topK, "results", len(results))
	return results, nil
}

// Answer retrieves context for the question and asks the generation
// service for a grounded answer with inline citations. A question
// that retrieves nothing still produces an answer: the model is
// instructed to say it does not know.
func (t *Tier) Answer(ctx context.Context, question string, topK, maxOutputTokens int) (*domain.Answer, error) {
	if topK <= 0 {
		topK = t.defaultTopK
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = t.defaultMaxTokens
	}
	retrieved, err := t.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	prompt := buildPrompt(question, retrieved)
	text, err := t.gen.Generate(ctx, prompt, maxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}
	citations := make([]domain.Citation, 0, len(retrieved))
	for _, r := range retrieved {
		citations = append(citations, domain.Citation{
			SourceFile: r.SourceFile,
			PageStart:  r.PageStart,
			PageEnd:    r.PageEnd,
			Score:      r.Score,
			Snippet:    snippet(r.Text),
		})
	}
	t.log.Info("answered", "answer_chars", len(text), "citations", len(citations))
	return &domain.Answer{
		Answer:    strings.TrimSpace(text),
		Citations: citations,
		UsedTopK:  topK,
		Prompt:    prompt,
	}, nil
}

// buildPrompt assembles one labeled context block per retrieved chunk
// inside the fixed grounding instruction template.
func buildPrompt(question string, retrieved []domain.RetrievedChunk) string {
	blocks := make([]string, 0, len(retrieved))
	for i, r := range retrieved {
		header := fmt.Sprintf("[Source %d] file: %s pages: %d-%d (score=%.3f)",
			i+1, r.SourceFile, r.PageStart, r.PageEnd, r.Score)
		blocks = append(blocks, header+"\n"+r.Text)
	}
	return fmt.Sprintf(answerPromptFormat, question, strings.Join(blocks, "\n\n"))
}

func snippet(text string) string {
	if len(text) > domain.SnippetLimit {
		return text[:domain.SnippetLimit]
	}
	return text
}
