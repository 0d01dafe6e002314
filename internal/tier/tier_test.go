package tier

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/chunker"
	"policyrag/internal/domain"
	"policyrag/internal/llm/llmtest"
	"policyrag/internal/vectorindex"
)

func newTestTier(t *testing.T, emb domain.Embedder, gen domain.Generator) *Tier {
	t.Helper()
	dir := t.TempDir()
	splitter, err := chunker.NewSplitter(200, 40)
	require.NoError(t, err)
	index := vectorindex.New(filepath.Join(dir, "flat.index"), filepath.Join(dir, "metadata.json"), nil)
	return New(domain.LevelDetail, splitter, index, emb, gen, 6, 512, nil)
}

func doc(name, text string) domain.Document {
	return domain.Document{SourceFile: name, Pages: []domain.Page{{Number: 1, Text: text}}}
}

func TestIngestReportsCounts(t *testing.T) {
	emb := &llmtest.FakeEmbedder{Dim: 8}
	tr := newTestTier(t, emb, &llmtest.FakeGenerator{})

	report, err := tr.Ingest(context.Background(), []domain.Document{
		doc("a.txt", strings.Repeat("alpha ", 80)),
		doc("b.txt", "short document"),
	})
	require.NoError(t, err)
	assert.Equal(t, "detail", report.Tier)
	assert.Equal(t, 2, report.Files)
	assert.Greater(t, report.Chunks, 1)
	assert.Equal(t, report.Chunks, report.Vectors)
	assert.Equal(t, report.Vectors, tr.Stats().Vectors)
	assert.True(t, tr.Stats().IndexExists, "ingest persists the index")
}

func TestIngestEmbedFailureLeavesIndexUntouched(t *testing.T) {
	emb := &llmtest.FakeEmbedder{Err: context.DeadlineExceeded}
	tr := newTestTier(t, emb, &llmtest.FakeGenerator{})

	_, err := tr.Ingest(context.Background(), []domain.Document{doc("a.txt", "some text")})
	require.Error(t, err)
	assert.Equal(t, 0, tr.Stats().Vectors)
	assert.False(t, tr.Stats().IndexExists)
}

func TestIngestNothingToIndex(t *testing.T) {
	emb := &llmtest.FakeEmbedder{}
	tr := newTestTier(t, emb, &llmtest.FakeGenerator{})
	report, err := tr.Ingest(context.Background(), []domain.Document{doc("a.txt", "   ")})
	require.NoError(t, err)
	assert.Zero(t, report.Vectors)
	assert.Empty(t, emb.Calls, "no embedding call without chunks")
}

func TestRetrieveProjectsHits(t *testing.T) {
	emb := &llmtest.FakeEmbedder{Dim: 8}
	tr := newTestTier(t, emb, &llmtest.FakeGenerator{})
	_, err := tr.Ingest(context.Background(), []domain.Document{
		doc("a.txt", "the housing scheme covers rural districts"),
		doc("b.txt", "the education grant applies to primary schools"),
	})
	require.NoError(t, err)

	results, err := tr.Retrieve(context.Background(), "the housing scheme covers rural districts", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// an identical text embeds identically, so it must win
	assert.Equal(t, "a.txt", results[0].SourceFile)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, 1, results[0].PageStart)
}

func TestAnswerComposesPromptAndCitations(t *testing.T) {
	emb := &llmtest.FakeEmbedder{Dim: 8}
	gen := &llmtest.FakeGenerator{Respond: func(string) (string, error) {
		return "  The scheme covers rural areas [Source 1].  ", nil
	}}
	tr := newTestTier(t, emb, gen)
	longText := strings.Repeat("rural housing scheme details ", 30)
	_, err := tr.Ingest(context.Background(), []domain.Document{doc("policy.txt", longText)})
	require.NoError(t, err)

	answer, err := tr.Answer(context.Background(), "what does the scheme cover?", 2, 128)
	require.NoError(t, err)
	assert.Equal(t, "The scheme covers rural areas [Source 1].", answer.Answer)
	assert.Equal(t, 2, answer.UsedTopK)
	require.NotEmpty(t, answer.Citations)
	for _, c := range answer.Citations {
		assert.Equal(t, "policy.txt", c.SourceFile)
		assert.LessOrEqual(t, len(c.Snippet), domain.SnippetLimit)
	}

	require.Len(t, gen.Prompts, 1)
	prompt := gen.Prompts[0]
	assert.Contains(t, prompt, "Use ONLY the provided sources")
	assert.Contains(t, prompt, "[Source 1] file: policy.txt pages: 1-1")
	assert.Contains(t, prompt, "what does the scheme cover?")
	assert.Equal(t, prompt, answer.Prompt)
}

func TestAnswerWithEmptyIndexStillAnswers(t *testing.T) {
	gen := &llmtest.FakeGenerator{Responses: []string{"I don't know based on the provided sources."}}
	tr := newTestTier(t, &llmtest.FakeEmbedder{Dim: 8}, gen)

	answer, err := tr.Answer(context.Background(), "anything?", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "I don't know based on the provided sources.", answer.Answer)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 6, answer.UsedTopK, "defaults applied")
}

func TestAnswerDefaultTopK(t *testing.T) {
	gen := &llmtest.FakeGenerator{Responses: []string{"ok"}}
	tr := newTestTier(t, &llmtest.FakeEmbedder{Dim: 8}, gen)
	answer, err := tr.Answer(context.Background(), "q", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, answer.UsedTopK)
}
