// Package app assembles the pyramid from configuration. Model
// clients are constructed once here and handed to every component
// that needs them.
package app

import (
	"log/slog"
	"path/filepath"
	"time"

	"policyrag/internal/cascade"
	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/llm"
	"policyrag/internal/orchestrator"
	"policyrag/internal/router"
	"policyrag/internal/tier"
	"policyrag/internal/vectorindex"
)

// Clients are the shared external collaborators.
type Clients struct {
	Embedder  domain.Embedder
	Generator domain.Generator
}

// BuildClients constructs the embedding and generation clients.
func BuildClients(cfg *config.AppConfig, log *slog.Logger) (*Clients, error) {
	emb, err := llm.NewEmbeddingsClient(llm.EmbeddingsConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	}, log)
	if err != nil {
		return nil, err
	}
	gen, err := llm.NewGenerationClient(llm.GenerationConfig{
		BaseURL:   cfg.Generation.BaseURL,
		APIKeyEnv: cfg.Generation.APIKeyEnv,
		Model:     cfg.Generation.Model,
		Timeout:   time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
	}, log)
	if err != nil {
		return nil, err
	}
	return &Clients{Embedder: emb, Generator: gen}, nil
}

// BuildTier constructs one tier with its own artifact paths.
func BuildTier(cfg *config.AppConfig, level domain.Level, clients *Clients, log *slog.Logger) (*tier.Tier, error) {
	splitter, err := chunker.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	dir := cfg.TierDir(level.String())
	index := vectorindex.New(
		filepath.Join(dir, level.String()+"_flat.index"),
		filepath.Join(dir, level.String()+"_metadata.json"),
		log,
	)
	return tier.New(level, splitter, index, clients.Embedder, clients.Generator,
		cfg.Retrieval.TopK, cfg.Generation.MaxOutputTokens, log), nil
}

// BuildPyramid constructs the three tiers, the cascade, and the
// router, and loads persisted state.
func BuildPyramid(cfg *config.AppConfig, log *slog.Logger) (*orchestrator.Pyramid, error) {
	clients, err := BuildClients(cfg, log)
	if err != nil {
		return nil, err
	}
	tiers := make(map[domain.Level]*tier.Tier, 3)
	for _, level := range domain.Levels() {
		t, err := BuildTier(cfg, level, clients, log)
		if err != nil {
			return nil, err
		}
		tiers[level] = t
	}
	pyramid := orchestrator.New(
		tiers[domain.LevelDetail], tiers[domain.LevelSummary], tiers[domain.LevelDigest],
		cascade.NewSummarizer(clients.Generator, cfg.Generation.MaxOutputTokens*4, log),
		router.New(clients.Generator, log),
		cfg.Cascade.DetailToSummaryRatio, cfg.Cascade.SummaryToDigestRatio,
		log,
	)
	if err := pyramid.Load(); err != nil {
		return nil, err
	}
	return pyramid, nil
}
