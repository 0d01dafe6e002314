package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"policyrag/internal/app"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/logging"
	"policyrag/internal/orchestrator"
	"policyrag/internal/tui"
)

const usage = `Usage: policyrag [--config=config.yaml] <command>

Commands:
  ingest <path>...          ingest documents through all three tiers
  query [-tier=NAME] <question>
                            answer a question (routed unless -tier given)
  stats                     print per-tier index statistics
  console                   interactive query console
`

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "Path to config YAML")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	pyramid, err := app.BuildPyramid(cfg, nil)
	if err != nil {
		log.Fatalf("failed to build pyramid: %v", err)
	}

	ctx := context.Background()
	switch args[0] {
	case "ingest":
		if len(args) < 2 {
			log.Fatal("ingest: at least one path is required")
		}
		report, err := pyramid.Ingest(ctx, args[1:])
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		printJSON(report)
	case "query":
		runQuery(ctx, pyramid, args[1:])
	case "stats":
		printJSON(pyramid.Stats())
	case "console":
		m := tui.New(pyramid)
		if _, err := tea.NewProgram(m).Run(); err != nil {
			log.Fatal(err)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, pyramid *orchestrator.Pyramid, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	tierName := fs.String("tier", "", "explicit tier (detail, summary, digest)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve")
	maxTokens := fs.Int("max-output-tokens", 0, "generation output budget")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("query: a question is required")
	}
	req := orchestrator.QueryRequest{
		Question:        fs.Arg(0),
		TopK:            *topK,
		MaxOutputTokens: *maxTokens,
	}
	if *tierName != "" {
		level, err := domain.ParseLevel(*tierName)
		if err != nil {
			log.Fatalf("query: %v", err)
		}
		req.Tier = &level
	}
	result, err := pyramid.Query(ctx, req)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}
	fmt.Printf("[%s tier]\n\n%s\n\n", result.Tier, result.Answer.Answer)
	for i, c := range result.Citations {
		fmt.Printf("[Source %d] %s pages %d-%d (score=%.3f)\n", i+1, c.SourceFile, c.PageStart, c.PageEnd, c.Score)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
