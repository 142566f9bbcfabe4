package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/persona-lens/backend/internal/config"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/analysis"
	"github.com/zhouzirui/persona-lens/backend/internal/service/embedding"
	"github.com/zhouzirui/persona-lens/backend/internal/service/relevance"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		logging.Default().Error("personactl failed", "error", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "personactl",
		Usage: "Operator tooling for the persona corpus",
		Commands: []*cli.Command{
			validateCommand(out),
			analyzeCommand(out),
		},
	}
}

func corpusFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "corpus",
		Aliases:     []string{"c"},
		Usage:       "Path to the persona corpus (JSON array or JSON Lines)",
		Value:       "data/personas.json",
		Sources:     cli.EnvVars("PERSONA_CORPUS_PATH"),
		Destination: dst,
	}
}

func validateCommand(out io.Writer) *cli.Command {
	var corpusPath string

	return &cli.Command{
		Name:  "validate",
		Usage: "Load the corpus and report its size and embedding dimension",
		Flags: []cli.Flag{corpusFlag(&corpusPath)},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := persona.Load(ctx, persona.FileLoader{Path: corpusPath})
			if err != nil {
				return goerr.Wrap(err, "corpus is invalid", goerr.V("path", corpusPath))
			}
			fmt.Fprintf(out, "corpus ok: %d personas, dimension %d\n", store.Len(), store.Dimension())
			return nil
		},
	}
}

func analyzeCommand(out io.Writer) *cli.Command {
	var (
		corpusPath string
		topK       int64
		clusters   int64
		seed       int64
	)

	return &cli.Command{
		Name:      "analyze",
		Usage:     "Run the product analysis pipeline and print the customer profile as JSON",
		ArgsUsage: "<product description>",
		Flags: []cli.Flag{
			corpusFlag(&corpusPath),
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "Number of closest personas to cluster",
				Value:       relevance.DefaultTopK,
				Sources:     cli.EnvVars("ENGINE_TOP_K"),
				Destination: &topK,
			},
			&cli.IntFlag{
				Name:        "clusters",
				Usage:       "Number of customer segments",
				Value:       relevance.DefaultClusterCount,
				Sources:     cli.EnvVars("ENGINE_CLUSTER_COUNT"),
				Destination: &clusters,
			},
			&cli.IntFlag{
				Name:        "seed",
				Usage:       "Clustering seed",
				Value:       relevance.DefaultSeed,
				Sources:     cli.EnvVars("ENGINE_SEED"),
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			product := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if product == "" {
				return goerr.New("no product description provided")
			}
			if seed < 0 {
				return goerr.New("seed must not be negative", goerr.V("seed", seed))
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, err := persona.Load(ctx, persona.FileLoader{Path: corpusPath})
			if err != nil {
				return goerr.Wrap(err, "failed to load corpus", goerr.V("path", corpusPath))
			}

			provider, err := embedding.NewProvider(ctx, cfg.Embedding)
			if err != nil {
				return err
			}
			embedder := embedding.NewService(provider,
				embedding.WithRetryPolicy(cfg.Retry.Policy()),
				embedding.WithDimension(store.Dimension()),
			)

			svc := analysis.NewService(embedder, store,
				relevance.NewEngine(relevance.Config{Seed: uint64(seed), MaxIterations: cfg.Engine.MaxIterations}),
				analysis.Options{UnknownLabel: cfg.Engine.UnknownLabel},
			)
			result, err := svc.Analyze(ctx, analysis.Request{
				ProductDescription: product,
				TopK:               int(topK),
				ClusterCount:       int(clusters),
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
