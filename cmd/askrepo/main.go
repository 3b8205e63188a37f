// Package main provides the askrepo operations CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/embedding"
	ghclient "github.com/askrepo/askrepo/internal/github"
	"github.com/askrepo/askrepo/internal/ingest"
	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
	"github.com/askrepo/askrepo/internal/store"
)

var (
	flagUser    string
	flagProject string
	flagName    string
	flagPaths   []string
)

var rootCmd = &cobra.Command{
	Use:   "askrepo",
	Short: "Repository Q&A over a semantic code index",
	Long: `askrepo ingests GitHub repositories into a vector index and answers
natural-language questions about them.

Environment variables:
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY OpenAI API key (required)
  GITHUB_TOKEN   GitHub token for private repos / higher rate limits
  DATA_DIR       SQLite data directory (default: ./data)`,
}

// app bundles everything a command needs.
type app struct {
	cfg        *config.Config
	db         *metadb.DB
	qdrant     *store.QdrantStore
	loader     *ghclient.Loader
	controller *ingest.Controller
	streamer   *chat.Streamer
}

func buildApp(ctx context.Context) (*app, func(), error) {
	cfg := config.Load()
	logger := slog.Default()

	qdrant, err := store.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to Qdrant: %w", err)
	}
	if err := qdrant.EnsureCollection(ctx); err != nil {
		qdrant.Close()
		return nil, nil, fmt.Errorf("ensure collection: %w", err)
	}

	db, err := metadb.Open(cfg.DataDir)
	if err != nil {
		qdrant.Close()
		return nil, nil, fmt.Errorf("open metadata db: %w", err)
	}

	openaiClient, err := embedding.NewClient(cfg.OpenAIKey)
	if err != nil {
		db.Close()
		qdrant.Close()
		return nil, nil, err
	}
	embedder := embedding.NewEmbedder(openaiClient, 0)

	gh, err := ghclient.NewClient(ctx, cfg.GitHubToken)
	if err != nil {
		db.Close()
		qdrant.Close()
		return nil, nil, fmt.Errorf("create github client: %w", err)
	}
	loader := ghclient.NewLoader(gh, logger)

	chk, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		db.Close()
		qdrant.Close()
		return nil, nil, err
	}

	pipeline := ingest.NewPipeline(loader, chk, embedder, qdrant, cfg.BatchSize, logger)
	controller := ingest.NewController(pipeline, db, qdrant,
		time.Duration(cfg.IngestTimeoutSecs)*time.Second, logger)

	res := resolver.New(qdrant, embedder, cfg.CoreFilePatterns,
		cfg.ScoreThreshold, cfg.TopK, cfg.TreePathLimit, logger)
	provider := chat.NewOpenAIProvider(openaiClient.Client(), "")
	streamer := chat.NewStreamer(provider, res, db, db, cfg.DailyQuotas["chat"], logger)

	a := &app{
		cfg:        cfg,
		db:         db,
		qdrant:     qdrant,
		loader:     loader,
		controller: controller,
		streamer:   streamer,
	}
	cleanup := func() {
		a.controller.Wait()
		a.db.Close()
		a.qdrant.Close()
	}
	return a, cleanup, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <remote-url>",
	Short: "Import a repository and build its semantic index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		name := flagName
		if name == "" {
			if _, repo, err := ghclient.ParseRemote(args[0]); err == nil {
				name = repo
			} else {
				name = args[0]
			}
		}

		project, err := a.db.CreateProject(ctx, flagUser, name, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Project %s created, indexing...\n", project.ID)

		a.controller.StartIngestion(project)
		a.controller.Wait()

		return printProjectStatus(ctx, a, project.ID)
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Wipe a project's index and rebuild it from the current snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := a.db.GetProject(ctx, flagProject)
		if err != nil {
			return err
		}
		if err := a.controller.Resync(ctx, project, flagUser); err != nil {
			return err
		}
		fmt.Println("Resync started...")
		a.controller.Wait()

		return printProjectStatus(ctx, a, project.ID)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about an indexed project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		question := strings.Join(args, " ")
		sources, err := a.streamer.Answer(ctx, flagProject, flagUser, question, flagPaths,
			func(delta string) error {
				fmt.Print(delta)
				return nil
			})
		if err != nil {
			return err
		}

		fmt.Println()
		if len(sources) > 0 {
			fmt.Printf("\nSources: %s\n", strings.Join(sources, ", "))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a project's conversation transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		messages, err := a.db.History(ctx, flagProject)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Printf("[%s] %s\n%s\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content)
			if len(m.Sources) > 0 {
				fmt.Printf("  sources: %s\n", strings.Join(m.Sources, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a project's indexing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return printProjectStatus(ctx, a, flagProject)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <owner/repo> <path>",
	Short: "Fetch one file straight from the source host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.Load()

		gh, err := ghclient.NewClient(ctx, cfg.GitHubToken)
		if err != nil {
			return err
		}
		loader := ghclient.NewLoader(gh, slog.Default())

		parts := strings.SplitN(args[0], "/", 2)
		if len(parts) != 2 {
			return fmt.Errorf("expected owner/repo, got %q", args[0])
		}

		doc, sha, err := loader.ReadFile(ctx, parts[0], parts[1], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("// %s @ %s\n%s\n", doc.Path, sha, doc.Content)
		return nil
	},
}

func printProjectStatus(ctx context.Context, a *app, projectID string) error {
	project, err := a.db.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	fmt.Printf("Project:  %s (%s)\n", project.Name, project.ID)
	fmt.Printf("Remote:   %s\n", project.RemoteURL)
	fmt.Printf("Status:   %s\n", project.Status)
	if project.LastIndexedAt != nil {
		fmt.Printf("Indexed:  %s\n", project.LastIndexedAt.Format(time.RFC3339))
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "local", "acting user id")

	ingestCmd.Flags().StringVar(&flagName, "name", "", "project name (default: repo name)")

	for _, c := range []*cobra.Command{resyncCmd, askCmd, historyCmd, statusCmd} {
		c.Flags().StringVar(&flagProject, "project", "", "project id")
		c.MarkFlagRequired("project")
	}
	askCmd.Flags().StringSliceVar(&flagPaths, "path", nil, "explicitly selected file paths")

	rootCmd.AddCommand(ingestCmd, resyncCmd, askCmd, historyCmd, statusCmd, catCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
