// Command menuquery serves the menu question-answering API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/adapters/catalog"
	"github.com/safebites/menuquery/internal/adapters/embedding"
	"github.com/safebites/menuquery/internal/adapters/filewatcher"
	"github.com/safebites/menuquery/internal/adapters/intent"
	"github.com/safebites/menuquery/internal/adapters/llm"
	"github.com/safebites/menuquery/internal/adapters/session"
	"github.com/safebites/menuquery/internal/adapters/vectordb"
	"github.com/safebites/menuquery/internal/config"
	"github.com/safebites/menuquery/internal/domain/ports"
	"github.com/safebites/menuquery/internal/domain/usecases"
	httpserver "github.com/safebites/menuquery/internal/infrastructure/http"
	"github.com/safebites/menuquery/internal/logging"
)

var (
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "menuquery",
		Short: "Allergen-aware menu search and question answering",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(serveCmd(), reindexCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := buildDeps(ctx)
			if err != nil {
				return err
			}

			if deps.index.Empty() {
				logger.Info("no persisted index, building from catalog",
					zap.String("catalog", deps.source.Path()))
				if err := deps.reindex.Rebuild(ctx); err != nil {
					return fmt.Errorf("initial index build: %w", err)
				}
			}

			if cfg.Catalog.Watch {
				go func() {
					dir := filepath.Dir(deps.source.Path())
					if err := deps.reindex.WatchCatalog(ctx, dir, deps.source.Path()); err != nil && ctx.Err() == nil {
						logger.Error("catalog watch stopped", zap.Error(err))
					}
				}()
			}

			extractor := intent.NewExtractor(deps.model, logger)
			classifier := intent.NewClassifier(deps.model, logger)
			resolver := intent.NewResolver(deps.model, logger)

			retrieval := usecases.NewRetrievalEngine(extractor, deps.embedder, deps.index,
				usecases.RetrievalConfig{
					TopK:              cfg.Retrieval.TopK,
					SearchThreshold:   cfg.Retrieval.SearchThreshold,
					CentroidThreshold: cfg.Retrieval.CentroidThreshold,
				}, logger)

			sessions := session.NewMemoryStore(cfg.Session.MaxTurns)
			pipeline := usecases.NewPipeline(resolver, classifier, retrieval, deps.model, sessions,
				usecases.PipelineConfig{ContextWindow: cfg.Pipeline.ContextWindow}, logger)

			srv := httpserver.NewServer(pipeline, deps.reindex, sessions,
				cfg.Server.Addr, time.Duration(cfg.Server.RequestTimeout)*time.Second, logger)

			logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
			return srv.Start(ctx)
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the catalog and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			return deps.reindex.Rebuild(ctx)
		},
	}
}

// deps are the shared wiring both commands need.
type deps struct {
	embedder ports.EmbeddingService
	model    ports.LanguageModel
	index    *vectordb.SnapshotIndex
	source   *catalog.FileSource
	reindex  *usecases.ReindexUseCase
}

func buildDeps(ctx context.Context) (*deps, error) {
	embedder, err := embedding.NewService(ctx, embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	model, err := llm.NewModel(ctx, llm.Config{
		Provider:       cfg.LLM.Provider,
		OllamaEndpoint: cfg.LLM.OllamaEndpoint,
		OllamaModel:    cfg.LLM.OllamaModel,
		GenAIAPIKey:    cfg.LLM.GenAIAPIKey,
		GenAIModel:     cfg.LLM.GenAIModel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating language model: %w", err)
	}

	store, err := vectordb.NewSQLiteStore(cfg.Index.DataPath)
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	index := vectordb.NewSnapshotIndex(embedder, store, logger)
	if err := index.LoadPersisted(ctx); err != nil {
		logger.Warn("persisted index unusable, will rebuild", zap.Error(err))
	}

	source := catalog.NewFileSource(cfg.Catalog.Path)

	var watcher ports.FileWatcher
	if cfg.Catalog.Watch {
		w, err := filewatcher.NewFSNotifyWatcher(nil, logger)
		if err != nil {
			return nil, fmt.Errorf("creating file watcher: %w", err)
		}
		watcher = w
	}

	reindex := usecases.NewReindexUseCase(source, index, watcher, logger)
	return &deps{
		embedder: embedder,
		model:    model,
		index:    index,
		source:   source,
		reindex:  reindex,
	}, nil
}
