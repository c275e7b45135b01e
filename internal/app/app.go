package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ChatScribe/internal/config"
	"ChatScribe/internal/infrastructure/chat"
	"ChatScribe/internal/infrastructure/llm"
	"ChatScribe/internal/infrastructure/storage"
	"ChatScribe/internal/infrastructure/wiki"
	"ChatScribe/internal/logging"
	"ChatScribe/internal/ports"
	"ChatScribe/internal/usecase"
)

// Application owns every collaborator's lifecycle: the ledger handle, the
// analysis and wiki clients, the chat source, and the pipeline wiring them
// together. Any collaborator that cannot be set up aborts construction.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	ledger   ports.Ledger
	source   *chat.DiscordSource
	pipeline *usecase.Pipeline
}

// New builds a runnable application instance. Setup failures here are
// fatal; per-message failures later are not.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	ledger, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	analyzer := llm.NewOllamaClient(cfg.Ollama, baseLogger.With("component", "analysis"))
	if err := analyzer.Setup(ctx); err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("setup analysis gateway: %w", err)
	}

	publisher, err := wiki.NewClient(cfg.Wiki, baseLogger.With("component", "wiki"))
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("setup wiki client: %w", err)
	}
	if err := publisher.Login(ctx); err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("wiki login: %w", err)
	}

	source, err := chat.NewDiscordSource(cfg.Discord, baseLogger.With("component", "chat"))
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("setup chat source: %w", err)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Ledger:    ledger,
		Analyzer:  analyzer,
		Publisher: publisher,
		History:   source,
		Live:      source,
		Logger:    baseLogger.With("component", "pipeline"),
		PageSize:  cfg.Backfill.PageSize,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		ledger:   ledger,
		source:   source,
		pipeline: pipeline,
	}, nil
}

// Run backfills the conversation history, then follows live messages until
// the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("start chat source: %w", err)
	}
	defer func() {
		if err := a.source.Stop(); err != nil {
			a.logger.Warn("chat source stop", "error", err)
		}
	}()

	err := a.pipeline.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Backfill performs a single historical pass and exits; used to retry
// messages that earlier runs left unprocessed. The live gateway is never
// opened (history paging is plain REST).
func (a *Application) Backfill(ctx context.Context) error {
	return a.pipeline.RunBackfill(ctx)
}

// Close releases the ledger handle; safe to call once at shutdown.
func (a *Application) Close() {
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn("ledger close", "error", err)
	}
}
