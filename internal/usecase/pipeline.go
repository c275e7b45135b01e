package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ChatScribe/internal/domain"
	"ChatScribe/internal/ports"
)

const (
	editSummary     = "bot update"
	defaultPageSize = 100
)

// Result is the terminal state of one message's trip through the pipeline.
type Result int

const (
	ResultPublished Result = iota
	ResultAlreadyPublished
	ResultSkippedEmpty
	ResultFailed
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Ledger    ports.Ledger
	Analyzer  ports.Analyzer
	Publisher ports.Publisher
	History   ports.HistoryPager
	Live      ports.MessageSource
	Logger    *slog.Logger
	PageSize  int
}

// Pipeline implements the message-ingestion workflow: dedup against the
// ledger, analyze, publish, mark processed. One message is driven to
// completion before the next is accepted, so no two in-flight publications
// can interleave writes to the same title.
type Pipeline struct {
	ledger    ports.Ledger
	analyzer  ports.Analyzer
	publisher ports.Publisher
	history   ports.HistoryPager
	live      ports.MessageSource
	logger    *slog.Logger
	pageSize  int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	size := deps.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Pipeline{
		ledger:    deps.Ledger,
		analyzer:  deps.Analyzer,
		publisher: deps.Publisher,
		history:   deps.History,
		live:      deps.Live,
		logger:    deps.Logger,
		pageSize:  size,
	}
}

// Run drives the historical backfill to exhaustion, then drains live
// messages until the context is cancelled. A failed backfill does not stop
// live processing.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.RunBackfill(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.error("backfill aborted, continuing with live messages", "error", err)
	}

	if p.live == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.live.Messages():
			// Failures are isolated per message; the subscription survives.
			_, _ = p.Process(ctx, msg, nil)
		}
	}
}

// RunBackfill walks the conversation history page by page until exhausted.
// Before each page the processed-id set is loaded once so already-done
// messages are skipped without per-message ledger round-trips.
func (p *Pipeline) RunBackfill(ctx context.Context) error {
	if p.history == nil {
		return nil
	}

	totalProcessed := 0
	totalSkipped := 0

	for {
		page, err := p.history.NextPage(ctx, p.pageSize)
		if err != nil {
			return fmt.Errorf("fetch history page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		done, err := p.ledger.ListProcessedIDs(ctx)
		if err != nil {
			// Per-message dedup still holds via UpsertIfAbsent.
			p.warn("cannot load processed ids, falling back to per-message lookups", "error", err)
			done = nil
		}

		p.info("processing history page", "messages", len(page), "known_processed", len(done))

		for _, msg := range page {
			res, err := p.Process(ctx, msg, done)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			switch res {
			case ResultPublished:
				totalProcessed++
			case ResultAlreadyPublished:
				totalSkipped++
			}
		}

		p.info("history page done", "processed_so_far", totalProcessed, "skipped_so_far", totalSkipped)
	}

	p.info("backfill complete", "processed", totalProcessed, "skipped", totalSkipped)
	return nil
}

// Process drives a single message through analysis and publication.
// Failures leave the ledger record unprocessed so a later backfill pass can
// retry; only a successful publication marks it done. The done set is an
// optional in-memory fast path loaded from ListProcessedIDs.
func (p *Pipeline) Process(ctx context.Context, msg domain.SourceMessage, done map[string]struct{}) (Result, error) {
	// Empty text never earns a ledger record or an analysis call.
	if strings.TrimSpace(msg.Text) == "" {
		p.debug("skip empty message", "id", msg.ID)
		return ResultSkippedEmpty, nil
	}

	if _, ok := done[msg.ID]; ok {
		p.debug("message already processed", "id", msg.ID)
		return ResultAlreadyPublished, nil
	}

	record, err := p.ledger.UpsertIfAbsent(ctx, msg)
	if err != nil {
		p.error("ledger upsert failed", "id", msg.ID, "error", err)
		return ResultFailed, err
	}
	if record.Processed {
		p.debug("message already processed", "id", msg.ID, "page", record.PublicationKey)
		return ResultAlreadyPublished, nil
	}

	analysis, err := p.analyzer.Analyze(ctx, msg.Text)
	if err != nil {
		p.error("analysis failed, message left unprocessed", "id", msg.ID, "error", err)
		return ResultFailed, err
	}

	// Audit only; the pipeline never re-reads this blob.
	if err := p.ledger.StoreAnalysis(ctx, msg.ID, analysis.Raw); err != nil {
		p.warn("cannot persist analysis payload", "id", msg.ID, "error", err)
	}

	title := analysis.Title
	if title == "" {
		title = domain.FallbackTitle(msg.ID)
	}

	unit := domain.PublicationUnit{
		Title: title,
		Body:  renderBody(title, msg, analysis.Categories),
		Mode:  domain.ModeAppend,
	}

	key, err := p.publisher.Write(ctx, unit, editSummary)
	if err != nil {
		p.error("publication failed, message left unprocessed", "id", msg.ID, "title", title, "error", err)
		return ResultFailed, err
	}

	marked, err := p.ledger.MarkProcessed(ctx, msg.ID, key)
	if err != nil || !marked {
		// The page is written but the ledger does not know: the message
		// will be re-appended on the next backfill pass. Needs manual
		// reconciliation.
		p.error("PUBLISHED BUT NOT RECORDED: expect a duplicate append on the next backfill",
			"id", msg.ID, "page", key, "marked", marked, "error", err)
		return ResultPublished, err
	}

	p.info("message published", "id", msg.ID, "page", key)
	return ResultPublished, nil
}

// renderBody produces the publication body deterministically from the
// message and its analysis.
func renderBody(title string, msg domain.SourceMessage, categories []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, msg.Text)
	b.WriteString("### Metadata\n")
	fmt.Fprintf(&b, "- Date: %s\n", msg.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Author: %s\n", msg.AuthorID)
	fmt.Fprintf(&b, "- Message ID: %s\n", msg.ID)

	for i, cat := range categories {
		if i == 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[[Category:%s]]\n", cat)
	}

	return b.String()
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) error(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
