package ports

import (
	"context"

	"ChatScribe/internal/domain"
)

// Ledger is the durable per-message processing-state store and the sole
// dedup authority for the pipeline.
type Ledger interface {
	// UpsertIfAbsent returns the existing record when MessageID is already
	// known, otherwise creates a new unprocessed record. Atomic under
	// concurrent callers racing on the same id.
	UpsertIfAbsent(ctx context.Context, msg domain.SourceMessage) (domain.IngestionRecord, error)
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// ListProcessedIDs lets the backfill path skip whole pages without
	// per-message lookups.
	ListProcessedIDs(ctx context.Context) (map[string]struct{}, error)
	// MarkProcessed returns false when the record is missing or already
	// processed with a different key; calling twice with the same key is a
	// no-op that still returns true.
	MarkProcessed(ctx context.Context, messageID, publicationKey string) (bool, error)
	// StoreAnalysis attaches the raw analysis blob to a record, audit only.
	StoreAnalysis(ctx context.Context, messageID string, payload []byte) error
	Close() error
}

// Analyzer wraps the external text-analysis capability.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.AnalysisResult, error)
}

// Publisher wraps the external document store keyed by page title.
type Publisher interface {
	Exists(ctx context.Context, title string) (bool, error)
	// Read returns the current page body, or ErrPageNotFound.
	Read(ctx context.Context, title string) (string, error)
	// Write applies the unit per its mode and returns the page title.
	// Append to a missing page degrades to creation.
	Write(ctx context.Context, unit domain.PublicationUnit, editSummary string) (string, error)
}

// HistoryPager walks the conversation history backward in pages.
// An empty page means the history is exhausted; a short page does not.
type HistoryPager interface {
	NextPage(ctx context.Context, limit int) ([]domain.SourceMessage, error)
}

// MessageSource delivers new messages from the monitored conversation as
// they arrive, until stopped.
type MessageSource interface {
	Start(ctx context.Context) error
	Messages() <-chan domain.SourceMessage
	Stop() error
}
