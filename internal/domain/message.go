package domain

import "time"

// SourceMessage is a message as observed from the monitored conversation.
// Produced by the history pager or the live listener, consumed once by the
// pipeline, never mutated.
type SourceMessage struct {
	ID        string
	ChatID    string
	AuthorID  string
	Text      string
	Timestamp time.Time
}

// IngestionRecord is the durable processing state of one source message.
// At most one record exists per MessageID; PublicationKey is set exactly
// when Processed is true.
type IngestionRecord struct {
	MessageID      string
	ChatID         string
	AuthorID       string
	Text           string
	Timestamp      time.Time
	Processed      bool
	PublicationKey string
	Analysis       []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AnalysisResult is the structured output of the analysis gateway.
// Raw keeps the verbatim JSON extracted from the model response; it is
// persisted for audit only and never re-parsed.
type AnalysisResult struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	Raw        []byte   `json:"-"`
}

// WriteMode selects how a publication body is applied to an existing page.
type WriteMode string

const (
	ModeAppend    WriteMode = "append"
	ModeOverwrite WriteMode = "overwrite"
)

// PublicationUnit is the rendered title+body submitted to the document
// store for one message. Its Title becomes the record's PublicationKey on
// success.
type PublicationUnit struct {
	Title string
	Body  string
	Mode  WriteMode
}

// FallbackTitle derives the page title used when the analysis yields none.
func FallbackTitle(messageID string) string {
	return "Message_" + messageID
}
