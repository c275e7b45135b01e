package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"ChatScribe/internal/domain"
	"ChatScribe/internal/ports"
)

const recordsTable = "ingestion_records"

const schema = `CREATE TABLE IF NOT EXISTS ingestion_records (
    message_id      TEXT PRIMARY KEY,
    chat_id         TEXT NOT NULL,
    author_id       TEXT NOT NULL,
    text            TEXT NOT NULL,
    ts              TIMESTAMPTZ NOT NULL,
    processed       BOOLEAN NOT NULL DEFAULT FALSE,
    publication_key TEXT,
    analysis        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresLedger persists per-message processing state into Postgres.
type PostgresLedger struct {
	db *sql.DB
}

var _ ports.Ledger = (*PostgresLedger)(nil)

// Open connects to Postgres and ensures the ledger schema exists.
// Any failure here is fatal to startup.
func Open(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &ports.LedgerError{Op: "open", Err: err}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ports.LedgerError{Op: "ping", Err: err}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &ports.LedgerError{Op: "create schema", Err: err}
	}

	return &PostgresLedger{db: db}, nil
}

// UpsertIfAbsent inserts a new unprocessed record unless one already exists
// for the message id. ON CONFLICT DO NOTHING makes the create atomic when
// the live and backfill paths race on the same message.
func (l *PostgresLedger) UpsertIfAbsent(ctx context.Context, msg domain.SourceMessage) (domain.IngestionRecord, error) {
	query, args, err := psql.Insert(recordsTable).
		Columns("message_id", "chat_id", "author_id", "text", "ts").
		Values(msg.ID, msg.ChatID, msg.AuthorID, msg.Text, msg.Timestamp).
		Suffix("ON CONFLICT (message_id) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.IngestionRecord{}, &ports.LedgerError{Op: "build insert", Err: err}
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return domain.IngestionRecord{}, &ports.LedgerError{Op: "insert record", Err: err}
	}

	return l.getRecord(ctx, msg.ID)
}

// IsProcessed reports whether the message has already been published.
// An unknown message id is simply not processed.
func (l *PostgresLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	query, args, err := psql.Select("processed").
		From(recordsTable).
		Where(sq.Eq{"message_id": messageID}).
		ToSql()
	if err != nil {
		return false, &ports.LedgerError{Op: "build select", Err: err}
	}

	var processed bool
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&processed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, &ports.LedgerError{Op: "query processed", Err: err}
	}

	return processed, nil
}

// ListProcessedIDs returns the id set of all published messages.
func (l *PostgresLedger) ListProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := psql.Select("message_id").
		From(recordsTable).
		Where(sq.Eq{"processed": true}).
		ToSql()
	if err != nil {
		return nil, &ports.LedgerError{Op: "build select", Err: err}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ports.LedgerError{Op: "query processed ids", Err: err}
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &ports.LedgerError{Op: "scan id", Err: err}
		}
		ids[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, &ports.LedgerError{Op: "iterate ids", Err: err}
	}

	return ids, nil
}

// MarkProcessed flips the record to processed and stores the publication
// key. The predicate keeps the call idempotent for the same key while
// refusing to overwrite a different one.
func (l *PostgresLedger) MarkProcessed(ctx context.Context, messageID, publicationKey string) (bool, error) {
	query, args, err := psql.Update(recordsTable).
		Set("processed", true).
		Set("publication_key", publicationKey).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"message_id": messageID}).
		Where(sq.Expr("(NOT processed OR publication_key = ?)", publicationKey)).
		ToSql()
	if err != nil {
		return false, &ports.LedgerError{Op: "build update", Err: err}
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, &ports.LedgerError{Op: "mark processed", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &ports.LedgerError{Op: "rows affected", Err: err}
	}

	return affected > 0, nil
}

// StoreAnalysis attaches the raw analysis payload to the record.
func (l *PostgresLedger) StoreAnalysis(ctx context.Context, messageID string, payload []byte) error {
	query, args, err := psql.Update(recordsTable).
		Set("analysis", payload).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"message_id": messageID}).
		ToSql()
	if err != nil {
		return &ports.LedgerError{Op: "build update", Err: err}
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return &ports.LedgerError{Op: "store analysis", Err: err}
	}

	return nil
}

// Close releases the underlying database handle.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

func (l *PostgresLedger) getRecord(ctx context.Context, messageID string) (domain.IngestionRecord, error) {
	query, args, err := psql.Select(
		"message_id", "chat_id", "author_id", "text", "ts",
		"processed", "publication_key", "analysis", "created_at", "updated_at",
	).
		From(recordsTable).
		Where(sq.Eq{"message_id": messageID}).
		ToSql()
	if err != nil {
		return domain.IngestionRecord{}, &ports.LedgerError{Op: "build select", Err: err}
	}

	var (
		rec     domain.IngestionRecord
		pubKey  sql.NullString
		payload []byte
	)
	row := l.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(
		&rec.MessageID, &rec.ChatID, &rec.AuthorID, &rec.Text, &rec.Timestamp,
		&rec.Processed, &pubKey, &payload, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.IngestionRecord{}, &ports.LedgerError{Op: fmt.Sprintf("load record %s", messageID), Err: err}
	}

	rec.PublicationKey = pubKey.String
	rec.Analysis = payload
	return rec, nil
}
