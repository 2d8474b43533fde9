package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no document was rendered for a quote yet.
var ErrNotFound = errors.New("document not found")

// Document is a stored rendering of a quote.
type Document struct {
	QuoteID        uuid.UUID
	PDF            []byte
	QuoteUpdatedAt time.Time
	RenderedAt     time.Time
}

// Store persists rendered documents.
type Store interface {
	Save(ctx context.Context, doc Document) error
	Load(ctx context.Context, quoteID uuid.UUID) (Document, error)
}

// DBTX is the subset of pgx used by PGStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps the latest rendering per quote in quote_documents.
type PGStore struct {
	DB DBTX
}

// Save upserts the document for its quote.
func (s PGStore) Save(ctx context.Context, doc Document) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO quote_documents (quote_id, pdf, quote_updated_at, rendered_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (quote_id) DO UPDATE
SET pdf = EXCLUDED.pdf, quote_updated_at = EXCLUDED.quote_updated_at, rendered_at = EXCLUDED.rendered_at`,
		doc.QuoteID, doc.PDF, doc.QuoteUpdatedAt, doc.RenderedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// Load returns the stored document of quoteID.
func (s PGStore) Load(ctx context.Context, quoteID uuid.UUID) (Document, error) {
	var doc Document
	err := s.DB.QueryRow(ctx, `SELECT quote_id, pdf, quote_updated_at, rendered_at FROM quote_documents WHERE quote_id = $1`, quoteID).
		Scan(&doc.QuoteID, &doc.PDF, &doc.QuoteUpdatedAt, &doc.RenderedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}
