package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on Postgres. Decimal columns are scanned through
// decimal.Decimal's sql.Scanner.
type PGStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPGStore builds a store on top of the pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, db: pool}
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer one.
func (s *PGStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(&PGStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const quoteColumns = `id, number, status, customer_name, customer_email, customer_phone, customer_address,
	title, project_type, notes, subtotal, discount_percentage, discount_amount, discounted_subtotal,
	tax_rate, tax_amount, is_manual_tax, total, down_payment_percentage, milestone_payment_percentage,
	final_payment_percentage, milestone_description, valid_until, sent_at, responded_at, created_at, updated_at`

const lineItemColumns = `id, quote_id, position, category, description, quantity, unit, unit_price,
	discount_percentage, discount_amount, total_price, created_at, updated_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(
		&q.ID, &q.Number, &q.Status, &q.Customer.Name, &q.Customer.Email, &q.Customer.Phone, &q.Customer.Address,
		&q.Title, &q.ProjectType, &q.Notes, &q.Subtotal, &q.DiscountPercentage, &q.DiscountAmount, &q.DiscountedSubtotal,
		&q.TaxRate, &q.TaxAmount, &q.IsManualTax, &q.Total, &q.DownPaymentPercentage, &q.MilestonePaymentPercentage,
		&q.FinalPaymentPercentage, &q.MilestoneDescription, &q.ValidUntil, &q.SentAt, &q.RespondedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}

// GetQuote loads a quote with its line items ordered by position.
func (s *PGStore) GetQuote(ctx context.Context, id uuid.UUID, forUpdate bool) (Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	q, err := scanQuote(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, fmt.Errorf("get quote: %w", err)
	}
	rows, err := s.db.Query(ctx, `SELECT `+lineItemColumns+` FROM quote_line_items WHERE quote_id = $1 ORDER BY position, created_at`, id)
	if err != nil {
		return Quote{}, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()
	q.LineItems = []LineItem{}
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.QuoteID, &li.Position, &li.Category, &li.Description, &li.Quantity, &li.Unit,
			&li.UnitPrice, &li.DiscountPercentage, &li.DiscountAmount, &li.TotalPrice, &li.CreatedAt, &li.UpdatedAt); err != nil {
			return Quote{}, fmt.Errorf("scan line item: %w", err)
		}
		q.LineItems = append(q.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return Quote{}, fmt.Errorf("iterate line items: %w", err)
	}
	return q, nil
}

// ListQuotes returns a page of quotes, newest first, without line items.
func (s *PGStore) ListQuotes(ctx context.Context, params ListParams) ([]Quote, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM quotes WHERE ($1 = '' OR status = $1)`, string(params.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count quotes: %w", err)
	}
	offset := (params.Page - 1) * params.PerPage
	rows, err := s.db.Query(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, string(params.Status), params.PerPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()
	items := make([]Quote, 0, params.PerPage)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, total, nil
}

// InsertQuote creates the quote row. Line items are inserted separately.
func (s *PGStore) InsertQuote(ctx context.Context, q Quote) error {
	_, err := s.db.Exec(ctx, `INSERT INTO quotes (`+quoteColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		q.ID, q.Number, q.Status, q.Customer.Name, q.Customer.Email, q.Customer.Phone, q.Customer.Address,
		q.Title, q.ProjectType, q.Notes, q.Subtotal, q.DiscountPercentage, q.DiscountAmount, q.DiscountedSubtotal,
		q.TaxRate, q.TaxAmount, q.IsManualTax, q.Total, q.DownPaymentPercentage, q.MilestonePaymentPercentage,
		q.FinalPaymentPercentage, q.MilestoneDescription, q.ValidUntil, q.SentAt, q.RespondedAt, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

// UpdateQuote writes every mutable column of q.
func (s *PGStore) UpdateQuote(ctx context.Context, q Quote) error {
	tag, err := s.db.Exec(ctx, `UPDATE quotes SET
		status = $2, customer_name = $3, customer_email = $4, customer_phone = $5, customer_address = $6,
		title = $7, project_type = $8, notes = $9, subtotal = $10, discount_percentage = $11, discount_amount = $12,
		discounted_subtotal = $13, tax_rate = $14, tax_amount = $15, is_manual_tax = $16, total = $17,
		down_payment_percentage = $18, milestone_payment_percentage = $19, final_payment_percentage = $20,
		milestone_description = $21, valid_until = $22, sent_at = $23, responded_at = $24, updated_at = $25
		WHERE id = $1`,
		q.ID, q.Status, q.Customer.Name, q.Customer.Email, q.Customer.Phone, q.Customer.Address,
		q.Title, q.ProjectType, q.Notes, q.Subtotal, q.DiscountPercentage, q.DiscountAmount,
		q.DiscountedSubtotal, q.TaxRate, q.TaxAmount, q.IsManualTax, q.Total,
		q.DownPaymentPercentage, q.MilestonePaymentPercentage, q.FinalPaymentPercentage,
		q.MilestoneDescription, q.ValidUntil, q.SentAt, q.RespondedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQuote removes the quote; line items cascade.
func (s *PGStore) DeleteQuote(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertLineItem adds a line item row.
func (s *PGStore) InsertLineItem(ctx context.Context, li LineItem) error {
	_, err := s.db.Exec(ctx, `INSERT INTO quote_line_items (`+lineItemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		li.ID, li.QuoteID, li.Position, li.Category, li.Description, li.Quantity, li.Unit, li.UnitPrice,
		li.DiscountPercentage, li.DiscountAmount, li.TotalPrice, li.CreatedAt, li.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

// UpdateLineItem writes the editable and derived columns of li.
func (s *PGStore) UpdateLineItem(ctx context.Context, li LineItem) error {
	tag, err := s.db.Exec(ctx, `UPDATE quote_line_items SET
		category = $3, description = $4, quantity = $5, unit = $6, unit_price = $7,
		discount_percentage = $8, discount_amount = $9, total_price = $10, updated_at = $11
		WHERE id = $1 AND quote_id = $2`,
		li.ID, li.QuoteID, li.Category, li.Description, li.Quantity, li.Unit, li.UnitPrice,
		li.DiscountPercentage, li.DiscountAmount, li.TotalPrice, li.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineItemNotFound
	}
	return nil
}

// DeleteLineItem removes one line item of the quote.
func (s *PGStore) DeleteLineItem(ctx context.Context, quoteID, itemID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM quote_line_items WHERE id = $1 AND quote_id = $2`, itemID, quoteID)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineItemNotFound
	}
	return nil
}

// ListExpirable returns ids of draft and sent quotes past valid_until.
func (s *PGStore) ListExpirable(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM quotes WHERE status IN ('draft', 'sent') AND valid_until < $1 ORDER BY valid_until`, now)
	if err != nil {
		return nil, fmt.Errorf("list expirable quotes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan expirable quotes: %w", err)
	}
	return ids, nil
}
