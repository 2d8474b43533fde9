package quote

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists quotes and their line items. Implementations returned to
// the WithTx callback run every call inside the same transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error
	GetQuote(ctx context.Context, id uuid.UUID, forUpdate bool) (Quote, error)
	ListQuotes(ctx context.Context, params ListParams) ([]Quote, int, error)
	InsertQuote(ctx context.Context, q Quote) error
	UpdateQuote(ctx context.Context, q Quote) error
	DeleteQuote(ctx context.Context, id uuid.UUID) error
	InsertLineItem(ctx context.Context, li LineItem) error
	UpdateLineItem(ctx context.Context, li LineItem) error
	DeleteLineItem(ctx context.Context, quoteID, itemID uuid.UUID) error
	// ListExpirable returns draft and sent quotes whose validity ended before now.
	ListExpirable(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
