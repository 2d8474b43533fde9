package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/obs"
)

// Locker serialises mutations of a single quote across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Validator checks request payloads.
type Validator interface {
	Struct(s any) error
}

// Settings holds the configurable defaults of the service.
type Settings struct {
	DefaultTaxRate decimal.Decimal
	Validity       time.Duration
	NumberPrefix   string
	DefaultLimit   int
	MaxLimit       int
	LockTTL        time.Duration
}

// Recalculation triggers reported to metrics.
const (
	TriggerCreate   = "create"
	TriggerLineItem = "line_item"
	TriggerPricing  = "pricing"
	TriggerPreview  = "preview"
)

// Service implements quote editing, pricing and lifecycle.
type Service struct {
	Store     Store
	Cache     *Cache
	Locker    Locker
	Events    Emitter
	Validator Validator
	Logger    zerolog.Logger
	Settings  Settings
	Now       func() time.Time
}

// ScheduleResult is the payment schedule of a quote.
type ScheduleResult struct {
	QuoteID    uuid.UUID              `json:"quoteId"`
	Total      decimal.Decimal        `json:"total"`
	Milestones []milestone.Allocation `json:"milestones"`
}

// now is truncated to the precision Postgres stores.
func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) validate(v any) error {
	if s.Validator == nil {
		return nil
	}
	return s.Validator.Struct(v)
}

// Create validates the input and stores a new draft quote.
func (s *Service) Create(ctx context.Context, in CreateInput) (Quote, error) {
	if s == nil || s.Store == nil {
		return Quote{}, errors.New("quote service not configured")
	}
	q, err := s.build(in, TriggerCreate)
	if err != nil {
		return Quote{}, err
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertQuote(ctx, q); err != nil {
			return err
		}
		for _, li := range q.LineItems {
			if err := tx.InsertLineItem(ctx, li); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	s.emit(ctx, events.TopicQuoteCreated, q.ID, map[string]any{
		"number": q.Number,
		"total":  q.Total,
	})
	return q, nil
}

// Preview prices a full quote payload without persisting anything.
func (s *Service) Preview(ctx context.Context, in CreateInput) (Quote, []milestone.Allocation, error) {
	q, err := s.build(in, TriggerPreview)
	if err != nil {
		return Quote{}, nil, err
	}
	return q, q.Schedule(), nil
}

func (s *Service) build(in CreateInput, trigger string) (Quote, error) {
	in.DetailsInput.normalize()
	if err := s.validate(in); err != nil {
		return Quote{}, err
	}
	fields := milestone.Defaults()
	if len(in.Milestones) > 0 {
		f, err := milestone.Flatten(in.Milestones)
		if err != nil {
			obs.IncMilestoneRejection(rejectionReason(err))
			return Quote{}, err
		}
		fields = f
	}

	now := s.now()
	q := Quote{
		ID:         uuid.New(),
		Status:     StatusDraft,
		TaxRate:    s.Settings.DefaultTaxRate,
		ValidUntil: now.Add(s.validity()),
		CreatedAt:  now,
		UpdatedAt:  now,
		LineItems:  make([]LineItem, 0, len(in.LineItems)),
	}
	q.Number = s.quoteNumber(now, q.ID)
	in.DetailsInput.apply(&q)
	q.setMilestones(fields)
	if in.Pricing != nil {
		in.Pricing.apply(&q)
	}
	for i, itemIn := range in.LineItems {
		li := LineItem{
			ID:        uuid.New(),
			QuoteID:   q.ID,
			Position:  i + 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		itemIn.apply(&li)
		li.Reprice()
		q.LineItems = append(q.LineItems, li)
	}
	s.recalculate(&q, trigger)
	return q, nil
}

func (s *Service) validity() time.Duration {
	if s.Settings.Validity > 0 {
		return s.Settings.Validity
	}
	return 30 * 24 * time.Hour
}

func (s *Service) quoteNumber(now time.Time, id uuid.UUID) string {
	prefix := strings.TrimSpace(s.Settings.NumberPrefix)
	if prefix == "" {
		prefix = "Q"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}

// Get returns a quote with its line items, reading through the cache.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Quote, error) {
	if s == nil || s.Store == nil {
		return Quote{}, errors.New("quote service not configured")
	}
	var cached Quote
	if ok, err := s.Cache.Get(ctx, id, &cached); err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", id.String()).Msg("quote cache read failed")
	} else if ok {
		return cached, nil
	}
	gen, genErr := s.Cache.Generation(ctx, id)
	q, err := s.Store.GetQuote(ctx, id, false)
	if err != nil {
		return Quote{}, err
	}
	if genErr != nil {
		s.Logger.Warn().Err(genErr).Str("quote_id", id.String()).Msg("quote cache generation read failed")
		return q, nil
	}
	if _, err := s.Cache.SetIfCurrent(ctx, q, gen); err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", id.String()).Msg("quote cache write failed")
	}
	return q, nil
}

// List returns a page of quotes, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, error) {
	if s == nil || s.Store == nil {
		return ListResult{}, errors.New("quote service not configured")
	}
	if params.Status != "" && !params.Status.Valid() {
		return ListResult{}, common.ValidationFailed("status is invalid", []common.FieldError{{
			Field:   "status",
			Rule:    "oneof",
			Message: "must be one of [draft sent accepted declined expired]",
		}})
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 {
		params.PerPage = s.Settings.DefaultLimit
	}
	if params.PerPage < 1 {
		params.PerPage = 20
	}
	if s.Settings.MaxLimit > 0 && params.PerPage > s.Settings.MaxLimit {
		params.PerPage = s.Settings.MaxLimit
	}
	items, total, err := s.Store.ListQuotes(ctx, params)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: params.Page, PerPage: params.PerPage}, nil
}

// UpdateDetails replaces the customer and project fields.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, in DetailsInput) (Quote, error) {
	in.normalize()
	if err := s.validate(in); err != nil {
		return Quote{}, err
	}
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "details", func(_ Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		in.apply(q)
		return nil
	})
}

// AddLineItem prices and appends a line item, then recomputes the quote.
func (s *Service) AddLineItem(ctx context.Context, id uuid.UUID, in LineItemInput) (Quote, error) {
	if err := s.validate(in); err != nil {
		return Quote{}, err
	}
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "line_item_added", func(tx Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		now := s.now()
		li := LineItem{
			ID:        uuid.New(),
			QuoteID:   q.ID,
			Position:  q.nextPosition(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		in.apply(&li)
		li.Reprice()
		if err := tx.InsertLineItem(ctx, li); err != nil {
			return err
		}
		return s.reload(ctx, tx, q)
	})
}

// UpdateLineItem re-prices an existing line item and recomputes the quote.
func (s *Service) UpdateLineItem(ctx context.Context, id, itemID uuid.UUID, in LineItemInput) (Quote, error) {
	if err := s.validate(in); err != nil {
		return Quote{}, err
	}
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "line_item_updated", func(tx Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		idx := q.lineItemIndex(itemID)
		if idx < 0 {
			return ErrLineItemNotFound
		}
		li := q.LineItems[idx]
		in.apply(&li)
		li.Reprice()
		li.UpdatedAt = s.now()
		if err := tx.UpdateLineItem(ctx, li); err != nil {
			return err
		}
		return s.reload(ctx, tx, q)
	})
}

// RemoveLineItem deletes a line item and recomputes the quote.
func (s *Service) RemoveLineItem(ctx context.Context, id, itemID uuid.UUID) (Quote, error) {
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "line_item_removed", func(tx Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		if q.lineItemIndex(itemID) < 0 {
			return ErrLineItemNotFound
		}
		if err := tx.DeleteLineItem(ctx, q.ID, itemID); err != nil {
			return err
		}
		return s.reload(ctx, tx, q)
	})
}

// UpdatePricing changes the quote level discount and tax, then recomputes.
func (s *Service) UpdatePricing(ctx context.Context, id uuid.UUID, in PricingInput) (Quote, error) {
	if err := s.validate(in); err != nil {
		return Quote{}, err
	}
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "pricing", func(_ Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		in.apply(q)
		s.recalculate(q, TriggerPricing)
		return nil
	})
}

// UpdateMilestones validates and stores a new payment schedule.
func (s *Service) UpdateMilestones(ctx context.Context, id uuid.UUID, ms []milestone.Milestone) (Quote, error) {
	fields, err := milestone.Flatten(ms)
	if err != nil {
		obs.IncMilestoneRejection(rejectionReason(err))
		return Quote{}, err
	}
	return s.mutate(ctx, id, events.TopicQuoteUpdated, "milestones", func(_ Store, q *Quote) error {
		if q.Status.Locked() {
			return ErrQuoteLocked
		}
		q.setMilestones(fields)
		return nil
	})
}

// Schedule returns the milestone amounts for the current quote total.
func (s *Service) Schedule(ctx context.Context, id uuid.UUID) (ScheduleResult, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return ScheduleResult{}, err
	}
	return ScheduleResult{QuoteID: q.ID, Total: q.Total, Milestones: q.Schedule()}, nil
}

// Transition moves the quote along its lifecycle.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (Quote, error) {
	if !to.Valid() {
		return Quote{}, fmt.Errorf("unknown status %q: %w", to, ErrInvalidTransition)
	}
	var from Status
	q, err := s.mutate(ctx, id, "", "", func(_ Store, q *Quote) error {
		from = q.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%s to %s: %w", from, to, ErrInvalidTransition)
		}
		now := s.now()
		q.Status = to
		switch to {
		case StatusSent:
			q.SentAt = &now
		case StatusAccepted, StatusDeclined:
			q.RespondedAt = &now
		}
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	obs.IncTransition(string(from), string(to))
	s.emit(ctx, events.TopicQuoteStatusChanged, q.ID, map[string]any{
		"number": q.Number,
		"from":   from,
		"to":     to,
	})
	return q, nil
}

// ExpireOverdue moves draft and sent quotes past their validity date to
// expired. It returns the number of quotes expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	if s == nil || s.Store == nil {
		return 0, errors.New("quote service not configured")
	}
	ids, err := s.Store.ListExpirable(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	var joined error
	for _, id := range ids {
		if _, err := s.Transition(ctx, id, StatusExpired); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		expired++
	}
	return expired, joined
}

// Delete removes a draft quote.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.Store == nil {
		return errors.New("quote service not configured")
	}
	var number string
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			q, err := tx.GetQuote(ctx, id, true)
			if err != nil {
				return err
			}
			if q.Status != StatusDraft {
				return ErrNotDraft
			}
			number = q.Number
			return tx.DeleteQuote(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.emit(ctx, events.TopicQuoteDeleted, id, map[string]any{"number": number})
	return nil
}

// mutate loads the quote under lock inside a transaction, applies fn and
// writes the quote row back. When topic is set an event carrying change is
// emitted after commit.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, topic, change string, fn func(tx Store, q *Quote) error) (Quote, error) {
	if s == nil || s.Store == nil {
		return Quote{}, errors.New("quote service not configured")
	}
	var out Quote
	err := s.withLock(ctx, id, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			q, err := tx.GetQuote(ctx, id, true)
			if err != nil {
				return err
			}
			if err := fn(tx, &q); err != nil {
				return err
			}
			q.UpdatedAt = s.now()
			if err := tx.UpdateQuote(ctx, q); err != nil {
				return err
			}
			out = q
			return nil
		})
	})
	if err != nil {
		return Quote{}, err
	}
	s.invalidate(ctx, id)
	if topic != "" {
		s.emit(ctx, topic, out.ID, map[string]any{
			"number": out.Number,
			"change": change,
			"total":  out.Total,
		})
	}
	return out, nil
}

// reload refreshes the line items from tx and recomputes the totals.
func (s *Service) reload(ctx context.Context, tx Store, q *Quote) error {
	fresh, err := tx.GetQuote(ctx, q.ID, false)
	if err != nil {
		return err
	}
	q.LineItems = fresh.LineItems
	s.recalculate(q, TriggerLineItem)
	return nil
}

func (s *Service) recalculate(q *Quote, trigger string) {
	summary := q.Recalculate()
	obs.IncRecalculation(trigger)
	if summary.Negative() {
		obs.IncNegativeTotal()
		s.Logger.Warn().
			Str("quote_id", q.ID.String()).
			Str("total", summary.Total.StringFixed(2)).
			Str("trigger", trigger).
			Msg("quote total is negative")
	}
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, "quote:"+id.String(), s.Settings.LockTTL, fn)
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.Cache.Invalidate(ctx, id); err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", id.String()).Msg("quote cache invalidation failed")
	}
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, id, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("quote_id", id.String()).Msg("emit quote event")
	}
}

func (q Quote) lineItemIndex(id uuid.UUID) int {
	for i, li := range q.LineItems {
		if li.ID == id {
			return i
		}
	}
	return -1
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, milestone.ErrSumMismatch):
		return "sum"
	case errors.Is(err, milestone.ErrTooManyMilestones):
		return "too_many"
	default:
		return "range"
	}
}
