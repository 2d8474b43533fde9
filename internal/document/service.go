package document

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/obs"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

// Quotes loads the quote to render.
type Quotes interface {
	Get(ctx context.Context, id uuid.UUID) (quote.Quote, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Service renders, stores and serves quote documents.
type Service struct {
	Quotes    Quotes
	Store     Store
	Generator *Generator
	Tasks     Enqueuer
	Events    Emitter
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Enqueue schedules a background render. Without a task client the
// document is rendered inline.
func (s *Service) Enqueue(ctx context.Context, quoteID uuid.UUID) error {
	if s.Tasks == nil {
		_, err := s.Render(ctx, quoteID)
		return err
	}
	task, err := NewRenderTask(quoteID)
	if err != nil {
		return err
	}
	info, err := s.Tasks.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	s.Logger.Debug().Str("quote_id", quoteID.String()).Str("task_id", info.ID).Msg("document render enqueued")
	return nil
}

// Render builds the PDF for the current state of the quote and stores it.
func (s *Service) Render(ctx context.Context, quoteID uuid.UUID) ([]byte, error) {
	if s.Quotes == nil || s.Generator == nil {
		return nil, errors.New("document service not configured")
	}
	q, err := s.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	pdf, err := s.Generator.Render(q)
	if err != nil {
		obs.IncDocumentRendered("error")
		return nil, err
	}
	obs.IncDocumentRendered("ok")
	if s.Store != nil {
		doc := Document{QuoteID: q.ID, PDF: pdf, QuoteUpdatedAt: q.UpdatedAt, RenderedAt: s.now()}
		if err := s.Store.Save(ctx, doc); err != nil {
			return nil, err
		}
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicQuoteDocumentRendered, q.ID, map[string]any{
			"number": q.Number,
			"bytes":  len(pdf),
		}); err != nil {
			s.Logger.Error().Err(err).Str("quote_id", q.ID.String()).Msg("emit document event")
		}
	}
	return pdf, nil
}

// PDF returns the stored document when it matches the quote's last update
// and renders a fresh one otherwise.
func (s *Service) PDF(ctx context.Context, quoteID uuid.UUID) ([]byte, error) {
	if s.Store == nil || s.Quotes == nil {
		return s.Render(ctx, quoteID)
	}
	q, err := s.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store.Load(ctx, quoteID)
	switch {
	case err == nil && doc.QuoteUpdatedAt.Equal(q.UpdatedAt):
		return doc.PDF, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		s.Logger.Warn().Err(err).Str("quote_id", quoteID.String()).Msg("load stored document")
	}
	return s.Render(ctx, quoteID)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
