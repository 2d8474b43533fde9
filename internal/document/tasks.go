package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-quotes/internal/quote"
)

// TypeRenderDocument is the asynq task type that renders a quote PDF.
const TypeRenderDocument = "quote:render_document"

// QueueName is the asynq queue document tasks run on.
const QueueName = "documents"

type renderPayload struct {
	QuoteID uuid.UUID `json:"quoteId"`
}

// NewRenderTask builds the task rendering quoteID.
func NewRenderTask(quoteID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(renderPayload{QuoteID: quoteID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRenderDocument, payload, asynq.Queue(QueueName), asynq.MaxRetry(5)), nil
}

// HandleRenderTask is the asynq handler for TypeRenderDocument. Tasks for
// deleted quotes are not retried.
func (s *Service) HandleRenderTask(ctx context.Context, t *asynq.Task) error {
	var p renderPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode render payload: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := s.Render(ctx, p.QuoteID); err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			return fmt.Errorf("quote %s: %v: %w", p.QuoteID, err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Register mounts the document handlers on mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRenderDocument, s.HandleRenderTask)
}
