package quote

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// TypeExpireOverdue is the periodic task that expires quotes past their
// validity date.
const TypeExpireOverdue = "quote:expire_overdue"

// NewExpireTask builds the periodic expiry task. Unique guards against
// overlapping runs when the scheduler fires faster than a sweep finishes.
func NewExpireTask() *asynq.Task {
	return asynq.NewTask(TypeExpireOverdue, nil, asynq.MaxRetry(1), asynq.Unique(time.Minute))
}

// HandleExpireTask is the asynq handler for TypeExpireOverdue.
func (s *Service) HandleExpireTask(ctx context.Context, _ *asynq.Task) error {
	n, err := s.ExpireOverdue(ctx)
	if n > 0 {
		s.Logger.Info().Int("expired", n).Msg("expired overdue quotes")
	}
	return err
}

// Register mounts the quote handlers on mux.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeExpireOverdue, s.HandleExpireTask)
}
