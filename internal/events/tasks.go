package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-quotes/internal/resilience"
)

// TypeDeliverWebhook is the asynq task type carrying one event to the
// webhook subscriber.
const TypeDeliverWebhook = "events:deliver_webhook"

// QueueName is the asynq queue webhook deliveries run on.
const QueueName = "events"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// WebhookQueue is the API-side Notifier: it hands subscribed events to the
// worker instead of calling the subscriber inside the request.
type WebhookQueue struct {
	Tasks  Enqueuer
	Topics []string
}

// Notify implements Notifier. The task id is derived from the event id, so
// an event is queued at most once.
func (q WebhookQueue) Notify(ctx context.Context, ev Event) error {
	if q.Tasks == nil || !subscribed(q.Topics, ev.Topic) {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.Tasks.EnqueueContext(ctx, asynq.NewTask(TypeDeliverWebhook, payload),
		asynq.Queue(QueueName),
		asynq.MaxRetry(10),
		asynq.TaskID("webhook:"+ev.ID.String()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// HandleDeliverTask is the asynq handler for TypeDeliverWebhook. A 4xx
// answer other than 429 means the subscriber rejected the event, so the
// task is not retried.
func (n *WebhookNotifier) HandleDeliverTask(ctx context.Context, t *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode webhook event: %v: %w", err, asynq.SkipRetry)
	}
	err := n.Notify(ctx, ev)
	var status *resilience.StatusError
	if errors.As(err, &status) && status.StatusCode >= 400 && status.StatusCode < 500 && status.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Register mounts the delivery handler on mux.
func (n *WebhookNotifier) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDeliverWebhook, n.HandleDeliverTask)
}

func subscribed(topics []string, topic string) bool {
	return len(topics) == 0 || slices.Contains(topics, topic)
}
