package events_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/events"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	return &asynq.TaskInfo{ID: "t"}, nil
}

func TestWebhookQueueEnqueuesSubscribedEvents(t *testing.T) {
	tasks := &captureEnqueuer{}
	q := events.WebhookQueue{Tasks: tasks, Topics: []string{events.TopicQuoteStatusChanged}}
	ev := events.Event{ID: uuid.New(), Topic: events.TopicQuoteStatusChanged, AggregateID: uuid.New(), Payload: json.RawMessage(`{"to":"accepted"}`)}

	require.NoError(t, q.Notify(context.Background(), ev))
	require.NoError(t, q.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicQuoteCreated}))
	require.Len(t, tasks.tasks, 1)
	require.Equal(t, events.TypeDeliverWebhook, tasks.tasks[0].Type())

	var decoded events.Event
	require.NoError(t, json.Unmarshal(tasks.tasks[0].Payload(), &decoded))
	require.Equal(t, ev.ID, decoded.ID)
	require.JSONEq(t, `{"to":"accepted"}`, string(decoded.Payload))
}

func TestWebhookQueueIgnoresDuplicateEnqueue(t *testing.T) {
	q := events.WebhookQueue{Tasks: &captureEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, q.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicQuoteCreated}))
}

func TestHandleDeliverTaskSkipsRetryOnRejection(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	n, err := events.NewWebhookNotifier(srv.URL, "s3cret", time.Second, 1)
	require.NoError(t, err)
	payload, err := json.Marshal(events.Event{ID: uuid.New(), Topic: events.TopicQuoteCreated, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	task := asynq.NewTask(events.TypeDeliverWebhook, payload)

	require.ErrorIs(t, n.HandleDeliverTask(context.Background(), task), asynq.SkipRetry)

	status.Store(http.StatusTooManyRequests)
	err = n.HandleDeliverTask(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	status.Store(http.StatusOK)
	mux := asynq.NewServeMux()
	n.Register(mux)
	require.NoError(t, mux.ProcessTask(context.Background(), task))

	require.ErrorIs(t, n.HandleDeliverTask(context.Background(), asynq.NewTask(events.TypeDeliverWebhook, []byte("{"))), asynq.SkipRetry)
}
