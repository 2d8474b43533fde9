package events_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/events"
)

func TestWebhookNotifierSignsAndPostsEvent(t *testing.T) {
	fixed := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicQuoteStatusChanged,
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{"to":"sent"}`),
		OccurredAt:  fixed,
	}

	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, ev.ID.String(), r.Header.Get("X-Event-ID"))
		require.Equal(t, strconv.FormatInt(fixed.Unix(), 10), r.Header.Get("X-Timestamp"))
		require.Equal(t, events.ComputeSignature("s3cret", fixed.Unix(), ev.ID.String(), body), r.Header.Get("X-Signature"))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		require.Equal(t, ev.Topic, decoded["topic"])
		require.Equal(t, ev.AggregateID.String(), decoded["aggregateId"])
		received <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	n, err := events.NewWebhookNotifier(srv.URL, "s3cret", time.Second, 1)
	require.NoError(t, err)
	n.Now = func() time.Time { return fixed }

	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, received, 1)
}

func TestWebhookNotifierFiltersTopicsAndReportsFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	n, err := events.NewWebhookNotifier(srv.URL, "s3cret", time.Second, 1)
	require.NoError(t, err)
	n.Topics = []string{events.TopicQuoteCreated}

	ev := events.Event{ID: uuid.New(), Topic: events.TopicQuoteUpdated, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Zero(t, hits.Load())

	ev.Topic = events.TopicQuoteCreated
	require.Error(t, n.Notify(context.Background(), ev))
	require.EqualValues(t, 1, hits.Load())
}

func TestNewWebhookNotifierRejectsPlainHTTPRemoteHosts(t *testing.T) {
	_, err := events.NewWebhookNotifier("http://example.com/hook", "s3cret", time.Second, 1)
	require.Error(t, err)
	_, err = events.NewWebhookNotifier("https://example.com/hook", "", time.Second, 1)
	require.Error(t, err)
}
