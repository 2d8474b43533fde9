package quote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

type fakeDocuments struct {
	enqueued []uuid.UUID
}

func (f *fakeDocuments) Enqueue(_ context.Context, id uuid.UUID) error {
	f.enqueued = append(f.enqueued, id)
	return nil
}

func (f *fakeDocuments) PDF(_ context.Context, _ uuid.UUID) ([]byte, error) {
	return []byte("%PDF-1.3 fake"), nil
}

type fakeLinks struct{}

func (fakeLinks) Issue(id uuid.UUID) (string, time.Time, error) {
	return "tok-" + id.String(), fixedNow.Add(time.Hour), nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newRouter(t *testing.T) (http.Handler, *fixture, *fakeDocuments) {
	t.Helper()
	f := newFixture(t)
	docs := &fakeDocuments{}
	h := quote.NewHandler(quote.HandlerConfig{Service: f.svc, Documents: docs, Links: fakeLinks{}})
	r := chi.NewRouter()
	r.Mount("/api/v1/quotes", h.Routes(nil))
	return r, f, docs
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const createBody = `{
	"customerName": "Ada Builder",
	"customerEmail": "ada@example.com",
	"title": "Bathroom",
	"projectType": "renovation",
	"lineItems": [{"description": "Tile", "quantity": "10", "unit": "m2", "unitPrice": "100", "discountPercentage": "10"}],
	"pricing": {"taxRate": "0.10"}
}`

func TestHandlerCreateAndGet(t *testing.T) {
	router, _, _ := newRouter(t)

	rec, env := do(t, router, http.MethodPost, "/api/v1/quotes", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &created))
	requireMoney(t, "990", created.Total)
	require.Contains(t, rec.Body.String(), `"total":"990"`)

	rec, env = do(t, router, http.MethodGet, "/api/v1/quotes/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, created.Number, got.Number)

	rec, env = do(t, router, http.MethodGet, "/api/v1/quotes/"+created.ID.String()+"/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var schedule quote.ScheduleResult
	require.NoError(t, json.Unmarshal(env.Data, &schedule))
	requireMoney(t, "396", schedule.Milestones[0].Amount)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/quotes?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
}

func TestHandlerErrors(t *testing.T) {
	router, _, _ := newRouter(t)

	rec, env := do(t, router, http.MethodGet, "/api/v1/quotes/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, env = do(t, router, http.MethodGet, "/api/v1/quotes/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = do(t, router, http.MethodPost, "/api/v1/quotes", `{"customerName": "x", "bogus": 1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, router, http.MethodPost, "/api/v1/quotes", `{"customerName": "Ada", "customerEmail": "bad"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestHandlerMilestonesAndLifecycle(t *testing.T) {
	router, _, docs := newRouter(t)
	_, env := do(t, router, http.MethodPost, "/api/v1/quotes", createBody)
	var created quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &created))
	base := "/api/v1/quotes/" + created.ID.String()

	rec, env := do(t, router, http.MethodPut, base+"/milestones",
		`{"milestones":[{"description":"a","percentage":"40","order":1},{"description":"b","percentage":"40","order":2},{"description":"c","percentage":"15","order":3}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "milestone percentages must sum to 100%, got 95%", env.Error.Message)

	rec, _ = do(t, router, http.MethodPost, base+"/status", `{"status":"accepted"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, env = do(t, router, http.MethodPost, base+"/send", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sent struct {
		Quote  quote.Quote `json:"quote"`
		Portal struct {
			Token string `json:"token"`
			Path  string `json:"path"`
		} `json:"portal"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	require.Equal(t, quote.StatusSent, sent.Quote.Status)
	require.Equal(t, "/portal/quotes/tok-"+created.ID.String(), sent.Portal.Path)
	require.Equal(t, []uuid.UUID{created.ID}, docs.enqueued)

	rec, _ = do(t, router, http.MethodPost, base+"/status", `{"status":"declined"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, router, http.MethodPost, base+"/line-items", `{"description":"Grout","quantity":"1","unitPrice":"5"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "QUOTE_LOCKED", env.Error.Code)

	rec, _ = do(t, router, http.MethodDelete, base, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, router, http.MethodGet, base+"/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestHandlerLineItemsAndDelete(t *testing.T) {
	router, _, _ := newRouter(t)
	_, env := do(t, router, http.MethodPost, "/api/v1/quotes", createBody)
	var created quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &created))
	base := "/api/v1/quotes/" + created.ID.String()

	rec, env := do(t, router, http.MethodPost, base+"/line-items", `{"description":"Grout","quantity":"2","unitPrice":"5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var q quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	require.Len(t, q.LineItems, 2)
	requireMoney(t, "910", q.Subtotal)

	itemPath := base + "/line-items/" + q.LineItems[1].ID.String()
	rec, env = do(t, router, http.MethodPatch, itemPath, `{"description":"Grout","quantity":"4","unitPrice":"5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &q))
	requireMoney(t, "920", q.Subtotal)

	rec, _ = do(t, router, http.MethodDelete, itemPath, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodPut, base+"/pricing", `{"discountAmount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodDelete, base, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerPreview(t *testing.T) {
	router, f, _ := newRouter(t)
	rec, env := do(t, router, http.MethodPost, "/api/v1/quotes/preview", createBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Quote    quote.Quote `json:"quote"`
		Schedule []struct {
			Amount string `json:"amount"`
		} `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	requireMoney(t, "990", out.Quote.Total)
	require.Equal(t, "198", out.Schedule[2].Amount)
	require.Empty(t, f.store.quotes)
}

type fakeHistory struct {
	limit int
}

func (f *fakeHistory) History(_ context.Context, id uuid.UUID, limit int) ([]events.Event, error) {
	f.limit = limit
	return []events.Event{{ID: uuid.New(), Topic: events.TopicQuoteCreated, AggregateID: id, Payload: json.RawMessage(`{}`), OccurredAt: fixedNow}}, nil
}

func TestHandlerEventsFeed(t *testing.T) {
	f := newFixture(t)
	history := &fakeHistory{}
	h := quote.NewHandler(quote.HandlerConfig{Service: f.svc, History: history})
	router := chi.NewRouter()
	router.Mount("/api/v1/quotes", h.Routes(nil))

	rec, env := do(t, router, http.MethodPost, "/api/v1/quotes", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created quote.Quote
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, env = do(t, router, http.MethodGet, "/api/v1/quotes/"+created.ID.String()+"/events?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, history.limit)
	var feed []events.Event
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	require.Len(t, feed, 1)
	require.Equal(t, created.ID, feed[0].AggregateID)

	rec, env = do(t, router, http.MethodGet, "/api/v1/quotes/"+uuid.NewString()+"/events", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, common.CodeNotFound, env.Error.Code)

	plain, _, _ := newRouter(t)
	rec, _ = do(t, plain, http.MethodGet, "/api/v1/quotes/"+created.ID.String()+"/events", "")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
