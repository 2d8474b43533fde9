package portal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/portal"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

type stubQuotes struct {
	quotes      map[uuid.UUID]quote.Quote
	transitions []quote.Status
}

func (s *stubQuotes) Get(_ context.Context, id uuid.UUID) (quote.Quote, error) {
	q, ok := s.quotes[id]
	if !ok {
		return quote.Quote{}, quote.ErrNotFound
	}
	return q, nil
}

func (s *stubQuotes) Transition(_ context.Context, id uuid.UUID, to quote.Status) (quote.Quote, error) {
	q, ok := s.quotes[id]
	if !ok {
		return quote.Quote{}, quote.ErrNotFound
	}
	if !quote.CanTransition(q.Status, to) {
		return quote.Quote{}, quote.ErrInvalidTransition
	}
	q.Status = to
	s.quotes[id] = q
	s.transitions = append(s.transitions, to)
	return q, nil
}

func sentQuote(validUntil time.Time) quote.Quote {
	f := milestone.Defaults()
	return quote.Quote{
		ID:                         uuid.New(),
		Number:                     "Q-20261017-ABC123",
		Status:                     quote.StatusSent,
		Customer:                   quote.Customer{Name: "Ada", Email: "ada@example.com"},
		Title:                      "Porch",
		Total:                      decimal.NewFromInt(1000),
		DownPaymentPercentage:      f.DownPayment,
		MilestonePaymentPercentage: f.Progress,
		FinalPaymentPercentage:     f.Final,
		ValidUntil:                 validUntil,
	}
}

func setup(t *testing.T, qs ...quote.Quote) (http.Handler, *portal.TokenIssuer, *stubQuotes, *time.Time) {
	t.Helper()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, &now)
	store := &stubQuotes{quotes: map[uuid.UUID]quote.Quote{}}
	for _, q := range qs {
		store.quotes[q.ID] = q
	}
	h := &portal.Handler{Tokens: issuer, Quotes: store, Now: func() time.Time { return now }}
	r := chi.NewRouter()
	r.Mount("/portal", h.Routes())
	return r, issuer, store, &now
}

func call(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestPortalShowsQuoteWithSchedule(t *testing.T) {
	q := sentQuote(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	router, issuer, _, _ := setup(t, q)
	token, _, err := issuer.Issue(q.ID)
	require.NoError(t, err)

	rec := call(router, http.MethodGet, "/portal/quotes/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Number   string `json:"number"`
			Schedule []struct {
				Amount string `json:"amount"`
			} `json:"schedule"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, q.Number, body.Data.Number)
	require.Len(t, body.Data.Schedule, 3)
	require.Equal(t, "400", body.Data.Schedule[0].Amount)
	require.NotContains(t, rec.Body.String(), "ada@example.com")
}

func TestPortalAcceptAndDecline(t *testing.T) {
	accept := sentQuote(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	decline := sentQuote(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	router, issuer, store, _ := setup(t, accept, decline)

	token, _, err := issuer.Issue(accept.ID)
	require.NoError(t, err)
	rec := call(router, http.MethodPost, "/portal/quotes/"+token+"/accept")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, quote.StatusAccepted, store.quotes[accept.ID].Status)

	rec = call(router, http.MethodPost, "/portal/quotes/"+token+"/decline")
	require.Equal(t, http.StatusConflict, rec.Code)

	token, _, err = issuer.Issue(decline.ID)
	require.NoError(t, err)
	rec = call(router, http.MethodPost, "/portal/quotes/"+token+"/decline")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, quote.StatusDeclined, store.quotes[decline.ID].Status)
}

func TestPortalExpiresOverdueQuote(t *testing.T) {
	q := sentQuote(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	router, issuer, store, _ := setup(t, q)
	token, _, err := issuer.Issue(q.ID)
	require.NoError(t, err)

	rec := call(router, http.MethodPost, "/portal/quotes/"+token+"/accept")
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, []quote.Status{quote.StatusExpired}, store.transitions)
}

func TestPortalReportsExpiredQuoteAsGone(t *testing.T) {
	q := sentQuote(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	q.Status = quote.StatusExpired
	router, issuer, store, _ := setup(t, q)
	token, _, err := issuer.Issue(q.ID)
	require.NoError(t, err)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/portal/quotes/" + token},
		{http.MethodPost, "/portal/quotes/" + token + "/accept"},
		{http.MethodPost, "/portal/quotes/" + token + "/decline"},
	} {
		rec := call(router, tc.method, tc.path)
		require.Equal(t, http.StatusGone, rec.Code, tc.path)
		require.Contains(t, rec.Body.String(), "QUOTE_EXPIRED")
	}
	require.Empty(t, store.transitions)
}

func TestPortalRejectsBadTokensAndDrafts(t *testing.T) {
	draft := sentQuote(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	draft.Status = quote.StatusDraft
	router, issuer, _, _ := setup(t, draft)

	rec := call(router, http.MethodGet, "/portal/quotes/garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := issuer.Issue(draft.ID)
	require.NoError(t, err)
	rec = call(router, http.MethodGet, "/portal/quotes/"+token)
	require.Equal(t, http.StatusNotFound, rec.Code)

	token, _, err = issuer.Issue(uuid.New())
	require.NoError(t, err)
	rec = call(router, http.MethodGet, "/portal/quotes/"+token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
