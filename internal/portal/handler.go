package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

// Quotes is the part of quote.Service the portal drives.
type Quotes interface {
	Get(ctx context.Context, id uuid.UUID) (quote.Quote, error)
	Transition(ctx context.Context, id uuid.UUID, to quote.Status) (quote.Quote, error)
}

// Handler serves the client-facing quote view reached through a share link.
type Handler struct {
	Tokens *TokenIssuer
	Quotes Quotes
	Logger zerolog.Logger
	Now    func() time.Time
}

// View is what a client sees of a quote.
type View struct {
	Number             string                 `json:"number"`
	Status             quote.Status           `json:"status"`
	Title              string                 `json:"title"`
	ProjectType        string                 `json:"projectType"`
	CustomerName       string                 `json:"customerName"`
	LineItems          []quote.LineItem       `json:"lineItems"`
	Subtotal           decimal.Decimal        `json:"subtotal"`
	DiscountAmount     decimal.Decimal        `json:"discountAmount"`
	DiscountedSubtotal decimal.Decimal        `json:"discountedSubtotal"`
	TaxAmount          decimal.Decimal        `json:"taxAmount"`
	Total              decimal.Decimal        `json:"total"`
	Schedule           []milestone.Allocation `json:"schedule"`
	ValidUntil         time.Time              `json:"validUntil"`
}

func viewOf(q quote.Quote) View {
	return View{
		Number:             q.Number,
		Status:             q.Status,
		Title:              q.Title,
		ProjectType:        q.ProjectType,
		CustomerName:       q.Customer.Name,
		LineItems:          q.LineItems,
		Subtotal:           q.Subtotal,
		DiscountAmount:     q.DiscountAmount,
		DiscountedSubtotal: q.DiscountedSubtotal,
		TaxAmount:          q.TaxAmount,
		Total:              q.Total,
		Schedule:           q.Schedule(),
		ValidUntil:         q.ValidUntil,
	}
}

// Routes mounts the portal endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/quotes/{token}", h.Show)
	r.Post("/quotes/{token}/accept", h.respond(quote.StatusAccepted))
	r.Post("/quotes/{token}/decline", h.respond(quote.StatusDeclined))
	return r
}

// Show handles GET /portal/quotes/{token}.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	q, err := h.Quotes.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if q.Status == quote.StatusDraft {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "quote not found", nil)
		return
	}
	if q.Status == quote.StatusExpired || h.overdue(q) {
		writeGone(w)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(q)})
}

// respond builds the accept and decline handlers. Expired quotes are
// reported as gone; a sent quote past its validity date is expired first.
func (h *Handler) respond(to quote.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.quoteID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		current, err := h.Quotes.Get(ctx, id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if current.Status == quote.StatusExpired {
			writeGone(w)
			return
		}
		if h.overdue(current) {
			if _, err := h.Quotes.Transition(ctx, id, quote.StatusExpired); err != nil {
				h.Logger.Error().Err(err).Str("quote_id", id.String()).Msg("expire overdue quote")
			}
			writeGone(w)
			return
		}
		q, err := h.Quotes.Transition(ctx, id, to)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.Logger.Info().Str("quote_id", id.String()).Str("status", string(to)).Msg("client responded to quote")
		common.JSON(w, http.StatusOK, map[string]any{"data": viewOf(q)})
	}
}

func (h *Handler) quoteID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Tokens == nil || h.Quotes == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "portal not configured", nil)
		return uuid.Nil, false
	}
	id, err := h.Tokens.Parse(chi.URLParam(r, "token"))
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeInvalidToken, "link is invalid or expired", nil)
		return uuid.Nil, false
	}
	return id, true
}

// overdue reports a sent quote whose validity date has passed but which the
// expiry task has not moved yet.
func (h *Handler) overdue(q quote.Quote) bool {
	return q.Status == quote.StatusSent && h.now().After(q.ValidUntil)
}

func writeGone(w http.ResponseWriter) {
	common.JSONError(w, http.StatusGone, common.CodeQuoteExpired, "quote is no longer valid", nil)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	mapped := quote.AsAppError(err)
	if !errors.Is(err, quote.ErrNotFound) && !common.IsAppError(mapped) {
		h.Logger.Error().Err(err).Msg("portal request failed")
	}
	common.WriteError(w, mapped)
}
