package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/milestone"
)

// Documents renders and stores quote PDFs.
type Documents interface {
	Enqueue(ctx context.Context, quoteID uuid.UUID) error
	PDF(ctx context.Context, quoteID uuid.UUID) ([]byte, error)
}

// LinkIssuer signs client portal tokens for a quote.
type LinkIssuer interface {
	Issue(quoteID uuid.UUID) (string, time.Time, error)
}

// HistoryReader lists the domain events recorded for a quote.
type HistoryReader interface {
	History(ctx context.Context, aggregateID uuid.UUID, limit int) ([]events.Event, error)
}

// Handler exposes the quote editing API.
type Handler struct {
	service   *Service
	documents Documents
	links     LinkIssuer
	history   HistoryReader
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service   *Service
	Documents Documents
	Links     LinkIssuer
	History   HistoryReader
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, documents: cfg.Documents, links: cfg.Links, history: cfg.History}
}

// Routes mounts the quote endpoints. write wraps mutating endpoints, e.g.
// with the idempotency middleware; nil leaves them unwrapped.
func (h *Handler) Routes(write func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if write == nil {
		write = func(next http.Handler) http.Handler { return next }
	}
	r.Get("/", h.List)
	r.With(write).Post("/", h.Create)
	r.Post("/preview", h.Preview)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/schedule", h.Schedule)
		r.Get("/document", h.Document)
		r.Get("/events", h.Events)
		r.Group(func(r chi.Router) {
			r.Use(write)
			r.Patch("/", h.UpdateDetails)
			r.Delete("/", h.Delete)
			r.Post("/line-items", h.AddLineItem)
			r.Patch("/line-items/{itemId}", h.UpdateLineItem)
			r.Delete("/line-items/{itemId}", h.RemoveLineItem)
			r.Put("/pricing", h.UpdatePricing)
			r.Put("/milestones", h.UpdateMilestones)
			r.Post("/status", h.Transition)
			r.Post("/send", h.Send)
		})
	})
	return r
}

// Create handles POST /api/v1/quotes.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !decode(w, r, &in) {
		return
	}
	q, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": q})
}

// Preview handles POST /api/v1/quotes/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !decode(w, r, &in) {
		return
	}
	q, schedule, err := h.service.Preview(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"quote":    q,
		"schedule": schedule,
	}})
}

// List handles GET /api/v1/quotes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 0)
	params := ListParams{Status: Status(r.URL.Query().Get("status")), Page: page, PerPage: perPage}
	result, err := h.service.List(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.NewPagination(result.Page, result.PerPage, result.Total),
	})
}

// Get handles GET /api/v1/quotes/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// UpdateDetails handles PATCH /api/v1/quotes/{id}.
func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in DetailsInput
	if !decode(w, r, &in) {
		return
	}
	h.respond(w, http.StatusOK)(h.service.UpdateDetails(r.Context(), id, in))
}

// Delete handles DELETE /api/v1/quotes/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLineItem handles POST /api/v1/quotes/{id}/line-items.
func (h *Handler) AddLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in LineItemInput
	if !decode(w, r, &in) {
		return
	}
	h.respond(w, http.StatusCreated)(h.service.AddLineItem(r.Context(), id, in))
}

// UpdateLineItem handles PATCH /api/v1/quotes/{id}/line-items/{itemId}.
func (h *Handler) UpdateLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemId")
	if !ok {
		return
	}
	var in LineItemInput
	if !decode(w, r, &in) {
		return
	}
	h.respond(w, http.StatusOK)(h.service.UpdateLineItem(r.Context(), id, itemID, in))
}

// RemoveLineItem handles DELETE /api/v1/quotes/{id}/line-items/{itemId}.
func (h *Handler) RemoveLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemId")
	if !ok {
		return
	}
	h.respond(w, http.StatusOK)(h.service.RemoveLineItem(r.Context(), id, itemID))
}

// UpdatePricing handles PUT /api/v1/quotes/{id}/pricing.
func (h *Handler) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in PricingInput
	if !decode(w, r, &in) {
		return
	}
	h.respond(w, http.StatusOK)(h.service.UpdatePricing(r.Context(), id, in))
}

type milestonesRequest struct {
	Milestones []milestone.Milestone `json:"milestones"`
}

// UpdateMilestones handles PUT /api/v1/quotes/{id}/milestones.
func (h *Handler) UpdateMilestones(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in milestonesRequest
	if !decode(w, r, &in) {
		return
	}
	h.respond(w, http.StatusOK)(h.service.UpdateMilestones(r.Context(), id, in.Milestones))
}

// Schedule handles GET /api/v1/quotes/{id}/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.Schedule(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Transition handles POST /api/v1/quotes/{id}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var in StatusInput
	if !decode(w, r, &in) {
		return
	}
	if err := h.service.validate(in); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK)(h.service.Transition(r.Context(), id, in.Status))
}

// Send handles POST /api/v1/quotes/{id}/send: the quote moves to sent, a
// document render is queued and a portal link is returned.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.service.Transition(r.Context(), id, StatusSent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := map[string]any{"quote": q}
	if h.documents != nil {
		if err := h.documents.Enqueue(r.Context(), q.ID); err != nil {
			h.service.Logger.Error().Err(err).Str("quote_id", q.ID.String()).Msg("enqueue quote document")
		}
	}
	if h.links != nil {
		token, expires, err := h.links.Issue(q.ID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out["portal"] = map[string]any{
			"token":     token,
			"path":      "/portal/quotes/" + token,
			"expiresAt": expires,
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Document handles GET /api/v1/quotes/{id}/document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if h.documents == nil {
		common.JSONError(w, http.StatusNotImplemented, common.CodeNotImplemented, "documents not configured", nil)
		return
	}
	pdf, err := h.documents.PDF(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="quote-`+id.String()+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// Events handles GET /api/v1/quotes/{id}/events, the quote's activity feed.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if h.history == nil {
		common.JSONError(w, http.StatusNotImplemented, common.CodeNotImplemented, "event history not configured", nil)
		return
	}
	// Deleted quotes keep their events, but the feed is only served for live ones.
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := h.history.History(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": evs})
}

func (h *Handler) respond(w http.ResponseWriter, status int) func(Quote, error) {
	return func(q Quote, err error) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		common.JSON(w, status, map[string]any{"data": q})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	mapped := AsAppError(err)
	if !common.IsAppError(mapped) && h.service != nil {
		h.service.Logger.Error().Err(err).Msg("quote request failed")
	}
	common.WriteError(w, mapped)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge, "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}
