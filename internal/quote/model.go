package quote

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/pricing"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

var transitions = map[Status][]Status{
	StatusDraft: {StatusSent, StatusExpired},
	StatusSent:  {StatusAccepted, StatusDeclined, StatusExpired},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusAccepted, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// Locked reports whether quotes in this status can no longer be edited.
func (s Status) Locked() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusExpired
}

// CanTransition reports whether a quote may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Customer identifies who the quote is addressed to.
type Customer struct {
	Name    string `json:"customerName"`
	Email   string `json:"customerEmail"`
	Phone   string `json:"customerPhone,omitempty"`
	Address string `json:"customerAddress,omitempty"`
}

// LineItem is a single priced row of a quote.
type LineItem struct {
	ID                 uuid.UUID       `json:"id"`
	QuoteID            uuid.UUID       `json:"quoteId"`
	Position           int             `json:"position"`
	Category           string          `json:"category"`
	Description        string          `json:"description"`
	Quantity           decimal.Decimal `json:"quantity"`
	Unit               string          `json:"unit"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	TotalPrice         decimal.Decimal `json:"totalPrice"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Reprice recomputes TotalPrice and stores the effective discount fields.
func (li *LineItem) Reprice() pricing.LinePrice {
	price := pricing.PriceLineItem(pricing.LineItem{
		Quantity:  li.Quantity,
		UnitPrice: li.UnitPrice,
		Discount:  pricing.Discount{Percentage: li.DiscountPercentage, Amount: li.DiscountAmount},
	})
	li.TotalPrice = price.Total
	li.DiscountPercentage = price.Applied.Percentage
	li.DiscountAmount = price.Applied.Amount
	return price
}

// Quote is the aggregate root: customer details, line items, pricing and
// the payment schedule.
type Quote struct {
	ID          uuid.UUID `json:"id"`
	Number      string    `json:"number"`
	Status      Status    `json:"status"`
	Customer
	Title       string `json:"title"`
	ProjectType string `json:"projectType"`
	Notes       string `json:"notes,omitempty"`

	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	DiscountedSubtotal decimal.Decimal `json:"discountedSubtotal"`
	TaxRate            decimal.Decimal `json:"taxRate"`
	TaxAmount          decimal.Decimal `json:"taxAmount"`
	IsManualTax        bool            `json:"isManualTax"`
	Total              decimal.Decimal `json:"total"`

	DownPaymentPercentage      decimal.Decimal `json:"downPaymentPercentage"`
	MilestonePaymentPercentage decimal.Decimal `json:"milestonePaymentPercentage"`
	FinalPaymentPercentage     decimal.Decimal `json:"finalPaymentPercentage"`
	MilestoneDescription       string          `json:"milestoneDescription,omitempty"`

	ValidUntil  time.Time  `json:"validUntil"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	LineItems []LineItem `json:"lineItems"`
}

// Milestones rebuilds the editable schedule from the stored percentages.
func (q Quote) Milestones() []milestone.Milestone {
	return milestone.FromFields(q.milestoneFields())
}

// Schedule allocates the quote total across its milestones.
func (q Quote) Schedule() []milestone.Allocation {
	return milestone.Allocate(q.Total, q.Milestones())
}

func (q Quote) milestoneFields() milestone.Fields {
	return milestone.Fields{
		DownPayment:         q.DownPaymentPercentage,
		Progress:            q.MilestonePaymentPercentage,
		Final:               q.FinalPaymentPercentage,
		ProgressDescription: q.MilestoneDescription,
	}
}

func (q *Quote) setMilestones(f milestone.Fields) {
	q.DownPaymentPercentage = f.DownPayment
	q.MilestonePaymentPercentage = f.Progress
	q.FinalPaymentPercentage = f.Final
	q.MilestoneDescription = f.ProgressDescription
}

// Recalculate aggregates the current line items into the quote totals.
func (q *Quote) Recalculate() pricing.Summary {
	totals := make([]pricing.Money, 0, len(q.LineItems))
	for _, li := range q.LineItems {
		totals = append(totals, li.TotalPrice)
	}
	summary := pricing.Aggregate(totals,
		pricing.Discount{Percentage: q.DiscountPercentage, Amount: q.DiscountAmount},
		pricing.Tax{Rate: q.TaxRate, Manual: q.IsManualTax, ManualAmount: q.TaxAmount},
	)
	q.Subtotal = summary.Subtotal
	q.DiscountPercentage = summary.AppliedDiscount.Percentage
	q.DiscountAmount = summary.AppliedDiscount.Amount
	q.DiscountedSubtotal = summary.DiscountedSubtotal
	q.TaxAmount = summary.Tax
	q.Total = summary.Total
	return summary
}

func (q *Quote) nextPosition() int {
	next := 1
	for _, li := range q.LineItems {
		if li.Position >= next {
			next = li.Position + 1
		}
	}
	return next
}

// ListParams filters and paginates List.
type ListParams struct {
	Status  Status
	Page    int
	PerPage int
}

// ListResult is a page of quotes without line items.
type ListResult struct {
	Items   []Quote `json:"items"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
}
