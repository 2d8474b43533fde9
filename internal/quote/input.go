package quote

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/pricing"
)

// DetailsInput carries the customer and project fields of a quote.
type DetailsInput struct {
	CustomerName    string `json:"customerName" validate:"required,max=200"`
	CustomerEmail   string `json:"customerEmail" validate:"required,email,max=254"`
	CustomerPhone   string `json:"customerPhone" validate:"max=50"`
	CustomerAddress string `json:"customerAddress" validate:"max=500"`
	Title           string `json:"title" validate:"required,max=200"`
	ProjectType     string `json:"projectType" validate:"required,max=100"`
	Notes           string `json:"notes" validate:"max=5000"`
}

func (in *DetailsInput) normalize() {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.CustomerAddress = strings.TrimSpace(in.CustomerAddress)
	in.Title = strings.TrimSpace(in.Title)
	in.ProjectType = strings.TrimSpace(in.ProjectType)
	in.Notes = strings.TrimSpace(in.Notes)
}

func (in DetailsInput) apply(q *Quote) {
	q.Customer = Customer{
		Name:    in.CustomerName,
		Email:   in.CustomerEmail,
		Phone:   in.CustomerPhone,
		Address: in.CustomerAddress,
	}
	q.Title = in.Title
	q.ProjectType = in.ProjectType
	q.Notes = in.Notes
}

// LineItemInput carries the editable fields of a line item. Values are
// rounded to their stored scale before pricing.
type LineItemInput struct {
	Category           string          `json:"category" validate:"max=100"`
	Description        string          `json:"description" validate:"required,max=500"`
	Quantity           decimal.Decimal `json:"quantity" validate:"dgte=0"`
	Unit               string          `json:"unit" validate:"max=32"`
	UnitPrice          decimal.Decimal `json:"unitPrice" validate:"dgte=0"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage" validate:"dgte=0,dlte=100"`
	DiscountAmount     decimal.Decimal `json:"discountAmount" validate:"dgte=0"`
}

func (in LineItemInput) apply(li *LineItem) {
	li.Category = strings.TrimSpace(in.Category)
	li.Description = strings.TrimSpace(in.Description)
	li.Quantity = in.Quantity.Round(pricing.QuantityScale)
	li.Unit = strings.TrimSpace(in.Unit)
	li.UnitPrice = pricing.RoundMoney(in.UnitPrice)
	li.DiscountPercentage = in.DiscountPercentage.Round(pricing.PercentScale)
	li.DiscountAmount = pricing.RoundMoney(in.DiscountAmount)
}

// PricingInput carries the quote level discount and tax settings. TaxAmount
// is only read when IsManualTax is set.
type PricingInput struct {
	DiscountPercentage decimal.Decimal  `json:"discountPercentage" validate:"dgte=0,dlte=100"`
	DiscountAmount     decimal.Decimal  `json:"discountAmount" validate:"dgte=0"`
	TaxRate            *decimal.Decimal `json:"taxRate" validate:"omitnil,dgte=0,dlte=1"`
	IsManualTax        bool             `json:"isManualTax"`
	TaxAmount          decimal.Decimal  `json:"taxAmount" validate:"dgte=0"`
}

func (in PricingInput) apply(q *Quote) {
	q.DiscountPercentage = in.DiscountPercentage.Round(pricing.PercentScale)
	q.DiscountAmount = pricing.RoundMoney(in.DiscountAmount)
	if in.TaxRate != nil {
		q.TaxRate = in.TaxRate.Round(pricing.RateScale)
	}
	q.IsManualTax = in.IsManualTax
	if in.IsManualTax {
		q.TaxAmount = pricing.RoundMoney(in.TaxAmount)
	}
}

// CreateInput is the payload accepted by Service.Create. Pricing and
// Milestones are optional; defaults come from configuration.
type CreateInput struct {
	DetailsInput
	LineItems  []LineItemInput        `json:"lineItems" validate:"max=500,dive"`
	Pricing    *PricingInput          `json:"pricing"`
	Milestones []milestone.Milestone `json:"milestones"`
}

// StatusInput requests a lifecycle transition.
type StatusInput struct {
	Status Status `json:"status" validate:"required,oneof=draft sent accepted declined expired"`
}
