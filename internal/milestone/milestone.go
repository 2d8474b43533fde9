package milestone

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/pricing"
)

// Canonical slot orders persisted on a quote.
const (
	OrderDownPayment = 1
	OrderProgress    = 2
	OrderFinal       = 3

	// CanonicalSlots is the number of milestones a quote can store.
	CanonicalSlots = 3
)

// Default slot descriptions.
const (
	DescDownPayment = "Down payment"
	DescProgress    = "Milestone payment"
	DescFinal       = "Final payment"
)

var (
	// ErrSumMismatch is wrapped by ValidationError when percentages do not add up to 100.
	ErrSumMismatch = errors.New("milestone percentages must sum to 100%")
	// ErrTooManyMilestones is returned when a schedule has more entries than a quote can store.
	ErrTooManyMilestones = errors.New("at most three payment milestones can be saved")
	// ErrInvalidPercentage rejects percentages outside 0-100.
	ErrInvalidPercentage = errors.New("milestone percentage must be between 0 and 100")
	// ErrNotFound is returned when an order does not exist in the list.
	ErrNotFound = errors.New("milestone not found")
)

var (
	hundred = decimal.NewFromInt(100)
	// Tolerance is the absolute slack allowed when comparing the sum to 100.
	Tolerance = decimal.RequireFromString("0.01")
)

// Milestone is one entry of a payment schedule.
type Milestone struct {
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage"`
	Order       int             `json:"order"`
}

// Allocation pairs a milestone with its share of the quote total.
type Allocation struct {
	Milestone
	Amount pricing.Money `json:"amount"`
}

// Fields mirrors the three payment columns stored on a quote.
type Fields struct {
	DownPayment         decimal.Decimal
	Progress            decimal.Decimal
	Final               decimal.Decimal
	ProgressDescription string
}

// ValidationError reports a schedule whose percentages do not total 100.
type ValidationError struct {
	Total decimal.Decimal
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("milestone percentages must sum to 100%%, got %s%%", e.Total.String())
}

func (e *ValidationError) Unwrap() error { return ErrSumMismatch }

// Defaults returns the 40/40/20 schedule new quotes start with.
func Defaults() Fields {
	return Fields{
		DownPayment: decimal.NewFromInt(40),
		Progress:    decimal.NewFromInt(40),
		Final:       decimal.NewFromInt(20),
	}
}

// FromFields rebuilds the editable list from the stored quote columns.
func FromFields(f Fields) []Milestone {
	desc := strings.TrimSpace(f.ProgressDescription)
	if desc == "" {
		desc = DescProgress
	}
	return []Milestone{
		{Description: DescDownPayment, Percentage: f.DownPayment, Order: OrderDownPayment},
		{Description: desc, Percentage: f.Progress, Order: OrderProgress},
		{Description: DescFinal, Percentage: f.Final, Order: OrderFinal},
	}
}

// Sum totals the percentages of the list.
func Sum(ms []Milestone) decimal.Decimal {
	total := decimal.Zero
	for _, m := range ms {
		total = total.Add(m.Percentage)
	}
	return total
}

// Validate checks every percentage is within range and that they total 100.
func Validate(ms []Milestone) error {
	for _, m := range ms {
		if m.Percentage.IsNegative() || m.Percentage.GreaterThan(hundred) {
			return fmt.Errorf("order %d: %w", m.Order, ErrInvalidPercentage)
		}
	}
	total := Sum(ms)
	if total.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return &ValidationError{Total: total}
	}
	return nil
}

// Flatten rounds percentages to their stored scale, validates the list and
// maps it onto the three stored columns.
// Lists longer than CanonicalSlots are rejected rather than truncated.
func Flatten(ms []Milestone) (Fields, error) {
	if len(ms) > CanonicalSlots {
		return Fields{}, fmt.Errorf("%d milestones: %w", len(ms), ErrTooManyMilestones)
	}
	sorted := Normalize(ms)
	for i := range sorted {
		sorted[i].Percentage = sorted[i].Percentage.Round(pricing.PercentScale)
	}
	if err := Validate(sorted); err != nil {
		return Fields{}, err
	}
	var f Fields
	for i, m := range sorted {
		switch i {
		case 0:
			f.DownPayment = m.Percentage
		case 1:
			f.Progress = m.Percentage
			f.ProgressDescription = strings.TrimSpace(m.Description)
		case 2:
			f.Final = m.Percentage
		}
	}
	return f, nil
}

// Allocate computes each milestone's amount as total * percentage / 100.
// Per-line rounding cents are moved to the last non-zero milestone so the
// amounts add up to the rounded share of total the schedule covers.
func Allocate(total pricing.Money, ms []Milestone) []Allocation {
	sorted := Normalize(ms)
	out := make([]Allocation, 0, len(sorted))
	allocated := decimal.Zero
	last := -1
	for i, m := range sorted {
		amount := pricing.RoundMoney(total.Mul(m.Percentage).Div(hundred))
		allocated = allocated.Add(amount)
		if m.Percentage.IsPositive() {
			last = i
		}
		out = append(out, Allocation{Milestone: m, Amount: amount})
	}
	if last >= 0 {
		covered := pricing.RoundMoney(total.Mul(Sum(sorted)).Div(hundred))
		if rem := covered.Sub(allocated); !rem.IsZero() {
			out[last].Amount = out[last].Amount.Add(rem)
		}
	}
	return out
}

// Normalize returns a copy sorted by order with orders renumbered from 1.
func Normalize(ms []Milestone) []Milestone {
	out := append([]Milestone(nil), ms...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Add appends m at the end of the schedule.
func Add(ms []Milestone, m Milestone) []Milestone {
	out := Normalize(ms)
	m.Order = len(out) + 1
	return append(out, m)
}

// Update replaces the milestone at order.
func Update(ms []Milestone, order int, m Milestone) ([]Milestone, error) {
	out := Normalize(ms)
	if order < 1 || order > len(out) {
		return nil, fmt.Errorf("order %d: %w", order, ErrNotFound)
	}
	m.Order = order
	out[order-1] = m
	return out, nil
}

// Remove deletes the milestone at order and renumbers the rest.
func Remove(ms []Milestone, order int) ([]Milestone, error) {
	out := Normalize(ms)
	if order < 1 || order > len(out) {
		return nil, fmt.Errorf("order %d: %w", order, ErrNotFound)
	}
	out = append(out[:order-1], out[order:]...)
	return Normalize(out), nil
}
