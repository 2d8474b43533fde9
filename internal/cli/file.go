package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

// quoteFile is the YAML layout read by quotectl. Money and percentages are
// strings so they parse exactly.
type quoteFile struct {
	Customer struct {
		Name    string `yaml:"name"`
		Email   string `yaml:"email"`
		Phone   string `yaml:"phone"`
		Address string `yaml:"address"`
	} `yaml:"customer"`
	Title       string `yaml:"title"`
	ProjectType string `yaml:"project_type"`
	Notes       string `yaml:"notes"`
	LineItems   []struct {
		Category           string `yaml:"category"`
		Description        string `yaml:"description"`
		Quantity           string `yaml:"quantity"`
		Unit               string `yaml:"unit"`
		UnitPrice          string `yaml:"unit_price"`
		DiscountPercentage string `yaml:"discount_percentage"`
		DiscountAmount     string `yaml:"discount_amount"`
	} `yaml:"line_items"`
	Pricing *struct {
		DiscountPercentage string `yaml:"discount_percentage"`
		DiscountAmount     string `yaml:"discount_amount"`
		TaxRate            string `yaml:"tax_rate"`
		ManualTax          string `yaml:"manual_tax"`
	} `yaml:"pricing"`
	Milestones []struct {
		Description string `yaml:"description"`
		Percentage  string `yaml:"percentage"`
	} `yaml:"milestones"`
}

func readQuoteFile(path string) (quote.CreateInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return quote.CreateInput{}, fmt.Errorf("read %s: %w", path, err)
	}
	return parseQuoteFile(data)
}

func parseQuoteFile(data []byte) (quote.CreateInput, error) {
	var f quoteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return quote.CreateInput{}, fmt.Errorf("parse quote file: %w", err)
	}
	in := quote.CreateInput{
		DetailsInput: quote.DetailsInput{
			CustomerName:    f.Customer.Name,
			CustomerEmail:   f.Customer.Email,
			CustomerPhone:   f.Customer.Phone,
			CustomerAddress: f.Customer.Address,
			Title:           f.Title,
			ProjectType:     f.ProjectType,
			Notes:           f.Notes,
		},
	}
	p := decimalParser{}
	for i, li := range f.LineItems {
		field := fmt.Sprintf("line_items[%d]", i)
		in.LineItems = append(in.LineItems, quote.LineItemInput{
			Category:           li.Category,
			Description:        li.Description,
			Quantity:           p.parse(field+".quantity", li.Quantity),
			Unit:               li.Unit,
			UnitPrice:          p.parse(field+".unit_price", li.UnitPrice),
			DiscountPercentage: p.parse(field+".discount_percentage", li.DiscountPercentage),
			DiscountAmount:     p.parse(field+".discount_amount", li.DiscountAmount),
		})
	}
	if f.Pricing != nil {
		pricing := &quote.PricingInput{
			DiscountPercentage: p.parse("pricing.discount_percentage", f.Pricing.DiscountPercentage),
			DiscountAmount:     p.parse("pricing.discount_amount", f.Pricing.DiscountAmount),
		}
		if strings.TrimSpace(f.Pricing.TaxRate) != "" {
			rate := p.parse("pricing.tax_rate", f.Pricing.TaxRate)
			pricing.TaxRate = &rate
		}
		if strings.TrimSpace(f.Pricing.ManualTax) != "" {
			pricing.IsManualTax = true
			pricing.TaxAmount = p.parse("pricing.manual_tax", f.Pricing.ManualTax)
		}
		in.Pricing = pricing
	}
	for i, m := range f.Milestones {
		in.Milestones = append(in.Milestones, milestone.Milestone{
			Description: m.Description,
			Percentage:  p.parse(fmt.Sprintf("milestones[%d].percentage", i), m.Percentage),
			Order:       i + 1,
		})
	}
	if p.err != nil {
		return quote.CreateInput{}, p.err
	}
	return in, nil
}

// decimalParser keeps the first parse failure so conversion reads linearly.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field, raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" || p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: invalid number %q", field, raw)
		return decimal.Zero
	}
	return d
}
