package document

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-quotes/internal/quote"
)

// Generator renders quotes as A4 PDFs using the core Helvetica font.
type Generator struct {
	CompanyName  string
	CurrencyCode string
	Now          func() time.Time
}

// Render returns the PDF bytes for q.
func (g *Generator) Render(q quote.Quote) ([]byte, error) {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("Quote "+q.Number), false)
	pdf.SetCreator(tr(g.company()), false)
	pdf.SetCreationDate(now)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 5, fmt.Sprintf("%s - page %d/{nb}", q.Number, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, tr(g.company()))
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, tr(fmt.Sprintf("Quote %s", q.Number)))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 5, fmt.Sprintf("Issued %s, valid until %s", q.CreatedAt.Format("2006-01-02"), q.ValidUntil.Format("2006-01-02")))
	pdf.Ln(7)
	for _, line := range []string{
		"Prepared for: " + q.Customer.Name,
		q.Customer.Email,
		q.Customer.Phone,
		q.Customer.Address,
		"Project: " + q.Title + " (" + q.ProjectType + ")",
	} {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.Cell(0, 5, tr(line))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	widths := []float64{70, 22, 18, 28, 22, 30}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Description", "Qty", "Unit", "Unit price", "Discount", "Total"} {
		align := "R"
		if i == 0 || i == 2 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, li := range q.LineItems {
		desc := li.Description
		if li.Category != "" {
			desc = li.Category + ": " + desc
		}
		pdf.CellFormat(widths[0], 6, tr(trim(desc, 42)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, li.Quantity.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, tr(trim(li.Unit, 10)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 6, formatMoney(li.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, formatMoney(li.DiscountAmount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, formatMoney(li.TotalPrice), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	totals := [][2]string{{"Subtotal", formatMoney(q.Subtotal)}}
	if !q.DiscountAmount.IsZero() {
		label := "Discount"
		if q.DiscountPercentage.IsPositive() {
			label = fmt.Sprintf("Discount (%s%%)", q.DiscountPercentage.String())
		}
		totals = append(totals, [2]string{label, "-" + formatMoney(q.DiscountAmount)})
		totals = append(totals, [2]string{"Discounted subtotal", formatMoney(q.DiscountedSubtotal)})
	}
	taxLabel := fmt.Sprintf("Tax (%s%%)", q.TaxRate.Mul(decimal.NewFromInt(100)).String())
	if q.IsManualTax {
		taxLabel = "Tax"
	}
	totals = append(totals, [2]string{taxLabel, formatMoney(q.TaxAmount)})
	for _, row := range totals {
		pdf.CellFormat(150, 6, row[0], "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, row[1], "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(150, 8, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, g.currency()+" "+formatMoney(q.Total), "T", 0, "R", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 7, "Payment schedule")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	for _, a := range q.Schedule() {
		if a.Percentage.IsZero() {
			continue
		}
		pdf.CellFormat(110, 6, tr(a.Description), "B", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, a.Percentage.String()+"%", "B", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, formatMoney(a.Amount), "B", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if notes := strings.TrimSpace(q.Notes); notes != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.Cell(0, 6, "Notes")
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 5, tr(notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render quote pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) company() string {
	if strings.TrimSpace(g.CompanyName) == "" {
		return "Quote"
	}
	return g.CompanyName
}

func (g *Generator) currency() string {
	if strings.TrimSpace(g.CurrencyCode) == "" {
		return "USD"
	}
	return g.CurrencyCode
}

// formatMoney renders d with two decimals and thousands separators.
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

func trim(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
