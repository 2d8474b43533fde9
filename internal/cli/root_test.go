package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
customer:
  name: Dana Builder
  email: dana@example.com
title: Kitchen remodel
project_type: renovation
line_items:
  - description: Demolition
    quantity: "1"
    unit_price: "400"
  - description: Cabinets
    quantity: "2"
    unit_price: "250"
milestones:
  - description: Deposit
    percentage: "40"
  - description: Rough-in
    percentage: "40"
  - description: Completion
    percentage: "20"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testOptions() Options {
	fixed := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	return Options{
		TaxRate:      decimal.RequireFromString("0.1"),
		NumberPrefix: "Q",
		CompanyName:  "Acme Builders",
		Currency:     "USD",
		Now:          func() time.Time { return fixed },
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(testOptions())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPriceCommandPrintsSummaryAndSchedule(t *testing.T) {
	out, err := run(t, "price", "-f", writeFile(t, sampleYAML))
	require.NoError(t, err)
	require.Contains(t, out, "Kitchen remodel")
	require.Contains(t, out, "900.00")
	require.Contains(t, out, "990.00")
	require.Contains(t, out, "396.00")
	require.Contains(t, out, "198.00")
}

func TestPriceCommandRejectsBadMilestones(t *testing.T) {
	body := `
customer: {name: Dana, email: dana@example.com}
title: Deck
project_type: outdoor
milestones:
  - {description: Deposit, percentage: "50"}
  - {description: Final, percentage: "45"}
`
	_, err := run(t, "price", "-f", writeFile(t, body))
	require.EqualError(t, err, "milestone percentages must sum to 100%, got 95%")
}

func TestPriceCommandReportsValidationFields(t *testing.T) {
	body := `
customer: {name: "", email: not-an-email}
title: Deck
project_type: outdoor
`
	_, err := run(t, "price", "-f", writeFile(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "customerName")
	require.Contains(t, err.Error(), "customerEmail")
}

func TestPDFCommandWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "q.pdf")
	stdout, err := run(t, "pdf", "-f", writeFile(t, sampleYAML), "-o", out)
	require.NoError(t, err)
	require.Contains(t, stdout, "wrote "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestParseQuoteFileRejectsBadNumbers(t *testing.T) {
	_, err := parseQuoteFile([]byte("line_items:\n  - {description: x, quantity: abc}\n"))
	require.EqualError(t, err, `line_items[0].quantity: invalid number "abc"`)
}

func TestParseQuoteFileManualTax(t *testing.T) {
	in, err := parseQuoteFile([]byte("pricing:\n  manual_tax: \"12.50\"\n  tax_rate: \"0.05\"\n"))
	require.NoError(t, err)
	require.NotNil(t, in.Pricing)
	require.True(t, in.Pricing.IsManualTax)
	require.Equal(t, "12.5", in.Pricing.TaxAmount.String())
	require.Equal(t, "0.05", in.Pricing.TaxRate.String())
}
