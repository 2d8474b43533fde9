package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/document"
	"github.com/noah-isme/backend-quotes/internal/milestone"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

// Options configures the offline quote engine used by the commands.
type Options struct {
	TaxRate      decimal.Decimal
	NumberPrefix string
	CompanyName  string
	Currency     string
	Now          func() time.Time
}

// NewRootCmd builds the quotectl command tree.
func NewRootCmd(opts Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "quotectl",
		Short:         "Price and render construction quotes offline",
		Long:          "quotectl reads a quote from a YAML file, prices it the way the API does, and renders the client PDF.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPriceCmd(opts), newPDFCmd(opts))
	return root
}

func newPriceCmd(opts Options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print line totals, summary and payment schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, schedule, err := preview(cmd.Context(), opts, file)
			if err != nil {
				return err
			}
			return printQuote(cmd.OutOrStdout(), q, schedule)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "quote YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPDFCmd(opts Options) *cobra.Command {
	var file, out string
	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Render the quote PDF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, _, err := preview(cmd.Context(), opts, file)
			if err != nil {
				return err
			}
			gen := document.Generator{CompanyName: opts.CompanyName, CurrencyCode: opts.Currency, Now: opts.Now}
			pdf, err := gen.Render(q)
			if err != nil {
				return fmt.Errorf("render pdf: %w", err)
			}
			if err := os.WriteFile(out, pdf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(pdf))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "quote YAML file")
	cmd.Flags().StringVarP(&out, "out", "o", "quote.pdf", "output PDF path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func preview(ctx context.Context, opts Options, path string) (quote.Quote, []milestone.Allocation, error) {
	in, err := readQuoteFile(path)
	if err != nil {
		return quote.Quote{}, nil, err
	}
	svc := &quote.Service{
		Validator: common.NewValidator(),
		Logger:    zerolog.Nop(),
		Settings:  quote.Settings{DefaultTaxRate: opts.TaxRate, NumberPrefix: opts.NumberPrefix},
		Now:       opts.Now,
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q, schedule, err := svc.Preview(ctx, in)
	if err != nil {
		return quote.Quote{}, nil, describe(err)
	}
	return q, schedule, nil
}

// describe flattens validation details into a readable error.
func describe(err error) error {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		return err
	}
	fields, ok := appErr.Details.([]common.FieldError)
	if !ok || len(fields) <= 1 {
		return errors.New(appErr.Message)
	}
	msg := "invalid quote file:"
	for _, f := range fields {
		msg += fmt.Sprintf("\n  %s %s", f.Field, f.Message)
	}
	return errors.New(msg)
}

func printQuote(w io.Writer, q quote.Quote, schedule []milestone.Allocation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s  %s\n\n", q.Number, q.Title)
	fmt.Fprintln(tw, "#\tDescription\tQty\tUnit price\tDiscount\tTotal\t")
	for _, li := range q.LineItems {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			li.Position, li.Description, li.Quantity.String(), li.UnitPrice.StringFixed(2),
			li.DiscountAmount.StringFixed(2), li.TotalPrice.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Subtotal\t%s\t\n", q.Subtotal.StringFixed(2))
	fmt.Fprintf(tw, "Discount\t-%s\t\n", q.DiscountAmount.StringFixed(2))
	fmt.Fprintf(tw, "Tax\t%s\t\n", q.TaxAmount.StringFixed(2))
	fmt.Fprintf(tw, "Total\t%s\t\n", q.Total.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Milestone\tShare\tAmount\t")
	for _, a := range schedule {
		fmt.Fprintf(tw, "%s\t%s%%\t%s\t\n", a.Description, a.Percentage.String(), a.Amount.StringFixed(2))
	}
	return tw.Flush()
}
