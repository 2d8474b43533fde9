package main

import (
	"context"
	"fmt"
	"os"

	"github.com/noah-isme/backend-quotes/internal/cli"
	"github.com/noah-isme/backend-quotes/internal/config"
)

func main() {
	opts := cli.Options{
		NumberPrefix: "Q",
		CompanyName:  "Contractor",
		Currency:     "USD",
	}
	// Offline use needs no database, so only the quote defaults are read and
	// a missing DATABASE_URL is not an error here.
	if cfg, err := config.Load(); err == nil {
		opts.TaxRate = cfg.QuoteDefaultTaxRate
		opts.NumberPrefix = cfg.QuoteNumberPrefix
		opts.CompanyName = cfg.CompanyName
		opts.Currency = cfg.CurrencyCode
	}
	if err := cli.NewRootCmd(opts).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
