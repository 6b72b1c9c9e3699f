package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/fetcher"
	"metalwatch/internal/model"
	"metalwatch/internal/storage"
	"metalwatch/internal/validate"
)

// Fund is one tracked ETF. Holdings is the configured benchmark in Moz.
type Fund struct {
	Symbol      string
	Holdings    decimal.NullDecimal
	PriceSymbol string
}

// ETFCollector records fund holdings with a reference price from prices.
type ETFCollector struct {
	funds  []Fund
	prices fetcher.QuoteProvider
	logger zerolog.Logger
	now    func() time.Time
}

// NewETFCollector constructs the collector. prices may be nil, in which case
// reference prices stay NULL.
func NewETFCollector(funds []Fund, prices fetcher.QuoteProvider, logger zerolog.Logger) *ETFCollector {
	return &ETFCollector{
		funds:  funds,
		prices: prices,
		logger: logger.With().Str("component", "etf_collector").Logger(),
		now:    time.Now,
	}
}

func (c *ETFCollector) Name() string { return "etf" }

func (c *ETFCollector) Collect(ctx context.Context, run Run, w storage.Writer) (Outcome, error) {
	priced := 0
	for _, f := range c.funds {
		h := model.ETFHolding{
			RunID:      run.ID,
			Symbol:     f.Symbol,
			Holdings:   f.Holdings,
			Source:     "benchmark",
			AcquiredAt: c.now().UTC(),
		}
		if f.PriceSymbol != "" && c.prices != nil {
			reading, err := c.prices.FetchQuote(ctx, f.PriceSymbol)
			if err != nil {
				c.logger.Warn().Err(err).Str("symbol", f.Symbol).Msg("reference price unavailable")
			} else {
				h.ReferencePrice = decimal.NewNullDecimal(reading.Value)
				h.Source = "benchmark+" + reading.Provider
				if asOf, ok := validate.ParseAsOf(reading.AsOf); ok {
					h.ProviderAsOf = asOf
				}
				priced++
			}
		}
		if _, err := w.InsertETFHolding(ctx, h); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{
		Count:   len(c.funds),
		Message: fmt.Sprintf("Collected %d ETFs (%d priced)", len(c.funds), priced),
	}, nil
}
