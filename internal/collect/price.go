package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"metalwatch/internal/fetcher"
	"metalwatch/internal/model"
	"metalwatch/internal/normalize"
	"metalwatch/internal/storage"
	"metalwatch/internal/validate"
)

// PriceOptions configure a per-market price collector.
type PriceOptions struct {
	Market     model.Market
	Routes     fetcher.Routes
	Registry   fetcher.Registry
	Thresholds validate.Thresholds
}

// PriceCollector writes one quote per metal of its market.
type PriceCollector struct {
	opts   PriceOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewPriceCollector constructs the collector for opts.Market.
func NewPriceCollector(opts PriceOptions, logger zerolog.Logger) *PriceCollector {
	if opts.Routes == nil {
		opts.Routes = fetcher.DefaultRoutes()
	}
	return &PriceCollector{
		opts:   opts,
		logger: logger.With().Str("component", "price_collector").Str("market", string(opts.Market)).Logger(),
		now:    time.Now,
	}
}

// Name is the source tag used in the collection log.
func (c *PriceCollector) Name() string { return "price:" + string(c.opts.Market) }

type rawEntry struct {
	Provider string          `json:"provider"`
	Symbol   string          `json:"symbol"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type rawEnvelope struct {
	Primary rawEntry  `json:"primary"`
	Backup  *rawEntry `json:"backup,omitempty"`
}

type priceResult struct {
	quote model.Quote
	err   error
}

// Collect fetches every metal concurrently, then inserts in metal order. A
// metal for which neither provider answers is skipped; the collector fails
// only when no metal could be quoted.
func (c *PriceCollector) Collect(ctx context.Context, run Run, w storage.Writer) (Outcome, error) {
	routes := c.opts.Routes.ForMarket(c.opts.Market)
	if len(routes) == 0 {
		return Outcome{}, fmt.Errorf("no routes configured for %s", c.opts.Market)
	}

	results := make([]priceResult, len(routes))
	var g errgroup.Group
	for i, route := range routes {
		i, route := i, route
		g.Go(func() error {
			q, err := c.resolve(ctx, run, route)
			results[i] = priceResult{quote: q, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		quotes  []model.Quote
		skipped []string
		flagged int
	)
	for i, res := range results {
		if res.err != nil {
			c.logger.Warn().Err(res.err).Str("metal", string(routes[i].Key.Metal)).Msg("no quote available")
			skipped = append(skipped, string(routes[i].Key.Metal))
			continue
		}
		id, err := w.InsertQuote(ctx, res.quote)
		if err != nil {
			return Outcome{}, err
		}
		res.quote.ID = id
		if res.quote.IsError {
			flagged++
		}
		quotes = append(quotes, res.quote)
	}

	if len(quotes) == 0 {
		return Outcome{}, fmt.Errorf("%s: no provider returned a quote for %s", c.opts.Market, strings.Join(skipped, ", "))
	}

	msg := fmt.Sprintf("Collected %d quotes for %s", len(quotes), c.opts.Market)
	if flagged > 0 {
		msg += fmt.Sprintf(", %d flagged", flagged)
	}
	if len(skipped) > 0 {
		msg += fmt.Sprintf(", skipped %s", strings.Join(skipped, ", "))
	}
	return Outcome{Count: len(quotes), Message: msg, Quotes: quotes}, nil
}

// resolve produces the quote for one route. When the primary is unavailable the
// backup reading is promoted and no cross-check against a second source runs.
func (c *PriceCollector) resolve(ctx context.Context, run Run, route fetcher.Route) (model.Quote, error) {
	key := route.Key
	log := c.logger.With().Str("metal", string(key.Metal)).Logger()

	primary, err := c.fetch(ctx, route.Primary)
	binding := route.Primary
	fellBack := false
	if err != nil {
		if route.Backup == nil {
			return model.Quote{}, err
		}
		log.Warn().Err(err).Str("backup", route.Backup.Provider).Msg("primary unavailable, using backup")
		primary, err = c.fetch(ctx, *route.Backup)
		if err != nil {
			return model.Quote{}, fmt.Errorf("primary and backup unavailable: %w", err)
		}
		binding = *route.Backup
		fellBack = true
	}

	envelope := rawEnvelope{Primary: rawEntry{Provider: binding.Provider, Symbol: binding.Symbol, Payload: primary.Raw}}
	primaryValue, primaryConv := normalize.Explain(key, primary.Value)

	var (
		backup     decimal.NullDecimal
		backupConv string
	)
	if route.Backup != nil && !fellBack {
		reading, berr := c.fetch(ctx, *route.Backup)
		if berr != nil {
			log.Warn().Err(berr).Str("backup", route.Backup.Provider).Msg("backup unavailable, skipping divergence check")
		} else {
			var v decimal.Decimal
			v, backupConv = normalize.Explain(key, reading.Value)
			backup = decimal.NewNullDecimal(v)
			envelope.Backup = &rawEntry{Provider: route.Backup.Provider, Symbol: route.Backup.Symbol, Payload: reading.Raw}
		}
	}

	now := c.now().UTC()
	verdict := c.opts.Thresholds.CrossCheck(primaryValue, backup, primary.AsOf, now)
	if verdict.IsError {
		log.Warn().
			Str("quality", string(verdict.Quality)).
			Str("primary", primaryValue.String()).
			Str("backup", backup.Decimal.String()).
			Float64("age_seconds", verdict.AgeSeconds).
			Msg("quote flagged")
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return model.Quote{}, fmt.Errorf("encode raw payload: %w", err)
	}

	return model.Quote{
		RunID:           run.ID,
		Market:          key.Market,
		Metal:           key.Metal,
		Primary:         primaryValue,
		Backup:          backup,
		Unit:            normalize.CanonicalUnit(key),
		ProviderAsOf:    verdict.AsOf,
		ProviderAsOfRaw: primary.AsOf,
		Source:          binding.Provider,
		Quality:         verdict.Quality,
		IsError:         verdict.IsError,
		RawPayload:      raw,
		Mapping:         quoteMapping(binding, primary.Fields, primaryConv, route.Backup, backup, backupConv, verdict, fellBack),
		AcquiredAt:      now,
	}, nil
}

func (c *PriceCollector) fetch(ctx context.Context, b fetcher.Binding) (fetcher.Reading, error) {
	p, err := c.opts.Registry.Get(b.Provider)
	if err != nil {
		return fetcher.Reading{}, err
	}
	return p.FetchQuote(ctx, b.Symbol)
}

func quoteMapping(primary fetcher.Binding, fields, primaryConv string, backupBinding *fetcher.Binding, backup decimal.NullDecimal, backupConv string, v validate.Verdict, fellBack bool) string {
	parts := []string{fmt.Sprintf("%s %s %s", primary.Provider, primary.Symbol, fields)}
	if primaryConv != "" {
		parts = append(parts, "primary "+primaryConv)
	}
	switch {
	case fellBack:
		parts = append(parts, "primary unavailable, backup promoted")
	case backup.Valid:
		parts = append(parts, fmt.Sprintf("backup %s %s = %s", backupBinding.Provider, backupBinding.Symbol, backup.Decimal.String()))
		if backupConv != "" {
			parts = append(parts, "backup "+backupConv)
		}
		if v.DiffRatio.Valid {
			parts = append(parts, "diff_ratio="+v.DiffRatio.Decimal.StringFixed(6))
		}
	case backupBinding != nil:
		parts = append(parts, "backup unavailable")
	}
	if !v.AsOfParsed {
		parts = append(parts, "provider time unparsed, acquisition time used")
	}
	return strings.Join(parts, "; ")
}
