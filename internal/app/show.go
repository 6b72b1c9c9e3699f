package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
	"metalwatch/internal/storage"
)

// Show prints stored records. What selects latest (default), recent,
// warehouse, etf or audit.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	switch strings.ToLower(opts.What) {
	case "", "latest":
		quotes, err := store.LatestQuotes(ctx)
		if err != nil {
			return err
		}
		return writeQuotes(a.Out, quotes)
	case "recent", "quotes":
		filter, err := quoteFilter(opts.Market, opts.Metal)
		if err != nil {
			return err
		}
		filter.Limit = opts.Limit
		quotes, err := store.ListRecentQuotes(ctx, filter)
		if err != nil {
			return err
		}
		return writeQuotes(a.Out, quotes)
	case "warehouse":
		records, err := store.ListRecentWarehouse(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeWarehouse(a.Out, records)
	case "etf":
		holdings, err := store.ListRecentETF(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeETF(a.Out, holdings)
	case "audit":
		blobs, err := store.ListAuditBlobs(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAuditBlobs(a.Out, blobs)
	default:
		return fmt.Errorf("unknown record type %q", opts.What)
	}
}

// Logs prints collection log entries, newest first.
func (a *App) Logs(ctx context.Context, opts LogsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	filter := storage.LogFilter{Source: opts.Source, Limit: opts.Limit}
	switch model.LogStatus(strings.ToLower(opts.Status)) {
	case "":
	case model.StatusSuccess:
		filter.Status = model.StatusSuccess
	case model.StatusFail:
		filter.Status = model.StatusFail
	default:
		return fmt.Errorf("--status must be success or fail")
	}

	entries, err := store.ListCollectionLogs(ctx, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no log entries found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRun\tSource\tStatus\tMessage")
	for _, e := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339),
			shortID(e.RunID.String()),
			e.Source,
			e.Status,
			sanitizeInline(e.Message),
		)
	}
	return writer.Flush()
}

// DebugRaw prints the newest quote of a series with its raw payload and
// mapping description.
func (a *App) DebugRaw(ctx context.Context, market, metal string) error {
	mk, err := model.ParseMarket(market)
	if err != nil {
		return err
	}
	mt, err := model.ParseMetal(metal)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	q, err := store.FindQuoteDebug(ctx, mk, mt)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(a.Out, "no quote stored for %s\n", model.Key{Market: mk, Metal: mt})
		return nil
	}
	if err != nil {
		return err
	}
	return writeDebug(a.Out, q)
}

func writeDebug(out io.Writer, q model.Quote) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"series", q.Key().String()},
		{"run", q.RunID.String()},
		{"acquired", q.AcquiredAt.UTC().Format(time.RFC3339)},
		{"provider_as_of", q.ProviderAsOfRaw},
		{"source", q.Source},
		{"quality", fmt.Sprintf("%s (is_error=%t)", q.Quality, q.IsError)},
		{"primary", q.Primary.String() + " " + q.Unit},
		{"backup", nullDecimal(q.Backup)},
		{"mapping", q.Mapping},
		{"raw_payload", string(q.RawPayload)},
	}
	for _, row := range rows {
		fmt.Fprintf(writer, "%s:\t%s\n", row[0], row[1])
	}
	return writer.Flush()
}

func quoteFilter(market, metal string) (storage.QuoteFilter, error) {
	var filter storage.QuoteFilter
	if market != "" {
		m, err := model.ParseMarket(market)
		if err != nil {
			return filter, err
		}
		filter.Market = m
	}
	if metal != "" {
		m, err := model.ParseMetal(metal)
		if err != nil {
			return filter, err
		}
		filter.Metal = m
	}
	return filter, nil
}

func writeQuotes(out io.Writer, quotes []model.Quote) error {
	if len(quotes) == 0 {
		fmt.Fprintln(out, "no quotes found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Acquired (UTC)\tMarket\tMetal\tPrimary\tBackup\tUnit\tQuality\tSource\tAs-of")
	for _, q := range quotes {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			q.AcquiredAt.UTC().Format(time.RFC3339),
			q.Market,
			q.Metal,
			formatDecimal(q.Primary, 4),
			nullDecimal(q.Backup),
			q.Unit,
			q.Quality,
			q.Source,
			q.ProviderAsOfRaw,
		)
	}
	return writer.Flush()
}

func writeWarehouse(out io.Writer, records []model.WarehouseRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no warehouse records found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Acquired (UTC)\tSource\tMetal\tTotal\tEligible\tRegistered\tUnit\tQuality\tCell\tFile")
	for _, r := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.AcquiredAt.UTC().Format(time.RFC3339),
			r.Source,
			r.Metal,
			formatDecimal(r.Total, 2),
			formatDecimal(r.Eligible, 2),
			formatDecimal(r.Registered, 2),
			r.Unit,
			r.Quality,
			r.CellRef,
			shortID(r.FileHash),
		)
	}
	return writer.Flush()
}

func writeETF(out io.Writer, holdings []model.ETFHolding) error {
	if len(holdings) == 0 {
		fmt.Fprintln(out, "no ETF holdings found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Acquired (UTC)\tSymbol\tHoldings (Moz)\tPrice\tSource")
	for _, h := range holdings {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			h.AcquiredAt.UTC().Format(time.RFC3339),
			h.Symbol,
			nullDecimal(h.Holdings),
			nullDecimal(h.ReferencePrice),
			h.Source,
		)
	}
	return writer.Flush()
}

func writeAuditBlobs(out io.Writer, blobs []model.AuditBlob) error {
	if len(blobs) == 0 {
		fmt.Fprintln(out, "no audit blobs found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Stored (UTC)\tSource\tBackend\tBytes\tDigest\tKey")
	for _, b := range blobs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.StoredAt.UTC().Format(time.RFC3339),
			b.Source,
			b.Backend,
			b.SizeBytes,
			shortID(b.Digest),
			b.Key,
		)
	}
	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func nullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func shortID(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
