package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/audit"
	"metalwatch/internal/fetcher"
	"metalwatch/internal/model"
	"metalwatch/internal/normalize"
	"metalwatch/internal/storage"
	"metalwatch/internal/validate"
)

// WarehouseOptions configure the inventory collector.
type WarehouseOptions struct {
	Sources   []fetcher.ReportSource
	Tolerance decimal.Decimal
}

// WarehouseCollector downloads each report, keeps the raw bytes and writes one
// record per metal row.
type WarehouseCollector struct {
	opts     WarehouseOptions
	reports  fetcher.ReportFetcher
	recorder *audit.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewWarehouseCollector constructs the collector.
func NewWarehouseCollector(opts WarehouseOptions, reports fetcher.ReportFetcher, recorder *audit.Recorder, logger zerolog.Logger) *WarehouseCollector {
	if !opts.Tolerance.IsPositive() {
		opts.Tolerance = validate.DefaultBalanceTolerance
	}
	return &WarehouseCollector{
		opts:     opts,
		reports:  reports,
		recorder: recorder,
		logger:   logger.With().Str("component", "warehouse_collector").Logger(),
		now:      time.Now,
	}
}

func (c *WarehouseCollector) Name() string { return "warehouse" }

// Collect processes every source. A source whose report cannot be downloaded
// or parsed is skipped; the collector fails when every source did.
func (c *WarehouseCollector) Collect(ctx context.Context, run Run, w storage.Writer) (Outcome, error) {
	if len(c.opts.Sources) == 0 {
		return Outcome{Message: "no inventory sources configured"}, nil
	}

	var (
		total    int
		flagged  int
		failures []string
		perSrc   []string
		errs     []error
	)
	for _, src := range c.opts.Sources {
		n, bad, err := c.collectSource(ctx, run, src, w)
		if err != nil {
			var ue *fetcher.UnavailableError
			if !errors.As(err, &ue) {
				// Store errors leave the transaction unusable.
				return Outcome{}, fmt.Errorf("%s: %w", src.Name, err)
			}
			c.logger.Warn().Err(err).Str("source", src.Name).Msg("inventory source skipped")
			failures = append(failures, src.Name)
			errs = append(errs, err)
			continue
		}
		total += n
		flagged += bad
		perSrc = append(perSrc, fmt.Sprintf("%s %d", src.Name, n))
	}

	if len(failures) == len(c.opts.Sources) {
		return Outcome{}, errors.Join(errs...)
	}

	msg := fmt.Sprintf("Collected %d inventory items (%s)", total, strings.Join(perSrc, ", "))
	if flagged > 0 {
		msg += fmt.Sprintf(", %d flagged", flagged)
	}
	if len(failures) > 0 {
		msg += fmt.Sprintf(", failed %s", strings.Join(failures, ", "))
	}
	return Outcome{Count: total, Message: msg}, nil
}

func (c *WarehouseCollector) collectSource(ctx context.Context, run Run, src fetcher.ReportSource, w storage.Writer) (int, int, error) {
	report, err := c.reports.FetchReport(ctx, src)
	if err != nil {
		return 0, 0, err
	}

	now := c.now().UTC()
	receipt := c.recorder.Store(ctx, src.Name, report.Body, src.FileName())
	if receipt.Stored() {
		if err := w.InsertAuditBlob(ctx, receipt.Blob(src.Name, now)); err != nil {
			return 0, 0, err
		}
	}

	rows, err := fetcher.ParseInventoryReport(report.Body, src.Sheet)
	if err != nil {
		return 0, 0, err
	}

	source := strings.ToUpper(src.Name)
	flagged := 0
	for _, row := range rows {
		rec := c.record(run, source, src, row, receipt.Digest, now)
		if rec.Quality != model.QualityRealtime {
			flagged++
			c.logger.Warn().
				Str("source", source).
				Str("metal", string(rec.Metal)).
				Str("quality", string(rec.Quality)).
				Str("mapping", rec.Mapping).
				Msg("inventory row flagged")
		}
		if _, err := w.InsertWarehouseRecord(ctx, rec); err != nil {
			return 0, 0, err
		}
	}
	return len(rows), flagged, nil
}

func (c *WarehouseCollector) record(run Run, source string, src fetcher.ReportSource, row fetcher.InventoryRow, digest string, now time.Time) model.WarehouseRecord {
	inv, conv := normalize.NormalizeInventory(source, row.Metal, normalize.Inventory{
		Total:      row.Total,
		Eligible:   row.Eligible,
		Registered: row.Registered,
	})

	rec := model.WarehouseRecord{
		RunID:      run.ID,
		Metal:      row.Metal,
		Total:      inv.Total,
		Eligible:   inv.Eligible,
		Registered: inv.Registered,
		Unit:       normalize.InventoryUnit(source, row.Metal),
		Source:     source,
		SourceURL:  src.URL,
		ReportDate: row.ReportDate,
		FieldName:  row.Field,
		CellRef:    row.CellRef,
		FileHash:   digest,
		AcquiredAt: now,
	}
	if rec.ReportDate == "" {
		rec.ReportDate = now.Format("2006-01-02")
	}

	if row.HasBreakdown {
		res := validate.BalanceWithin(inv.Total, inv.Eligible, inv.Registered, c.opts.Tolerance)
		rec.Quality = res.Quality
		rec.Mapping = res.Mapping
		if rec.FieldName == "" {
			rec.FieldName = "Total/Eligible/Registered"
		}
	} else {
		rec.Quality = model.QualityRealtime
		field := strings.TrimSpace(row.Field)
		if field == "" || strings.EqualFold(field, "unknown") {
			rec.Quality = model.QualityUnknownSpec
		}
		rec.Mapping = fmt.Sprintf("%s %s %s stocks", source, row.Metal, field)
	}
	if conv != "" {
		rec.Mapping += "; " + conv
	}
	return rec
}
