package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"metalwatch/internal/model"
)

// Export renders one series' quote history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && (opts.Market == "" || opts.Metal == "") {
		return errors.New("--png needs a single series: set --market and --metal")
	}

	filter, err := quoteFilter(opts.Market, opts.Metal)
	if err != nil {
		return err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	filter.Since = from
	filter.Limit = math.MaxInt32
	quotes, err := store.ListRecentQuotes(ctx, filter)
	if err != nil {
		return err
	}
	quotes = windowQuotes(quotes, to)
	if len(quotes) == 0 {
		a.Logger.Info().Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(quotes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(quotes)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

// windowQuotes drops quotes acquired after to and orders the rest oldest first.
func windowQuotes(quotes []model.Quote, to time.Time) []model.Quote {
	out := make([]model.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.AcquiredAt.After(to) {
			continue
		}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}

func downsampleQuotes(quotes []model.Quote, max int) []model.Quote {
	if max <= 0 || len(quotes) <= max {
		return quotes
	}
	if max == 1 {
		return quotes[len(quotes)-1:]
	}

	result := make([]model.Quote, 0, max)
	step := float64(len(quotes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(quotes) {
			idx = len(quotes) - 1
		}
		result = append(result, quotes[idx])
	}
	return result
}

func writeQuotesCSV(path string, quotes []model.Quote) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"acquired_at", "market", "metal", "primary_value", "backup_value", "unit", "quality", "is_error", "source", "provider_as_of"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, q := range quotes {
		backup := ""
		if q.Backup.Valid {
			backup = q.Backup.Decimal.String()
		}
		isError := "0"
		if q.IsError {
			isError = "1"
		}
		record := []string{
			q.AcquiredAt.UTC().Format(time.RFC3339),
			string(q.Market),
			string(q.Metal),
			q.Primary.String(),
			backup,
			q.Unit,
			string(q.Quality),
			isError,
			q.Source,
			q.ProviderAsOfRaw,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeQuotesPNG(path string, quotes []model.Quote) error {
	if len(quotes) < 2 {
		return fmt.Errorf("need at least 2 quotes to chart, have %d", len(quotes))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(quotes))
	primary := make([]float64, len(quotes))
	var backupX []time.Time
	var backup []float64
	for i, q := range quotes {
		x[i] = q.AcquiredAt
		primary[i] = q.Primary.InexactFloat64()
		if q.Backup.Valid {
			backupX = append(backupX, q.AcquiredAt)
			backup = append(backup, q.Backup.Decimal.InexactFloat64())
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Primary",
			XValues: x,
			YValues: primary,
		},
	}
	if len(backup) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Backup",
			XValues: backupX,
			YValues: backup,
		})
	}

	graph := chart.Chart{
		Title:  quotes[0].Key().String(),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (" + quotes[len(quotes)-1].Unit + ")",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
