package collect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"metalwatch/internal/audit"
	"metalwatch/internal/fetcher"
	"metalwatch/internal/model"
)

type memWriter struct {
	quotes    []model.Quote
	warehouse []model.WarehouseRecord
	etf       []model.ETFHolding
	analytics []model.AnalyticsIndicator
	blobs     []model.AuditBlob
	failOn    string
}

func (m *memWriter) fail(kind string) error {
	if m.failOn == kind {
		return errors.New("insert " + kind + " failed")
	}
	return nil
}

func (m *memWriter) InsertQuote(ctx context.Context, q model.Quote) (int64, error) {
	if err := m.fail("quote"); err != nil {
		return 0, err
	}
	m.quotes = append(m.quotes, q)
	return int64(len(m.quotes)), nil
}

func (m *memWriter) InsertWarehouseRecord(ctx context.Context, r model.WarehouseRecord) (int64, error) {
	if err := m.fail("warehouse"); err != nil {
		return 0, err
	}
	m.warehouse = append(m.warehouse, r)
	return int64(len(m.warehouse)), nil
}

func (m *memWriter) InsertETFHolding(ctx context.Context, h model.ETFHolding) (int64, error) {
	m.etf = append(m.etf, h)
	return int64(len(m.etf)), nil
}

func (m *memWriter) InsertAnalytics(ctx context.Context, a model.AnalyticsIndicator) (int64, error) {
	m.analytics = append(m.analytics, a)
	return int64(len(m.analytics)), nil
}

func (m *memWriter) InsertAuditBlob(ctx context.Context, b model.AuditBlob) error {
	m.blobs = append(m.blobs, b)
	return nil
}

type fakeProvider struct {
	name     string
	mu       sync.Mutex
	readings map[string]fetcher.Reading
	calls    []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchQuote(ctx context.Context, symbol string) (fetcher.Reading, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	r, ok := f.readings[symbol]
	if !ok {
		return fetcher.Reading{}, &fetcher.UnavailableError{Provider: f.name, Symbol: symbol, Reason: fetcher.ReasonEmpty}
	}
	r.Provider = f.name
	r.Symbol = symbol
	return r, nil
}

var testNow = time.Date(2026, 3, 2, 14, 40, 0, 0, time.UTC)

func reading(v string, asOf time.Time) fetcher.Reading {
	return fetcher.Reading{
		Value:  decimal.RequireFromString(v),
		AsOf:   asOf.Format("2006-01-02 15:04:05"),
		Raw:    json.RawMessage(`{"fields":["` + v + `"]}`),
		Fields: "price=fields[0]",
	}
}

func testRun() Run { return Run{ID: uuid.New(), StartedAt: testNow} }

func newPriceCollector(market model.Market, sina, yahoo *fakeProvider) *PriceCollector {
	c := NewPriceCollector(PriceOptions{
		Market:   market,
		Routes:   fetcher.DefaultRoutes(),
		Registry: fetcher.NewRegistry(sina, yahoo),
	}, zerolog.Nop())
	c.now = func() time.Time { return testNow }
	return c
}

func TestPriceCollectorCrossChecks(t *testing.T) {
	fresh := testNow.Add(-5 * time.Minute)
	sina := &fakeProvider{name: "sina", readings: map[string]fetcher.Reading{
		"hf_GC": reading("2650", fresh),
		"hf_SI": reading("32.00", fresh),
		"hf_HG": reading("452", fresh),
	}}
	yahoo := &fakeProvider{name: "yahoo", readings: map[string]fetcher.Reading{
		"GC=F": reading("2650", fresh),
		"SI=F": reading("25.60", fresh),
		"HG=F": reading("4.52", fresh),
	}}

	w := &memWriter{}
	run := testRun()
	out, err := newPriceCollector(model.MarketComex, sina, yahoo).Collect(context.Background(), run, w)
	require.NoError(t, err)
	require.Equal(t, 3, out.Count)
	require.Len(t, w.quotes, 3)
	require.Contains(t, out.Message, "1 flagged")

	gold, silver, copper := w.quotes[0], w.quotes[1], w.quotes[2]
	require.Equal(t, model.MetalGold, gold.Metal)
	require.Equal(t, model.QualityRealtime, gold.Quality)
	require.False(t, gold.IsError)
	require.Equal(t, run.ID, gold.RunID)
	require.Equal(t, "USD/oz", gold.Unit)

	require.Equal(t, model.QualityErrorDiff, silver.Quality)
	require.True(t, silver.IsError)
	require.Contains(t, silver.Mapping, "diff_ratio=0.250000")

	require.True(t, copper.Primary.Equal(decimal.RequireFromString("4.52")), "cents/lb normalised")
	require.Equal(t, model.QualityRealtime, copper.Quality)
	require.Contains(t, copper.Mapping, "cents/lb")

	var env rawEnvelope
	require.NoError(t, json.Unmarshal(gold.RawPayload, &env))
	require.Equal(t, "hf_GC", env.Primary.Symbol)
	require.NotNil(t, env.Backup)
}

func TestPriceCollectorStaleReadingIsDelayed(t *testing.T) {
	stale := testNow.Add(-2 * time.Hour)
	sina := &fakeProvider{name: "sina", readings: map[string]fetcher.Reading{
		"hf_XAU": reading("2600", stale),
		"hf_XAG": reading("30", stale),
		"hf_CAD": reading("9000", stale),
	}}
	yahoo := &fakeProvider{name: "yahoo", readings: map[string]fetcher.Reading{
		"XAUUSD=X": reading("2600", testNow),
	}}

	w := &memWriter{}
	_, err := newPriceCollector(model.MarketLondon, sina, yahoo).Collect(context.Background(), testRun(), w)
	require.NoError(t, err)
	for _, q := range w.quotes {
		require.Equal(t, model.QualityDelayed, q.Quality, q.Metal)
		require.True(t, q.IsError)
	}
	require.False(t, w.quotes[1].Backup.Valid, "missing backup leaves NULL")
	require.Contains(t, w.quotes[1].Mapping, "backup unavailable")
}

func TestPriceCollectorPromotesBackup(t *testing.T) {
	sina := &fakeProvider{name: "sina", readings: map[string]fetcher.Reading{
		"hf_XAU": reading("2600", testNow),
		"hf_XAG": reading("30", testNow),
	}}
	yahoo := &fakeProvider{name: "yahoo", readings: map[string]fetcher.Reading{
		"XAUUSD=X": reading("2600", testNow),
		"XAGUSD=X": reading("30", testNow),
		"HG=F":     reading("4.10", testNow),
	}}

	w := &memWriter{}
	_, err := newPriceCollector(model.MarketLondon, sina, yahoo).Collect(context.Background(), testRun(), w)
	require.NoError(t, err)
	require.Len(t, w.quotes, 3)

	copper := w.quotes[2]
	require.Equal(t, "yahoo", copper.Source)
	require.False(t, copper.Backup.Valid)
	require.True(t, copper.Primary.Equal(decimal.RequireFromString("4.10").Mul(decimal.RequireFromString("2204.62"))))
	require.Equal(t, model.QualityRealtime, copper.Quality)
	require.Contains(t, copper.Mapping, "backup promoted")
}

func TestPriceCollectorSkipsUnavailableMetal(t *testing.T) {
	sina := &fakeProvider{name: "sina", readings: map[string]fetcher.Reading{
		"nf_AU0": reading("620", testNow),
		"nf_AG0": reading("7835", testNow),
	}}
	yahoo := &fakeProvider{name: "yahoo"}

	w := &memWriter{}
	out, err := newPriceCollector(model.MarketShanghai, sina, yahoo).Collect(context.Background(), testRun(), w)
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	require.Contains(t, out.Message, "skipped copper")
	require.Empty(t, yahoo.calls, "shanghai has no backup")
}

func TestPriceCollectorFailsWithoutAnyQuote(t *testing.T) {
	w := &memWriter{}
	_, err := newPriceCollector(model.MarketShanghai, &fakeProvider{name: "sina"}, &fakeProvider{name: "yahoo"}).
		Collect(context.Background(), testRun(), w)
	require.Error(t, err)
	require.Empty(t, w.quotes)
}

func TestPriceCollectorPropagatesStoreError(t *testing.T) {
	sina := &fakeProvider{name: "sina", readings: map[string]fetcher.Reading{"nf_AU0": reading("620", testNow)}}
	w := &memWriter{failOn: "quote"}
	_, err := newPriceCollector(model.MarketShanghai, sina, &fakeProvider{name: "yahoo"}).Collect(context.Background(), testRun(), w)
	require.ErrorContains(t, err, "insert quote failed")
}

type fakeReports struct {
	bodies map[string]string
}

func (f *fakeReports) FetchReport(ctx context.Context, src fetcher.ReportSource) (fetcher.Report, error) {
	body, ok := f.bodies[src.Name]
	if !ok {
		return fetcher.Report{}, &fetcher.UnavailableError{Provider: "report", Symbol: src.Name, Reason: fetcher.ReasonStatus, StatusCode: 503}
	}
	return fetcher.Report{Source: src, Body: []byte(body), FetchedAt: testNow}, nil
}

func newWarehouseCollector(t *testing.T, reports fetcher.ReportFetcher, sources ...fetcher.ReportSource) *WarehouseCollector {
	t.Helper()
	rec := audit.NewRecorder(audit.NewFSBackend(t.TempDir()), zerolog.Nop())
	c := NewWarehouseCollector(WarehouseOptions{Sources: sources}, reports, rec, zerolog.Nop())
	c.now = func() time.Time { return testNow }
	return c
}

func TestWarehouseCollector(t *testing.T) {
	reports := &fakeReports{bodies: map[string]string{
		"CME": "metal,total,eligible,registered,field,report_date\n" +
			"silver,442480000,317040000,125440000,TOTAL,2026-02-27\n" +
			"gold,23500000,10200000,13300000,TOTAL,2026-02-27\n" +
			"copper,150000,80000,70500,TOTAL,2026-02-27\n",
		"LME": "metal,total,eligible,registered,field,report_date\n" +
			"silver,12.5,,,on-warrant,2026-02-26\n" +
			"copper,85.2,,,unknown,2026-02-26\n",
	}}
	c := newWarehouseCollector(t, reports,
		fetcher.ReportSource{Name: "CME", URL: "https://example.test/Silver_Stocks.csv", Sheet: "Summary"},
		fetcher.ReportSource{Name: "LME", URL: "https://example.test/lme.csv"},
		fetcher.ReportSource{Name: "SHFE", URL: "https://example.test/shfe.csv"},
	)

	w := &memWriter{}
	out, err := c.Collect(context.Background(), testRun(), w)
	require.NoError(t, err)
	require.Equal(t, 5, out.Count)
	require.Contains(t, out.Message, "failed SHFE")
	require.Len(t, w.blobs, 2)

	silver := w.warehouse[0]
	require.Equal(t, "CME", silver.Source)
	require.True(t, silver.Total.Equal(decimal.RequireFromString("442.48")))
	require.Equal(t, "Moz", silver.Unit)
	require.Equal(t, model.QualityRealtime, silver.Quality)
	require.Equal(t, "Total(442.48) = Eligible(317.04) + Registered(125.44)", strings.SplitN(silver.Mapping, ";", 2)[0])
	require.Equal(t, "Summary!B2", silver.CellRef)
	require.Equal(t, w.blobs[0].Digest, silver.FileHash)
	require.Len(t, silver.FileHash, 64)

	copper := w.warehouse[2]
	require.Equal(t, model.QualityErrorDiff, copper.Quality)

	lmeSilver, lmeCopper := w.warehouse[3], w.warehouse[4]
	require.Equal(t, model.QualityRealtime, lmeSilver.Quality)
	require.Equal(t, "on-warrant", lmeSilver.FieldName)
	require.Equal(t, model.QualityUnknownSpec, lmeCopper.Quality)
}

func TestWarehouseCollectorFailsWhenAllSourcesFail(t *testing.T) {
	c := newWarehouseCollector(t, &fakeReports{}, fetcher.ReportSource{Name: "CME"})
	_, err := c.Collect(context.Background(), testRun(), &memWriter{})
	require.ErrorIs(t, err, fetcher.ErrUnavailable)
}

func TestWarehouseCollectorStoreErrorAborts(t *testing.T) {
	reports := &fakeReports{bodies: map[string]string{"SHFE": "metal,total\nsilver,1250.5\n"}}
	c := newWarehouseCollector(t, reports, fetcher.ReportSource{Name: "SHFE"})
	_, err := c.Collect(context.Background(), testRun(), &memWriter{failOn: "warehouse"})
	require.ErrorContains(t, err, "SHFE")
}

func TestETFCollector(t *testing.T) {
	yahoo := &fakeProvider{name: "yahoo", readings: map[string]fetcher.Reading{"SLV": reading("29.10", testNow)}}
	c := NewETFCollector([]Fund{
		{Symbol: "SLV", Holdings: decimal.NewNullDecimal(decimal.RequireFromString("13.2")), PriceSymbol: "SLV"},
		{Symbol: "PSLV", PriceSymbol: "PSLV"},
		{Symbol: "AGX"},
	}, yahoo, zerolog.Nop())

	w := &memWriter{}
	out, err := c.Collect(context.Background(), testRun(), w)
	require.NoError(t, err)
	require.Equal(t, 3, out.Count)
	require.Equal(t, "Collected 3 ETFs (1 priced)", out.Message)

	require.True(t, w.etf[0].ReferencePrice.Valid)
	require.Equal(t, "benchmark+yahoo", w.etf[0].Source)
	require.False(t, w.etf[0].ProviderAsOf.IsZero())
	require.False(t, w.etf[1].Holdings.Valid)
	require.False(t, w.etf[1].ReferencePrice.Valid)
	require.Equal(t, []string{"SLV", "PSLV"}, yahoo.calls)
}

func TestAnalyticsCollector(t *testing.T) {
	c := NewAnalyticsCollector([]Benchmark{
		{Category: "logic", Indicator: "silver_deficit", Value: decimal.RequireFromString("8.7")},
		{Category: "logic", Indicator: "financial_logic", Value: decimal.RequireFromString("8.4")},
	})
	w := &memWriter{}
	run := testRun()
	out, err := c.Collect(context.Background(), run, w)
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	require.Equal(t, run.ID, w.analytics[0].RunID)
}
