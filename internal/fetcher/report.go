package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
)

const reportName = "report"

// ReportSource describes one warehouse report publisher.
type ReportSource struct {
	Name     string
	URL      string
	Filename string
	Sheet    string
}

// FileName returns the configured file name or the last URL path segment.
func (s ReportSource) FileName() string {
	if s.Filename != "" {
		return s.Filename
	}
	base := path.Base(strings.SplitN(s.URL, "?", 2)[0])
	if base == "." || base == "/" || base == "" {
		return strings.ToLower(s.Name) + "_report.csv"
	}
	return base
}

// Report is the raw document returned by a report publisher.
type Report struct {
	Source      ReportSource
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// ReportFetcher downloads warehouse reports.
type ReportFetcher interface {
	FetchReport(ctx context.Context, src ReportSource) (Report, error)
}

// ReportFeedOptions parameterise the report downloader.
type ReportFeedOptions struct {
	UserAgent string
	MaxBytes  int64
}

// ReportFeed downloads report documents over HTTP under a Policy.
type ReportFeed struct {
	opts   ReportFeedOptions
	policy *Policy
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewReportFeed constructs the document feed.
func NewReportFeed(opts ReportFeedOptions, policy *Policy, logger zerolog.Logger) *ReportFeed {
	if policy == nil {
		policy = NewPolicy(0, 0, 0, 0)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 32 << 20
	}
	return &ReportFeed{
		opts:   opts,
		policy: policy,
		client: &http.Client{},
		logger: logger.With().Str("component", "report_fetcher").Logger(),
		now:    time.Now,
	}
}

// FetchReport downloads src.URL.
func (f *ReportFeed) FetchReport(ctx context.Context, src ReportSource) (Report, error) {
	if src.URL == "" {
		return Report{}, unavailable(reportName, src.Name, ReasonTransport, errors.New("report url not configured"))
	}

	var report Report
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return unavailable(reportName, src.Name, ReasonTransport, err)
		}
		if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return unavailable(reportName, src.Name, ReasonTransport, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes))
		if err != nil {
			return unavailable(reportName, src.Name, ReasonTransport, err)
		}
		if resp.StatusCode != http.StatusOK {
			return statusError(reportName, src.Name, resp.StatusCode, body)
		}
		if len(body) == 0 {
			return unavailable(reportName, src.Name, ReasonEmpty, nil)
		}
		report = Report{
			Source:      src,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			FetchedAt:   f.now().UTC(),
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = unavailable(reportName, src.Name, ReasonTransport, err)
		}
		return Report{}, err
	}

	f.logger.Debug().Str("source", src.Name).Int("bytes", len(report.Body)).Msg("report downloaded")
	return report, nil
}

// InventoryRow is one metal line extracted from a report.
type InventoryRow struct {
	Metal        model.Metal
	Total        decimal.Decimal
	Eligible     decimal.Decimal
	Registered   decimal.Decimal
	HasBreakdown bool
	Field        string
	ReportDate   string
	CellRef      string
}

var reportHeader = []string{"metal", "total", "eligible", "registered", "field", "report_date"}

// ParseInventoryReport reads the CSV export of a warehouse report. The header is
// metal,total,eligible,registered,field,report_date; eligible and registered may
// be blank for sources that publish a single stock figure. CellRef points at the
// total cell as <sheet>!B<row>.
func ParseInventoryReport(body []byte, sheet string) ([]InventoryRow, error) {
	if sheet == "" {
		sheet = "Sheet1"
	}
	r := csv.NewReader(bytes.NewReader(body))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, unavailable(reportName, sheet, ReasonEmpty, nil)
	}
	if err != nil {
		return nil, unavailable(reportName, sheet, ReasonParse, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, h := range reportHeader[:2] {
		if _, ok := index[h]; !ok {
			return nil, unavailable(reportName, sheet, ReasonParse, fmt.Errorf("missing column %q", h))
		}
	}
	cell := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	totalCol := columnName(index["total"])

	var rows []InventoryRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, unavailable(reportName, sheet, ReasonParse, err)
		}
		// encoding/csv skips blank lines, so the source line is the row number.
		lineNo, _ := r.FieldPos(0)
		metalStr := cell(rec, "metal")
		if metalStr == "" {
			continue
		}
		metal, err := model.ParseMetal(metalStr)
		if err != nil {
			return nil, unavailable(reportName, sheet, ReasonParse, fmt.Errorf("row %d: %w", lineNo, err))
		}
		total, err := decimal.NewFromString(cell(rec, "total"))
		if err != nil {
			return nil, unavailable(reportName, sheet, ReasonParse, fmt.Errorf("row %d total: %w", lineNo, err))
		}

		row := InventoryRow{
			Metal:      metal,
			Total:      total,
			Field:      cell(rec, "field"),
			ReportDate: cell(rec, "report_date"),
			CellRef:    fmt.Sprintf("%s!%s%d", sheet, totalCol, lineNo),
		}
		eligible, registered := cell(rec, "eligible"), cell(rec, "registered")
		if eligible != "" || registered != "" {
			if row.Eligible, err = decimal.NewFromString(eligible); err != nil {
				return nil, unavailable(reportName, sheet, ReasonParse, fmt.Errorf("row %d eligible: %w", lineNo, err))
			}
			if row.Registered, err = decimal.NewFromString(registered); err != nil {
				return nil, unavailable(reportName, sheet, ReasonParse, fmt.Errorf("row %d registered: %w", lineNo, err))
			}
			row.HasBreakdown = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnName converts a zero-based column index into spreadsheet letters.
func columnName(i int) string {
	name := ""
	for i++; i > 0; i = (i - 1) / 26 {
		name = string(rune('A'+(i-1)%26)) + name
	}
	return name
}

var _ ReportFetcher = (*ReportFeed)(nil)
