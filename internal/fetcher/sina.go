package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const sinaName = "sina"

// sinaZone is the clock Sina stamps quotes with.
var sinaZone = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}()

const sinaLayout = "2006-01-02 15:04:05"

// SinaOptions parameterise the Sina real-time quote feed.
type SinaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Referer   string
}

// Sina reads the hq.sinajs.cn text feed. Payloads are GBK encoded lines of the
// form var hq_str_<symbol>="f0,f1,...";
type Sina struct {
	opts    SinaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewSina constructs the real-time feed adapter.
func NewSina(opts SinaOptions, logger zerolog.Logger) *Sina {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://hq.sinajs.cn"
	}
	if opts.Referer == "" {
		opts.Referer = "http://finance.sina.com.cn"
	}

	return &Sina{
		opts:    opts,
		logger:  logger.With().Str("component", "sina_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Name identifies the provider in routes and source tags.
func (s *Sina) Name() string { return sinaName }

// FetchQuote retrieves the last price for symbol.
func (s *Sina) FetchQuote(ctx context.Context, symbol string) (Reading, error) {
	endpoint := fmt.Sprintf("%s/list=%s", s.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Reading{}, unavailable(sinaName, symbol, ReasonTransport, err)
	}
	req.Header.Set("Referer", s.opts.Referer)
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Reading{}, unavailable(sinaName, symbol, ReasonTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return Reading{}, unavailable(sinaName, symbol, ReasonTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, statusError(sinaName, symbol, resp.StatusCode, body)
	}

	for _, line := range strings.Split(string(body), "\n") {
		sym, fields, ok := parseSinaLine(line)
		if !ok || sym != symbol {
			continue
		}
		if len(fields) == 0 {
			return Reading{}, unavailable(sinaName, symbol, ReasonEmpty, nil)
		}
		value, asOf, mapping, err := extractSina(symbol, fields, s.now())
		if err != nil {
			return Reading{}, unavailable(sinaName, symbol, ReasonParse, err)
		}
		raw, _ := json.Marshal(map[string]any{"symbol": symbol, "fields": fields})
		return Reading{
			Provider:   sinaName,
			Symbol:     symbol,
			Value:      value,
			AsOf:       asOf,
			Raw:        raw,
			Fields:     mapping,
			ReceivedAt: s.now().UTC(),
		}, nil
	}

	return Reading{}, unavailable(sinaName, symbol, ReasonEmpty, fmt.Errorf("symbol not present in response"))
}

// parseSinaLine splits `var hq_str_SYM="a,b,c";` into SYM and its fields. An empty
// quoted body yields ok with no fields.
func parseSinaLine(line string) (string, []string, bool) {
	line = strings.TrimSpace(line)
	const prefix = "var hq_str_"
	if !strings.HasPrefix(line, prefix) {
		return "", nil, false
	}
	rest := line[len(prefix):]
	eq := strings.IndexByte(rest, '=')
	if eq <= 0 {
		return "", nil, false
	}
	sym := rest[:eq]
	first := strings.IndexByte(rest, '"')
	last := strings.LastIndexByte(rest, '"')
	if first < 0 || last <= first {
		return "", nil, false
	}
	data := rest[first+1 : last]
	if strings.TrimSpace(data) == "" {
		return sym, nil, true
	}
	return sym, strings.Split(data, ","), true
}

// extractSina picks price and provider time by symbol family:
//
//	hf_  global futures   price f[0], time f[12] f[6]
//	nf_  domestic futures price f[8], time <today> f[1] (hhmmss)
//	else legacy domestic  price f[5], time f[17] 00:00:00
//
// Times are Beijing wall clock and are returned in UTC.
func extractSina(symbol string, fields []string, now time.Time) (decimal.Decimal, string, string, error) {
	var (
		priceIdx int
		asOf     string
		mapping  string
	)
	switch {
	case strings.HasPrefix(symbol, "hf_"):
		if len(fields) < 13 {
			return decimal.Decimal{}, "", "", fmt.Errorf("hf_ payload has %d fields, want >= 13", len(fields))
		}
		priceIdx = 0
		asOf = strings.TrimSpace(fields[12]) + " " + strings.TrimSpace(fields[6])
		mapping = "price=fields[0] time=fields[12]+fields[6]"
	case strings.HasPrefix(symbol, "nf_"):
		if len(fields) < 9 {
			return decimal.Decimal{}, "", "", fmt.Errorf("nf_ payload has %d fields, want >= 9", len(fields))
		}
		priceIdx = 8
		asOf = now.In(sinaZone).Format("2006-01-02") + " " + clockFromDigits(strings.TrimSpace(fields[1]))
		mapping = "price=fields[8] time=today+fields[1]"
	default:
		if len(fields) < 18 {
			return decimal.Decimal{}, "", "", fmt.Errorf("payload has %d fields, want >= 18", len(fields))
		}
		priceIdx = 5
		asOf = strings.TrimSpace(fields[17]) + " 00:00:00"
		mapping = "price=fields[5] time=fields[17]"
	}

	value, err := decimal.NewFromString(strings.TrimSpace(fields[priceIdx]))
	if err != nil {
		return decimal.Decimal{}, "", "", fmt.Errorf("parse price %q: %w", fields[priceIdx], err)
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, "", "", fmt.Errorf("non-positive price %s", value.String())
	}
	return value, sinaToUTC(asOf), mapping, nil
}

// sinaToUTC leaves unparseable stamps as they are for the validator to flag.
func sinaToUTC(local string) string {
	t, err := time.ParseInLocation(sinaLayout, local, sinaZone)
	if err != nil {
		return local
	}
	return t.UTC().Format(sinaLayout)
}

// clockFromDigits turns 210631 into 21:06:31 and leaves other inputs untouched.
func clockFromDigits(s string) string {
	if len(s) != 6 {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}

var _ QuoteProvider = (*Sina)(nil)
