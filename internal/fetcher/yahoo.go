package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const yahooName = "yahoo"

// YahooOptions parameterise the Yahoo chart feed.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo reads the delayed settlement feed at /v8/finance/chart/{symbol}.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewYahoo constructs the delayed feed adapter.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Name identifies the provider in routes and source tags.
func (y *Yahoo) Name() string { return yahooName }

// FetchQuote retrieves regularMarketPrice for symbol.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (Reading, error) {
	endpoint := y.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Reading{}, unavailable(yahooName, symbol, ReasonTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; metalwatch/1.0)")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Reading{}, unavailable(yahooName, symbol, ReasonTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reading{}, unavailable(yahooName, symbol, ReasonTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, statusError(yahooName, symbol, resp.StatusCode, payload)
	}

	meta, value, asOf, err := parseChart(payload)
	if err != nil {
		return Reading{}, unavailable(yahooName, symbol, ReasonParse, err)
	}

	return Reading{
		Provider:   yahooName,
		Symbol:     symbol,
		Value:      value,
		AsOf:       asOf,
		Raw:        meta,
		Fields:     "price=meta.regularMarketPrice time=meta.regularMarketTime",
		ReceivedAt: y.now().UTC(),
	}, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta json.RawMessage `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartMeta struct {
	Symbol             string      `json:"symbol"`
	Currency           string      `json:"currency"`
	RegularMarketPrice json.Number `json:"regularMarketPrice"`
	RegularMarketTime  int64       `json:"regularMarketTime"`
}

// parseChart returns the raw meta object, the price and the provider time
// formatted as "2006-01-02 15:04:05" UTC (empty when absent).
func parseChart(payload []byte) (json.RawMessage, decimal.Decimal, string, error) {
	var res chartResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, decimal.Decimal{}, "", err
	}
	if res.Chart.Error != nil {
		return nil, decimal.Decimal{}, "", fmt.Errorf("chart error %s: %s", res.Chart.Error.Code, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 || len(res.Chart.Result[0].Meta) == 0 {
		return nil, decimal.Decimal{}, "", errors.New("chart result empty")
	}

	raw := res.Chart.Result[0].Meta
	var meta chartMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, decimal.Decimal{}, "", fmt.Errorf("decode meta: %w", err)
	}
	if meta.RegularMarketPrice == "" {
		return nil, decimal.Decimal{}, "", errors.New("regularMarketPrice missing")
	}
	value, err := decimal.NewFromString(meta.RegularMarketPrice.String())
	if err != nil {
		return nil, decimal.Decimal{}, "", fmt.Errorf("parse regularMarketPrice: %w", err)
	}
	if !value.IsPositive() {
		return nil, decimal.Decimal{}, "", fmt.Errorf("non-positive price %s", value.String())
	}

	asOf := ""
	if meta.RegularMarketTime > 0 {
		asOf = time.Unix(meta.RegularMarketTime, 0).UTC().Format("2006-01-02 15:04:05")
	}
	return raw, value, asOf, nil
}

var _ QuoteProvider = (*Yahoo)(nil)
