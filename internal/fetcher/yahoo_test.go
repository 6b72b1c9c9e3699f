package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestYahooFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v8/finance/chart/") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"GC=F","currency":"USD","regularMarketPrice":2651.4,"regularMarketTime":1772461925}}],"error":null}}`))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	reading, err := y.FetchQuote(context.Background(), "GC=F")
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !reading.Value.Equal(decimal.RequireFromString("2651.4")) {
		t.Fatalf("want 2651.4, got %s", reading.Value)
	}
	if reading.AsOf != "2026-03-02 14:32:05" {
		t.Fatalf("unexpected as-of %q", reading.AsOf)
	}
	if !strings.Contains(string(reading.Raw), `"GC=F"`) {
		t.Fatalf("raw meta not kept: %s", reading.Raw)
	}
}

func TestYahooChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	_, err := y.FetchQuote(context.Background(), "ZZZ")
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Reason != ReasonParse {
		t.Fatalf("chart error should be a parse failure, got %v", err)
	}
}

func TestYahooRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	_, err := y.FetchQuote(context.Background(), "SI=F")
	var ue *UnavailableError
	if !errors.As(err, &ue) || !ue.Transient() {
		t.Fatalf("429 should be transient, got %v", err)
	}
}

func TestParseChartRejectsNonPositive(t *testing.T) {
	_, _, _, err := parseChart([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":0}}]}}`))
	if err == nil {
		t.Fatal("zero price should be rejected")
	}
	_, _, _, err = parseChart([]byte(`{"chart":{"result":[{"meta":{"symbol":"HG=F"}}]}}`))
	if err == nil {
		t.Fatal("missing price should be rejected")
	}
}
