package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

const hfGC = `var hq_str_hf_GC="2650.30,,2649.90,2650.50,2661.00,2638.10,14:32:05,2641.20,2640.00,0,1,1,2026-03-02,COMEX Gold";`

func TestSinaFetchGlobalFutures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/list=hf_GC") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Referer") == "" {
			t.Fatal("referer header required by sina")
		}
		_, _ = w.Write([]byte(hfGC + "\n"))
	}))
	defer srv.Close()

	s := NewSina(SinaOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	reading, err := s.FetchQuote(context.Background(), "hf_GC")
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !reading.Value.Equal(decimal.RequireFromString("2650.30")) {
		t.Fatalf("want 2650.30, got %s", reading.Value)
	}
	if reading.AsOf != "2026-03-02 06:32:05" {
		t.Fatalf("unexpected as-of %q", reading.AsOf)
	}
	if reading.Provider != "sina" || len(reading.Raw) == 0 {
		t.Fatalf("provider/raw not populated: %+v", reading)
	}
}

func TestSinaFetchDomesticFutures(t *testing.T) {
	body, err := simplifiedchinese.GBK.NewEncoder().String(`var hq_str_nf_AG0="白银连续,150102,7800.000,7850.000,7790.000,0.000,7820.000,7821.000,7835.000,7810.000";`)
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	s := NewSina(SinaOptions{BaseURL: srv.URL}, noopLogger())
	s.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

	reading, err := s.FetchQuote(context.Background(), "nf_AG0")
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !reading.Value.Equal(decimal.RequireFromString("7835")) {
		t.Fatalf("want 7835, got %s", reading.Value)
	}
	if reading.AsOf != "2026-03-02 07:01:02" {
		t.Fatalf("unexpected as-of %q", reading.AsOf)
	}
}

func TestSinaDomesticFuturesUseBeijingDate(t *testing.T) {
	fields := []string{"白银连续", "010203", "7800", "7850", "7790", "0", "7820", "7821", "7835"}
	// 17:00 UTC is already the next morning in Beijing.
	now := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	_, asOf, _, err := extractSina("nf_AG0", fields, now)
	if err != nil {
		t.Fatalf("extract should succeed: %v", err)
	}
	if asOf != "2026-03-02 17:02:03" {
		t.Fatalf("unexpected as-of %q", asOf)
	}
}

func TestSinaLegacyDateIsBeijingMidnight(t *testing.T) {
	fields := make([]string, 18)
	fields[5] = "7835"
	fields[17] = "2026-03-02"
	_, asOf, _, err := extractSina("AG0", fields, time.Now())
	if err != nil {
		t.Fatalf("extract should succeed: %v", err)
	}
	if asOf != "2026-03-01 16:00:00" {
		t.Fatalf("unexpected as-of %q", asOf)
	}
}

func TestSinaEmptyQuoteIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`var hq_str_hf_SI="";`))
	}))
	defer srv.Close()

	s := NewSina(SinaOptions{BaseURL: srv.URL}, noopLogger())
	_, err := s.FetchQuote(context.Background(), "hf_SI")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty quote should be unavailable, got %v", err)
	}
}

func TestSinaMalformedIsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`var hq_str_hf_SI="abc,1,2";`))
	}))
	defer srv.Close()

	s := NewSina(SinaOptions{BaseURL: srv.URL}, noopLogger())
	_, err := s.FetchQuote(context.Background(), "hf_SI")
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("want UnavailableError, got %v", err)
	}
	if ue.Reason != ReasonParse || ue.Transient() {
		t.Fatalf("short payload should be a non-transient parse failure: %+v", ue)
	}
}

func TestSinaHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSina(SinaOptions{BaseURL: srv.URL}, noopLogger())
	_, err := s.FetchQuote(context.Background(), "hf_GC")
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusForbidden {
		t.Fatalf("HTTP 403 should be reported as status failure, got %v", err)
	}
}

func TestParseSinaLine(t *testing.T) {
	sym, fields, ok := parseSinaLine(hfGC)
	if !ok || sym != "hf_GC" || len(fields) != 14 {
		t.Fatalf("unexpected parse: %s %d %v", sym, len(fields), ok)
	}
	if _, _, ok := parseSinaLine("garbage"); ok {
		t.Fatal("non-quote line should be rejected")
	}
}

func TestClockFromDigits(t *testing.T) {
	if got := clockFromDigits("093005"); got != "09:30:05" {
		t.Fatalf("got %s", got)
	}
	if got := clockFromDigits("09:30"); got != "09:30" {
		t.Fatalf("non-digit input should pass through, got %s", got)
	}
}
