package model

import "testing"

func TestParseMarketAndMetal(t *testing.T) {
	if m, err := ParseMarket(" comex "); err != nil || m != MarketComex {
		t.Fatalf("want Comex, got %q %v", m, err)
	}
	if _, err := ParseMarket("Tokyo"); err == nil {
		t.Fatal("unknown market should fail")
	}
	if m, err := ParseMetal("SILVER"); err != nil || m != MetalSilver {
		t.Fatalf("want silver, got %q %v", m, err)
	}
}

func TestQualityIsError(t *testing.T) {
	cases := map[Quality]bool{
		QualityRealtime:    false,
		QualityUnknownSpec: false,
		QualityDelayed:     true,
		QualityErrorDiff:   true,
	}
	for q, want := range cases {
		if !q.Valid() {
			t.Fatalf("%s should be valid", q)
		}
		if q.IsError() != want {
			t.Fatalf("%s: IsError=%v, want %v", q, q.IsError(), want)
		}
	}
	if Quality("STALE").Valid() {
		t.Fatal("unknown verdict accepted")
	}
}

func TestRunSummaryHelpers(t *testing.T) {
	s := RunSummary{Sources: []SourceStatus{
		{Source: "warehouse", Status: StatusFail},
		{Source: "etf", Status: StatusSuccess, Count: 3},
		{Source: "price:London", Status: StatusSuccess, Count: 3},
	}}
	if got := s.Failed(); len(got) != 1 || got[0] != "warehouse" {
		t.Fatalf("unexpected failed %v", got)
	}
	if !s.PartialSuccess() {
		t.Fatal("one failure among three is partial success")
	}
	if s.Counts()["etf"] != 3 {
		t.Fatalf("unexpected counts %v", s.Counts())
	}

	allFailed := RunSummary{Sources: []SourceStatus{{Source: "etf", Status: StatusFail}}}
	if allFailed.PartialSuccess() {
		t.Fatal("all failed is not partial success")
	}
	if (RunSummary{}).PartialSuccess() {
		t.Fatal("empty run is not partial success")
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{Market: MarketLondon, Metal: MetalCopper}).String(); got != "London_copper" {
		t.Fatalf("got %s", got)
	}
}
