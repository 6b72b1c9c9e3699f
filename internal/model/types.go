package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Market is a trading venue whose quotes are collected.
type Market string

const (
	MarketLondon   Market = "London"
	MarketComex    Market = "Comex"
	MarketShanghai Market = "Shanghai"
)

// Markets lists every supported market in collection order.
var Markets = []Market{MarketLondon, MarketShanghai, MarketComex}

// ParseMarket resolves a market name case-insensitively.
func ParseMarket(s string) (Market, error) {
	for _, m := range Markets {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown market %q", s)
}

// Metal is a collected commodity.
type Metal string

const (
	MetalGold   Metal = "gold"
	MetalSilver Metal = "silver"
	MetalCopper Metal = "copper"
)

// Metals lists every supported metal.
var Metals = []Metal{MetalGold, MetalSilver, MetalCopper}

// ParseMetal resolves a metal name case-insensitively.
func ParseMetal(s string) (Metal, error) {
	for _, m := range Metals {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metal %q", s)
}

// Key identifies one (market, metal) series.
type Key struct {
	Market Market
	Metal  Metal
}

func (k Key) String() string {
	return string(k.Market) + "_" + string(k.Metal)
}

// Quality summarises how trustworthy a record is.
type Quality string

const (
	QualityRealtime    Quality = "REALTIME"
	QualityDelayed     Quality = "DELAYED"
	QualityErrorDiff   Quality = "ERROR_DIFF"
	QualityUnknownSpec Quality = "UNKNOWN_SPEC"
)

// IsError reports whether the verdict marks the record as erroneous.
func (q Quality) IsError() bool {
	return q == QualityDelayed || q == QualityErrorDiff
}

// Valid reports whether q is one of the known verdicts.
func (q Quality) Valid() bool {
	switch q {
	case QualityRealtime, QualityDelayed, QualityErrorDiff, QualityUnknownSpec:
		return true
	}
	return false
}

// Quote is one price observation for a (market, metal) in a run.
type Quote struct {
	ID              int64
	RunID           uuid.UUID
	Market          Market
	Metal           Metal
	Primary         decimal.Decimal
	Backup          decimal.NullDecimal
	Unit            string
	ProviderAsOf    time.Time
	ProviderAsOfRaw string
	Source          string
	Quality         Quality
	IsError         bool
	RawPayload      json.RawMessage
	Mapping         string
	AcquiredAt      time.Time
}

// Key returns the series the quote belongs to.
func (q Quote) Key() Key {
	return Key{Market: q.Market, Metal: q.Metal}
}

// WarehouseRecord is one inventory snapshot extracted from a provider report.
type WarehouseRecord struct {
	ID         int64
	RunID      uuid.UUID
	Metal      Metal
	Total      decimal.Decimal
	Eligible   decimal.Decimal
	Registered decimal.Decimal
	Unit       string
	Source     string
	SourceURL  string
	ReportDate string
	FieldName  string
	CellRef    string
	FileHash   string
	Quality    Quality
	Mapping    string
	AcquiredAt time.Time
}

// ETFHolding is one fund snapshot.
type ETFHolding struct {
	ID             int64
	RunID          uuid.UUID
	Symbol         string
	Holdings       decimal.NullDecimal
	ReferencePrice decimal.NullDecimal
	Source         string
	ProviderAsOf   time.Time
	AcquiredAt     time.Time
}

// AnalyticsIndicator is a benchmark score loaded on each run.
type AnalyticsIndicator struct {
	ID         int64
	RunID      uuid.UUID
	Category   string
	Indicator  string
	Value      decimal.Decimal
	AcquiredAt time.Time
}

// AuditBlob describes raw report bytes stored outside the database.
type AuditBlob struct {
	Digest    string
	Source    string
	Key       string
	SizeBytes int64
	Backend   string
	StoredAt  time.Time
}

// LogStatus is the outcome of one collector invocation.
type LogStatus string

const (
	StatusSuccess LogStatus = "success"
	StatusFail    LogStatus = "fail"
)

// CollectionLogEntry records the outcome of one collector invocation. Append-only.
type CollectionLogEntry struct {
	ID        int64
	RunID     uuid.UUID
	Source    string
	Status    LogStatus
	Message   string
	CreatedAt time.Time
}

// SourceStatus is the per-collector line of a RunSummary.
type SourceStatus struct {
	Source  string
	Status  LogStatus
	Count   int
	Message string
}

// RunSummary is returned by one collection pass.
type RunSummary struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceStatus
}

// Counts returns collected record counts keyed by source tag.
func (s RunSummary) Counts() map[string]int {
	out := make(map[string]int, len(s.Sources))
	for _, src := range s.Sources {
		out[src.Source] = src.Count
	}
	return out
}

// Failed lists the sources whose collector failed.
func (s RunSummary) Failed() []string {
	var failed []string
	for _, src := range s.Sources {
		if src.Status == StatusFail {
			failed = append(failed, src.Source)
		}
	}
	return failed
}

// PartialSuccess reports whether at least one source succeeded and at least one failed.
func (s RunSummary) PartialSuccess() bool {
	failed := len(s.Failed())
	return failed > 0 && failed < len(s.Sources)
}
