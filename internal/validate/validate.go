// Package validate assigns quality verdicts to quotes and inventory rows.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
)

const (
	// DefaultMaxAge is the staleness bound for provider-as-of timestamps.
	DefaultMaxAge = time.Hour
)

var (
	// DefaultMaxDiffRatio is the tolerated |primary-backup|/backup.
	DefaultMaxDiffRatio = decimal.RequireFromString("0.01")
	// DefaultBalanceTolerance is the tolerated |total-(eligible+registered)|.
	DefaultBalanceTolerance = decimal.RequireFromString("0.01")
)

var asOfLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseAsOf parses a provider-as-of string as UTC. ok is false when no layout matched.
func ParseAsOf(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range asOfLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// Thresholds tune the cross-source check.
type Thresholds struct {
	MaxAge       time.Duration
	MaxDiffRatio decimal.Decimal
}

// DefaultThresholds returns the one hour / one percent bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxAge: DefaultMaxAge, MaxDiffRatio: DefaultMaxDiffRatio}
}

// Verdict is the outcome of a cross-source check.
type Verdict struct {
	Quality      model.Quality
	IsError      bool
	AsOf         time.Time
	AsOfParsed   bool
	AgeSeconds   float64
	DiffRatio    decimal.NullDecimal
	BackupUsable bool
}

// CrossCheck compares primary against backup and the staleness bound using the
// default thresholds.
func CrossCheck(primary decimal.Decimal, backup decimal.NullDecimal, providerAsOf string, now time.Time) Verdict {
	return DefaultThresholds().CrossCheck(primary, backup, providerAsOf, now)
}

// CrossCheck applies the staleness rule first. A stale reading is DELAYED and the
// divergence rule is skipped. Otherwise a usable backup (> 0) whose ratio exceeds
// MaxDiffRatio yields ERROR_DIFF. An unparseable as-of falls back to now.
func (th Thresholds) CrossCheck(primary decimal.Decimal, backup decimal.NullDecimal, providerAsOf string, now time.Time) Verdict {
	now = now.UTC()
	asOf, ok := ParseAsOf(providerAsOf)
	if !ok {
		asOf = now
	}

	v := Verdict{
		Quality:    model.QualityRealtime,
		AsOf:       asOf,
		AsOfParsed: ok,
		AgeSeconds: now.Sub(asOf).Seconds(),
	}
	v.BackupUsable = backup.Valid && backup.Decimal.IsPositive()
	if v.BackupUsable {
		ratio := primary.Sub(backup.Decimal).Abs().Div(backup.Decimal)
		v.DiffRatio = decimal.NewNullDecimal(ratio)
	}

	maxAge := th.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	switch {
	case v.AgeSeconds > maxAge.Seconds():
		v.Quality = model.QualityDelayed
	case v.DiffRatio.Valid && v.DiffRatio.Decimal.GreaterThan(th.maxDiff()):
		v.Quality = model.QualityErrorDiff
	}
	v.IsError = v.Quality.IsError()
	return v
}

func (th Thresholds) maxDiff() decimal.Decimal {
	if th.MaxDiffRatio.IsPositive() {
		return th.MaxDiffRatio
	}
	return DefaultMaxDiffRatio
}

// BalanceResult is the outcome of a warehouse balance check.
type BalanceResult struct {
	Quality model.Quality
	Diff    decimal.Decimal
	Mapping string
}

// Balance checks total = eligible + registered with the default tolerance.
func Balance(total, eligible, registered decimal.Decimal) BalanceResult {
	return BalanceWithin(total, eligible, registered, DefaultBalanceTolerance)
}

// BalanceWithin checks total = eligible + registered within tolerance.
func BalanceWithin(total, eligible, registered, tolerance decimal.Decimal) BalanceResult {
	diff := total.Sub(eligible.Add(registered)).Abs()
	res := BalanceResult{
		Quality: model.QualityRealtime,
		Diff:    diff,
		Mapping: fmt.Sprintf("Total(%s) = Eligible(%s) + Registered(%s)", total.String(), eligible.String(), registered.String()),
	}
	if diff.GreaterThan(tolerance) {
		res.Quality = model.QualityErrorDiff
	}
	return res
}
