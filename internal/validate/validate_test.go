package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"metalwatch/internal/model"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func backup(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func asOf(t time.Time) string { return t.Format("2006-01-02 15:04:05") }

func TestCrossCheckMatchingFresh(t *testing.T) {
	v := CrossCheck(d("100"), backup("100"), asOf(now), now)
	require.Equal(t, model.QualityRealtime, v.Quality)
	require.False(t, v.IsError)
	require.True(t, v.AsOfParsed)
}

func TestCrossCheckDivergent(t *testing.T) {
	v := CrossCheck(d("100"), backup("80"), asOf(now), now)
	require.Equal(t, model.QualityErrorDiff, v.Quality)
	require.True(t, v.IsError)
	require.True(t, v.DiffRatio.Decimal.Equal(d("0.25")))
}

func TestCrossCheckWithinTolerance(t *testing.T) {
	v := CrossCheck(d("100.5"), backup("100"), asOf(now), now)
	require.Equal(t, model.QualityRealtime, v.Quality)
}

func TestCrossCheckNoBackupSkipsDiff(t *testing.T) {
	for _, b := range []decimal.NullDecimal{{}, backup("0"), backup("-3")} {
		v := CrossCheck(d("100"), b, asOf(now), now)
		require.Equal(t, model.QualityRealtime, v.Quality)
		require.False(t, v.DiffRatio.Valid)
		require.False(t, v.BackupUsable)
	}

	stale := CrossCheck(d("100"), decimal.NullDecimal{}, asOf(now.Add(-2*time.Hour)), now)
	require.Equal(t, model.QualityDelayed, stale.Quality)
}

func TestCrossCheckStale(t *testing.T) {
	v := CrossCheck(d("100"), backup("100"), asOf(now.Add(-7200*time.Second)), now)
	require.Equal(t, model.QualityDelayed, v.Quality)
	require.True(t, v.IsError)
	require.InDelta(t, 7200, v.AgeSeconds, 0.001)
}

func TestCrossCheckStaleAndDivergentIsDelayed(t *testing.T) {
	v := CrossCheck(d("100"), backup("80"), asOf(now.Add(-2*time.Hour)), now)
	require.Equal(t, model.QualityDelayed, v.Quality)
	require.True(t, v.IsError)
	require.True(t, v.DiffRatio.Valid)
}

func TestCrossCheckUnparseableAsOfFallsBackToNow(t *testing.T) {
	for _, s := range []string{"", "garbage", "25:61:99"} {
		v := CrossCheck(d("100"), backup("100"), s, now)
		require.False(t, v.AsOfParsed)
		require.Equal(t, now, v.AsOf)
		require.Zero(t, v.AgeSeconds)
		require.Equal(t, model.QualityRealtime, v.Quality)
	}
}

func TestCrossCheckCustomThresholds(t *testing.T) {
	th := Thresholds{MaxAge: 10 * time.Minute, MaxDiffRatio: d("0.5")}
	v := th.CrossCheck(d("100"), backup("80"), asOf(now.Add(-5*time.Minute)), now)
	require.Equal(t, model.QualityRealtime, v.Quality)

	v = th.CrossCheck(d("100"), backup("80"), asOf(now.Add(-11*time.Minute)), now)
	require.Equal(t, model.QualityDelayed, v.Quality)
}

func TestParseAsOfLayouts(t *testing.T) {
	for _, s := range []string{"2026-03-02 09:30:00", "2026-03-02T09:30:00Z", "2026-03-02T09:30:00"} {
		got, ok := ParseAsOf(s)
		require.True(t, ok, s)
		require.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), got)
	}
}

func TestBalanceExact(t *testing.T) {
	res := Balance(d("442.48"), d("317.04"), d("125.44"))
	require.Equal(t, model.QualityRealtime, res.Quality)
	require.Equal(t, "Total(442.48) = Eligible(317.04) + Registered(125.44)", res.Mapping)
}

func TestBalanceOffByTwoCents(t *testing.T) {
	res := Balance(d("442.50"), d("317.04"), d("125.44"))
	require.Equal(t, model.QualityErrorDiff, res.Quality)
	require.True(t, res.Diff.Equal(d("0.02")))
}

func TestBalanceAtTolerance(t *testing.T) {
	res := Balance(d("442.49"), d("317.04"), d("125.44"))
	require.Equal(t, model.QualityRealtime, res.Quality)
}

func TestQualityIsErrorInvariant(t *testing.T) {
	require.True(t, model.QualityDelayed.IsError())
	require.True(t, model.QualityErrorDiff.IsError())
	require.False(t, model.QualityRealtime.IsError())
	require.False(t, model.QualityUnknownSpec.IsError())
}
