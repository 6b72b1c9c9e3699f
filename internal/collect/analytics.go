package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
	"metalwatch/internal/storage"
)

// Benchmark is a configured analytics score.
type Benchmark struct {
	Category  string
	Indicator string
	Value     decimal.Decimal
}

// AnalyticsCollector persists the configured benchmark scores on each run.
type AnalyticsCollector struct {
	benchmarks []Benchmark
	now        func() time.Time
}

func NewAnalyticsCollector(benchmarks []Benchmark) *AnalyticsCollector {
	return &AnalyticsCollector{benchmarks: benchmarks, now: time.Now}
}

func (c *AnalyticsCollector) Name() string { return "analytics" }

func (c *AnalyticsCollector) Collect(ctx context.Context, run Run, w storage.Writer) (Outcome, error) {
	now := c.now().UTC()
	for _, b := range c.benchmarks {
		if _, err := w.InsertAnalytics(ctx, model.AnalyticsIndicator{
			RunID:      run.ID,
			Category:   b.Category,
			Indicator:  b.Indicator,
			Value:      b.Value,
			AcquiredAt: now,
		}); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Count: len(c.benchmarks), Message: fmt.Sprintf("Loaded %d analytics benchmarks", len(c.benchmarks))}, nil
}

var (
	_ Collector = (*PriceCollector)(nil)
	_ Collector = (*WarehouseCollector)(nil)
	_ Collector = (*ETFCollector)(nil)
	_ Collector = (*AnalyticsCollector)(nil)
)
