package storage

import (
	"time"

	"metalwatch/internal/model"
)

// QuoteFilter narrows ListRecentQuotes. Zero values match everything.
type QuoteFilter struct {
	Market model.Market
	Metal  model.Metal
	Since  time.Time
	Limit  int
}

// LogFilter narrows ListCollectionLogs.
type LogFilter struct {
	Source string
	Status model.LogStatus
	Limit  int
}

// PruneResult counts rows removed by PruneBefore.
type PruneResult struct {
	Logs      int64
	Quotes    int64
	Warehouse int64
	ETF       int64
	Analytics int64
}

// Total sums every table.
func (r PruneResult) Total() int64 {
	return r.Logs + r.Quotes + r.Warehouse + r.ETF + r.Analytics
}

func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
