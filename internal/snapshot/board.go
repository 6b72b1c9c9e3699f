// Package snapshot holds the latest run's results for in-process readers that
// should not hit the database. The pipeline publishes after every run and
// builds its run alert from the published snapshot; a new process starts with
// an empty board.
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"metalwatch/internal/model"
)

// Snapshot is an immutable view of one completed run.
type Snapshot struct {
	RunID       uuid.UUID
	PublishedAt time.Time
	Summary     model.RunSummary
	Quotes      map[model.Key]model.Quote
}

// Quote returns the series' quote from the run, if it produced one.
func (s *Snapshot) Quote(key model.Key) (model.Quote, bool) {
	if s == nil {
		return model.Quote{}, false
	}
	q, ok := s.Quotes[key]
	return q, ok
}

// Flagged lists quotes whose verdict marks them as erroneous, in market then
// metal order.
func (s *Snapshot) Flagged() []model.Quote {
	if s == nil {
		return nil
	}
	var out []model.Quote
	for _, market := range model.Markets {
		for _, metal := range model.Metals {
			if q, ok := s.Quotes[model.Key{Market: market, Metal: metal}]; ok && q.IsError {
				out = append(out, q)
			}
		}
	}
	return out
}

// Board publishes snapshots to concurrent readers. The zero value is ready.
type Board struct {
	current atomic.Pointer[Snapshot]
}

// Publish replaces the current snapshot. quotes is copied.
func (b *Board) Publish(summary model.RunSummary, quotes []model.Quote) *Snapshot {
	snap := &Snapshot{
		RunID:       summary.RunID,
		PublishedAt: time.Now().UTC(),
		Summary:     summary,
		Quotes:      make(map[model.Key]model.Quote, len(quotes)),
	}
	for _, q := range quotes {
		snap.Quotes[q.Key()] = q
	}
	b.current.Store(snap)
	return snap
}

// Current returns the latest snapshot or nil before the first publish.
func (b *Board) Current() *Snapshot {
	return b.current.Load()
}
