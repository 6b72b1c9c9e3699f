package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metalwatch/internal/alerting"
	"metalwatch/internal/collect"
	"metalwatch/internal/model"
	"metalwatch/internal/scheduler"
	"metalwatch/internal/snapshot"
	"metalwatch/internal/storage"
)

var (
	// ErrRunInProgress is returned when RunOnce is called while another run
	// in the same process has not finished.
	ErrRunInProgress = errors.New("collection run already in progress")
	// ErrLockHeld is returned when another process holds the advisory lock.
	ErrLockHeld = errors.New("collection run held by another process")
)

// Options configure a Pipeline.
type Options struct {
	Collectors      []collect.Collector
	Store           storage.RecordStore
	Board           *snapshot.Board
	Notifier        alerting.Notifier
	NotifyOnFailure bool
	NotifyOnFlagged bool
	LockKey         int64
}

// Pipeline runs every collector once per pass, each inside its own
// transaction, and records one collection log entry per collector.
type Pipeline struct {
	collectors []collect.Collector
	store      storage.RecordStore
	board      *snapshot.Board
	notifier   alerting.Notifier
	onFailure  bool
	onFlagged  bool
	locker     storage.AdvisoryLocker
	lockKey    int64
	logger     zerolog.Logger
	now        func() time.Time

	running sync.Mutex
}

// New constructs the pipeline. The advisory lock is used only when the store
// supports it and LockKey is non-zero.
func New(opts Options, logger zerolog.Logger) *Pipeline {
	var locker storage.AdvisoryLocker
	if l, ok := opts.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	board := opts.Board
	if board == nil {
		board = &snapshot.Board{}
	}
	return &Pipeline{
		collectors: opts.Collectors,
		store:      opts.Store,
		board:      board,
		notifier:   opts.Notifier,
		onFailure:  opts.NotifyOnFailure,
		onFlagged:  opts.NotifyOnFlagged,
		locker:     locker,
		lockKey:    opts.LockKey,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// Board exposes the snapshot board the pipeline publishes to.
func (p *Pipeline) Board() *snapshot.Board { return p.board }

// Run drives RunOnce from sched until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := p.RunOnce(ctx)
		if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrLockHeld) {
			p.logger.Warn().Err(err).Time("at", at).Msg("skipping scheduled run")
			return nil
		}
		return err
	})
}

// RunOnce performs one full collection pass. Collector failures are recorded
// in the summary and the collection log; an error is returned only when the
// pass could not run at all.
func (p *Pipeline) RunOnce(ctx context.Context) (model.RunSummary, error) {
	if !p.running.TryLock() {
		return model.RunSummary{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	if p.store == nil {
		return model.RunSummary{}, storage.ErrNotConfigured
	}
	if err := p.store.Ping(ctx); err != nil {
		return model.RunSummary{}, fmt.Errorf("record store unreachable: %w", err)
	}

	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return model.RunSummary{}, err
	}
	if !proceed {
		return model.RunSummary{}, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	run := collect.Run{ID: uuid.New(), StartedAt: p.now().UTC()}
	logger := p.logger.With().Str("run_id", run.ID.String()).Logger()
	logger.Info().Int("collectors", len(p.collectors)).Msg("collection run started")

	summary := model.RunSummary{RunID: run.ID, StartedAt: run.StartedAt}
	var quotes []model.Quote
	for _, c := range p.collectors {
		status, written := p.runCollector(ctx, run, c, logger)
		summary.Sources = append(summary.Sources, status)
		quotes = append(quotes, written...)
	}
	summary.FinishedAt = p.now().UTC()

	snap := p.board.Publish(summary, quotes)

	failed := summary.Failed()
	event := logger.Info()
	if len(failed) > 0 {
		event = logger.Warn().Strs("failed", failed)
	}
	event.Int("sources", len(summary.Sources)).
		Bool("partial", summary.PartialSuccess()).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("collection run finished")

	p.notify(ctx, summary, snap.Flagged(), logger)
	return summary, nil
}

// runCollector isolates one collector: its writes commit together or not at
// all, and the log entry is appended outside that transaction.
func (p *Pipeline) runCollector(ctx context.Context, run collect.Run, c collect.Collector, logger zerolog.Logger) (model.SourceStatus, []model.Quote) {
	name := c.Name()
	var outcome collect.Outcome
	err := p.store.InTx(ctx, func(w storage.Writer) error {
		var err error
		outcome, err = c.Collect(ctx, run, w)
		return err
	})

	status := model.SourceStatus{Source: name}
	if err != nil {
		status.Status = model.StatusFail
		status.Message = err.Error()
		logger.Error().Err(err).Str("source", name).Msg("collector failed, rolled back")
	} else {
		status.Status = model.StatusSuccess
		status.Count = outcome.Count
		status.Message = outcome.Message
		logger.Info().Str("source", name).Int("count", outcome.Count).Msg(outcome.Message)
	}

	entry := model.CollectionLogEntry{
		RunID:     run.ID,
		Source:    name,
		Status:    status.Status,
		Message:   status.Message,
		CreatedAt: p.now().UTC(),
	}
	if err := p.store.AppendCollectionLog(ctx, entry); err != nil {
		logger.Error().Err(err).Str("source", name).Msg("failed to append collection log")
	}

	if err != nil {
		return status, nil
	}
	return status, outcome.Quotes
}

func (p *Pipeline) notify(ctx context.Context, summary model.RunSummary, flagged []model.Quote, logger zerolog.Logger) {
	if p.notifier == nil {
		return
	}
	note := alerting.Notification{
		RunID:      summary.RunID,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Total:      len(summary.Sources),
	}
	if p.onFailure {
		for _, src := range summary.Sources {
			if src.Status == model.StatusFail {
				note.Failed = append(note.Failed, src)
			}
		}
	}
	if p.onFlagged {
		note.Flagged = flagged
	}
	if note.Empty() {
		return
	}
	if err := p.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch run alert")
	}
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
