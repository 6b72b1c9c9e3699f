package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metalwatch/internal/audit"
	"metalwatch/internal/storage"
)

// Migrate applies the embedded schema migrations in direction (up, down, status).
func (a *App) Migrate(ctx context.Context, direction string) error {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool, direction); err != nil {
		return err
	}
	a.Logger.Info().Str("direction", direction).Msg("migrations applied")
	return nil
}

// Prune deletes log and data rows older than the retention horizons. Audit
// blobs are kept.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	logsBefore, dataBefore := pruneHorizons(time.Now().UTC(), opts, a.Config.Retention.LogsDays, a.Config.Retention.DataDays)
	if opts.DryRun {
		fmt.Fprintf(a.Out, "would prune logs before %s and data before %s\n", formatHorizon(logsBefore), formatHorizon(dataBefore))
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := store.PruneBefore(ctx, logsBefore, dataBefore)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int64("logs", res.Logs).
		Int64("quotes", res.Quotes).
		Int64("warehouse", res.Warehouse).
		Int64("etf", res.ETF).
		Int64("analytics", res.Analytics).
		Msg("prune finished")
	fmt.Fprintf(a.Out, "pruned %d rows\n", res.Total())
	return nil
}

// pruneHorizons converts day counts to cut-off times. Zero days disable that
// horizon.
func pruneHorizons(now time.Time, opts PruneOptions, defLogs, defData int) (time.Time, time.Time) {
	logsDays, dataDays := opts.LogsDays, opts.DataDays
	if logsDays == 0 {
		logsDays = defLogs
	}
	if dataDays == 0 {
		dataDays = defData
	}
	var logsBefore, dataBefore time.Time
	if logsDays > 0 {
		logsBefore = now.AddDate(0, 0, -logsDays)
	}
	if dataDays > 0 {
		dataBefore = now.AddDate(0, 0, -dataDays)
	}
	return logsBefore, dataBefore
}

func formatHorizon(t time.Time) string {
	if t.IsZero() {
		return "(disabled)"
	}
	return t.Format(time.RFC3339)
}

// VerifyAudit re-reads stored report blobs and checks their digests.
func (a *App) VerifyAudit(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	recorder, err := a.newRecorder(ctx)
	if err != nil {
		return err
	}

	blobs, err := store.ListAuditBlobs(ctx, limit)
	if err != nil {
		return err
	}

	failed := 0
	for _, b := range blobs {
		if err := recorder.Verify(ctx, b.Key, b.Digest); err != nil {
			failed++
			status := "unreadable"
			if errors.Is(err, audit.ErrDigestMismatch) {
				status = "MISMATCH"
			}
			fmt.Fprintf(a.Out, "%s\t%s\t%s\n", status, b.Key, err)
			continue
		}
		fmt.Fprintf(a.Out, "ok\t%s\t%s\n", b.Key, shortID(b.Digest))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d audit blobs failed verification", failed, len(blobs))
	}
	a.Logger.Info().Int("verified", len(blobs)).Msg("audit blobs verified")
	return nil
}
