package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned by single-row lookups with no match.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertQuoteSQL = `INSERT INTO quotes (
        run_id,
        market,
        metal,
        primary_value,
        backup_value,
        unit,
        provider_as_of,
        provider_as_of_raw,
        source,
        quality,
        is_error,
        raw_payload,
        mapping,
        acquired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id;`

	quoteColumns = `id,
        run_id,
        market,
        metal,
        primary_value,
        backup_value,
        unit,
        provider_as_of,
        provider_as_of_raw,
        source,
        quality,
        is_error,
        raw_payload,
        mapping,
        acquired_at`

	listRecentQuotesSQL = `SELECT ` + quoteColumns + `
    FROM quotes
    WHERE ($1 = '' OR market = $1)
      AND ($2 = '' OR metal = $2)
      AND acquired_at >= $3
    ORDER BY acquired_at DESC, id DESC
    LIMIT $4;`

	latestQuotesSQL = `SELECT DISTINCT ON (market, metal) ` + quoteColumns + `
    FROM quotes
    ORDER BY market, metal, acquired_at DESC, id DESC;`

	findQuoteDebugSQL = `SELECT ` + quoteColumns + `
    FROM quotes
    WHERE market = $1 AND metal = $2
    ORDER BY acquired_at DESC, id DESC
    LIMIT 1;`

	insertWarehouseSQL = `INSERT INTO warehouse_records (
        run_id,
        metal,
        total,
        eligible,
        registered,
        unit,
        source,
        source_url,
        report_date,
        field_name,
        cell_ref,
        file_hash,
        quality,
        mapping,
        acquired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING id;`

	listRecentWarehouseSQL = `SELECT
        id,
        run_id,
        metal,
        total,
        eligible,
        registered,
        unit,
        source,
        source_url,
        report_date,
        field_name,
        cell_ref,
        file_hash,
        quality,
        mapping,
        acquired_at
    FROM warehouse_records
    ORDER BY acquired_at DESC, id DESC
    LIMIT $1;`

	insertETFSQL = `INSERT INTO etf_holdings (
        run_id,
        symbol,
        holdings,
        reference_price,
        source,
        provider_as_of,
        acquired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	listRecentETFSQL = `SELECT
        id,
        run_id,
        symbol,
        holdings,
        reference_price,
        source,
        provider_as_of,
        acquired_at
    FROM etf_holdings
    ORDER BY acquired_at DESC, id DESC
    LIMIT $1;`

	insertAnalyticsSQL = `INSERT INTO analytics_indicators (
        run_id,
        category,
        indicator,
        value,
        acquired_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	insertAuditBlobSQL = `INSERT INTO audit_blobs (
        digest,
        blob_key,
        source,
        size_bytes,
        backend,
        stored_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (digest, blob_key) DO NOTHING;`

	listAuditBlobsSQL = `SELECT
        digest,
        blob_key,
        source,
        size_bytes,
        backend,
        stored_at
    FROM audit_blobs
    ORDER BY stored_at DESC
    LIMIT $1;`

	appendLogSQL = `INSERT INTO collection_logs (
        run_id,
        source,
        status,
        message,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listLogsSQL = `SELECT
        id,
        run_id,
        source,
        status,
        message,
        created_at
    FROM collection_logs
    WHERE ($1 = '' OR source = $1)
      AND ($2 = '' OR status = $2)
    ORDER BY created_at DESC, id DESC
    LIMIT $3;`

	deleteLogsBeforeSQL      = `DELETE FROM collection_logs WHERE created_at < $1;`
	deleteQuotesBeforeSQL    = `DELETE FROM quotes WHERE acquired_at < $1;`
	deleteWarehouseBeforeSQL = `DELETE FROM warehouse_records WHERE acquired_at < $1;`
	deleteETFBeforeSQL       = `DELETE FROM etf_holdings WHERE acquired_at < $1;`
	deleteAnalyticsBeforeSQL = `DELETE FROM analytics_indicators WHERE acquired_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Writer inserts derived records. Implementations are bound to one transaction.
type Writer interface {
	InsertQuote(ctx context.Context, q model.Quote) (int64, error)
	InsertWarehouseRecord(ctx context.Context, r model.WarehouseRecord) (int64, error)
	InsertETFHolding(ctx context.Context, h model.ETFHolding) (int64, error)
	InsertAnalytics(ctx context.Context, a model.AnalyticsIndicator) (int64, error)
	InsertAuditBlob(ctx context.Context, b model.AuditBlob) error
}

// RecordStore is what the collection pipeline needs: a transaction scope per
// collector and an append-only run log written outside those scopes.
type RecordStore interface {
	InTx(ctx context.Context, fn func(w Writer) error) error
	AppendCollectionLog(ctx context.Context, entry model.CollectionLogEntry) error
	Ping(ctx context.Context) error
}

// QueryStore exposes read access to the entity tables.
type QueryStore interface {
	ListRecentQuotes(ctx context.Context, filter QuoteFilter) ([]model.Quote, error)
	LatestQuotes(ctx context.Context) ([]model.Quote, error)
	FindQuoteDebug(ctx context.Context, market model.Market, metal model.Metal) (model.Quote, error)
	ListRecentWarehouse(ctx context.Context, limit int) ([]model.WarehouseRecord, error)
	ListRecentETF(ctx context.Context, limit int) ([]model.ETFHolding, error)
	ListAuditBlobs(ctx context.Context, limit int) ([]model.AuditBlob, error)
	ListCollectionLogs(ctx context.Context, filter LogFilter) ([]model.CollectionLogEntry, error)
}

// Pruner removes aged rows. Audit blobs are never pruned.
type Pruner interface {
	PruneBefore(ctx context.Context, logsBefore, dataBefore time.Time) (PruneResult, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every storage interface on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(w Writer) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(&txWriter{db: tx})
	})
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendCollectionLog writes one run log line with autocommit.
func (s *Store) AppendCollectionLog(ctx context.Context, entry model.CollectionLogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, appendLogSQL,
		entry.RunID.String(),
		entry.Source,
		string(entry.Status),
		entry.Message,
		createdAt,
	); execErr != nil {
		return fmt.Errorf("append collection log: %w", execErr)
	}
	return nil
}

// ListRecentQuotes lists quotes newest first.
func (s *Store) ListRecentQuotes(ctx context.Context, filter QuoteFilter) ([]model.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit := limitOrDefault(filter.Limit, 100)
	rows, queryErr := pool.Query(ctx, listRecentQuotesSQL,
		string(filter.Market),
		string(filter.Metal),
		filter.Since,
		limit,
	)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	return collectQuotes(rows, limit)
}

// LatestQuotes returns the newest quote per (market, metal).
func (s *Store) LatestQuotes(ctx context.Context) ([]model.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, latestQuotesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest quotes: %w", queryErr)
	}
	return collectQuotes(rows, 9)
}

// FindQuoteDebug returns the newest quote for the series including its raw
// payload and mapping description.
func (s *Store) FindQuoteDebug(ctx context.Context, market model.Market, metal model.Metal) (model.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Quote{}, err
	}
	rows, queryErr := pool.Query(ctx, findQuoteDebugSQL, string(market), string(metal))
	if queryErr != nil {
		return model.Quote{}, fmt.Errorf("find quote debug: %w", queryErr)
	}
	quotes, err := collectQuotes(rows, 1)
	if err != nil {
		return model.Quote{}, err
	}
	if len(quotes) == 0 {
		return model.Quote{}, fmt.Errorf("%w: no quote for %s %s", ErrNotFound, market, metal)
	}
	return quotes[0], nil
}

func collectQuotes(rows pgx.Rows, capacity int) ([]model.Quote, error) {
	defer rows.Close()
	quotes := make([]model.Quote, 0, min(capacity, 1024))
	for rows.Next() {
		q, scanErr := scanQuote(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, q)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// ListRecentWarehouse lists warehouse records newest first.
func (s *Store) ListRecentWarehouse(ctx context.Context, limit int) ([]model.WarehouseRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit = limitOrDefault(limit, 50)
	rows, queryErr := pool.Query(ctx, listRecentWarehouseSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent warehouse: %w", queryErr)
	}
	defer rows.Close()

	records := make([]model.WarehouseRecord, 0, limit)
	for rows.Next() {
		var (
			rec                       model.WarehouseRecord
			runID, metal, quality     string
			totalStr, eligStr, regStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&runID,
			&metal,
			&totalStr,
			&eligStr,
			&regStr,
			&rec.Unit,
			&rec.Source,
			&rec.SourceURL,
			&rec.ReportDate,
			&rec.FieldName,
			&rec.CellRef,
			&rec.FileHash,
			&quality,
			&rec.Mapping,
			&rec.AcquiredAt,
		); err != nil {
			return nil, err
		}
		rec.Metal = model.Metal(metal)
		rec.Quality = model.Quality(quality)
		var convErr error
		if rec.RunID, convErr = uuid.Parse(runID); convErr != nil {
			return nil, fmt.Errorf("parse run id: %w", convErr)
		}
		if rec.Total, convErr = decimal.NewFromString(totalStr); convErr != nil {
			return nil, fmt.Errorf("parse total: %w", convErr)
		}
		if rec.Eligible, convErr = decimal.NewFromString(eligStr); convErr != nil {
			return nil, fmt.Errorf("parse eligible: %w", convErr)
		}
		if rec.Registered, convErr = decimal.NewFromString(regStr); convErr != nil {
			return nil, fmt.Errorf("parse registered: %w", convErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentETF lists fund snapshots newest first.
func (s *Store) ListRecentETF(ctx context.Context, limit int) ([]model.ETFHolding, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit = limitOrDefault(limit, 50)
	rows, queryErr := pool.Query(ctx, listRecentETFSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent etf: %w", queryErr)
	}
	defer rows.Close()

	holdings := make([]model.ETFHolding, 0, limit)
	for rows.Next() {
		var (
			h                   model.ETFHolding
			runID               string
			holdingsStr, refStr *string
			asOf                *time.Time
		)
		if err := rows.Scan(
			&h.ID,
			&runID,
			&h.Symbol,
			&holdingsStr,
			&refStr,
			&h.Source,
			&asOf,
			&h.AcquiredAt,
		); err != nil {
			return nil, err
		}
		var convErr error
		if h.RunID, convErr = uuid.Parse(runID); convErr != nil {
			return nil, fmt.Errorf("parse run id: %w", convErr)
		}
		if h.Holdings, convErr = parseNullDecimal(holdingsStr); convErr != nil {
			return nil, fmt.Errorf("parse holdings: %w", convErr)
		}
		if h.ReferencePrice, convErr = parseNullDecimal(refStr); convErr != nil {
			return nil, fmt.Errorf("parse reference price: %w", convErr)
		}
		if asOf != nil {
			h.ProviderAsOf = *asOf
		}
		holdings = append(holdings, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return holdings, nil
}

// ListAuditBlobs lists recorded blobs newest first.
func (s *Store) ListAuditBlobs(ctx context.Context, limit int) ([]model.AuditBlob, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit = limitOrDefault(limit, 100)
	rows, queryErr := pool.Query(ctx, listAuditBlobsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list audit blobs: %w", queryErr)
	}
	defer rows.Close()

	blobs := make([]model.AuditBlob, 0, limit)
	for rows.Next() {
		var b model.AuditBlob
		if err := rows.Scan(&b.Digest, &b.Key, &b.Source, &b.SizeBytes, &b.Backend, &b.StoredAt); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blobs, nil
}

// ListCollectionLogs lists run log lines newest first.
func (s *Store) ListCollectionLogs(ctx context.Context, filter LogFilter) ([]model.CollectionLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit := limitOrDefault(filter.Limit, 50)
	rows, queryErr := pool.Query(ctx, listLogsSQL, filter.Source, string(filter.Status), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list collection logs: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]model.CollectionLogEntry, 0, limit)
	for rows.Next() {
		var (
			e             model.CollectionLogEntry
			runID, status string
		)
		if err := rows.Scan(&e.ID, &runID, &e.Source, &status, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = model.LogStatus(status)
		var convErr error
		if e.RunID, convErr = uuid.Parse(runID); convErr != nil {
			return nil, fmt.Errorf("parse run id: %w", convErr)
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// PruneBefore deletes log lines created before logsBefore and derived records
// acquired before dataBefore in one transaction. A zero time skips that group.
func (s *Store) PruneBefore(ctx context.Context, logsBefore, dataBefore time.Time) (PruneResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return PruneResult{}, err
	}

	var res PruneResult
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		del := func(sql string, before time.Time, into *int64) error {
			if before.IsZero() {
				return nil
			}
			tag, execErr := tx.Exec(ctx, sql, before)
			if execErr != nil {
				return execErr
			}
			*into = tag.RowsAffected()
			return nil
		}
		if err := del(deleteLogsBeforeSQL, logsBefore, &res.Logs); err != nil {
			return fmt.Errorf("prune logs: %w", err)
		}
		if err := del(deleteQuotesBeforeSQL, dataBefore, &res.Quotes); err != nil {
			return fmt.Errorf("prune quotes: %w", err)
		}
		if err := del(deleteWarehouseBeforeSQL, dataBefore, &res.Warehouse); err != nil {
			return fmt.Errorf("prune warehouse: %w", err)
		}
		if err := del(deleteETFBeforeSQL, dataBefore, &res.ETF); err != nil {
			return fmt.Errorf("prune etf: %w", err)
		}
		if err := del(deleteAnalyticsBeforeSQL, dataBefore, &res.Analytics); err != nil {
			return fmt.Errorf("prune analytics: %w", err)
		}
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}
	return res, nil
}

// txWriter binds Writer to one transaction.
type txWriter struct {
	db dbtx
}

func (w *txWriter) InsertQuote(ctx context.Context, q model.Quote) (int64, error) {
	if !q.Quality.Valid() {
		return 0, fmt.Errorf("insert quote: invalid quality %q", q.Quality)
	}
	var raw any
	if len(q.RawPayload) > 0 {
		raw = []byte(q.RawPayload)
	}
	var id int64
	if err := w.db.QueryRow(ctx, insertQuoteSQL,
		q.RunID.String(),
		string(q.Market),
		string(q.Metal),
		q.Primary.String(),
		nullDecimalArg(q.Backup),
		q.Unit,
		q.ProviderAsOf,
		q.ProviderAsOfRaw,
		q.Source,
		string(q.Quality),
		q.Quality.IsError(),
		raw,
		q.Mapping,
		acquiredAt(q.AcquiredAt),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert quote: %w", err)
	}
	return id, nil
}

func (w *txWriter) InsertWarehouseRecord(ctx context.Context, r model.WarehouseRecord) (int64, error) {
	if !r.Quality.Valid() {
		return 0, fmt.Errorf("insert warehouse record: invalid quality %q", r.Quality)
	}
	var id int64
	if err := w.db.QueryRow(ctx, insertWarehouseSQL,
		r.RunID.String(),
		string(r.Metal),
		r.Total.String(),
		r.Eligible.String(),
		r.Registered.String(),
		r.Unit,
		r.Source,
		r.SourceURL,
		r.ReportDate,
		r.FieldName,
		r.CellRef,
		r.FileHash,
		string(r.Quality),
		r.Mapping,
		acquiredAt(r.AcquiredAt),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert warehouse record: %w", err)
	}
	return id, nil
}

func (w *txWriter) InsertETFHolding(ctx context.Context, h model.ETFHolding) (int64, error) {
	var asOf any
	if !h.ProviderAsOf.IsZero() {
		asOf = h.ProviderAsOf
	}
	var id int64
	if err := w.db.QueryRow(ctx, insertETFSQL,
		h.RunID.String(),
		h.Symbol,
		nullDecimalArg(h.Holdings),
		nullDecimalArg(h.ReferencePrice),
		h.Source,
		asOf,
		acquiredAt(h.AcquiredAt),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert etf holding: %w", err)
	}
	return id, nil
}

func (w *txWriter) InsertAnalytics(ctx context.Context, a model.AnalyticsIndicator) (int64, error) {
	var id int64
	if err := w.db.QueryRow(ctx, insertAnalyticsSQL,
		a.RunID.String(),
		a.Category,
		a.Indicator,
		a.Value.String(),
		acquiredAt(a.AcquiredAt),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert analytics: %w", err)
	}
	return id, nil
}

func (w *txWriter) InsertAuditBlob(ctx context.Context, b model.AuditBlob) error {
	if b.Digest == "" {
		return nil
	}
	if _, err := w.db.Exec(ctx, insertAuditBlobSQL,
		b.Digest,
		b.Key,
		b.Source,
		b.SizeBytes,
		b.Backend,
		acquiredAt(b.StoredAt),
	); err != nil {
		return fmt.Errorf("insert audit blob: %w", err)
	}
	return nil
}

func scanQuote(rows pgx.Rows) (model.Quote, error) {
	var (
		q                    model.Quote
		runID, market, metal string
		primaryStr           string
		backupStr            *string
		quality              string
		raw                  []byte
	)
	if err := rows.Scan(
		&q.ID,
		&runID,
		&market,
		&metal,
		&primaryStr,
		&backupStr,
		&q.Unit,
		&q.ProviderAsOf,
		&q.ProviderAsOfRaw,
		&q.Source,
		&quality,
		&q.IsError,
		&raw,
		&q.Mapping,
		&q.AcquiredAt,
	); err != nil {
		return model.Quote{}, err
	}

	var err error
	if q.RunID, err = uuid.Parse(runID); err != nil {
		return model.Quote{}, fmt.Errorf("parse run id: %w", err)
	}
	if q.Primary, err = decimal.NewFromString(primaryStr); err != nil {
		return model.Quote{}, fmt.Errorf("parse primary value: %w", err)
	}
	if q.Backup, err = parseNullDecimal(backupStr); err != nil {
		return model.Quote{}, fmt.Errorf("parse backup value: %w", err)
	}
	q.Market = model.Market(market)
	q.Metal = model.Metal(metal)
	q.Quality = model.Quality(quality)
	q.RawPayload = raw
	return q, nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func acquiredAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var (
	_ RecordStore    = (*Store)(nil)
	_ QueryStore     = (*Store)(nil)
	_ Pruner         = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ Writer         = (*txWriter)(nil)
)
