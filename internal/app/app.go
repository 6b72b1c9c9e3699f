package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"metalwatch/internal/alerting"
	"metalwatch/internal/audit"
	"metalwatch/internal/collect"
	"metalwatch/internal/config"
	"metalwatch/internal/fetcher"
	"metalwatch/internal/model"
	"metalwatch/internal/scheduler"
	"metalwatch/internal/service"
	"metalwatch/internal/storage"
	"metalwatch/internal/validate"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func policyFor(cfg config.ProviderConfig) *fetcher.Policy {
	return fetcher.NewPolicy(cfg.Timeout, cfg.RetryBackoff, cfg.RatePerSec, cfg.Burst)
}

// newProviders wires the quote feeds behind the retry/timeout decorator and
// checks every configured route resolves.
func (a *App) newProviders() (fetcher.Registry, fetcher.Routes, error) {
	p := a.Config.Providers
	sina := fetcher.NewSina(fetcher.SinaOptions{
		BaseURL:   p.Sina.BaseURL,
		Timeout:   p.Sina.Timeout,
		UserAgent: p.Sina.UserAgent,
		Referer:   p.Sina.Referer,
	}, a.Logger)
	yahoo := fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   p.Yahoo.BaseURL,
		Timeout:   p.Yahoo.Timeout,
		UserAgent: p.Yahoo.UserAgent,
	}, a.Logger)

	registry := fetcher.NewRegistry(
		fetcher.NewResilient(sina, policyFor(p.Sina), a.Logger),
		fetcher.NewResilient(yahoo, policyFor(p.Yahoo), a.Logger),
	)

	routes, err := routesFromConfig(fetcher.DefaultRoutes(), a.Config.Routes)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.Check(routes); err != nil {
		return nil, nil, err
	}
	return registry, routes, nil
}

func routesFromConfig(base fetcher.Routes, overrides []config.RouteConfig) (fetcher.Routes, error) {
	out := make([]fetcher.Route, 0, len(overrides))
	for i, rc := range overrides {
		market, err := model.ParseMarket(rc.Market)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		metal, err := model.ParseMetal(rc.Metal)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		route := fetcher.Route{
			Key:     model.Key{Market: market, Metal: metal},
			Primary: fetcher.Binding{Provider: rc.PrimaryProvider, Symbol: rc.PrimarySymbol},
		}
		if rc.BackupProvider != "" {
			route.Backup = &fetcher.Binding{Provider: rc.BackupProvider, Symbol: rc.BackupSymbol}
		}
		out = append(out, route)
	}
	return base.With(out...), nil
}

func (a *App) newRecorder(ctx context.Context) (*audit.Recorder, error) {
	s3 := a.Config.Audit.S3
	return audit.Open(ctx, audit.Options{
		Backend: a.Config.Audit.Backend,
		Root:    a.Config.Audit.Root,
		S3: audit.S3Options{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			PathStyle:       s3.PathStyle,
		},
	}, a.Logger)
}

// newCollectors returns the run's collectors in collection order: warehouse,
// ETF, one price collector per market, analytics.
func (a *App) newCollectors(ctx context.Context) ([]collect.Collector, error) {
	registry, routes, err := a.newProviders()
	if err != nil {
		return nil, err
	}
	recorder, err := a.newRecorder(ctx)
	if err != nil {
		return nil, err
	}
	markets, err := a.Config.MarketList()
	if err != nil {
		return nil, err
	}

	sources := make([]fetcher.ReportSource, 0, len(a.Config.Inventory.Sources))
	for _, s := range a.Config.Inventory.Sources {
		sources = append(sources, fetcher.ReportSource{Name: s.Name, URL: s.URL, Filename: s.Filename, Sheet: s.Sheet})
	}
	reports := fetcher.NewReportFeed(fetcher.ReportFeedOptions{
		UserAgent: a.Config.Providers.Reports.UserAgent,
	}, policyFor(a.Config.Providers.Reports), a.Logger)

	funds := make([]collect.Fund, 0, len(a.Config.ETF.Funds))
	for _, f := range a.Config.ETF.Funds {
		funds = append(funds, collect.Fund{Symbol: f.Symbol, Holdings: f.Holdings, PriceSymbol: f.PriceSymbol})
	}
	yahoo, err := registry.Get("yahoo")
	if err != nil {
		return nil, err
	}

	benchmarks := make([]collect.Benchmark, 0, len(a.Config.Analytics.Benchmarks))
	for _, b := range a.Config.Analytics.Benchmarks {
		benchmarks = append(benchmarks, collect.Benchmark{Category: b.Category, Indicator: b.Indicator, Value: b.Value})
	}

	thresholds := validate.Thresholds{
		MaxAge:       a.Config.Validation.MaxAge,
		MaxDiffRatio: a.Config.Validation.MaxDiffRatio,
	}

	collectors := []collect.Collector{
		collect.NewWarehouseCollector(collect.WarehouseOptions{
			Sources:   sources,
			Tolerance: a.Config.Validation.BalanceTolerance,
		}, reports, recorder, a.Logger),
		collect.NewETFCollector(funds, yahoo, a.Logger),
	}
	for _, market := range markets {
		collectors = append(collectors, collect.NewPriceCollector(collect.PriceOptions{
			Market:     market,
			Routes:     routes,
			Registry:   registry,
			Thresholds: thresholds,
		}, a.Logger))
	}
	collectors = append(collectors, collect.NewAnalyticsCollector(benchmarks))
	return collectors, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	telegram := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewThrottled(telegram, a.Config.Alerting.Cooldown)
}

// openStore connects to PostgreSQL, applying migrations when configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, pool, "up"); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newPipeline(ctx context.Context, store *storage.Store) (*service.Pipeline, error) {
	collectors, err := a.newCollectors(ctx)
	if err != nil {
		return nil, err
	}
	return service.New(service.Options{
		Collectors:      collectors,
		Store:           store,
		Notifier:        a.newNotifier(),
		NotifyOnFailure: a.Config.Alerting.NotifyOnFailure,
		NotifyOnFlagged: a.Config.Alerting.NotifyOnFlagged,
		LockKey:         a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger), nil
}

// Run executes collection passes on the configured interval until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	pipeline, err := a.newPipeline(ctx, store)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting collection service")
	err = pipeline.Run(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("collection service stopped")
	return nil
}

// Collect performs a single pass and prints its summary. It fails only when
// the pass could not run or every source failed.
func (a *App) Collect(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := a.newPipeline(ctx, store)
	if err != nil {
		return err
	}

	summary, err := pipeline.RunOnce(ctx)
	if err != nil {
		return err
	}
	if err := writeSummary(a.Out, summary); err != nil {
		return err
	}

	if failed := summary.Failed(); len(failed) > 0 && len(failed) == len(summary.Sources) {
		return fmt.Errorf("all %d sources failed", len(failed))
	}
	return nil
}

func writeSummary(out io.Writer, summary model.RunSummary) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Run %s (%s)\n", summary.RunID, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	fmt.Fprintln(writer, "Source\tStatus\tCount\tMessage")
	for _, src := range summary.Sources {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", src.Source, src.Status, src.Count, sanitizeInline(src.Message))
	}
	return writer.Flush()
}

// ExportOptions hold parameters for exporting quote history.
type ExportOptions struct {
	Market    string
	Metal     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	What   string
	Market string
	Metal  string
	Limit  int
}

// LogsOptions configure the logs command.
type LogsOptions struct {
	Source string
	Status string
	Limit  int
}

// PruneOptions configure the prune command. Zero days fall back to config.
type PruneOptions struct {
	LogsDays int
	DataDays int
	DryRun   bool
}
