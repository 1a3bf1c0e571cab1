package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/repeat-buyers/internal/aggregate"
	"github.com/xenking/repeat-buyers/internal/domain/order"
	"github.com/xenking/repeat-buyers/internal/fulfillment"
	"github.com/xenking/repeat-buyers/internal/ledger"
	"github.com/xenking/repeat-buyers/internal/report"
	"github.com/xenking/repeat-buyers/internal/storage/postgres"
)

// Run creates all dependencies and executes the pipeline once. It is the
// single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("data_dir", cfg.DataDir),
		zap.Int("start_year", cfg.StartYear),
		zap.Int("end_year", cfg.EndYear),
	)

	var repo report.Repository
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		repo = postgres.NewReportRepository(pool)
	}

	p, err := NewPipeline(lg, m.MeterProvider(), m.TracerProvider(), cfg, repo, os.Stdout)
	if err != nil {
		return err
	}
	_, err = p.Run(ctx)
	return err
}

// Pipeline ingests every batch, aggregates the orders per granularity, and
// writes the reports.
type Pipeline struct {
	lg      *zap.Logger
	cfg     *Config
	engine  *ledger.Engine
	emitter *report.Emitter
	repo    report.Repository
	console io.Writer
	now     func() time.Time
}

// NewPipeline creates a Pipeline. repo may be nil to skip persistence.
func NewPipeline(
	lg *zap.Logger,
	mp metric.MeterProvider,
	tp trace.TracerProvider,
	cfg *Config,
	repo report.Repository,
	console io.Writer,
) (*Pipeline, error) {
	engine, err := ledger.New(lg.Named("ledger"), mp, tp, ledger.Options{
		Channels: cfg.Channels,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create ledger")
	}

	format, err := cfg.ReportFormat()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		lg:     lg,
		cfg:    cfg,
		engine: engine,
		emitter: report.NewEmitter(lg.Named("report"), report.Options{
			Dir:    cfg.Report.Dir,
			Prefix: cfg.Report.Prefix,
			Format: format,
		}),
		repo:    repo,
		console: console,
		now:     time.Now,
	}, nil
}

// Run executes the pipeline and returns the run summary.
func (p *Pipeline) Run(ctx context.Context) (*report.Run, error) {
	granularities, err := p.cfg.ReportGranularities()
	if err != nil {
		return nil, err
	}
	consoleGranularity, printConsole, err := p.cfg.ConsoleGranularity()
	if err != nil {
		return nil, err
	}

	// Batches come back oldest first; classification depends on it.
	batches := fulfillment.Discover(p.cfg.DataDir, p.cfg.FilePrefix, p.cfg.StartYear, p.cfg.EndYear)
	sources := make([]ledger.RowSource, len(batches))
	for i, b := range batches {
		sources[i] = b
	}

	res, err := p.engine.Ingest(ctx, sources...)
	if err != nil {
		return nil, errors.Wrap(err, "ingest")
	}
	p.lg.Info("Ingestion complete",
		zap.Int("batches", res.Stats.Batches),
		zap.Int("missing_batches", res.Stats.Missing),
		zap.Int("rows", res.Stats.Rows),
		zap.Int("filtered_rows", res.Stats.Filtered),
		zap.Int("orders", res.Stats.Orders),
		zap.Int("customers", res.Stats.Customers),
	)

	run := report.NewRun(p.now())
	run.Batches = res.Stats.Batches
	run.MissingBatches = res.Stats.Missing
	run.Orders = res.Stats.Orders
	run.Customers = res.Stats.Customers

	orders := res.Orders.Orders()
	reports, err := p.reports(orders, granularities)
	if err != nil {
		return nil, err
	}
	run.Reports = reports

	if printConsole {
		stats, err := p.aggregate(orders, consoleGranularity)
		if err != nil {
			return nil, err
		}
		if err := report.Print(p.console, consoleGranularity, stats); err != nil {
			return nil, errors.Wrap(err, "print report")
		}
	}

	if p.repo != nil {
		if err := p.repo.Save(ctx, run); err != nil {
			return nil, errors.Wrap(err, "save run")
		}
		p.lg.Info("Run saved", zap.String("run_id", run.ID.String()))
	}

	return run, nil
}

// reports aggregates and writes one report per granularity, in order.
func (p *Pipeline) reports(orders []*order.Order, granularities []aggregate.Granularity) ([]report.Report, error) {
	reports := make([]report.Report, 0, len(granularities))
	for _, g := range granularities {
		stats, err := p.aggregate(orders, g)
		if err != nil {
			return nil, err
		}
		if _, err := p.emitter.Emit(g, stats); err != nil {
			return nil, errors.Wrapf(err, "emit %s report", g.Adjective())
		}
		reports = append(reports, report.Report{Granularity: g, Buckets: stats})
	}
	return reports, nil
}

func (p *Pipeline) aggregate(orders []*order.Order, g aggregate.Granularity) ([]aggregate.Stats, error) {
	stats, err := aggregate.Aggregate(orders, g)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregate %s", g.Adjective())
	}
	if p.cfg.Report.Sort {
		aggregate.SortByKey(stats)
	}
	return stats, nil
}
