package shellguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/shellguard/internal/config"
	"github.com/petrijr/shellguard/internal/metrics"
	"github.com/petrijr/shellguard/internal/persistence"
	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/idgen"
	"github.com/petrijr/shellguard/pkg/risk"
	"github.com/petrijr/shellguard/pkg/sinks"
	"github.com/petrijr/shellguard/pkg/worker"
)

// Bundle is a LocalRunner wired from a config.Config together with its
// audit history, sink adapters and metrics.
type Bundle struct {
	Config   *config.Config
	Runner   *LocalRunner
	Audit    persistence.AuditStore
	Adapters *sinks.AdapterRegistry
	Metrics  *BasicMetrics

	// Recorder writes terminal events to Audit in the background.
	Recorder *sinks.HistoryRecorder

	// Prometheus is nil unless WithRegisterer was given.
	Prometheus *metrics.PrometheusListener

	logger  *slog.Logger
	closers []func(context.Context) error
}

type bundleConfig struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	output     io.Writer
	review     []sinks.ReviewSink
	completion []sinks.CompletionSink
	executor   worker.Executor
}

// BundleOption customizes NewFromConfig.
type BundleOption func(*bundleConfig)

// WithBundleLogger sets the logger used by every component.
func WithBundleLogger(l *slog.Logger) BundleOption {
	return func(c *bundleConfig) { c.logger = l }
}

// WithRegisterer exports metrics to reg.
func WithRegisterer(reg prometheus.Registerer) BundleOption {
	return func(c *bundleConfig) { c.registerer = reg }
}

// WithOutput prints terminal output and status lines to w.
func WithOutput(w io.Writer) BundleOption {
	return func(c *bundleConfig) { c.output = w }
}

// WithReviewSink adds a sink for approval decisions.
func WithReviewSink(s sinks.ReviewSink) BundleOption {
	return func(c *bundleConfig) { c.review = append(c.review, s) }
}

// WithCompletionSink adds a sink for execution outcomes.
func WithCompletionSink(s sinks.CompletionSink) BundleOption {
	return func(c *bundleConfig) { c.completion = append(c.completion, s) }
}

// WithBundleExecutor overrides the executor chosen from workers.dry_run.
func WithBundleExecutor(e worker.Executor) BundleOption {
	return func(c *bundleConfig) { c.executor = e }
}

// NewFromConfig assembles a Bundle. Workers are not started; call Start.
// Close releases the backend connections it opened.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...BundleOption) (_ *Bundle, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bc := bundleConfig{}
	for _, o := range opts {
		o(&bc)
	}
	if bc.logger == nil {
		bc.logger = slog.Default()
	}

	b := &Bundle{Config: cfg, logger: bc.logger}
	defer func() {
		if err != nil {
			_ = b.Close(context.WithoutCancel(ctx))
		}
	}()

	assessor, err := risk.NewRegistry().Build(cfg.Engine.Assessor, risk.Options{
		Rules:    cfg.RiskRules(),
		Logger:   bc.logger,
		Children: cfg.Engine.Composite,
	})
	if err != nil {
		return nil, fmt.Errorf("shellguard: assessor: %w", err)
	}

	idCfg, err := cfg.IDGenConfig()
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(idCfg)
	if err != nil {
		return nil, fmt.Errorf("shellguard: ids: %w", err)
	}

	queue, err := b.openQueue(ctx, cfg.Workers)
	if err != nil {
		return nil, err
	}

	executor := bc.executor
	if executor == nil {
		if cfg.Workers.DryRun {
			executor = worker.EchoExecutor{}
		} else {
			executor = worker.ShellExecutor{Shell: cfg.Workers.Shell}
		}
	}

	b.Runner = NewLocalRunner(
		WithAssessor(assessor),
		WithIDGenerator(ids),
		WithExecutor(executor),
		WithQueue(queue),
		WithLogger(bc.logger),
		WithMaxInFlight(cfg.Engine.MaxInFlight),
		WithHistoryLimit(cfg.Engine.HistoryLimit),
		WithWorkerTimeout(cfg.Workers.Timeout),
	)

	b.Audit, err = b.openAudit(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}

	eventBus := b.Runner.Bus
	b.Recorder = sinks.NewHistoryRecorder(b.Audit, b.Runner.Engine.GetWorkflow, sinks.WithHistoryLogger(bc.logger))
	b.Recorder.Start(sinks.DefaultHistoryBuffer)
	b.onClose(b.Recorder.Close)
	eventBus.SubscribeAll(b.Recorder.Listen)

	b.Metrics = &BasicMetrics{}
	eventBus.SubscribeAll(b.Metrics.Listen)

	if bc.registerer != nil {
		b.Prometheus = metrics.NewPrometheusListener(bc.registerer)
		eventBus.SubscribeAll(b.Prometheus.Listen)
		eventBus.OnFailure(b.Prometheus.ListenerFailed)
	}

	b.Adapters = sinks.NewAdapterRegistry(eventBus, bc.logger)
	review := append([]sinks.ReviewSink{sinks.NewLoggingReviewSink(bc.logger)}, bc.review...)
	var output []sinks.OutputSink
	if bc.output != nil {
		output = append(output, sinks.NewWriterOutputSink(bc.output))
	}
	b.Adapters.Wire(review, bc.completion, output)

	bc.logger.Debug("bundle_ready",
		slog.String("assessor", cfg.Engine.Assessor),
		slog.String("audit_backend", cfg.Audit.Backend),
		slog.String("queue", cfg.Workers.Queue),
	)
	return b, nil
}

func (b *Bundle) openQueue(ctx context.Context, wc config.WorkerConfig) (taskqueue.Queue, error) {
	switch wc.Queue {
	case config.QueueRedis:
		client := redis.NewClient(&redis.Options{Addr: wc.QueueAddr})
		b.onClose(func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("shellguard: redis queue: %w", err)
		}
		return taskqueue.NewRedisQueue(client, ""), nil
	default:
		return taskqueue.NewInMemoryQueue(wc.QueueCapacity), nil
	}
}

func (b *Bundle) openAudit(ctx context.Context, ac config.AuditConfig) (persistence.AuditStore, error) {
	switch ac.Backend {
	case config.AuditSQLite:
		return b.openSQL(ctx, "sqlite", ac.DSN, func(db *sql.DB) (persistence.AuditStore, error) {
			// Each connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
			return persistence.NewSQLiteAuditStore(ctx, db)
		})

	case config.AuditPostgres:
		return b.openSQL(ctx, "pgx", ac.DSN, func(db *sql.DB) (persistence.AuditStore, error) {
			return persistence.NewPostgresAuditStore(ctx, db)
		})

	case config.AuditRedis:
		client := redis.NewClient(&redis.Options{Addr: ac.DSN})
		b.onClose(func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("shellguard: redis audit: %w", err)
		}
		return persistence.NewRedisAuditStore(client, ""), nil

	case config.AuditMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(ac.DSN))
		if err != nil {
			return nil, fmt.Errorf("shellguard: mongo audit: %w", err)
		}
		b.onClose(client.Disconnect)
		store := persistence.NewMongoAuditStore(client, "", "")
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("shellguard: mongo audit: %w", err)
		}
		return store, nil

	default:
		return persistence.NewInMemoryAuditStore(ac.Limit), nil
	}
}

func (b *Bundle) openSQL(ctx context.Context, driver, dsn string, build func(*sql.DB) (persistence.AuditStore, error)) (persistence.AuditStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("shellguard: open %s: %w", driver, err)
	}
	b.onClose(func(context.Context) error { return db.Close() })
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("shellguard: ping %s: %w", driver, err)
	}
	store, err := build(db)
	if err != nil {
		return nil, fmt.Errorf("shellguard: %s audit: %w", driver, err)
	}
	return store, nil
}

func (b *Bundle) onClose(fn func(context.Context) error) {
	b.closers = append(b.closers, fn)
}

// Start launches the workers and, when cleanup.interval is set, the janitor.
func (b *Bundle) Start(ctx context.Context) error {
	if err := b.Runner.StartWorkers(ctx, b.Config.Workers.Concurrency); err != nil {
		return err
	}
	if b.Config.Cleanup.Interval > 0 {
		return b.Runner.StartJanitor(ctx, b.Config.Cleanup.Interval, b.Config.Cleanup.MaxAge)
	}
	return nil
}

// FlushAudit waits until every finished action seen so far is in Audit.
func (b *Bundle) FlushAudit(ctx context.Context) error {
	if b.Recorder == nil {
		return nil
	}
	return b.Recorder.Flush(ctx)
}

// Engine is shorthand for b.Runner.Engine.
func (b *Bundle) Engine() Engine { return b.Runner.Engine }

// Close stops the runner and releases backend connections in reverse order.
func (b *Bundle) Close(ctx context.Context) error {
	if b.Runner != nil {
		b.Runner.Stop()
	}
	if b.Adapters != nil {
		b.Adapters.Close()
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
