package shellguard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/shellguard/internal/bus"
	"github.com/petrijr/shellguard/internal/engine"
	"github.com/petrijr/shellguard/internal/persistence"
	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/worker"
)

// LocalRunner bundles a bus, per-session stores, an Engine, a task queue and
// a Worker into one process-local command gate.
//
// Typical usage:
//
//	runner := shellguard.NewLocalRunner(shellguard.WithAssessor(shellguard.NewRuleBasedAssessor()))
//	_ = runner.StartWorkers(ctx, 2)
//	wf, _ := shellguard.SubmitText(ctx, runner.Engine, "tty1", "ls -la")
//	...
//	runner.Stop()
//
// Actions that need approval wait until Engine.ApproveAction; approved
// actions are executed by the workers in per-session order.
type LocalRunner struct {
	// Engine drives the approval state machine.
	Engine Engine

	// Bus carries every lifecycle event; subscribe sinks here.
	Bus *bus.InMemoryBus

	// Queue holds released actions until a worker picks them up.
	Queue taskqueue.Queue

	// Worker executes tasks from Queue and reports back to Engine.
	Worker *worker.Worker

	eng    *engine.Engine
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	janitor bool
}

type runnerConfig struct {
	assessor     RiskAssessor
	ids          engine.IDGenerator
	executor     worker.Executor
	queue        taskqueue.Queue
	logger       *slog.Logger
	maxInFlight  int
	historyLimit int
	timeout      time.Duration
}

// RunnerOption customizes NewLocalRunner.
type RunnerOption func(*runnerConfig)

// WithAssessor sets the risk policy. The default is fail-safe.
func WithAssessor(a RiskAssessor) RunnerOption {
	return func(c *runnerConfig) { c.assessor = a }
}

// WithIDGenerator sets the generator for commands submitted without an id.
func WithIDGenerator(g engine.IDGenerator) RunnerOption {
	return func(c *runnerConfig) { c.ids = g }
}

// WithExecutor sets how released actions are run. The default runs them in
// a shell.
func WithExecutor(e worker.Executor) RunnerOption {
	return func(c *runnerConfig) { c.executor = e }
}

// WithQueue replaces the in-memory task queue.
func WithQueue(q taskqueue.Queue) RunnerOption {
	return func(c *runnerConfig) { c.queue = q }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) { c.logger = l }
}

// WithMaxInFlight bounds how many actions of one session may run at once.
// Zero removes the bound.
func WithMaxInFlight(n int) RunnerOption {
	return func(c *runnerConfig) { c.maxInFlight = n }
}

// WithHistoryLimit bounds how many finished actions the engine remembers.
func WithHistoryLimit(n int) RunnerOption {
	return func(c *runnerConfig) { c.historyLimit = n }
}

// WithWorkerTimeout bounds a single execution.
func WithWorkerTimeout(d time.Duration) RunnerOption {
	return func(c *runnerConfig) { c.timeout = d }
}

// NewLocalRunner constructs a LocalRunner. Without options it uses the
// fail-safe assessor, an in-memory queue, a shell executor and one action
// in flight per session.
func NewLocalRunner(opts ...RunnerOption) *LocalRunner {
	cfg := runnerConfig{
		maxInFlight:  persistence.DefaultMaxInFlight,
		historyLimit: engine.DefaultHistoryLimit,
		timeout:      worker.DefaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.queue == nil {
		cfg.queue = taskqueue.NewInMemoryQueue(taskqueue.DefaultCapacity)
	}

	b := bus.NewInMemoryBus(cfg.logger)
	sessions := persistence.NewSessionManager(b,
		persistence.WithMaxInFlight(cfg.maxInFlight),
		persistence.WithStoreLogger(cfg.logger),
	)
	engineOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithHistoryLimit(cfg.historyLimit),
		engine.WithAssessor(cfg.assessor),
	}
	if cfg.ids != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(cfg.ids))
	}
	eng := engine.New(b, sessions, engineOpts...)

	w := worker.New(eng, cfg.queue, cfg.executor,
		worker.WithTimeout(cfg.timeout),
		worker.WithLogger(cfg.logger),
	)
	b.Subscribe(PhaseReadyToRun, worker.NewExecutionSink(eng, cfg.queue))

	return &LocalRunner{
		Engine: eng,
		Bus:    b,
		Queue:  cfg.queue,
		Worker: w,
		eng:    eng,
		logger: cfg.logger,
	}
}

// History returns the finished actions the engine still remembers, oldest
// first.
func (r *LocalRunner) History() []*ActionWorkflow {
	return r.eng.History()
}

// StartWorkers starts 'concurrency' worker goroutines that process tasks
// until Stop is called or ctx is cancelled.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("shellguard: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx = r.contextLocked(ctx)
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			r.Worker.Run(ctx)
		}()
	}
	r.logger.Debug("workers_started", slog.Int("concurrency", concurrency))
	return nil
}

// StartJanitor periodically drops finished actions older than maxAge from
// the engine. It stops with Stop.
func (r *LocalRunner) StartJanitor(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return errors.New("shellguard: janitor interval must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.janitor {
		return errors.New("shellguard: janitor already started")
	}
	ctx = r.contextLocked(ctx)
	r.janitor = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := r.Engine.CleanupCompleted(maxAge); n > 0 {
					r.logger.Info("janitor_cleaned", slog.Int("count", n))
				}
			}
		}
	}()
	return nil
}

// contextLocked derives a cancellable context from parent and chains its
// cancel into the one Stop calls.
func (r *LocalRunner) contextLocked(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	prev := r.cancel
	r.cancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	return ctx
}

// Stop cancels all goroutines started by StartWorkers and StartJanitor and
// waits for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.running = false
	r.janitor = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
