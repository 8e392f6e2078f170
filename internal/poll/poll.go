// Package poll drives the fixed-interval re-fetch loops that keep local
// caches in step with the backend.
package poll

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/metrics"
)

// Task is one resource's fetch-and-replace function with its fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Engine runs every registered task on its own ticker. Intervals are fixed
// per resource kind; a failed tick is logged and counted but never stops the
// loop, leaving the previously cached copy in place.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tasks   []Task
}

// NewEngine constructs an engine. metrics may be nil.
func NewEngine(logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, metrics: m}
}

// Add registers a task. Must be called before Run.
func (e *Engine) Add(task Task) {
	if task.Interval <= 0 {
		task.Interval = 15 * time.Second
	}
	e.tasks = append(e.tasks, task)
}

// Run performs an immediate first fetch for every task, then re-arms each on
// its interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, task := range e.tasks {
		task := task
		group.Go(func() error {
			return e.loop(ctx, task)
		})
	}
	return group.Wait()
}

func (e *Engine) loop(ctx context.Context, task Task) error {
	ctx = logging.WithLogger(ctx, e.logger)

	e.tick(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick(ctx, task)
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) tick(ctx context.Context, task Task) {
	tickCtx, tick := logging.StartTick(ctx, task.Name)
	err := task.Run(tickCtx)
	tick.End(err)
	if e.metrics != nil {
		e.metrics.ObserveTick(task.Name, err)
	}
}
