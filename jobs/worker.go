package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules Task on a cron Spec (UTC).
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig is everything NewWorker needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker runs the asynq server and, when cron entries exist, the scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker validates the registrations and builds the server.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	mux := asynq.NewServeMux()
	mux.Use(logTask(logger))
	seen := make(map[string]bool, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, fmt.Errorf("jobs: incomplete handler registration %q", h.Type)
		}
		if seen[h.Type] {
			return nil, fmt.Errorf("jobs: duplicate handler for %s", h.Type)
		}
		seen[h.Type] = true
		mux.HandleFunc(h.Type, h.Handler)
	}

	server := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{QueueDefault: 1},
		Logger:          asynqLogger{logger},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				slog.String("type", task.Type()),
				slog.Int("retry", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err))
		}),
	})

	w := &Worker{server: server, mux: mux, logger: logger}
	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   asynqLogger{logger},
	})
	for _, entry := range cfg.Cron {
		if entry.Task == nil {
			return nil, fmt.Errorf("jobs: cron %q has no task", entry.Spec)
		}
		if !seen[entry.Task.Type()] {
			return nil, fmt.Errorf("jobs: cron task %s has no handler", entry.Task.Type())
		}
		id, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...)
		if err != nil {
			return nil, fmt.Errorf("jobs: register cron %s: %w", entry.Task.Type(), err)
		}
		logger.Debug("cron registered", slog.String("type", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("id", id))
	}
	return w, nil
}

// DefaultCron is the production schedule: nightly reconciliation and key
// purge, monthly payroll rollover.
func DefaultCron() ([]CronRegistration, error) {
	reconcile, err := NewReconcileTask("")
	if err != nil {
		return nil, err
	}
	rollover, err := NewRolloverTask("")
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: ReconcileCron, Task: reconcile},
		{Spec: RolloverCron, Task: rollover, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: PurgeCron, Task: NewPurgeTask()},
	}, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
	}
	<-ctx.Done()
	w.logger.Info("worker draining")
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return ctx.Err()
}

func logTask(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			id, _ := asynq.GetTaskID(ctx)
			began := time.Now()
			err := next.ProcessTask(ctx, t)
			logger.Debug("task processed",
				slog.String("type", t.Type()),
				slog.String("id", id),
				slog.Duration("took", time.Since(began)),
				slog.Bool("ok", err == nil))
			return err
		})
	}
}

// asynqLogger routes asynq's internal logging into slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
