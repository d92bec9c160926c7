package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizledger/internal/jobs"
)

// PayrollRoller resets monthly salary counters. A nil company means all.
type PayrollRoller interface {
	RolloverPayroll(ctx context.Context, companyID *int64) (int64, error)
}

// RolloverJob runs the monthly payroll rollover.
type RolloverJob struct {
	Payroll PayrollRoller
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRolloverJob constructs the job handler.
func NewRolloverJob(p PayrollRoller, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolloverJob {
	return &RolloverJob{Payroll: p, Logger: logger, Metrics: metrics}
}

// Handle executes the rollover.
func (j *RolloverJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Payroll == nil {
		return errors.New("payroll rollover: dependencies not configured")
	}
	company, err := parseCompany(task.Payload())
	if err != nil {
		return err
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskPayrollRollover)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskPayrollRollover))

	n, err := j.Payroll.RolloverPayroll(ctx, company)
	if err != nil {
		logger.Error("rollover payroll", slog.Any("error", err))
		return err
	}
	metrics.AddRolledOver(n)
	logger.Info("payroll rolled over", slog.Int64("employees", n))
	return nil
}
