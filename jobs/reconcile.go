package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizledger/internal/jobs"
	"github.com/odyssey-erp/bizledger/internal/ledger"
)

// Reconciler is the ledger behaviour the reconcile job needs.
type Reconciler interface {
	Reconcile(ctx context.Context, companyID int64) (ledger.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]ledger.ReconcileReport, error)
}

// ReconcileJob compares stored balances with the sum of postings.
type ReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(l Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: l, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation. Drift is logged and exported, not
// treated as a task failure.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	company, err := parseCompany(task.Payload())
	if err != nil {
		return err
	}

	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	var reports []ledger.ReconcileReport
	if company != nil {
		report, err := j.Ledger.Reconcile(ctx, *company)
		if err != nil {
			j.log().Error("reconcile company", slog.Int64("company_id", *company), slog.Any("error", err))
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = j.Ledger.ReconcileAll(ctx)
		if err != nil {
			j.log().Error("reconcile all companies", slog.Any("error", err))
			return err
		}
	}

	drifted := 0
	for _, r := range reports {
		j.metrics().SetDrifts(r.CompanyID, len(r.Drifts))
		for _, d := range r.Drifts {
			drifted++
			j.log().Warn("balance drift",
				slog.Int64("company_id", r.CompanyID),
				slog.Int64("account_id", d.AccountID),
				slog.String("balance", d.Balance.StringFixed(2)),
				slog.String("expected", d.Expected.StringFixed(2)))
		}
	}
	j.log().Info("ledger reconciled", slog.Int("companies", len(reports)), slog.Int("drifts", drifted), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}
