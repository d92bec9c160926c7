package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile recomputes balances from postings and reports drift.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskPayrollRollover resets monthly salary counters.
	TaskPayrollRollover = "payroll:rollover"

	// ReconcileCron runs nightly.
	ReconcileCron = "0 3 * * *"
	// RolloverCron runs shortly after midnight on the first day of the month.
	RolloverCron = "5 0 1 * *"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CompanyPayload scopes a task to one company or, when empty or "all", to
// every company.
type CompanyPayload struct {
	CompanyID string `json:"company_id"`
}

func newCompanyTask(taskType, company string) (*asynq.Task, error) {
	if company == "" {
		company = "all"
	}
	body, err := json.Marshal(CompanyPayload{CompanyID: company})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewReconcileTask creates a reconciliation task.
func NewReconcileTask(company string) (*asynq.Task, error) {
	return newCompanyTask(TaskLedgerReconcile, company)
}

// NewRolloverTask creates a payroll rollover task.
func NewRolloverTask(company string) (*asynq.Task, error) {
	return newCompanyTask(TaskPayrollRollover, company)
}

// parseCompany returns nil for the all-companies scope.
func parseCompany(payload []byte) (*int64, error) {
	var p CompanyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.CompanyID == "" || p.CompanyID == "all" {
		return nil, nil
	}
	id, err := strconv.ParseInt(p.CompanyID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid company id %q: %w", p.CompanyID, asynq.SkipRetry)
	}
	return &id, nil
}
