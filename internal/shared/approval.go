package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
)

// ApprovalAction is what happened to an approvable record.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalRevoke  ApprovalAction = "REVOKE"
)

// ApprovalLog is one entry of a record's approval history.
type ApprovalLog struct {
	ID        int64          `json:"id"`
	CompanyID int64          `json:"companyId"`
	Module    string         `json:"module"`
	RefID     int64          `json:"refId"`
	ActorID   int64          `json:"actorId"`
	Action    ApprovalAction `json:"action"`
	Note      string         `json:"note,omitempty"`
	At        time.Time      `json:"at"`
}

var errApprovalIncomplete = errors.New("shared: approval needs company, actor, module, ref and action")

// ApprovalRecorder keeps approval history in the approvals table.
type ApprovalRecorder struct {
	q      db.Querier
	logger *slog.Logger
}

// NewApprovalRecorder writes through q.
func NewApprovalRecorder(q db.Querier, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{q: q, logger: logger}
}

// Record appends log to the history.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if log.CompanyID <= 0 || log.ActorID <= 0 || log.Module == "" || log.RefID <= 0 || log.Action == "" {
		return errApprovalIncomplete
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.q.Exec(ctx, `INSERT INTO approvals (company_id, module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		log.CompanyID, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at.UTC())
	if err != nil {
		r.logger.Error("record approval",
			slog.String("module", log.Module), slog.Int64("ref", log.RefID), slog.Any("error", err))
		return fmt.Errorf("shared: record approval: %w", err)
	}
	return nil
}

// List returns the history of one record, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, companyID int64, module string, ref int64) ([]ApprovalLog, error) {
	rows, err := r.q.Query(ctx, `SELECT id, company_id, module, ref_id, actor_id, action, COALESCE(note, ''), at
FROM approvals WHERE company_id = $1 AND module = $2 AND ref_id = $3 ORDER BY at, id`, companyID, module, ref)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var l ApprovalLog
		err := row.Scan(&l.ID, &l.CompanyID, &l.Module, &l.RefID, &l.ActorID, &l.Action, &l.Note, &l.At)
		return l, err
	})
}
