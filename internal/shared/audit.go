package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
)

// AuditLog is one committed mutation written to audit_logs.
type AuditLog struct {
	CompanyID int64
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

func (l AuditLog) validate() error {
	var errs []error
	if l.CompanyID <= 0 {
		errs = append(errs, errors.New("company required"))
	}
	if l.Action == "" {
		errs = append(errs, errors.New("action required"))
	}
	if l.Entity == "" || l.EntityID == "" {
		errs = append(errs, errors.New("entity reference required"))
	}
	return errors.Join(errs...)
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	q   db.Querier
	now func() time.Time
}

// NewAuditLogger writes through q, usually the pool.
func NewAuditLogger(q db.Querier) *AuditLogger {
	return &AuditLogger{q: q, now: time.Now}
}

// Record inserts log. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if err := log.validate(); err != nil {
		return fmt.Errorf("shared: audit %s: %w", log.Action, err)
	}
	meta := []byte("{}")
	if len(log.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(log.Meta); err != nil {
			return fmt.Errorf("shared: audit meta: %w", err)
		}
	}
	at := log.At
	if at.IsZero() {
		at = l.now()
	}
	_, err := l.q.Exec(ctx, `INSERT INTO audit_logs (company_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.CompanyID, log.ActorID, log.Action, log.Entity, log.EntityID, meta, at.UTC())
	return err
}
