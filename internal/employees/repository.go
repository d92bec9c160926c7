package employees

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
)

// Repository reads employees and runs the monthly rollover.
type Repository interface {
	Get(ctx context.Context, companyID, id int64) (Employee, error)
	List(ctx context.Context, companyID int64) ([]Employee, error)
	// Rollover moves every employee of one company, or of all companies
	// when companyID is nil, into period. Employees already there are left
	// alone. It returns the number of employees moved.
	Rollover(ctx context.Context, companyID *int64, period string) (int64, error)
}

// SalaryWriter mutates salary counters inside a caller's transaction.
type SalaryWriter interface {
	AdjustSalaryPaid(ctx context.Context, companyID, employeeID int64, delta decimal.Decimal, at time.Time) (Employee, error)
}

const employeeColumns = `id, company_id, name, monthly_salary, salary_paid_this_month, overpaid_amount,
last_payment_date, payroll_period, created_at, updated_at`

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.CompanyID, &e.Name, &e.MonthlySalary, &e.SalaryPaidThisMonth, &e.OverpaidAmount,
		&e.LastPaymentDate, &e.PayrollPeriod, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Employee{}, ErrEmployeeNotFound
	}
	return e, err
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Get(ctx context.Context, companyID, id int64) (Employee, error) {
	return scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE company_id=$1 AND id=$2`, companyID, id))
}

func (r *pgRepository) List(ctx context.Context, companyID int64) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees WHERE company_id=$1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgRepository) Rollover(ctx context.Context, companyID *int64, period string) (int64, error) {
	var moved int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		moved, err = NewSalaryWriter(tx).RolloverPending(ctx, companyID, period)
		return err
	})
	return moved, err
}

// PGSalaryWriter persists salary counters. The rules live on Employee: each
// write locks the row, applies the domain method and stores the result.
type PGSalaryWriter struct {
	q db.Querier
}

// NewSalaryWriter wraps q, typically an open transaction.
func NewSalaryWriter(q db.Querier) *PGSalaryWriter {
	return &PGSalaryWriter{q: q}
}

// AdjustSalaryPaid applies delta to the employee's paid counter.
func (w *PGSalaryWriter) AdjustSalaryPaid(ctx context.Context, companyID, employeeID int64, delta decimal.Decimal, at time.Time) (Employee, error) {
	e, err := scanEmployee(w.q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees
WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, employeeID))
	if err != nil {
		return Employee{}, err
	}
	e.ApplyPayment(delta, at)
	return e, w.save(ctx, &e)
}

// RolloverPending moves employees still behind period into it, one locked
// row at a time. Each moved row is stamped with period, so the loop ends
// and a repeated run finds nothing to do.
func (w *PGSalaryWriter) RolloverPending(ctx context.Context, companyID *int64, period string) (int64, error) {
	var moved int64
	for {
		e, err := scanEmployee(w.q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees
WHERE ($1::BIGINT IS NULL OR company_id = $1) AND payroll_period < $2
ORDER BY id LIMIT 1 FOR UPDATE`, companyID, period))
		if errors.Is(err, ErrEmployeeNotFound) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		if !e.Rollover(period) {
			return moved, errors.New("employees: rollover selected an employee already in period")
		}
		if err := w.save(ctx, &e); err != nil {
			return moved, err
		}
		moved++
	}
}

func (w *PGSalaryWriter) save(ctx context.Context, e *Employee) error {
	return w.q.QueryRow(ctx, `UPDATE employees
SET salary_paid_this_month = $3, overpaid_amount = $4, last_payment_date = $5, payroll_period = $6, updated_at = NOW()
WHERE company_id = $1 AND id = $2
RETURNING updated_at`,
		e.CompanyID, e.ID, e.SalaryPaidThisMonth, e.OverpaidAmount, e.LastPaymentDate, e.PayrollPeriod).
		Scan(&e.UpdatedAt)
}
