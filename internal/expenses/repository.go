package expenses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/bizledger/internal/employees"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/platform/db"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// Repository reads expenses and opens units of work shared with the ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Expense, error)
	List(ctx context.Context, filter ListFilter) ([]Expense, int, error)
}

// TxRepository extends the ledger unit of work with expense and salary writes.
type TxRepository interface {
	ledger.TxRepository
	employees.SalaryWriter

	InsertExpense(ctx context.Context, e Expense) (Expense, error)
	GetExpenseForUpdate(ctx context.Context, companyID, id int64) (Expense, error)
	SetApproved(ctx context.Context, companyID, id int64, approved bool) error
	SetSalaryApplied(ctx context.Context, companyID, id int64, applied bool) error
	DeleteExpense(ctx context.Context, companyID, id int64) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newPGTx(tx))
	})
}

const expenseSelect = `SELECT e.id, e.company_id, e.description, e.amount, e.category, e.sub_category, e.account_id,
e.expense_date, e.approved, e.salary_applied, e.project_id, e.employee_id, e.customer_id, e.vendor_id, e.note,
t.id, e.created_by, e.created_at, e.updated_at
FROM expenses e
LEFT JOIN transactions t ON t.expense_id = e.id AND t.company_id = e.company_id`

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e        Expense
		category string
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.Description, &e.Amount, &category, &e.SubCategory, &e.AccountID,
		&e.ExpenseDate, &e.Approved, &e.SalaryApplied, &e.ProjectID, &e.EmployeeID, &e.CustomerID, &e.VendorID, &e.Note,
		&e.TransactionID, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound
	}
	e.Category = Category(category)
	return e, err
}

func (r *pgRepository) Get(ctx context.Context, companyID, id int64) (Expense, error) {
	return scanExpense(r.pool.QueryRow(ctx, expenseSelect+` WHERE e.company_id=$1 AND e.id=$2`, companyID, id))
}

func (r *pgRepository) List(ctx context.Context, f ListFilter) ([]Expense, int, error) {
	conditions := []string{"e.company_id = $1"}
	args := []any{f.CompanyID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Category != nil {
		conditions = append(conditions, "e.category = "+next(string(*f.Category)))
	}
	if f.Approved != nil {
		conditions = append(conditions, "e.approved = "+next(*f.Approved))
	}
	if f.EmployeeID != nil {
		conditions = append(conditions, "e.employee_id = "+next(*f.EmployeeID))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses e`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := expenseSelect + where + fmt.Sprintf(" ORDER BY e.expense_date DESC, e.id DESC LIMIT %s OFFSET %s", next(limit), next(f.Offset))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

type pgTx struct {
	*ledger.PGTxRepository
	*employees.PGSalaryWriter
	approvals *shared.ApprovalRecorder
	q         db.Querier
}

func newPGTx(tx pgx.Tx) *pgTx {
	ltx := ledger.NewTxRepository(tx)
	q := ltx.Querier()
	return &pgTx{
		PGTxRepository: ltx,
		PGSalaryWriter: employees.NewSalaryWriter(q),
		approvals:      shared.NewApprovalRecorder(q, nil),
		q:              q,
	}
}

func (t *pgTx) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.approvals.Record(ctx, log)
}

func (t *pgTx) InsertExpense(ctx context.Context, e Expense) (Expense, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO expenses (company_id, description, amount, category, sub_category, account_id,
expense_date, approved, project_id, employee_id, customer_id, vendor_id, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		e.CompanyID, e.Description, e.Amount, string(e.Category), e.SubCategory, e.AccountID,
		e.ExpenseDate, e.Approved, e.ProjectID, e.EmployeeID, e.CustomerID, e.VendorID, e.Note, e.CreatedBy).Scan(&id)
	if err != nil {
		return Expense{}, err
	}
	return t.GetExpenseForUpdate(ctx, e.CompanyID, id)
}

func (t *pgTx) GetExpenseForUpdate(ctx context.Context, companyID, id int64) (Expense, error) {
	return scanExpense(t.q.QueryRow(ctx, expenseSelect+` WHERE e.company_id=$1 AND e.id=$2 FOR UPDATE OF e`, companyID, id))
}

func (t *pgTx) SetApproved(ctx context.Context, companyID, id int64, approved bool) error {
	return t.exec(ctx, `UPDATE expenses SET approved=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, id, approved)
}

func (t *pgTx) SetSalaryApplied(ctx context.Context, companyID, id int64, applied bool) error {
	return t.exec(ctx, `UPDATE expenses SET salary_applied=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, id, applied)
}

func (t *pgTx) DeleteExpense(ctx context.Context, companyID, id int64) error {
	return t.exec(ctx, `DELETE FROM expenses WHERE company_id=$1 AND id=$2`, companyID, id)
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExpenseNotFound
	}
	return nil
}

var _ TxRepository = (*pgTx)(nil)
