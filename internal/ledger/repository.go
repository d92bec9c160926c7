package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizledger/internal/platform/db"
)

// Repository is the company-scoped read side of the ledger plus the unit of
// work. Every method takes the company id; there are no unscoped lookups.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetAccount(ctx context.Context, companyID, id int64) (Account, error)
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	GetTransaction(ctx context.Context, companyID, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
	ForEachTransaction(ctx context.Context, companyID int64, fn func(Transaction) error) error
	ListCompanyIDs(ctx context.Context) ([]int64, error)

	// Snapshot runs fn against a single consistent read-only view, so
	// balances and postings read through it agree with each other.
	Snapshot(ctx context.Context, fn func(context.Context, SnapshotReader) error) error
}

// SnapshotReader is the read surface available inside Snapshot.
type SnapshotReader interface {
	ListAccounts(ctx context.Context, companyID int64) ([]Account, error)
	ForEachTransaction(ctx context.Context, companyID int64, fn func(Transaction) error) error
}

// TxRepository exposes the writes available inside one database transaction.
type TxRepository interface {
	// LockAccounts row-locks the accounts in ascending id order and returns
	// the ones that exist within the company.
	LockAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error)
	EntityExists(ctx context.Context, companyID int64, kind EntityKind, id int64) (bool, error)
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, companyID, id int64) (Transaction, error)
	GetTransactionByExpenseForUpdate(ctx context.Context, companyID, expenseID int64) (Transaction, error)
	DeleteTransaction(ctx context.Context, companyID, id int64) error
	ApplyBalanceDelta(ctx context.Context, companyID, accountID int64, delta decimal.Decimal) (Account, error)
	InsertAccount(ctx context.Context, a Account) (Account, error)
	CountAccountReferences(ctx context.Context, companyID, accountID int64) (int, error)
	DeleteAccount(ctx context.Context, companyID, accountID int64) error
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*PGTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *pgRepository) Snapshot(ctx context.Context, fn func(context.Context, SnapshotReader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, snapshotReader{q: tx})
	})
}

type snapshotReader struct {
	q db.Querier
}

func (s snapshotReader) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	return listAccounts(ctx, s.q, companyID)
}

func (s snapshotReader) ForEachTransaction(ctx context.Context, companyID int64, fn func(Transaction) error) error {
	return forEachTransaction(ctx, s.q, companyID, fn)
}

const accountColumns = `id, company_id, name, type, currency, balance, created_at, updated_at`

const transactionColumns = `id, company_id, description, amount, type, transaction_date, note,
account_id, from_account_id, to_account_id, project_id, expense_id, customer_id, vendor_id, employee_id,
user_id, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Name, &a.Type, &a.Currency, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.Description, &t.Amount, &t.Type, &t.TransactionDate, &t.Note,
		&t.AccountID, &t.FromAccountID, &t.ToAccountID, &t.ProjectID, &t.ExpenseID, &t.CustomerID, &t.VendorID, &t.EmployeeID,
		&t.UserID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *pgRepository) GetAccount(ctx context.Context, companyID, id int64) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id=$2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *pgRepository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	return listAccounts(ctx, r.pool, companyID)
}

func listAccounts(ctx context.Context, q db.Querier, companyID int64) ([]Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *pgRepository) GetTransaction(ctx context.Context, companyID, id int64) (Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE company_id=$1 AND id=$2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (r *pgRepository) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, int, error) {
	conditions := []string{"company_id = $1"}
	args := []any{f.CompanyID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.AccountID != nil {
		p := next(*f.AccountID)
		conditions = append(conditions, fmt.Sprintf("(account_id = %s OR from_account_id = %s OR to_account_id = %s)", p, p, p))
	}
	if f.Type != nil {
		conditions = append(conditions, "type = "+next(string(*f.Type)))
	}
	if f.From != nil {
		conditions = append(conditions, "transaction_date >= "+next(*f.From))
	}
	if f.To != nil {
		conditions = append(conditions, "transaction_date <= "+next(*f.To))
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY transaction_date DESC, id DESC LIMIT %s OFFSET %s`,
		transactionColumns, where, next(limit), next(f.Offset))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) ForEachTransaction(ctx context.Context, companyID int64, fn func(Transaction) error) error {
	return forEachTransaction(ctx, r.pool, companyID, fn)
}

func forEachTransaction(ctx context.Context, q db.Querier, companyID int64, fn func(Transaction) error) error {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *pgRepository) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM companies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PGTxRepository implements TxRepository on a pgx transaction. Other
// packages embed it to share one unit of work with the ledger.
type PGTxRepository struct {
	q db.Querier
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) *PGTxRepository {
	return &PGTxRepository{q: tx}
}

// entityTables maps entity kinds onto their tenant-scoped tables.
var entityTables = map[EntityKind]string{
	EntityProject:  "projects",
	EntityExpense:  "expenses",
	EntityCustomer: "customers",
	EntityVendor:   "vendors",
	EntityEmployee: "employees",
}

func (r *PGTxRepository) LockAccounts(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE company_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, companyID, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(sorted))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *PGTxRepository) EntityExists(ctx context.Context, companyID int64, kind EntityKind, id int64) (bool, error) {
	table, ok := entityTables[kind]
	if !ok {
		return false, fmt.Errorf("ledger: unknown entity kind %q", kind)
	}
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE company_id=$1 AND id=$2)`, companyID, id).Scan(&exists)
	return exists, err
}

func (r *PGTxRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO transactions (company_id, description, amount, type, transaction_date, note,
account_id, from_account_id, to_account_id, project_id, expense_id, customer_id, vendor_id, employee_id, user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING `+transactionColumns,
		t.CompanyID, t.Description, t.Amount, string(t.Type), t.TransactionDate, t.Note,
		t.AccountID, t.FromAccountID, t.ToAccountID, t.ProjectID, t.ExpenseID, t.CustomerID, t.VendorID, t.EmployeeID, t.UserID)
	return scanTransaction(row)
}

func (r *PGTxRepository) GetTransactionForUpdate(ctx context.Context, companyID, id int64) (Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (r *PGTxRepository) GetTransactionByExpenseForUpdate(ctx context.Context, companyID, expenseID int64) (Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE company_id=$1 AND expense_id=$2 FOR UPDATE`, companyID, expenseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (r *PGTxRepository) DeleteTransaction(ctx context.Context, companyID, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM transactions WHERE company_id=$1 AND id=$2`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *PGTxRepository) ApplyBalanceDelta(ctx context.Context, companyID, accountID int64, delta decimal.Decimal) (Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, `UPDATE accounts SET balance = balance + $3, updated_at = NOW()
WHERE company_id=$1 AND id=$2 RETURNING `+accountColumns, companyID, accountID, delta))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *PGTxRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	created, err := scanAccount(r.q.QueryRow(ctx, `INSERT INTO accounts (company_id, name, type, currency, balance)
VALUES ($1,$2,$3,$4,0) RETURNING `+accountColumns, a.CompanyID, a.Name, string(a.Type), a.Currency))
	if db.IsUniqueViolation(err, "uq_accounts_company_name") {
		return Account{}, ErrDuplicateAccount
	}
	return created, err
}

func (r *PGTxRepository) CountAccountReferences(ctx context.Context, companyID, accountID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE company_id=$1
AND (account_id=$2 OR from_account_id=$2 OR to_account_id=$2)`, companyID, accountID).Scan(&n)
	return n, err
}

func (r *PGTxRepository) DeleteAccount(ctx context.Context, companyID, accountID int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE company_id=$1 AND id=$2`, companyID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Querier exposes the underlying transaction to embedding repositories.
func (r *PGTxRepository) Querier() db.Querier {
	return r.q
}
