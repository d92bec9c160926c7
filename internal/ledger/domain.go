// Package ledger maintains account balances. Every balance change is the
// effect of exactly one persisted transaction, applied atomically with it.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the kinds of monetary events.
type TransactionType string

const (
	TypeIncome      TransactionType = "INCOME"
	TypeExpense     TransactionType = "EXPENSE"
	TypeTransferIn  TransactionType = "TRANSFER_IN"
	TypeTransferOut TransactionType = "TRANSFER_OUT"
	TypeDebtTaken   TransactionType = "DEBT_TAKEN"
	TypeDebtRepaid  TransactionType = "DEBT_REPAID"
	TypeOther       TransactionType = "OTHER"
)

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransferIn, TypeTransferOut, TypeDebtTaken, TypeDebtRepaid, TypeOther:
		return true
	}
	return false
}

// IsTransfer reports whether t moves funds between two accounts.
func (t TransactionType) IsTransfer() bool {
	return t == TypeTransferIn || t == TypeTransferOut
}

// AccountType classifies where funds are held.
type AccountType string

const (
	AccountBank        AccountType = "BANK"
	AccountCash        AccountType = "CASH"
	AccountMobileMoney AccountType = "MOBILE_MONEY"
	AccountOther       AccountType = "OTHER"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountBank, AccountCash, AccountMobileMoney, AccountOther:
		return true
	}
	return false
}

// Account is a named pool of funds owned by a company.
type Account struct {
	ID        int64           `json:"id"`
	CompanyID int64           `json:"companyId"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Transaction is an immutable record of a monetary event. Amount is stored
// signed: expenses are always negative.
type Transaction struct {
	ID              int64           `json:"id"`
	CompanyID       int64           `json:"companyId"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Type            TransactionType `json:"type"`
	TransactionDate time.Time       `json:"transactionDate"`
	Note            *string         `json:"note,omitempty"`
	AccountID       *int64          `json:"accountId,omitempty"`
	FromAccountID   *int64          `json:"fromAccountId,omitempty"`
	ToAccountID     *int64          `json:"toAccountId,omitempty"`
	ProjectID       *int64          `json:"projectId,omitempty"`
	ExpenseID       *int64          `json:"expenseId,omitempty"`
	CustomerID      *int64          `json:"customerId,omitempty"`
	VendorID        *int64          `json:"vendorId,omitempty"`
	EmployeeID      *int64          `json:"employeeId,omitempty"`
	UserID          int64           `json:"userId"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// AccountIDs returns every account the transaction touches.
func (t Transaction) AccountIDs() []int64 {
	var ids []int64
	for _, id := range []*int64{t.AccountID, t.FromAccountID, t.ToAccountID} {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids
}

// EntityKind names the tenant-owned records a transaction may link to.
type EntityKind string

const (
	EntityProject  EntityKind = "project"
	EntityExpense  EntityKind = "expense"
	EntityCustomer EntityKind = "customer"
	EntityVendor   EntityKind = "vendor"
	EntityEmployee EntityKind = "employee"
)

// PostingInput is the transaction intent accepted by PostTransaction.
type PostingInput struct {
	Description     string          `json:"description" validate:"required,max=255"`
	Amount          decimal.Decimal `json:"amount"`
	Type            TransactionType `json:"type" validate:"required"`
	TransactionDate time.Time       `json:"transactionDate" validate:"required"`
	Note            *string         `json:"note,omitempty" validate:"omitempty,max=1000"`
	AccountID       *int64          `json:"accountId,omitempty" validate:"omitempty,gt=0"`
	FromAccountID   *int64          `json:"fromAccountId,omitempty" validate:"omitempty,gt=0"`
	ToAccountID     *int64          `json:"toAccountId,omitempty" validate:"omitempty,gt=0"`
	ProjectID       *int64          `json:"projectId,omitempty" validate:"omitempty,gt=0"`
	ExpenseID       *int64          `json:"expenseId,omitempty" validate:"omitempty,gt=0"`
	CustomerID      *int64          `json:"customerId,omitempty" validate:"omitempty,gt=0"`
	VendorID        *int64          `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	EmployeeID      *int64          `json:"employeeId,omitempty" validate:"omitempty,gt=0"`
}

// normalize trims free text in place.
func (in *PostingInput) normalize() {
	in.Description = strings.TrimSpace(in.Description)
	in.Type = TransactionType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if in.Note != nil {
		note := strings.TrimSpace(*in.Note)
		if note == "" {
			in.Note = nil
		} else {
			in.Note = &note
		}
	}
}

// associations lists the optional entity links that must be checked.
func (in PostingInput) associations() []entityRef {
	var refs []entityRef
	add := func(kind EntityKind, id *int64) {
		if id != nil {
			refs = append(refs, entityRef{Kind: kind, ID: *id})
		}
	}
	add(EntityProject, in.ProjectID)
	add(EntityExpense, in.ExpenseID)
	add(EntityCustomer, in.CustomerID)
	add(EntityVendor, in.VendorID)
	add(EntityEmployee, in.EmployeeID)
	return refs
}

type entityRef struct {
	Kind EntityKind
	ID   int64
}

// PostingResult carries the persisted transaction and the balances it moved.
type PostingResult struct {
	Transaction Transaction `json:"transaction"`
	Accounts    []Account   `json:"accounts"`
}

// CreateAccountInput describes a new account.
type CreateAccountInput struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Type           AccountType     `json:"type" validate:"required"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	CompanyID int64
	AccountID *int64
	Type      *TransactionType
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// AccountDrift reports a balance that no longer equals its postings.
type AccountDrift struct {
	AccountID int64           `json:"accountId"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Expected  decimal.Decimal `json:"expected"`
	Drift     decimal.Decimal `json:"drift"`
}

// ReconcileReport summarises a reconciliation pass for one company.
type ReconcileReport struct {
	CompanyID    int64          `json:"companyId"`
	Accounts     int            `json:"accounts"`
	Transactions int            `json:"transactions"`
	Drifts       []AccountDrift `json:"drifts"`
	CheckedAt    time.Time      `json:"checkedAt"`
}

// Balanced reports whether every account matched its postings.
func (r ReconcileReport) Balanced() bool {
	return len(r.Drifts) == 0
}

// Summary is the dashboard view of a company's funds.
type Summary struct {
	Totals       map[string]decimal.Decimal `json:"totals"`
	Accounts     []Account                  `json:"accounts"`
	Recent       []Transaction              `json:"recent"`
	Transactions int                        `json:"transactionCount"`
}
