// Package expenses records company costs. Each expense owns exactly one
// EXPENSE transaction, created and removed together with it.
package expenses

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrExpenseNotFound is returned when an expense is absent from the company.
var ErrExpenseNotFound = errors.New("expenses: expense not found")

// Category classifies an expense.
type Category string

const (
	CategoryLabor          Category = "Labor"
	CategoryMaterial       Category = "Material"
	CategoryEquipment      Category = "Equipment"
	CategoryTransport      Category = "Transport"
	CategoryDebt           Category = "Debt"
	CategoryDebtRepayment  Category = "Debt Repayment"
	CategoryCompanyExpense Category = "Company Expense"
	CategoryAdvance        Category = "Advance"
	CategoryOther          Category = "Other"
)

// SubCategorySalary marks a Company Expense that pays an employee's salary.
const SubCategorySalary = "Salary"

var categories = []Category{
	CategoryLabor, CategoryMaterial, CategoryEquipment, CategoryTransport, CategoryDebt,
	CategoryDebtRepayment, CategoryCompanyExpense, CategoryAdvance, CategoryOther,
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(raw string) (Category, bool) {
	raw = strings.TrimSpace(raw)
	for _, c := range categories {
		if strings.EqualFold(string(c), raw) {
			return c, true
		}
	}
	return "", false
}

// Expense is a cost paid from one account.
type Expense struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"companyId"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Category      Category        `json:"category"`
	SubCategory   string          `json:"subCategory,omitempty"`
	AccountID     int64           `json:"accountId"`
	ExpenseDate   time.Time       `json:"expenseDate"`
	Approved      bool            `json:"approved"`
	SalaryApplied bool            `json:"salaryApplied"`
	ProjectID     *int64          `json:"projectId,omitempty"`
	EmployeeID    *int64          `json:"employeeId,omitempty"`
	CustomerID    *int64          `json:"customerId,omitempty"`
	VendorID      *int64          `json:"vendorId,omitempty"`
	Note          *string         `json:"note,omitempty"`
	TransactionID *int64          `json:"transactionId,omitempty"`
	CreatedBy     int64           `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsSalary reports whether the expense is a salary payment.
func (e Expense) IsSalary() bool {
	return e.Category == CategoryCompanyExpense && strings.EqualFold(strings.TrimSpace(e.SubCategory), SubCategorySalary)
}

// PaysEmployee reports whether the expense counts towards an employee's
// monthly salary once applied.
func (e Expense) PaysEmployee() bool {
	return e.EmployeeID != nil && (e.IsSalary() || e.Category == CategoryAdvance)
}

// CreateInput describes a new expense.
type CreateInput struct {
	Description string          `json:"description" validate:"required,max=255"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"required"`
	SubCategory string          `json:"subCategory" validate:"max=80"`
	AccountID   int64           `json:"accountId" validate:"required,gt=0"`
	ExpenseDate time.Time       `json:"expenseDate" validate:"required"`
	Approved    bool            `json:"approved"`
	ProjectID   *int64          `json:"projectId,omitempty" validate:"omitempty,gt=0"`
	EmployeeID  *int64          `json:"employeeId,omitempty" validate:"omitempty,gt=0"`
	CustomerID  *int64          `json:"customerId,omitempty" validate:"omitempty,gt=0"`
	VendorID    *int64          `json:"vendorId,omitempty" validate:"omitempty,gt=0"`
	Note        *string         `json:"note,omitempty" validate:"omitempty,max=1000"`
}

// ApproveInput flips the approval flag.
type ApproveInput struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note"`
}

// ListFilter narrows List.
type ListFilter struct {
	CompanyID  int64
	Category   *Category
	Approved   *bool
	EmployeeID *int64
	Limit      int
	Offset     int
}
