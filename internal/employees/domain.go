// Package employees tracks the payroll fields the ledger mutates: what each
// employee has been paid this month against their monthly salary.
package employees

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmployeeNotFound is returned when an employee is absent from the company.
var ErrEmployeeNotFound = errors.New("employees: employee not found")

// Employee holds the salary counters for one employee.
type Employee struct {
	ID                  int64           `json:"id"`
	CompanyID           int64           `json:"companyId"`
	Name                string          `json:"name"`
	MonthlySalary       decimal.Decimal `json:"monthlySalary"`
	SalaryPaidThisMonth decimal.Decimal `json:"salaryPaidThisMonth"`
	OverpaidAmount      decimal.Decimal `json:"overpaidAmount"`
	LastPaymentDate     *time.Time      `json:"lastPaymentDate,omitempty"`
	// PayrollPeriod is the pay month (YYYY-MM) the counters belong to.
	PayrollPeriod string    `json:"payrollPeriod"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ApplyPayment adjusts the paid counter by delta. The counter never drops
// below zero and OverpaidAmount is kept at max(0, paid - monthly).
func (e *Employee) ApplyPayment(delta decimal.Decimal, at time.Time) {
	paid := e.SalaryPaidThisMonth.Add(delta)
	if paid.IsNegative() {
		paid = decimal.Zero
	}
	e.SalaryPaidThisMonth = paid
	e.OverpaidAmount = overpaid(paid, e.MonthlySalary)
	if delta.IsPositive() {
		d := at
		e.LastPaymentDate = &d
	}
}

// PeriodOf returns the pay month containing t.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Rollover moves the counters into pay month period, carrying any
// overpayment forward as already paid. It reports false and changes nothing
// when the employee is already in period or a later one.
func (e *Employee) Rollover(period string) bool {
	if e.PayrollPeriod >= period {
		return false
	}
	e.SalaryPaidThisMonth = e.OverpaidAmount
	e.OverpaidAmount = overpaid(e.SalaryPaidThisMonth, e.MonthlySalary)
	e.PayrollPeriod = period
	return true
}

func overpaid(paid, monthly decimal.Decimal) decimal.Decimal {
	if diff := paid.Sub(monthly); diff.IsPositive() {
		return diff
	}
	return decimal.Zero
}

// SalaryStatus is the derived payroll position of an employee.
type SalaryStatus struct {
	Employee  Employee        `json:"employee"`
	Remaining decimal.Decimal `json:"remaining"`
	FullyPaid bool            `json:"fullyPaid"`
}

// Status derives the remaining balance owed this month.
func (e Employee) Status() SalaryStatus {
	remaining := e.MonthlySalary.Sub(e.SalaryPaidThisMonth)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return SalaryStatus{Employee: e, Remaining: remaining, FullyPaid: remaining.IsZero()}
}
