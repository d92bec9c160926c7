package shared

// Ledger permissions checked by the RBAC middleware.
const (
	PermLedgerView     = "ledger.view"
	PermLedgerPost     = "ledger.post"
	PermAccountsManage = "ledger.accounts.manage"

	PermExpensesView    = "expenses.view"
	PermExpensesCreate  = "expenses.create"
	PermExpensesApprove = "expenses.approve"

	PermEmployeesView = "employees.view"
)

// LedgerScopes lists every permission known to the service.
func LedgerScopes() []string {
	return []string{
		PermLedgerView,
		PermLedgerPost,
		PermAccountsManage,
		PermExpensesView,
		PermExpensesCreate,
		PermExpensesApprove,
		PermEmployeesView,
	}
}
