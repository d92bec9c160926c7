package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

var (
	alice   = shared.Principal{UserID: 1, CompanyID: 10}
	mallory = shared.Principal{UserID: 2, CompanyID: 20}
	day     = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
)

type auditSpy struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

func id(v int64) *int64 { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) (*ledger.Service, *ledgertest.Store, *auditSpy) {
	t.Helper()
	store := ledgertest.NewStore()
	audit := &auditSpy{}
	svc := ledger.NewService(store, audit)
	svc.WithNow(func() time.Time { return day })
	return svc, store, audit
}

func seedAccount(store *ledgertest.Store, p shared.Principal, name, currency, balance string) ledger.Account {
	return store.AddAccount(ledger.Account{CompanyID: p.CompanyID, Name: name, Type: ledger.AccountBank, Currency: currency, Balance: dec(balance)})
}

func balance(t *testing.T, store *ledgertest.Store, p shared.Principal, accountID int64) string {
	t.Helper()
	a, err := store.GetAccount(context.Background(), p.CompanyID, accountID)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func TestPostIncomeExpenseScenario(t *testing.T) {
	svc, store, audit := newFixture(t)
	ctx := context.Background()
	acct := seedAccount(store, alice, "Main", "KES", "1000")

	res, err := svc.PostTransaction(ctx, alice, ledger.PostingInput{
		Description: "Cement", Amount: dec("150"), Type: ledger.TypeExpense, TransactionDate: day, AccountID: &acct.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "-150", res.Transaction.Amount.String())
	require.Equal(t, "850.00", res.Accounts[0].Balance.StringFixed(2))
	require.Equal(t, "850.00", balance(t, store, alice, acct.ID))

	_, err = svc.DeleteTransaction(ctx, alice, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, "1000.00", balance(t, store, alice, acct.ID))
	require.Equal(t, 0, store.TransactionCount())
	require.Equal(t, []string{"transaction.post", "transaction.reverse"}, audit.actions)
}

func TestTransferMovesFundsBothWays(t *testing.T) {
	for _, typ := range []ledger.TransactionType{ledger.TypeTransferIn, ledger.TypeTransferOut} {
		t.Run(string(typ), func(t *testing.T) {
			svc, store, _ := newFixture(t)
			ctx := context.Background()
			from := seedAccount(store, alice, "Bank", "KES", "500")
			to := seedAccount(store, alice, "Till", "KES", "20")

			res, err := svc.PostTransaction(ctx, alice, ledger.PostingInput{
				Description: "Float", Amount: dec("200"), Type: typ, TransactionDate: day,
				FromAccountID: &from.ID, ToAccountID: &to.ID,
			})
			require.NoError(t, err)
			require.Len(t, res.Accounts, 2)
			require.Equal(t, "300.00", balance(t, store, alice, from.ID))
			require.Equal(t, "220.00", balance(t, store, alice, to.ID))

			_, err = svc.DeleteTransaction(ctx, alice, res.Transaction.ID)
			require.NoError(t, err)
			require.Equal(t, "500.00", balance(t, store, alice, from.ID))
			require.Equal(t, "20.00", balance(t, store, alice, to.ID))
		})
	}
}

func TestTransferRejectsCurrencyMismatch(t *testing.T) {
	svc, store, _ := newFixture(t)
	from := seedAccount(store, alice, "Bank", "KES", "500")
	to := seedAccount(store, alice, "Dollar", "USD", "0")

	_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
		Description: "FX", Amount: dec("10"), Type: ledger.TypeTransferOut, TransactionDate: day,
		FromAccountID: &from.ID, ToAccountID: &to.ID,
	})
	require.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	require.Equal(t, "500.00", balance(t, store, alice, from.ID))
}

func TestPostingRuleEffects(t *testing.T) {
	cases := []struct {
		typ    ledger.TransactionType
		amount string
		want   string
	}{
		{ledger.TypeIncome, "75.50", "175.50"},
		{ledger.TypeDebtTaken, "75.50", "175.50"},
		{ledger.TypeDebtRepaid, "75.50", "24.50"},
		{ledger.TypeExpense, "75.50", "24.50"},
		{ledger.TypeExpense, "-75.50", "24.50"},
		{ledger.TypeOther, "-75.50", "24.50"},
		{ledger.TypeOther, "75.50", "175.50"},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ)+" "+tc.amount, func(t *testing.T) {
			svc, store, _ := newFixture(t)
			acct := seedAccount(store, alice, "Main", "KES", "100")
			_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
				Description: "x", Amount: dec(tc.amount), Type: tc.typ, TransactionDate: day, AccountID: &acct.ID,
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, balance(t, store, alice, acct.ID))
		})
	}
}

func TestRejectedPostingsLeaveNoTrace(t *testing.T) {
	svc, store, audit := newFixture(t)
	ctx := context.Background()
	acct := seedAccount(store, alice, "Main", "KES", "100")
	foreign := seedAccount(store, mallory, "Theirs", "KES", "100")

	cases := map[string]struct {
		in   ledger.PostingInput
		kind ledger.Kind
	}{
		"zero amount":           {ledger.PostingInput{Description: "x", Amount: decimal.Zero, Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID}, ledger.KindValidation},
		"reflexive transfer":    {ledger.PostingInput{Description: "x", Amount: dec("5"), Type: ledger.TypeTransferIn, TransactionDate: day, FromAccountID: &acct.ID, ToAccountID: &acct.ID}, ledger.KindValidation},
		"missing account":       {ledger.PostingInput{Description: "x", Amount: dec("5"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: id(999)}, ledger.KindNotFound},
		"foreign account":       {ledger.PostingInput{Description: "x", Amount: dec("5"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &foreign.ID}, ledger.KindNotFound},
		"foreign transfer side": {ledger.PostingInput{Description: "x", Amount: dec("5"), Type: ledger.TypeTransferOut, TransactionDate: day, FromAccountID: &acct.ID, ToAccountID: &foreign.ID}, ledger.KindNotFound},
		"unknown project":       {ledger.PostingInput{Description: "x", Amount: dec("5"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID, ProjectID: id(4)}, ledger.KindNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.PostTransaction(ctx, alice, tc.in)
			require.Error(t, err)
			require.Equal(t, tc.kind, ledger.KindOf(err))
			require.Equal(t, "100.00", balance(t, store, alice, acct.ID))
			require.Equal(t, "100.00", balance(t, store, mallory, foreign.ID))
			require.Zero(t, store.TransactionCount())
		})
	}
	require.Empty(t, audit.actions)
}

func TestAssociationsScopedToCompany(t *testing.T) {
	svc, store, _ := newFixture(t)
	acct := seedAccount(store, alice, "Main", "KES", "0")
	store.AddEntity(alice.CompanyID, ledger.EntityCustomer, 3)
	store.AddEntity(mallory.CompanyID, ledger.EntityVendor, 4)

	_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
		Description: "Invoice 12", Amount: dec("40"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID, CustomerID: id(3),
	})
	require.NoError(t, err)

	_, err = svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
		Description: "Bill", Amount: dec("40"), Type: ledger.TypeExpense, TransactionDate: day, AccountID: &acct.ID, VendorID: id(4),
	})
	require.Equal(t, ledger.KindNotFound, ledger.KindOf(err))
	require.Equal(t, "40.00", balance(t, store, alice, acct.ID))
}

func TestStorageFailureRollsBack(t *testing.T) {
	svc, store, _ := newFixture(t)
	acct := seedAccount(store, alice, "Main", "KES", "100")
	store.FailApply = errors.New("disk full")

	_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
		Description: "x", Amount: dec("5"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID,
	})
	require.Equal(t, ledger.KindStorage, ledger.KindOf(err))
	require.Zero(t, store.TransactionCount())
	require.Equal(t, "100.00", balance(t, store, alice, acct.ID))
}

func TestConcurrentPostingsSerialise(t *testing.T) {
	svc, store, _ := newFixture(t)
	acct := seedAccount(store, alice, "Main", "KES", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
				Description: "in", Amount: dec("10"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID,
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.PostTransaction(context.Background(), alice, ledger.PostingInput{
				Description: "out", Amount: dec("4"), Type: ledger.TypeExpense, TransactionDate: day, AccountID: &acct.ID,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, "1300.00", balance(t, store, alice, acct.ID))
	require.Equal(t, 100, store.TransactionCount())
}

func TestDeleteTransactionScopedAndExpenseOwned(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	acct := seedAccount(store, alice, "Main", "KES", "100")
	store.AddEntity(alice.CompanyID, ledger.EntityExpense, 77)

	res, err := svc.PostTransaction(ctx, alice, ledger.PostingInput{
		Description: "Linked", Amount: dec("30"), Type: ledger.TypeExpense, TransactionDate: day, AccountID: &acct.ID, ExpenseID: id(77),
	})
	require.NoError(t, err)

	_, err = svc.DeleteTransaction(ctx, mallory, res.Transaction.ID)
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	_, err = svc.DeleteTransaction(ctx, alice, res.Transaction.ID)
	require.Equal(t, ledger.KindConflict, ledger.KindOf(err))
	require.Equal(t, "70.00", balance(t, store, alice, acct.ID))
}

func TestCreateAccountWithOpeningBalance(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, alice, ledger.CreateAccountInput{Name: " M-Pesa ", Type: "mobile_money", Currency: "kes", OpeningBalance: dec("250")})
	require.NoError(t, err)
	require.Equal(t, "M-Pesa", acct.Name)
	require.Equal(t, ledger.AccountMobileMoney, acct.Type)
	require.Equal(t, "KES", acct.Currency)
	require.Equal(t, "250.00", acct.Balance.StringFixed(2))
	require.Equal(t, 1, store.TransactionCount())

	_, err = svc.CreateAccount(ctx, alice, ledger.CreateAccountInput{Name: "M-Pesa", Type: ledger.AccountCash, Currency: "KES"})
	require.Equal(t, ledger.KindConflict, ledger.KindOf(err))

	_, err = svc.CreateAccount(ctx, mallory, ledger.CreateAccountInput{Name: "M-Pesa", Type: ledger.AccountCash, Currency: "KES"})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, alice.CompanyID)
	require.NoError(t, err)
	require.True(t, report.Balanced())
}

func TestDeleteAccountRequiresNoReferences(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	used, err := svc.CreateAccount(ctx, alice, ledger.CreateAccountInput{Name: "Used", Type: ledger.AccountBank, Currency: "KES", OpeningBalance: dec("1")})
	require.NoError(t, err)
	unused, err := svc.CreateAccount(ctx, alice, ledger.CreateAccountInput{Name: "Unused", Type: ledger.AccountBank, Currency: "KES"})
	require.NoError(t, err)

	require.Equal(t, ledger.KindConflict, ledger.KindOf(svc.DeleteAccount(ctx, alice, used.ID)))
	require.ErrorIs(t, svc.DeleteAccount(ctx, mallory, unused.ID), ledger.ErrAccountNotFound)
	require.NoError(t, svc.DeleteAccount(ctx, alice, unused.ID))

	_, err = store.GetAccount(ctx, alice.CompanyID, unused.ID)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestReconcileDetectsDrift(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	acct, err := svc.CreateAccount(ctx, alice, ledger.CreateAccountInput{Name: "Main", Type: ledger.AccountBank, Currency: "KES", OpeningBalance: dec("100")})
	require.NoError(t, err)
	_, err = svc.PostTransaction(ctx, alice, ledger.PostingInput{Description: "x", Amount: dec("40"), Type: ledger.TypeExpense, TransactionDate: day, AccountID: &acct.ID})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, alice.CompanyID)
	require.NoError(t, err)
	require.True(t, report.Balanced())
	require.Equal(t, 2, report.Transactions)

	store.SetBalance(acct.ID, dec("61"))
	reports, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Drifts, 1)
	require.Equal(t, "1", reports[0].Drifts[0].Drift.String())
	require.Equal(t, "60", reports[0].Drifts[0].Expected.String())
}

func TestSummaryTotalsByCurrency(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	a := seedAccount(store, alice, "A", "KES", "100")
	seedAccount(store, alice, "B", "KES", "50")
	seedAccount(store, alice, "C", "USD", "7")
	seedAccount(store, mallory, "D", "KES", "999")
	_, err := svc.PostTransaction(ctx, alice, ledger.PostingInput{Description: "x", Amount: dec("1"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &a.ID})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, alice.CompanyID)
	require.NoError(t, err)
	require.Len(t, summary.Accounts, 3)
	require.Equal(t, "151", summary.Totals["KES"].String())
	require.Equal(t, "7", summary.Totals["USD"].String())
	require.Equal(t, 1, summary.Transactions)
	require.Len(t, summary.Recent, 1)
}

func TestWritesRequirePrincipal(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.PostTransaction(context.Background(), shared.Principal{}, ledger.PostingInput{})
	require.ErrorIs(t, err, ledger.ErrNoPrincipal)
}

// interleavedRepo runs between after the snapshot's accounts are read and
// before its postings are walked.
type interleavedRepo struct {
	*ledgertest.Store
	between func()
}

type interleavedReader struct {
	ledger.SnapshotReader
	between func()
}

func (r interleavedRepo) Snapshot(ctx context.Context, fn func(context.Context, ledger.SnapshotReader) error) error {
	return r.Store.Snapshot(ctx, func(ctx context.Context, sr ledger.SnapshotReader) error {
		return fn(ctx, interleavedReader{SnapshotReader: sr, between: r.between})
	})
}

func (r interleavedReader) ListAccounts(ctx context.Context, companyID int64) ([]ledger.Account, error) {
	accounts, err := r.SnapshotReader.ListAccounts(ctx, companyID)
	if err == nil && r.between != nil {
		r.between()
	}
	return accounts, err
}

func TestReconcileIgnoresConcurrentPosting(t *testing.T) {
	store := ledgertest.NewStore()
	repo := &interleavedRepo{Store: store}
	svc := ledger.NewService(repo, &auditSpy{})
	svc.WithNow(func() time.Time { return day })
	ctx := context.Background()
	acct := seedAccount(store, alice, "Main", "KES", "0")

	posted := false
	repo.between = func() {
		if posted {
			return
		}
		posted = true
		_, err := svc.PostTransaction(ctx, alice, ledger.PostingInput{
			Description: "Walk-in sale", Amount: dec("25"), Type: ledger.TypeIncome, TransactionDate: day, AccountID: &acct.ID,
		})
		require.NoError(t, err)
	}

	report, err := svc.Reconcile(ctx, alice.CompanyID)
	require.NoError(t, err)
	require.True(t, posted)
	require.True(t, report.Balanced(), "drifts: %+v", report.Drifts)
	require.Zero(t, report.Transactions)
	require.Equal(t, "25.00", balance(t, store, alice, acct.ID))

	report, err = svc.Reconcile(ctx, alice.CompanyID)
	require.NoError(t, err)
	require.True(t, report.Balanced())
	require.Equal(t, 1, report.Transactions)
}

// gatedRepo blocks account loads until gate is closed.
type gatedRepo struct {
	*ledgertest.Store
	gate    chan struct{}
	entered chan struct{}
	once    *sync.Once
}

func (r gatedRepo) ListAccounts(ctx context.Context, companyID int64) ([]ledger.Account, error) {
	r.once.Do(func() { close(r.entered) })
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Store.ListAccounts(ctx, companyID)
}

func TestSummaryCancelledCallerDoesNotFailOthers(t *testing.T) {
	store := ledgertest.NewStore()
	seedAccount(store, alice, "Main", "KES", "75")
	repo := gatedRepo{Store: store, gate: make(chan struct{}), entered: make(chan struct{}), once: &sync.Once{}}
	svc := ledger.NewService(repo, &auditSpy{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Summary(first, alice.CompanyID)
		firstErr <- err
	}()
	<-repo.entered

	type result struct {
		summary ledger.Summary
		err     error
	}
	second := make(chan result, 1)
	go func() {
		s, err := svc.Summary(context.Background(), alice.CompanyID)
		second <- result{s, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "75", res.summary.Totals["KES"].String())
}
