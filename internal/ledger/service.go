package ledger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/bizledger/internal/platform/httpx"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// recentLimit bounds the transactions returned with a Summary.
const recentLimit = 10

// ErrNoPrincipal is returned when a write is attempted without a tenant scope.
var ErrNoPrincipal = fmt.Errorf("%w: ledger operations require an authenticated company", httpx.ErrUnauthorized)

// AuditPort records committed ledger mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives posting events for metrics.
type Observer interface {
	ObservePosting(t TransactionType)
	ObserveReversal(t TransactionType)
}

// Service is the ledger posting engine.
type Service struct {
	repo     Repository
	audit    AuditPort
	observer Observer
	validate *validator.Validate
	now      func() time.Time
	summary  singleflight.Group
}

// NewService wires the engine.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, validate: NewValidator(), now: time.Now}
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver attaches a metrics observer.
func (s *Service) WithObserver(o Observer) {
	s.observer = o
}

// Validator exposes the shared validator so embedding services agree on messages.
func (s *Service) Validator() *validator.Validate {
	return s.validate
}

// PostTransaction validates and persists a transaction and applies its balance
// effect atomically.
func (s *Service) PostTransaction(ctx context.Context, p shared.Principal, in PostingInput) (PostingResult, error) {
	if !p.Valid() {
		return PostingResult{}, ErrNoPrincipal
	}
	var result PostingResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.PostInTx(ctx, tx, p, in)
		return err
	})
	if err != nil {
		return PostingResult{}, Storage("post transaction", err)
	}
	s.Posted(ctx, p, result.Transaction)
	return result, nil
}

// PostInTx performs the posting inside a caller-owned transaction. Callers
// must report the outcome via Posted after commit.
func (s *Service) PostInTx(ctx context.Context, tx TxRepository, p shared.Principal, in PostingInput) (PostingResult, error) {
	in.normalize()
	if err := validatePosting(s.validate, in); err != nil {
		return PostingResult{}, err
	}

	t := Transaction{
		CompanyID:       p.CompanyID,
		Description:     in.Description,
		Amount:          storedAmount(in.Type, in.Amount),
		Type:            in.Type,
		TransactionDate: in.TransactionDate,
		Note:            in.Note,
		AccountID:       in.AccountID,
		FromAccountID:   in.FromAccountID,
		ToAccountID:     in.ToAccountID,
		ProjectID:       in.ProjectID,
		ExpenseID:       in.ExpenseID,
		CustomerID:      in.CustomerID,
		VendorID:        in.VendorID,
		EmployeeID:      in.EmployeeID,
		UserID:          p.UserID,
	}

	ids := t.AccountIDs()
	locked, err := tx.LockAccounts(ctx, p.CompanyID, ids)
	if err != nil {
		return PostingResult{}, err
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return PostingResult{}, NotFound("account %d not found", id)
		}
	}
	if t.Type.IsTransfer() {
		from, to := locked[*t.FromAccountID], locked[*t.ToAccountID]
		if from.Currency != to.Currency {
			return PostingResult{}, Validation("cannot transfer between %s and %s accounts", from.Currency, to.Currency)
		}
	}
	for _, ref := range in.associations() {
		ok, err := tx.EntityExists(ctx, p.CompanyID, ref.Kind, ref.ID)
		if err != nil {
			return PostingResult{}, err
		}
		if !ok {
			return PostingResult{}, NotFound("%s %d not found", ref.Kind, ref.ID)
		}
	}

	inserted, err := tx.InsertTransaction(ctx, t)
	if err != nil {
		return PostingResult{}, err
	}
	deltas, err := Deltas(inserted)
	if err != nil {
		return PostingResult{}, err
	}
	accounts, err := applyDeltas(ctx, tx, p.CompanyID, deltas)
	if err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Transaction: inserted, Accounts: accounts}, nil
}

// ReverseInTx undoes t's balance effect and deletes it inside a
// caller-owned transaction. Callers must report via Reversed after commit.
func (s *Service) ReverseInTx(ctx context.Context, tx TxRepository, t Transaction) ([]Account, error) {
	deltas, err := Deltas(t)
	if err != nil {
		return nil, err
	}
	ids := t.AccountIDs()
	locked, err := tx.LockAccounts(ctx, t.CompanyID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, NotFound("account %d not found", id)
		}
	}
	accounts, err := applyDeltas(ctx, tx, t.CompanyID, Inverse(deltas))
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteTransaction(ctx, t.CompanyID, t.ID); err != nil {
		return nil, err
	}
	return accounts, nil
}

func applyDeltas(ctx context.Context, tx TxRepository, companyID int64, deltas []Delta) ([]Account, error) {
	accounts := make([]Account, 0, len(deltas))
	for _, d := range deltas {
		updated, err := tx.ApplyBalanceDelta(ctx, companyID, d.AccountID, d.Amount)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, NotFound("account %d not found", d.AccountID)
			}
			return nil, err
		}
		accounts = append(accounts, updated)
	}
	return accounts, nil
}

// DeleteTransaction reverses and removes a transaction. Expense-owned
// transactions must be removed through their expense.
func (s *Service) DeleteTransaction(ctx context.Context, p shared.Principal, id int64) ([]Account, error) {
	if !p.Valid() {
		return nil, ErrNoPrincipal
	}
	var (
		reversed Transaction
		accounts []Account
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetTransactionForUpdate(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if t.ExpenseID != nil {
			return Conflict("transaction %d belongs to expense %d; delete the expense instead", t.ID, *t.ExpenseID)
		}
		accounts, err = s.ReverseInTx(ctx, tx, t)
		reversed = t
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		return nil, Storage("delete transaction", err)
	}
	s.Reversed(ctx, p, reversed)
	return accounts, nil
}

// Posted records audit and metrics for a committed posting.
func (s *Service) Posted(ctx context.Context, p shared.Principal, t Transaction) {
	if s.observer != nil {
		s.observer.ObservePosting(t.Type)
	}
	s.record(ctx, p, "transaction.post", "transaction", t.ID, map[string]any{
		"type":   string(t.Type),
		"amount": t.Amount.String(),
	})
}

// Reversed records audit and metrics for a committed reversal.
func (s *Service) Reversed(ctx context.Context, p shared.Principal, t Transaction) {
	if s.observer != nil {
		s.observer.ObserveReversal(t.Type)
	}
	s.record(ctx, p, "transaction.reverse", "transaction", t.ID, map[string]any{
		"type":   string(t.Type),
		"amount": t.Amount.String(),
	})
}

func (s *Service) record(ctx context.Context, p shared.Principal, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: p.CompanyID,
		ActorID:   p.UserID,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
		At:        s.now(),
	})
}

// CreateAccount inserts an account. A nonzero opening balance is posted as an
// OTHER transaction so the balance always equals the sum of postings.
func (s *Service) CreateAccount(ctx context.Context, p shared.Principal, in CreateAccountInput) (Account, error) {
	if !p.Valid() {
		return Account{}, ErrNoPrincipal
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Type = AccountType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if err := validateAccountInput(s.validate, in); err != nil {
		return Account{}, err
	}

	var (
		account Account
		opening *Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertAccount(ctx, Account{
			CompanyID: p.CompanyID,
			Name:      in.Name,
			Type:      in.Type,
			Currency:  in.Currency,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateAccount) {
				return Conflict("account %q already exists", in.Name)
			}
			return err
		}
		account = created
		if in.OpeningBalance.IsZero() {
			return nil
		}
		id := created.ID
		res, err := s.PostInTx(ctx, tx, p, PostingInput{
			Description:     "Opening balance",
			Amount:          in.OpeningBalance,
			Type:            TypeOther,
			TransactionDate: s.now().UTC().Truncate(24 * time.Hour),
			AccountID:       &id,
		})
		if err != nil {
			return err
		}
		account = res.Accounts[0]
		opening = &res.Transaction
		return nil
	})
	if err != nil {
		return Account{}, Storage("create account", err)
	}
	s.record(ctx, p, "account.create", "account", account.ID, map[string]any{
		"name":     account.Name,
		"currency": account.Currency,
	})
	if opening != nil {
		s.Posted(ctx, p, *opening)
	}
	return account, nil
}

// DeleteAccount removes an account that no transaction references.
func (s *Service) DeleteAccount(ctx context.Context, p shared.Principal, id int64) error {
	if !p.Valid() {
		return ErrNoPrincipal
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockAccounts(ctx, p.CompanyID, []int64{id})
		if err != nil {
			return err
		}
		if _, ok := locked[id]; !ok {
			return ErrAccountNotFound
		}
		refs, err := tx.CountAccountReferences(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return Conflict("account %d is referenced by %d transactions", id, refs)
		}
		return tx.DeleteAccount(ctx, p.CompanyID, id)
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return Storage("delete account", err)
	}
	s.record(ctx, p, "account.delete", "account", id, nil)
	return nil
}

// GetAccount returns one account of the company.
func (s *Service) GetAccount(ctx context.Context, companyID, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, companyID, id)
}

// ListAccounts returns every account of the company ordered by name.
func (s *Service) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, companyID)
}

// GetTransaction returns one transaction of the company.
func (s *Service) GetTransaction(ctx context.Context, companyID, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, companyID, id)
}

// ListTransactions returns a filtered page and the total match count.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, Validation("date range is inverted")
	}
	return s.repo.ListTransactions(ctx, filter)
}

// Reconcile recomputes every balance of the company from its postings.
// Balances and postings come from one snapshot, so a posting committed
// mid-run cannot show up as drift.
func (s *Service) Reconcile(ctx context.Context, companyID int64) (ReconcileReport, error) {
	report := ReconcileReport{CompanyID: companyID}
	err := s.repo.Snapshot(ctx, func(ctx context.Context, r SnapshotReader) error {
		accounts, err := r.ListAccounts(ctx, companyID)
		if err != nil {
			return err
		}
		expected := make(map[int64]decimal.Decimal, len(accounts))
		for _, a := range accounts {
			expected[a.ID] = decimal.Zero
		}
		report = ReconcileReport{CompanyID: companyID, Accounts: len(accounts)}
		err = r.ForEachTransaction(ctx, companyID, func(t Transaction) error {
			deltas, err := Deltas(t)
			if err != nil {
				return err
			}
			for _, d := range deltas {
				expected[d.AccountID] = expected[d.AccountID].Add(d.Amount)
			}
			report.Transactions++
			return nil
		})
		if err != nil {
			return err
		}
		for _, a := range accounts {
			want := expected[a.ID]
			if !a.Balance.Equal(want) {
				report.Drifts = append(report.Drifts, AccountDrift{
					AccountID: a.ID,
					Name:      a.Name,
					Balance:   a.Balance,
					Expected:  want,
					Drift:     a.Balance.Sub(want),
				})
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	report.CheckedAt = s.now()
	return report, nil
}

// ReconcileAll reconciles every company. It stops at the first storage error.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	ids, err := s.repo.ListCompanyIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]ReconcileReport, 0, len(ids))
	for _, id := range ids {
		report, err := s.Reconcile(ctx, id)
		if err != nil {
			return reports, fmt.Errorf("reconcile company %d: %w", id, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Summary loads balances and recent activity concurrently. Concurrent calls
// for one company share a single load. The load is detached from any one
// caller's cancellation; each caller stops waiting when its own ctx ends.
func (s *Service) Summary(ctx context.Context, companyID int64) (Summary, error) {
	load := context.WithoutCancel(ctx)
	ch := s.summary.DoChan(strconv.FormatInt(companyID, 10), func() (any, error) {
		return s.loadSummary(load, companyID)
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

func (s *Service) loadSummary(ctx context.Context, companyID int64) (Summary, error) {
	var (
		accounts []Account
		recent   []Transaction
		total    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.repo.ListAccounts(gctx, companyID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, total, err = s.repo.ListTransactions(gctx, TransactionFilter{CompanyID: companyID, Limit: recentLimit})
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, a := range accounts {
		totals[a.Currency] = totals[a.Currency].Add(a.Balance)
	}
	return Summary{Totals: totals, Accounts: accounts, Recent: recent, Transactions: total}, nil
}
