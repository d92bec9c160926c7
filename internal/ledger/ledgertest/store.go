// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizledger/internal/ledger"
)

type entityKey struct {
	company int64
	kind    ledger.EntityKind
	id      int64
}

type state struct {
	accounts     map[int64]ledger.Account
	transactions map[int64]ledger.Transaction
	entities     map[entityKey]struct{}
	nextAccount  int64
	nextTx       int64
}

func (s state) clone() state {
	c := state{
		accounts:     make(map[int64]ledger.Account, len(s.accounts)),
		transactions: make(map[int64]ledger.Transaction, len(s.transactions)),
		entities:     make(map[entityKey]struct{}, len(s.entities)),
		nextAccount:  s.nextAccount,
		nextTx:       s.nextTx,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k := range s.entities {
		c.entities[k] = struct{}{}
	}
	return c
}

// Store implements ledger.Repository. WithTx runs serially and rolls back
// every change when fn fails.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time

	// FailApply, when set, is returned by every ApplyBalanceDelta call.
	FailApply error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		st: state{
			accounts:     map[int64]ledger.Account{},
			transactions: map[int64]ledger.Transaction{},
			entities:     map[entityKey]struct{}{},
		},
		now: time.Now,
	}
}

// AddAccount inserts an account directly, bypassing postings.
func (s *Store) AddAccount(a ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextAccount++
	a.ID = s.st.nextAccount
	a.CreatedAt, a.UpdatedAt = s.now(), s.now()
	s.st.accounts[a.ID] = a
	return a
}

// AddEntity registers a referential target such as a project or vendor.
func (s *Store) AddEntity(companyID int64, kind ledger.EntityKind, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.entities[entityKey{companyID, kind, id}] = struct{}{}
}

// SetBalance overwrites a balance without a posting, simulating drift.
func (s *Store) SetBalance(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.st.accounts[id]
	a.Balance = balance
	s.st.accounts[id] = a
}

// TransactionCount returns the number of stored transactions.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.transactions)
}

// Atomic runs fn under the store lock and restores the ledger state when
// fn fails. Callers layering their own state use it to share one unit of work.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&Tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.Atomic(func(tx *Tx) error {
		return fn(ctx, tx)
	})
}

// Snapshot hands fn a frozen copy of the store; writes made while fn runs
// are not visible through it.
func (s *Store) Snapshot(ctx context.Context, fn func(context.Context, ledger.SnapshotReader) error) error {
	s.mu.Lock()
	view := &Store{st: s.st.clone(), now: s.now}
	s.mu.Unlock()
	return fn(ctx, view)
}

func (s *Store) GetAccount(_ context.Context, companyID, id int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[id]
	if !ok || a.CompanyID != companyID {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context, companyID int64) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Account
	for _, a := range s.st.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, companyID, id int64) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[id]
	if !ok || t.CompanyID != companyID {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []ledger.Transaction
	for _, t := range s.st.transactions {
		if t.CompanyID != f.CompanyID {
			continue
		}
		if f.AccountID != nil && !touches(t, *f.AccountID) {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.From != nil && t.TransactionDate.Before(*f.From) {
			continue
		}
		if f.To != nil && t.TransactionDate.After(*f.To) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TransactionDate.Equal(matched[j].TransactionDate) {
			return matched[i].TransactionDate.After(matched[j].TransactionDate)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func touches(t ledger.Transaction, accountID int64) bool {
	for _, id := range t.AccountIDs() {
		if id == accountID {
			return true
		}
	}
	return false
}

func (s *Store) ForEachTransaction(_ context.Context, companyID int64, fn func(ledger.Transaction) error) error {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.st.transactions))
	for id, t := range s.st.transactions {
		if t.CompanyID == companyID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	txs := make([]ledger.Transaction, len(ids))
	for i, id := range ids {
		txs[i] = s.st.transactions[id]
	}
	s.mu.Unlock()
	for _, t := range txs {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListCompanyIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	var ids []int64
	for _, a := range s.st.accounts {
		if _, ok := seen[a.CompanyID]; !ok {
			seen[a.CompanyID] = struct{}{}
			ids = append(ids, a.CompanyID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Tx implements ledger.TxRepository while the store lock is held.
type Tx struct {
	s *Store
}

func (t *Tx) LockAccounts(_ context.Context, companyID int64, ids []int64) (map[int64]ledger.Account, error) {
	out := make(map[int64]ledger.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.s.st.accounts[id]; ok && a.CompanyID == companyID {
			out[id] = a
		}
	}
	return out, nil
}

func (t *Tx) EntityExists(_ context.Context, companyID int64, kind ledger.EntityKind, id int64) (bool, error) {
	_, ok := t.s.st.entities[entityKey{companyID, kind, id}]
	return ok, nil
}

func (t *Tx) InsertTransaction(_ context.Context, tr ledger.Transaction) (ledger.Transaction, error) {
	t.s.st.nextTx++
	tr.ID = t.s.st.nextTx
	tr.CreatedAt, tr.UpdatedAt = t.s.now(), t.s.now()
	t.s.st.transactions[tr.ID] = tr
	return tr, nil
}

func (t *Tx) GetTransactionForUpdate(_ context.Context, companyID, id int64) (ledger.Transaction, error) {
	tr, ok := t.s.st.transactions[id]
	if !ok || tr.CompanyID != companyID {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tr, nil
}

func (t *Tx) GetTransactionByExpenseForUpdate(_ context.Context, companyID, expenseID int64) (ledger.Transaction, error) {
	for _, tr := range t.s.st.transactions {
		if tr.CompanyID == companyID && tr.ExpenseID != nil && *tr.ExpenseID == expenseID {
			return tr, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

func (t *Tx) DeleteTransaction(_ context.Context, companyID, id int64) error {
	tr, ok := t.s.st.transactions[id]
	if !ok || tr.CompanyID != companyID {
		return ledger.ErrTransactionNotFound
	}
	delete(t.s.st.transactions, id)
	return nil
}

func (t *Tx) ApplyBalanceDelta(_ context.Context, companyID, accountID int64, delta decimal.Decimal) (ledger.Account, error) {
	if t.s.FailApply != nil {
		return ledger.Account{}, t.s.FailApply
	}
	a, ok := t.s.st.accounts[accountID]
	if !ok || a.CompanyID != companyID {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = t.s.now()
	t.s.st.accounts[accountID] = a
	return a, nil
}

func (t *Tx) InsertAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	for _, existing := range t.s.st.accounts {
		if existing.CompanyID == a.CompanyID && existing.Name == a.Name {
			return ledger.Account{}, ledger.ErrDuplicateAccount
		}
	}
	t.s.st.nextAccount++
	a.ID = t.s.st.nextAccount
	a.Balance = decimal.Zero
	a.CreatedAt, a.UpdatedAt = t.s.now(), t.s.now()
	t.s.st.accounts[a.ID] = a
	return a, nil
}

func (t *Tx) CountAccountReferences(_ context.Context, companyID, accountID int64) (int, error) {
	n := 0
	for _, tr := range t.s.st.transactions {
		if tr.CompanyID == companyID && touches(tr, accountID) {
			n++
		}
	}
	return n, nil
}

func (t *Tx) DeleteAccount(_ context.Context, companyID, accountID int64) error {
	a, ok := t.s.st.accounts[accountID]
	if !ok || a.CompanyID != companyID {
		return ledger.ErrAccountNotFound
	}
	delete(t.s.st.accounts, accountID)
	return nil
}

var (
	_ ledger.Repository   = (*Store)(nil)
	_ ledger.TxRepository = (*Tx)(nil)
)
