package expenses

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/bizledger/internal/employees"
	"github.com/odyssey-erp/bizledger/internal/ledger"
	"github.com/odyssey-erp/bizledger/internal/shared"
)

// approvalModule tags approval history rows written by this package.
const approvalModule = "expenses"

// ApprovalPort reads approval history. Entries are written inside the
// approval's own transaction through TxRepository.RecordApproval.
type ApprovalPort interface {
	List(ctx context.Context, companyID int64, module string, ref int64) ([]shared.ApprovalLog, error)
}

// Service manages expenses on top of the ledger engine.
type Service struct {
	repo      Repository
	ledger    *ledger.Service
	audit     ledger.AuditPort
	approvals ApprovalPort
	validate  *validator.Validate
	now       func() time.Time
}

// NewService wires the service. approvals may be nil.
func NewService(repo Repository, engine *ledger.Service, audit ledger.AuditPort, approvals ApprovalPort) *Service {
	return &Service{
		repo:      repo,
		ledger:    engine,
		audit:     audit,
		approvals: approvals,
		validate:  engine.Validator(),
		now:       time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) normalize(in CreateInput) (Expense, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return Expense{}, ledger.Validation("%s", describe(err))
	}
	category, ok := ParseCategory(in.Category)
	if !ok {
		return Expense{}, ledger.Validation("unknown expense category %q", in.Category)
	}
	if !in.Amount.IsPositive() {
		return Expense{}, ledger.Validation("amount must be positive")
	}
	if in.Note != nil && strings.TrimSpace(*in.Note) == "" {
		in.Note = nil
	}
	return Expense{
		Description: in.Description,
		Amount:      in.Amount,
		Category:    category,
		SubCategory: strings.TrimSpace(in.SubCategory),
		AccountID:   in.AccountID,
		ExpenseDate: in.ExpenseDate,
		Approved:    in.Approved,
		ProjectID:   in.ProjectID,
		EmployeeID:  in.EmployeeID,
		CustomerID:  in.CustomerID,
		VendorID:    in.VendorID,
		Note:        in.Note,
	}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gt":
			msgs = append(msgs, fe.Field()+" must be a positive id")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// CreateExpense stores the expense, posts its EXPENSE transaction and, for
// salary payments or approved advances, credits the employee's counter. All
// writes commit together.
func (s *Service) CreateExpense(ctx context.Context, p shared.Principal, in CreateInput) (Expense, error) {
	if !p.Valid() {
		return Expense{}, ledger.ErrNoPrincipal
	}
	draft, err := s.normalize(in)
	if err != nil {
		return Expense{}, err
	}
	draft.CompanyID = p.CompanyID
	draft.CreatedBy = p.UserID

	var (
		created Expense
		posted  ledger.Transaction
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.InsertExpense(ctx, draft)
		if err != nil {
			return err
		}
		accountID := e.AccountID
		expenseID := e.ID
		res, err := s.ledger.PostInTx(ctx, tx, p, ledger.PostingInput{
			Description:     e.Description,
			Amount:          e.Amount,
			Type:            ledger.TypeExpense,
			TransactionDate: e.ExpenseDate,
			Note:            e.Note,
			AccountID:       &accountID,
			ProjectID:       e.ProjectID,
			ExpenseID:       &expenseID,
			CustomerID:      e.CustomerID,
			VendorID:        e.VendorID,
			EmployeeID:      e.EmployeeID,
		})
		if err != nil {
			return err
		}
		posted = res.Transaction
		e.TransactionID = &posted.ID
		if e.IsSalary() || (e.Approved && e.PaysEmployee()) {
			if err := s.applySalary(ctx, tx, &e); err != nil {
				return err
			}
		}
		created = e
		return nil
	})
	if err != nil {
		return Expense{}, ledger.Storage("create expense", err)
	}
	s.ledger.Posted(ctx, p, posted)
	s.record(ctx, p, "expense.create", created.ID, map[string]any{
		"amount":   created.Amount.String(),
		"category": string(created.Category),
	})
	return created, nil
}

// applySalary credits the expense amount to its employee once.
func (s *Service) applySalary(ctx context.Context, tx TxRepository, e *Expense) error {
	if e.EmployeeID == nil || e.SalaryApplied {
		return nil
	}
	if _, err := tx.AdjustSalaryPaid(ctx, e.CompanyID, *e.EmployeeID, e.Amount, s.now()); err != nil {
		if errors.Is(err, employees.ErrEmployeeNotFound) {
			return ledger.NotFound("employee %d not found", *e.EmployeeID)
		}
		return err
	}
	if err := tx.SetSalaryApplied(ctx, e.CompanyID, e.ID, true); err != nil {
		return err
	}
	e.SalaryApplied = true
	return nil
}

// DeleteExpense reverses the linked transaction, withdraws any salary
// credit and removes the expense, atomically.
func (s *Service) DeleteExpense(ctx context.Context, p shared.Principal, id int64) error {
	if !p.Valid() {
		return ledger.ErrNoPrincipal
	}
	var (
		reversed *ledger.Transaction
		deleted  Expense
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetExpenseForUpdate(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		t, err := tx.GetTransactionByExpenseForUpdate(ctx, p.CompanyID, e.ID)
		switch {
		case err == nil:
			if _, err := s.ledger.ReverseInTx(ctx, tx, t); err != nil {
				return err
			}
			reversed = &t
		case errors.Is(err, ledger.ErrTransactionNotFound):
		default:
			return err
		}
		if e.SalaryApplied && e.EmployeeID != nil {
			if _, err := tx.AdjustSalaryPaid(ctx, e.CompanyID, *e.EmployeeID, e.Amount.Neg(), s.now()); err != nil && !errors.Is(err, employees.ErrEmployeeNotFound) {
				return err
			}
		}
		deleted = e
		return tx.DeleteExpense(ctx, p.CompanyID, e.ID)
	})
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			return err
		}
		return ledger.Storage("delete expense", err)
	}
	if reversed != nil {
		s.ledger.Reversed(ctx, p, *reversed)
	}
	s.record(ctx, p, "expense.delete", deleted.ID, map[string]any{"amount": deleted.Amount.String()})
	return nil
}

// ApproveExpense sets the approval flag. Approving a salary or advance
// payment credits the employee at most once over the expense's lifetime.
func (s *Service) ApproveExpense(ctx context.Context, p shared.Principal, id int64, in ApproveInput) (Expense, error) {
	if !p.Valid() {
		return Expense{}, ledger.ErrNoPrincipal
	}
	var (
		updated Expense
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetExpenseForUpdate(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		if e.Approved != in.Approved {
			if err := tx.SetApproved(ctx, p.CompanyID, e.ID, in.Approved); err != nil {
				return err
			}
			action := shared.ApprovalApprove
			if !in.Approved {
				action = shared.ApprovalRevoke
			}
			err := tx.RecordApproval(ctx, shared.ApprovalLog{
				CompanyID: p.CompanyID,
				Module:    approvalModule,
				RefID:     e.ID,
				ActorID:   p.UserID,
				Action:    action,
				Note:      strings.TrimSpace(in.Note),
				At:        s.now(),
			})
			if err != nil {
				return fmt.Errorf("record approval: %w", err)
			}
			e.Approved = in.Approved
			changed = true
		}
		if in.Approved && e.PaysEmployee() {
			if err := s.applySalary(ctx, tx, &e); err != nil {
				return err
			}
		}
		updated = e
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrExpenseNotFound) {
			return Expense{}, err
		}
		return Expense{}, ledger.Storage("approve expense", err)
	}
	if changed {
		verb := "expense.approve"
		if !in.Approved {
			verb = "expense.unapprove"
		}
		s.record(ctx, p, verb, updated.ID, map[string]any{"salary_applied": updated.SalaryApplied})
	}
	return updated, nil
}

// Approvals returns the approval history of an expense.
func (s *Service) Approvals(ctx context.Context, companyID, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, companyID, approvalModule, id)
}

// GetExpense returns one expense of the company.
func (s *Service) GetExpense(ctx context.Context, companyID, id int64) (Expense, error) {
	return s.repo.Get(ctx, companyID, id)
}

// ListExpenses returns a filtered page and the total match count.
func (s *Service) ListExpenses(ctx context.Context, filter ListFilter) ([]Expense, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, p shared.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: p.CompanyID,
		ActorID:   p.UserID,
		Action:    action,
		Entity:    "expense",
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
		At:        s.now(),
	})
}
