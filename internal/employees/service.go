package employees

import (
	"context"
	"log/slog"
	"time"
)

// Service exposes employee payroll state.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock used to pick the current pay month.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one employee with derived salary status.
func (s *Service) Get(ctx context.Context, companyID, id int64) (SalaryStatus, error) {
	e, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return SalaryStatus{}, err
	}
	return e.Status(), nil
}

// List returns the company's employees.
func (s *Service) List(ctx context.Context, companyID int64) ([]SalaryStatus, error) {
	list, err := s.repo.List(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]SalaryStatus, 0, len(list))
	for _, e := range list {
		out = append(out, e.Status())
	}
	return out, nil
}

// RolloverPayroll starts the current pay month for one company or all of
// them. Employees already in the current month are skipped, so a retried or
// duplicated run moves nobody twice.
func (s *Service) RolloverPayroll(ctx context.Context, companyID *int64) (int64, error) {
	period := PeriodOf(s.now())
	n, err := s.repo.Rollover(ctx, companyID, period)
	if err != nil {
		return 0, err
	}
	s.logger.Info("payroll rolled over", slog.String("period", period), slog.Int64("employees", n))
	return n, nil
}
