package audit

import (
	"context"
	"fmt"
	"time"
)

// Repository provides the audit_logs queries the service needs.
type Repository interface {
	Window(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error)
	All(ctx context.Context, f TimelineFilters, limit int) ([]TimelineRow, error)
}

// Service serves the activity log.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Normalize fills in the default window and checks the bounds. To is
// exclusive.
func (s *Service) Normalize(f TimelineFilters) (TimelineFilters, error) {
	if f.To.IsZero() {
		f.To = s.now()
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-DefaultWindow)
	}
	if !f.From.Before(f.To) {
		return f, fmt.Errorf("%w: la fecha inicial debe ser anterior a la final", ErrInvalidFilter)
	}
	if f.To.Sub(f.From) > MaxWindow {
		return f, fmt.Errorf("%w: el periodo no puede superar 90 días", ErrInvalidFilter)
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f, nil
}

// Timeline returns one page of the log. It asks for one extra row to learn
// whether a next page exists without counting.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	f, err := s.Normalize(filters)
	if err != nil {
		return Result{}, err
	}
	rows, err := s.repo.Window(ctx, f, (f.Page-1)*f.PageSize, f.PageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > f.PageSize
	if hasNext {
		rows = rows[:f.PageSize]
	}
	paging := PagingInfo{Page: f.Page, PageSize: f.PageSize, HasNext: hasNext}
	if f.Page > 1 {
		paging.PrevPage = f.Page - 1
	}
	if hasNext {
		paging.NextPage = f.Page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every row of the window, capped at MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	f, err := s.Normalize(filters)
	if err != nil {
		return nil, err
	}
	return s.repo.All(ctx, f, MaxExportRows)
}
