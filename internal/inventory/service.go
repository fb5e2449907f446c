package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListParts(ctx context.Context, filter PartFilter) ([]Part, int, error)
	GetPart(ctx context.Context, id int64) (Part, error)
	ListMovements(ctx context.Context, partID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockNotifier is told when a movement leaves a part at or below its
// minimum stock.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, part Part) error
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier LowStockNotifier
	now      func() time.Time
}

// NewService builds Service. audit and notifier may be nil.
func NewService(repo RepositoryPort, audit AuditPort, notifier LowStockNotifier) *Service {
	return &Service{repo: repo, audit: audit, notifier: notifier, now: time.Now}
}

// ListParts lists parts.
func (s *Service) ListParts(ctx context.Context, filter PartFilter) ([]Part, int, error) {
	return s.repo.ListParts(ctx, filter)
}

// GetPart returns one part.
func (s *Service) GetPart(ctx context.Context, id int64) (Part, error) {
	return s.repo.GetPart(ctx, id)
}

// Movements returns the stock card of a part.
func (s *Service) Movements(ctx context.Context, partID int64) ([]Movement, error) {
	return s.repo.ListMovements(ctx, partID, 100)
}

// Adjust posts a manual stock correction or reception.
func (s *Service) Adjust(ctx context.Context, in MovementInput) (Movement, error) {
	if in.Type == "" {
		in.Type = MovementAdjust
	}
	var (
		mv   Movement
		part Part
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, part, err = PostMovement(ctx, tx, in, s.now().UTC())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   fmt.Sprintf("inventory:%s", in.Type),
			Entity:   "part",
			EntityID: in.PartID,
			Meta:     map[string]any{"qty": in.Qty, "balance": mv.Balance, "note": in.Note},
		})
	}
	if in.Qty < 0 {
		s.NotifyIfLow(ctx, part)
	}
	return mv, nil
}

// NotifyIfLow hands part to the notifier when it is at or below minimum.
func (s *Service) NotifyIfLow(ctx context.Context, part Part) {
	if s.notifier == nil || !part.LowStock() {
		return
	}
	_ = s.notifier.NotifyLowStock(ctx, part)
}

// PostMovement applies in to the locked part row and appends the stock card
// entry. It returns the part with its new stock.
func PostMovement(ctx context.Context, tx TxRepository, in MovementInput, at time.Time) (Movement, Part, error) {
	if in.PartID == 0 {
		return Movement{}, Part{}, errors.New("inventory: part required")
	}
	if in.Qty == 0 {
		return Movement{}, Part{}, ErrInvalidQuantity
	}
	part, err := tx.GetPartForUpdate(ctx, in.PartID)
	if err != nil {
		return Movement{}, Part{}, err
	}
	balance := part.Stock + in.Qty
	if balance < 0 {
		return Movement{}, Part{}, fmt.Errorf("%w: part %s has %d, requested %d", ErrNegativeStock, part.Code, part.Stock, -in.Qty)
	}
	if err := tx.SetStock(ctx, part.ID, balance); err != nil {
		return Movement{}, Part{}, err
	}
	mv := Movement{
		PartID:    part.ID,
		Type:      in.Type,
		Qty:       in.Qty,
		Balance:   balance,
		RefModule: in.RefModule,
		RefID:     in.RefID,
		Note:      in.Note,
		ActorID:   in.ActorID,
		PostedAt:  at,
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, Part{}, err
	}
	mv.ID = id
	part.Stock = balance
	return mv, part, nil
}
