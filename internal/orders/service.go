package orders

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/inventory"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
	Get(ctx context.Context, id int64) (Order, error)
	History(ctx context.Context, id int64) ([]shared.ApprovalLog, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker serializes decisions on the same order across instances.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Notifier informs requesters and storekeepers about decisions.
type Notifier interface {
	inventory.LowStockNotifier
	NotifyOrderDecided(ctx context.Context, orderID, requesterID int64, status string) error
}

// ViewRule lets approvers see every order and technicians their own.
var ViewRule = authz.ObjectRule[Order]{
	Resource: "pedidos",
	Action:   "ver",
	Predicate: func(p authz.Principal, o Order) bool {
		return p.Can(shared.PermOrdersApprove) || o.TechnicianID == p.ID
	},
	ConcealDenials: true,
}

// ValidateRules checks the order rules against c.
func ValidateRules(c *authz.Catalog) error {
	if err := ViewRule.Validate(c); err != nil {
		return fmt.Errorf("orders: %w", err)
	}
	return nil
}

// Service coordinates part orders.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	locker   Locker
	notifier Notifier
	now      func() time.Time
}

// NewService builds Service. audit, locker and notifier may be nil.
func NewService(repo RepositoryPort, audit AuditPort, locker Locker, notifier Notifier) *Service {
	return &Service{repo: repo, audit: audit, locker: locker, notifier: notifier, now: time.Now}
}

// Loader exposes the order lookup to object rules.
func (s *Service) Loader() authz.Loader[Order] {
	return s.repo.Get
}

// List returns orders visible to actor. Without aprobar_pedidos only the
// actor's own orders are listed.
func (s *Service) List(ctx context.Context, actor authz.Principal, filter ListFilter) ([]Order, int, error) {
	if !actor.Authenticated() {
		return nil, 0, authz.ErrNotAuthenticated
	}
	if !actor.Can(shared.PermOrdersApprove) {
		filter.TechnicianID = actor.ID
	}
	return s.repo.List(ctx, filter)
}

// History returns the approval trail of an order.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	return s.repo.History(ctx, id)
}

// Request files a new parts order for actor.
func (s *Service) Request(ctx context.Context, actor authz.Principal, in RequestInput) (Order, error) {
	if err := s.require(actor, shared.PermPartsRequest); err != nil {
		return Order{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Urgency == "" {
		in.Urgency = "normal"
	}
	switch {
	case in.PartID <= 0:
		return Order{}, fmt.Errorf("%w: part required", ErrInvalidInput)
	case in.Qty < 1:
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	case in.Reason == "":
		return Order{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	case !slices.Contains(Urgencies, in.Urgency):
		return Order{}, fmt.Errorf("%w: urgency %q", ErrInvalidInput, in.Urgency)
	}
	order := Order{
		TechnicianID: actor.ID,
		PartID:       in.PartID,
		AssignmentID: in.AssignmentID,
		RequestedQty: in.Qty,
		Reason:       in.Reason,
		Urgency:      in.Urgency,
		Status:       StatusPendiente,
		RequestedAt:  s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		part, err := tx.Stock().GetPartForUpdate(ctx, in.PartID)
		if err != nil {
			return err
		}
		order.PartCode, order.PartName = part.Code, part.Name
		id, err := tx.Insert(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   id,
			ActorID: actor.ID,
			Action:  shared.ApprovalSubmit,
			Note:    order.Reason,
			At:      order.RequestedAt,
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, actor, "order.request", order.ID, map[string]any{"part_id": order.PartID, "qty": order.RequestedQty})
	return order, nil
}

// Decide approves or rejects a pending order. Approval takes the approved
// quantity out of stock in the same transaction that records the decision.
func (s *Service) Decide(ctx context.Context, actor authz.Principal, id int64, d Decision) (Order, error) {
	if err := s.require(actor, shared.PermOrdersApprove); err != nil {
		return Order{}, err
	}
	d.Note = strings.TrimSpace(d.Note)
	if !d.Approve && d.Note == "" {
		return Order{}, fmt.Errorf("%w: a rejection needs a note", ErrInvalidInput)
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.OrderLockKey(id))
		if err != nil {
			return Order{}, err
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	var (
		order Order
		part  inventory.Part
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		target, action := StatusRechazado, shared.ApprovalReject
		if d.Approve {
			target, action = StatusAprobado, shared.ApprovalApprove
		}
		if !order.Pending() {
			return fmt.Errorf("%w: order %d is %s", shared.ErrInvalidTransition, id, order.Status)
		}
		now := s.now().UTC()
		if d.Approve {
			if d.Qty < 1 {
				return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
			}
			if d.Qty > order.RequestedQty {
				return fmt.Errorf("%w: %d > %d", ErrQuantityExceeded, d.Qty, order.RequestedQty)
			}
			_, part, err = inventory.PostMovement(ctx, tx.Stock(), inventory.MovementInput{
				PartID:    order.PartID,
				Type:      inventory.MovementOut,
				Qty:       -d.Qty,
				RefModule: approvalModule,
				RefID:     order.ID,
				Note:      fmt.Sprintf("pedido #%d", order.ID),
				ActorID:   actor.ID,
			}, now)
			if err != nil {
				return err
			}
			order.ApprovedQty = d.Qty
		}
		order.Status = target
		order.AdminNotes = d.Note
		order.DecidedAt = &now
		decidedBy := actor.ID
		order.DecidedBy = &decidedBy
		if err := tx.SetDecision(ctx, order); err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   order.ID,
			ActorID: actor.ID,
			Action:  action,
			Note:    d.Note,
			At:      now,
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, actor, "order."+order.Status, order.ID, map[string]any{"approved_qty": order.ApprovedQty})
	if s.notifier != nil {
		_ = s.notifier.NotifyOrderDecided(ctx, order.ID, order.TechnicianID, order.Status)
		if d.Approve && part.LowStock() {
			_ = s.notifier.NotifyLowStock(ctx, part)
		}
	}
	return order, nil
}

func (s *Service) require(actor authz.Principal, perm string) error {
	if !actor.Authenticated() {
		return authz.ErrNotAuthenticated
	}
	if !actor.Can(perm) {
		return fmt.Errorf("%w: %s required", authz.ErrPermissionDenied, perm)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor authz.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "part_order", EntityID: id, Meta: meta})
}
