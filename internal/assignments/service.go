package assignments

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Assignment, int, error)
	Get(ctx context.Context, id int64) (Assignment, error)
	Create(ctx context.Context, a Assignment) (Assignment, error)
	Update(ctx context.Context, a Assignment, expectedUpdatedAt time.Time) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ViewRule lets managers see every assignment and technicians their own.
// Other assignments are reported as missing.
var ViewRule = authz.ObjectRule[Assignment]{
	Resource: "asignaciones",
	Action:   "ver",
	Predicate: func(p authz.Principal, a Assignment) bool {
		return p.Can(shared.PermAssignmentsManage) || a.TechnicianID == p.ID
	},
	ConcealDenials: true,
}

// EditRule requires editar_asignacion. Below admin only the assigned
// technician may edit, and never once the assignment was cancelled.
var EditRule = authz.ObjectRule[Assignment]{
	Resource:  "asignacion",
	Action:    "editar",
	Predicate: canEdit,
}

// ValidateRules checks every assignment rule against c.
func ValidateRules(c *authz.Catalog) error {
	for _, err := range []error{ViewRule.Validate(c), EditRule.Validate(c)} {
		if err != nil {
			return fmt.Errorf("assignments: %w", err)
		}
	}
	return nil
}

func canEdit(p authz.Principal, a Assignment) bool {
	if p.AtLeast(shared.RoleAdmin) {
		return true
	}
	return a.TechnicianID == p.ID && a.Status != StatusCancelada
}

// Service coordinates assignment operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// Loader exposes the repository lookup to object rules.
func (s *Service) Loader() authz.Loader[Assignment] {
	return s.repo.Get
}

// List returns assignments visible to actor. Without gestionar_asignaciones
// only the actor's own assignments are listed.
func (s *Service) List(ctx context.Context, actor authz.Principal, filter ListFilter) ([]Assignment, int, error) {
	if !actor.Authenticated() {
		return nil, 0, authz.ErrNotAuthenticated
	}
	if !actor.Can(shared.PermAssignmentsManage) {
		filter.TechnicianID = actor.ID
	}
	if filter.Status != "" && !slices.Contains(Statuses, filter.Status) {
		filter.Status = ""
	}
	return s.repo.List(ctx, filter)
}

// Create assigns a new request to a technician.
func (s *Service) Create(ctx context.Context, actor authz.Principal, in CreateInput) (Assignment, error) {
	if !actor.Can(shared.PermAssignmentsManage) {
		return Assignment{}, fmt.Errorf("%w: %s required", authz.ErrPermissionDenied, shared.PermAssignmentsManage)
	}
	in.Request = strings.TrimSpace(in.Request)
	if in.TechnicianID <= 0 || in.Request == "" || in.EstimatedMinutes < 0 {
		return Assignment{}, ErrInvalidInput
	}
	now := s.now().UTC()
	a, err := s.repo.Create(ctx, Assignment{
		TechnicianID:     in.TechnicianID,
		CreatedBy:        actor.ID,
		Request:          in.Request,
		Status:           StatusAsignada,
		EstimatedMinutes: in.EstimatedMinutes,
		AssignedAt:       now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Assignment{}, err
	}
	s.record(ctx, actor, "assignment.create", a.ID, map[string]any{"technician_id": a.TechnicianID})
	return a, nil
}

// Update applies in to current, which the caller has authorized with
// EditRule. Cancelling and reopening need gestionar_asignaciones.
func (s *Service) Update(ctx context.Context, actor authz.Principal, current Assignment, in UpdateInput) (Assignment, error) {
	target := in.Status
	if target == "" {
		target = current.Status
	}
	if !slices.Contains(Statuses, target) {
		return Assignment{}, fmt.Errorf("%w: status %q", ErrInvalidInput, target)
	}
	if in.ActualMinutes < 0 {
		return Assignment{}, fmt.Errorf("%w: negative minutes", ErrInvalidInput)
	}
	manage := actor.Can(shared.PermAssignmentsManage)
	if target == StatusCancelada && current.Status != StatusCancelada && !manage {
		return Assignment{}, fmt.Errorf("%w: cancelling requires %s", authz.ErrPermissionDenied, shared.PermAssignmentsManage)
	}
	if err := Workflow.Validate(current.Status, target, manage); err != nil {
		return Assignment{}, err
	}

	now := s.now().UTC()
	next := current
	next.Status = target
	next.Observations = strings.TrimSpace(in.Observations)
	if in.ActualMinutes > 0 {
		next.ActualMinutes = in.ActualMinutes
	}
	switch {
	case target == StatusEnProgreso && current.Status == StatusFinalizada:
		next.FinishedAt = nil
	case target == StatusEnProgreso && next.StartedAt == nil:
		next.StartedAt = &now
	case target == StatusFinalizada && current.Status != StatusFinalizada:
		next.FinishedAt = &now
		if next.ActualMinutes == 0 && next.StartedAt != nil {
			next.ActualMinutes = int(now.Sub(*next.StartedAt).Minutes())
		}
	}
	next.UpdatedAt = now
	if err := s.repo.Update(ctx, next, current.UpdatedAt); err != nil {
		return Assignment{}, err
	}
	if target != current.Status {
		s.record(ctx, actor, "assignment.status", current.ID, map[string]any{"from": current.Status, "to": target})
	}
	return next, nil
}

func (s *Service) record(ctx context.Context, actor authz.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "assignment", EntityID: id, Meta: meta})
}
