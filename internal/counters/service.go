package counters

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
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEquipment(ctx context.Context) ([]Equipment, error)
	GetEquipment(ctx context.Context, id int64) (Equipment, error)
	GetReading(ctx context.Context, id int64) (Reading, error)
	ListReadings(ctx context.Context, filter ReadingFilter) ([]Reading, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EditRule allows editar_conteos on any reading and editar_conteos_propios
// on readings the actor took.
var EditRule = authz.ObjectRule[Reading]{
	Resource: "conteos",
	Action:   "editar",
	Require:  authz.HasAnyPermission(shared.PermCountersEdit, shared.PermCountersEditOwn),
	Predicate: func(p authz.Principal, r Reading) bool {
		return p.Can(shared.PermCountersEdit) || r.TechnicianID == p.ID
	},
}

// DeleteRule requires eliminar_conteos.
var DeleteRule = authz.ObjectRule[Reading]{
	Resource: "conteos",
	Action:   "eliminar",
}

// ViewRule mirrors the listing: ver_conteos sees every reading and
// ver_conteos_propios only the actor's own.
var ViewRule = authz.ObjectRule[Reading]{
	Resource: "conteos",
	Action:   "ver",
	Require:  authz.HasAnyPermission(shared.PermCountersView, shared.PermCountersViewOwn),
	Predicate: func(p authz.Principal, r Reading) bool {
		return p.Can(shared.PermCountersView) || r.TechnicianID == p.ID
	},
	ConcealDenials: true,
}

// ValidateRules checks every counter rule against c.
func ValidateRules(c *authz.Catalog) error {
	for _, err := range []error{EditRule.Validate(c), DeleteRule.Validate(c), ViewRule.Validate(c)} {
		if err != nil {
			return fmt.Errorf("counters: %w", err)
		}
	}
	return nil
}

// Service coordinates counter operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// Loader exposes the reading lookup to object rules.
func (s *Service) Loader() authz.Loader[Reading] {
	return s.repo.GetReading
}

// Equipment lists the monitored equipment.
func (s *Service) Equipment(ctx context.Context) ([]Equipment, error) {
	return s.repo.ListEquipment(ctx)
}

// LastCounters returns the cached last counters of an equipment.
func (s *Service) LastCounters(ctx context.Context, equipmentID int64) (Equipment, error) {
	return s.repo.GetEquipment(ctx, equipmentID)
}

// List returns readings visible to actor.
func (s *Service) List(ctx context.Context, actor authz.Principal, filter ReadingFilter) ([]Reading, int, error) {
	switch {
	case actor.Can(shared.PermCountersView):
	case actor.Can(shared.PermCountersViewOwn):
		filter.TechnicianID = actor.ID
	case !actor.Authenticated():
		return nil, 0, authz.ErrNotAuthenticated
	default:
		return nil, 0, fmt.Errorf("%w: %s or %s required", authz.ErrPermissionDenied, shared.PermCountersView, shared.PermCountersViewOwn)
	}
	return s.repo.ListReadings(ctx, filter)
}

// Register records a reading taken by actor. Every meter must be at least
// the equipment's last reading, and the reading may not predate it. A
// repeated IdempotencyKey yields shared.ErrIdempotencyConflict.
func (s *Service) Register(ctx context.Context, actor authz.Principal, in RegisterInput) (Reading, error) {
	if !actor.Authenticated() {
		return Reading{}, authz.ErrNotAuthenticated
	}
	if err := validateInput(in.Counters, in.State); err != nil {
		return Reading{}, err
	}
	if in.IdempotencyKey == "" {
		return Reading{}, fmt.Errorf("%w: missing submission key", ErrInvalidReading)
	}
	now := s.now().UTC()
	countedOn := in.CountedOn
	if countedOn.IsZero() {
		countedOn = now
	}
	countedOn = day(countedOn)
	if countedOn.After(day(now)) {
		return Reading{}, fmt.Errorf("%w: reading dated in the future", ErrInvalidReading)
	}

	reading := Reading{
		EquipmentID:      in.EquipmentID,
		TechnicianID:     actor.ID,
		CountedOn:        countedOn,
		Current:          in.Counters,
		State:            in.State,
		NeedsMaintenance: in.NeedsMaintenance,
		Notes:            strings.TrimSpace(in.Notes),
		CreatedAt:        now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Claim(ctx, in.IdempotencyKey); err != nil {
			return err
		}
		eq, err := tx.GetEquipmentForUpdate(ctx, in.EquipmentID)
		if err != nil {
			return err
		}
		if eq.LastCountAt != nil && countedOn.Before(day(*eq.LastCountAt)) {
			return fmt.Errorf("%w: last reading is from %s", ErrCounterDecreased, eq.LastCountAt.Format("2006-01-02"))
		}
		if meter, below := in.Counters.Below(eq.Last); below {
			return fmt.Errorf("%w: %s", ErrCounterDecreased, meter)
		}
		reading.Previous = eq.Last
		reading.EquipmentLabel = eq.Label()
		id, err := tx.InsertReading(ctx, reading)
		if err != nil {
			return err
		}
		reading.ID = id
		return tx.SetLastCounters(ctx, eq.ID, reading.Current, &countedOn)
	})
	if err != nil {
		return Reading{}, err
	}
	s.record(ctx, actor, "counter.create", reading.ID, map[string]any{"equipment_id": reading.EquipmentID, "prints": reading.Current.Prints})
	return reading, nil
}

// Update changes a reading the caller authorized with EditRule. The new
// values must stay between the readings around it.
func (s *Service) Update(ctx context.Context, actor authz.Principal, current Reading, in UpdateInput) (Reading, error) {
	if err := validateInput(in.Counters, in.State); err != nil {
		return Reading{}, err
	}
	next := current
	next.Current = in.Counters
	next.State = in.State
	next.NeedsMaintenance = in.NeedsMaintenance
	next.Notes = strings.TrimSpace(in.Notes)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetEquipmentForUpdate(ctx, current.EquipmentID); err != nil {
			return err
		}
		prev, after, err := tx.Neighbours(ctx, current)
		if err != nil {
			return err
		}
		if prev != nil {
			next.Previous = prev.Current
		}
		if meter, below := next.Current.Below(next.Previous); below {
			return fmt.Errorf("%w: %s", ErrCounterDecreased, meter)
		}
		if after != nil {
			if meter, above := after.Current.Below(next.Current); above {
				return fmt.Errorf("%w: %s", ErrCounterAhead, meter)
			}
			after.Previous = next.Current
			if err := tx.UpdateReading(ctx, *after); err != nil {
				return err
			}
		}
		if err := tx.UpdateReading(ctx, next); err != nil {
			return err
		}
		if after == nil {
			return tx.SetLastCounters(ctx, current.EquipmentID, next.Current, &next.CountedOn)
		}
		return nil
	})
	if err != nil {
		return Reading{}, err
	}
	s.record(ctx, actor, "counter.update", current.ID, map[string]any{"prints": next.Current.Prints})
	return next, nil
}

// Delete removes a reading the caller authorized with DeleteRule and
// relinks its neighbours.
func (s *Service) Delete(ctx context.Context, actor authz.Principal, current Reading) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetEquipmentForUpdate(ctx, current.EquipmentID); err != nil {
			return err
		}
		prev, after, err := tx.Neighbours(ctx, current)
		if err != nil {
			return err
		}
		if err := tx.DeleteReading(ctx, current.ID); err != nil {
			return err
		}
		base := current.Previous
		if prev != nil {
			base = prev.Current
		}
		if after != nil {
			after.Previous = base
			return tx.UpdateReading(ctx, *after)
		}
		if prev == nil {
			return tx.SetLastCounters(ctx, current.EquipmentID, base, nil)
		}
		return tx.SetLastCounters(ctx, current.EquipmentID, prev.Current, &prev.CountedOn)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "counter.delete", current.ID, map[string]any{"equipment_id": current.EquipmentID})
	return nil
}

func validateInput(c Counters, state string) error {
	if err := c.validate(); err != nil {
		return err
	}
	if !slices.Contains(States, state) {
		return fmt.Errorf("%w: state %q", ErrInvalidReading, state)
	}
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, actor authz.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "counter_reading", EntityID: id, Meta: meta})
}
