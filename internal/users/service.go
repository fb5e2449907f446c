package users

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, in NewUser) (User, error)
	UpdateRole(ctx context.Context, id int64, role string) error
	SetActive(ctx context.Context, id int64, active bool) error
	ListByRole(ctx context.Context, role string) ([]User, error)
}

// CatalogSource yields the catalog currently in effect.
type CatalogSource interface {
	Current() *authz.Catalog
}

// Auditor persists administrative changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	catalogs CatalogSource
	audit    Auditor
	cost     int
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, catalogs CatalogSource, audit Auditor) *Service {
	return &Service{repo: repo, catalogs: catalogs, audit: audit, cost: bcrypt.DefaultCost}
}

// CreateInput is the validated create form.
type CreateInput struct {
	Email    string
	Name     string
	Role     string
	Password string
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	return s.repo.ListUsers(ctx, filter)
}

// GetUser returns a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// Technicians lists the active technicians work can be assigned to.
func (s *Service) Technicians(ctx context.Context) ([]User, error) {
	return s.repo.ListByRole(ctx, shared.RoleTecnico)
}

// CreateUser registers an account. The actor may not create an account
// ranked above their own role.
func (s *Service) CreateUser(ctx context.Context, actor authz.Principal, in CreateInput) (User, error) {
	role, err := s.grantable(actor, in.Role)
	if err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.repo.CreateUser(ctx, NewUser{
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Name:         strings.TrimSpace(in.Name),
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.create", u.ID, map[string]any{"role": role})
	return u, nil
}

// ChangeRole moves a user to another role. The actor must rank at or above
// both the user's current role and the new one.
func (s *Service) ChangeRole(ctx context.Context, actor authz.Principal, id int64, newRole string) error {
	role, err := s.grantable(actor, newRole)
	if err != nil {
		return err
	}
	target, err := s.managed(ctx, actor, id)
	if err != nil {
		return err
	}
	if target.Role == role {
		return nil
	}
	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		return err
	}
	s.record(ctx, actor, "user.role", id, map[string]any{"from": target.Role, "to": role})
	return nil
}

// SetActive enables or disables sign-in for a user.
func (s *Service) SetActive(ctx context.Context, actor authz.Principal, id int64, active bool) error {
	target, err := s.managed(ctx, actor, id)
	if err != nil {
		return err
	}
	if target.IsActive == active {
		return nil
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.record(ctx, actor, "user.active", id, map[string]any{"active": active})
	return nil
}

func (s *Service) grantable(actor authz.Principal, role string) (string, error) {
	role = authz.NormalizeName(role)
	if !s.catalogs.Current().Hierarchy().Known(role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if !actor.AtLeast(role) {
		return "", fmt.Errorf("%w: cannot grant role %q", authz.ErrPermissionDenied, role)
	}
	return role, nil
}

func (s *Service) managed(ctx context.Context, actor authz.Principal, id int64) (User, error) {
	if !actor.Authenticated() {
		return User{}, authz.ErrNotAuthenticated
	}
	if actor.ID == id {
		return User{}, ErrSelfChange
	}
	target, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !actor.AtLeast(target.Role) {
		return User{}, fmt.Errorf("%w: user %d outranks actor", authz.ErrPermissionDenied, id)
	}
	return target, nil
}

func (s *Service) record(ctx context.Context, actor authz.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil || !actor.Authenticated() {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "user", EntityID: id, Meta: meta})
}
