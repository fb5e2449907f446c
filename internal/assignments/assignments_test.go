package assignments

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/users"
)

const (
	adminID   = 1
	tecnicoID = 2
	otherTech = 3
)

type memoryRepo struct {
	mu     sync.Mutex
	items  map[int64]Assignment
	nextID int64
}

func newMemoryRepo(items ...Assignment) *memoryRepo {
	m := &memoryRepo{items: map[int64]Assignment{}}
	for _, a := range items {
		m.items[a.ID] = a
		if a.ID > m.nextID {
			m.nextID = a.ID
		}
	}
	return m
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Assignment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for id := int64(1); id <= m.nextID; id++ {
		a, ok := m.items[id]
		if !ok || (filter.TechnicianID != 0 && a.TechnicianID != filter.TechnicianID) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memoryRepo) Create(_ context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.TechnicianID != tecnicoID && a.TechnicianID != otherTech {
		return Assignment{}, ErrNotTechnician
	}
	m.nextID++
	a.ID = m.nextID
	m.items[a.ID] = a
	return a, nil
}

func (m *memoryRepo) Update(_ context.Context, a Assignment, expected time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if !cur.UpdatedAt.Equal(expected) {
		return shared.ErrConflict
	}
	m.items[a.ID] = a
	return nil
}

type noTechnicians struct{}

func (noTechnicians) Technicians(context.Context) ([]users.User, error) { return nil, nil }

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func fixtures() *memoryRepo {
	started := base.Add(-2 * time.Hour)
	return newMemoryRepo(
		Assignment{ID: 1, TechnicianID: tecnicoID, CreatedBy: adminID, Request: "Atasco de papel", Status: StatusAsignada, UpdatedAt: base},
		Assignment{ID: 2, TechnicianID: otherTech, CreatedBy: adminID, Request: "Revisión fusor", Status: StatusEnProgreso, StartedAt: &started, UpdatedAt: base},
		Assignment{ID: 3, TechnicianID: tecnicoID, CreatedBy: adminID, Request: "Cambio de tóner", Status: StatusFinalizada, UpdatedAt: base},
		Assignment{ID: 4, TechnicianID: tecnicoID, CreatedBy: adminID, Request: "Visita cancelada", Status: StatusCancelada, UpdatedAt: base},
	)
}

func testCatalog(t *testing.T) *authz.Catalog {
	t.Helper()
	c, err := authz.NewCatalog(rbac.DefaultDefinition())
	require.NoError(t, err)
	return c
}

func newService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return base.Add(time.Hour) }
	return svc
}

func TestWorkflow(t *testing.T) {
	require.NoError(t, Workflow.Validate(StatusAsignada, StatusEnProgreso, false))
	require.NoError(t, Workflow.Validate(StatusEnProgreso, StatusFinalizada, false))
	require.ErrorIs(t, Workflow.Validate(StatusAsignada, StatusFinalizada, false), shared.ErrInvalidTransition)
	require.ErrorIs(t, Workflow.Validate(StatusFinalizada, StatusEnProgreso, false), shared.ErrInvalidTransition)
	require.NoError(t, Workflow.Validate(StatusFinalizada, StatusEnProgreso, true))
	require.ErrorIs(t, Workflow.Validate(StatusCancelada, StatusAsignada, true), shared.ErrInvalidTransition)
	assert.False(t, Assignment{Status: StatusFinalizada}.Open())
	assert.True(t, Assignment{Status: StatusEnProgreso}.Open())
}

func TestEditRule(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}

	_, err := authz.AuthorizeObject(ctx, c, tech, EditRule, 1, repo.Get)
	require.NoError(t, err)
	_, err = authz.AuthorizeObject(ctx, c, tech, EditRule, 3, repo.Get)
	require.NoError(t, err, "the assigned technician may still edit a finished assignment")
	_, err = authz.AuthorizeObject(ctx, c, tech, EditRule, 2, repo.Get)
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	_, err = authz.AuthorizeObject(ctx, c, tech, EditRule, 4, repo.Get)
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	_, err = authz.AuthorizeObject(ctx, c, admin, EditRule, 2, repo.Get)
	require.NoError(t, err)

	for _, u := range []*authz.User{tech, admin, {ID: 9, Role: shared.RoleSuperadmin}} {
		_, err = authz.AuthorizeObject(ctx, c, u, EditRule, 99, repo.Get)
		require.ErrorIs(t, err, authz.ErrNotFound)
	}

	_, err = authz.AuthorizeObject(ctx, c, &authz.User{ID: 5, Role: shared.RoleUsuario}, EditRule, 1, repo.Get)
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
}

func TestListScopesToOwnAssignments(t *testing.T) {
	c := testCatalog(t)
	svc := newService(fixtures())

	items, total, err := svc.List(context.Background(), c.Principal(&authz.User{ID: tecnicoID, Role: shared.RoleTecnico}), ListFilter{TechnicianID: otherTech})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, a := range items {
		assert.Equal(t, int64(tecnicoID), a.TechnicianID)
	}

	_, total, err = svc.List(context.Background(), c.Principal(&authz.User{ID: adminID, Role: shared.RoleAdmin}), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	_, _, err = svc.List(context.Background(), authz.Principal{}, ListFilter{})
	require.ErrorIs(t, err, authz.ErrNotAuthenticated)
}

func TestUpdateStatusFlow(t *testing.T) {
	c := testCatalog(t)
	repo := fixtures()
	svc := newService(repo)
	ctx := context.Background()
	tech := c.Principal(&authz.User{ID: tecnicoID, Role: shared.RoleTecnico})
	admin := c.Principal(&authz.User{ID: adminID, Role: shared.RoleAdmin})

	a := repo.items[1]
	started, err := svc.Update(ctx, tech, a, UpdateInput{Status: StatusEnProgreso, Observations: "  en sitio "})
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, "en sitio", started.Observations)

	_, err = svc.Update(ctx, tech, started, UpdateInput{Status: StatusCancelada})
	require.ErrorIs(t, err, authz.ErrPermissionDenied)

	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	done, err := svc.Update(ctx, tech, started, UpdateInput{Status: StatusFinalizada})
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 60, done.ActualMinutes)

	_, err = svc.Update(ctx, tech, done, UpdateInput{Status: StatusEnProgreso})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	svc.now = func() time.Time { return base.Add(3 * time.Hour) }
	reopened, err := svc.Update(ctx, admin, done, UpdateInput{Status: StatusEnProgreso})
	require.NoError(t, err)
	assert.Nil(t, reopened.FinishedAt)

	_, err = svc.Update(ctx, admin, done, UpdateInput{Observations: "tarde"})
	require.ErrorIs(t, err, shared.ErrConflict, "stale copies are rejected")

	_, err = svc.Update(ctx, admin, reopened, UpdateInput{Status: "pausada"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate(t *testing.T) {
	c := testCatalog(t)
	svc := newService(fixtures())
	ctx := context.Background()
	admin := c.Principal(&authz.User{ID: adminID, Role: shared.RoleAdmin})

	a, err := svc.Create(ctx, admin, CreateInput{TechnicianID: tecnicoID, Request: " Instalación ", EstimatedMinutes: 90})
	require.NoError(t, err)
	assert.Equal(t, StatusAsignada, a.Status)
	assert.Equal(t, "Instalación", a.Request)
	assert.Equal(t, int64(adminID), a.CreatedBy)

	_, err = svc.Create(ctx, admin, CreateInput{TechnicianID: 42, Request: "x"})
	require.ErrorIs(t, err, ErrNotTechnician)
	_, err = svc.Create(ctx, admin, CreateInput{TechnicianID: tecnicoID})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(ctx, c.Principal(&authz.User{ID: tecnicoID, Role: shared.RoleTecnico}), CreateInput{TechnicianID: tecnicoID, Request: "x"})
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
}

func serve(t *testing.T, repo *memoryRepo, user *authz.User, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	catalog := testCatalog(t)
	guard := rbac.Guard{
		Store:    rbac.NewCatalogStore(catalog, nil, nil, nil),
		Identity: rbac.IdentityFunc(func(*http.Request) (*authz.User, error) { return user, nil }),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h := NewHandler(guard.Logger, newService(repo), noTechnicians{}, nil, nil, guard)
	r := chi.NewRouter()
	r.Route("/assignments", h.MountRoutes)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerObjectChecks(t *testing.T) {
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}

	assert.Equal(t, http.StatusOK, serve(t, repo, tech, http.MethodGet, "/assignments/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, repo, tech, http.MethodGet, "/assignments/2", nil).Code, "foreign assignments are concealed")
	assert.Equal(t, http.StatusNotFound, serve(t, repo, tech, http.MethodGet, "/assignments/99", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, repo, admin, http.MethodPost, "/assignments/99", url.Values{"status": {"en_progreso"}}).Code)

	rec := serve(t, repo, tech, http.MethodPost, "/assignments/2", url.Values{"observations": {"hola"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, repo, tech, http.MethodPost, "/assignments/1", url.Values{"status": {"en_progreso"}, "observations": {"llegando"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var got Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StatusEnProgreso, got.Status)

	rec = serve(t, repo, tech, http.MethodPost, "/assignments/1", url.Values{"status": {"asignada"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, serve(t, repo, nil, http.MethodGet, "/assignments/1", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, repo, tech, http.MethodPost, "/assignments/", url.Values{"technician_id": {"2"}, "request": {"x"}}).Code)
}

func TestHandlerCreate(t *testing.T) {
	repo := fixtures()
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}

	rec := serve(t, repo, admin, http.MethodPost, "/assignments/", url.Values{"technician_id": {"3"}, "request": {"Mantenimiento preventivo"}, "estimated_minutes": {"45"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var got Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(otherTech), got.TechnicianID)
	assert.Equal(t, int64(5), got.ID)
}

func TestHandlerRejectsNonNumericMinutes(t *testing.T) {
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}

	rec := serve(t, repo, tech, http.MethodPost, "/assignments/1", url.Values{"status": {"en_progreso"}, "actual_minutes": {"noventa"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Contains(t, problem.Errors, "ActualMinutes")
	assert.Equal(t, StatusAsignada, repo.items[1].Status)

	rec = serve(t, repo, tech, http.MethodPost, "/assignments/1", url.Values{"status": {"en_progreso"}, "actual_minutes": {" "}})
	assert.Equal(t, http.StatusOK, rec.Code, "blank minutes stay optional")

	rec = serve(t, repo, admin, http.MethodPost, "/assignments/", url.Values{"technician_id": {"3"}, "request": {"Revisión"}, "estimated_minutes": {"1h"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Contains(t, problem.Errors, "EstimatedMinutes")
}

type pageRecorder struct{ statuses []int }

func (p *pageRecorder) RenderError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	p.statuses = append(p.statuses, status)
	http.Error(w, message, status)
}

func TestHandlerFailureRendersErrorPage(t *testing.T) {
	pages := &pageRecorder{}
	guard := rbac.Guard{
		Store:    rbac.NewCatalogStore(testCatalog(t), nil, nil, nil),
		Identity: rbac.IdentityFunc(func(*http.Request) (*authz.User, error) { return &authz.User{ID: adminID, Role: shared.RoleAdmin}, nil }),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pages:    pages,
	}
	h := NewHandler(guard.Logger, newService(fixtures()), noTechnicians{}, nil, nil, guard)
	r := chi.NewRouter()
	r.Route("/assignments", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assignments/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []int{http.StatusNotFound}, pages.statuses)
	assert.Contains(t, rec.Body.String(), "El recurso solicitado no existe.")
}

func TestValidateRulesAgainstCatalog(t *testing.T) {
	c, err := authz.NewCatalog(rbac.DefaultDefinition())
	require.NoError(t, err)
	require.NoError(t, ValidateRules(c))

	def := rbac.DefaultDefinition()
	kept := def.Permissions[:0]
	for _, p := range def.Permissions {
		if p.Name != shared.PermAssignmentEdit {
			kept = append(kept, p)
		}
	}
	def.Permissions = kept
	trimmed, err := authz.NewCatalog(def)
	require.NoError(t, err)
	err = ValidateRules(trimmed)
	require.ErrorIs(t, err, authz.ErrUnknownPermission)
	assert.True(t, authz.IsConfigError(err))
}
