package counters

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
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
)

const (
	adminID      = 1
	tecnicoID    = 2
	otherTech    = 3
	superadminID = 4
)

type memoryState struct {
	equipment map[int64]Equipment
	readings  map[int64]Reading
	keys      map[string]bool
	nextID    int64
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		equipment: maps.Clone(s.equipment),
		readings:  maps.Clone(s.readings),
		keys:      maps.Clone(s.keys),
		nextID:    s.nextID,
	}
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memoryTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memoryRepo) ListEquipment(context.Context) ([]Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Equipment
	for _, e := range m.state.equipment {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryRepo) GetEquipment(_ context.Context, id int64) (Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.equipment[id]
	if !ok {
		return Equipment{}, shared.ErrNotFound
	}
	return e, nil
}

func (m *memoryRepo) GetReading(_ context.Context, id int64) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.readings[id]
	if !ok {
		return Reading{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memoryRepo) ListReadings(_ context.Context, filter ReadingFilter) ([]Reading, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reading
	for id := int64(1); id <= m.state.nextID; id++ {
		r, ok := m.state.readings[id]
		if !ok || (filter.TechnicianID != 0 && r.TechnicianID != filter.TechnicianID) {
			continue
		}
		if filter.EquipmentID != 0 && r.EquipmentID != filter.EquipmentID {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

type memoryTx struct {
	s *memoryState
}

func (t *memoryTx) Claim(_ context.Context, key string) error {
	if t.s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	t.s.keys[key] = true
	return nil
}

func (t *memoryTx) GetEquipmentForUpdate(_ context.Context, id int64) (Equipment, error) {
	e, ok := t.s.equipment[id]
	if !ok {
		return Equipment{}, shared.ErrNotFound
	}
	return e, nil
}

func (t *memoryTx) SetLastCounters(_ context.Context, equipmentID int64, c Counters, at *time.Time) error {
	e := t.s.equipment[equipmentID]
	e.Last = c
	e.LastCountAt = at
	t.s.equipment[equipmentID] = e
	return nil
}

func (t *memoryTx) InsertReading(_ context.Context, r Reading) (int64, error) {
	t.s.nextID++
	r.ID = t.s.nextID
	t.s.readings[r.ID] = r
	return r.ID, nil
}

func (t *memoryTx) UpdateReading(_ context.Context, r Reading) error {
	if _, ok := t.s.readings[r.ID]; !ok {
		return shared.ErrNotFound
	}
	t.s.readings[r.ID] = r
	return nil
}

func (t *memoryTx) DeleteReading(_ context.Context, id int64) error {
	if _, ok := t.s.readings[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.s.readings, id)
	return nil
}

func before(a, b Reading) bool {
	if a.CountedOn.Equal(b.CountedOn) {
		return a.ID < b.ID
	}
	return a.CountedOn.Before(b.CountedOn)
}

func (t *memoryTx) Neighbours(_ context.Context, r Reading) (*Reading, *Reading, error) {
	var prev, next *Reading
	for _, c := range t.s.readings {
		if c.EquipmentID != r.EquipmentID || c.ID == r.ID {
			continue
		}
		c := c
		if before(c, r) && (prev == nil || before(*prev, c)) {
			prev = &c
		}
		if before(r, c) && (next == nil || before(c, *next)) {
			next = &c
		}
	}
	return prev, next, nil
}

func date(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func fixtures() *memoryRepo {
	lastAt := date(3)
	return &memoryRepo{state: &memoryState{
		equipment: map[int64]Equipment{
			1: {ID: 1, Serial: "X1", Brand: "Ricoh", Model: "MP 3055", Last: Counters{300, 150, 80}, LastCountAt: &lastAt},
			2: {ID: 2, Serial: "K9", Brand: "Kyocera", Model: "M2040"},
		},
		readings: map[int64]Reading{
			1: {ID: 1, EquipmentID: 1, TechnicianID: tecnicoID, CountedOn: date(1), Current: Counters{100, 50, 20}, State: StateOperativo},
			2: {ID: 2, EquipmentID: 1, TechnicianID: otherTech, CountedOn: date(2), Current: Counters{200, 100, 50}, Previous: Counters{100, 50, 20}, State: StateOperativo},
			3: {ID: 3, EquipmentID: 1, TechnicianID: tecnicoID, CountedOn: date(3), Current: Counters{300, 150, 80}, Previous: Counters{200, 100, 50}, State: StateConFallas},
		},
		keys:   map[string]bool{},
		nextID: 3,
	}}
}

func testCatalog(t *testing.T) *authz.Catalog {
	t.Helper()
	c, err := authz.NewCatalog(rbac.DefaultDefinition())
	require.NoError(t, err)
	return c
}

func newService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC) }
	return svc
}

func TestCountersHelpers(t *testing.T) {
	meter, below := Counters{10, 5, 1}.Below(Counters{10, 6, 0})
	assert.True(t, below)
	assert.Equal(t, "escaneos", meter)
	_, below = Counters{10, 6, 1}.Below(Counters{10, 6, 1})
	assert.False(t, below)

	r := Reading{CountedOn: date(5), Current: Counters{Prints: 25_000}, Previous: Counters{Prints: 1_000}}
	assert.True(t, r.Unusual(time.Time{}))
	assert.False(t, r.Unusual(date(1)), "four days allow a larger jump")
	assert.ErrorIs(t, Counters{Prints: MaxCounter + 1}.validate(), ErrInvalidReading)
}

func TestRegister(t *testing.T) {
	c := testCatalog(t)
	repo := fixtures()
	svc := newService(repo)
	ctx := context.Background()
	tech := c.Principal(&authz.User{ID: tecnicoID, Role: shared.RoleTecnico})

	rd, err := svc.Register(ctx, tech, RegisterInput{EquipmentID: 1, CountedOn: date(5), Counters: Counters{350, 160, 80}, State: StateOperativo, Notes: " ok ", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, Counters{300, 150, 80}, rd.Previous)
	assert.Equal(t, Counters{50, 10, 0}, rd.Delta())
	assert.Equal(t, "ok", rd.Notes)
	eq := repo.state.equipment[1]
	assert.Equal(t, Counters{350, 160, 80}, eq.Last)
	require.NotNil(t, eq.LastCountAt)
	assert.True(t, eq.LastCountAt.Equal(date(5)))

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 1, CountedOn: date(6), Counters: Counters{360, 170, 90}, State: StateOperativo, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 1, CountedOn: date(6), Counters: Counters{340, 170, 90}, State: StateOperativo, IdempotencyKey: "k2"})
	require.ErrorIs(t, err, ErrCounterDecreased)
	assert.Equal(t, Counters{350, 160, 80}, repo.state.equipment[1].Last, "a rejected reading leaves the equipment untouched")

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 1, CountedOn: date(6), Counters: Counters{360, 170, 90}, State: StateOperativo, IdempotencyKey: "k2"})
	require.NoError(t, err, "the key of a rolled back attempt can be reused")

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 1, CountedOn: date(4), Counters: Counters{400, 200, 100}, State: StateOperativo, IdempotencyKey: "k3"})
	require.ErrorIs(t, err, ErrCounterDecreased, "readings may not predate the last one")

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 2, CountedOn: date(11), Counters: Counters{1, 1, 1}, State: StateOperativo, IdempotencyKey: "k4"})
	require.ErrorIs(t, err, ErrInvalidReading)

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 2, Counters: Counters{1, 1, 1}, State: "roto", IdempotencyKey: "k5"})
	require.ErrorIs(t, err, ErrInvalidReading)

	_, err = svc.Register(ctx, tech, RegisterInput{EquipmentID: 99, Counters: Counters{1, 1, 1}, State: StateOperativo, IdempotencyKey: "k6"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Register(ctx, authz.Principal{}, RegisterInput{EquipmentID: 2, State: StateOperativo, IdempotencyKey: "k7"})
	require.ErrorIs(t, err, authz.ErrNotAuthenticated)
}

func TestUpdateStaysBetweenNeighbours(t *testing.T) {
	c := testCatalog(t)
	repo := fixtures()
	svc := newService(repo)
	ctx := context.Background()
	admin := c.Principal(&authz.User{ID: adminID, Role: shared.RoleAdmin})
	middle := repo.state.readings[2]

	_, err := svc.Update(ctx, admin, middle, UpdateInput{Counters: Counters{350, 100, 50}, State: StateOperativo})
	require.ErrorIs(t, err, ErrCounterAhead)
	_, err = svc.Update(ctx, admin, middle, UpdateInput{Counters: Counters{90, 100, 50}, State: StateOperativo})
	require.ErrorIs(t, err, ErrCounterDecreased)

	updated, err := svc.Update(ctx, admin, middle, UpdateInput{Counters: Counters{250, 120, 60}, State: StateConFallas, NeedsMaintenance: true})
	require.NoError(t, err)
	assert.True(t, updated.NeedsMaintenance)
	assert.Equal(t, Counters{250, 120, 60}, repo.state.readings[3].Previous)
	assert.Equal(t, Counters{300, 150, 80}, repo.state.equipment[1].Last)

	last := repo.state.readings[3]
	_, err = svc.Update(ctx, admin, last, UpdateInput{Counters: Counters{310, 150, 80}, State: StateOperativo})
	require.NoError(t, err)
	assert.Equal(t, Counters{310, 150, 80}, repo.state.equipment[1].Last)
}

func TestDeleteRelinksReadings(t *testing.T) {
	c := testCatalog(t)
	repo := fixtures()
	svc := newService(repo)
	ctx := context.Background()
	super := c.Principal(&authz.User{ID: superadminID, Role: shared.RoleSuperadmin})

	require.NoError(t, svc.Delete(ctx, super, repo.state.readings[2]))
	assert.Equal(t, Counters{100, 50, 20}, repo.state.readings[3].Previous)

	require.NoError(t, svc.Delete(ctx, super, repo.state.readings[3]))
	eq := repo.state.equipment[1]
	assert.Equal(t, Counters{100, 50, 20}, eq.Last)
	require.NotNil(t, eq.LastCountAt)
	assert.True(t, eq.LastCountAt.Equal(date(1)))

	require.NoError(t, svc.Delete(ctx, super, repo.state.readings[1]))
	eq = repo.state.equipment[1]
	assert.Equal(t, Counters{}, eq.Last)
	assert.Nil(t, eq.LastCountAt)
}

func TestRules(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}
	super := &authz.User{ID: superadminID, Role: shared.RoleSuperadmin}

	_, err := authz.AuthorizeObject(ctx, c, tech, EditRule, 1, repo.GetReading)
	require.NoError(t, err)
	_, err = authz.AuthorizeObject(ctx, c, tech, EditRule, 2, repo.GetReading)
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	_, err = authz.AuthorizeObject(ctx, c, admin, EditRule, 2, repo.GetReading)
	require.NoError(t, err)
	_, err = authz.AuthorizeObject(ctx, c, tech, EditRule, 99, repo.GetReading)
	require.ErrorIs(t, err, authz.ErrNotFound)

	_, err = authz.AuthorizeObject(ctx, c, admin, DeleteRule, 1, repo.GetReading)
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	_, err = authz.AuthorizeObject(ctx, c, super, DeleteRule, 1, repo.GetReading)
	require.NoError(t, err)

	_, err = authz.AuthorizeObject(ctx, c, tech, ViewRule, 2, repo.GetReading)
	require.ErrorIs(t, err, authz.ErrNotFound, "foreign readings are concealed")
}

func TestListScoping(t *testing.T) {
	c := testCatalog(t)
	svc := newService(fixtures())
	ctx := context.Background()

	items, total, err := svc.List(ctx, c.Principal(&authz.User{ID: tecnicoID, Role: shared.RoleTecnico}), ReadingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range items {
		assert.Equal(t, int64(tecnicoID), r.TechnicianID)
	}

	_, total, err = svc.List(ctx, c.Principal(&authz.User{ID: adminID, Role: shared.RoleAdmin}), ReadingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, _, err = svc.List(ctx, c.Principal(&authz.User{ID: 7, Role: shared.RoleUsuario}), ReadingFilter{})
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
	_, _, err = svc.List(ctx, authz.Principal{}, ReadingFilter{})
	require.ErrorIs(t, err, authz.ErrNotAuthenticated)
}

func serve(t *testing.T, repo *memoryRepo, user *authz.User, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	guard := rbac.Guard{
		Store:    rbac.NewCatalogStore(testCatalog(t), nil, nil, nil),
		Identity: rbac.IdentityFunc(func(*http.Request) (*authz.User, error) { return user, nil }),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h := NewHandler(guard.Logger, newService(repo), nil, nil, guard)
	r := chi.NewRouter()
	r.Route("/counters", h.MountRoutes)

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

func TestHandlerRegister(t *testing.T) {
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	form := url.Values{
		"equipment_id":    {"1"},
		"counted_on":      {"2024-03-05"},
		"prints":          {"400"},
		"scans":           {"160"},
		"copies":          {"90"},
		"state":           {StateOperativo},
		"idempotency_key": {"form-1"},
	}

	rec := serve(t, repo, tech, http.MethodPost, "/counters/", form)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.ID)
	assert.Equal(t, int64(400), got.Current.Prints)

	rec = serve(t, repo, tech, http.MethodPost, "/counters/", form)
	assert.Equal(t, http.StatusConflict, rec.Code, "a resubmitted form is rejected")

	form.Set("idempotency_key", "form-2")
	form.Set("prints", "10")
	rec = serve(t, repo, tech, http.MethodPost, "/counters/", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	form.Del("state")
	rec = serve(t, repo, tech, http.MethodPost, "/counters/", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, repo, &authz.User{ID: superadminID, Role: shared.RoleSuperadmin}, http.MethodPost, "/counters/", form)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerObjectChecks(t *testing.T) {
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}
	admin := &authz.User{ID: adminID, Role: shared.RoleAdmin}
	super := &authz.User{ID: superadminID, Role: shared.RoleSuperadmin}

	assert.Equal(t, http.StatusOK, serve(t, repo, tech, http.MethodGet, "/counters/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, repo, tech, http.MethodGet, "/counters/2", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, repo, &authz.User{ID: 7, Role: shared.RoleUsuario}, http.MethodGet, "/counters/1", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, repo, nil, http.MethodGet, "/counters/", nil).Code)

	edit := url.Values{"prints": {"250"}, "scans": {"120"}, "copies": {"60"}, "state": {StateOperativo}}
	assert.Equal(t, http.StatusForbidden, serve(t, repo, tech, http.MethodPost, "/counters/2", edit).Code)
	assert.Equal(t, http.StatusOK, serve(t, repo, admin, http.MethodPost, "/counters/2", edit).Code)

	assert.Equal(t, http.StatusForbidden, serve(t, repo, admin, http.MethodPost, "/counters/1/delete", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(t, repo, super, http.MethodPost, "/counters/1/delete", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, repo, super, http.MethodPost, "/counters/1/delete", nil).Code)
}

func TestHandlerLastCounters(t *testing.T) {
	repo := fixtures()
	tech := &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}

	rec := serve(t, repo, tech, http.MethodGet, "/counters/equipment/1/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got lastCountersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(300), got.Prints)
	assert.Equal(t, "Ricoh MP 3055 (X1)", got.Label)

	assert.Equal(t, http.StatusNotFound, serve(t, repo, tech, http.MethodGet, "/counters/equipment/99/last", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, repo, &authz.User{ID: 7, Role: shared.RoleUsuario}, http.MethodGet, "/counters/equipment/1/last", nil).Code)
}

func TestHandlerExportCSV(t *testing.T) {
	repo := fixtures()
	rec := serve(t, repo, &authz.User{ID: adminID, Role: shared.RoleAdmin}, http.MethodGet, "/counters/export.csv?equipo=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "id,fecha,equipo"))

	rec = serve(t, repo, &authz.User{ID: tecnicoID, Role: shared.RoleTecnico}, http.MethodGet, "/counters/export.csv", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestValidateRulesAgainstCatalog(t *testing.T) {
	c, err := authz.NewCatalog(rbac.DefaultDefinition())
	require.NoError(t, err)
	require.NoError(t, ValidateRules(c))

	def := rbac.DefaultDefinition()
	kept := def.Permissions[:0]
	for _, p := range def.Permissions {
		if p.Name != shared.PermCountersDelete {
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
