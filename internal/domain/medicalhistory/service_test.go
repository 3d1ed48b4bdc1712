package medicalhistory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// memRepo keeps one id space per schema, like separate tenant tables would.
type memRepo struct {
	mu     sync.Mutex
	nextID map[db.Schema]int64
	rows   map[db.Schema]map[int64]*Entry
	calls  int
}

func newMemRepo(schemas ...db.Schema) *memRepo {
	r := &memRepo{nextID: map[db.Schema]int64{}, rows: map[db.Schema]map[int64]*Entry{}}
	for _, s := range schemas {
		r.rows[s] = map[int64]*Entry{}
	}
	return r
}

func (r *memRepo) Scope() db.ScopePolicy { return db.ScopeTenant }

func (r *memRepo) table(schema db.Schema) (map[int64]*Entry, error) {
	r.calls++
	t, ok := r.rows[schema]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownTenant, schema)
	}
	return t, nil
}

func (r *memRepo) Create(_ context.Context, schema db.Schema, n *NewEntry, actorID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(schema)
	if err != nil {
		return nil, err
	}
	r.nextID[schema]++
	now := time.Now()
	e := &Entry{
		ID: r.nextID[schema], PatientID: n.PatientID, Category: n.Category(), Name: n.Name,
		Description: n.Description, DiagnosisDate: n.DiagnosisDate, ResolutionDate: n.ResolutionDate,
		Status: n.Status, Notes: n.Notes, Details: n.Details, CreatedAt: now, UpdatedAt: now,
	}
	if actorID != "" {
		e.CreatedBy, e.UpdatedBy = &actorID, &actorID
	}
	t[e.ID] = e
	return e, nil
}

func (r *memRepo) GetByID(_ context.Context, schema db.Schema, id int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(schema)
	if err != nil {
		return nil, err
	}
	e, ok := t[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return e, nil
}

func (r *memRepo) ListByPatient(_ context.Context, schema db.Schema, patientID int64, f Filters) ([]*Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(schema)
	if err != nil {
		return nil, 0, err
	}
	items := []*Entry{}
	for _, e := range t {
		if e.PatientID != patientID {
			continue
		}
		if f.Category != nil && e.Category != *f.Category {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsCriticalAllergy() != items[j].IsCriticalAllergy() {
			return items[i].IsCriticalAllergy()
		}
		return items[i].ID > items[j].ID
	})
	return items, len(items), nil
}

func (r *memRepo) Update(_ context.Context, schema db.Schema, id int64, p *Patch, actorID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(schema)
	if err != nil {
		return nil, err
	}
	e, ok := t[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cols, err := p.assignments(e.Category)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		switch c.name {
		case "status":
			e.Status = c.value.(string)
		case "name":
			e.Name = c.value.(string)
		}
	}
	if len(cols) > 0 && actorID != "" {
		e.UpdatedBy = &actorID
	}
	return e, nil
}

func (r *memRepo) Delete(_ context.Context, schema db.Schema, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.table(schema)
	if err != nil {
		return err
	}
	if _, ok := t[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(t, id)
	return nil
}

func (r *memRepo) GetCriticalAllergies(ctx context.Context, schema db.Schema, patientID int64) ([]*Entry, error) {
	all, _, err := r.ListByPatient(ctx, schema, patientID, Filters{})
	if err != nil {
		return nil, err
	}
	out := []*Entry{}
	for _, e := range all {
		if e.IsCriticalAllergy() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) GetSummary(ctx context.Context, schema db.Schema, patientID int64) (*Summary, error) {
	all, _, err := r.ListByPatient(ctx, schema, patientID, Filters{})
	if err != nil {
		return nil, err
	}
	s := &Summary{PatientID: patientID, Total: len(all), Recent: all}
	for _, e := range all {
		if e.Category == CategoryAllergy {
			s.Allergies.Total++
		}
		if e.IsCriticalAllergy() {
			s.CriticalAllergies++
		}
	}
	return s, nil
}

func tenantCtx(schema db.Schema) context.Context {
	return db.WithSchema(context.Background(), schema)
}

func penicillin() *NewEntry {
	return &NewEntry{
		PatientID: 42, Name: "Penicillin",
		Details: AllergyDetails{AllergenType: strPtr("medication"), Reaction: strPtr("anaphylaxis"), IsCritical: true},
	}
}

func TestService_CriticalAllergiesAreTenantIsolated(t *testing.T) {
	repo := newMemRepo("tenant_acme", "tenant_other")
	svc := NewService(repo)

	created, err := svc.Create(tenantCtx("tenant_acme"), penicillin(), "dr-1")
	require.NoError(t, err)

	acme, err := svc.CriticalAllergies(tenantCtx("tenant_acme"), 42)
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, created.ID, acme[0].ID)

	other, err := svc.CriticalAllergies(tenantCtx("tenant_other"), 42)
	require.NoError(t, err)
	assert.Empty(t, other)

	// Guessing the id from another tenant looks like a missing row.
	_, err = svc.Get(tenantCtx("tenant_other"), created.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_MissingTenantShortCircuits(t *testing.T) {
	repo := newMemRepo("tenant_acme")
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), penicillin(), "dr-1")
	assert.ErrorIs(t, err, apperr.ErrMissingTenantContext)
	_, _, err = svc.ListByPatient(context.Background(), 42, Filters{})
	assert.ErrorIs(t, err, apperr.ErrMissingTenantContext)
	assert.ErrorIs(t, svc.Delete(context.Background(), 1), apperr.ErrMissingTenantContext)
	assert.Zero(t, repo.calls)
}

func TestService_CreateValidatesBeforeRepository(t *testing.T) {
	repo := newMemRepo("tenant_acme")
	svc := NewService(repo)

	_, err := svc.Create(tenantCtx("tenant_acme"), &NewEntry{PatientID: 42, Name: "x"}, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidCategory)

	_, err = svc.Create(tenantCtx("tenant_acme"), &NewEntry{Name: "x", Details: SurgeryDetails{}}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, repo.calls)
}

func TestService_CreateDefaultsStatus(t *testing.T) {
	svc := NewService(newMemRepo("tenant_acme"))
	e, err := svc.Create(tenantCtx("tenant_acme"), &NewEntry{PatientID: 1, Name: "Hypertension", Details: ConditionDetails{}}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, e.Status)
}

func TestService_UnknownTenant(t *testing.T) {
	svc := NewService(newMemRepo("tenant_acme"))
	_, err := svc.Get(tenantCtx("tenant_ghost"), 1)
	assert.ErrorIs(t, err, apperr.ErrUnknownTenant)
}

func TestService_ListByPatientValidation(t *testing.T) {
	svc := NewService(newMemRepo("tenant_acme"))
	_, _, err := svc.ListByPatient(tenantCtx("tenant_acme"), 0, Filters{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = svc.ListByPatient(tenantCtx("tenant_acme"), 1, Filters{Status: "bogus"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_SparseUpdate(t *testing.T) {
	svc := NewService(newMemRepo("tenant_acme"))
	ctx := tenantCtx("tenant_acme")

	created, err := svc.Create(ctx, penicillin(), "dr-1")
	require.NoError(t, err)

	p := &Patch{}
	p.Status.Set(StatusResolved)
	updated, err := svc.Update(ctx, created.ID, p, "dr-2")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, updated.Status)
	assert.Equal(t, "Penicillin", updated.Name)
	assert.Equal(t, "anaphylaxis", *updated.Details.(AllergyDetails).Reaction)

	crit, err := svc.CriticalAllergies(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, crit)
}

func TestService_Scope(t *testing.T) {
	assert.Equal(t, db.ScopeTenant, NewService(newMemRepo()).Scope())
}
