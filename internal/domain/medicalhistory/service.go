package medicalhistory

import (
	"context"
	"fmt"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// Service resolves the caller's tenant schema from the context and validates
// input before anything reaches the repository.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Scope() db.ScopePolicy { return s.repo.Scope() }

func (s *Service) Create(ctx context.Context, e *NewEntry, actorID string) (*Entry, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, schema, e, actorID)
}

func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, schema, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64, f Filters) ([]*Entry, int, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if patientID <= 0 {
		return nil, 0, fmt.Errorf("%w: invalid patient id", apperr.ErrValidation)
	}
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, schema, patientID, f)
}

func (s *Service) Update(ctx context.Context, id int64, p *Patch, actorID string) (*Entry, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, schema, id, p, actorID)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, schema, id)
}

func (s *Service) CriticalAllergies(ctx context.Context, patientID int64) ([]*Entry, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetCriticalAllergies(ctx, schema, patientID)
}

func (s *Service) Summary(ctx context.Context, patientID int64) (*Summary, error) {
	schema, err := db.SchemaFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetSummary(ctx, schema, patientID)
}
