package medicalhistory

import (
	"context"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// Repository persists medical history entries inside one tenant schema per call.
type Repository interface {
	db.Scoped
	Create(ctx context.Context, schema db.Schema, e *NewEntry, actorID string) (*Entry, error)
	GetByID(ctx context.Context, schema db.Schema, id int64) (*Entry, error)
	ListByPatient(ctx context.Context, schema db.Schema, patientID int64, f Filters) ([]*Entry, int, error)
	Update(ctx context.Context, schema db.Schema, id int64, p *Patch, actorID string) (*Entry, error)
	Delete(ctx context.Context, schema db.Schema, id int64) error
	GetCriticalAllergies(ctx context.Context, schema db.Schema, patientID int64) ([]*Entry, error)
	GetSummary(ctx context.Context, schema db.Schema, patientID int64) (*Summary, error)
}
