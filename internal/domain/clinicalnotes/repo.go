package clinicalnotes

import (
	"context"

	"github.com/google/uuid"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// Repository stores notes in the shared public schema. It is tagged
// db.ScopeGlobal: notes are visible across tenants.
type Repository interface {
	db.Scoped
	Create(ctx context.Context, n *NewNote, actorID string) (*Note, error)
	GetByID(ctx context.Context, id uuid.UUID, withVersions bool) (*Note, error)
	List(ctx context.Context, f Filters) ([]*Note, int, error)
	Update(ctx context.Context, id uuid.UUID, p *Patch, actorID string) (*Note, error)
	Sign(ctx context.Context, id uuid.UUID, signedBy string) (*Note, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetVersions(ctx context.Context, id uuid.UUID) ([]*Version, error)
	GetVersion(ctx context.Context, id uuid.UUID, number int) (*Version, error)
}
