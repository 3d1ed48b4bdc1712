package clinicalnotes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Scope() db.ScopePolicy { return s.repo.Scope() }

func (s *Service) Create(ctx context.Context, n *NewNote, actorID string) (*Note, error) {
	if n.NoteType == "" {
		n.NoteType = TypeProgress
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, n, actorID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, withVersions bool) (*Note, error) {
	return s.repo.GetByID(ctx, id, withVersions)
}

func (s *Service) List(ctx context.Context, f Filters) ([]*Note, int, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p *Patch, actorID string) (*Note, error) {
	return s.repo.Update(ctx, id, p, actorID)
}

func (s *Service) Sign(ctx context.Context, id uuid.UUID, signedBy string) (*Note, error) {
	if signedBy == "" {
		return nil, fmt.Errorf("%w: signer is required", apperr.ErrValidation)
	}
	return s.repo.Sign(ctx, id, signedBy)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Versions(ctx context.Context, id uuid.UUID) ([]*Version, error) {
	return s.repo.GetVersions(ctx, id)
}

func (s *Service) Version(ctx context.Context, id uuid.UUID, number int) (*Version, error) {
	if number <= 0 {
		return nil, fmt.Errorf("%w: invalid version number", apperr.ErrValidation)
	}
	return s.repo.GetVersion(ctx, id, number)
}
