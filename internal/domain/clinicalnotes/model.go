package clinicalnotes

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/nullable"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// Note types.
const (
	TypeProgress     = "progress"
	TypeConsultation = "consultation"
	TypeDischarge    = "discharge"
	TypeProcedure    = "procedure"
	TypeSOAP         = "soap"
	TypeOther        = "other"
)

var validTypes = map[string]bool{
	TypeProgress: true, TypeConsultation: true, TypeDischarge: true,
	TypeProcedure: true, TypeSOAP: true, TypeOther: true,
}

// Lifecycle states. A note moves from draft to signed once; amended is
// accepted in filters but nothing in this package produces it.
const (
	StatusDraft   = "draft"
	StatusSigned  = "signed"
	StatusAmended = "amended"
)

var validStatuses = map[string]bool{StatusDraft: true, StatusSigned: true, StatusAmended: true}

// Note maps to the public clinical_notes table.
type Note struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   int64      `json:"patient_id"`
	ProviderID  int64      `json:"provider_id"`
	EncounterID *int64     `json:"encounter_id,omitempty"`
	NoteType    string     `json:"note_type"`
	Content     string     `json:"content"`
	Summary     *string    `json:"summary,omitempty"`
	Status      string     `json:"status"`
	SignedBy    *string    `json:"signed_by,omitempty"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
	CreatedBy   *string    `json:"created_by,omitempty"`
	UpdatedBy   *string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Versions    []*Version `json:"versions,omitempty"`
}

// Version is one captured revision of a note's content. Rows are written by
// a database trigger, never by this package.
type Version struct {
	ID            int64     `json:"id"`
	NoteID        uuid.UUID `json:"note_id"`
	VersionNumber int       `json:"version_number"`
	NoteType      string    `json:"note_type"`
	Content       string    `json:"content"`
	Summary       *string   `json:"summary,omitempty"`
	ChangedBy     *string   `json:"changed_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewNote is the create payload.
type NewNote struct {
	PatientID   int64   `json:"patient_id"`
	ProviderID  int64   `json:"provider_id"`
	EncounterID *int64  `json:"encounter_id,omitempty"`
	NoteType    string  `json:"note_type"`
	Content     string  `json:"content"`
	Summary     *string `json:"summary,omitempty"`
}

func (n *NewNote) Validate() error {
	if n.PatientID <= 0 {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrValidation)
	}
	if n.ProviderID <= 0 {
		return fmt.Errorf("%w: provider_id is required", apperr.ErrValidation)
	}
	if n.EncounterID != nil && *n.EncounterID <= 0 {
		return fmt.Errorf("%w: invalid encounter_id", apperr.ErrValidation)
	}
	if !validTypes[n.NoteType] {
		return fmt.Errorf("%w: invalid note_type %q", apperr.ErrValidation, n.NoteType)
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: content is required", apperr.ErrValidation)
	}
	return nil
}

// Patch is a sparse update of the content-bearing fields. Absent fields are
// left alone; summary may be cleared with an explicit null.
type Patch struct {
	NoteType nullable.Nullable[string] `json:"note_type,omitempty"`
	Content  nullable.Nullable[string] `json:"content,omitempty"`
	Summary  nullable.Nullable[string] `json:"summary,omitempty"`
}

func (p *Patch) IsEmpty() bool {
	return !p.NoteType.IsSpecified() && !p.Content.IsSpecified() && !p.Summary.IsSpecified()
}

type column struct {
	name  string
	value any
}

// assignments validates the patch and returns the columns to set, in a
// stable order.
func (p *Patch) assignments() ([]column, error) {
	var cols []column
	if p.NoteType.IsSpecified() {
		v, err := p.NoteType.Get()
		if err != nil {
			return nil, fmt.Errorf("%w: note_type cannot be null", apperr.ErrValidation)
		}
		if !validTypes[v] {
			return nil, fmt.Errorf("%w: invalid note_type %q", apperr.ErrValidation, v)
		}
		cols = append(cols, column{"note_type", v})
	}
	if p.Content.IsSpecified() {
		v, err := p.Content.Get()
		if err != nil || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: content cannot be empty", apperr.ErrValidation)
		}
		cols = append(cols, column{"content", v})
	}
	if p.Summary.IsSpecified() {
		if p.Summary.IsNull() {
			cols = append(cols, column{"summary", nil})
		} else {
			v, _ := p.Summary.Get()
			cols = append(cols, column{"summary", v})
		}
	}
	return cols, nil
}

// Filters narrows List. Zero values mean "no constraint".
type Filters struct {
	PatientID  int64
	ProviderID int64
	NoteType   string
	Status     string
	From       *time.Time
	To         *time.Time
	Before     *time.Time // exclusive upper bound, set for date-only date_to
	Search     string
	Page       int
	Limit      int

	// Offset overrides the page-derived offset when positive.
	Offset int
}

func (f *Filters) Validate() error {
	if f.PatientID < 0 || f.ProviderID < 0 {
		return fmt.Errorf("%w: ids must be positive", apperr.ErrValidation)
	}
	if f.NoteType != "" && !validTypes[f.NoteType] {
		return fmt.Errorf("%w: invalid note_type %q", apperr.ErrValidation, f.NoteType)
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: date_to precedes date_from", apperr.ErrValidation)
	}
	if f.From != nil && f.Before != nil && !f.Before.After(*f.From) {
		return fmt.Errorf("%w: date_to precedes date_from", apperr.ErrValidation)
	}
	f.Search = strings.TrimSpace(f.Search)
	return nil
}
