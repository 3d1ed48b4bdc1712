package medicalhistory

import (
	"fmt"
	"strings"

	"github.com/oapi-codegen/nullable"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// Patch is a sparse update. An omitted field leaves the stored value alone; a
// field sent as null clears it.
type Patch struct {
	Category nullable.Nullable[string] `json:"category,omitempty"`

	Name           nullable.Nullable[string] `json:"name,omitempty"`
	Description    nullable.Nullable[string] `json:"description,omitempty"`
	DiagnosisDate  nullable.Nullable[Date]   `json:"diagnosis_date,omitempty"`
	ResolutionDate nullable.Nullable[Date]   `json:"resolution_date,omitempty"`
	Status         nullable.Nullable[string] `json:"status,omitempty"`
	Notes          nullable.Nullable[string] `json:"notes,omitempty"`

	ICDCode   nullable.Nullable[string] `json:"icd_code,omitempty"`
	Severity  nullable.Nullable[string] `json:"severity,omitempty"`
	Treatment nullable.Nullable[string] `json:"treatment,omitempty"`

	ProcedureCode nullable.Nullable[string] `json:"procedure_code,omitempty"`
	SurgeonName   nullable.Nullable[string] `json:"surgeon_name,omitempty"`
	HospitalName  nullable.Nullable[string] `json:"hospital_name,omitempty"`
	Complications nullable.Nullable[string] `json:"complications,omitempty"`

	AllergenType nullable.Nullable[string] `json:"allergen_type,omitempty"`
	Reaction     nullable.Nullable[string] `json:"reaction,omitempty"`
	IsCritical   nullable.Nullable[bool]   `json:"is_critical,omitempty"`

	Relationship nullable.Nullable[string] `json:"relationship,omitempty"`
	AgeOfOnset   nullable.Nullable[int]    `json:"age_of_onset,omitempty"`
	IsGenetic    nullable.Nullable[bool]   `json:"is_genetic,omitempty"`
}

type patchField struct {
	column    string
	specified bool
	null      bool
	value     any
}

func field[T any](name string, v nullable.Nullable[T]) patchField {
	f := patchField{column: name, specified: v.IsSpecified(), null: v.IsNull()}
	if f.specified && !f.null {
		f.value = v.MustGet()
	}
	return f
}

func dateField(name string, v nullable.Nullable[Date]) patchField {
	f := field(name, v)
	if d, ok := f.value.(Date); ok {
		f.value = d.Time
	}
	return f
}

func (p *Patch) fields() []patchField {
	return []patchField{
		field("name", p.Name),
		field("description", p.Description),
		dateField("diagnosis_date", p.DiagnosisDate),
		dateField("resolution_date", p.ResolutionDate),
		field("status", p.Status),
		field("notes", p.Notes),
		field("icd_code", p.ICDCode),
		field("severity", p.Severity),
		field("treatment", p.Treatment),
		field("procedure_code", p.ProcedureCode),
		field("surgeon_name", p.SurgeonName),
		field("hospital_name", p.HospitalName),
		field("complications", p.Complications),
		field("allergen_type", p.AllergenType),
		field("reaction", p.Reaction),
		field("is_critical", p.IsCritical),
		field("relationship", p.Relationship),
		field("age_of_onset", p.AgeOfOnset),
		field("is_genetic", p.IsGenetic),
	}
}

// IsEmpty reports whether the patch specifies no column at all.
func (p *Patch) IsEmpty() bool {
	for _, f := range p.fields() {
		if f.specified {
			return false
		}
	}
	return true
}

// assignments validates the patch against the stored category and returns the
// columns to write, in a fixed order.
func (p *Patch) assignments(cat Category) ([]column, error) {
	if p.Category.IsSpecified() {
		v, err := p.Category.Get()
		if err != nil || Category(v) != cat {
			return nil, fmt.Errorf("%w: category cannot be changed", apperr.ErrValidation)
		}
	}

	var cols []column
	for _, f := range p.fields() {
		if !f.specified {
			continue
		}
		if err := checkFieldApplies(f.column, cat); err != nil {
			return nil, err
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		cols = append(cols, column{name: f.column, value: f.value})
	}
	return cols, nil
}

func (f patchField) validate() error {
	switch f.column {
	case "name", "status", "is_critical":
		if f.null {
			return fmt.Errorf("%w: %s cannot be null", apperr.ErrValidation, f.column)
		}
	}
	if f.null {
		return nil
	}
	s, _ := f.value.(string)
	switch f.column {
	case "name":
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: name cannot be empty", apperr.ErrValidation)
		}
	case "status":
		if !validStatuses[s] {
			return fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, s)
		}
	case "severity":
		return checkSeverity(&s)
	case "allergen_type":
		if !validAllergenTypes[s] {
			return fmt.Errorf("%w: invalid allergen_type %q", apperr.ErrValidation, s)
		}
	case "age_of_onset":
		if n, _ := f.value.(int); n < 0 || n > 150 {
			return fmt.Errorf("%w: age_of_onset out of range", apperr.ErrValidation)
		}
	}
	return nil
}

// Filters narrows ListByPatient.
type Filters struct {
	Category      *Category
	Status        string
	IsCritical    *bool
	DiagnosedFrom *Date
	DiagnosedTo   *Date
	Page          int
	Limit         int

	// Offset overrides the page-derived offset when positive.
	Offset int
}

func (f *Filters) Validate() error {
	if f.Status != "" && !validStatuses[f.Status] {
		return fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, f.Status)
	}
	if f.DiagnosedFrom != nil && f.DiagnosedTo != nil && f.DiagnosedTo.Before(f.DiagnosedFrom.Time) {
		return fmt.Errorf("%w: diagnosed_to precedes diagnosed_from", apperr.ErrValidation)
	}
	return nil
}

// CategoryCount is a total plus the active subset for one category.
type CategoryCount struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Summary is the per-patient dashboard digest.
type Summary struct {
	PatientID         int64         `json:"patient_id"`
	Total             int           `json:"total"`
	Conditions        CategoryCount `json:"conditions"`
	Surgeries         CategoryCount `json:"surgeries"`
	Allergies         CategoryCount `json:"allergies"`
	CriticalAllergies int           `json:"critical_allergies"`
	FamilyHistory     CategoryCount `json:"family_history"`
	Recent            []*Entry      `json:"recent"`
}

// RecentLimit is the number of entries carried in a Summary.
const RecentLimit = 10
