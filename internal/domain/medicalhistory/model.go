package medicalhistory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// Category is the discriminator of a medical history entry.
type Category string

const (
	CategoryCondition     Category = "condition"
	CategorySurgery       Category = "surgery"
	CategoryAllergy       Category = "allergy"
	CategoryFamilyHistory Category = "family_history"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryCondition, CategorySurgery, CategoryAllergy, CategoryFamilyHistory}

// ParseCategory returns apperr.ErrInvalidCategory for anything but the four
// known categories.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryCondition, CategorySurgery, CategoryAllergy, CategoryFamilyHistory:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", apperr.ErrInvalidCategory, s)
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusResolved = "resolved"
)

var validStatuses = map[string]bool{StatusActive: true, StatusInactive: true, StatusResolved: true}

var validSeverities = map[string]bool{"mild": true, "moderate": true, "severe": true}

var validAllergenTypes = map[string]bool{"medication": true, "food": true, "environmental": true, "other": true}

// Date is a calendar date carried as "2006-01-02" in JSON. RFC 3339
// timestamps are accepted on input and truncated to their date.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q", apperr.ErrValidation, s)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: dates must be strings", apperr.ErrValidation)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func datePtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := NewDate(t.Year(), t.Month(), t.Day())
	return &d
}

// Details is the category-specific attribute bundle of an entry. Exactly one
// implementation exists per Category, so an entry cannot carry a bundle that
// disagrees with its discriminator.
type Details interface {
	Category() Category
	columns() []column
	validate() error
}

type column struct {
	name  string
	value any
}

type ConditionDetails struct {
	ICDCode   *string `json:"icd_code,omitempty"`
	Severity  *string `json:"severity,omitempty"`
	Treatment *string `json:"treatment,omitempty"`
}

func (ConditionDetails) Category() Category { return CategoryCondition }

func (d ConditionDetails) columns() []column {
	return []column{{"icd_code", d.ICDCode}, {"severity", d.Severity}, {"treatment", d.Treatment}}
}

func (d ConditionDetails) validate() error { return checkSeverity(d.Severity) }

type SurgeryDetails struct {
	ProcedureCode *string `json:"procedure_code,omitempty"`
	SurgeonName   *string `json:"surgeon_name,omitempty"`
	HospitalName  *string `json:"hospital_name,omitempty"`
	Complications *string `json:"complications,omitempty"`
}

func (SurgeryDetails) Category() Category { return CategorySurgery }

func (d SurgeryDetails) columns() []column {
	return []column{
		{"procedure_code", d.ProcedureCode},
		{"surgeon_name", d.SurgeonName},
		{"hospital_name", d.HospitalName},
		{"complications", d.Complications},
	}
}

func (SurgeryDetails) validate() error { return nil }

// AllergyDetails always writes is_critical; an omitted flag is stored as false.
type AllergyDetails struct {
	AllergenType *string `json:"allergen_type,omitempty"`
	Severity     *string `json:"severity,omitempty"`
	Reaction     *string `json:"reaction,omitempty"`
	IsCritical   bool    `json:"is_critical"`
}

func (AllergyDetails) Category() Category { return CategoryAllergy }

func (d AllergyDetails) columns() []column {
	return []column{
		{"allergen_type", d.AllergenType},
		{"severity", d.Severity},
		{"reaction", d.Reaction},
		{"is_critical", d.IsCritical},
	}
}

func (d AllergyDetails) validate() error {
	if d.AllergenType != nil && !validAllergenTypes[*d.AllergenType] {
		return fmt.Errorf("%w: invalid allergen_type %q", apperr.ErrValidation, *d.AllergenType)
	}
	return checkSeverity(d.Severity)
}

type FamilyHistoryDetails struct {
	Relationship *string `json:"relationship,omitempty"`
	AgeOfOnset   *int    `json:"age_of_onset,omitempty"`
	IsGenetic    *bool   `json:"is_genetic,omitempty"`
}

func (FamilyHistoryDetails) Category() Category { return CategoryFamilyHistory }

func (d FamilyHistoryDetails) columns() []column {
	return []column{{"relationship", d.Relationship}, {"age_of_onset", d.AgeOfOnset}, {"is_genetic", d.IsGenetic}}
}

func (d FamilyHistoryDetails) validate() error {
	if d.AgeOfOnset != nil && (*d.AgeOfOnset < 0 || *d.AgeOfOnset > 150) {
		return fmt.Errorf("%w: age_of_onset out of range", apperr.ErrValidation)
	}
	return nil
}

func checkSeverity(s *string) error {
	if s != nil && !validSeverities[*s] {
		return fmt.Errorf("%w: invalid severity %q", apperr.ErrValidation, *s)
	}
	return nil
}

// Entry maps to a row of the tenant's medical_history table.
type Entry struct {
	ID             int64     `json:"id"`
	PatientID      int64     `json:"patient_id"`
	Category       Category  `json:"category"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	DiagnosisDate  *Date     `json:"diagnosis_date,omitempty"`
	ResolutionDate *Date     `json:"resolution_date,omitempty"`
	Status         string    `json:"status"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	UpdatedBy      *string   `json:"updated_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Details        Details   `json:"-"`
}

// MarshalJSON flattens the category bundle into the entry object.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	base, err := json.Marshal(plain(e))
	if err != nil || e.Details == nil {
		return base, err
	}
	extra, err := json.Marshal(e.Details)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(extra, []byte("{}")) {
		return base, nil
	}
	out := make([]byte, 0, len(base)+len(extra))
	out = append(out, base[:len(base)-1]...)
	out = append(out, ',')
	out = append(out, extra[1:]...)
	return out, nil
}

// IsCriticalAllergy reports whether the entry is an active allergy flagged critical.
func (e *Entry) IsCriticalAllergy() bool {
	a, ok := e.Details.(AllergyDetails)
	return ok && a.IsCritical && e.Status == StatusActive
}

// NewEntry is the input of Create. The category is taken from Details.
type NewEntry struct {
	PatientID      int64   `json:"patient_id"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	DiagnosisDate  *Date   `json:"diagnosis_date,omitempty"`
	ResolutionDate *Date   `json:"resolution_date,omitempty"`
	Status         string  `json:"status,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	Details        Details `json:"-"`
}

// Category returns the discriminator implied by the details bundle.
func (n *NewEntry) Category() Category {
	if n.Details == nil {
		return ""
	}
	return n.Details.Category()
}

// Validate checks the entry and fills in the default status.
func (n *NewEntry) Validate() error {
	if n.Details == nil {
		return fmt.Errorf("%w: category is required", apperr.ErrInvalidCategory)
	}
	if n.PatientID <= 0 {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrValidation)
	}
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return fmt.Errorf("%w: name is required", apperr.ErrValidation)
	}
	if n.Status == "" {
		n.Status = StatusActive
	}
	if !validStatuses[n.Status] {
		return fmt.Errorf("%w: invalid status %q", apperr.ErrValidation, n.Status)
	}
	if n.DiagnosisDate != nil && n.ResolutionDate != nil && n.ResolutionDate.Before(n.DiagnosisDate.Time) {
		return fmt.Errorf("%w: resolution_date precedes diagnosis_date", apperr.ErrValidation)
	}
	return n.Details.validate()
}

// UnmarshalJSON reads the category first and then decodes the body into that
// category's bundle. Fields that belong to a different category are rejected.
func (n *NewEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	catRaw, ok := raw["category"]
	if !ok {
		return fmt.Errorf("%w: category is required", apperr.ErrInvalidCategory)
	}
	var catName string
	if err := json.Unmarshal(catRaw, &catName); err != nil {
		return fmt.Errorf("%w: category must be a string", apperr.ErrInvalidCategory)
	}
	cat, err := ParseCategory(catName)
	if err != nil {
		return err
	}
	for key := range raw {
		if err := checkFieldApplies(key, cat); err != nil {
			return err
		}
	}

	type plain NewEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return decodeError(err)
	}
	details, err := decodeDetails(cat, data)
	if err != nil {
		return decodeError(err)
	}
	*n = NewEntry(p)
	n.Details = details
	return nil
}

func decodeDetails(cat Category, data []byte) (Details, error) {
	switch cat {
	case CategoryCondition:
		return decodeInto[ConditionDetails](data)
	case CategorySurgery:
		return decodeInto[SurgeryDetails](data)
	case CategoryAllergy:
		return decodeInto[AllergyDetails](data)
	case CategoryFamilyHistory:
		return decodeInto[FamilyHistoryDetails](data)
	}
	return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidCategory, cat)
}

func decodeInto[D Details](data []byte) (Details, error) {
	var d D
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeError(err error) error {
	if errors.Is(err, apperr.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
}

// categoryFields is the static mapping from discriminator to the JSON fields
// (and identically named columns) of its bundle.
var categoryFields = map[Category][]string{
	CategoryCondition:     {"icd_code", "severity", "treatment"},
	CategorySurgery:       {"procedure_code", "surgeon_name", "hospital_name", "complications"},
	CategoryAllergy:       {"allergen_type", "severity", "reaction", "is_critical"},
	CategoryFamilyHistory: {"relationship", "age_of_onset", "is_genetic"},
}

// fieldOwners inverts categoryFields. Base fields have no entry.
var fieldOwners = func() map[string][]Category {
	m := make(map[string][]Category)
	for _, c := range Categories {
		for _, f := range categoryFields[c] {
			m[f] = append(m[f], c)
		}
	}
	return m
}()

func checkFieldApplies(field string, cat Category) error {
	owners, ok := fieldOwners[field]
	if !ok {
		return nil
	}
	for _, o := range owners {
		if o == cat {
			return nil
		}
	}
	return fmt.Errorf("%w: field %s does not apply to category %s", apperr.ErrValidation, field, cat)
}
