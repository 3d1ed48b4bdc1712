package medicalhistory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/pkg/pagination"
)

const table = "medical_history"

const entryCols = `id, patient_id, category, name, description, diagnosis_date, resolution_date,
	status, notes, icd_code, severity, treatment, procedure_code, surgeon_name,
	hospital_name, complications, allergen_type, reaction, is_critical,
	relationship, age_of_onset, is_genetic, created_by, updated_by, created_at, updated_at`

// listOrder puts active critical allergies first. is_critical is NULL outside
// the allergy category, which the CASE treats as not critical.
const listOrder = `CASE WHEN category = 'allergy' AND is_critical AND status = 'active' THEN 0 ELSE 1 END,
	diagnosis_date DESC NULLS LAST, created_at DESC`

type repoPG struct{ runner db.TenantRunner }

// NewRepoPG returns a Repository that runs every operation through runner.
// Table references are schema-qualified as well, so no statement depends on
// the connection's search_path.
func NewRepoPG(runner db.TenantRunner) Repository {
	return &repoPG{runner: runner}
}

func (r *repoPG) Scope() db.ScopePolicy { return r.runner.Scope() }

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e          Entry
		cat        string
		diagnosis  *time.Time
		resolution *time.Time
		f          detailColumns
	)
	err := row.Scan(&e.ID, &e.PatientID, &cat, &e.Name, &e.Description, &diagnosis, &resolution,
		&e.Status, &e.Notes, &f.icdCode, &f.severity, &f.treatment, &f.procedureCode, &f.surgeonName,
		&f.hospitalName, &f.complications, &f.allergenType, &f.reaction, &f.isCritical,
		&f.relationship, &f.ageOfOnset, &f.isGenetic, &e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Category, err = ParseCategory(cat)
	if err != nil {
		return nil, err
	}
	e.DiagnosisDate = datePtr(diagnosis)
	e.ResolutionDate = datePtr(resolution)
	e.Details = f.details(e.Category)
	return &e, nil
}

// detailColumns holds every category-specific column as read from a row.
type detailColumns struct {
	icdCode, severity, treatment                             *string
	procedureCode, surgeonName, hospitalName, complications *string
	allergenType, reaction                                   *string
	isCritical                                               *bool
	relationship                                             *string
	ageOfOnset                                               *int
	isGenetic                                                *bool
}

func (f detailColumns) details(cat Category) Details {
	switch cat {
	case CategoryCondition:
		return ConditionDetails{ICDCode: f.icdCode, Severity: f.severity, Treatment: f.treatment}
	case CategorySurgery:
		return SurgeryDetails{ProcedureCode: f.procedureCode, SurgeonName: f.surgeonName,
			HospitalName: f.hospitalName, Complications: f.complications}
	case CategoryAllergy:
		return AllergyDetails{AllergenType: f.allergenType, Severity: f.severity, Reaction: f.reaction,
			IsCritical: f.isCritical != nil && *f.isCritical}
	case CategoryFamilyHistory:
		return FamilyHistoryDetails{Relationship: f.relationship, AgeOfOnset: f.ageOfOnset, IsGenetic: f.isGenetic}
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	items := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func dateArg(d *Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func actorArg(actorID string) any {
	if actorID == "" {
		return nil
	}
	return actorID
}

// insertStatement writes the base columns plus exactly the column group of
// the entry's category.
func insertStatement(schema db.Schema, e *NewEntry, actorID string) (string, []any) {
	cols := []column{
		{"patient_id", e.PatientID},
		{"category", string(e.Category())},
		{"name", e.Name},
		{"description", e.Description},
		{"diagnosis_date", dateArg(e.DiagnosisDate)},
		{"resolution_date", dateArg(e.ResolutionDate)},
		{"status", e.Status},
		{"notes", e.Notes},
		{"created_by", actorArg(actorID)},
		{"updated_by", actorArg(actorID)},
	}
	cols = append(cols, e.Details.columns()...)

	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = c.value
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		schema.Table(table), strings.Join(names, ", "), strings.Join(marks, ", "), entryCols)
	return sql, args
}

// updateStatement sets only the given columns; updated_at and updated_by are
// maintained alongside.
func updateStatement(schema db.Schema, id int64, cols []column, actorID string) (string, []any) {
	cols = append(cols, column{"updated_by", actorArg(actorID)})
	set := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		set[i] = fmt.Sprintf("%s = $%d", c.name, i+1)
		args = append(args, c.value)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s",
		schema.Table(table), strings.Join(set, ", "), len(args), entryCols)
	return sql, args
}

func (r *repoPG) Create(ctx context.Context, schema db.Schema, e *NewEntry, actorID string) (*Entry, error) {
	if e.Details == nil {
		return nil, fmt.Errorf("%w: category is required", apperr.ErrInvalidCategory)
	}
	sql, args := insertStatement(schema, e, actorID)

	var out *Entry
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = scanEntry(q.QueryRow(ctx, sql, args...))
		return err
	})
	if err != nil {
		return nil, db.Translate(err)
	}
	return out, nil
}

func (r *repoPG) GetByID(ctx context.Context, schema db.Schema, id int64) (*Entry, error) {
	var out *Entry
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = getByID(ctx, q, schema, id)
		return err
	})
	if err != nil {
		return nil, db.Translate(err)
	}
	return out, nil
}

func getByID(ctx context.Context, q db.Querier, schema db.Schema, id int64) (*Entry, error) {
	return scanEntry(q.QueryRow(ctx, `SELECT `+entryCols+` FROM `+schema.Table(table)+` WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, schema db.Schema, patientID int64, f Filters) ([]*Entry, int, error) {
	qb := db.NewSearchQuery(schema.Table(table), entryCols)
	qb.AddEq("patient_id", patientID)
	if f.Category != nil {
		qb.AddEq("category", string(*f.Category))
	}
	if f.Status != "" {
		qb.AddEq("status", f.Status)
	}
	if f.IsCritical != nil {
		qb.AddEq("COALESCE(is_critical, false)", *f.IsCritical)
	}
	if f.DiagnosedFrom != nil {
		qb.AddGTE("diagnosis_date", f.DiagnosedFrom.Time)
	}
	if f.DiagnosedTo != nil {
		qb.AddLTE("diagnosis_date", f.DiagnosedTo.Time)
	}
	qb.OrderBy(listOrder)
	pg := pagination.New(f.Page, f.Limit).WithOffset(f.Offset)

	var (
		items []*Entry
		total int
	)
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		if err := q.QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
			return err
		}
		rows, err := q.Query(ctx, qb.DataSQL(), qb.DataArgs(pg.Limit, pg.Offset)...)
		if err != nil {
			return err
		}
		items, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, 0, db.Translate(err)
	}
	return items, total, nil
}

func (r *repoPG) Update(ctx context.Context, schema db.Schema, id int64, p *Patch, actorID string) (*Entry, error) {
	var out *Entry
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		current, err := getByID(ctx, q, schema, id)
		if err != nil {
			return err
		}
		cols, err := p.assignments(current.Category)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			out = current
			return nil
		}
		sql, args := updateStatement(schema, id, cols, actorID)
		out, err = scanEntry(q.QueryRow(ctx, sql, args...))
		return err
	})
	if err != nil {
		return nil, db.Translate(err)
	}
	return out, nil
}

func (r *repoPG) Delete(ctx context.Context, schema db.Schema, id int64) error {
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM `+schema.Table(table)+` WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: medical history entry %d", apperr.ErrNotFound, id)
		}
		return nil
	})
	return db.Translate(err)
}

func (r *repoPG) GetCriticalAllergies(ctx context.Context, schema db.Schema, patientID int64) ([]*Entry, error) {
	var items []*Entry
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		rows, err := q.Query(ctx, `SELECT `+entryCols+` FROM `+schema.Table(table)+`
			WHERE patient_id = $1 AND category = 'allergy' AND is_critical AND status = 'active'
			ORDER BY diagnosis_date DESC NULLS LAST, created_at DESC`, patientID)
		if err != nil {
			return err
		}
		items, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, db.Translate(err)
	}
	return items, nil
}

const summarySQL = `SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE category = 'condition'),
	COUNT(*) FILTER (WHERE category = 'condition' AND status = 'active'),
	COUNT(*) FILTER (WHERE category = 'surgery'),
	COUNT(*) FILTER (WHERE category = 'surgery' AND status = 'active'),
	COUNT(*) FILTER (WHERE category = 'allergy'),
	COUNT(*) FILTER (WHERE category = 'allergy' AND status = 'active'),
	COUNT(*) FILTER (WHERE category = 'allergy' AND is_critical AND status = 'active'),
	COUNT(*) FILTER (WHERE category = 'family_history'),
	COUNT(*) FILTER (WHERE category = 'family_history' AND status = 'active')
FROM %s WHERE patient_id = $1`

func (r *repoPG) GetSummary(ctx context.Context, schema db.Schema, patientID int64) (*Summary, error) {
	s := &Summary{PatientID: patientID}
	err := r.runner.WithTenantConnection(ctx, schema, func(ctx context.Context, q db.Querier) error {
		err := q.QueryRow(ctx, fmt.Sprintf(summarySQL, schema.Table(table)), patientID).Scan(
			&s.Total,
			&s.Conditions.Total, &s.Conditions.Active,
			&s.Surgeries.Total, &s.Surgeries.Active,
			&s.Allergies.Total, &s.Allergies.Active, &s.CriticalAllergies,
			&s.FamilyHistory.Total, &s.FamilyHistory.Active,
		)
		if err != nil {
			return err
		}
		rows, err := q.Query(ctx, `SELECT `+entryCols+` FROM `+schema.Table(table)+`
			WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`, patientID, RecentLimit)
		if err != nil {
			return err
		}
		s.Recent, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, db.Translate(err)
	}
	return s, nil
}
