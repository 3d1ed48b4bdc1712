package clinicalnotes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/pkg/pagination"
)

var (
	notesTable    = pgx.Identifier{db.GlobalSchema, "clinical_notes"}.Sanitize()
	versionsTable = pgx.Identifier{db.GlobalSchema, "clinical_note_versions"}.Sanitize()
)

const noteCols = `id, patient_id, provider_id, encounter_id, note_type, content, summary,
	status, signed_by, signed_at, created_by, updated_by, created_at, updated_at`

const versionCols = `id, note_id, version_number, note_type, content, summary, changed_by, created_at`

type repoPG struct{ global *db.Global }

// NewRepoPG returns a Repository over the shared pool. No schema is bound.
func NewRepoPG(global *db.Global) Repository {
	return &repoPG{global: global}
}

func (r *repoPG) Scope() db.ScopePolicy { return r.global.Scope() }

func (r *repoPG) q() db.Querier { return r.global.Querier() }

func scanNote(row pgx.Row) (*Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.PatientID, &n.ProviderID, &n.EncounterID, &n.NoteType, &n.Content, &n.Summary,
		&n.Status, &n.SignedBy, &n.SignedAt, &n.CreatedBy, &n.UpdatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.NoteID, &v.VersionNumber, &v.NoteType, &v.Content, &v.Summary, &v.ChangedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func actorArg(actorID string) any {
	if actorID == "" {
		return nil
	}
	return actorID
}

func (r *repoPG) Create(ctx context.Context, n *NewNote, actorID string) (*Note, error) {
	id := uuid.New()
	out, err := scanNote(r.q().QueryRow(ctx, `
		INSERT INTO `+notesTable+` (id, patient_id, provider_id, encounter_id, note_type, content, summary,
			status, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+noteCols,
		id, n.PatientID, n.ProviderID, n.EncounterID, n.NoteType, n.Content, n.Summary,
		StatusDraft, actorArg(actorID)))
	if err != nil {
		return nil, db.Translate(fmt.Errorf("create note: %w", err))
	}
	return out, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID, withVersions bool) (*Note, error) {
	n, err := scanNote(r.q().QueryRow(ctx, `SELECT `+noteCols+` FROM `+notesTable+` WHERE id = $1`, id))
	if err != nil {
		return nil, db.Translate(fmt.Errorf("get note %s: %w", id, err))
	}
	if withVersions {
		if n.Versions, err = r.versions(ctx, id); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (r *repoPG) List(ctx context.Context, f Filters) ([]*Note, int, error) {
	sq := db.NewSearchQuery(notesTable, noteCols)
	if f.PatientID > 0 {
		sq.AddEq("patient_id", f.PatientID)
	}
	if f.ProviderID > 0 {
		sq.AddEq("provider_id", f.ProviderID)
	}
	if f.NoteType != "" {
		sq.AddEq("note_type", f.NoteType)
	}
	if f.Status != "" {
		sq.AddEq("status", f.Status)
	}
	if f.From != nil {
		sq.AddGTE("created_at", *f.From)
	}
	if f.To != nil {
		sq.AddLTE("created_at", *f.To)
	}
	if f.Before != nil {
		sq.AddLT("created_at", *f.Before)
	}
	if f.Search != "" {
		sq.AddContainsAny([]string{"content", "summary"}, f.Search)
	}
	sq.OrderBy("created_at DESC")

	var total int
	if err := r.q().QueryRow(ctx, sq.CountSQL(), sq.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.Translate(fmt.Errorf("count notes: %w", err))
	}

	pg := pagination.New(f.Page, f.Limit).WithOffset(f.Offset)
	rows, err := r.q().Query(ctx, sq.DataSQL(), sq.DataArgs(pg.Limit, pg.Offset)...)
	if err != nil {
		return nil, 0, db.Translate(fmt.Errorf("list notes: %w", err))
	}
	defer rows.Close()
	items := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, db.Translate(err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Translate(err)
	}
	return items, total, nil
}

// Update only touches draft notes. A signed note, like a missing one, yields
// ErrNotFound.
func (r *repoPG) Update(ctx context.Context, id uuid.UUID, p *Patch, actorID string) (*Note, error) {
	cols, err := p.assignments()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return r.GetByID(ctx, id, false)
	}

	sets := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value)
	}
	sets = append(sets, fmt.Sprintf("updated_by = $%d", len(args)+1), "updated_at = NOW()")
	args = append(args, actorArg(actorID), id)

	sql := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND status = '%s' RETURNING %s`,
		notesTable, strings.Join(sets, ", "), len(args), StatusDraft, noteCols)
	n, err := scanNote(r.q().QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: note %s not found or not editable", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, db.Translate(fmt.Errorf("update note %s: %w", id, err))
	}
	return n, nil
}

// Sign moves a draft note to signed. Signing anything else, including a note
// that does not exist, is reported as ErrNotFound and changes nothing.
func (r *repoPG) Sign(ctx context.Context, id uuid.UUID, signedBy string) (*Note, error) {
	n, err := scanNote(r.q().QueryRow(ctx, `
		UPDATE `+notesTable+`
		SET status = $2, signed_by = $3, signed_at = NOW(), updated_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+noteCols,
		id, StatusSigned, signedBy, StatusDraft))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: note %s not found or already signed", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, db.Translate(fmt.Errorf("sign note %s: %w", id, err))
	}
	return n, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q().Exec(ctx, `DELETE FROM `+notesTable+` WHERE id = $1`, id)
	if err != nil {
		return db.Translate(fmt.Errorf("delete note %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}
	return nil
}

// GetVersions distinguishes a missing note (ErrNotFound) from a note with no
// captured versions (empty slice).
func (r *repoPG) GetVersions(ctx context.Context, id uuid.UUID) ([]*Version, error) {
	var exists bool
	if err := r.q().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+notesTable+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, db.Translate(fmt.Errorf("check note %s: %w", id, err))
	}
	if !exists {
		return nil, fmt.Errorf("%w: note %s", apperr.ErrNotFound, id)
	}
	return r.versions(ctx, id)
}

func (r *repoPG) versions(ctx context.Context, id uuid.UUID) ([]*Version, error) {
	rows, err := r.q().Query(ctx, `SELECT `+versionCols+` FROM `+versionsTable+`
		WHERE note_id = $1 ORDER BY version_number ASC`, id)
	if err != nil {
		return nil, db.Translate(fmt.Errorf("list versions of %s: %w", id, err))
	}
	defer rows.Close()
	out := []*Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, db.Translate(err)
		}
		out = append(out, v)
	}
	return out, db.Translate(rows.Err())
}

func (r *repoPG) GetVersion(ctx context.Context, id uuid.UUID, number int) (*Version, error) {
	v, err := scanVersion(r.q().QueryRow(ctx, `SELECT `+versionCols+` FROM `+versionsTable+`
		WHERE note_id = $1 AND version_number = $2`, id, number))
	if err != nil {
		return nil, db.Translate(fmt.Errorf("get version %d of %s: %w", number, id, err))
	}
	return v, nil
}
