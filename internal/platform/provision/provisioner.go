package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// recordTable tracks which definitions have been applied to a schema.
const recordTable = "_provisioned"

// ErrNoDefinitions is returned when a run is requested with nothing to apply.
var ErrNoDefinitions = errors.New("no provisioning definitions found")

// SchemaLister enumerates tenant schemas. Satisfied by *db.Registry.
type SchemaLister interface {
	List(ctx context.Context) ([]db.Schema, error)
}

// Locker serialises provisioning runs across processes. Satisfied by *cache.Lock.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// SchemaResult is the outcome of applying every definition to one schema.
type SchemaResult struct {
	Schema   db.Schema
	Applied  []string
	Err      error
	Duration time.Duration
}

// OK reports whether the schema was fully provisioned.
func (r SchemaResult) OK() bool { return r.Err == nil }

// Report collects the per-schema results of a provisioning run.
type Report struct {
	Results  []SchemaResult
	Started  time.Time
	Finished time.Time
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []SchemaResult {
	var out []SchemaResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded counts the schemas provisioned without error.
func (r *Report) Succeeded() int {
	return len(r.Results) - len(r.Failed())
}

// Err summarises the failed schemas, or returns nil when all succeeded.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, len(failed))
	for i, f := range failed {
		names[i] = f.Schema.String()
	}
	return fmt.Errorf("provisioning failed for %d of %d schemas: %s",
		len(failed), len(r.Results), strings.Join(names, ", "))
}

// Provisioner applies definitions to tenant schemas. Each schema is handled in
// its own transaction, so a failure leaves that schema unchanged and the run
// moves on to the next one.
type Provisioner struct {
	pool    db.TxStarter
	schemas SchemaLister
	lock    Locker
	logger  zerolog.Logger
}

// New creates a Provisioner. lock may be nil when only one process provisions.
func New(pool db.TxStarter, schemas SchemaLister, lock Locker, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		pool:    pool,
		schemas: schemas,
		lock:    lock,
		logger:  logger.With().Str("component", "provisioner").Logger(),
	}
}

// Apply provisions every tenant schema, or only the given ones when only is
// non-empty. The returned error covers setup failures; per-schema failures are
// reported in the Report.
func (p *Provisioner) Apply(ctx context.Context, defs []*Definition, only ...db.Schema) (*Report, error) {
	if len(defs) == 0 {
		return nil, ErrNoDefinitions
	}
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	targets, err := p.targets(ctx, only)
	if err != nil {
		return nil, err
	}

	report := &Report{Started: time.Now()}
	for i, schema := range targets {
		if err := ctx.Err(); err != nil {
			for _, rest := range targets[i:] {
				report.Results = append(report.Results, SchemaResult{Schema: rest, Err: err})
			}
			break
		}
		res := p.provisionSchema(ctx, schema, defs)
		report.Results = append(report.Results, res)
	}
	report.Finished = time.Now()

	p.logger.Info().
		Int("schemas", len(report.Results)).
		Int("succeeded", report.Succeeded()).
		Int("failed", len(report.Failed())).
		Dur("duration", report.Finished.Sub(report.Started)).
		Msg("provisioning run finished")
	return report, nil
}

func (p *Provisioner) targets(ctx context.Context, only []db.Schema) ([]db.Schema, error) {
	if len(only) > 0 {
		for _, s := range only {
			if err := s.Validate(); err != nil {
				return nil, err
			}
		}
		return only, nil
	}
	schemas, err := p.schemas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	return schemas, nil
}

// ApplySchema provisions one schema, typically right after it was created.
// It takes the same run lock as Apply so the two never interleave.
func (p *Provisioner) ApplySchema(ctx context.Context, schema db.Schema, defs []*Definition) (SchemaResult, error) {
	if len(defs) == 0 {
		return SchemaResult{Schema: schema}, ErrNoDefinitions
	}
	release, err := p.acquire(ctx)
	if err != nil {
		return SchemaResult{Schema: schema}, err
	}
	defer release()
	return p.provisionSchema(ctx, schema, defs), nil
}

// acquire takes the run lock when one is configured. The returned func
// releases it and is always safe to call.
func (p *Provisioner) acquire(ctx context.Context) (func(), error) {
	if p.lock == nil {
		return func() {}, nil
	}
	if err := p.lock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire provisioning lock: %w", err)
	}
	return func() {
		if err := p.lock.Release(context.Background()); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release provisioning lock")
		}
	}, nil
}

// provisionSchema applies defs to a single schema inside one transaction.
func (p *Provisioner) provisionSchema(ctx context.Context, schema db.Schema, defs []*Definition) SchemaResult {
	start := time.Now()
	res := SchemaResult{Schema: schema}

	err := p.applySchema(ctx, schema, defs)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		p.logger.Error().Err(err).Str("schema", schema.String()).Msg("schema provisioning failed")
		return res
	}
	for _, d := range defs {
		res.Applied = append(res.Applied, d.Name)
	}
	p.logger.Info().
		Str("schema", schema.String()).
		Int("definitions", len(defs)).
		Dur("duration", res.Duration).
		Msg("schema provisioned")
	return res
}

func (p *Provisioner) applySchema(ctx context.Context, schema db.Schema, defs []*Definition) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+schema.Quoted()); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if err := ensureRecordTable(ctx, tx, schema); err != nil {
		return err
	}

	for _, d := range defs {
		for i, step := range d.Steps {
			if err := applyStep(ctx, tx, schema, step); err != nil {
				return fmt.Errorf("definition %s step %d: %w", d.Name, i+1, err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+schema.Table(recordTable)+` (definition, checksum) VALUES ($1, $2)
ON CONFLICT (definition) DO UPDATE SET checksum = EXCLUDED.checksum, applied_at = NOW()`,
			d.Name, d.Checksum,
		); err != nil {
			return fmt.Errorf("record definition %s: %w", d.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureRecordTable(ctx context.Context, q db.Querier, schema db.Schema) error {
	_, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schema.Table(recordTable)+` (
    definition TEXT PRIMARY KEY,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create %s table: %w", recordTable, err)
	}
	return nil
}

func applyStep(ctx context.Context, q db.Querier, schema db.Schema, s Step) error {
	if s.Kind != KindConstraint {
		_, err := q.Exec(ctx, s.SQL)
		return err
	}

	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM pg_constraint c
    JOIN pg_namespace n ON n.oid = c.connamespace
    WHERE n.nspname = $1 AND c.conname = $2
)`, schema.String(), s.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check constraint %s: %w", s.Name, err)
	}
	if exists {
		return nil
	}
	_, err = q.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		schema.Table(s.Table), pgx.Identifier{s.Name}.Sanitize(), s.Definition))
	return err
}

// Record is one row of a schema's _provisioned table.
type Record struct {
	Definition string
	Checksum   string
	AppliedAt  time.Time
}

// SchemaStatus compares what a schema has recorded against the current definitions.
type SchemaStatus struct {
	Schema  db.Schema
	Records []Record
	// Pending lists definitions never applied or applied with a different checksum.
	Pending []string
}

// InSync reports whether every definition is applied at its current checksum.
func (s SchemaStatus) InSync() bool { return len(s.Pending) == 0 }

// Status reports the provisioning state of every tenant schema.
func (p *Provisioner) Status(ctx context.Context, defs []*Definition, only ...db.Schema) ([]SchemaStatus, error) {
	targets, err := p.targets(ctx, only)
	if err != nil {
		return nil, err
	}
	out := make([]SchemaStatus, 0, len(targets))
	for _, schema := range targets {
		st, err := p.schemaStatus(ctx, schema, defs)
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", schema, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (p *Provisioner) schemaStatus(ctx context.Context, schema db.Schema, defs []*Definition) (SchemaStatus, error) {
	st := SchemaStatus{Schema: schema}

	var present bool
	if err := p.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, schema.Table(recordTable)).Scan(&present); err != nil {
		return st, err
	}
	if present {
		rows, err := p.pool.Query(ctx, `SELECT definition, checksum, applied_at FROM `+schema.Table(recordTable)+` ORDER BY definition`)
		if err != nil {
			return st, err
		}
		defer rows.Close()
		for rows.Next() {
			var r Record
			if err := rows.Scan(&r.Definition, &r.Checksum, &r.AppliedAt); err != nil {
				return st, err
			}
			st.Records = append(st.Records, r)
		}
		if err := rows.Err(); err != nil {
			return st, err
		}
	}

	applied := make(map[string]string, len(st.Records))
	for _, r := range st.Records {
		applied[r.Definition] = r.Checksum
	}
	for _, d := range defs {
		if sum, ok := applied[d.Name]; !ok || sum != d.Checksum {
			st.Pending = append(st.Pending, d.Name)
		}
	}
	return st, nil
}
