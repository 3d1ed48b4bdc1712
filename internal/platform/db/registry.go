package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SchemaCache is an optional shared positive cache of known tenant schemas.
type SchemaCache interface {
	IsMember(ctx context.Context, schema string) (bool, error)
	Add(ctx context.Context, schema string) error
}

// Registry enumerates tenant schemas by naming convention. Existence results
// are cached positively only: this layer never drops a schema.
type Registry struct {
	q      Querier
	cache  SchemaCache
	logger zerolog.Logger

	mu    sync.RWMutex
	known map[Schema]struct{}
}

// NewRegistry creates a registry over q. cache may be nil.
func NewRegistry(q Querier, cache SchemaCache, logger zerolog.Logger) *Registry {
	return &Registry{q: q, cache: cache, logger: logger, known: make(map[Schema]struct{})}
}

const listSchemasSQL = `SELECT schema_name FROM information_schema.schemata
	WHERE schema_name LIKE 'tenant\_%' OR schema_name LIKE 'demo\_%'
	ORDER BY schema_name`

// List returns every schema matching tenant_* or demo_*, sorted by name.
func (r *Registry) List(ctx context.Context) ([]Schema, error) {
	rows, err := r.q.Query(ctx, listSchemasSQL)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	defer rows.Close()

	var schemas []Schema
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		s := Schema(name)
		if s.Validate() != nil {
			r.logger.Warn().Str("schema", name).Msg("skipping schema with non-conforming name")
			continue
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	r.remember(schemas...)
	return schemas, nil
}

// Exists reports whether schema is present. q is the caller's leased
// connection so the check never needs a second pool slot.
func (r *Registry) Exists(ctx context.Context, q Querier, schema Schema) (bool, error) {
	r.mu.RLock()
	_, ok := r.known[schema]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	if r.cache != nil {
		hit, err := r.cache.IsMember(ctx, schema.String())
		if err != nil {
			r.logger.Warn().Err(err).Msg("schema cache lookup failed")
		} else if hit {
			r.remember(schema)
			return true, nil
		}
	}

	if q == nil {
		q = r.q
	}
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, schema.String()).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		r.remember(schema)
		if r.cache != nil {
			if err := r.cache.Add(ctx, schema.String()); err != nil {
				r.logger.Warn().Err(err).Msg("schema cache write failed")
			}
		}
	}
	return exists, nil
}

func (r *Registry) remember(schemas ...Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemas {
		r.known[s] = struct{}{}
	}
}
