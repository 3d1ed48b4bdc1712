package provision

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// structure lists the columns, constraints and indexes of schema in a stable
// order, one string per object.
func structure(t *testing.T, ctx context.Context, q db.Querier, schema db.Schema) []string {
	t.Helper()
	rows, err := q.Query(ctx, `
SELECT 'column ' || table_name || '.' || column_name || ' ' || data_type || ' ' || is_nullable || ' ' || COALESCE(column_default, '')
FROM information_schema.columns WHERE table_schema = $1
UNION ALL
SELECT 'constraint ' || c.conname || ' ' || pg_get_constraintdef(c.oid)
FROM pg_constraint c JOIN pg_namespace n ON n.oid = c.connamespace WHERE n.nspname = $1
UNION ALL
SELECT 'index ' || indexname || ' ' || indexdef FROM pg_indexes WHERE schemaname = $1
ORDER BY 1`, schema.String())
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

// Runs the shipped tenant definitions against a real Postgres when
// TEST_DATABASE_URL is set.
func TestProvisionerIntegration_ShippedDefinitionsAreIdempotent(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	defs, err := LoadDir("../../../definitions/tenant")
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	schema := db.Schema("tenant_it_provision")
	_, _ = pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema.Quoted()+" CASCADE")
	require.NoError(t, db.CreateTenantSchema(ctx, pool, schema))
	defer func() {
		_, _ = pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema.Quoted()+" CASCADE")
	}()

	p := New(pool, db.NewRegistry(pool, nil, zerolog.Nop()), nil, zerolog.Nop())

	first, err := p.Apply(ctx, defs, schema)
	require.NoError(t, err)
	require.NoError(t, first.Err())
	after1 := structure(t, ctx, pool, schema)

	var columns int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = $1 AND table_name = 'medical_history'`,
		schema.String()).Scan(&columns))
	assert.Equal(t, 26, columns)

	second, err := p.Apply(ctx, defs, schema)
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.NoError(t, second.Results[0].Err)
	assert.Equal(t, after1, structure(t, ctx, pool, schema))

	statuses, err := p.Status(ctx, defs, schema)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].InSync())
}
