package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

const (
	TenantPrefix = "tenant_"
	DemoPrefix   = "demo_"

	// DefaultTenantHeader carries the tenant identifier on inbound requests.
	DefaultTenantHeader = "X-Tenant-ID"

	maxIdentifierLen = 63
)

type contextKey string

const schemaKey contextKey = "tenant_schema"

var schemaPattern = regexp.MustCompile(`^(tenant|demo)_[a-z0-9_]+$`)

// Schema is the name of one tenant's private namespace, e.g. "tenant_acme".
type Schema string

// SchemaForTenant maps a tenant identifier to its schema name. Identifiers that
// already carry a tenant_ or demo_ prefix are kept as they are.
func SchemaForTenant(tenantID string, demo bool) (Schema, error) {
	id := strings.ToLower(strings.TrimSpace(tenantID))
	if id == "" {
		return "", apperr.ErrMissingTenantContext
	}
	if !strings.HasPrefix(id, TenantPrefix) && !strings.HasPrefix(id, DemoPrefix) {
		if demo {
			id = DemoPrefix + id
		} else {
			id = TenantPrefix + id
		}
	}
	s := Schema(id)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Validate checks the naming convention and the Postgres identifier limit.
func (s Schema) Validate() error {
	if s == "" {
		return apperr.ErrMissingTenantContext
	}
	if len(s) > maxIdentifierLen || !schemaPattern.MatchString(string(s)) {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidTenant, string(s))
	}
	return nil
}

// Quoted returns the schema as a sanitized SQL identifier.
func (s Schema) Quoted() string {
	return pgx.Identifier{string(s)}.Sanitize()
}

// Table returns a schema-qualified, quoted table reference.
func (s Schema) Table(name string) string {
	return pgx.Identifier{string(s), name}.Sanitize()
}

func (s Schema) String() string { return string(s) }

// IsDemo reports whether the schema belongs to a demo tenant.
func (s Schema) IsDemo() bool { return strings.HasPrefix(string(s), DemoPrefix) }

// WithSchema stores the resolved tenant schema in ctx.
func WithSchema(ctx context.Context, s Schema) context.Context {
	return context.WithValue(ctx, schemaKey, s)
}

// SchemaFromContext returns the tenant schema resolved for this request.
func SchemaFromContext(ctx context.Context) (Schema, error) {
	s, _ := ctx.Value(schemaKey).(Schema)
	if s == "" {
		return "", apperr.ErrMissingTenantContext
	}
	return s, nil
}

// TenantMiddleware resolves the tenant from the given header and stores the
// schema on the request context. It never touches the pool: connections are
// leased per unit of work by Scoper.
func TenantMiddleware(header string) echo.MiddlewareFunc {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			schema, err := SchemaForTenant(c.Request().Header.Get(header), false)
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(WithSchema(c.Request().Context(), schema)))
			c.Set("tenant_schema", schema.String())
			return next(c)
		}
	}
}

// CreateTenantSchema creates the namespace for a newly onboarded tenant.
// Table structures are applied afterwards by the provisioner.
func CreateTenantSchema(ctx context.Context, q Querier, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema.Quoted()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}
