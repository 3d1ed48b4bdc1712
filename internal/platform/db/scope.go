package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// ScopePolicy tags a repository with how its tables are addressed.
type ScopePolicy int

const (
	// ScopeTenant repositories only ever run inside WithTenantConnection.
	ScopeTenant ScopePolicy = iota + 1
	// ScopeGlobal repositories address the shared public schema directly.
	ScopeGlobal
)

func (p ScopePolicy) String() string {
	switch p {
	case ScopeTenant:
		return "tenant"
	case ScopeGlobal:
		return "global"
	}
	return "unknown"
}

// Scoped is implemented by every repository so the wiring code can state and
// log which isolation policy each entity family runs under.
type Scoped interface {
	Scope() ScopePolicy
}

// TenantRunner runs a unit of work on a connection bound to one tenant schema.
type TenantRunner interface {
	Scoped
	WithTenantConnection(ctx context.Context, schema Schema, fn func(ctx context.Context, q Querier) error) error
}

const (
	DefaultAcquireTimeout = 5 * time.Second
	resetTimeout          = 2 * time.Second
)

// leasedConn is one physical connection checked out of the pool.
type leasedConn interface {
	Querier
	Release()
	// Destroy closes the physical connection instead of returning it.
	Destroy()
}

type connSource interface {
	acquire(ctx context.Context) (leasedConn, error)
}

type poolSource struct{ pool *pgxpool.Pool }

func (s poolSource) acquire(ctx context.Context) (leasedConn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledConn{c}, nil
}

type pooledConn struct{ *pgxpool.Conn }

func (c pooledConn) Destroy() {
	raw := c.Conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	_ = raw.Close(ctx)
}

// SchemaChecker confirms that a tenant schema exists, using the caller's
// already leased connection.
type SchemaChecker interface {
	Exists(ctx context.Context, q Querier, schema Schema) (bool, error)
}

// Scoper implements the acquire/bind/use/reset/release discipline. The
// search_path is reset on every exit path before the connection goes back to
// the pool; a connection whose reset fails is destroyed.
type Scoper struct {
	src            connSource
	schemas        SchemaChecker
	acquireTimeout time.Duration
	logger         zerolog.Logger
}

func NewScoper(pool *pgxpool.Pool, schemas SchemaChecker, acquireTimeout time.Duration, logger zerolog.Logger) *Scoper {
	return newScoper(poolSource{pool: pool}, schemas, acquireTimeout, logger)
}

func newScoper(src connSource, schemas SchemaChecker, acquireTimeout time.Duration, logger zerolog.Logger) *Scoper {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Scoper{src: src, schemas: schemas, acquireTimeout: acquireTimeout, logger: logger}
}

func (s *Scoper) Scope() ScopePolicy { return ScopeTenant }

// WithTenantConnection leases one connection, binds it to schema, and runs fn.
// Errors returned by fn are propagated unchanged.
func (s *Scoper) WithTenantConnection(ctx context.Context, schema Schema, fn func(ctx context.Context, q Querier) error) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	bound := false
	defer func() { s.release(conn, schema, bound) }()

	ok, err := s.schemas.Exists(ctx, conn, schema)
	if err != nil {
		return fmt.Errorf("check schema %s: %w", schema, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrUnknownTenant, schema)
	}

	bound = true
	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", schema.Quoted()); err != nil {
		return Translate(fmt.Errorf("bind schema %s: %w", schema, err))
	}

	return fn(ctx, conn)
}

func (s *Scoper) acquire(ctx context.Context) (leasedConn, error) {
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.src.acquire(actx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no connection within %s", apperr.ErrPoolExhausted, s.acquireTimeout)
	}
	return nil, fmt.Errorf("acquire connection: %w", err)
}

// release runs on a fresh context so that a cancelled request still gets its
// connection neutralised.
func (s *Scoper) release(conn leasedConn, schema Schema, bound bool) {
	if !bound {
		conn.Release()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, "RESET search_path"); err != nil {
		s.logger.Warn().Err(err).Str("schema", schema.String()).Msg("search_path reset failed, discarding connection")
		conn.Destroy()
		return
	}
	conn.Release()
}

// Global hands out the shared pool to repositories whose tables live in the
// public schema. It performs no schema binding.
type Global struct {
	q Querier
}

func NewGlobal(q Querier) *Global { return &Global{q: q} }

func (g *Global) Scope() ScopePolicy { return ScopeGlobal }

func (g *Global) Querier() Querier { return g.q }
