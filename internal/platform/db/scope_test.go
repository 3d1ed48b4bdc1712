package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

// fakeConn models the one piece of session state that matters here: the
// search_path a physical connection carries between leases.
type fakeConn struct {
	id         int
	src        *fakeSource
	mu         sync.Mutex
	searchPath string
	failReset  bool
	destroyed  bool
	statements []string
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements = append(c.statements, sql)
	switch {
	case strings.Contains(sql, "set_config('search_path'"):
		c.searchPath = args[0].(string)
	case sql == "RESET search_path":
		if c.failReset {
			return pgconn.CommandTag{}, errors.New("connection is in an aborted transaction")
		}
		c.searchPath = ""
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported by fakeConn")
}

// QueryRow answers "SELECT current_schema()" with the bound schema name.
func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fakeRow{value: strings.Trim(c.searchPath, `"`)}
}

func (c *fakeConn) Release() { c.src.put(c) }

func (c *fakeConn) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.src.replace()
}

type fakeRow struct{ value string }

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.value
	return nil
}

type fakeSource struct {
	idle    chan *fakeConn
	nextID  int32
	created []*fakeConn
	mu      sync.Mutex
}

func newFakeSource(size int) *fakeSource {
	s := &fakeSource{idle: make(chan *fakeConn, size)}
	for i := 0; i < size; i++ {
		s.replace()
	}
	return s
}

func (s *fakeSource) replace() {
	c := &fakeConn{id: int(atomic.AddInt32(&s.nextID, 1)), src: s}
	s.mu.Lock()
	s.created = append(s.created, c)
	s.mu.Unlock()
	s.idle <- c
}

func (s *fakeSource) put(c *fakeConn) { s.idle <- c }

func (s *fakeSource) acquire(ctx context.Context) (leasedConn, error) {
	select {
	case c := <-s.idle:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type knownSchemas map[Schema]bool

func (k knownSchemas) Exists(_ context.Context, _ Querier, s Schema) (bool, error) {
	return k[s], nil
}

func newTestScoper(src *fakeSource) *Scoper {
	known := knownSchemas{"tenant_acme": true, "tenant_other": true}
	return newScoper(src, known, 50*time.Millisecond, zerolog.Nop())
}

func currentSchema(ctx context.Context, q Querier) (string, error) {
	var s string
	err := q.QueryRow(ctx, "SELECT current_schema()").Scan(&s)
	return s, err
}

func TestWithTenantConnection_BindsAndResets(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	var inside string
	err := s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
		var err error
		inside, err = currentSchema(ctx, q)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", inside)

	conn := src.created[0]
	assert.Equal(t, "", conn.searchPath, "connection must return to the pool unbound")
	assert.Equal(t, "RESET search_path", conn.statements[len(conn.statements)-1])
	assert.Len(t, src.idle, 1)
}

func TestWithTenantConnection_ResetOnError(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)
	boom := errors.New("duplicate key value violates unique constraint")

	err := s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
		return boom
	})
	assert.Same(t, boom, err, "fn errors propagate unchanged")
	assert.Equal(t, "", src.created[0].searchPath)
	assert.Len(t, src.idle, 1)
}

func TestWithTenantConnection_ResetOnPanic(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	assert.Panics(t, func() {
		_ = s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
			panic("handler bug")
		})
	})
	assert.Equal(t, "", src.created[0].searchPath)
	assert.Len(t, src.idle, 1)
}

func TestWithTenantConnection_ResetOnCancelledContext(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithTenantConnection(ctx, "tenant_acme", func(ctx context.Context, q Querier) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "", src.created[0].searchPath)
	assert.Len(t, src.idle, 1, "cancelled work must still release its connection")
}

func TestWithTenantConnection_ReusedConnectionSeesNewTenant(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	_ = s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
		return errors.New("fail inside A")
	})

	var inB string
	err := s.WithTenantConnection(context.Background(), "tenant_other", func(ctx context.Context, q Querier) error {
		var err error
		inB, err = currentSchema(ctx, q)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant_other", inB)
	assert.Len(t, src.created, 1, "the same physical connection was reused")
}

func TestWithTenantConnection_FailedResetDestroysConnection(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)
	src.created[0].failReset = true

	err := s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
		return nil
	})
	require.NoError(t, err)

	assert.True(t, src.created[0].destroyed)
	require.Len(t, src.created, 2)

	var inB string
	err = s.WithTenantConnection(context.Background(), "tenant_other", func(ctx context.Context, q Querier) error {
		var err error
		inB, err = currentSchema(ctx, q)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant_other", inB)
	assert.Equal(t, "", src.created[1].searchPath)
}

func TestWithTenantConnection_UnknownTenant(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	called := false
	err := s.WithTenantConnection(context.Background(), "tenant_ghost", func(ctx context.Context, q Querier) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrUnknownTenant)
	assert.False(t, called)
	assert.Len(t, src.idle, 1)
	assert.NotContains(t, src.created[0].statements, "RESET search_path", "unbound connections are released as-is")
}

func TestWithTenantConnection_InvalidSchemaNeverAcquires(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	err := s.WithTenantConnection(context.Background(), `tenant_x"; DROP`, func(ctx context.Context, q Querier) error {
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidTenant)
	assert.Empty(t, src.created[0].statements)

	err = s.WithTenantConnection(context.Background(), "", func(ctx context.Context, q Querier) error {
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrMissingTenantContext)
}

func TestWithTenantConnection_PoolExhausted(t *testing.T) {
	src := newFakeSource(1)
	s := newTestScoper(src)

	hold := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTenantConnection(context.Background(), "tenant_acme", func(ctx context.Context, q Querier) error {
			<-hold
			return nil
		})
	}()

	// Wait until the first unit of work holds the only connection.
	require.Eventually(t, func() bool { return len(src.idle) == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	err := s.WithTenantConnection(context.Background(), "tenant_other", func(ctx context.Context, q Querier) error {
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrPoolExhausted)
	assert.True(t, apperr.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second, "acquisition must be bounded")

	close(hold)
	require.NoError(t, <-done)
	assert.Len(t, src.idle, 1)
}

func TestWithTenantConnection_CallerCancelIsNotPoolExhausted(t *testing.T) {
	src := newFakeSource(1)
	s := newScoper(src, knownSchemas{"tenant_acme": true}, time.Minute, zerolog.Nop())
	<-src.idle // drain: nothing left to lease

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.WithTenantConnection(ctx, "tenant_acme", func(ctx context.Context, q Querier) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, apperr.ErrPoolExhausted)
}

func TestWithTenantConnection_ConcurrentTenantsNeverShareConnections(t *testing.T) {
	src := newFakeSource(4)
	s := newScoper(src, knownSchemas{"tenant_a": true, "tenant_b": true, "tenant_c": true}, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	var mismatches int32
	tenants := []Schema{"tenant_a", "tenant_b", "tenant_c"}
	for i := 0; i < 60; i++ {
		tenant := tenants[i%len(tenants)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTenantConnection(context.Background(), tenant, func(ctx context.Context, q Querier) error {
				time.Sleep(time.Millisecond)
				got, err := currentSchema(ctx, q)
				if err != nil {
					return err
				}
				if got != tenant.String() {
					return fmt.Errorf("bound to %s, saw %s", tenant, got)
				}
				return nil
			})
			if err != nil {
				atomic.AddInt32(&mismatches, 1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, mismatches)
	for _, c := range src.created {
		assert.Equal(t, "", c.searchPath)
	}
}

func TestScopePolicy(t *testing.T) {
	assert.Equal(t, ScopeTenant, newTestScoper(newFakeSource(1)).Scope())
	assert.Equal(t, ScopeGlobal, NewGlobal(nil).Scope())
	assert.Equal(t, "tenant", ScopeTenant.String())
	assert.Equal(t, "global", ScopeGlobal.String())
}
