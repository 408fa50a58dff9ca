// Package store is the gateway to the authoritative relational store:
// a bounded connection pool, single-statement and transactional-batch
// execution, a circuit breaker and per-query-kind counters.
//
// SQL is MySQL dialect with positional `?` placeholders; values are
// always bound server-side, never interpolated.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/herr"
)

// defaultAcquireTimeout bounds how long a caller waits for a pooled
// connection before the call fails with herr.ErrPoolExhausted.
const defaultAcquireTimeout = 5 * time.Second

// defaultCoolDown is the breaker open window.
const defaultCoolDown = 30 * time.Second

// Stmt is one statement of a transactional batch.
type Stmt struct {
	SQL  string
	Args []any
}

// Options tunes the gateway.
type Options struct {
	PoolSize         int
	QueryTimeout     time.Duration
	AcquireTimeout   time.Duration
	BreakerThreshold int
	BreakerCoolDown  time.Duration
}

// Gateway wraps the sql pool with the reliability machinery.
type Gateway struct {
	db      *sql.DB
	breaker *Breaker
	metrics *queryMetrics
	opts    Options
	log     *zap.Logger
}

// Open connects to the store and configures the pool.
func Open(dsn string, opts Options, log *zap.Logger) (*Gateway, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxLifetime(time.Hour)
	return NewGateway(db, opts, log), nil
}

// NewGateway builds a gateway over an existing pool. Used by tests.
func NewGateway(db *sql.DB, opts Options, log *zap.Logger) *Gateway {
	if opts.AcquireTimeout == 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.BreakerCoolDown == 0 {
		opts.BreakerCoolDown = defaultCoolDown
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 15 * time.Second
	}
	return &Gateway{
		db:      db,
		breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerCoolDown),
		metrics: newQueryMetrics(),
		opts:    opts,
		log:     log,
	}
}

// Close shuts the pool down.
func (g *Gateway) Close() error { return g.db.Close() }

// Breaker exposes the circuit breaker state for health reporting.
func (g *Gateway) Breaker() *Breaker { return g.breaker }

// Stats returns the per-query-kind counters.
func (g *Gateway) Stats() map[QueryKind]QueryStats { return g.metrics.snapshot() }

// acquire waits for a pooled connection within AcquireTimeout.
func (g *Gateway) acquire(ctx context.Context) (*sql.Conn, error) {
	acqCtx, cancel := context.WithTimeout(ctx, g.opts.AcquireTimeout)
	defer cancel()
	conn, err := g.db.Conn(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: no connection within %s", herr.ErrPoolExhausted, g.opts.AcquireTimeout)
		}
		return nil, mapError(err)
	}
	return conn, nil
}

// mapError translates driver errors into the shared taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", herr.ErrStoreTimeout, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return herr.ErrNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, 1452: // duplicate key, FK violation
			return fmt.Errorf("%w: %v", herr.ErrConstraint, err)
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %v", herr.ErrTransient, err)
		}
	}
	return err
}

// run executes fn behind the breaker with the per-call deadline, and
// records the outcome into both the breaker and the query counters.
func (g *Gateway) run(ctx context.Context, query string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	if err := g.breaker.Allow(); err != nil {
		return err
	}
	conn, err := g.acquire(ctx)
	if err != nil {
		g.breaker.Record(err)
		return err
	}
	defer conn.Close()

	qCtx, cancel := context.WithTimeout(ctx, g.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	err = mapError(fn(qCtx, conn))
	elapsed := time.Since(start)
	g.metrics.record(classify(query), elapsed)
	if elapsed > slowQueryThreshold {
		g.log.Warn("slow query",
			zap.String("kind", string(classify(query))),
			zap.Duration("elapsed", elapsed))
	}

	// Constraint violations and not-found are business outcomes, not
	// store health signals.
	if errors.Is(err, herr.ErrConstraint) || errors.Is(err, herr.ErrNotFound) {
		g.breaker.Record(nil)
	} else {
		g.breaker.Record(err)
	}
	return err
}

// FetchOne runs a query expected to return at most one row and scans
// it into dest. Missing rows surface herr.ErrNotFound.
func (g *Gateway) FetchOne(ctx context.Context, query string, args []any, dest ...any) error {
	return g.run(ctx, query, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// FetchAll runs a query and hands each row to scan.
func (g *Gateway) FetchAll(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	return g.run(ctx, query, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// Exec runs a single mutating statement and returns affected rows.
func (g *Gateway) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := g.run(ctx, query, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// ExecBatch executes the ordered statements atomically on a single
// connection. The first error rolls everything back and is returned.
func (g *Gateway) ExecBatch(ctx context.Context, stmts []Stmt) error {
	if len(stmts) == 0 {
		return nil
	}
	return g.run(ctx, stmts[0].SQL, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // no-op after commit

		for i, s := range stmts {
			if _, err := tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}
