// Package dbpool provides a fixed-size pool of validated PostgreSQL connections.
package dbpool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/backuperr"
	"github.com/supporttools/TableVault/pkg/config"
)

// releasePingTimeout bounds the health check performed when a connection is
// returned to the pool.
const releasePingTimeout = 5 * time.Second

// Pool hands out at most size concurrently checked-out connections. Callers
// block on Acquire until a slot frees or the acquire timeout elapses. Every
// connection is validated before being handed out; connections found broken on
// release are discarded and replaced lazily by the driver on the next acquire.
type Pool struct {
	db             *sql.DB
	slots          chan struct{}
	size           int
	acquireTimeout time.Duration

	mu        sync.Mutex
	inUse     int
	highWater int
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Size      int
	InUse     int
	Idle      int
	HighWater int
}

// Open connects to PostgreSQL and builds a pool of the given size.
func Open(dbCfg config.DatabaseConfig, size int, acquireTimeout time.Duration) (*Pool, error) {
	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, errors.Wrapf(backuperr.ErrConnection, "open database: %v", err)
	}

	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(backuperr.ErrConnection, "ping database %s: %v", dbCfg.Database, err)
	}

	return New(db, size, acquireTimeout), nil
}

// New builds a pool around an existing database handle.
func New(db *sql.DB, size int, acquireTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}

	slots := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		slots <- struct{}{}
	}

	return &Pool{
		db:             db,
		slots:          slots,
		size:           size,
		acquireTimeout: acquireTimeout,
	}
}

// DB exposes the underlying handle for queries that do not need a pinned
// connection, such as catalog lookups.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Acquire returns a live, validated connection. It blocks until a slot is
// free, the acquire timeout elapses, or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, errors.Wrapf(backuperr.ErrCancelled, "waiting for connection: %v", ctx.Err())
	case <-timer.C:
		return nil, errors.Wrapf(backuperr.ErrPoolExhausted, "no connection available after %s", p.acquireTimeout)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, errors.Wrapf(backuperr.ErrConnection, "open connection: %v", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		p.slots <- struct{}{}
		return nil, errors.Wrapf(backuperr.ErrConnection, "validate connection: %v", err)
	}

	p.mu.Lock()
	p.inUse++
	if p.inUse > p.highWater {
		p.highWater = p.inUse
	}
	p.mu.Unlock()

	return conn, nil
}

// Release returns a connection to the pool. Broken connections are closed so
// the driver replaces them on the next acquire; the slot is always recovered.
func (p *Pool) Release(conn *sql.Conn) {
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releasePingTimeout)
		if err := conn.PingContext(ctx); err != nil {
			log.WithError(err).Warn("Discarding unhealthy connection on release")
		}
		cancel()
		conn.Close()
	}

	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	p.slots <- struct{}{}
}

// Stats reports current occupancy and the acquired high-water mark.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.size,
		InUse:     p.inUse,
		Idle:      len(p.slots),
		HighWater: p.highWater,
	}
}

// Close shuts down the underlying database handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
