// Package postgres implements every store contract on PostgreSQL through
// database/sql. Both the lib/pq ("postgres") and the pgx ("pgx") drivers
// are registered.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/diagnostics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/lease"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/reconciler"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
)

// PoolConfig sizes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open opens a pool with the named driver ("postgres" or "pgx") and pings it.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return db, nil
}

// Store implements the persistence contracts using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	logger    *zap.Logger
}

// New creates a store. A positive opTimeout bounds every statement.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, logger: zap.NewNop()}
}

func (s *Store) WithLogger(l *zap.Logger) *Store {
	s.logger = l
	return s
}

// DB exposes the pool for health checks and migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ProjectOwner resolves the tenant that owns projectID.
func (s *Store) ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var owner uuid.UUID
	err := s.db.QueryRowContext(ctx, queryProjectOwner, projectID).Scan(&owner)
	if isNoRows(err) {
		return uuid.Nil, domain.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "postgres: project owner")
	}
	return owner, nil
}

// Compile-time interface assertions
var (
	_ lease.Store       = (*Store)(nil)
	_ processor.Store   = (*Store)(nil)
	_ dlq.Store         = (*Store)(nil)
	_ alerting.Store    = (*Store)(nil)
	_ diagnostics.Store = (*Store)(nil)
	_ reconciler.Store  = (*Store)(nil)
	_ scheduler.History = (*Store)(nil)
)
