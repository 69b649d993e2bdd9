package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/metrics"
)

// DB is the scheduler's connection pool. Reminders and device tokens are
// only read; notification_jobs is the one table the scheduler writes.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32  // 0 picks a size for the dispatch concurrency
	ApplicationName string // shown in pg_stat_activity; defaults to "zenpush"
}

// ConnString renders cfg as a postgres URL, escaping credentials.
func (cfg Config) ConnString() string {
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	app := cfg.ApplicationName
	if app == "" {
		app = "zenpush"
	}
	q.Set("application_name", app)

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String()
}

// PoolSize is enough for concurrent dispatch pairs, the reminder scan and
// the API handlers sharing the pool.
func PoolSize(dispatchConcurrency int) int32 {
	if dispatchConcurrency < 1 {
		dispatchConcurrency = 1
	}
	return int32(dispatchConcurrency) + 4
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = PoolSize(1)
	}
	// Ticks are minutes apart; idle connections are not worth holding.
	poolConfig.MinConns = 0
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return &DB{pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health reports whether the job store is reachable.
func (db *DB) Health(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// ReportStats publishes pool usage to the metrics registry.
func (db *DB) ReportStats() {
	metrics.SetDBConnections(int(db.pool.Stat().AcquiredConns()))
}
