package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/config"
)

// ConnectionPool wraps a pgx pool with periodic health checks and basic
// connection metrics. The fraud repositories share one pool.
type ConnectionPool struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
	logger *zap.Logger

	stop    chan struct{}
	stopMu  sync.Once
	metrics PoolMetrics
	mu      sync.RWMutex
}

// PoolMetrics is a point-in-time view of pool health.
type PoolMetrics struct {
	ActiveConnections   int64
	IdleConnections     int64
	TotalConnections    int64
	MaxLifetimeClosures int64
	LastHealthCheck     time.Time
	Healthy             bool
}

// NewConnectionPool connects to the database and starts the health check
// loop. The caller owns the pool and must Close it.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "learning_integrity_backend",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := &ConnectionPool{
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}

	p.pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := p.pool.Ping(ctx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p.performHealthCheck()
	go p.healthCheckLoop()

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return p, nil
}

// Pool exposes the underlying pgx pool for repositories.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// Transaction runs fn inside a transaction, committing on nil error.
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)
}

// Healthy reports the outcome of the last health check.
func (p *ConnectionPool) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics.Healthy
}

// Metrics returns a copy of the current pool metrics.
func (p *ConnectionPool) Metrics() PoolMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

func (p *ConnectionPool) healthCheckLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.stop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.pool.Ping(ctx)
	if err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
	}

	stats := p.pool.Stat()
	p.mu.Lock()
	p.metrics = PoolMetrics{
		ActiveConnections:   int64(stats.AcquiredConns()),
		IdleConnections:     int64(stats.IdleConns()),
		TotalConnections:    int64(stats.TotalConns()),
		MaxLifetimeClosures: stats.MaxLifetimeDestroyCount(),
		LastHealthCheck:     time.Now(),
		Healthy:             err == nil,
	}
	p.mu.Unlock()
}

// Close stops the health check loop and releases all connections.
func (p *ConnectionPool) Close() error {
	p.stopMu.Do(func() { close(p.stop) })
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}

// DB returns a database/sql view of the pool for the repositories.
func (p *ConnectionPool) DB() (*sql.DB, error) {
	return stdlib.OpenDBFromPool(p.pool), nil
}
