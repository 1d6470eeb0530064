package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database configuration
type Config struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // SQLite file, ":memory:" allowed
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

func (c Config) dsn() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", c.Path), nil
	}
	return "", fmt.Errorf("db: unsupported driver %q", c.Driver)
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverPostgres
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Path == "" {
		c.Path = "research.db"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.Driver == DriverSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY and
		// keeps ":memory:" databases shared.
		c.MaxConnections = 1
		c.IdleConnections = 1
	}
	return c
}

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("db: research job not found")

// Client is the job store. Every statement runs through a circuit breaker.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// Open connects and pings. Call Migrate before serving.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	raw, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := NewWithDB(raw, logger)
	c.logger.Info("Database client initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections))
	return c, nil
}

// NewWithDB wraps an open handle.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("database", circuitbreaker.SettingsFor(circuitbreaker.KindDatabase).ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("database", "db", cb)
	return &Client{db: db, cb: cb, logger: logger}
}

// DriverName reports the sqlx driver.
func (c *Client) DriverName() string { return c.db.DriverName() }

// Breaker exposes the statement breaker for health checks.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.cb }

// Stats reports connection pool usage.
func (c *Client) Stats() sql.DBStats { return c.db.Stats() }

// guard runs fn through the breaker. Missing rows are not failures.
func (c *Client) guard(ctx context.Context, fn func() error) error {
	var opErr error
	err := c.cb.Execute(ctx, func() error {
		opErr = fn()
		if opErr == nil || errors.Is(opErr, sql.ErrNoRows) || errors.Is(opErr, ErrJobNotFound) {
			return nil
		}
		return opErr
	})
	circuitbreaker.GlobalMetricsCollector.RecordRequest("database", "db", c.cb.State(), err == nil)
	if opErr != nil {
		return opErr
	}
	return err
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.guard(ctx, func() error { return c.db.PingContext(ctx) })
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
func (c *Client) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return c.guard(ctx, func() error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}
		return nil
	})
}

func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
