// Package database owns the GORM connection shared by the server and
// the operator tooling: DSN construction, connection pooling, and the
// bridge from GORM's logger to hclog.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialects supported by Connect. Postgres backs production; SQLite backs
// development and tests.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Config holds connection settings for the persistent store.
type Config struct {
	// Dialect selects the driver; defaults to postgres.
	Dialect string

	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// SQLitePath is the database file (or ":memory:") when Dialect is
	// sqlite.
	SQLitePath string

	// Connection pool settings.
	MaxIdleConns    int           // default 10
	MaxOpenConns    int           // default 25
	ConnMaxLifetime time.Duration // default 5 minutes
	ConnMaxIdleTime time.Duration // default 10 minutes
}

// PostgresDSN renders the keyword/value connection string.
func (cfg Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}

// Connect opens the store with pooling configured and GORM logging
// bridged into the supplied hclog logger.
func Connect(cfg Config, log hclog.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{}
	if log != nil {
		gormConfig.Logger = NewGormLogger(log.Named("gorm"))
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DialectSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)
	case DialectPostgres, "":
		dialector = postgres.Open(cfg.PostgresDSN())
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", cfg.Dialect)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 10
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = 25
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	if log != nil {
		log.Info("connected to database",
			"dialect", cfg.Dialect,
			"database", cfg.DBName,
			"max_idle_conns", maxIdleConns,
			"max_open_conns", maxOpenConns,
			"conn_max_lifetime", connMaxLifetime,
			"conn_max_idle_time", connMaxIdleTime,
		)
	}

	return db, nil
}

// PoolStats holds connection pool statistics surfaced by the health
// endpoint.
type PoolStats struct {
	MaxOpenConnections int           `json:"maxOpenConnections"`
	OpenConnections    int           `json:"openConnections"`
	InUse              int           `json:"inUse"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"waitCount"`
	WaitDuration       time.Duration `json:"waitDuration"`
	MaxIdleClosed      int64         `json:"maxIdleClosed"`
	MaxIdleTimeClosed  int64         `json:"maxIdleTimeClosed"`
	MaxLifetimeClosed  int64         `json:"maxLifetimeClosed"`
}

// GetPoolStats returns connection pool statistics from a GORM DB
// instance.
func GetPoolStats(db *gorm.DB) (*PoolStats, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	stats := sqlDB.Stats()
	return &PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}, nil
}

// gormHclogAdapter adapts hclog.Logger to gorm's logger.Interface.
type gormHclogAdapter struct {
	logger hclog.Logger
	level  logger.LogLevel
}

// NewGormLogger creates a GORM logger that writes through hclog.
func NewGormLogger(log hclog.Logger) logger.Interface {
	return &gormHclogAdapter{
		logger: log,
		level:  logger.Info,
	}
}

// LogMode sets the log level for GORM queries.
func (g *gormHclogAdapter) LogMode(level logger.LogLevel) logger.Interface {
	return &gormHclogAdapter{
		logger: g.logger,
		level:  level,
	}
}

// Info logs info messages.
func (g *gormHclogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info && g.logger != nil {
		g.logger.Info(msg, data...)
	}
}

// Warn logs warning messages.
func (g *gormHclogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn && g.logger != nil {
		g.logger.Warn(msg, data...)
	}
}

// Error logs error messages.
func (g *gormHclogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error && g.logger != nil {
		g.logger.Error(msg, data...)
	}
}

// Trace logs SQL queries and execution time.
func (g *gormHclogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	if err != nil && g.level >= logger.Error {
		g.logger.Error("database query failed",
			"error", err,
			"elapsed", elapsed,
			"rows", rows,
			"sql", sql,
		)
	} else if elapsed > 200*time.Millisecond && g.level >= logger.Warn {
		g.logger.Warn("slow database query",
			"elapsed", elapsed,
			"rows", rows,
			"sql", sql,
		)
	} else if g.level >= logger.Info {
		g.logger.Debug("database query",
			"elapsed", elapsed,
			"rows", rows,
			"sql", sql,
		)
	}
}
