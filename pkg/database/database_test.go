package database

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSQLite(t *testing.T) {
	db, err := Connect(Config{Dialect: DialectSQLite}, hclog.NewNullLogger())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())

	// Defaults from Connect.
	stats := sqlDB.Stats()
	assert.Equal(t, 25, stats.MaxOpenConnections)
}

func TestConnectUnsupportedDialect(t *testing.T) {
	_, err := Connect(Config{Dialect: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database dialect")
}

func TestConnectPoolOverrides(t *testing.T) {
	db, err := Connect(Config{
		Dialect:         DialectSQLite,
		MaxIdleConns:    5,
		MaxOpenConns:    50,
		ConnMaxLifetime: 3 * time.Minute,
		ConnMaxIdleTime: 7 * time.Minute,
	}, nil)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 50, sqlDB.Stats().MaxOpenConnections)
}

func TestPostgresDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "sopctl",
		Password: "secret",
		DBName:   "sopctl",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=sopctl password=secret dbname=sopctl sslmode=require",
		cfg.PostgresDSN())
}

func TestGetPoolStats(t *testing.T) {
	db, err := Connect(Config{Dialect: DialectSQLite}, nil)
	require.NoError(t, err)

	poolStats, err := GetPoolStats(db)
	require.NoError(t, err)
	require.NotNil(t, poolStats)

	assert.Equal(t, 25, poolStats.MaxOpenConnections)
	assert.GreaterOrEqual(t, poolStats.OpenConnections, 0)
	assert.Equal(t, poolStats.OpenConnections, poolStats.InUse+poolStats.Idle)
}

func TestPoolUnderConcurrentQueries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	db, err := Connect(Config{
		Dialect:      DialectSQLite,
		MaxIdleConns: 2,
		MaxOpenConns: 5,
	}, nil)
	require.NoError(t, err)

	const numQueries = 20
	done := make(chan error, numQueries)

	for i := 0; i < numQueries; i++ {
		go func() {
			var count int64
			done <- db.Raw("SELECT COUNT(*) FROM sqlite_master").Scan(&count).Error
		}()
	}
	for i := 0; i < numQueries; i++ {
		require.NoError(t, <-done)
	}

	poolStats, err := GetPoolStats(db)
	require.NoError(t, err)
	assert.LessOrEqual(t, poolStats.OpenConnections, 5)
}
