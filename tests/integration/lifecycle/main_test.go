//go:build integration
// +build integration

package lifecycle

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/migrate"
	"github.com/provenworks/sopctl/pkg/database"
)

// testDB is the shared PostgreSQL connection for this package. Tests
// isolate themselves through distinct usernames and department codes,
// not separate databases, so they also exercise coexistence.
var testDB *gorm.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("sopctl"),
		tcpostgres.WithUsername("sopctl"),
		tcpostgres.WithPassword("sopctl"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}

	code := run(ctx, container, m)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func run(
	ctx context.Context, container *tcpostgres.PostgresContainer, m *testing.M,
) int {
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("reading connection string: %v", err)
		return 1
	}

	// Apply the real SQL migrations, the same path production uses.
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("opening database for migrations: %v", err)
		return 1
	}
	if err := migrate.RunMigrations(sqlDB); err != nil {
		log.Printf("running migrations: %v", err)
		return 1
	}
	_ = sqlDB.Close()

	host, err := container.Host(ctx)
	if err != nil {
		log.Printf("reading container host: %v", err)
		return 1
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Printf("reading container port: %v", err)
		return 1
	}

	testDB, err = database.Connect(database.Config{
		Dialect:  database.DialectPostgres,
		Host:     host,
		Port:     port.Int(),
		User:     "sopctl",
		Password: "sopctl",
		DBName:   "sopctl",
		SSLMode:  "disable",
	}, nil)
	if err != nil {
		log.Printf("connecting: %v", err)
		return 1
	}

	return m.Run()
}
