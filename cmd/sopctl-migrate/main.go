// sopctl-migrate applies the schema migrations from a bare DSN, for
// pipelines that run migrations before the server has any
// configuration file.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/provenworks/sopctl/internal/migrate"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL connection string")
	version := flag.Bool("version", false,
		"Print the current schema version instead of migrating")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Applies sopctl schema migrations.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLE:\n")
		fmt.Fprintf(os.Stderr,
			"  %s -dsn=\"host=localhost user=sopctl dbname=sopctl sslmode=disable\"\n",
			os.Args[0])
	}
	flag.Parse()

	if *dsn == "" {
		log.Fatal("the -dsn flag is required; run with -help for usage")
	}

	sqlDB, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if *version {
		v, dirty, err := migrate.Version(sqlDB)
		if err != nil {
			log.Fatalf("failed to read schema version: %v", err)
		}
		if dirty {
			log.Fatalf("schema version %d is dirty; manual repair needed", v)
		}
		log.Printf("schema version %d", v)
		return
	}

	log.Print("applying migrations")
	if err := migrate.RunMigrations(sqlDB); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Print("migrations complete")
}
