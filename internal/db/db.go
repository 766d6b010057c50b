package db

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/pkg/database"
)

// NewDB opens the store described by the config block. The schema is
// managed by sopctl-migrate (or the server's -auto-migrate flag); NewDB
// only connects.
func NewDB(cfg config.Postgres, log hclog.Logger) (*gorm.DB, error) {
	dbConfig := database.Config{
		Dialect:  database.DialectPostgres,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	}
	if dbConfig.SSLMode == "" {
		dbConfig.SSLMode = "disable"
	}

	return database.Connect(dbConfig, log)
}
