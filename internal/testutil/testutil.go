// Package testutil holds shared fixtures for package tests: an
// in-memory database per test and principal seeding.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/pkg/database"
	"github.com/provenworks/sopctl/pkg/models"
)

// TestPassword is the credential every seeded principal gets. Hashed at
// minimum cost; these hashes exist only inside a test process.
const TestPassword = "correct horse battery staple"

var dbCounter atomic.Int64

// OpenDB returns a fresh in-memory database with the schema migrated.
// Each call gets its own database; tests never share state.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("file:sopctl_test_%d?mode=memory&cache=shared",
		dbCounter.Add(1))
	db, err := database.Connect(database.Config{
		Dialect:      database.DialectSQLite,
		SQLitePath:   name,
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return db
}

// SeedPrincipal creates an active principal with the given roles and
// the shared test password.
func SeedPrincipal(
	t *testing.T, db *gorm.DB, username string, roleNames ...string,
) *models.Principal {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	roles, err := models.GetRolesByName(db, roleNames)
	require.NoError(t, err)

	p := &models.Principal{
		Username:       username,
		CredentialHash: string(hash),
		DisplayName:    username,
		Active:         true,
		Roles:          roles,
	}
	require.NoError(t, p.Create(db))
	return p
}

// SeedDocument creates a document owned by the given principal.
func SeedDocument(
	t *testing.T, db *gorm.DB, owner *models.Principal, number string,
) *models.Document {
	t.Helper()

	doc := &models.Document{
		DocumentNumber: number,
		Title:          "Equipment Cleaning Procedure",
		DepartmentCode: "QUAL",
		OwnerID:        owner.ID,
	}
	require.NoError(t, doc.Create(db))
	return doc
}

// SeedVersion creates a version row in the given status, flagged as
// latest.
func SeedVersion(
	t *testing.T, db *gorm.DB, doc *models.Document,
	number int, versionString string, status models.VersionStatus,
) *models.DocumentVersion {
	t.Helper()

	content := "<h1>Procedure</h1>"
	v := &models.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: number,
		VersionString: versionString,
		Status:        status,
		Content:       content,
		ContentHash:   models.HashContent(content),
		IsLatest:      true,
	}
	require.NoError(t, v.Create(db))
	return v
}
