package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/models"
)

func TestPrincipalUsernameRules(t *testing.T) {
	db := testutil.OpenDB(t)

	p := &models.Principal{
		Username:       "  Ada.Author  ",
		CredentialHash: "$2a$04$hash",
	}
	require.NoError(t, p.Create(db))
	assert.Equal(t, "ada.author", p.Username)

	// Lookup is case-insensitive via the same normalization.
	got, err := models.GetPrincipalByUsername(db, "ADA.AUTHOR")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	for _, bad := range []string{"", "a", "has space", ".leadingdot"} {
		err := (&models.Principal{
			Username:       bad,
			CredentialHash: "$2a$04$hash",
		}).Create(db)
		assert.Error(t, err, "username %q", bad)
	}

	// Duplicate usernames are rejected by the unique index.
	err = (&models.Principal{
		Username:       "ada.author",
		CredentialHash: "$2a$04$hash",
	}).Create(db)
	assert.Error(t, err)
}

func TestRolePredicates(t *testing.T) {
	db := testutil.OpenDB(t)
	p := testutil.SeedPrincipal(t, db, "multi.role",
		models.RoleAuthor, models.RoleReviewer)

	assert.True(t, p.HasRole(models.RoleAuthor))
	assert.True(t, p.HasRole(models.RoleReviewer))
	assert.False(t, p.HasRole(models.RoleApprover))
	assert.False(t, p.IsAdmin())
	assert.ElementsMatch(t,
		[]string{models.RoleAuthor, models.RoleReviewer}, p.RoleNames())

	admin := testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)
	assert.True(t, admin.IsAdmin())
	// Admin capability widening happens in rbac, not here.
	assert.False(t, admin.HasRole(models.RoleAuthor))
}

func TestSessionBookkeeping(t *testing.T) {
	db := testutil.OpenDB(t)
	p := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	now := time.Now()

	assert.False(t, p.HasActiveSession(now))

	require.NoError(t, p.SetSession(db, "sid-1", now, now.Add(time.Hour)))

	reloaded, err := models.GetPrincipalByID(db, p.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.HasActiveSession(now))
	assert.Equal(t, "sid-1", *reloaded.ActiveSessionID)

	// A session past its expiry reads as absent.
	assert.False(t, reloaded.HasActiveSession(now.Add(2*time.Hour)))

	require.NoError(t, reloaded.ClearSession(db))
	cleared, err := models.GetPrincipalByID(db, p.ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.ActiveSessionID)
	assert.False(t, cleared.HasActiveSession(now))
}

func TestDeactivateClearsSession(t *testing.T) {
	db := testutil.OpenDB(t)
	p := testutil.SeedPrincipal(t, db, "gone.user", models.RoleAuthor)
	now := time.Now()
	require.NoError(t, p.SetSession(db, "sid-1", now, now.Add(time.Hour)))

	require.NoError(t, p.Deactivate(db))

	reloaded, err := models.GetPrincipalByID(db, p.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Active)
	assert.Nil(t, reloaded.ActiveSessionID)
}

func TestUpsertPrincipal(t *testing.T) {
	db := testutil.OpenDB(t)
	roles, err := models.GetRolesByName(db, []string{models.RoleAuthor})
	require.NoError(t, err)

	created, err := models.UpsertPrincipal(db, &models.Principal{
		Username:       "ada.author",
		CredentialHash: "$2a$04$original",
		DisplayName:    "Ada",
		Active:         true,
		Roles:          roles,
	})
	require.NoError(t, err)

	// A later upsert updates display name and roles but never rotates an
	// existing credential.
	moreRoles, err := models.GetRolesByName(db,
		[]string{models.RoleAuthor, models.RoleReviewer})
	require.NoError(t, err)

	updated, err := models.UpsertPrincipal(db, &models.Principal{
		Username:       "ada.author",
		CredentialHash: "$2a$04$replacement",
		DisplayName:    "Ada Lovelace",
		Active:         true,
		Roles:          moreRoles,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Ada Lovelace", updated.DisplayName)
	assert.Equal(t, "$2a$04$original", updated.CredentialHash)
	assert.ElementsMatch(t,
		[]string{models.RoleAuthor, models.RoleReviewer}, updated.RoleNames())
}
