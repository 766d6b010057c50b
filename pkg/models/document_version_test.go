package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/models"
)

func TestHashContent(t *testing.T) {
	h := models.HashContent("<h1>Procedure</h1>")
	assert.Len(t, h, 64)
	assert.Equal(t, h, models.HashContent("<h1>Procedure</h1>"))
	assert.NotEqual(t, h, models.HashContent("<h1>procedure</h1>"))

	// The empty string hashes too; an empty draft still has a hash.
	assert.Len(t, models.HashContent(""), 64)
}

func TestVersionStatus(t *testing.T) {
	assert.True(t, models.StatusDraft.Valid())
	assert.True(t, models.StatusEffective.Valid())
	assert.False(t, models.VersionStatus("Shredded").Valid())

	assert.False(t, models.StatusDraft.Immutable())
	assert.False(t, models.StatusUnderReview.Immutable())
	assert.True(t, models.StatusApproved.Immutable())
	assert.True(t, models.StatusEffective.Immutable())
	assert.True(t, models.StatusObsolete.Immutable())
	assert.True(t, models.StatusArchived.Immutable())
}

func TestBeforeCreateDefaults(t *testing.T) {
	db := testutil.OpenDB(t)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	doc := testutil.SeedDocument(t, db, ada, "SOP-QUAL-20260801-0001")

	v := &models.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: 1,
		VersionString: "v0.1",
		Content:       "<h1>Body</h1>",
		IsLatest:      true,
	}
	require.NoError(t, v.Create(db))
	assert.Equal(t, models.StatusDraft, v.Status)
	assert.Equal(t, models.HashContent("<h1>Body</h1>"), v.ContentHash)

	bad := &models.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: 2,
		VersionString: "v0.2",
		Status:        models.VersionStatus("Shredded"),
	}
	assert.Error(t, bad.Create(db))
}

func TestVersionNumberUniquePerDocument(t *testing.T) {
	db := testutil.OpenDB(t)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	doc := testutil.SeedDocument(t, db, ada, "SOP-QUAL-20260801-0001")
	testutil.SeedVersion(t, db, doc, 1, "v0.1", models.StatusDraft)

	dup := &models.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: 1,
		VersionString: "v0.1",
	}
	assert.Error(t, dup.Create(db))

	// The same number on another document is fine.
	other := testutil.SeedDocument(t, db, ada, "SOP-QUAL-20260801-0002")
	ok := &models.DocumentVersion{
		DocumentID:    other.ID,
		VersionNumber: 1,
		VersionString: "v0.1",
	}
	assert.NoError(t, ok.Create(db))
}

func TestValidateVersionInvariants(t *testing.T) {
	db := testutil.OpenDB(t)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	doc := testutil.SeedDocument(t, db, ada, "SOP-QUAL-20260801-0001")

	// No versions at all is valid.
	require.NoError(t, models.ValidateVersionInvariants(db, doc.ID))

	v1 := testutil.SeedVersion(t, db, doc, 1, "v1.0", models.StatusEffective)
	require.NoError(t, db.Model(v1).Update("is_latest", false).Error)
	testutil.SeedVersion(t, db, doc, 2, "v1.1", models.StatusDraft)
	require.NoError(t, models.ValidateVersionInvariants(db, doc.ID))

	// A second Effective version breaks the invariant.
	v3 := &models.DocumentVersion{
		DocumentID:    doc.ID,
		VersionNumber: 3,
		VersionString: "v2.0",
		Status:        models.StatusEffective,
	}
	require.NoError(t, v3.Create(db))
	err := models.ValidateVersionInvariants(db, doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effective")
}

func TestMaxVersionNumberAndLatestFlag(t *testing.T) {
	db := testutil.OpenDB(t)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	doc := testutil.SeedDocument(t, db, ada, "SOP-QUAL-20260801-0001")

	n, err := models.MaxVersionNumber(db, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	testutil.SeedVersion(t, db, doc, 1, "v1.0", models.StatusObsolete)
	testutil.SeedVersion(t, db, doc, 2, "v1.1", models.StatusEffective)

	n, err = models.MaxVersionNumber(db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, models.ClearLatestFlag(db, doc.ID))
	var latest int64
	require.NoError(t, db.Model(&models.DocumentVersion{}).
		Where("document_id = ? AND is_latest = ?", doc.ID, true).
		Count(&latest).Error)
	assert.Zero(t, latest)
}
