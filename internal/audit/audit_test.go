package audit

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/models"
)

func newRecorder(t *testing.T, outbox bool) (*gorm.DB, *Recorder) {
	t.Helper()
	return testutil.OpenDB(t), NewRecorder(hclog.NewNullLogger(), outbox)
}

func TestRecordAppendsEntry(t *testing.T) {
	db, r := newRecorder(t, false)
	p := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	require.NoError(t, r.Record(db, Event{
		Principal:   p,
		Action:      models.ActionDocumentCreated,
		EntityKind:  models.EntityDocument,
		EntityID:    7,
		Description: "created SOP-QUAL-20260801-0001",
		Details: map[string]interface{}{
			"esignature": true,
			"meaning":    "Submit",
		},
		IPAddress: "10.0.0.9",
	}))

	entries, total, err := models.FindAuditEntries(db, models.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	e := entries[0]
	assert.Equal(t, p.ID, *e.PrincipalID)
	assert.Equal(t, "ada.author", e.PrincipalUsername)
	assert.True(t, e.ESigned)
	assert.Equal(t, "Submit", e.Details["meaning"])
	assert.Equal(t, "10.0.0.9", e.IPAddress)

	// No outbox row was queued.
	var queued int64
	require.NoError(t, db.Model(&models.AuditOutbox{}).Count(&queued).Error)
	assert.Zero(t, queued)
}

func TestRecordAnonymousEvent(t *testing.T) {
	db, r := newRecorder(t, false)

	require.NoError(t, r.Record(db, Event{
		Username:    "ghost",
		Action:      models.ActionLoginFailure,
		EntityKind:  models.EntityPrincipal,
		Description: "login failed",
	}))

	entries, _, err := models.FindAuditEntries(db, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].PrincipalID)
	assert.Equal(t, "ghost", entries[0].PrincipalUsername)
	assert.False(t, entries[0].ESigned)
}

func TestRecordQueuesOutboxRow(t *testing.T) {
	db, r := newRecorder(t, true)
	p := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	require.NoError(t, r.Record(db, Event{
		Principal: p,
		Action:    models.ActionLoginSuccess,
	}))

	var rows []models.AuditOutbox
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxStatusPending, rows[0].Status)
}

func TestEntriesAreAppendOnly(t *testing.T) {
	db, r := newRecorder(t, false)
	p := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	require.NoError(t, r.Record(db, Event{
		Principal: p, Action: models.ActionLoginSuccess,
	}))

	var e models.AuditEntry
	require.NoError(t, db.First(&e).Error)

	assert.Error(t, db.Model(&e).Update("description", "rewritten").Error)
	assert.Error(t, db.Delete(&e).Error)

	// The row is untouched.
	var reloaded models.AuditEntry
	require.NoError(t, db.First(&reloaded, e.ID).Error)
	assert.Equal(t, e.Description, reloaded.Description)
}

func TestQueryFilters(t *testing.T) {
	db, r := newRecorder(t, false)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	rex := testutil.SeedPrincipal(t, db, "rex.reviewer", models.RoleReviewer)

	require.NoError(t, r.Record(db, Event{
		Principal: ada, Action: models.ActionDocumentCreated,
		EntityKind: models.EntityDocument, EntityID: 1,
	}))
	require.NoError(t, r.Record(db, Event{
		Principal: rex, Action: models.ActionVersionSubmitted,
		EntityKind: models.EntityVersion, EntityID: 2,
		Details: map[string]interface{}{"esignature": true},
	}))
	require.NoError(t, r.Record(db, Event{
		Principal: rex, Action: models.ActionLoginSuccess,
		EntityKind: models.EntityPrincipal, EntityID: rex.ID,
	}))

	byUser, total, err := Query(db, QueryParams{Username: "rex.reviewer"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, byUser, 2)

	byAction, _, err := Query(db, QueryParams{
		Action: string(models.ActionDocumentCreated),
	})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, ada.ID, *byAction[0].PrincipalID)

	signed, _, err := Query(db, QueryParams{ESignedOnly: true})
	require.NoError(t, err)
	require.Len(t, signed, 1)
	assert.Equal(t, models.ActionVersionSubmitted, signed[0].Action)

	byEntity, _, err := Query(db, QueryParams{
		EntityKind: models.EntityVersion, EntityID: 2,
	})
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)

	none, _, err := Query(db, QueryParams{
		Until: time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, _, err = Query(db, QueryParams{From: "not a time"})
	assert.Error(t, err)
}

func TestESignatureReport(t *testing.T) {
	db, r := newRecorder(t, false)
	ada := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	require.NoError(t, r.Record(db, Event{
		Principal: ada, Action: models.ActionVersionSubmitted,
		EntityKind: models.EntityVersion, EntityID: 1,
		Details: map[string]interface{}{
			"esignature":      true,
			"meaning":         "Submit",
			"document_number": "SOP-QUAL-20260801-0001",
			"version_number":  "v0.1",
		},
		IPAddress: "10.0.0.9",
	}))
	require.NoError(t, r.Record(db, Event{
		Principal: ada, Action: models.ActionVersionPublished,
		EntityKind: models.EntityVersion, EntityID: 1,
		Details: map[string]interface{}{
			"esignature":      true,
			"meaning":         "Publish",
			"document_number": "SOP-QUAL-20260801-0001",
			"version_number":  "v1.0",
		},
	}))
	// Unsigned noise stays out of the report.
	require.NoError(t, r.Record(db, Event{
		Principal: ada, Action: models.ActionLoginSuccess,
	}))

	records, err := ESignatureReport(db, "", "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Oldest first.
	assert.Equal(t, "Submit", records[0].Meaning)
	assert.Equal(t, "SOP-QUAL-20260801-0001", records[0].Document)
	assert.Equal(t, "v0.1", records[0].Version)
	assert.Equal(t, "10.0.0.9", records[0].IPAddress)
	assert.Equal(t, "Publish", records[1].Meaning)

	_, err = ESignatureReport(db, "garbage", "")
	assert.Error(t, err)
}
