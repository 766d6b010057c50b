//go:build integration
// +build integration

package lifecycle

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/docs"
	"github.com/provenworks/sopctl/internal/locks"
	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/internal/workflow"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

type services struct {
	auth     *auth.Service
	workflow *workflow.Service
	docs     *docs.Service
	locks    *locks.Coordinator
}

// newServices assembles the service layer on the shared PostgreSQL
// connection with the outbox enabled, the production wiring.
func newServices(t *testing.T) services {
	t.Helper()

	log := hclog.NewNullLogger()
	recorder := audit.NewRecorder(log, true)

	authSvc, err := auth.NewService(testDB, log, recorder, &config.Session{
		SigningKey:      "integration-test-signing-key",
		TokenTTLMinutes: 60,
	})
	require.NoError(t, err)

	coordinator := locks.NewCoordinator(testDB, log, recorder, &config.Locks{
		DefaultTimeoutMinutes: 30,
		MaxTimeoutMinutes:     120,
	})

	return services{
		auth:     authSvc,
		workflow: workflow.NewService(testDB, log, recorder, authSvc),
		docs:     docs.NewService(testDB, log, recorder, coordinator),
		locks:    coordinator,
	}
}

func TestLifecyclePublishAndSupersede(t *testing.T) {
	svc := newServices(t)

	ada := testutil.SeedPrincipal(t, testDB, "flow.ada", models.RoleAuthor)
	rex := testutil.SeedPrincipal(t, testDB, "flow.rex", models.RoleReviewer)
	pat := testutil.SeedPrincipal(t, testDB, "flow.pat", models.RoleApprover)
	quinn := testutil.SeedPrincipal(t, testDB, "flow.quinn", models.RoleAdmin)

	doc, err := svc.workflow.CreateDocument(ada, workflow.CreateDocumentInput{
		Title:              "Granulation Line Setup",
		DepartmentCode:     "QUAL",
		CreateInitialDraft: true,
		InitialContent:     "<h1>Granulation</h1>",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^SOP-QUAL-\d{8}-\d{4}$`, doc.DocumentNumber)

	versions, err := models.FindVersionsByDocument(testDB, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	v1 := versions[0]
	assert.Equal(t, "v0.1", v1.VersionString)

	sign := func(p *models.Principal) workflow.TransitionInput {
		return workflow.TransitionInput{
			VersionID: v1.ID,
			Password:  testutil.TestPassword,
		}
	}

	_, err = svc.workflow.Submit(ada, sign(ada))
	require.NoError(t, err)
	_, err = svc.workflow.ApproveReview(rex, sign(rex))
	require.NoError(t, err)
	_, err = svc.workflow.Approve(pat, sign(pat))
	require.NoError(t, err)
	published, err := svc.workflow.Publish(quinn, workflow.PublishInput{
		VersionID: v1.ID,
		Password:  testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEffective, published.Status)
	assert.Equal(t, "v1.0", published.VersionString)

	// Revise and publish again; the predecessor is obsoleted in the same
	// transaction and the invariants hold on real PostgreSQL.
	next, err := svc.workflow.CreateNextVersion(ada, workflow.NextVersionInput{
		ParentVersionID: v1.ID,
		ChangeType:      models.ChangeMinor,
		ChangeReason:    "annual review update",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1.1", next.VersionString)

	walk := func(p *models.Principal, fn func(*models.Principal, workflow.TransitionInput) (*models.DocumentVersion, error)) {
		t.Helper()
		_, err := fn(p, workflow.TransitionInput{
			VersionID: next.ID,
			Password:  testutil.TestPassword,
		})
		require.NoError(t, err)
	}
	walk(ada, svc.workflow.Submit)
	walk(rex, svc.workflow.ApproveReview)
	walk(pat, svc.workflow.Approve)
	_, err = svc.workflow.Publish(quinn, workflow.PublishInput{
		VersionID: next.ID,
		Password:  testutil.TestPassword,
	})
	require.NoError(t, err)

	obsoleted, err := models.GetVersionByID(testDB, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusObsolete, obsoleted.Status)
	require.NotNil(t, obsoleted.ReplacedByID)
	assert.Equal(t, next.ID, *obsoleted.ReplacedByID)

	require.NoError(t, models.ValidateVersionInvariants(testDB, doc.ID))

	// Each signed transition left an e-signed entry on its version.
	signedV1, err := models.CountAuditEntries(testDB, models.AuditFilter{
		EntityKind:  models.EntityVersion,
		EntityID:    v1.ID,
		ESignedOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), signedV1)

	// And every entry staged an outbox row in the same transaction.
	var queued int64
	require.NoError(t, testDB.Model(&models.AuditOutbox{}).
		Joins("JOIN audit_entries ON audit_entries.id = audit_outbox.audit_entry_id").
		Where("audit_entries.entity_kind = ? AND audit_entries.entity_id = ?",
			models.EntityVersion, v1.ID).
		Count(&queued).Error)
	assert.Equal(t, int64(4), queued)
}

func TestDocumentNumbersSequenceOnPostgres(t *testing.T) {
	day := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	first, err := models.NextDocumentNumber(testDB, "MANU", day)
	require.NoError(t, err)
	assert.Equal(t, "SOP-MANU-20260115-0001", first)

	second, err := models.NextDocumentNumber(testDB, "MANU", day)
	require.NoError(t, err)
	assert.Equal(t, "SOP-MANU-20260115-0002", second)

	other, err := models.NextDocumentNumber(testDB, "PACK", day)
	require.NoError(t, err)
	assert.Equal(t, "SOP-PACK-20260115-0001", other)
}

func TestEditLockContentionOnPostgres(t *testing.T) {
	svc := newServices(t)

	ada := testutil.SeedPrincipal(t, testDB, "lock.ada", models.RoleAuthor)
	quinn := testutil.SeedPrincipal(t, testDB, "lock.quinn", models.RoleAdmin)

	doc, err := svc.workflow.CreateDocument(ada, workflow.CreateDocumentInput{
		Title:              "Blender Cleaning",
		DepartmentCode:     "QUAL",
		CreateInitialDraft: true,
		InitialContent:     "<h1>Cleaning</h1>",
	})
	require.NoError(t, err)

	versions, err := models.FindVersionsByDocument(testDB, doc.ID)
	require.NoError(t, err)
	draft := versions[0]

	grant, err := svc.locks.Acquire(ada, locks.AcquireInput{
		VersionID:  draft.ID,
		SessionTag: "tab-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, grant.Token)

	// The admin can edit any document but cannot steal a held lease.
	_, err = svc.locks.Acquire(quinn, locks.AcquireInput{VersionID: draft.ID})
	require.Error(t, err)
	assert.True(t, errcode.HasCode(err, errcode.Locked))
	assert.Equal(t, "lock.ada", errcode.DetailsOf(err)["holder"])

	saved, err := svc.docs.SaveContent(ada, docs.SaveInput{
		VersionID:    draft.ID,
		Content:      "<h1>Cleaning, revised</h1>",
		LockToken:    grant.Token,
		ExpectedHash: draft.ContentHash,
	})
	require.NoError(t, err)
	assert.Equal(t, models.HashContent("<h1>Cleaning, revised</h1>"),
		saved.ContentHash)
	assert.Equal(t, 1, saved.LockVersion)

	extended, err := svc.locks.Heartbeat(ada, draft.ID, grant.Token, 45)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(grant.ExpiresAt))

	require.NoError(t, svc.locks.Release(ada, draft.ID, grant.Token, false, "", ""))

	status, err := svc.locks.GetStatus(draft.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// The lease is free again for anyone with edit capability.
	_, err = svc.locks.Acquire(quinn, locks.AcquireInput{VersionID: draft.ID})
	require.NoError(t, err)
}
