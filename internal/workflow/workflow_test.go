package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

func newTestService(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()

	db := testutil.OpenDB(t)
	log := hclog.NewNullLogger()
	recorder := audit.NewRecorder(log, false)
	authSvc, err := auth.NewService(db, log, recorder, &config.Session{
		SigningKey:      "workflow-test-signing-key",
		TokenTTLMinutes: 60,
	})
	require.NoError(t, err)

	return db, NewService(db, log, recorder, authSvc)
}

const changeReason = "Updated cleaning agent concentrations per QA review"

func TestCreateDocumentAssignsNumberAndInitialDraft(t *testing.T) {
	db, svc := newTestService(t)
	author := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	doc, err := svc.CreateDocument(author, CreateDocumentInput{
		Title:              "Equipment Cleaning Procedure",
		DepartmentCode:     "qual",
		CreateInitialDraft: true,
		InitialContent:     "<h1>Cleaning</h1>",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^SOP-QUAL-\d{8}-0001$`, doc.DocumentNumber)
	assert.Equal(t, "QUAL", doc.DepartmentCode)

	draft, err := models.GetDraftVersion(db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v0.1", draft.VersionString)
	assert.Equal(t, 1, draft.VersionNumber)
	assert.True(t, draft.IsLatest)
	assert.Equal(t, models.HashContent("<h1>Cleaning</h1>"), draft.ContentHash)
}

func TestCreateDocumentNumbersIncrementPerDepartmentAndDay(t *testing.T) {
	db, svc := newTestService(t)
	author := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	first, err := svc.CreateDocument(author, CreateDocumentInput{
		Title: "First", DepartmentCode: "MANU",
	})
	require.NoError(t, err)
	second, err := svc.CreateDocument(author, CreateDocumentInput{
		Title: "Second", DepartmentCode: "MANU",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(first.DocumentNumber, "-0001"))
	assert.True(t, strings.HasSuffix(second.DocumentNumber, "-0002"))
}

func TestCreateDocumentAcceptsCallerSuppliedNumber(t *testing.T) {
	db, svc := newTestService(t)
	author := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	doc, err := svc.CreateDocument(author, CreateDocumentInput{
		Title:          "Legacy Batch Record Review",
		DepartmentCode: "QUAL",
		DocumentNumber: "SOP-QUAL-LEGACY-0007",
	})
	require.NoError(t, err)
	assert.Equal(t, "SOP-QUAL-LEGACY-0007", doc.DocumentNumber)

	// Numbers are unique however they were assigned.
	_, err = svc.CreateDocument(author, CreateDocumentInput{
		Title:          "Duplicate",
		DepartmentCode: "QUAL",
		DocumentNumber: "SOP-QUAL-LEGACY-0007",
	})
	assert.True(t, errcode.HasCode(err, errcode.AlreadyExists))
}

func TestCreateDocumentRequiresAuthorRole(t *testing.T) {
	db, svc := newTestService(t)
	reviewer := testutil.SeedPrincipal(t, db, "rex.reviewer", models.RoleReviewer)

	_, err := svc.CreateDocument(reviewer, CreateDocumentInput{
		Title: "Nope", DepartmentCode: "QUAL",
	})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))
}

// seedLifecycle creates a document with an initial draft and returns
// the actors used in the transition tests.
func seedLifecycle(t *testing.T, db *gorm.DB, svc *Service) (
	doc *models.Document, draft *models.DocumentVersion,
	author, reviewer, approver, admin *models.Principal,
) {
	t.Helper()

	author = testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	reviewer = testutil.SeedPrincipal(t, db, "rex.reviewer", models.RoleReviewer)
	approver = testutil.SeedPrincipal(t, db, "ann.approver", models.RoleApprover)
	admin = testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)

	doc, err := svc.CreateDocument(author, CreateDocumentInput{
		Title:              "Equipment Cleaning Procedure",
		DepartmentCode:     "QUAL",
		CreateInitialDraft: true,
		InitialContent:     "<h1>Cleaning</h1>",
	})
	require.NoError(t, err)

	draft, err = models.GetDraftVersion(db, doc.ID)
	require.NoError(t, err)
	return doc, draft, author, reviewer, approver, admin
}

func TestFullLifecyclePromotesToV1OnFirstPublish(t *testing.T) {
	db, svc := newTestService(t)
	doc, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)

	v, err := svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, v.Status)
	assert.NotNil(t, v.SubmittedAt)
	assert.Equal(t, author.ID, *v.SubmittedByID)

	v, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, v.Status)

	v, err = svc.Approve(approver, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, v.Status)
	assert.Equal(t, approver.ID, *v.ApprovedByID)

	v, err = svc.Publish(admin, PublishInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEffective, v.Status)
	assert.Equal(t, "v1.0", v.VersionString)
	assert.NotNil(t, v.EffectiveAt)

	reloaded := &models.Document{ID: doc.ID}
	require.NoError(t, reloaded.Get(db))
	require.NotNil(t, reloaded.CurrentVersionID)
	assert.Equal(t, v.ID, *reloaded.CurrentVersionID)

	// Every signed transition left an e-signed audit entry.
	entries, _, err := models.FindAuditEntries(db, models.AuditFilter{
		ESignedOnly: true,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestSubmitWithWrongPasswordMutatesNothing(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, _, _, _ := seedLifecycle(t, db, svc)

	_, err := svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: "not the password",
	})
	assert.True(t, errcode.HasCode(err, errcode.ESignatureMismatch))

	reloaded := &models.DocumentVersion{ID: draft.ID}
	require.NoError(t, reloaded.Get(db))
	assert.Equal(t, models.StatusDraft, reloaded.Status)

	entries, _, err := models.FindAuditEntries(db, models.AuditFilter{
		Action: models.ActionESignatureFailed,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRequestChangesRequiresComment(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, _, _ := seedLifecycle(t, db, svc)

	_, err := svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	_, err = svc.RequestChanges(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.ValidationError))

	v, err := svc.RequestChanges(reviewer, TransitionInput{
		VersionID: draft.ID,
		Password:  testutil.TestPassword,
		Comment:   "Section 4 is missing the rinse step",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, v.Status)

	comments, err := models.FindCommentsByVersion(db, draft.ID, true)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, reviewer.ID, comments[0].AuthorID)
}

func TestRejectKeepsSameDraftRow(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, _ := seedLifecycle(t, db, svc)

	_, err := svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	v, err := svc.Reject(approver, TransitionInput{
		VersionID: draft.ID,
		Password:  testutil.TestPassword,
		Comment:   "Risk assessment reference is out of date",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, v.Status)
	assert.Equal(t, draft.ID, v.ID)
	assert.Equal(t, draft.VersionNumber, v.VersionNumber)
	assert.Equal(t, draft.VersionString, v.VersionString)
	assert.NotNil(t, v.RejectedAt)
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, _, _ := seedLifecycle(t, db, svc)

	// Review actions on a Draft.
	_, err := svc.ApproveReview(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.IllegalTransition))

	// Re-submitting an already submitted version.
	_, err = svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.IllegalTransition))
}

func TestTransitionsEnforceStageRoles(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, _ := seedLifecycle(t, db, svc)

	// A reviewer cannot submit someone else's draft.
	_, err := svc.Submit(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))

	_, err = svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	// An approver cannot act during review, nor an author.
	_, err = svc.ApproveReview(approver, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))

	// Publishing is admin only, even for the approver.
	_, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Approve(approver, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Publish(approver, PublishInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))
}

// publishDraft walks a draft through the full lifecycle to Effective.
func publishDraft(
	t *testing.T, svc *Service, versionID uint,
	author, reviewer, approver, admin *models.Principal,
) *models.DocumentVersion {
	t.Helper()

	_, err := svc.Submit(author, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Approve(approver, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	v, err := svc.Publish(admin, PublishInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	return v
}

func TestCreateNextVersionClonesContentAndBumps(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	effective := publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	next, err := svc.CreateNextVersion(author, NextVersionInput{
		ParentVersionID: effective.ID,
		ChangeType:      models.ChangeMinor,
		ChangeReason:    changeReason,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusDraft, next.Status)
	assert.Equal(t, "v1.1", next.VersionString)
	assert.Equal(t, 2, next.VersionNumber)
	assert.Equal(t, effective.Content, next.Content)
	assert.Equal(t, effective.ContentHash, next.ContentHash)
	assert.Equal(t, effective.ID, *next.ParentVersionID)
	assert.True(t, next.IsLatest)

	// The predecessor stays Effective and loses only its latest flag.
	reloaded := &models.DocumentVersion{ID: effective.ID}
	require.NoError(t, reloaded.Get(db))
	assert.Equal(t, models.StatusEffective, reloaded.Status)
	assert.False(t, reloaded.IsLatest)

	// One draft at a time.
	_, err = svc.CreateNextVersion(author, NextVersionInput{
		ParentVersionID: effective.ID,
		ChangeType:      models.ChangeMajor,
		ChangeReason:    changeReason,
	})
	assert.True(t, errcode.HasCode(err, errcode.AlreadyExists))
}

func TestCreateNextVersionChangeReasonLength(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	effective := publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	cases := []struct {
		name   string
		length int
		ok     bool
	}{
		{"below minimum", 9, false},
		{"at minimum", 10, true},
		{"at maximum", 1000, true},
		{"above maximum", 1001, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateNextVersion(author, NextVersionInput{
				ParentVersionID: effective.ID,
				ChangeType:      models.ChangeMinor,
				ChangeReason:    strings.Repeat("x", tc.length),
			})
			if !tc.ok {
				assert.True(t, errcode.HasCode(err, errcode.ValidationError))
				return
			}
			require.NoError(t, err)

			// Remove the draft so the next case starts clean.
			next, findErr := models.GetDraftVersion(db, effective.DocumentID)
			require.NoError(t, findErr)
			require.NoError(t, db.Delete(next).Error)
		})
	}
}

func TestPublishObsoletesPreviousEffective(t *testing.T) {
	db, svc := newTestService(t)
	doc, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	first := publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	next, err := svc.CreateNextVersion(author, NextVersionInput{
		ParentVersionID: first.ID,
		ChangeType:      models.ChangeMajor,
		ChangeReason:    changeReason,
	})
	require.NoError(t, err)
	assert.Equal(t, "v2.0", next.VersionString)

	second := publishDraft(t, svc, next.ID, author, reviewer, approver, admin)
	assert.Equal(t, models.StatusEffective, second.Status)
	assert.Equal(t, "v2.0", second.VersionString)

	obsolete := &models.DocumentVersion{ID: first.ID}
	require.NoError(t, obsolete.Get(db))
	assert.Equal(t, models.StatusObsolete, obsolete.Status)
	assert.Equal(t, second.ID, *obsolete.ReplacedByID)
	assert.NotNil(t, obsolete.ObsoleteAt)
	assert.False(t, obsolete.IsLatest)

	reloaded := &models.Document{ID: doc.ID}
	require.NoError(t, reloaded.Get(db))
	assert.Equal(t, second.ID, *reloaded.CurrentVersionID)

	require.NoError(t, models.ValidateVersionInvariants(db, doc.ID))
}

// approveDraft walks a draft to Approved without publishing it.
func approveDraft(
	t *testing.T, svc *Service, versionID uint,
	author, reviewer, approver *models.Principal,
) {
	t.Helper()

	_, err := svc.Submit(author, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Approve(approver, TransitionInput{
		VersionID: versionID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
}

func TestPublishRejectsApprovedSiblingOfReplacedParent(t *testing.T) {
	db, svc := newTestService(t)
	doc, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	first := publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	// Two revisions of the same Effective parent, both walked to
	// Approved. The second can be created because the first is no
	// longer a Draft by then.
	minor, err := svc.CreateNextVersion(author, NextVersionInput{
		ParentVersionID: first.ID,
		ChangeType:      models.ChangeMinor,
		ChangeReason:    changeReason,
	})
	require.NoError(t, err)
	approveDraft(t, svc, minor.ID, author, reviewer, approver)

	major, err := svc.CreateNextVersion(author, NextVersionInput{
		ParentVersionID: first.ID,
		ChangeType:      models.ChangeMajor,
		ChangeReason:    changeReason,
	})
	require.NoError(t, err)
	approveDraft(t, svc, major.ID, author, reviewer, approver)

	// The first sibling to publish wins and obsoletes the parent.
	_, err = svc.Publish(admin, PublishInput{
		VersionID: minor.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	// The other sibling no longer chains to the Effective version.
	_, err = svc.Publish(admin, PublishInput{
		VersionID: major.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.IllegalTransition))

	winner := &models.DocumentVersion{ID: minor.ID}
	require.NoError(t, winner.Get(db))
	assert.Equal(t, models.StatusEffective, winner.Status)

	obsolete := &models.DocumentVersion{ID: first.ID}
	require.NoError(t, obsolete.Get(db))
	assert.Equal(t, minor.ID, *obsolete.ReplacedByID)

	require.NoError(t, models.ValidateVersionInvariants(db, doc.ID))
}

func TestSignedTransitionDescriptionsNameTheSigner(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	entries, _, err := models.FindAuditEntries(db, models.AuditFilter{
		ESignedOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Contains(t, e.Description,
			"E-Signature: "+e.PrincipalUsername,
			"action %s", e.Action)
	}
}

func TestPublishHonorsExplicitEffectiveDate(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)

	_, err := svc.Submit(author, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.ApproveReview(reviewer, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	_, err = svc.Approve(approver, TransitionInput{
		VersionID: draft.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)

	v, err := svc.Publish(admin, PublishInput{
		VersionID:     draft.ID,
		Password:      testutil.TestPassword,
		EffectiveDate: "2026-09-01",
	})
	require.NoError(t, err)
	require.NotNil(t, v.EffectiveAt)
	assert.Equal(t,
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), v.EffectiveAt.UTC())

	_, err = svc.Publish(admin, PublishInput{
		VersionID:     draft.ID,
		Password:      testutil.TestPassword,
		EffectiveDate: "not a date",
	})
	assert.Error(t, err)
}

func TestArchiveEffectiveVersion(t *testing.T) {
	db, svc := newTestService(t)
	_, draft, author, reviewer, approver, admin := seedLifecycle(t, db, svc)
	effective := publishDraft(t, svc, draft.ID, author, reviewer, approver, admin)

	// Only admins archive.
	_, err := svc.Archive(author, TransitionInput{
		VersionID: effective.ID, Password: testutil.TestPassword,
	})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))

	v, err := svc.Archive(admin, TransitionInput{
		VersionID: effective.ID, Password: testutil.TestPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, v.Status)
	assert.NotNil(t, v.ArchivedAt)
	assert.Equal(t, admin.ID, *v.ArchivedByID)
}
