package locks

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

func newTestCoordinator(t *testing.T) (*gorm.DB, *Coordinator) {
	t.Helper()

	db := testutil.OpenDB(t)
	log := hclog.NewNullLogger()
	c := NewCoordinator(db, log, audit.NewRecorder(log, false), &config.Locks{
		DefaultTimeoutMinutes: 30,
		MaxTimeoutMinutes:     120,
	})
	return db, c
}

// seedDraft creates an author-owned document with one draft version.
func seedDraft(
	t *testing.T, db *gorm.DB,
) (*models.Principal, *models.DocumentVersion) {
	t.Helper()

	author := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)
	doc := testutil.SeedDocument(t, db, author, "SOP-QUAL-20260801-0001")
	v := testutil.SeedVersion(t, db, doc, 1, "v0.1", models.StatusDraft)
	return author, v
}

func TestAcquireMintsLease(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)

	grant, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	assert.NotEmpty(t, grant.Token)
	assert.Equal(t, author.ID, grant.HolderID)
	assert.Equal(t, v.ID, grant.VersionID)
	assert.WithinDuration(t,
		time.Now().Add(30*time.Minute), grant.ExpiresAt, 5*time.Second)

	status, err := c.GetStatus(v.ID)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, author.Username, status.Holder)
}

func TestAcquireClampsRequestedTimeout(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)

	grant, err := c.Acquire(author, AcquireInput{
		VersionID: v.ID, TimeoutMinutes: 600,
	})
	require.NoError(t, err)
	assert.WithinDuration(t,
		time.Now().Add(120*time.Minute), grant.ExpiresAt, 5*time.Second)
}

func TestAcquireOnlyDrafts(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, _ := seedDraft(t, db)
	doc := testutil.SeedDocument(t, db, author, "SOP-QUAL-20260801-0002")
	effective := testutil.SeedVersion(t, db, doc, 1, "v1.0", models.StatusEffective)

	_, err := c.Acquire(author, AcquireInput{VersionID: effective.ID})
	assert.True(t, errcode.HasCode(err, errcode.IllegalStatus))
}

func TestAcquireIdempotentForSameTab(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)

	first, err := c.Acquire(author, AcquireInput{
		VersionID: v.ID, SessionTag: "tab-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.Token)

	// Same holder, same tab: the lease is confirmed, not rotated, and the
	// plaintext token is not re-issued.
	again, err := c.Acquire(author, AcquireInput{
		VersionID: v.ID, SessionTag: "tab-1",
	})
	require.NoError(t, err)
	assert.Empty(t, again.Token)
	assert.Equal(t, first.ExpiresAt.Unix(), again.ExpiresAt.Unix())

	// A different tab rotates the lease and mints a new token.
	rotated, err := c.Acquire(author, AcquireInput{
		VersionID: v.ID, SessionTag: "tab-2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.Token)
	assert.NotEqual(t, first.Token, rotated.Token)

	// The old token no longer heartbeats.
	_, err = c.Heartbeat(author, v.ID, first.Token, 0)
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))
}

func TestAcquireContention(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)
	admin := testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)

	_, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	_, err = c.Acquire(admin, AcquireInput{VersionID: v.ID})
	require.Error(t, err)
	assert.True(t, errcode.HasCode(err, errcode.Locked))

	var coded *errcode.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, author.Username, coded.Details["holder"])
	assert.Contains(t, coded.Details, "expires_at")
}

func TestAcquireRequiresEditCapability(t *testing.T) {
	db, c := newTestCoordinator(t)
	_, v := seedDraft(t, db)
	reviewer := testutil.SeedPrincipal(t, db, "rex.reviewer", models.RoleReviewer)

	_, err := c.Acquire(reviewer, AcquireInput{VersionID: v.ID})
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))
}

func TestExpiredLeaseReadsAsAbsent(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)
	admin := testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)

	grant, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	// Jump the clock past the lease expiry.
	c.now = func() time.Time { return grant.ExpiresAt.Add(time.Minute) }

	status, err := c.GetStatus(v.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	_, err = c.Heartbeat(author, v.ID, grant.Token, 0)
	assert.True(t, errcode.HasCode(err, errcode.LockExpired))

	// Another principal can take the lease over the expired row.
	taken, err := c.Acquire(admin, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)
	assert.Equal(t, admin.ID, taken.HolderID)
	assert.NotEmpty(t, taken.Token)
}

func TestHeartbeatExtendsLease(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)

	grant, err := c.Acquire(author, AcquireInput{
		VersionID: v.ID, TimeoutMinutes: 10,
	})
	require.NoError(t, err)

	extended, err := c.Heartbeat(author, v.ID, grant.Token, 45)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(grant.ExpiresAt))
	assert.WithinDuration(t,
		time.Now().Add(45*time.Minute), extended.ExpiresAt, 5*time.Second)

	_, err = c.Heartbeat(author, v.ID, "wrong-token", 0)
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))

	_, err = c.Heartbeat(author, v.ID+100, grant.Token, 0)
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))
}

func TestReleaseIsIdempotent(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)

	// Releasing with no lock present succeeds.
	require.NoError(t, c.Release(author, v.ID, "", false, "", ""))

	grant, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	// Wrong token is rejected while the lock is live.
	err = c.Release(author, v.ID, "wrong-token", false, "", "")
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))

	require.NoError(t, c.Release(author, v.ID, grant.Token, false, "", ""))

	status, err := c.GetStatus(v.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// And again after it is gone.
	require.NoError(t, c.Release(author, v.ID, grant.Token, false, "", ""))
}

func TestAdminForceRelease(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)
	admin := testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)

	_, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	// Force release is admin only.
	err = c.Release(author, v.ID, "", true, "", "")
	assert.True(t, errcode.HasCode(err, errcode.PermissionDenied))

	require.NoError(t, c.Release(admin, v.ID, "", true, "", ""))

	status, err := c.GetStatus(v.ID)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// The release entry records the override.
	entries, _, err := models.FindAuditEntries(db, models.AuditFilter{
		Action: models.ActionLockReleased,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Details["forced_by_admin"])
}

func TestRequireLockGatesSaves(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)
	admin := testutil.SeedPrincipal(t, db, "quinn.admin", models.RoleAdmin)

	err := c.RequireLock(db, v.ID, author, "any-token")
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))

	grant, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)

	require.NoError(t, c.RequireLock(db, v.ID, author, grant.Token))

	// No admin override on the save path: the holder's token is the only
	// way through.
	err = c.RequireLock(db, v.ID, admin, grant.Token)
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))

	err = c.RequireLock(db, v.ID, author, "")
	assert.True(t, errcode.HasCode(err, errcode.LockNotHeld))

	c.now = func() time.Time { return grant.ExpiresAt.Add(time.Second) }
	err = c.RequireLock(db, v.ID, author, grant.Token)
	assert.True(t, errcode.HasCode(err, errcode.LockExpired))
}

func TestSweepExpired(t *testing.T) {
	db, c := newTestCoordinator(t)
	author, v := seedDraft(t, db)
	doc2 := testutil.SeedDocument(t, db, author, "SOP-QUAL-20260801-0002")
	v2 := testutil.SeedVersion(t, db, doc2, 1, "v0.1", models.StatusDraft)

	first, err := c.Acquire(author, AcquireInput{VersionID: v.ID})
	require.NoError(t, err)
	_, err = c.Acquire(author, AcquireInput{
		VersionID: v2.ID, TimeoutMinutes: 120,
	})
	require.NoError(t, err)

	// Past the first lease, inside the second.
	c.now = func() time.Time { return first.ExpiresAt.Add(time.Minute) }

	swept, err := c.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	var remaining int64
	require.NoError(t,
		db.Model(&models.EditLock{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}
