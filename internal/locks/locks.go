// Package locks coordinates exclusive edit leases on draft versions.
// Leases expire by wall-clock comparison; an expired row counts as
// absent in every check, and a background sweep that deletes such rows
// is an optimization, never a correctness requirement.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/database"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// Coordinator manages edit-lock leases.
type Coordinator struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder

	defaultTimeout time.Duration
	maxTimeout     time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewCoordinator returns a lock coordinator with lease lengths from
// configuration.
func NewCoordinator(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder, cfg *config.Locks,
) *Coordinator {
	return &Coordinator{
		db:             db,
		log:            log.Named("locks"),
		recorder:       recorder,
		defaultTimeout: time.Duration(cfg.DefaultTimeoutMinutes) * time.Minute,
		maxTimeout:     time.Duration(cfg.MaxTimeoutMinutes) * time.Minute,
		now:            time.Now,
	}
}

// Grant describes a held lease. Token carries the plaintext only when
// this call minted a fresh lease; re-acquires return an empty Token and
// the caller keeps using the token it already holds.
type Grant struct {
	// Token is the plaintext lease token, returned only when the lease
	// is minted or rotated. Only its hash is stored, so clients must
	// retain the token; an idempotent re-acquire confirms the lease but
	// returns an empty Token.
	Token      string    `json:"lockToken,omitempty"`
	VersionID  uint      `json:"versionId"`
	HolderID   uint      `json:"holderId"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	SessionTag string    `json:"sessionTag,omitempty"`
}

// AcquireInput are the acquire parameters.
type AcquireInput struct {
	VersionID uint

	// TimeoutMinutes requests a lease length. Zero means the configured
	// default; values above the configured maximum are clamped.
	TimeoutMinutes int

	// SessionTag optionally identifies the client tab. Re-acquiring with
	// a different tag rotates the lease and its token.
	SessionTag string

	IPAddress string
	UserAgent string
}

// Acquire takes or confirms the lease on a draft version. Exactly one
// of two concurrent acquirers wins; the loser gets LOCKED with the
// holder and expiry in the details. The plaintext token is issued once
// at mint time; re-acquiring with the same session tag confirms the
// lease without reissuing it.
func (c *Coordinator) Acquire(
	p *models.Principal, in AcquireInput,
) (*Grant, error) {
	version, err := models.GetVersionByID(c.db, in.VersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "version not found")
		}
		return nil, fmt.Errorf("error loading version: %w", err)
	}
	if version.Status != models.StatusDraft {
		return nil, errcode.Newf(errcode.IllegalStatus,
			"version is %s; only drafts can be locked", version.Status)
	}

	doc := &models.Document{ID: version.DocumentID}
	if err := doc.Get(c.db); err != nil {
		return nil, fmt.Errorf("error loading document: %w", err)
	}
	if err := rbac.Require(
		rbac.CanEditDocument(p, doc), "edit_document"); err != nil {
		return nil, err
	}

	timeout := c.leaseLength(in.TimeoutMinutes)

	var grant *Grant
	err = c.db.Transaction(func(tx *gorm.DB) error {
		now := c.now()

		existing, err := models.GetEditLockForUpdate(tx, in.VersionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error loading lock: %w", err)
		}

		if existing != nil && existing.Active(now) {
			if existing.HolderID != p.ID {
				return c.lockedError(tx, existing)
			}
			if existing.SessionTag == in.SessionTag {
				// Idempotent re-acquire: same holder, same tab. Expiry is
				// deliberately untouched.
				grant = grantFrom(existing, "", p.Username)
				return nil
			}
			// Same holder from a different tab: rotate the lease so the
			// new tab gets its own token and a fresh expiry.
			if err := existing.Delete(tx); err != nil {
				return fmt.Errorf("error rotating lock: %w", err)
			}
		} else if existing != nil {
			// Expired row; remove it and mint fresh.
			if err := existing.Delete(tx); err != nil {
				return fmt.Errorf("error deleting expired lock: %w", err)
			}
		}

		token, err := models.GenerateLockToken()
		if err != nil {
			return fmt.Errorf("error generating lock token: %w", err)
		}

		lock := &models.EditLock{
			VersionID:       in.VersionID,
			HolderID:        p.ID,
			AcquiredAt:      now,
			ExpiresAt:       now.Add(timeout),
			LastHeartbeatAt: now,
			SessionTag:      in.SessionTag,
		}
		if err := lock.Create(tx, token); err != nil {
			if database.IsDuplicateKey(err) {
				// Lost the insert race to a concurrent acquirer.
				winner, lookupErr := models.GetEditLock(tx, in.VersionID)
				if lookupErr == nil {
					return c.lockedError(tx, winner)
				}
				return errcode.New(errcode.Locked,
					"version is locked by another session")
			}
			return fmt.Errorf("error creating lock: %w", err)
		}

		if err := c.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionLockAcquired,
			EntityKind:  models.EntityVersion,
			EntityID:    in.VersionID,
			Description: "edit lock acquired",
			Details: map[string]interface{}{
				"expires_at":      lock.ExpiresAt,
				"timeout_minutes": int(timeout.Minutes()),
				"session_tag":     in.SessionTag,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		}); err != nil {
			return err
		}

		grant = grantFrom(lock, token, p.Username)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// Heartbeat extends an active lease held by the caller. Clients send
// one every 15 seconds while editing.
func (c *Coordinator) Heartbeat(
	p *models.Principal, versionID uint, token string, extendMinutes int,
) (*Grant, error) {
	extend := c.leaseLength(extendMinutes)

	var grant *Grant
	err := c.db.Transaction(func(tx *gorm.DB) error {
		now := c.now()

		lock, err := models.GetEditLockForUpdate(tx, versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errcode.New(errcode.LockNotHeld,
					"no edit lock is held on this version")
			}
			return fmt.Errorf("error loading lock: %w", err)
		}

		if !lock.MatchesToken(token) || lock.HolderID != p.ID {
			return errcode.New(errcode.LockNotHeld,
				"edit lock is not held by this session")
		}
		if !lock.Active(now) {
			return errcode.New(errcode.LockExpired, "edit lock has expired").
				WithDetail("expired_at", lock.ExpiresAt)
		}

		if err := lock.Extend(tx, now.Add(extend), now); err != nil {
			return fmt.Errorf("error extending lock: %w", err)
		}

		grant = grantFrom(lock, "", p.Username)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// Release drops the lease. Releasing when no lock exists succeeds so
// best-effort page-exit releases never error. Admins may force-release
// someone else's lease; the audit entry records that.
func (c *Coordinator) Release(
	p *models.Principal, versionID uint, token string, forceAdmin bool,
	ip, ua string,
) error {
	if forceAdmin {
		if err := rbac.Require(
			rbac.CanForceReleaseLock(p), "force_release_lock"); err != nil {
			return err
		}
	}

	return c.db.Transaction(func(tx *gorm.DB) error {
		lock, err := models.GetEditLockForUpdate(tx, versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("error loading lock: %w", err)
		}

		forced := false
		switch {
		case lock.MatchesToken(token) && lock.HolderID == p.ID:
		case forceAdmin:
			forced = true
		default:
			return errcode.New(errcode.LockNotHeld,
				"edit lock is not held by this session")
		}

		if err := lock.Delete(tx); err != nil {
			return fmt.Errorf("error deleting lock: %w", err)
		}

		details := map[string]interface{}{"holder_id": lock.HolderID}
		if forced {
			details["forced_by_admin"] = true
		}
		return c.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionLockReleased,
			EntityKind:  models.EntityVersion,
			EntityID:    versionID,
			Description: "edit lock released",
			Details:     details,
			IPAddress:   ip,
			UserAgent:   ua,
		})
	})
}

// Status reports the current lease without mutating anything. Expired
// leases read as absent.
type Status struct {
	Locked     bool       `json:"locked"`
	Holder     string     `json:"holder,omitempty"`
	HolderID   uint       `json:"holderId,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	SessionTag string     `json:"sessionTag,omitempty"`
}

// GetStatus returns the lease state for a version.
func (c *Coordinator) GetStatus(versionID uint) (*Status, error) {
	lock, err := models.GetEditLock(c.db, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("error loading lock: %w", err)
	}
	if !lock.Active(c.now()) {
		return &Status{}, nil
	}

	s := &Status{
		Locked:     true,
		HolderID:   lock.HolderID,
		ExpiresAt:  &lock.ExpiresAt,
		SessionTag: lock.SessionTag,
	}
	if lock.Holder != nil {
		s.Holder = lock.Holder.Username
	}
	return s, nil
}

// RequireLock is the save-path gate: the caller must hold the active
// lease and present its token. There is no administrator override here;
// contrast with Release.
func (c *Coordinator) RequireLock(
	tx *gorm.DB, versionID uint, p *models.Principal, token string,
) error {
	lock, err := models.GetEditLockForUpdate(tx, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.New(errcode.LockNotHeld,
				"no edit lock is held on this version")
		}
		return fmt.Errorf("error loading lock: %w", err)
	}

	if token == "" || !lock.MatchesToken(token) || lock.HolderID != p.ID {
		return errcode.New(errcode.LockNotHeld,
			"edit lock is not held by this session")
	}
	if !lock.Active(c.now()) {
		return errcode.New(errcode.LockExpired, "edit lock has expired").
			WithDetail("expired_at", lock.ExpiresAt)
	}
	return nil
}

// SweepExpired deletes expired lease rows. Safe to skip; every lock
// check already treats expired rows as absent.
func (c *Coordinator) SweepExpired(ctx context.Context) (int64, error) {
	n, err := models.DeleteExpiredLocks(c.db.WithContext(ctx), c.now())
	if err != nil {
		return 0, fmt.Errorf("error sweeping expired locks: %w", err)
	}
	if n > 0 {
		c.log.Info("swept expired edit locks", "count", n)
	}
	return n, nil
}

// RunSweeper sweeps on the given interval until the context ends.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("lock sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("lock sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.SweepExpired(ctx); err != nil {
				c.log.Error("error sweeping expired locks", "error", err)
			}
		}
	}
}

// leaseLength clamps a requested lease length in minutes to the
// configured bounds.
func (c *Coordinator) leaseLength(minutes int) time.Duration {
	if minutes <= 0 {
		return c.defaultTimeout
	}
	d := time.Duration(minutes) * time.Minute
	if d > c.maxTimeout {
		return c.maxTimeout
	}
	return d
}

// lockedError builds the LOCKED failure including who holds the lease
// and until when.
func (c *Coordinator) lockedError(tx *gorm.DB, lock *models.EditLock) error {
	holder := ""
	if lock.Holder != nil {
		holder = lock.Holder.Username
	} else if p, err := models.GetPrincipalByID(tx, lock.HolderID); err == nil {
		holder = p.Username
	}
	return errcode.New(errcode.Locked, "version is locked by another session").
		WithDetail("holder", holder).
		WithDetail("expires_at", lock.ExpiresAt)
}

func grantFrom(l *models.EditLock, token, holder string) *Grant {
	return &Grant{
		Token:      token,
		VersionID:  l.VersionID,
		HolderID:   l.HolderID,
		Holder:     holder,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
		SessionTag: l.SessionTag,
	}
}
