// Package auth verifies credentials, issues bearer tokens, enforces the
// single-active-session policy, and re-verifies credentials for
// electronic signatures.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// lastSeenInterval throttles session last-seen writes; probes arrive
// every 30 seconds per client and each one does not need a row update.
const lastSeenInterval = 30 * time.Second

// dummyCredentialHash is compared against when the username is unknown
// so that lookup misses cost the same as credential mismatches.
var dummyCredentialHash = []byte(
	"$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Service is the authentication and session gate.
type Service struct {
	db         *gorm.DB
	log        hclog.Logger
	recorder   *audit.Recorder
	signingKey []byte
	tokenTTL   time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewService returns an auth service. The session signing key must be
// configured; there is no insecure default.
func NewService(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder, cfg *config.Session,
) (*Service, error) {
	if cfg == nil || cfg.SigningKey == "" {
		return nil, errors.New("session signing key is not configured")
	}
	return &Service{
		db:         db,
		log:        log.Named("auth"),
		recorder:   recorder,
		signingKey: []byte(cfg.SigningKey),
		tokenTTL:   time.Duration(cfg.TokenTTLMinutes) * time.Minute,
		now:        time.Now,
	}, nil
}

// Claims is the bearer token payload: the principal, a role snapshot,
// and the random session id checked against the principal record on
// every request.
type Claims struct {
	PrincipalID uint     `json:"pid"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	SessionID   string   `json:"sid"`
	jwt.RegisteredClaims
}

// LoginInput are the credentials and client context for a login.
type LoginInput struct {
	Username string
	Password string

	// Force supersedes an existing active session instead of failing
	// with SESSION_CONFLICT.
	Force bool

	IPAddress string
	UserAgent string
}

// Session is a successful login result. Token is returned once and not
// stored server side; only its session id is persisted on the principal.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Principal *models.Principal `json:"principal"`
}

// Login verifies the credential and issues a bearer token. A principal
// may hold one active session; a second login fails with
// SESSION_CONFLICT unless forced, in which case the earlier session is
// superseded. Authentication failures never reveal whether the username
// exists.
func (s *Service) Login(in LoginInput) (*Session, error) {
	now := s.now()

	p, err := models.GetPrincipalByUsername(s.db, in.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Equalize timing with the known-user path.
			_ = bcrypt.CompareHashAndPassword(
				dummyCredentialHash, []byte(in.Password))
			s.recordLoginFailure(nil, in, "unknown username")
			return nil, errcode.New(
				errcode.InvalidCredentials, "invalid username or password")
		}
		return nil, fmt.Errorf("error looking up principal: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(
		[]byte(p.CredentialHash), []byte(in.Password),
	); err != nil {
		s.recordLoginFailure(p, in, "credential mismatch")
		return nil, errcode.New(
			errcode.InvalidCredentials, "invalid username or password")
	}

	if !p.Active {
		s.recordLoginFailure(p, in, "principal deactivated")
		return nil, errcode.New(errcode.Deactivated, "account is deactivated")
	}

	var session *Session
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Reload under a row lock so two logins for the same principal
		// serialize and exactly one observes the other's session.
		locked, err := models.GetPrincipalForUpdate(tx, p.ID)
		if err != nil {
			return fmt.Errorf("error locking principal: %w", err)
		}

		superseded := false
		if locked.HasActiveSession(now) {
			if !in.Force {
				return errcode.New(
					errcode.SessionConflict,
					"another session is active for this account",
				).WithDetail("session_issued_at", locked.SessionIssuedAt).
					WithDetail("session_expires_at", locked.SessionExpiresAt)
			}
			superseded = true
		}

		sid, err := newSessionID()
		if err != nil {
			return fmt.Errorf("error generating session id: %w", err)
		}

		expiresAt := now.Add(s.tokenTTL)
		token, err := s.signToken(p, sid, now, expiresAt)
		if err != nil {
			return fmt.Errorf("error signing token: %w", err)
		}

		if err := locked.SetSession(tx, sid, now, expiresAt); err != nil {
			return fmt.Errorf("error persisting session: %w", err)
		}

		details := map[string]interface{}{"force": in.Force}
		if superseded {
			details["superseded_previous_session"] = true
		}
		if err := s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionLoginSuccess,
			EntityKind:  models.EntityPrincipal,
			EntityID:    p.ID,
			Description: "login",
			Details:     details,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
		}); err != nil {
			return err
		}

		session = &Session{Token: token, ExpiresAt: expiresAt, Principal: p}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("login",
		"username", p.Username, "force", in.Force, "ip", in.IPAddress)
	return session, nil
}

// recordLoginFailure appends a LOGIN_FAILURE entry outside any
// transaction so the trail keeps the attempt even though nothing else
// was written.
func (s *Service) recordLoginFailure(
	p *models.Principal, in LoginInput, reason string,
) {
	ev := audit.Event{
		Principal:   p,
		Username:    in.Username,
		Action:      models.ActionLoginFailure,
		EntityKind:  models.EntityPrincipal,
		Description: "login failed",
		Details:     map[string]interface{}{"reason": reason},
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	}
	if p != nil {
		ev.EntityID = p.ID
	}
	if err := s.recorder.Record(s.db, ev); err != nil {
		s.log.Error("error recording login failure", "error", err)
	}
}

// Authenticate parses and checks a bearer token and returns the live
// principal with roles preloaded. It is the request gate used by the
// API middleware.
func (s *Service) Authenticate(token string) (*models.Principal, *Claims, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, errcode.Wrap(
				errcode.InvalidCredentials, "token expired", err)
		}
		return nil, nil, errcode.Wrap(
			errcode.InvalidCredentials, "invalid bearer token", err)
	}

	p, err := models.GetPrincipalByID(s.db, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errcode.New(
				errcode.InvalidCredentials, "invalid bearer token")
		}
		return nil, nil, fmt.Errorf("error loading principal: %w", err)
	}

	if !p.Active {
		return nil, nil, errcode.New(
			errcode.Deactivated, "account is deactivated")
	}

	now := s.now()
	if p.ActiveSessionID == nil || *p.ActiveSessionID != claims.SessionID {
		return nil, nil, errcode.New(
			errcode.SessionSuperseded, "session was superseded by a newer login")
	}
	if p.SessionExpiresAt != nil && p.SessionExpiresAt.Before(now) {
		return nil, nil, errcode.Wrap(
			errcode.InvalidCredentials, "token expired", jwt.ErrTokenExpired)
	}

	s.touchLastSeen(p, now)

	return p, claims, nil
}

// touchLastSeen records session activity, throttled so probes do not
// write a row every 30 seconds. Failures are logged and ignored.
func (s *Service) touchLastSeen(p *models.Principal, now time.Time) {
	if p.SessionLastSeenAt != nil &&
		now.Sub(*p.SessionLastSeenAt) < lastSeenInterval {
		return
	}
	if err := p.TouchSessionLastSeen(s.db, now); err != nil {
		s.log.Warn("error updating session last-seen",
			"username", p.Username, "error", err)
	}
}

// ProbeResult answers a session-validity probe.
type ProbeResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateSession is the stateless polling probe. It never returns an
// error for a bad token; the reason string tells the client why the
// session is gone.
func (s *Service) ValidateSession(token string) ProbeResult {
	_, _, err := s.Authenticate(token)
	if err == nil {
		return ProbeResult{Valid: true}
	}

	switch {
	case errcode.HasCode(err, errcode.SessionSuperseded):
		return ProbeResult{Valid: false, Reason: "superseded"}
	case errcode.HasCode(err, errcode.Deactivated):
		return ProbeResult{Valid: false, Reason: "deactivated"}
	case errors.Is(err, jwt.ErrTokenExpired):
		return ProbeResult{Valid: false, Reason: "expired"}
	default:
		return ProbeResult{Valid: false, Reason: "invalid"}
	}
}

// Logout clears the principal's active session. The bearer token
// remains structurally valid until expiry but fails the session id
// check from now on.
func (s *Service) Logout(p *models.Principal, ip, ua string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := p.ClearSession(tx); err != nil {
			return fmt.Errorf("error clearing session: %w", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionLogout,
			EntityKind:  models.EntityPrincipal,
			EntityID:    p.ID,
			Description: "logout",
			IPAddress:   ip,
			UserAgent:   ua,
		})
	})
}

// VerifyESignature re-verifies the principal's credential for a signed
// action. It mutates no session state. A mismatch is recorded in the
// audit trail and returned as ESIGNATURE_MISMATCH; callers abort before
// opening their mutation transaction.
func (s *Service) VerifyESignature(
	p *models.Principal, password, meaning, ip, ua string,
) error {
	if err := bcrypt.CompareHashAndPassword(
		[]byte(p.CredentialHash), []byte(password),
	); err != nil {
		if recErr := s.recorder.Record(s.db, audit.Event{
			Principal:   p,
			Action:      models.ActionESignatureFailed,
			EntityKind:  models.EntityPrincipal,
			EntityID:    p.ID,
			Description: "e-signature verification failed",
			Details:     map[string]interface{}{"meaning": meaning},
			IPAddress:   ip,
			UserAgent:   ua,
		}); recErr != nil {
			s.log.Error("error recording e-signature failure", "error", recErr)
		}
		return errcode.New(
			errcode.ESignatureMismatch, "e-signature verification failed")
	}
	return nil
}

// HashCredential produces the stored form of a plaintext credential.
func HashCredential(password string) (string, error) {
	if len(password) < 8 {
		return "", errcode.New(
			errcode.ValidationError, "credential must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword(
		[]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing credential: %w", err)
	}
	return string(hash), nil
}

func (s *Service) signToken(
	p *models.Principal, sid string, issuedAt, expiresAt time.Time,
) (string, error) {
	claims := Claims{
		PrincipalID: p.ID,
		Username:    p.Username,
		Roles:       p.RoleNames(),
		SessionID:   sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(s.signingKey)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf(
					"unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// newSessionID returns 128 bits of hex-encoded randomness.
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
