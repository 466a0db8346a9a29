// Package auth implements the session authority: password login, opaque
// bearer tokens, sliding idle expiry with an absolute ceiling, and in-band
// session rotation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/metrics"
	"github.com/rustygpt/rustygpt/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account disabled")
	ErrInvalidSession     = errors.New("auth: invalid session")
	ErrSessionExpired     = errors.New("auth: session idle expired")
	ErrAbsoluteExpired    = errors.New("auth: session absolute expired")
	ErrRotationFailed     = errors.New("auth: session rotation failed")
	// ErrSuspiciousActivity means a token was presented after its session had
	// already been rotated away. All of the user's sessions are revoked.
	ErrSuspiciousActivity = errors.New("auth: suspicious activity")
)

// SessionStore is the slice of the database the service needs. *store.Database
// satisfies it; tests substitute a fake.
type SessionStore interface {
	FindUserForLogin(ctx context.Context, identifier string) (*store.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	CurrentRoles(ctx context.Context, user uuid.UUID) ([]string, error)
	InsertSession(ctx context.Context, ns store.NewSession, maxPerUser int) (*store.Session, error)
	FindSessionByTokenHash(ctx context.Context, hash []byte) (*store.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID, idleExpiresAt time.Time) error
	RotateSession(ctx context.Context, old uuid.UUID, ns store.NewSession) (*store.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, reason string) error
	MarkUserForRotation(ctx context.Context, user uuid.UUID, reason string) (int, error)
	RevokeUserSessions(ctx context.Context, user uuid.UUID, reason string) error
}

type Service struct {
	store      SessionStore
	log        *slog.Logger
	idle       time.Duration
	absolute   time.Duration
	maxPerUser int
	argon      ArgonParams
	now        func() time.Time
}

func NewService(st SessionStore, log *slog.Logger, idle, absolute time.Duration, maxPerUser int, argon ArgonParams) *Service {
	return &Service{
		store:      st,
		log:        logger.WithComponent(log, "auth"),
		idle:       idle,
		absolute:   absolute,
		maxPerUser: maxPerUser,
		argon:      argon,
		now:        time.Now,
	}
}

// ClientMeta is recorded on the session row for audit.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Credentials is everything the HTTP layer needs to set cookies after login
// or rotation. Token is the only copy of the bearer token in plaintext.
type Credentials struct {
	Token     string
	CSRFToken string
	Session   *store.Session
	User      *store.User
}

// decoyHash keeps login timing flat when the identifier does not resolve.
var decoyHash, _ = HashPassword("rustygpt-decoy", ArgonInteractive)

// Login verifies the password and mints a session. Failures collapse to
// ErrInvalidCredentials except for disabled accounts.
func (s *Service) Login(ctx context.Context, identifier, password string, meta ClientMeta) (*Credentials, error) {
	user, err := s.store.FindUserForLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = VerifyPassword(password, decoyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.ErrorContext(ctx, "Password hash unreadable", slog.String("user_id", user.ID.String()))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrAccountDisabled
	}

	creds, err := s.mint(ctx, user.ID, user.Roles, meta)
	if err != nil {
		return nil, err
	}
	creds.User = user

	s.log.InfoContext(ctx, "Session created",
		slog.String("user_id", user.ID.String()),
		slog.String("session_id", creds.Session.ID.String()))
	return creds, nil
}

func (s *Service) mint(ctx context.Context, user uuid.UUID, roles []string, meta ClientMeta) (*Credentials, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	csrf, err := NewCSRFToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess, err := s.store.InsertSession(ctx, store.NewSession{
		UserID:            user,
		TokenHash:         HashToken(token),
		CSRFToken:         csrf,
		Roles:             roles,
		IdleExpiresAt:     now.Add(s.idle),
		AbsoluteExpiresAt: now.Add(s.absolute),
		UserAgent:         meta.UserAgent,
		IP:                meta.IP,
	}, s.maxPerUser)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Credentials{Token: token, CSRFToken: csrf, Session: sess}, nil
}

// Identity is the outcome of a successful validation. When Rotated is set the
// caller must deliver the replacement credentials to the client.
type Identity struct {
	Session *store.Session
	Rotated bool
	// Set only when Rotated. PrevCSRF keeps the rotating request itself
	// verifiable, since the client still sent the old header value.
	NewToken string
	NewCSRF  string
	PrevCSRF string
}

// Validate authenticates a bearer token and applies the session lifecycle:
// expiry checks, sliding idle window, and rotation when the row is flagged,
// the role snapshot is stale, or less than half the idle window remains.
func (s *Service) Validate(ctx context.Context, token string, meta ClientMeta) (*Identity, error) {
	sess, err := s.store.FindSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	if sess.Revoked() {
		if sess.RevokeReason.String == "rotation" {
			// A rotated-away token coming back means it leaked. Kill everything.
			if err := s.store.RevokeUserSessions(ctx, sess.UserID, "suspicious_activity"); err != nil {
				s.log.ErrorContext(ctx, "Failed to revoke sessions after token reuse", slog.Any("error", err))
			}
			s.log.WarnContext(ctx, "Rotated token reused",
				slog.String("user_id", sess.UserID.String()),
				slog.String("session_id", sess.ID.String()))
			return nil, ErrSuspiciousActivity
		}
		return nil, ErrInvalidSession
	}

	now := s.now()
	if now.After(sess.AbsoluteExpiresAt) {
		_ = s.store.RevokeSession(ctx, sess.ID, "absolute_expired")
		return nil, ErrAbsoluteExpired
	}
	if now.After(sess.IdleExpiresAt) {
		_ = s.store.RevokeSession(ctx, sess.ID, "idle_expired")
		return nil, ErrSessionExpired
	}

	owner, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if owner.Disabled {
		// Disabling an account must cut off sessions minted before the flag.
		_ = s.store.RevokeSession(ctx, sess.ID, "account_disabled")
		return nil, ErrAccountDisabled
	}

	roles, err := s.store.CurrentRoles(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	if s.needsRotation(sess, roles, now) {
		return s.rotate(ctx, sess, roles, meta)
	}

	if err := s.store.TouchSession(ctx, sess.ID, now.Add(s.idle)); err != nil {
		s.log.WarnContext(ctx, "Failed to slide idle window", slog.Any("error", err))
	}
	sess.Roles = roles
	return &Identity{Session: sess}, nil
}

func (s *Service) needsRotation(sess *store.Session, roles []string, now time.Time) bool {
	if sess.RequiresRotation {
		return true
	}
	if !sameRoleSet(sess.Roles, roles) {
		return true
	}
	return sess.IdleExpiresAt.Sub(now) <= s.idle/2
}

func (s *Service) rotate(ctx context.Context, sess *store.Session, roles []string, meta ClientMeta) (*Identity, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, errors.Join(ErrRotationFailed, err)
	}
	csrf, err := NewCSRFToken()
	if err != nil {
		return nil, errors.Join(ErrRotationFailed, err)
	}

	now := s.now()
	next, err := s.store.RotateSession(ctx, sess.ID, store.NewSession{
		UserID:            sess.UserID,
		TokenHash:         HashToken(token),
		CSRFToken:         csrf,
		Roles:             roles,
		IdleExpiresAt:     minTime(now.Add(s.idle), sess.AbsoluteExpiresAt),
		AbsoluteExpiresAt: sess.AbsoluteExpiresAt,
		UserAgent:         meta.UserAgent,
		IP:                meta.IP,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Session rotation failed",
			slog.String("session_id", sess.ID.String()), slog.Any("error", err))
		return nil, errors.Join(ErrRotationFailed, err)
	}

	metrics.SessionsRotated.Inc()
	s.log.InfoContext(ctx, "Session rotated",
		slog.String("user_id", sess.UserID.String()),
		slog.String("old_session_id", sess.ID.String()),
		slog.String("new_session_id", next.ID.String()))

	return &Identity{Session: next, Rotated: true, NewToken: token, NewCSRF: csrf, PrevCSRF: sess.CSRFToken}, nil
}

// RotateNow rotates a validated session immediately, for the explicit
// refresh endpoint.
func (s *Service) RotateNow(ctx context.Context, sess *store.Session, meta ClientMeta) (*Identity, error) {
	roles, err := s.store.CurrentRoles(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return s.rotate(ctx, sess, roles, meta)
}

// Logout revokes the presented session. Idempotent.
func (s *Service) Logout(ctx context.Context, session uuid.UUID) error {
	return s.store.RevokeSession(ctx, session, "logout")
}

// ForceRotation flags every live session of a user so the next request
// rotates it. Used after privilege changes.
func (s *Service) ForceRotation(ctx context.Context, user uuid.UUID, reason string) (int, error) {
	return s.store.MarkUserForRotation(ctx, user, reason)
}

func sameRoleSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
