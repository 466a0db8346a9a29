package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/store"
)

// fakeSessionStore keeps sessions in memory keyed by token hash, mirroring
// the lifecycle the real store implements in SQL.
type fakeSessionStore struct {
	users    map[string]*store.User
	roles    map[uuid.UUID][]string
	sessions map[uuid.UUID]*store.Session

	revoked         map[uuid.UUID]string
	userRevocations []string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		users:    make(map[string]*store.User),
		roles:    make(map[uuid.UUID][]string),
		sessions: make(map[uuid.UUID]*store.Session),
		revoked:  make(map[uuid.UUID]string),
	}
}

func (f *fakeSessionStore) FindUserForLogin(_ context.Context, identifier string) (*store.User, error) {
	u, ok := f.users[identifier]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeSessionStore) UserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSessionStore) CurrentRoles(_ context.Context, user uuid.UUID) ([]string, error) {
	return f.roles[user], nil
}

func (f *fakeSessionStore) InsertSession(_ context.Context, ns store.NewSession, _ int) (*store.Session, error) {
	sess := &store.Session{
		ID:                uuid.New(),
		UserID:            ns.UserID,
		TokenHash:         ns.TokenHash,
		CSRFToken:         ns.CSRFToken,
		Roles:             ns.Roles,
		IssuedAt:          time.Now(),
		IdleExpiresAt:     ns.IdleExpiresAt,
		AbsoluteExpiresAt: ns.AbsoluteExpiresAt,
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionStore) FindSessionByTokenHash(_ context.Context, hash []byte) (*store.Session, error) {
	for _, s := range f.sessions {
		if string(s.TokenHash) == string(hash) {
			dup := *s
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSessionStore) TouchSession(_ context.Context, id uuid.UUID, idleExpiresAt time.Time) error {
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.IdleExpiresAt = idleExpiresAt
	return nil
}

func (f *fakeSessionStore) RotateSession(_ context.Context, old uuid.UUID, ns store.NewSession) (*store.Session, error) {
	prev, ok := f.sessions[old]
	if !ok {
		return nil, store.ErrNotFound
	}
	prev.RevokedAt.Valid = true
	prev.RevokedAt.Time = time.Now()
	prev.RevokeReason.Valid = true
	prev.RevokeReason.String = "rotation"

	next, _ := f.InsertSession(context.Background(), ns, 0)
	next.RotatedFrom = uuid.NullUUID{UUID: old, Valid: true}
	return next, nil
}

func (f *fakeSessionStore) RevokeSession(_ context.Context, id uuid.UUID, reason string) error {
	f.revoked[id] = reason
	if s, ok := f.sessions[id]; ok {
		s.RevokedAt.Valid = true
		s.RevokedAt.Time = time.Now()
		s.RevokeReason.Valid = true
		s.RevokeReason.String = reason
	}
	return nil
}

func (f *fakeSessionStore) MarkUserForRotation(_ context.Context, user uuid.UUID, _ string) (int, error) {
	n := 0
	for _, s := range f.sessions {
		if s.UserID == user && !s.Revoked() {
			s.RequiresRotation = true
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) RevokeUserSessions(_ context.Context, user uuid.UUID, reason string) error {
	f.userRevocations = append(f.userRevocations, reason)
	for id, s := range f.sessions {
		if s.UserID == user {
			_ = f.RevokeSession(context.Background(), id, reason)
		}
	}
	return nil
}

func (f *fakeSessionStore) addUser(t *testing.T, identifier, password string, roles []string, disabled bool) *store.User {
	t.Helper()
	hash, err := HashPassword(password, ArgonInteractive)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &store.User{
		ID:           uuid.New(),
		Email:        identifier,
		Username:     identifier,
		PasswordHash: hash,
		Disabled:     disabled,
		Roles:        roles,
	}
	f.users[identifier] = u
	f.roles[u.ID] = roles
	return u
}

func newTestService(f *fakeSessionStore) *Service {
	return NewService(f, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour, 24*time.Hour, 10, ArgonInteractive)
}

func TestLoginSuccess(t *testing.T) {
	f := newFakeSessionStore()
	user := f.addUser(t, "alice@example.com", "hunter22!", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "hunter22!", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if creds.Token == "" || creds.CSRFToken == "" {
		t.Error("credentials missing token material")
	}
	if creds.Session.UserID != user.ID {
		t.Errorf("session bound to wrong user: %s", creds.Session.UserID)
	}

	// The plaintext token must not be stored; only its hash is.
	stored := f.sessions[creds.Session.ID]
	if string(stored.TokenHash) != string(HashToken(creds.Token)) {
		t.Error("stored hash does not match the issued token")
	}
}

func TestLoginFailures(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "hunter22!", []string{"user"}, false)
	f.addUser(t, "mallory@example.com", "pw", []string{"user"}, true)
	svc := newTestService(f)

	if _, err := svc.Login(context.Background(), "nobody@example.com", "x", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "mallory@example.com", "pw", ClientMeta{}); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("disabled account: expected ErrAccountDisabled, got %v", err)
	}
}

func TestValidateSlidesIdleWindow(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	base := time.Now()
	svc.now = func() time.Time { return base.Add(10 * time.Minute) }

	id, err := svc.Validate(context.Background(), creds.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.Rotated {
		t.Error("fresh session should not rotate")
	}

	slid := f.sessions[creds.Session.ID].IdleExpiresAt
	want := base.Add(10*time.Minute + time.Hour)
	if slid.Sub(want) > time.Second || want.Sub(slid) > time.Second {
		t.Errorf("idle window not slid: got %v, want ~%v", slid, want)
	}
}

func TestValidateExpiry(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Validate(context.Background(), creds.Token, ClientMeta{}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if f.revoked[creds.Session.ID] != "idle_expired" {
		t.Errorf("expected idle_expired revocation, got %q", f.revoked[creds.Session.ID])
	}

	// Absolute expiry wins over idle expiry. Reset the clock so the second
	// session is minted at the present before jumping past its ceiling.
	svc.now = time.Now
	creds2, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := svc.Validate(context.Background(), creds2.Token, ClientMeta{}); !errors.Is(err, ErrAbsoluteExpired) {
		t.Fatalf("expected ErrAbsoluteExpired, got %v", err)
	}
}

func TestValidateRejectsDisabledAccount(t *testing.T) {
	f := newFakeSessionStore()
	user := f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Disabling the account must invalidate sessions minted before the flag.
	user.Disabled = true

	if _, err := svc.Validate(context.Background(), creds.Token, ClientMeta{}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if f.revoked[creds.Session.ID] != "account_disabled" {
		t.Errorf("expected account_disabled revocation, got %q", f.revoked[creds.Session.ID])
	}
}

func TestValidateRotatesNearIdleExpiry(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Past the half-way point of the idle window.
	svc.now = func() time.Time { return time.Now().Add(40 * time.Minute) }

	id, err := svc.Validate(context.Background(), creds.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !id.Rotated {
		t.Fatal("expected rotation in the second half of the idle window")
	}
	if id.NewToken == "" || id.NewCSRF == "" {
		t.Error("rotation must mint fresh token material")
	}
	if id.PrevCSRF != creds.CSRFToken {
		t.Error("rotation must expose the previous CSRF token for the in-flight request")
	}
	if id.Session.ID == creds.Session.ID {
		t.Error("rotation must produce a new session row")
	}
	if !f.sessions[creds.Session.ID].Revoked() {
		t.Error("old session must be revoked with reason rotation")
	}
}

func TestValidateRotatesOnRoleChange(t *testing.T) {
	f := newFakeSessionStore()
	user := f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	f.roles[user.ID] = []string{"user", "admin"}

	id, err := svc.Validate(context.Background(), creds.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !id.Rotated {
		t.Fatal("expected rotation after role change")
	}
	if len(id.Session.Roles) != 2 {
		t.Errorf("rotated session should snapshot new roles, got %v", id.Session.Roles)
	}
}

func TestRotatedTokenReuseRevokesEverything(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(40 * time.Minute) }
	id, err := svc.Validate(context.Background(), creds.Token, ClientMeta{})
	if err != nil || !id.Rotated {
		t.Fatalf("expected rotation, got id=%+v err=%v", id, err)
	}

	// Replaying the pre-rotation token is treated as theft.
	if _, err := svc.Validate(context.Background(), creds.Token, ClientMeta{}); !errors.Is(err, ErrSuspiciousActivity) {
		t.Fatalf("expected ErrSuspiciousActivity, got %v", err)
	}
	if len(f.userRevocations) != 1 || f.userRevocations[0] != "suspicious_activity" {
		t.Errorf("expected a suspicious_activity mass revocation, got %v", f.userRevocations)
	}

	// The replacement token died with the rest.
	if _, err := svc.Validate(context.Background(), id.NewToken, ClientMeta{}); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession for the revoked replacement, got %v", err)
	}
}

func TestForceRotationFlagsSessions(t *testing.T) {
	f := newFakeSessionStore()
	user := f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	n, err := svc.ForceRotation(context.Background(), user.ID, "privilege_change")
	if err != nil {
		t.Fatalf("force rotation: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 flagged session, got %d", n)
	}

	id, err := svc.Validate(context.Background(), creds.Token, ClientMeta{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !id.Rotated {
		t.Error("flagged session should rotate on next validation")
	}
}

func TestLogout(t *testing.T) {
	f := newFakeSessionStore()
	f.addUser(t, "alice@example.com", "pw123456", []string{"user"}, false)
	svc := newTestService(f)

	creds, err := svc.Login(context.Background(), "alice@example.com", "pw123456", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(context.Background(), creds.Session.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Validate(context.Background(), creds.Token, ClientMeta{}); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession after logout, got %v", err)
	}
}
