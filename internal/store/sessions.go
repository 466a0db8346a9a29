package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const sessionColumns = `id, user_id, token_hash, csrf_token, roles, issued_at,
	idle_expires_at, absolute_expires_at, last_seen_at, requires_rotation,
	revoked_at, revoke_reason, rotated_from, user_agent, ip, client_meta`

func scanSession(scanner interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.CSRFToken, pq.Array(&s.Roles), &s.IssuedAt,
		&s.IdleExpiresAt, &s.AbsoluteExpiresAt, &s.LastSeenAt, &s.RequiresRotation,
		&s.RevokedAt, &s.RevokeReason, &s.RotatedFrom, &s.UserAgent, &s.IP, &s.ClientMeta,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindUserForLogin resolves a user by email or username, with role snapshot.
func (d *Database) FindUserForLogin(ctx context.Context, identifier string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx,
		"SELECT id, email, username, display_name, password_hash, disabled, roles FROM sp_auth_login($1)",
		identifier,
	).Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Disabled, pq.Array(&u.Roles))
	if err != nil {
		return nil, TranslateError(err)
	}
	return &u, nil
}

// CurrentRoles returns the user's live role set, used to detect a stale
// snapshot on a session row.
func (d *Database) CurrentRoles(ctx context.Context, user uuid.UUID) ([]string, error) {
	var roles []string
	err := d.DB.QueryRowContext(ctx,
		"SELECT COALESCE(array_agg(role), '{}') FROM user_roles WHERE user_id = $1",
		user,
	).Scan(pq.Array(&roles))
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}

type NewSession struct {
	UserID            uuid.UUID
	TokenHash         []byte
	CSRFToken         string
	Roles             []string
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
	UserAgent         string
	IP                string
	ClientMeta        []byte
}

// InsertSession creates a session row and enforces the per-user session cap
// by revoking the oldest live sessions beyond the limit.
func (d *Database) InsertSession(ctx context.Context, ns NewSession, maxPerUser int) (*Session, error) {
	var out *Session
	err := d.WithSystemTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO sessions (user_id, token_hash, csrf_token, roles, idle_expires_at, absolute_expires_at, user_agent, ip, client_meta)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), COALESCE($9, '{}'::jsonb))
			RETURNING `+sessionColumns,
			ns.UserID, ns.TokenHash, ns.CSRFToken, pq.Array(ns.Roles),
			ns.IdleExpiresAt, ns.AbsoluteExpiresAt, ns.UserAgent, ns.IP, ns.ClientMeta,
		)
		s, err := scanSession(row)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if maxPerUser > 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE sessions SET revoked_at = now(), revoke_reason = 'session_cap'
				WHERE id IN (
					SELECT id FROM sessions
					WHERE user_id = $1 AND revoked_at IS NULL
					ORDER BY issued_at DESC
					OFFSET $2
				)`,
				ns.UserID, maxPerUser,
			)
			if err != nil {
				return fmt.Errorf("enforce session cap: %w", err)
			}
		}
		out = s
		return nil
	})
	return out, err
}

// FindSessionByTokenHash loads a session by the SHA-256 hash of the bearer
// token. Revoked sessions are returned so callers can distinguish reuse.
func (d *Database) FindSessionByTokenHash(ctx context.Context, hash []byte) (*Session, error) {
	row := d.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = $1", hash)
	s, err := scanSession(row)
	if err != nil {
		return nil, TranslateError(err)
	}
	return s, nil
}

// TouchSession slides the idle window forward, never past absolute expiry.
func (d *Database) TouchSession(ctx context.Context, id uuid.UUID, idleExpiresAt time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE sessions
		SET last_seen_at = now(), idle_expires_at = LEAST($2, absolute_expires_at)
		WHERE id = $1 AND revoked_at IS NULL`,
		id, idleExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RotateSession revokes the old session and mints its replacement atomically.
func (d *Database) RotateSession(ctx context.Context, old uuid.UUID, ns NewSession) (*Session, error) {
	var out *Session
	err := d.WithSystemTx(ctx, func(tx *sql.Tx) error {
		var id, userID uuid.UUID
		var issuedAt time.Time
		err := tx.QueryRowContext(ctx,
			"SELECT id, user_id, issued_at FROM sp_auth_refresh($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), COALESCE($9, '{}'::jsonb))",
			old, ns.TokenHash, ns.CSRFToken, pq.Array(ns.Roles),
			ns.IdleExpiresAt, ns.AbsoluteExpiresAt, ns.UserAgent, ns.IP, ns.ClientMeta,
		).Scan(&id, &userID, &issuedAt)
		if err != nil {
			return err
		}
		out = &Session{
			ID:                id,
			UserID:            userID,
			TokenHash:         ns.TokenHash,
			CSRFToken:         ns.CSRFToken,
			Roles:             ns.Roles,
			IssuedAt:          issuedAt,
			IdleExpiresAt:     ns.IdleExpiresAt,
			AbsoluteExpiresAt: ns.AbsoluteExpiresAt,
			LastSeenAt:        issuedAt,
		}
		return nil
	})
	return out, err
}

// RevokeSession revokes a single session with a reason (logout, reuse, admin).
func (d *Database) RevokeSession(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := d.DB.ExecContext(ctx, "SELECT sp_auth_logout($1, $2)", id, reason); err != nil {
		return fmt.Errorf("sp_auth_logout: %w", err)
	}
	return nil
}

// MarkUserForRotation flags all of a user's live sessions so the next
// validated request rotates them. Returns the number of sessions flagged.
func (d *Database) MarkUserForRotation(ctx context.Context, user uuid.UUID, reason string) (int, error) {
	var n int
	if err := d.DB.QueryRowContext(ctx, "SELECT sp_auth_mark_rotation($1, $2)", user, reason).Scan(&n); err != nil {
		return 0, fmt.Errorf("sp_auth_mark_rotation: %w", err)
	}
	return n, nil
}

// RevokeUserSessions revokes every live session for a user.
func (d *Database) RevokeUserSessions(ctx context.Context, user uuid.UUID, reason string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now(), revoke_reason = $2
		WHERE user_id = $1 AND revoked_at IS NULL`,
		user, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}
