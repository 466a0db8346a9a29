package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateUser inserts an account with an already-hashed password and its
// initial role set. Used by the bootstrap CLI; the HTTP surface has no
// self-registration.
func (d *Database) CreateUser(ctx context.Context, email, username, displayName, passwordHash string, roles []string) (*User, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, TranslateError(err)
	}
	defer tx.Rollback()

	u := &User{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (email, username, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, username, COALESCE(display_name, ''), disabled`,
		email, username, nullIfEmpty(displayName), passwordHash,
	).Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Disabled)
	if err != nil {
		return nil, TranslateError(err)
	}

	if len(roles) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`,
			u.ID, pq.Array(roles),
		); err != nil {
			return nil, TranslateError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, TranslateError(err)
	}
	u.Roles = roles
	return u, nil
}

// UserByID loads an account by primary key.
func (d *Database) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, username, COALESCE(display_name, ''), disabled
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.Disabled)
	if err != nil {
		return nil, TranslateError(err)
	}
	return &u, nil
}

// SetUserDisabled toggles the account flag. Disabling does not revoke live
// sessions; callers pair it with RevokeUserSessions when locking out.
func (d *Database) SetUserDisabled(ctx context.Context, user uuid.UUID, disabled bool) error {
	res, err := d.DB.ExecContext(ctx,
		`UPDATE users SET disabled = $2 WHERE id = $1`, user, disabled)
	if err != nil {
		return TranslateError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
