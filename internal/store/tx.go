package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// WithActorTx runs fn inside a transaction with the acting user bound to
// app.current_user_id. The setting is LOCAL, so it disappears with the
// transaction and row-level security policies see the right actor.
func (d *Database) WithActorTx(ctx context.Context, actor uuid.UUID, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_user_id', $1, true)", actor.String()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bind actor: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return TranslateError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithSystemTx runs fn without an actor binding. Reserved for auth and
// maintenance paths that operate before a user identity exists.
func (d *Database) WithSystemTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return TranslateError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
