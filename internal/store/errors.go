package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Sentinel errors for the stable failure codes the sp_* functions raise.
// Procedures embed the code at the start of the exception message; we match
// on that prefix rather than on SQLSTATE so new procedures need no Go change.
var (
	ErrUnauthorized = errors.New("store: unauthorized")
	ErrForbidden    = errors.New("store: forbidden")
	ErrNotFound     = errors.New("store: not found")
	ErrValidation   = errors.New("store: validation failed")
	ErrRateLimited  = errors.New("store: rate limited")
)

// TranslateError maps a database error onto the store's sentinel taxonomy.
// Unknown errors pass through unchanged so callers can log the raw cause.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	msg := pqErr.Message
	switch {
	case strings.HasPrefix(msg, "RGP.401"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail(msg))
	case strings.HasPrefix(msg, "RGP.403"):
		return fmt.Errorf("%w: %s", ErrForbidden, detail(msg))
	case strings.HasPrefix(msg, "RGP.404"):
		return fmt.Errorf("%w: %s", ErrNotFound, detail(msg))
	case strings.HasPrefix(msg, "RGP.VALIDATION"):
		return fmt.Errorf("%w: %s", ErrValidation, detail(msg))
	case strings.HasPrefix(msg, "RGP.429"):
		return fmt.Errorf("%w: %s", ErrRateLimited, detail(msg))
	}
	return err
}

func detail(msg string) string {
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
