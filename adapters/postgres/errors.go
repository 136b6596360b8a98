package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// sqlState extracts the SQLSTATE code from a pgx or lib/pq error.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// unavailable reports errors that mean the database could not be reached
// or refused work: connection exceptions (08), insufficient resources (53)
// and operator intervention (57P).
func unavailable(err error) bool {
	code := sqlState(err)
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P"):
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrap maps a driver error onto the adapter's error classes.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if err = adapters.ContextError(err); errors.Is(err, adapters.ErrStorageUnavailable) {
		return fmt.Errorf("stoat/postgres: %s: %w", op, err)
	}
	if unavailable(err) {
		return fmt.Errorf("stoat/postgres: %s: %w: %w", op, adapters.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("stoat/postgres: %s: %w", op, err)
}

// conflictOr turns a unique violation into a concurrency conflict. The
// actual version is unknown at that point, so it is reported one past the
// expected one.
func conflictOr(streamID string, expected uint64, op string, err error) error {
	if sqlState(err) == uniqueViolation {
		return adapters.NewConcurrencyError(streamID, expected, expected+1)
	}
	return wrap(op, err)
}

func eventID(r adapters.EventRecord) string {
	if r.ID != "" {
		return r.ID
	}
	return uuid.NewString()
}

func recordedAt(r adapters.EventRecord) time.Time {
	if r.RecordedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.RecordedAt
}
