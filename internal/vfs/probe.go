package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Pragmas exposed by the VFS extension on replica connections.
const (
	pragmaTXID = "PRAGMA litestream_txid"
	pragmaLag  = "PRAGMA litestream_lag"
	pragmaTime = "PRAGMA litestream_time"
)

// Status is a point-in-time snapshot of a replica connection, recomputed
// on every probe and never cached: lag changes continuously, so a stored
// value would misclassify staleness.
type Status struct {
	// Alias is the connection the status was probed from.
	Alias string

	// TXID is the replica's current transaction identifier, or "" when
	// the probe for it failed. Opaque and monotonically non-decreasing.
	TXID string

	// LagSeconds is seconds since the replica last confirmed itself
	// current with the primary, or nil when unknown.
	LagSeconds *float64
}

// HasLag reports whether a lag measurement is available.
func (s Status) HasLag() bool { return s.LagSeconds != nil }

// Probe queries db for its transaction identifier and replication lag.
//
// The two queries are independently fault-tolerant: a failure (or absent
// row) on one degrades only that field to unknown, never the whole probe.
// A missing txid must not block lag reporting or vice versa. No retries
// happen here; callers own retry policy.
func Probe(ctx context.Context, db *sql.DB, alias string) Status {
	st := Status{Alias: alias}

	var txid string
	if err := db.QueryRowContext(ctx, pragmaTXID).Scan(&txid); err == nil {
		st.TXID = txid
	}

	var lag float64
	if err := db.QueryRowContext(ctx, pragmaLag).Scan(&lag); err == nil {
		st.LagSeconds = &lag
	}

	return st
}

// SetupError reports a rejected time-travel directive: an invalid time
// point, or an extension that doesn't support time travel.
type SetupError struct {
	// TimePoint is the directive argument that was rejected.
	TimePoint string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	return fmt.Sprintf("set time travel to %q: %v", e.TimePoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SetupError) Unwrap() error { return e.Err }

// IsSetupError returns true if err is (or wraps) a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// SetTimeTravel pins conn to a historical point in time. timePoint passes
// through verbatim; the extension interprets both ISO timestamps
// ("2024-12-20 14:00:00") and relative expressions ("1 hour ago").
//
// The directive is connection-scoped, so it takes a dedicated *sql.Conn:
// issued through a pooled *sql.DB it would land on one arbitrary
// connection and leave every other pool connection unpinned. The caller
// must route all pinned queries through the same conn.
//
// Pragmas can't take bound parameters, so the value is embedded as a
// quoted literal with single quotes doubled.
func SetTimeTravel(ctx context.Context, conn *sql.Conn, timePoint string) error {
	stmt := fmt.Sprintf("%s='%s'", pragmaTime, strings.ReplaceAll(timePoint, "'", "''"))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return &SetupError{TimePoint: timePoint, Err: err}
	}
	return nil
}
