// Package timetravel opens scoped, point-in-time views of a replica.
// A session registers a temporary connection pinned to a historical
// moment and guarantees teardown on every exit path.
package timetravel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/sqlmirror/internal/metrics"
	"github.com/roach88/sqlmirror/internal/registry"
	"github.com/roach88/sqlmirror/internal/vfs"
)

// tempAliasPrefix namespaces session aliases. Configuration rejects user
// aliases with a leading underscore, so a synthesized alias can never
// collide with a configured one.
const tempAliasPrefix = "_timetravel_"

// TempAlias returns the session alias derived from a base replica alias.
// Deterministic: repeated sessions on the same base reuse the same name,
// which is why concurrent overlapping sessions on one base alias are
// undefined behavior.
func TempAlias(baseAlias string) string {
	return tempAliasPrefix + baseAlias
}

// Session is an open point-in-time view of a replica. Close must be
// called on every exit path; prefer With, which guarantees it.
//
// The time-travel directive is connection-scoped, so the session holds
// one dedicated connection pinned at open. All session queries must go
// through Conn; any other connection to the same alias sees present-day
// data.
type Session struct {
	reg   *registry.Registry
	alias string
	conn  *sql.Conn

	closeOnce sync.Once
	closeErr  error
}

// Alias returns the temporary connection name the session is registered
// under.
func (s *Session) Alias() string { return s.alias }

// Conn returns the dedicated connection pinned to the session's point in
// time.
func (s *Session) Conn() *sql.Conn { return s.conn }

// Close tears the session down: the pinned connection is released and
// the temporary registration removed. Idempotent; safe to call after a
// failed setup.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var connErr error
		if s.conn != nil {
			connErr = s.conn.Close()
		}
		s.closeErr = errors.Join(connErr, s.reg.Deregister(s.alias))
	})
	return s.closeErr
}

// Open starts a point-in-time session on the named replica.
//
// baseAlias must resolve to a configured replica; anything else fails
// with a ConfigError. The replica's configuration is cloned under a
// deterministic temporary alias, a dedicated connection is acquired from
// it, and a single time-travel directive is issued on that connection
// with timePoint verbatim (absolute timestamps and relative expressions
// are both understood by the extension).
//
// On any setup failure the temporary registration is removed before the
// error is returned; a failed Open never leaks an alias or a connection.
func Open(ctx context.Context, reg *registry.Registry, baseAlias, timePoint string) (*Session, error) {
	rep, ok := reg.Replica(baseAlias)
	if !ok {
		metrics.TimeTravelFailed()
		return nil, &registry.ConfigError{Alias: baseAlias, Reason: "time travel requires a configured replica"}
	}

	s := &Session{reg: reg, alias: TempAlias(baseAlias)}

	if err := reg.Register(s.alias, rep); err != nil {
		metrics.TimeTravelFailed()
		return nil, err
	}

	db, err := reg.DB(ctx, s.alias)
	if err != nil {
		metrics.TimeTravelFailed()
		return nil, errors.Join(err, s.Close())
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		metrics.TimeTravelFailed()
		return nil, errors.Join(fmt.Errorf("acquire session connection: %w", err), s.Close())
	}
	s.conn = conn

	if err := vfs.SetTimeTravel(ctx, conn, timePoint); err != nil {
		metrics.TimeTravelFailed()
		return nil, errors.Join(err, s.Close())
	}

	metrics.TimeTravelOpened()
	return s, nil
}

// With runs fn against the pinned connection of a point-in-time session
// and guarantees cleanup on every exit path: normal return, error
// return, or panic inside fn.
//
//	err := timetravel.With(ctx, reg, "prod_replica", "1 hour ago",
//		func(conn *sql.Conn) error {
//			row := conn.QueryRowContext(ctx, "SELECT ...")
//			...
//		})
func With(ctx context.Context, reg *registry.Registry, baseAlias, timePoint string, fn func(conn *sql.Conn) error) error {
	s, err := Open(ctx, reg, baseAlias, timePoint)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s.Conn())
}
