// Package registry tracks the process's named database connections: one
// writable primary plus any number of read-only VFS replicas. Connections
// open lazily and are shared; replica opens are gated on the VFS
// extension loader.
package registry

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlmirror/internal/config"
	"github.com/roach88/sqlmirror/internal/vfs"
)

// replicaURLEnv is read by the VFS extension when a connection opens to
// locate the replica's source object storage.
const replicaURLEnv = "LITESTREAM_REPLICA_URL"

// ConfigError reports a request naming an alias that doesn't exist or
// isn't the kind of connection the operation requires. Always surfaced to
// the caller; never retried automatically.
type ConfigError struct {
	// Alias is the offending connection name.
	Alias string

	// Reason describes what was wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("connection %q: %s", e.Alias, e.Reason)
}

// IsConfigError returns true if err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ExtensionLoader gates replica connection opens on the one-time VFS
// extension load. Satisfied by *vfs.Loader.
type ExtensionLoader interface {
	EnsureLoaded(ctx context.Context) error
}

// Registry is the set of named connections built once from configuration.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	primaryAlias string
	loader       ExtensionLoader

	// dsn builds the DSN for a replica entry. Overridable in tests,
	// where no real VFS extension is available.
	dsn func(alias string, rep config.Replica) string
}

type entry struct {
	replica   config.Replica // zero for the primary
	isReplica bool
	path      string // primary database file path
	db        *sql.DB
}

// Option customizes a Registry.
type Option func(*Registry)

// WithDSNFunc overrides how replica DSNs are built. Test seam.
func WithDSNFunc(fn func(alias string, rep config.Replica) string) Option {
	return func(r *Registry) { r.dsn = fn }
}

// New builds a registry from configuration: the primary plus one entry
// per configured replica. loader is consulted before any replica
// connection opens; it may be nil only when no replicas are configured or
// a custom DSN func bypasses the VFS.
func New(cfg *config.Config, loader ExtensionLoader, opts ...Option) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		primaryAlias: cfg.PrimaryAlias(),
		loader:       loader,
		dsn:          replicaDSN,
	}
	r.entries[cfg.PrimaryAlias()] = &entry{path: cfg.Primary.Path}
	for _, rep := range cfg.Replicas() {
		r.entries[rep.Alias] = &entry{replica: rep, isReplica: true}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// replicaDSN is the production DSN: a URI filename selecting the
// litestream VFS in read-only mode. The database "file" is virtual; the
// VFS pages it in from the replica source on demand.
func replicaDSN(alias string, _ config.Replica) string {
	return fmt.Sprintf("file:%s.db?vfs=litestream&mode=ro", alias)
}

var sqliteDriver = &sqlite3.SQLiteDriver{}

// envMu serializes the env-var handoff to the VFS across every replica
// connection open in the process. The VFS reads the source URL from the
// environment on each connection open, not just the first, and pools
// open connections lazily long after DB() returned.
var envMu sync.Mutex

// replicaConnector opens replica connections, publishing the replica's
// source URL to the environment immediately before each underlying open.
// Pool growth and idle-connection replacement both go through Connect,
// so every connection a replica pool ever opens sees its own URL, never
// a sibling replica's.
type replicaConnector struct {
	dsn string
	url string
}

func (c *replicaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	envMu.Lock()
	defer envMu.Unlock()

	if err := os.Setenv(replicaURLEnv, c.url); err != nil {
		return nil, fmt.Errorf("set %s: %w", replicaURLEnv, err)
	}
	return sqliteDriver.Open(c.dsn)
}

func (c *replicaConnector) Driver() driver.Driver { return sqliteDriver }

// PrimaryAlias returns the name of the writable connection.
func (r *Registry) PrimaryAlias() string { return r.primaryAlias }

// ReplicaAliases returns the configured replica names, sorted. Includes
// any currently registered temporary aliases.
func (r *Registry) ReplicaAliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.entries))
	for alias, e := range r.entries {
		if e.isReplica {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases
}

// Replica returns the endpoint configuration for a replica alias.
func (r *Registry) Replica(alias string) (config.Replica, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[alias]
	if !ok || !e.isReplica {
		return config.Replica{}, false
	}
	return e.replica, true
}

// DB returns the shared connection for alias, opening it on first use.
// Opening a replica first ensures the VFS extension is loaded.
func (r *Registry) DB(ctx context.Context, alias string) (*sql.DB, error) {
	r.mu.RLock()
	e, ok := r.entries[alias]
	if ok && e.db != nil {
		db := e.db
		r.mu.RUnlock()
		return db, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-look up under the write lock: the alias may have been opened or
	// deregistered while we upgraded.
	e, ok = r.entries[alias]
	if !ok {
		return nil, &ConfigError{Alias: alias, Reason: "not configured"}
	}
	if e.db != nil {
		return e.db, nil
	}

	db, err := r.open(ctx, alias, e)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// open dials the underlying database. Caller holds the write lock.
// Replica pools go through a connector so the env-var handoff to the VFS
// happens on every low-level open, not only the first.
func (r *Registry) open(ctx context.Context, alias string, e *entry) (*sql.DB, error) {
	var db *sql.DB
	if e.isReplica {
		if r.loader != nil {
			if err := r.loader.EnsureLoaded(ctx); err != nil {
				return nil, err
			}
		}
		db = sql.OpenDB(&replicaConnector{dsn: r.dsn(alias, e.replica), url: e.replica.URL})
	} else {
		var err error
		db, err = sql.Open("sqlite3", e.path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", alias, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", alias, err)
	}
	return db, nil
}

// Register adds a connection under a new alias, cloned from the given
// replica endpoint. Used for time-travel sessions. Fails if the alias is
// already taken, so synthesized aliases can never shadow configured ones.
func (r *Registry) Register(alias string, rep config.Replica) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[alias]; exists {
		return &ConfigError{Alias: alias, Reason: "already registered"}
	}
	rep.Alias = alias
	r.entries[alias] = &entry{replica: rep, isReplica: true}
	return nil
}

// Deregister closes and removes the connection under alias. Removing an
// alias that was never registered is not an error; cleanup paths call
// this unconditionally.
func (r *Registry) Deregister(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[alias]
	if !ok {
		return nil
	}
	delete(r.entries, alias)
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Has reports whether alias names a registered connection.
func (r *Registry) Has(alias string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[alias]
	return ok
}

// CloseAll closes every open connection. The registry remains usable;
// connections reopen lazily.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for alias, e := range r.entries {
		if e.db == nil {
			continue
		}
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", alias, err))
		}
		e.db = nil
	}
	return errors.Join(errs...)
}

// Status describes a replica connection at probe time.
type Status struct {
	// Alias is the replica's connection name.
	Alias string `json:"alias"`

	// IsReplica is always true; present for API symmetry with host
	// frameworks that report it.
	IsReplica bool `json:"is_replica"`

	// SourceURL is the replica's configured source.
	SourceURL string `json:"source_url"`

	// TXID is the current transaction identifier, "" when unknown.
	TXID string `json:"txid,omitempty"`

	// LagSeconds is the measured replication lag, nil when unknown.
	LagSeconds *float64 `json:"lag_seconds"`
}

// Status probes the named replica for its transaction id and lag. Fails
// with a ConfigError when alias isn't a configured replica; individual
// probe failures degrade fields to unknown instead of failing the call.
func (r *Registry) Status(ctx context.Context, alias string) (Status, error) {
	rep, ok := r.Replica(alias)
	if !ok {
		if r.Has(alias) {
			return Status{}, &ConfigError{Alias: alias, Reason: "not a replica"}
		}
		return Status{}, &ConfigError{Alias: alias, Reason: "not configured"}
	}

	db, err := r.DB(ctx, alias)
	if err != nil {
		return Status{}, err
	}

	probed := vfs.Probe(ctx, db, alias)
	return Status{
		Alias:      alias,
		IsReplica:  true,
		SourceURL:  rep.URL,
		TXID:       probed.TXID,
		LagSeconds: probed.LagSeconds,
	}, nil
}
