// Package sqlmirror gives applications transparent read access to
// litestream-fed SQLite replicas while guaranteeing writes land on the
// primary.
//
// Reads route to a randomly chosen replica whose replication lag is
// within a configured threshold, falling back to the primary when none
// qualify. The native VFS extension is loaded exactly once per process,
// on first replica use. Point-in-time sessions open a scoped historical
// view of a replica with guaranteed teardown.
package sqlmirror

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sqlmirror/internal/config"
	"github.com/roach88/sqlmirror/internal/metrics"
	"github.com/roach88/sqlmirror/internal/registry"
	"github.com/roach88/sqlmirror/internal/router"
	"github.com/roach88/sqlmirror/internal/timetravel"
	"github.com/roach88/sqlmirror/internal/vfs"
)

// Re-exported types; see the internal packages for full documentation.
type (
	// Config is the application configuration, loaded once at startup.
	Config = config.Config

	// Replica is an immutable replica endpoint.
	Replica = config.Replica

	// Registry tracks the process's named connections.
	Registry = registry.Registry

	// Status is a replica's probe result.
	Status = registry.Status

	// Router performs lag-aware read/write routing.
	Router = router.Router

	// Verdict is the tri-state migration opinion.
	Verdict = router.Verdict

	// Session is an open point-in-time view of a replica.
	Session = timetravel.Session
)

// Migration verdicts.
const (
	NoOpinion = router.NoOpinion
	Allow     = router.Allow
	Deny      = router.Deny
)

// Error classification helpers.
var (
	IsConfigError = registry.IsConfigError
	IsLoadError   = vfs.IsLoadError
	IsSetupError  = vfs.IsSetupError
)

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// RegisterMetrics attaches the module's Prometheus collectors (routing
// decisions, probe failures, replica lag, time-travel session outcomes)
// to reg. Call once at startup; recording happens regardless, but
// nothing is exported until the collectors are registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	return metrics.Register(reg)
}

// Mirror is the assembled replica-awareness subsystem: extension loader,
// connection registry, and router, built from one configuration.
type Mirror struct {
	cfg      *Config
	loader   *vfs.Loader
	registry *Registry
	router   *Router
}

// New assembles a Mirror from configuration. No connections open here;
// everything is lazy, and an extension that fails to load surfaces on
// first replica use rather than at startup.
func New(cfg *Config) (*Mirror, error) {
	path, err := vfs.ExtensionPath(cfg.VFS.ExtensionDir)
	if err != nil {
		return nil, err
	}
	loader := vfs.NewLoader(path, &vfs.Installer{
		BaseURL: cfg.VFS.ExtensionBaseURL,
		Dir:     cfg.VFS.ExtensionDir,
	})
	reg := registry.New(cfg, loader)
	return &Mirror{
		cfg:      cfg,
		loader:   loader,
		registry: reg,
		router:   router.New(reg, cfg.MaxLagSeconds()),
	}, nil
}

// Registry returns the connection registry.
func (m *Mirror) Registry() *Registry { return m.registry }

// Router returns the read/write router.
func (m *Mirror) Router() *Router { return m.router }

// EnsureLoaded loads the VFS extension now instead of on first replica
// use. Optional; a failure here is retryable and should usually be
// deferred to first use.
func (m *Mirror) EnsureLoaded(ctx context.Context) error {
	return m.loader.EnsureLoaded(ctx)
}

// DB returns the shared connection for an alias, typically one obtained
// from the router.
func (m *Mirror) DB(ctx context.Context, alias string) (*sql.DB, error) {
	return m.registry.DB(ctx, alias)
}

// GetStatus probes the named replica for its transaction id and lag.
func (m *Mirror) GetStatus(ctx context.Context, alias string) (Status, error) {
	return m.registry.Status(ctx, alias)
}

// OpenSession starts a point-in-time session on a replica. All session
// queries must go through Session.Conn, the dedicated connection the
// point in time is pinned to. The caller must Close the returned
// session; prefer TimeTravel for scoped use.
func (m *Mirror) OpenSession(ctx context.Context, baseAlias, timePoint string) (*Session, error) {
	return timetravel.Open(ctx, m.registry, baseAlias, timePoint)
}

// TimeTravel runs fn against the pinned connection of a point-in-time
// session and guarantees session teardown on every exit path.
func (m *Mirror) TimeTravel(ctx context.Context, baseAlias, timePoint string, fn func(conn *sql.Conn) error) error {
	return timetravel.With(ctx, m.registry, baseAlias, timePoint, fn)
}

// Close closes every open connection. The mirror stays usable;
// connections reopen lazily.
func (m *Mirror) Close() error {
	return m.registry.CloseAll()
}
