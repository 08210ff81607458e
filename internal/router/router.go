// Package router selects a target connection for every data operation:
// reads go to a randomly chosen fresh replica, writes always go to the
// primary. Freshness is re-measured on every routing decision.
package router

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/roach88/sqlmirror/internal/metrics"
	"github.com/roach88/sqlmirror/internal/registry"
)

// StatusSource supplies the connection topology and per-replica status.
// Satisfied by *registry.Registry.
type StatusSource interface {
	PrimaryAlias() string
	ReplicaAliases() []string
	Status(ctx context.Context, alias string) (registry.Status, error)
}

// Router implements lag-aware read/write routing over a set of replicas.
//
// The replica alias list is discovered once, on first use, and cached for
// the life of the Router; replicas registered afterwards are invisible to
// this instance. Health, by contrast, is never cached: every read routing
// decision re-probes every replica, trading probe traffic for freshness.
//
// Routing is read-your-writes-unsafe by design: a read immediately after
// a write may land on a replica that hasn't observed that write yet. The
// lag threshold is a staleness ceiling, not a freshness guarantee.
type Router struct {
	source StatusSource
	maxLag float64

	discover sync.Once
	aliases  []string

	// rnd is a locally seeded non-cryptographic generator; uniform
	// selection is enough because every healthy replica is within the
	// same staleness bound.
	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New creates a router over source with the given staleness threshold in
// seconds.
func New(source StatusSource, maxLagSeconds float64) *Router {
	seed := time.Now().UnixNano()
	return &Router{
		source: source,
		maxLag: maxLagSeconds,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// replicas returns the cached replica alias list, discovering it on
// first use.
func (r *Router) replicas() []string {
	r.discover.Do(func() {
		r.aliases = r.source.ReplicaAliases()
	})
	return r.aliases
}

// healthyReplicas probes every known replica and returns those whose lag
// is measurable and within the threshold, preserving discovery order.
//
// A replica with unknown lag is never healthy-by-default, and a probe
// error on one replica only excludes that replica; the rest are still
// evaluated.
func (r *Router) healthyReplicas(ctx context.Context) []string {
	var healthy []string
	for _, alias := range r.replicas() {
		st, err := r.source.Status(ctx, alias)
		if err != nil {
			metrics.ProbeFailure(alias)
			continue
		}
		if st.LagSeconds == nil {
			metrics.ProbeFailure(alias)
			continue
		}
		metrics.SetReplicaLag(alias, *st.LagSeconds)
		if *st.LagSeconds <= r.maxLag {
			healthy = append(healthy, alias)
		}
	}
	return healthy
}

// ReadTarget returns the connection a read should use: a uniformly
// random healthy replica, or the primary when none qualify. Degraded
// routing is not an error; the fallback is silent.
func (r *Router) ReadTarget(ctx context.Context) string {
	healthy := r.healthyReplicas(ctx)
	if len(healthy) == 0 {
		metrics.ReadRouted(metrics.TargetPrimary)
		return r.source.PrimaryAlias()
	}

	r.rndMu.Lock()
	alias := healthy[r.rnd.Intn(len(healthy))]
	r.rndMu.Unlock()

	metrics.ReadRouted(metrics.TargetReplica)
	return alias
}

// WriteTarget returns the connection writes must use: always the
// primary. Replicas are read-only mirrors and never receive mutations.
func (r *Router) WriteTarget() string {
	return r.source.PrimaryAlias()
}

// AllowRelation reports whether objects on the two connections may be
// related. Always true: replicas are logically consistent copies of the
// primary, so staleness introduces temporal lag, not structural
// inconsistency.
func (r *Router) AllowRelation(a, b string) bool {
	return true
}

// Verdict is a tri-state migration opinion. NoOpinion lets other routers
// in a chain decide.
type Verdict int

const (
	// NoOpinion means this router doesn't manage the connection.
	NoOpinion Verdict = iota

	// Allow permits the migration.
	Allow

	// Deny forbids the migration.
	Deny
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "no opinion"
	}
}

// AllowMigrate returns the router's opinion on schema-mutating
// operations against alias: Allow for the primary, Deny for any known
// replica (they are externally fed and must never be migrated), and
// NoOpinion for connections this router doesn't manage.
func (r *Router) AllowMigrate(alias string) Verdict {
	if alias == r.source.PrimaryAlias() {
		return Allow
	}
	for _, replica := range r.replicas() {
		if alias == replica {
			return Deny
		}
	}
	return NoOpinion
}
