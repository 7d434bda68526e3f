// Package membership implements the per-peer lifecycle (spec.md §4.1)
// and the gossip ping protocol (spec.md §4.3) over the node's peer map.
// It mirrors the lock discipline of the teacher's internal/ha.Manager —
// a single writer map mutated under the caller's lock — but owns no
// lock of its own; the caller (internal/node.Node) provides exclusive
// access per spec.md §4.6/§5.
package membership

import (
	"math/rand"
	"time"

	"github.com/indutny/naughtd/internal/config"
)

// Peer is one known remote node. All timestamps are derived from the
// local clock per spec.md §3.
type Peer struct {
	URI string

	PingAt     time.Time
	StableAt   time.Time
	InactiveAt time.Time
	RemoveAt   time.Time

	everAlive bool
}

// New creates a Peer on first sighting, per spec.md §3's lifecycle:
// ping immediately, become stable after stable_delay, start inactive
// until the first ping is received, and be evicted if nothing is heard
// within remove_timeout.
func New(uri string, cfg *config.Config, now time.Time) *Peer {
	return &Peer{
		URI:        uri,
		PingAt:     now,
		StableAt:   now.Add(cfg.StableDelay),
		InactiveAt: now.Add(-cfg.PingEvery.Max),
		RemoveAt:   now.Add(cfg.RemoveTimeout),
	}
}

// MarkAlive refreshes the peer's timers on receipt of a ping originated
// by this peer (spec.md §3/§4.3): only ever called on the sender of a
// ping, never on peers it merely advertises.
func (p *Peer) MarkAlive(cfg *config.Config, now time.Time) {
	p.RemoveAt = now.Add(cfg.AliveTimeout + cfg.RemoveTimeout)
	p.InactiveAt = now.Add(cfg.AliveTimeout)
	p.PingAt = now.Add(randomDuration(cfg.PingEvery.Min, cfg.PingEvery.Max))
	p.everAlive = true
}

// randomDuration draws uniformly from [min, max).
func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// ShouldRemove reports whether the peer record should be dropped.
func (p *Peer) ShouldRemove(now time.Time) bool {
	return !p.RemoveAt.After(now)
}

// ShouldPing reports whether a ping is due.
func (p *Peer) ShouldPing(now time.Time) bool {
	return !p.PingAt.After(now)
}

// IsStable reports whether the peer is eligible for placement by age.
func (p *Peer) IsStable(now time.Time) bool {
	return !p.StableAt.After(now)
}

// IsActive reports whether the peer has been heard from recently enough
// to still count as alive.
func (p *Peer) IsActive(now time.Time) bool {
	return now.Before(p.InactiveAt)
}

// IsEligible reports whether the peer may participate in placement:
// active and stable, per spec.md §3.
func (p *Peer) IsEligible(now time.Time) bool {
	return p.IsActive(now) && p.IsStable(now)
}

// State is the derived, diagnostics-only state machine of spec.md §4.9.
type State string

const (
	StateNew      State = "new"
	StateProbing  State = "probing"
	StateActive   State = "active"
	StateStale    State = "stale"
	StateEvicted  State = "evicted"
)

// DerivedState computes the peer's position in the spec.md §4.9 state
// machine for logging/diagnostics. It never affects placement logic,
// which uses IsEligible directly.
func (p *Peer) DerivedState(now time.Time) State {
	if p.ShouldRemove(now) {
		return StateEvicted
	}
	if !p.everAlive {
		return StateProbing
	}
	if !p.IsActive(now) {
		return StateStale
	}
	return StateActive
}
