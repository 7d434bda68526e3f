package membership

import (
	"time"

	"github.com/indutny/naughtd/internal/config"
)

// Table is the peer map a Node owns. It carries no lock of its own —
// spec.md §4.6/§5 require a single exclusive lock shared across peers,
// data, last_peer_uris and self_uri, so the caller (internal/node.Node)
// holds that lock around every Table call.
type Table struct {
	cfg   *config.Config
	peers map[string]*Peer
}

// NewTable creates an empty peer table.
func NewTable(cfg *config.Config) *Table {
	return &Table{cfg: cfg, peers: make(map[string]*Peer)}
}

// Ping is the gossip message exchanged between nodes (spec.md §4.3).
type Ping struct {
	Sender string   `json:"sender"`
	Peers  []string `json:"peers"`
}

// Upsert ensures a peer record exists for uri, creating one with New if
// necessary. It never calls MarkAlive.
func (t *Table) Upsert(uri string, now time.Time) *Peer {
	if p, ok := t.peers[uri]; ok {
		return p
	}
	p := New(uri, t.cfg, now)
	t.peers[uri] = p
	return p
}

// RecvPing applies an inbound ping per spec.md §4.3: the sender and
// every peer URI it advertises are inserted if unknown, and MarkAlive is
// called exclusively on the sender.
func (t *Table) RecvPing(selfURI string, msg Ping, now time.Time) {
	if msg.Sender == selfURI {
		return
	}

	sender := t.Upsert(msg.Sender, now)
	for _, uri := range msg.Peers {
		if uri == selfURI || uri == msg.Sender {
			continue
		}
		t.Upsert(uri, now)
	}
	sender.MarkAlive(t.cfg, now)
}

// RemoveStale removes every peer with ShouldRemove(now) true and returns
// their URIs.
func (t *Table) RemoveStale(now time.Time) []string {
	var removed []string
	for uri, p := range t.peers {
		if p.ShouldRemove(now) {
			delete(t.peers, uri)
			removed = append(removed, uri)
		}
	}
	return removed
}

// Due returns the URIs of peers with ShouldPing(now) true.
func (t *Table) Due(now time.Time) []string {
	var due []string
	for uri, p := range t.peers {
		if p.ShouldPing(now) {
			due = append(due, uri)
		}
	}
	return due
}

// MarkAlive calls MarkAlive on the named peer, if present. Used to fold
// ping responses (and their implicit liveness) back into the table.
func (t *Table) MarkAlive(uri string, now time.Time) {
	if p, ok := t.peers[uri]; ok {
		p.MarkAlive(t.cfg, now)
	}
}

// URIs returns every known peer URI, regardless of eligibility.
func (t *Table) URIs() []string {
	uris := make([]string, 0, len(t.peers))
	for uri := range t.peers {
		uris = append(uris, uri)
	}
	return uris
}

// Eligible returns the URIs of peers that are active and stable now —
// the candidate set for placement (spec.md §3/§4.2).
func (t *Table) Eligible(now time.Time) []string {
	var eligible []string
	for uri, p := range t.peers {
		if p.IsEligible(now) {
			eligible = append(eligible, uri)
		}
	}
	return eligible
}

// Active returns the URIs of peers considered active now, regardless of
// stability — the set advertised in an outbound Ping's peers field
// (spec.md §4.3: "active peer URIs seen by sender").
func (t *Table) Active(now time.Time) []string {
	var active []string
	for uri, p := range t.peers {
		if p.IsActive(now) {
			active = append(active, uri)
		}
	}
	return active
}

// Peer returns the peer record for uri, if any, for diagnostics.
func (t *Table) Peer(uri string) (*Peer, bool) {
	p, ok := t.peers[uri]
	return p, ok
}

// Len reports how many peers are currently known.
func (t *Table) Len() int {
	return len(t.peers)
}
