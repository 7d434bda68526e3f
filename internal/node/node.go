// Package node implements the single-writer façade of spec.md §4.6: the
// one place peers, data, last_peer_uris and self_uri are mutated, behind
// one exclusive lock. Grounded directly on the teacher's internal/ha
// Manager — the same "snapshot ids under the lock, run I/O outside it,
// reacquire briefly to commit" discipline, generalized from heartbeat
// bookkeeping to placement and replication.
package node

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indutny/naughtd/internal/config"
	"github.com/indutny/naughtd/internal/containerid"
	"github.com/indutny/naughtd/internal/events"
	"github.com/indutny/naughtd/internal/membership"
	"github.com/indutny/naughtd/internal/peerclient"
	"github.com/indutny/naughtd/internal/replication"
)

// Node owns every mutable piece of process state named in spec.md §4.6.
type Node struct {
	cfg    *config.Config
	client *peerclient.Client
	hub    *events.Hub // optional; nil disables event broadcast

	mu           sync.Mutex
	peers        *membership.Table
	data         map[string][]byte
	pending      map[string]struct{} // ids whose Store fan-out is in flight
	lastPeerURIs []string
	selfURI      string

	rebalancing int32 // atomic guard, see spec.md §9 open question 1
}

// New creates a Node seeded from cfg's initial_peers, per spec.md §3/§6.
// self_uri starts empty; call SetLocalAddr once the effective bind
// address is known, since with an OS-assigned port (-p 0) that address
// isn't available until after the listener is opened.
func New(cfg *config.Config, client *peerclient.Client, hub *events.Hub) *Node {
	n := &Node{
		cfg:     cfg,
		client:  client,
		hub:     hub,
		peers:   membership.NewTable(cfg),
		data:    make(map[string][]byte),
		pending: make(map[string]struct{}),
	}
	now := time.Now()
	for _, uri := range cfg.InitialPeers {
		n.peers.Upsert(uri, now)
	}
	return n
}

// SetLocalAddr updates self_uri once the effective bind address is
// known, per spec.md §4.6's set_local_addr(addr). It also updates the
// sender URI internal/peerclient advertises on outbound requests, so a
// peer's own pings/pushes report its real address from the first call
// onward.
func (n *Node) SetLocalAddr(addr string) {
	n.mu.Lock()
	n.selfURI = addr
	n.mu.Unlock()
	n.client.SetSelfURI(addr)
}

// Info is the response shape of GET /_info (spec.md §6).
type Info struct {
	HashSeed  [2]uint64 `json:"hash_seed"`
	Replicate int       `json:"replicate"`
	URI       string    `json:"uri"`
	Peers     []string  `json:"peers"`
}

// RecvInfo answers GET /_info.
func (n *Node) RecvInfo() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Info{
		HashSeed:  n.cfg.HashSeed,
		Replicate: n.cfg.Replicate,
		URI:       n.selfURI,
		Peers:     n.peers.URIs(),
	}
}

// RecvPing applies an inbound ping (spec.md §4.3) and returns the local
// reciprocal ping.
func (n *Node) RecvPing(msg membership.Ping) membership.Ping {
	now := time.Now()

	n.mu.Lock()
	_, existed := n.peers.Peer(msg.Sender)
	n.peers.RecvPing(n.selfURI, msg, now)
	reply := membership.Ping{Sender: n.selfURI, Peers: n.peers.Active(now)}
	n.mu.Unlock()

	if !existed && msg.Sender != n.selfURI && n.hub != nil {
		n.hub.Broadcast(events.PeerJoined, msg.Sender)
	}
	return reply
}

// Peek answers HEAD / — a cheap local-presence probe, no network I/O.
func (n *Node) Peek(containerID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.data[containerID]
	return ok
}

// Fetch answers GET /{sub_uri}, delegating to internal/replication for
// local resolution or cross-peer fan-out (spec.md §4.4).
func (n *Node) Fetch(ctx context.Context, containerID, subURI string, allowRedirect bool) (*replication.FetchResult, error) {
	n.mu.Lock()
	snap := n.snapshotLocked(time.Now())
	n.mu.Unlock()

	return replication.Fetch(ctx, snap, n.client, containerID, subURI, allowRedirect)
}

// Store answers PUT /_container (spec.md §4.5). Both the "already
// present" observation and the "already in flight" reservation happen
// under the lock, so a second Store racing the first on the same new
// blob returns AlreadyPresent immediately instead of duplicating the
// owner computation and outbound PUT/HEAD fan-out, per spec.md §5's
// ordering requirement.
func (n *Node) Store(ctx context.Context, blob []byte, allowRedirect bool) (*replication.StoreResult, error) {
	n.mu.Lock()
	snap := n.snapshotLocked(time.Now())
	id := containerid.Compute(snap.ContainerSecret, blob)
	if _, ok := snap.Data[id]; ok {
		n.mu.Unlock()
		return &replication.StoreResult{ContainerID: id, AlreadyPresent: true}, nil
	}
	if _, inFlight := n.pending[id]; inFlight {
		n.mu.Unlock()
		return &replication.StoreResult{ContainerID: id, AlreadyPresent: true}, nil
	}
	n.pending[id] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	result, err := replication.Store(ctx, snap, n.client, blob, allowRedirect)
	if err != nil {
		return nil, err
	}

	if result.InsertLocal {
		n.mu.Lock()
		n.data[result.ContainerID] = blob
		n.mu.Unlock()
	}

	if n.hub != nil {
		n.hub.Broadcast(events.ContainerStored, result.ContainerID)
	}
	return result, nil
}

// SendPings drives the ping tick of spec.md §4.3/§4.8: evict the stale,
// ping everyone due, and fold each reply back in as an inbound ping.
func (n *Node) SendPings(ctx context.Context) {
	now := time.Now()

	n.mu.Lock()
	evicted := n.peers.RemoveStale(now)
	due := n.peers.Due(now)
	msg := membership.Ping{Sender: n.selfURI, Peers: n.peers.Active(now)}
	n.mu.Unlock()

	if n.hub != nil {
		for _, uri := range evicted {
			n.hub.Broadcast(events.PeerEvicted, uri)
		}
	}

	var wg sync.WaitGroup
	for _, uri := range due {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			reply, err := n.client.Ping(ctx, uri, msg)
			if err != nil {
				log.Printf("naughtd: ping %s failed: %v", uri, err)
				return
			}
			n.RecvPing(*reply)
		}(uri)
	}
	wg.Wait()
}

// Rebalance drives the rebalance tick of spec.md §4.5/§4.8: computes the
// migration delta, pushes to new owners, and returns the ids that are
// now safe to remove locally. It does not delete them itself — the
// scheduler calls Remove afterward, matching spec.md §4.8's two-step
// "rebalance, then remove(obsolete_keys)".
func (n *Node) Rebalance(ctx context.Context) []string {
	if !atomic.CompareAndSwapInt32(&n.rebalancing, 0, 1) {
		// A rebalance is already in flight: no-op per spec.md §9 open
		// question 1, rather than queue a second one.
		return nil
	}
	defer atomic.StoreInt32(&n.rebalancing, 0)

	n.mu.Lock()
	lastPeerURIs := n.lastPeerURIs
	snap := n.snapshotLocked(time.Now())
	n.mu.Unlock()

	result := replication.Rebalance(ctx, snap, n.client, lastPeerURIs)

	n.mu.Lock()
	n.lastPeerURIs = result.CurrentEligible
	n.mu.Unlock()

	if n.hub != nil {
		n.hub.Broadcast(events.RebalanceCompleted, result.ObsoleteIDs)
	}
	return result.ObsoleteIDs
}

// Remove deletes the given container ids from local storage.
func (n *Node) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	n.mu.Lock()
	for _, id := range ids {
		delete(n.data, id)
	}
	n.mu.Unlock()
}

// ContainerIDs lists every container id currently held locally, for the
// supplemented GET /_containers diagnostic (SPEC_FULL.md's Replication
// engine expansion).
func (n *Node) ContainerIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.data))
	for id := range n.data {
		ids = append(ids, id)
	}
	return ids
}

// snapshotLocked builds a point-in-time replication.Snapshot. Must be
// called with n.mu held; the returned snapshot is then safe to use
// lock-free for however long replication's pure functions need it.
func (n *Node) snapshotLocked(now time.Time) replication.Snapshot {
	data := make(map[string][]byte, len(n.data))
	for id, blob := range n.data {
		data[id] = blob
	}
	return replication.Snapshot{
		SelfURI:         n.selfURI,
		ContainerSecret: n.cfg.ContainerSecret,
		HashSeed:        n.cfg.HashSeed,
		Replicate:       n.cfg.Replicate,
		Data:            data,
		Eligible:        n.peers.Eligible(now),
	}
}
