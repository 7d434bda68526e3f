// Package replication implements the replicated store/peek-then-store,
// the fetch dispatcher, and the rebalance migration of spec.md
// §4.4/§4.5. Every function here is a pure operation over a point-in-time
// Snapshot of node state plus the shared peerclient.Client — no state is
// held across calls, so internal/node.Node can take the snapshot under
// its lock, release the lock, run these functions (which do all network
// I/O), and reacquire the lock only to apply the returned mutations, per
// spec.md §4.6/§5.
package replication

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/indutny/naughtd/internal/container"
	"github.com/indutny/naughtd/internal/containerid"
	"github.com/indutny/naughtd/internal/naughterr"
	"github.com/indutny/naughtd/internal/peerclient"
	"github.com/indutny/naughtd/internal/rendezvous"
)

// Snapshot is a point-in-time, lock-free view of the node state needed
// to make placement and replication decisions.
type Snapshot struct {
	SelfURI         string
	ContainerSecret []byte
	HashSeed        [2]uint64
	Replicate       int
	Data            map[string][]byte // defensive copy of Node.data
	Eligible        []string          // currently eligible peer URIs
}

func (s Snapshot) resources(containerID string) []rendezvous.Resource {
	return rendezvous.FindResources(containerID, s.SelfURI, s.Eligible, s.Replicate, s.HashSeed)
}

// FetchResult describes how a fetch was satisfied.
type FetchResult struct {
	Mime string
	Body io.ReadCloser
}

// Fetch implements spec.md §4.4: a local hit is served directly; a miss
// with redirect allowed is fanned out, shuffled, across owner
// candidates other than self, returning the first success.
func Fetch(ctx context.Context, snap Snapshot, client *peerclient.Client, containerID, subURI string, allowRedirect bool) (*FetchResult, error) {
	if blob, ok := snap.Data[containerID]; ok {
		c, err := container.Parse(blob)
		if err != nil {
			return nil, err
		}
		mime, data, err := c.Resolve(subURI)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Mime: mime, Body: io.NopCloser(bytes.NewReader(data))}, nil
	}

	if !allowRedirect {
		return nil, naughterr.NotFound("container %s not present locally", containerID)
	}

	candidates := nonLocalURIs(snap.resources(containerID))
	shuffle(candidates)

	var lastErr error
	for _, uri := range candidates {
		res, err := client.Fetch(ctx, uri, containerID, subURI)
		if err != nil {
			lastErr = err
			continue
		}
		return &FetchResult{Mime: res.Mime, Body: res.Body}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, naughterr.NotFound("no eligible owner for container %s", containerID)
}

// StoreResult carries back what internal/node.Node must apply under
// lock after Store returns.
type StoreResult struct {
	ContainerID    string
	AlreadyPresent bool
	InsertLocal    bool
	PushedURIs     []string
}

// Store implements spec.md §4.5: idempotent on an already-present
// container, validates the blob by parsing it, computes owners, and
// concurrently peek-then-stores every non-local owner.
func Store(ctx context.Context, snap Snapshot, client *peerclient.Client, blob []byte, allowRedirect bool) (*StoreResult, error) {
	id := containerid.Compute(snap.ContainerSecret, blob)

	if _, ok := snap.Data[id]; ok {
		return &StoreResult{ContainerID: id, AlreadyPresent: true}, nil
	}

	if _, err := container.Parse(blob); err != nil {
		return nil, err
	}

	owners := snap.resources(id)
	if !allowRedirect {
		owners = localOnly(owners)
		if len(owners) == 0 {
			return nil, naughterr.NonLocalStore(id)
		}
	}

	result := &StoreResult{ContainerID: id, InsertLocal: rendezvous.IsOwner(owners)}

	targets := nonLocalURIs(owners)
	pushed := fanOutPeekThenStore(ctx, client, targets, id, blob)
	result.PushedURIs = pushed

	return result, nil
}

// RebalanceResult carries back what Node must apply under lock: which
// container IDs are now obsolete locally, and the new eligible set to
// remember as last_peer_uris.
type RebalanceResult struct {
	ObsoleteIDs     []string
	CurrentEligible []string
}

// Rebalance implements spec.md §4.5's rebalance tick: for every locally
// held container, recompute the migration delta between lastEligible
// and snap.Eligible, push to new non-local targets, and mark the
// container obsolete if self is no longer an owner and at least one
// push succeeded.
func Rebalance(ctx context.Context, snap Snapshot, client *peerclient.Client, lastEligible []string) RebalanceResult {
	result := RebalanceResult{CurrentEligible: snap.Eligible}

	added, removed := diff(lastEligible, snap.Eligible)
	if len(added) == 0 && len(removed) == 0 {
		return result
	}

	type outcome struct {
		id      string
		obsolete bool
	}
	outcomes := make(chan outcome, len(snap.Data))
	var wg sync.WaitGroup

	for id, blob := range snap.Data {
		wg.Add(1)
		go func(id string, blob []byte) {
			defer wg.Done()

			targets := rendezvous.FindRebalanceResources(id, snap.SelfURI, lastEligible, snap.Eligible, snap.Replicate, snap.HashSeed)
			// self is guaranteed to appear in targets when it remains (or
			// becomes) an owner: find_rebalance_resources's step 5 drops self
			// from old_set whenever self is in new_set, so self survives into
			// new_set - old_set precisely in that case. See spec.md §4.2/§4.5.
			keepLocal := rendezvous.IsOwner(targets)

			pushed := fanOutPeekThenStore(ctx, client, nonLocalURIs(targets), id, blob)

			outcomes <- outcome{id: id, obsolete: !keepLocal && len(pushed) > 0}
		}(id, blob)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.obsolete {
			result.ObsoleteIDs = append(result.ObsoleteIDs, o.id)
		}
	}
	return result
}

func fanOutPeekThenStore(ctx context.Context, client *peerclient.Client, targets []string, containerID string, blob []byte) []string {
	if len(targets) == 0 {
		return nil
	}

	type res struct {
		uri string
		ok  bool
	}
	results := make(chan res, len(targets))
	var wg sync.WaitGroup
	for _, uri := range targets {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			err := client.PeekThenStore(ctx, uri, containerID, blob)
			results <- res{uri: uri, ok: err == nil}
		}(uri)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var ok []string
	for r := range results {
		if r.ok {
			ok = append(ok, r.uri)
		}
	}
	return ok
}

func nonLocalURIs(resources []rendezvous.Resource) []string {
	var uris []string
	for _, r := range resources {
		if !r.Local {
			uris = append(uris, r.PeerURI)
		}
	}
	return uris
}

func localOnly(resources []rendezvous.Resource) []rendezvous.Resource {
	var out []rendezvous.Resource
	for _, r := range resources {
		if r.Local {
			out = append(out, r)
		}
	}
	return out
}

func diff(last, current []string) (added, removed []string) {
	lastSet := make(map[string]struct{}, len(last))
	for _, uri := range last {
		lastSet[uri] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, uri := range current {
		currentSet[uri] = struct{}{}
	}
	for uri := range currentSet {
		if _, ok := lastSet[uri]; !ok {
			added = append(added, uri)
		}
	}
	for uri := range lastSet {
		if _, ok := currentSet[uri]; !ok {
			removed = append(removed, uri)
		}
	}
	return added, removed
}

func shuffle(uris []string) {
	rand.Shuffle(len(uris), func(i, j int) {
		uris[i], uris[j] = uris[j], uris[i]
	})
}
