// Package rendezvous implements the Resource record and the placement
// policy of spec.md §4.2: highest-random-weight (rendezvous) hashing
// selecting the R+1 lowest-scoring owners for a container, and the
// rebalance-delta algorithm used when membership changes.
package rendezvous

import (
	"sort"

	"github.com/indutny/naughtd/internal/siphash"
)

// Resource is a (peer, container) placement candidate with its
// deterministic rendezvous score. See spec.md §3/§4.2.
type Resource struct {
	PeerURI     string
	ContainerID string
	Score       uint64
	Local       bool
}

// New builds the Resource for (peerURI, containerID), scoring it with
// SipHash-2-4 over "peerURI/containerID" under the configured hash
// seed, matching original_source/src/resource.rs's
// SipHasher::new_with_keys(seed.0, seed.1).write(store_uri).
func New(peerURI, containerID string, local bool, seed [2]uint64) Resource {
	storeURI := peerURI + "/" + containerID
	return Resource{
		PeerURI:     peerURI,
		ContainerID: containerID,
		Score:       siphash.Sum64(seed[0], seed[1], []byte(storeURI)),
		Local:       local,
	}
}

// sortByScore sorts resources ascending by score. Ties are broken
// arbitrarily but deterministically (stable sort over input order) —
// spec.md §4.2 notes that colliding 64-bit SipHash scores are
// astronomically unlikely, so stability on ties is not required for
// correctness, only for determinism given identical inputs.
func sortByScore(resources []Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Score < resources[j].Score
	})
}

// truncate returns the first min(len(resources), n) resources.
func truncate(resources []Resource, n int) []Resource {
	if n < 0 {
		n = 0
	}
	if len(resources) > n {
		return resources[:n]
	}
	return resources
}

// FindResources returns up to replicate+1 resources for containerID:
// self plus every currently-eligible peer, sorted ascending by score
// and truncated to replicate+1. See spec.md §4.2.
func FindResources(containerID, selfURI string, eligiblePeerURIs []string, replicate int, seed [2]uint64) []Resource {
	resources := make([]Resource, 0, len(eligiblePeerURIs)+1)
	resources = append(resources, New(selfURI, containerID, true, seed))
	for _, uri := range eligiblePeerURIs {
		resources = append(resources, New(uri, containerID, false, seed))
	}
	sortByScore(resources)
	return truncate(resources, replicate+1)
}

// IsOwner reports whether selfURI is among the given (already-truncated)
// owner resources.
func IsOwner(resources []Resource) bool {
	for _, r := range resources {
		if r.Local {
			return true
		}
	}
	return false
}

// URIs extracts the peer URIs from a resource slice, in order.
func URIs(resources []Resource) []string {
	uris := make([]string, len(resources))
	for i, r := range resources {
		uris[i] = r.PeerURI
	}
	return uris
}

// stringSet is a small helper for set membership/difference below.
type stringSet map[string]struct{}

func newStringSet(uris []string) stringSet {
	s := make(stringSet, len(uris))
	for _, uri := range uris {
		s[uri] = struct{}{}
	}
	return s
}

func (s stringSet) has(uri string) bool {
	_, ok := s[uri]
	return ok
}

// union returns the deduplicated union of several URI slices.
func union(lists ...[]string) []string {
	seen := make(stringSet)
	var out []string
	for _, list := range lists {
		for _, uri := range list {
			if !seen.has(uri) {
				seen[uri] = struct{}{}
				out = append(out, uri)
			}
		}
	}
	return out
}

// FindRebalanceResources computes the migration delta for containerID
// when membership moves from lastEligible to currentEligible, per
// spec.md §4.2:
//
//  1. union = lastEligible ∪ currentEligible ∪ {self}
//  2. build + sort resources over union
//  3. old_set = truncate(resources minus added peers, replicate+1)
//  4. new_set = truncate(resources minus removed peers, replicate+1)
//  5. if self ∈ new_set, drop self from old_set
//  6. return new_set − old_set
func FindRebalanceResources(containerID, selfURI string, lastEligible, currentEligible []string, replicate int, seed [2]uint64) []Resource {
	allURIs := union(lastEligible, currentEligible, []string{selfURI})

	added := newStringSet(currentEligible)
	for _, uri := range lastEligible {
		delete(added, uri)
	}
	removed := newStringSet(lastEligible)
	for _, uri := range currentEligible {
		delete(removed, uri)
	}

	all := make([]Resource, 0, len(allURIs))
	for _, uri := range allURIs {
		all = append(all, New(uri, containerID, uri == selfURI, seed))
	}
	sortByScore(all)

	withoutAdded := filterOut(all, added)
	withoutRemoved := filterOut(all, removed)

	oldSet := truncate(withoutAdded, replicate+1)
	newSet := truncate(withoutRemoved, replicate+1)

	if IsOwner(newSet) {
		oldSet = filterLocal(oldSet)
	}

	return difference(newSet, oldSet)
}

func filterOut(resources []Resource, exclude stringSet) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if !exclude.has(r.PeerURI) {
			out = append(out, r)
		}
	}
	return out
}

func filterLocal(resources []Resource) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if !r.Local {
			out = append(out, r)
		}
	}
	return out
}

// difference returns the resources in a that are not in b, keyed by
// peer URI (resources are ephemeral per-query values, so comparing by
// the identity field — peer URI — is correct per spec.md §4.2).
func difference(a, b []Resource) []Resource {
	inB := newStringSet(URIs(b))
	var out []Resource
	for _, r := range a {
		if !inB.has(r.PeerURI) {
			out = append(out, r)
		}
	}
	return out
}
