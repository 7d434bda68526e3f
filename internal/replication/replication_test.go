package replication

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/indutny/naughtd/internal/containerid"
	"github.com/indutny/naughtd/internal/naughterr"
	"github.com/indutny/naughtd/internal/peerclient"
)

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

// newAbsentPeer simulates a peer that never already has the container
// (HEAD / always 404) but accepts every PUT /_container.
func newAbsentPeer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/_container":
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// newPresentPeer simulates a peer that already owns the container: HEAD /
// succeeds, so PeekThenStore never issues a PUT.
func newPresentPeer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

const testSecret = "test-container-secret"

func TestStoreLocalOwnerNoRedirect(t *testing.T) {
	blob := buildTar(t, map[string]string{"index.html": "hi"})
	id := containerid.Compute([]byte(testSecret), blob)

	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		HashSeed:        [2]uint64{0, 0},
		Replicate:       0,
		Data:            map[string][]byte{},
		Eligible:        nil,
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result, err := Store(context.Background(), snap, client, blob, false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if result.ContainerID != id {
		t.Fatalf("ContainerID = %q, want %q", result.ContainerID, id)
	}
	if !result.InsertLocal {
		t.Fatalf("sole node must be the local owner")
	}
	if result.AlreadyPresent {
		t.Fatalf("first store of a new blob must not report AlreadyPresent")
	}
}

func TestStoreIdempotentOnAlreadyPresent(t *testing.T) {
	blob := buildTar(t, map[string]string{"index.html": "hi"})
	id := containerid.Compute([]byte(testSecret), blob)

	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		HashSeed:        [2]uint64{0, 0},
		Replicate:       0,
		Data:            map[string][]byte{id: blob},
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result, err := Store(context.Background(), snap, client, blob, true)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !result.AlreadyPresent {
		t.Fatalf("storing an already-present container must report AlreadyPresent")
	}
}

func TestStoreRejectsNonOwnerWithoutRedirect(t *testing.T) {
	blob := buildTar(t, map[string]string{"index.html": "hi"})

	peer := newAbsentPeer(t)
	defer peer.Close()

	// replicate 0 picks exactly one owner among {self, peer}, and which
	// one wins depends on the test server's port. We assert only on the
	// allowRedirect=false contract, independent of which one wins: a
	// local owner stores, a non-owner is rejected with NonLocalStore.
	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		HashSeed:        [2]uint64{1, 2},
		Replicate:       0,
		Data:            map[string][]byte{},
		Eligible:        []string{peer.URL},
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	owners := snap.resources(containerid.Compute(snap.ContainerSecret, blob))
	selfOwns := false
	for _, o := range owners {
		if o.Local {
			selfOwns = true
		}
	}

	_, err := Store(context.Background(), snap, client, blob, false)
	if selfOwns {
		if err != nil {
			t.Fatalf("self is an owner, Store should have succeeded locally: %v", err)
		}
		return
	}
	if err == nil {
		t.Fatalf("expected NonLocalStore error when self is not an owner and redirect is disabled")
	}
	if !naughterr.Is(err, naughterr.KindNonLocalStore) {
		t.Fatalf("err = %v, want KindNonLocalStore", err)
	}
}

func TestStorePushesToNonLocalOwner(t *testing.T) {
	blob := buildTar(t, map[string]string{"index.html": "hi"})

	peer := newAbsentPeer(t)
	defer peer.Close()

	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		HashSeed:        [2]uint64{9, 9},
		Replicate:       1,
		Data:            map[string][]byte{},
		Eligible:        []string{peer.URL},
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result, err := Store(context.Background(), snap, client, blob, true)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// replicate=1 with exactly one other eligible peer: both self and
	// peer are owners, so the non-local owner must have been pushed to.
	if len(result.PushedURIs) != 1 || result.PushedURIs[0] != peer.URL {
		t.Fatalf("PushedURIs = %v, want [%s]", result.PushedURIs, peer.URL)
	}
}

func TestFetchLocalHit(t *testing.T) {
	blob := buildTar(t, map[string]string{"index.html": "<html>hi</html>"})
	id := containerid.Compute([]byte(testSecret), blob)

	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		Data:            map[string][]byte{id: blob},
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result, err := Fetch(context.Background(), snap, client, id, "", false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "<html>hi</html>" {
		t.Fatalf("body = %q", data)
	}
}

func TestFetchMissNoRedirect(t *testing.T) {
	snap := Snapshot{SelfURI: "http://self:8000", ContainerSecret: []byte(testSecret), Data: map[string][]byte{}}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	_, err := Fetch(context.Background(), snap, client, "missing-id", "", false)
	if err == nil || !naughterr.Is(err, naughterr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFetchFansOutToRemoteOwner(t *testing.T) {
	body := "<html>remote</html>"
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
	defer remote.Close()

	snap := Snapshot{
		SelfURI:         "http://self:8000",
		ContainerSecret: []byte(testSecret),
		HashSeed:        [2]uint64{3, 4},
		Replicate:       1,
		Data:            map[string][]byte{},
		Eligible:        []string{remote.URL},
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result, err := Fetch(context.Background(), snap, client, "some-container-id", "", true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != body {
		t.Fatalf("body = %q, want %q", data, body)
	}
}

func TestRebalanceNoMembershipChangeIsNoop(t *testing.T) {
	peers := []string{"http://a:1"}
	snap := Snapshot{
		SelfURI:   "http://self:8000",
		Replicate: 1,
		Data:      map[string][]byte{"id-1": []byte("blob")},
		Eligible:  peers,
	}
	client := peerclient.New(snap.SelfURI, "Bearer test")

	result := Rebalance(context.Background(), snap, client, peers)
	if len(result.ObsoleteIDs) != 0 {
		t.Fatalf("no membership change must yield no obsolete containers, got %v", result.ObsoleteIDs)
	}
	if len(result.CurrentEligible) != 1 || result.CurrentEligible[0] != "http://a:1" {
		t.Fatalf("CurrentEligible = %v", result.CurrentEligible)
	}
}

func TestRebalanceMarksObsoleteWhenOwnershipMoves(t *testing.T) {
	newOwner := newAbsentPeer(t)
	defer newOwner.Close()

	self := "http://self:8000"
	containerID := "derivepass"
	seed := [2]uint64{0, 0}

	// With replicate=0 (single owner) self is the sole owner under the
	// empty lastEligible; whether it still owns under currentEligible
	// depends on the new peer's score, so both outcomes are checked below,
	// the migration case of spec.md §4.5 being the one where it does not.
	last := []string{}
	current := []string{newOwner.URL}

	snap := Snapshot{
		SelfURI:   self,
		HashSeed:  seed,
		Replicate: 0,
		Data:      map[string][]byte{containerID: []byte("blob")},
		Eligible:  current,
	}
	client := peerclient.New(self, "Bearer test")

	result := Rebalance(context.Background(), snap, client, last)

	ownersNow := snap.resources(containerID)
	selfOwnsNow := false
	for _, o := range ownersNow {
		if o.Local {
			selfOwnsNow = true
		}
	}

	if selfOwnsNow {
		if len(result.ObsoleteIDs) != 0 {
			t.Fatalf("self still owns the container, must not be marked obsolete: %v", result.ObsoleteIDs)
		}
		return
	}
	if len(result.ObsoleteIDs) != 1 || result.ObsoleteIDs[0] != containerID {
		t.Fatalf("ObsoleteIDs = %v, want [%s]", result.ObsoleteIDs, containerID)
	}
}

func TestDiffHelper(t *testing.T) {
	added, removed := diff([]string{"a", "b"}, []string{"b", "c"})
	if len(added) != 1 || added[0] != "c" {
		t.Fatalf("added = %v, want [c]", added)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("removed = %v, want [a]", removed)
	}
}
